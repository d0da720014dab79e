package installable

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/archive"
	"github.com/toolchest/toolchest/internal/config"
	"github.com/toolchest/toolchest/x/gnu"
)

// Nightly installs the most recent published build of a compiler family
// from the object store, keeps a bounded history of older builds and
// repoints the family symlink at the new install.
type Nightly struct {
	base

	family    string
	version   string
	s3Path    string // "family-version": the object key stem and staged dir
	key       string
	pattern   string // glob matching the family's installs
	codec     archive.Codec
	linkName  string
	numToKeep int
	stripExes bool
}

func newNightly(ic *Context, target config.Target, log hclog.Logger) (Installable, error) {
	if ic.Blob == nil {
		return nil, fmt.Errorf("nightly targets need an object store (--s3-bucket)")
	}
	codec, err := archive.CodecFromName(target.StrOr("compression", "xz"))
	if err != nil {
		return nil, err
	}

	n := &Nightly{
		base:      newBase(ic, target, log),
		codec:     codec,
		numToKeep: target.IntOr("num_to_keep", 5),
		stripExes: target.BoolOr("strip", false),
	}

	n.family = target.StrOr("compiler_name", "")
	if n.family == "" && len(n.context) > 0 {
		n.family = n.context[len(n.context)-1] + "-" + n.targetName
	}

	versions, err := ic.Blob.AvailableVersions(context.Background(), n.family)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("no published nightlies for %s", n.family)
	}
	n.version = versions[len(versions)-1]
	log.Info("most recent nightly", "family", n.family, "version", n.version)

	// Published objects are keyed by bare family-version; subdir only
	// qualifies where the install lands, its retention glob and the
	// family symlink.
	n.s3Path = n.family + "-" + n.version
	n.key = artifactKey([]string{n.s3Path}, codec)
	subdir := target.StrOr("subdir", "")
	n.pathName = path.Join(subdir, n.s3Path)
	n.pattern = path.Join(subdir, n.family+"-*")
	n.linkName = target.StrOr("symlink", path.Join(subdir, n.family))
	if err := n.setupCheckExe(target); err != nil {
		return nil, err
	}
	n.setupCheckLink(n.s3Path, n.linkName)
	return n, nil
}

// ShouldInstall is always true for nightlies: a fresh build may have been
// published since the last run even when an older one is installed.
func (n *Nightly) ShouldInstall() bool { return true }

func (n *Nightly) Install(ctx context.Context) error {
	if err := n.checkDependencies(); err != nil {
		return err
	}
	if err := n.stage(ctx); err != nil {
		return err
	}
	if err := n.retire(); err != nil {
		return err
	}
	if err := n.ic.MoveFromStaging(n.s3Path, n.pathName); err != nil {
		return err
	}
	return n.ic.SetLink(n.s3Path, n.linkName)
}

func (n *Nightly) Verify(ctx context.Context) (bool, error) {
	if err := n.stage(ctx); err != nil {
		return false, err
	}
	return n.ic.CompareAgainstStaging(n.s3Path, n.pathName)
}

func (n *Nightly) stage(ctx context.Context) error {
	if err := n.ic.CleanStaging(); err != nil {
		return err
	}
	if err := n.ic.FetchBlobAndExtract(ctx, n.key, n.codec, 0); err != nil {
		return err
	}
	if n.stripExes {
		n.ic.StripExes(n.s3Path)
	}
	return nil
}

// retire removes family installs older than the retention window. It
// runs before the move-in, so the window is one larger than num_to_keep
// and the incoming version counts toward it even though it is not on
// disk yet; dry-run then removes the same set a real run would.
func (n *Nightly) retire() error {
	installed, err := n.ic.Glob(n.pattern)
	if err != nil {
		return err
	}

	byVersion := make(map[string]string, len(installed))
	versions := make([]string, 0, len(installed)+1)
	for _, dir := range installed {
		v := strings.TrimPrefix(path.Base(dir), n.family+"-")
		byVersion[v] = dir
		versions = append(versions, v)
	}
	if _, ok := byVersion[n.version]; !ok {
		versions = append(versions, n.version)
	}
	gnu.Sort(versions)

	keep := n.numToKeep + 1
	if len(versions) <= keep {
		return nil
	}
	for _, v := range versions[:len(versions)-keep] {
		dir, ok := byVersion[v]
		if !ok {
			continue
		}
		if err := n.ic.RemoveDir(dir); err != nil {
			return fmt.Errorf("retiring %s: %w", dir, err)
		}
	}
	return nil
}

func (n *Nightly) String() string {
	return fmt.Sprintf("%s (nightly %s)", n.name, n.pathName)
}
