package installable

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/archive"
	"github.com/toolchest/toolchest/internal/config"
)

// Tarball installs from a compressed tarball at a fixed URL: fetch,
// unpack into staging, optional configure step, then atomic promotion.
type Tarball struct {
	base

	url              string
	codec            archive.Codec
	untarDir         string
	untarInto        string // subdirectory to extract into, "" for staging root
	symlink          string
	stripComponents  int
	stripExes        bool
	configureCommand []string
}

func newTarball(ic *Context, target config.Target, log hclog.Logger) (Installable, error) {
	url, err := target.Str("url")
	if err != nil {
		return nil, err
	}
	dir, err := target.Str("dir")
	if err != nil {
		return nil, err
	}
	codec, err := archive.CodecFromName(target.StrOr("compression", "gz"))
	if err != nil {
		return nil, err
	}

	t := &Tarball{
		base:             newBase(ic, target, log),
		url:              url,
		codec:            codec,
		symlink:          target.StrOr("symlink", ""),
		stripComponents:  target.IntOr("strip_components", 0),
		stripExes:        target.BoolOr("strip", false),
		configureCommand: target.Strings("configure_command"),
	}
	t.pathName = dir
	t.untarDir = target.StrOr("untar_dir", dir)
	// Some tarballs have no top-level directory and need one created
	// for them to unpack into.
	if target.BoolOr("create_untar_dir", false) {
		t.untarInto = t.untarDir
	}
	if t.symlink != "" && t.checkLink == "" {
		t.setupCheckLink(t.pathName, t.symlink)
	}
	if err := t.setupCheckExe(target); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tarball) Install(ctx context.Context) error {
	if err := t.checkDependencies(); err != nil {
		return err
	}
	if err := t.stage(ctx); err != nil {
		return err
	}
	if err := t.ic.MoveFromStaging(t.untarDir, t.pathName); err != nil {
		return err
	}
	if t.symlink != "" {
		return t.ic.SetLink(t.pathName, t.symlink)
	}
	return nil
}

func (t *Tarball) Verify(ctx context.Context) (bool, error) {
	if err := t.stage(ctx); err != nil {
		return false, err
	}
	return t.ic.CompareAgainstStaging(t.untarDir, t.pathName)
}

// stage produces a complete install image under staging/untarDir.
func (t *Tarball) stage(ctx context.Context) error {
	if err := t.ic.CleanStaging(); err != nil {
		return err
	}
	if err := t.ic.FetchAndExtract(t.url, t.codec, t.stripComponents, t.untarInto); err != nil {
		return err
	}
	if len(t.configureCommand) > 0 {
		if err := t.ic.StageCommand(ctx, t.configureCommand, nil); err != nil {
			return err
		}
	}
	if t.stripExes {
		t.ic.StripExes(t.untarDir)
	}
	if !t.ic.StagedDir(t.untarDir) {
		return fmt.Errorf("after unpacking, %s was not a directory", t.untarDir)
	}
	return nil
}

func (t *Tarball) String() string {
	return fmt.Sprintf("%s (tarball %s)", t.name, t.url)
}

// artifactKey builds the object key for an artifact name plus codec
// extension, shared by the blob-backed variants.
func artifactKey(parts []string, codec archive.Codec) string {
	return strings.Join(parts, "/") + "." + codec.Ext()
}
