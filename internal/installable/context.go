// Package installable implements the install targets themselves: the
// shared installation context (staging lifecycle, atomic promotion into
// the destination tree, symlink management) and the concrete target kinds
// dispatched on the "type" field.
package installable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/archive"
	"github.com/toolchest/toolchest/internal/blob"
	"github.com/toolchest/toolchest/internal/buildmatrix"
	"github.com/toolchest/toolchest/internal/fetch"
	"github.com/toolchest/toolchest/internal/vcs"
)

// asideName is the staging entry an existing destination is parked under
// while its replacement is moved in.
const asideName = "temp_orig"

// Context carries everything an install needs: the destination tree, a
// scratch staging directory on the same filesystem, the transfer clients
// and the dry-run switch. All mutating operations are no-ops in dry-run
// mode except staging scratch work, which is always real.
type Context struct {
	Destination string
	Staging     string
	DryRun      bool

	Fetcher *fetch.Fetcher
	Blob    *blob.Store
	VCS     vcs.VCS
	Runner  *buildmatrix.Runner

	// Installables lets dependency names resolve back to their targets.
	// The set assigns itself here on construction.
	Installables *Set

	log hclog.Logger

	// rename is swappable so tests can fail the move-in step and exercise
	// the rollback path.
	rename func(oldpath, newpath string) error
}

// NewContext creates a Context. Staging must live on the same filesystem
// as destination for the promotion renames to be atomic.
func NewContext(destination, staging string, log hclog.Logger) *Context {
	return &Context{
		Destination: destination,
		Staging:     staging,
		log:         log,
		rename:      os.Rename,
	}
}

// CleanStaging resets the staging directory to empty.
func (c *Context) CleanStaging() error {
	if err := os.RemoveAll(c.Staging); err != nil {
		return fmt.Errorf("clean staging: %w", err)
	}
	return os.MkdirAll(c.Staging, 0o755)
}

// StagingPath resolves a staging-relative path.
func (c *Context) StagingPath(rel string) string {
	return filepath.Join(c.Staging, rel)
}

// DestPath resolves a destination-relative path.
func (c *Context) DestPath(rel string) string {
	return filepath.Join(c.Destination, rel)
}

// FetchAndExtract downloads url to a scratch file and unpacks it into
// staging (or the named staging subdirectory). The download completes
// before extraction begins, so a broken transfer never leaves a
// half-unpacked tree.
func (c *Context) FetchAndExtract(url string, codec archive.Codec, stripComponents int, into string) error {
	tmp, err := os.CreateTemp(c.Staging, ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := c.Fetcher.Fetch(url, tmp); err != nil {
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return err
	}
	dir := c.Staging
	if into != "" {
		dir = c.StagingPath(into)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	c.log.Info("extracting", "url", url, "into", dir)
	return archive.Extract(tmp, codec, dir, stripComponents)
}

// StagedDir reports whether staging/rel exists as a directory.
func (c *Context) StagedDir(rel string) bool {
	fi, err := os.Stat(c.StagingPath(rel))
	return err == nil && fi.IsDir()
}

// FetchBlobAndExtract streams an object from the blob store and unpacks it
// into staging.
func (c *Context) FetchBlobAndExtract(ctx context.Context, key string, codec archive.Codec, stripComponents int) error {
	if c.Blob == nil {
		return fmt.Errorf("no object store configured (need --s3-bucket)")
	}
	body, length, err := c.Blob.Get(ctx, key)
	if err != nil {
		return err
	}
	defer body.Close()
	c.log.Info("extracting", "key", key, "bytes", length, "into", c.Staging)
	return archive.Extract(body, codec, c.Staging, stripComponents)
}

// FetchTo downloads url into staging under filename.
func (c *Context) FetchTo(url, filename string) error {
	f, err := os.Create(c.StagingPath(filename))
	if err != nil {
		return err
	}
	if err := c.Fetcher.Fetch(url, f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// StageCommand runs argv with the staging directory as working directory.
// Stdout and stderr pass through.
func (c *Context) StageCommand(ctx context.Context, argv []string, env []string) error {
	c.log.Info("running staged command", "argv", argv)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Staging
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("staged command %v: %w", argv, err)
	}
	return nil
}

// CheckOutput runs a probe command from the destination root, with env
// entries appended to the inherited environment. Any failure to start or a
// non-zero exit is an error.
func (c *Context) CheckOutput(argv []string, env []string) error {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = c.Destination
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("probe %v: %w (output: %s)", argv, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// MoveFromStaging promotes staging/sourceRel to destination/destRel.
//
// An existing destination is first renamed aside into staging, then the
// staged tree is renamed in. If the move-in fails the original is renamed
// back, so the destination either keeps its old content or gains the new
// one, never neither. Dry-run logs and does nothing.
func (c *Context) MoveFromStaging(sourceRel, destRel string) error {
	source := c.StagingPath(sourceRel)
	dest := c.DestPath(destRel)
	if c.DryRun {
		c.log.Info("dry run: would install", "source", source, "dest", dest)
		return nil
	}
	if _, err := os.Stat(source); err != nil {
		return fmt.Errorf("staged %s missing: %w", sourceRel, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	aside := c.StagingPath(asideName)
	hadOld := false
	if _, err := os.Lstat(dest); err == nil {
		hadOld = true
		if err := c.rename(dest, aside); err != nil {
			return fmt.Errorf("move aside %s: %w", dest, err)
		}
	}

	if err := c.rename(source, dest); err != nil {
		if hadOld {
			if restoreErr := c.rename(aside, dest); restoreErr != nil {
				return fmt.Errorf("install %s failed (%v) and restore failed: %w", destRel, err, restoreErr)
			}
		}
		return fmt.Errorf("install %s: %w", destRel, err)
	}

	if hadOld {
		if err := os.RemoveAll(aside); err != nil {
			c.log.Warn("failed to remove previous install", "path", aside, "error", err)
		}
	}
	c.log.Info("installed", "path", dest)
	return nil
}

// CompareAgainstStaging reports whether destination/destRel is
// byte-identical to staging/sourceRel: same tree shape, same file
// contents, same link targets.
func (c *Context) CompareAgainstStaging(sourceRel, destRel string) (bool, error) {
	return treesEqual(c.StagingPath(sourceRel), c.DestPath(destRel))
}

func treesEqual(a, b string) (bool, error) {
	infoA, err := os.Lstat(a)
	if err != nil {
		return false, err
	}
	infoB, err := os.Lstat(b)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	switch {
	case infoA.Mode()&os.ModeSymlink != 0:
		if infoB.Mode()&os.ModeSymlink == 0 {
			return false, nil
		}
		ta, err := os.Readlink(a)
		if err != nil {
			return false, err
		}
		tb, err := os.Readlink(b)
		if err != nil {
			return false, err
		}
		return ta == tb, nil

	case infoA.IsDir():
		if !infoB.IsDir() {
			return false, nil
		}
		entriesA, err := os.ReadDir(a)
		if err != nil {
			return false, err
		}
		entriesB, err := os.ReadDir(b)
		if err != nil {
			return false, err
		}
		if len(entriesA) != len(entriesB) {
			return false, nil
		}
		for i, ea := range entriesA {
			if ea.Name() != entriesB[i].Name() {
				return false, nil
			}
			same, err := treesEqual(filepath.Join(a, ea.Name()), filepath.Join(b, ea.Name()))
			if err != nil || !same {
				return same, err
			}
		}
		return true, nil

	default:
		if infoB.IsDir() || infoB.Mode()&os.ModeSymlink != 0 {
			return false, nil
		}
		if infoA.Size() != infoB.Size() {
			return false, nil
		}
		da, err := os.ReadFile(a)
		if err != nil {
			return false, err
		}
		db, err := os.ReadFile(b)
		if err != nil {
			return false, err
		}
		return bytes.Equal(da, db), nil
	}
}

// CheckLink reports whether destination/link is a symlink pointing at
// target. A missing link or one naming anything else means the expected
// version is not what is installed.
func (c *Context) CheckLink(target, link string) bool {
	got, err := os.Readlink(c.DestPath(link))
	if err != nil {
		c.log.Debug("read link failed", "link", link, "error", err)
		return false
	}
	return got == target
}

// ReadLink returns the target of the symlink at destination/rel.
func (c *Context) ReadLink(rel string) (string, error) {
	return os.Readlink(c.DestPath(rel))
}

// SetLink points the symlink at destination/link to target (a
// destination-relative path). An existing link is replaced.
func (c *Context) SetLink(target, link string) error {
	path := c.DestPath(link)
	if c.DryRun {
		c.log.Info("dry run: would link", "link", path, "target", target)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replace link %s: %w", path, err)
	}
	if err := os.Symlink(target, path); err != nil {
		return fmt.Errorf("link %s -> %s: %w", path, target, err)
	}
	c.log.Info("linked", "link", path, "target", target)
	return nil
}

// Glob matches pattern against the destination tree, returning
// destination-relative paths.
func (c *Context) Glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(c.DestPath(pattern))
	if err != nil {
		return nil, err
	}
	rels := make([]string, 0, len(matches))
	for _, m := range matches {
		rel, err := filepath.Rel(c.Destination, m)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, nil
}

// RemoveDir deletes destination/rel. Dry-run logs and does nothing.
func (c *Context) RemoveDir(rel string) error {
	path := c.DestPath(rel)
	if c.DryRun {
		c.log.Info("dry run: would remove", "path", path)
		return nil
	}
	c.log.Info("removing", "path", path)
	return os.RemoveAll(path)
}

// StripExes runs strip over the executables under staging/rel. Stripping
// is space optimization only, so failures are logged and swallowed.
func (c *Context) StripExes(rel string) {
	root := c.StagingPath(rel)
	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || info.Mode()&0o111 == 0 {
			return nil
		}
		if out, err := exec.Command("strip", path).CombinedOutput(); err != nil {
			c.log.Debug("strip failed", "path", path, "output", strings.TrimSpace(string(out)))
		}
		return nil
	})
}
