package installable

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/archive"
	"github.com/toolchest/toolchest/internal/config"
)

// S3Tarball installs from a tarball published in the artifact object
// store. Object key, install path and unpack directory all derive from
// the context and target name unless overridden.
type S3Tarball struct {
	base

	key       string
	codec     archive.Codec
	untarDir  string
	stripExes bool
}

func newS3Tarball(ic *Context, target config.Target, log hclog.Logger) (Installable, error) {
	codec, err := archive.CodecFromName(target.StrOr("compression", "xz"))
	if err != nil {
		return nil, err
	}
	t := &S3Tarball{
		base:      newBase(ic, target, log),
		codec:     codec,
		stripExes: target.BoolOr("strip", false),
	}

	lastContext := ""
	if len(t.context) > 0 {
		lastContext = t.context[len(t.context)-1]
	}
	artifact := lastContext + "-" + t.targetName
	keyPrefix := artifact
	pathName := artifact
	if subdir := target.StrOr("subdir", ""); subdir != "" {
		keyPrefix = subdir + "-" + artifact
		pathName = subdir + "/" + artifact
	}
	t.key = target.StrOr("s3_path_prefix", keyPrefix) + "." + codec.Ext()
	t.pathName = target.StrOr("path_name", pathName)
	t.untarDir = target.StrOr("untar_dir", artifact)
	if err := t.setupCheckExe(target); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *S3Tarball) Install(ctx context.Context) error {
	if err := t.checkDependencies(); err != nil {
		return err
	}
	if err := t.stage(ctx); err != nil {
		return err
	}
	return t.ic.MoveFromStaging(t.untarDir, t.pathName)
}

func (t *S3Tarball) Verify(ctx context.Context) (bool, error) {
	if err := t.stage(ctx); err != nil {
		return false, err
	}
	return t.ic.CompareAgainstStaging(t.untarDir, t.pathName)
}

func (t *S3Tarball) stage(ctx context.Context) error {
	if err := t.ic.CleanStaging(); err != nil {
		return err
	}
	if err := t.ic.FetchBlobAndExtract(ctx, t.key, t.codec, 0); err != nil {
		return err
	}
	if t.stripExes {
		t.ic.StripExes(t.untarDir)
	}
	return nil
}

func (t *S3Tarball) String() string {
	return fmt.Sprintf("%s (s3 %s)", t.name, t.key)
}
