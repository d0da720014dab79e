package installable

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/config"
)

// Script installs by running a configured shell fragment in staging,
// after fetching any listed support files there. The script must leave a
// complete install image at the configured directory.
type Script struct {
	base

	fetch     []string // "url" or "url filename" entries
	script    string
	symlink   string
	stripExes bool
}

func newScript(ic *Context, target config.Target, log hclog.Logger) (Installable, error) {
	dir, err := target.Str("dir")
	if err != nil {
		return nil, err
	}
	script, err := target.Str("script")
	if err != nil {
		return nil, err
	}
	s := &Script{
		base:      newBase(ic, target, log),
		fetch:     target.Strings("fetch"),
		script:    script,
		symlink:   target.StrOr("symlink", ""),
		stripExes: target.BoolOr("strip", false),
	}
	s.pathName = dir
	if s.symlink != "" && s.checkLink == "" {
		s.setupCheckLink(s.pathName, s.symlink)
	}
	if err := s.setupCheckExe(target); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Script) Install(ctx context.Context) error {
	if err := s.checkDependencies(); err != nil {
		return err
	}
	if err := s.stage(ctx); err != nil {
		return err
	}
	if err := s.ic.MoveFromStaging(s.pathName, s.pathName); err != nil {
		return err
	}
	if s.symlink != "" {
		return s.ic.SetLink(s.pathName, s.symlink)
	}
	return nil
}

func (s *Script) Verify(ctx context.Context) (bool, error) {
	if err := s.stage(ctx); err != nil {
		return false, err
	}
	return s.ic.CompareAgainstStaging(s.pathName, s.pathName)
}

func (s *Script) stage(ctx context.Context) error {
	if err := s.ic.CleanStaging(); err != nil {
		return err
	}
	for _, entry := range s.fetch {
		url, filename, ok := strings.Cut(entry, " ")
		if !ok {
			filename = url[strings.LastIndex(url, "/")+1:]
		}
		if err := s.ic.FetchTo(url, filename); err != nil {
			return err
		}
	}
	if err := s.ic.StageCommand(ctx, []string{"bash", "-c", s.script}, nil); err != nil {
		return err
	}
	if s.stripExes {
		s.ic.StripExes(s.pathName)
	}
	return nil
}

func (s *Script) String() string {
	return fmt.Sprintf("%s (script -> %s)", s.name, s.pathName)
}
