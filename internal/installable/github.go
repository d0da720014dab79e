package installable

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/archive"
	"github.com/toolchest/toolchest/internal/config"
)

// GitHub installs a repository checkout under the library namespace,
// either from the hosted archive of a tag (the default) or by cloning and
// checking out the ref when submodules or history are needed.
type GitHub struct {
	base

	repo         string // "owner/name"
	repoName     string
	targetPrefix string
	method       string // "archive" or "clone"
	untarDir     string
	stripExes    bool
}

func newGitHub(ic *Context, target config.Target, log hclog.Logger) (Installable, error) {
	repo, err := target.Str("repo")
	if err != nil {
		return nil, err
	}
	g := &GitHub{
		base:   newBase(ic, target, log),
		repo:   repo,
		method: target.StrOr("method", "archive"),
	}
	if g.method != "archive" && g.method != "clone" {
		return nil, fmt.Errorf("unknown github method %q", g.method)
	}
	_, g.repoName, _ = strings.Cut(repo, "/")
	if g.repoName == "" {
		return nil, fmt.Errorf("repo %q is not owner/name", repo)
	}
	g.targetPrefix = target.StrOr("target_prefix", "")
	g.stripExes = target.BoolOr("strip", false)
	g.untarDir = target.StrOr("untar_dir", g.repoName+"-"+g.targetName)

	lastContext := ""
	if len(g.context) > 0 {
		lastContext = g.context[len(g.context)-1]
	}
	subdir := path.Join("libs", target.StrOr("subdir", lastContext))
	g.pathName = target.StrOr("path_name", path.Join(subdir, g.targetPrefix+g.targetName))

	// The marker defaults to the build system's entry file, so a checkout
	// only counts once its sources actually landed.
	switch checkFile := target.StrOr("check_file", ""); {
	case checkFile != "":
		g.checkFile = path.Join(g.pathName, checkFile)
	case g.buildType == "cmake":
		g.checkFile = path.Join(g.pathName, "CMakeLists.txt")
	case g.buildType == "make":
		g.checkFile = path.Join(g.pathName, "Makefile")
	default:
		return nil, fmt.Errorf("github target needs check_file or a build_type")
	}
	if err := g.setupCheckExe(target); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *GitHub) Install(ctx context.Context) error {
	if err := g.checkDependencies(); err != nil {
		return err
	}
	if err := g.stage(ctx); err != nil {
		return err
	}
	return g.ic.MoveFromStaging(g.untarDir, g.pathName)
}

func (g *GitHub) Verify(ctx context.Context) (bool, error) {
	if g.method == "clone" {
		// A clone carries .git state that never compares clean; the
		// marker file is the best available signal.
		return g.IsInstalled(), nil
	}
	if err := g.stage(ctx); err != nil {
		return false, err
	}
	return g.ic.CompareAgainstStaging(g.untarDir, g.pathName)
}

func (g *GitHub) stage(ctx context.Context) error {
	if err := g.ic.CleanStaging(); err != nil {
		return err
	}
	switch g.method {
	case "archive":
		url := fmt.Sprintf("https://github.com/%s/archive/%s%s.tar.gz", g.repo, g.targetPrefix, g.targetName)
		if err := g.ic.FetchAndExtract(url, archive.Gzip, 0, ""); err != nil {
			return err
		}
	case "clone":
		if g.ic.VCS == nil {
			return fmt.Errorf("no vcs configured for clone method")
		}
		remote := "https://github.com/" + g.repo + ".git"
		if _, err := g.ic.VCS.CloneAt(ctx, remote, g.targetName, g.ic.Staging, g.untarDir); err != nil {
			return err
		}
	}
	if g.stripExes {
		g.ic.StripExes(g.untarDir)
	}
	return nil
}

func (g *GitHub) String() string {
	return fmt.Sprintf("%s (github %s@%s%s via %s)", g.name, g.repo, g.targetPrefix, g.targetName, g.method)
}
