// Package vcs wraps the git operations the source-control installable
// needs: a fresh clone pinned to a ref with submodules initialized.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// VCS defines the interface for source-control checkout operations.
type VCS interface {
	// CloneAt clones remote into dir/<name>, checks out ref and
	// initializes submodules. Returns the checkout path.
	CloneAt(ctx context.Context, remote, ref, dir, name string) (string, error)
}

// gitVCS implements VCS using the git executable.
type gitVCS struct {
	git string
}

// GitOption configures gitVCS.
type GitOption func(*gitVCS)

// WithGitPath sets a custom git executable path.
func WithGitPath(path string) GitOption {
	return func(g *gitVCS) {
		g.git = path
	}
}

// NewGitVCS creates a new git VCS instance.
func NewGitVCS(opts ...GitOption) VCS {
	g := &gitVCS{git: "git"}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *gitVCS) CloneAt(ctx context.Context, remote, ref, dir, name string) (string, error) {
	if err := g.run(ctx, dir, "clone", remote, name); err != nil {
		return "", fmt.Errorf("clone %s: %w", remote, err)
	}
	cloned := filepath.Join(dir, name)
	if err := g.run(ctx, cloned, "checkout", ref); err != nil {
		return "", fmt.Errorf("checkout %s: %w", ref, err)
	}
	if err := g.run(ctx, cloned, "submodule", "update", "--init"); err != nil {
		return "", fmt.Errorf("init submodules: %w", err)
	}
	return cloned, nil
}

func (g *gitVCS) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, g.git, args...)
	if dir != "" {
		cmd.Dir = dir
	}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s", msg)
		}
		return err
	}
	return nil
}
