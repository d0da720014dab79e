package cprops

import (
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hashicorp/go-hclog"
)

var (
	gccToolchainRE = regexp.MustCompile(`--gcc-toolchain=(\S*)`)
	gxxNameRE      = regexp.MustCompile(`--gxx-name=(\S*)`)
	stdVerRE       = regexp.MustCompile(`-std=(\S*)`)
	targetRE       = regexp.MustCompile(`-target (\S*)`)
)

// ToolchainFromOptions extracts the GCC toolchain root a compiler is
// configured against, or "" when the options carry none.
func ToolchainFromOptions(options string) string {
	if m := gccToolchainRE.FindStringSubmatch(options); m != nil {
		return m[1]
	}
	if m := gxxNameRE.FindStringSubmatch(options); m != nil {
		root, err := filepath.EvalSymlinks(filepath.Join(filepath.Dir(m[1]), ".."))
		if err != nil {
			return filepath.Join(filepath.Dir(m[1]), "..")
		}
		return root
	}
	return ""
}

// DefaultToolchain derives a toolchain root from the compiler executable
// location when the options do not pin one.
func DefaultToolchain(exe string) string {
	root, err := filepath.EvalSymlinks(filepath.Join(filepath.Dir(exe), ".."))
	if err != nil {
		return filepath.Join(filepath.Dir(exe), "..")
	}
	return root
}

// StdVerFromOptions extracts a pinned -std= value, or "".
func StdVerFromOptions(options string) string {
	if m := stdVerRE.FindStringSubmatch(options); m != nil {
		return m[1]
	}
	return ""
}

// TargetFromOptions extracts a pinned -target value, or "".
func TargetFromOptions(options string) string {
	if m := targetRE.FindStringSubmatch(options); m != nil {
		return m[1]
	}
	return ""
}

// Prober answers compiler capability questions by running the compiler's
// own introspection tools. The command runner is injectable for tests.
type Prober struct {
	log hclog.Logger
	run func(name string, args ...string) ([]byte, error)
}

// NewProber creates a Prober that shells out to the probed binaries.
func NewProber(log hclog.Logger) *Prober {
	return &Prober{
		log: log,
		run: func(name string, args ...string) ([]byte, error) {
			// CombinedOutput: llc reports its registered targets on
			// stdout but exits non-zero for unknown flags on old builds.
			return exec.Command(name, args...).CombinedOutput()
		},
	}
}

// SupportsArch reports whether the compiler can emit code for arch.
//
// A -target pinned in the options decides authoritatively. Otherwise
// gcc-like compilers are asked via --target-help; clang-like compilers via
// the llc tool expected next to the driver. Probe failures mean "no".
func (p *Prober) SupportsArch(comp *Compiler, arch string) bool {
	if fixed := TargetFromOptions(comp.Options); fixed != "" {
		return fixed == arch
	}

	var output string
	switch comp.Type {
	case "":
		out, err := p.run(comp.Exe, "--target-help")
		if err != nil {
			p.log.Debug("target-help probe failed", "compiler", comp.ID, "error", err)
			return false
		}
		output = string(out)
	case "clang":
		llc := filepath.Join(filepath.Dir(comp.Exe), "llc")
		out, err := p.run(llc, "--version")
		if err != nil && len(out) == 0 {
			p.log.Debug("llc probe failed", "compiler", comp.ID, "error", err)
			return false
		}
		output = string(out)
	default:
		return false
	}

	supported := strings.Contains(output, arch)
	p.log.Debug("arch probe", "compiler", comp.ID, "arch", arch, "supported", supported)
	return supported
}
