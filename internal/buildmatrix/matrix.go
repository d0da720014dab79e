// Package buildmatrix rebuilds a library against every viable combination
// of build dimensions: discovered compilers crossed with OS, build type,
// architecture, language standard, standard library and extra flag sets.
// Each surviving combination is identified by a content fingerprint that
// names its scratch build directory.
package buildmatrix

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/toolchest/toolchest/internal/cprops"
)

// Supported build dimensions. These mirror the production build fleet and
// are crossed per compiler; per-library pins (fixed arch, fixed stdlib,
// options-pinned -std=) collapse the matching dimension to one value.
var (
	SupportedOS        = []string{"Linux"}
	SupportedBuildType = []string{"Debug"}
	SupportedArch      = []string{"x86_64", "x86"}
	SupportedStdVer    = []string{""}
	SupportedStdLib    = []string{"", "libc++"}
	SupportedFlags     = [][]string{{""}}
)

// Library describes one source-built library: where its sources are
// installed and how to drive its build system.
type Library struct {
	Name           string // library id, the last element of the target's context
	Version        string // target name
	SourceDir      string // absolute path of the installed source tree
	BuildType      string // "cmake" or "make"
	FixedArch      string
	FixedStdLib    string
	LibType        string // "static" or "shared"
	StaticLinks    []string
	SharedLinks    []string
	PreBuild       []string
	ExtraCMakeArgs []string
	Description    string
	URL            string
}

// Combination is one point of the build-dimension cross product.
type Combination struct {
	Compiler  *cprops.Compiler
	Toolchain string
	OS        string
	BuildType string
	Arch      string
	StdVer    string
	StdLib    string
	Flags     []string
}

// Fingerprint derives the combination's content hash, prefixed by the
// compiler id. Two combinations with equal fingerprints are the same build
// attempt and share a scratch directory name.
func (c *Combination) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s,%s,%s,%s,%s,%s,%s,%s,%s",
		c.Compiler.ID, c.Compiler.Options, c.Toolchain,
		c.OS, c.BuildType, c.Arch, c.StdVer, c.StdLib,
		strings.Join(c.Flags, "|"))
	return c.Compiler.ID + "_" + hex.EncodeToString(h.Sum(nil))
}

// ExtraFlags renders the flag set as a single compiler argument string.
func (c *Combination) ExtraFlags() string {
	return strings.Join(c.Flags, " ")
}

// CompilerFamily returns the conan-facing compiler name: the compiler type,
// with the gcc-like empty type spelled out.
func (c *Combination) CompilerFamily() string {
	if c.Compiler.Type == "" {
		return "gcc"
	}
	return c.Compiler.Type
}

// LibCXX returns the effective C++ standard library for the combination.
// Only clang-like compilers honor a stdlib choice; everything else links
// libstdc++.
func (c *Combination) LibCXX() string {
	if c.StdLib != "" && c.Compiler.Type == "clang" {
		return c.StdLib
	}
	return "libstdc++"
}

// combinations crosses the supported dimensions for one compiler, honoring
// the library's pins. archs and stdlibs are pre-pruned by the caller (they
// depend on capability probes).
func combinations(comp *cprops.Compiler, toolchain string, archs, stdvers, stdlibs []string) []Combination {
	var out []Combination
	for _, os := range SupportedOS {
		for _, buildType := range SupportedBuildType {
			for _, arch := range archs {
				for _, stdver := range stdvers {
					for _, stdlib := range stdlibs {
						for _, flags := range SupportedFlags {
							out = append(out, Combination{
								Compiler:  comp,
								Toolchain: toolchain,
								OS:        os,
								BuildType: buildType,
								Arch:      arch,
								StdVer:    stdver,
								StdLib:    stdlib,
								Flags:     flags,
							})
						}
					}
				}
			}
		}
	}
	return out
}
