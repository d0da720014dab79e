package buildmatrix

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/cprops"
)

// Runner drives matrix builds: for every discovered compiler it crosses
// the supported dimensions, generates the build and packaging scripts per
// combination and executes them. Per-combination failures are tallied, not
// fatal; a build succeeds when no combination failed.
type Runner struct {
	Staging        string
	DryRun         bool
	StrictMetadata bool

	props  *cprops.Cache
	prober *cprops.Prober
	log    hclog.Logger

	// execScript runs an executable script inside dir; runCommand runs a
	// plain command there. Both injectable for tests.
	execScript func(dir, script string) error
	runCommand func(dir string, argv ...string) error
}

// NewRunner creates a Runner executing real processes.
func NewRunner(staging string, props *cprops.Cache, prober *cprops.Prober, log hclog.Logger) *Runner {
	return &Runner{
		Staging: staging,
		props:   props,
		prober:  prober,
		log:     log,
		execScript: func(dir, script string) error {
			cmd := exec.Command(script)
			cmd.Dir = dir
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
			return cmd.Run()
		},
		runCommand: func(dir string, argv ...string) error {
			cmd := exec.Command(argv[0], argv[1:]...)
			cmd.Dir = dir
			return cmd.Run()
		},
	}
}

// Build runs the full matrix for lib. When buildFor is non-empty only the
// named compiler's combinations run. It reports whether every attempted
// combination built cleanly.
func (r *Runner) Build(lib *Library, buildFor string) (bool, error) {
	if lib.BuildType != "cmake" && lib.BuildType != "make" {
		return false, fmt.Errorf("unsupported build type %q for %s", lib.BuildType, lib.Name)
	}
	if err := r.fillMetadata(lib); err != nil {
		return false, err
	}

	compilers, err := r.props.Compilers()
	if err != nil {
		return false, fmt.Errorf("loading compiler properties: %w", err)
	}

	ids := make([]string, 0, len(compilers))
	for id := range compilers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var built, failed int
	for _, id := range ids {
		if buildFor != "" && id != buildFor {
			continue
		}
		comp := compilers[id]

		archs, ok := r.archsFor(comp, lib)
		if !ok {
			continue
		}
		toolchain := cprops.ToolchainFromOptions(comp.Options)
		if toolchain == "" {
			toolchain = cprops.DefaultToolchain(comp.Exe)
		}
		stdvers := SupportedStdVer
		if pinned := cprops.StdVerFromOptions(comp.Options); pinned != "" {
			stdvers = []string{pinned}
		}
		stdlibs := r.stdlibsFor(comp, lib)

		for _, comb := range combinations(comp, toolchain, archs, stdvers, stdlibs) {
			comb := comb
			if err := r.buildOne(lib, &comb); err != nil {
				r.log.Warn("combination failed", "library", lib.Name,
					"fingerprint", comb.Fingerprint(), "error", err)
				failed++
			} else {
				built++
			}
		}
	}

	r.log.Info("matrix build finished", "library", lib.Name, "built", built, "failed", failed)
	return failed == 0, nil
}

// fillMetadata merges link metadata from the properties document into lib.
// Absent metadata is an error only in strict mode; otherwise sensible
// defaults let the build proceed.
func (r *Runner) fillMetadata(lib *Library) error {
	meta, ok := r.props.Library(lib.Name)
	if !ok {
		if r.StrictMetadata {
			return fmt.Errorf("no library metadata for %s", lib.Name)
		}
		r.log.Warn("no library metadata, using defaults", "library", lib.Name)
	} else {
		lib.Description = meta.Description
		lib.URL = meta.URL
		if len(lib.StaticLinks) == 0 {
			lib.StaticLinks = meta.StaticLinks
		}
		if len(lib.SharedLinks) == 0 {
			lib.SharedLinks = meta.SharedLinks
		}
	}
	if len(lib.StaticLinks) == 0 && len(lib.SharedLinks) == 0 {
		if lib.LibType == "shared" {
			lib.SharedLinks = []string{lib.Name}
		} else {
			lib.StaticLinks = []string{lib.Name}
		}
	}
	if lib.LibType == "" {
		lib.LibType = "static"
	}
	return nil
}

// archsFor prunes the architecture dimension by capability probe. A fixed
// arch the compiler cannot target skips the compiler entirely.
func (r *Runner) archsFor(comp *cprops.Compiler, lib *Library) ([]string, bool) {
	if lib.FixedArch != "" {
		if !r.prober.SupportsArch(comp, lib.FixedArch) {
			r.log.Debug("compiler cannot target fixed arch",
				"compiler", comp.ID, "arch", lib.FixedArch)
			return nil, false
		}
		return []string{lib.FixedArch}, true
	}
	if !r.prober.SupportsArch(comp, "x86") {
		// No 32-bit support: build only for the native target.
		return []string{""}, true
	}
	return SupportedArch, true
}

// stdlibsFor prunes the standard-library dimension: only clang-like
// compilers can switch stdlib.
func (r *Runner) stdlibsFor(comp *cprops.Compiler, lib *Library) []string {
	if lib.FixedStdLib != "" {
		return []string{lib.FixedStdLib}
	}
	if comp.Type == "clang" {
		return SupportedStdLib
	}
	return []string{""}
}

// buildOne generates the scripts for a single combination and executes the
// build, then packages the result. A packaging failure is logged but does
// not fail the combination.
func (r *Runner) buildOne(lib *Library, c *Combination) error {
	buildDir := lib.SourceDir
	if lib.BuildType == "cmake" {
		buildDir = filepath.Join(r.Staging, c.Fingerprint())
		if err := os.MkdirAll(buildDir, 0o755); err != nil {
			return fmt.Errorf("creating build dir: %w", err)
		}
	}
	r.log.Info("building", "library", lib.Name, "compiler", c.Compiler.ID,
		"arch", c.Arch, "stdlib", c.StdLib, "dir", buildDir)

	hasConfigure := false
	if lib.BuildType == "make" {
		if _, err := os.Stat(filepath.Join(buildDir, "configure")); err == nil {
			hasConfigure = true
		}
	}

	libDirs := ToolchainLibDirs(c.Toolchain, c.Arch)
	if err := r.writeScript(buildDir, "build.sh", BuildScript(lib, c, libDirs, hasConfigure), 0o755); err != nil {
		return err
	}
	if err := r.writeScript(buildDir, "conanfile.py", ConanFile(lib), 0o644); err != nil {
		return err
	}
	if err := r.writeScript(buildDir, "conanexport.sh", ExportScript(lib, c), 0o755); err != nil {
		return err
	}

	if err := r.execScript(buildDir, "./build.sh"); err != nil {
		return fmt.Errorf("build script: %w", err)
	}

	if !r.hasArtifacts(buildDir, lib) {
		return fmt.Errorf("build produced no %s artifacts", lib.LibType)
	}

	if r.DryRun {
		r.log.Info("dry run: skipping package export", "library", lib.Name)
	} else if err := r.execScript(buildDir, "./conanexport.sh"); err != nil {
		// Export failure does not taint the build itself.
		r.log.Warn("package export failed", "library", lib.Name,
			"fingerprint", c.Fingerprint(), "error", err)
	}

	r.cleanup(lib, buildDir)
	return nil
}

func (r *Runner) writeScript(dir, name, content string, mode os.FileMode) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// hasArtifacts checks that the build left at least one matching library in
// the working directory.
func (r *Runner) hasArtifacts(dir string, lib *Library) bool {
	matches, err := filepath.Glob(filepath.Join(dir, "lib"+lib.artifactPattern()))
	if err != nil {
		return false
	}
	return len(matches) > 0
}

// cleanup reclaims scratch space after a successful combination: the
// CMake scratch dir is removed outright, an in-tree make build is cleaned
// in place.
func (r *Runner) cleanup(lib *Library, buildDir string) {
	if lib.BuildType == "cmake" {
		if r.DryRun {
			r.log.Info("dry run: would remove build dir", "dir", buildDir)
			return
		}
		if err := os.RemoveAll(buildDir); err != nil {
			r.log.Warn("failed to remove build dir", "dir", buildDir, "error", err)
		}
		return
	}
	if err := r.runCommand(buildDir, "make", "clean"); err != nil {
		r.log.Debug("make clean failed", "dir", buildDir, "error", err)
	}
}
