package installable

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/toolchest/toolchest/internal/buildmatrix"
	"github.com/toolchest/toolchest/internal/config"
)

// Installable is one resolved install target.
type Installable interface {
	// Name is the fully qualified target name: the context path joined
	// with "/", a space, then the target name.
	Name() string
	// DependsOn lists the fully qualified names this target requires
	// installed first.
	DependsOn() []string
	// ShouldInstall reports whether an install run should act on this
	// target.
	ShouldInstall() bool
	// IsInstalled probes the destination tree without mutating anything.
	IsInstalled() bool
	// Install stages, then atomically promotes this target into the
	// destination.
	Install(ctx context.Context) error
	// Verify re-stages a fresh copy and compares it against what is
	// installed.
	Verify(ctx context.Context) (bool, error)
	// Build runs the library build matrix, restricted to buildFor when
	// non-empty. Targets with no build configuration return an error.
	Build(ctx context.Context, buildFor string) (bool, error)
}

type factory func(ic *Context, target config.Target, log hclog.Logger) (Installable, error)

var registry = map[string]factory{
	"tarballs":   newTarball,
	"s3tarballs": newS3Tarball,
	"nightly":    newNightly,
	"github":     newGitHub,
	"script":     newScript,
}

// FromTarget constructs the Installable for a resolved target, dispatching
// on its "type" field.
func FromTarget(ic *Context, target config.Target, log hclog.Logger) (Installable, error) {
	kind, err := target.Str("type")
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", qualifiedName(target), err)
	}
	f, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("target %s: unknown type %q", qualifiedName(target), kind)
	}
	inst, err := f(ic, target, log)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", qualifiedName(target), err)
	}
	return inst, nil
}

func qualifiedName(target config.Target) string {
	name := target.StrOr("name", "?")
	return strings.Join(target.Context(), "/") + " " + name
}

// base carries the behavior every target kind shares: naming, dependency
// gating and the installed-state probe.
type base struct {
	ic  *Context
	log hclog.Logger

	name          string
	targetName    string
	context       []string
	depends       []string
	installAlways bool

	// pathName is the destination-relative install directory; variants
	// set it from their own field derivations.
	pathName string

	checkLink       string
	checkLinkTarget string
	checkFile       string
	checkExe        []string
	checkEnv        []string

	buildType      string
	buildFixedArch string
	buildFixedLib  string
	libType        string
	staticLinks    []string
	sharedLinks    []string
	prebuild       []string
	extraCMakeArgs []string
}

func newBase(ic *Context, target config.Target, log hclog.Logger) base {
	b := base{
		ic:            ic,
		log:           log,
		targetName:    target.StrOr("name", ""),
		context:       target.Context(),
		name:          qualifiedName(target),
		depends:       target.Strings("depends"),
		installAlways: target.BoolOr("install_always", false),

		checkLink: target.StrOr("check_link", ""),

		buildType:      target.StrOr("build_type", ""),
		buildFixedArch: target.StrOr("build_fixed_arch", ""),
		buildFixedLib:  target.StrOr("build_fixed_stdlib", ""),
		libType:        target.StrOr("lib_type", "static"),
		staticLinks:    target.Strings("staticliblink"),
		sharedLinks:    target.Strings("sharedliblink"),
		prebuild:       target.Strings("prebuildscript"),
		extraCMakeArgs: target.Strings("extra_cmake_arg"),
	}
	return b
}

// setupCheckLink records the expected symlink: installed only while
// destination/link names target.
func (b *base) setupCheckLink(target, link string) {
	b.checkLinkTarget = target
	b.checkLink = link
}

// setupCheckExe resolves the installed-state probes against the install
// directory: check_file is relative to it, the probe command's binary is
// joined under it, and %PATH% in the command or its environment expands
// to the absolute install path. Variants that derive their own marker set
// checkFile before calling this. A target with neither a marker file nor
// a probe command has no way to tell whether it is installed, which is a
// configuration error.
func (b *base) setupCheckExe(target config.Target) error {
	for _, kv := range target.Strings("check_env") {
		b.checkEnv = append(b.checkEnv, b.substPath(kv))
	}
	if b.checkLink != "" && b.checkLinkTarget == "" {
		b.checkLinkTarget = b.pathName
	}
	if b.checkFile == "" {
		if cf := target.StrOr("check_file", ""); cf != "" {
			b.checkFile = path.Join(b.pathName, cf)
		}
	}
	if b.checkFile != "" {
		return nil
	}
	exe, err := target.Str("check_exe")
	if err != nil {
		return fmt.Errorf("needs check_file or check_exe")
	}
	argv := strings.Fields(b.substPath(exe))
	if len(argv) > 0 && !path.IsAbs(argv[0]) {
		argv[0] = b.ic.DestPath(path.Join(b.pathName, argv[0]))
	}
	b.checkExe = argv
	return nil
}

func (b *base) substPath(s string) string {
	return strings.ReplaceAll(s, "%PATH%", b.ic.DestPath(b.pathName))
}

func (b *base) Name() string        { return b.name }
func (b *base) DependsOn() []string { return b.depends }

func (b *base) ShouldInstall() bool {
	return b.installAlways || !b.IsInstalled()
}

// IsInstalled probes, in order: the health symlink (missing, or pointing
// at any other install, is authoritatively "not installed"), the marker
// file, then the probe command. Probes never mutate and never error: any
// probe failure means "no".
func (b *base) IsInstalled() bool {
	if b.checkLink != "" && !b.ic.CheckLink(b.checkLinkTarget, b.checkLink) {
		b.log.Debug("check link does not name this install",
			"target", b.name, "link", b.checkLink, "want", b.checkLinkTarget)
		return false
	}
	if b.checkFile != "" {
		ok := fileExists(b.ic.DestPath(b.checkFile))
		b.log.Debug("checked marker file", "target", b.name, "file", b.checkFile, "present", ok)
		return ok
	}
	if err := b.ic.CheckOutput(b.checkExe, b.checkEnv); err != nil {
		b.log.Debug("probe command failed", "target", b.name, "error", err)
		return false
	}
	return true
}

// checkDependencies aborts an install whose prerequisites are absent,
// before any mutation happens.
func (b *base) checkDependencies() error {
	for _, dep := range b.depends {
		inst, ok := b.ic.Installables.Find(dep)
		if !ok {
			return fmt.Errorf("%s depends on unknown target %q", b.name, dep)
		}
		if !inst.IsInstalled() {
			return fmt.Errorf("%s depends on %q which is not installed", b.name, dep)
		}
	}
	return nil
}

// Build runs the library build matrix for targets carrying a build
// configuration.
func (b *base) Build(ctx context.Context, buildFor string) (bool, error) {
	if b.buildType == "" {
		return false, fmt.Errorf("%s has no build configuration", b.name)
	}
	if b.ic.Runner == nil {
		return false, fmt.Errorf("no build runner configured")
	}
	libName := b.targetName
	if len(b.context) > 0 {
		libName = b.context[len(b.context)-1]
	}
	lib := &buildmatrix.Library{
		Name:           libName,
		Version:        b.targetName,
		SourceDir:      b.ic.DestPath(b.pathName),
		BuildType:      b.buildType,
		FixedArch:      b.buildFixedArch,
		FixedStdLib:    b.buildFixedLib,
		LibType:        b.libType,
		StaticLinks:    b.staticLinks,
		SharedLinks:    b.sharedLinks,
		PreBuild:       b.prebuild,
		ExtraCMakeArgs: b.extraCMakeArgs,
	}
	return b.ic.Runner.Build(lib, buildFor)
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// Set is an ordered collection of installables with name lookup.
type Set struct {
	items  []Installable
	byName map[string]Installable
}

// NewSet builds a Set and wires it into the shared context so dependency
// names resolve.
func NewSet(ic *Context, items []Installable) *Set {
	s := &Set{
		items:  items,
		byName: make(map[string]Installable, len(items)),
	}
	for _, inst := range items {
		s.byName[inst.Name()] = inst
	}
	ic.Installables = s
	return s
}

// All returns the installables in configuration order.
func (s *Set) All() []Installable { return s.items }

// Find resolves a fully qualified name.
func (s *Set) Find(name string) (Installable, bool) {
	inst, ok := s.byName[name]
	return inst, ok
}

// Filter returns the installables whose name contains every given
// substring, preserving configuration order. No filters selects all.
func (s *Set) Filter(filters []string) []Installable {
	if len(filters) == 0 {
		return s.items
	}
	var out []Installable
	for _, inst := range s.items {
		match := true
		for _, f := range filters {
			if !strings.Contains(inst.Name(), f) {
				match = false
				break
			}
		}
		if match {
			out = append(out, inst)
		}
	}
	return out
}

// Names returns the sorted fully qualified names, for listings.
func (s *Set) Names() []string {
	names := make([]string, 0, len(s.items))
	for _, inst := range s.items {
		names = append(names, inst.Name())
	}
	sort.Strings(names)
	return names
}
