package buildmatrix

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ccFromCXX derives the matching C driver from a C++ driver path:
// .../clang++ becomes .../clang, .../g++ becomes .../gcc.
func ccFromCXX(cxx string) string {
	cc := strings.TrimSuffix(cxx, "++")
	if strings.HasSuffix(cxx, "g++") {
		cc += "cc"
	}
	return cc
}

// archFlag renders the compiler argument that selects arch, per compiler
// family. Empty arch means the compiler's native target.
func archFlag(c *Combination) string {
	if c.Arch == "" {
		return ""
	}
	if c.Arch == "x86" {
		if c.Compiler.Type == "clang" {
			return "-m32"
		}
		return "-march=i386 -m32"
	}
	return ""
}

// ToolchainLibDirs lists the toolchain library directories to add to the
// link path and rpath, preferring 64-bit dirs unless building 32-bit.
func ToolchainLibDirs(toolchain, arch string) []string {
	if toolchain == "" {
		return nil
	}
	candidates := []string{"lib64", "lib"}
	if arch == "x86" {
		candidates = []string{"lib32", "lib"}
	}
	var dirs []string
	for _, c := range candidates {
		dir := filepath.Join(toolchain, c)
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// BuildScript renders the shell script that performs one build of lib for
// the given combination. The script is self-contained: it exports the
// compiler environment, runs any pre-build commands, configures with the
// library's build system and collects the produced libraries into the
// working directory.
func BuildScript(lib *Library, c *Combination, libDirs []string, hasConfigure bool) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n\n")

	fmt.Fprintf(&b, "export CC=%s\n", ccFromCXX(c.Compiler.Exe))
	fmt.Fprintf(&b, "export CXX=%s\n", c.Compiler.Exe)

	if len(libDirs) > 0 {
		b.WriteString("export LD_LIBRARY_PATH=" + strings.Join(libDirs, ":") + "\n")
		var ldflags []string
		for _, dir := range libDirs {
			ldflags = append(ldflags, "-L"+dir, "-Wl,-rpath="+dir)
		}
		b.WriteString("export LDFLAGS=\"" + strings.Join(ldflags, " ") + "\"\n")
	}

	for _, cmd := range lib.PreBuild {
		b.WriteString(cmd + "\n")
	}

	flags := compileFlags(c)
	links := lib.links()

	if lib.BuildType == "cmake" {
		fmt.Fprintf(&b, "cmake -DCMAKE_BUILD_TYPE=%s \"-DCMAKE_CXX_FLAGS_%s=%s\"",
			c.BuildType, strings.ToUpper(c.BuildType), flags)
		if c.Toolchain != "" {
			fmt.Fprintf(&b, " \"-DCMAKE_CXX_COMPILER_EXTERNAL_TOOLCHAIN=%s\"", c.Toolchain)
		}
		for _, arg := range lib.ExtraCMakeArgs {
			b.WriteString(" " + arg)
		}
		fmt.Fprintf(&b, " %s\n", lib.SourceDir)
	} else {
		b.WriteString("make clean\n")
		b.WriteString("rm -f *.so*\n")
		b.WriteString("rm -f *.a\n")
		fmt.Fprintf(&b, "export CXXFLAGS=\"%s\"\n", flags)
		if hasConfigure {
			b.WriteString("./configure\n")
		}
	}

	for _, link := range links {
		fmt.Fprintf(&b, "make %s\n", link)
	}

	// Some build files have no per-library goals; fall back to the default
	// goal when the targeted make produced nothing.
	pattern := lib.artifactPattern()
	fmt.Fprintf(&b, "libsfound=$(find . -iname '%s')\n", pattern)
	b.WriteString("if [ \"$libsfound\" = \"\" ]; then\n")
	b.WriteString("  make all\n")
	b.WriteString("fi\n")
	fmt.Fprintf(&b, "find . -iname '%s' -type f -exec mv {} . \\;\n", pattern)

	return b.String()
}

// compileFlags renders the per-combination C++ flags.
func compileFlags(c *Combination) string {
	var parts []string
	if f := archFlag(c); f != "" {
		parts = append(parts, f)
	}
	if c.StdVer != "" {
		parts = append(parts, "-std="+c.StdVer)
	}
	if c.StdLib != "" && c.Compiler.Type == "clang" {
		parts = append(parts, "-stdlib="+c.StdLib)
	}
	if extra := c.ExtraFlags(); strings.TrimSpace(extra) != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, " ")
}

// links returns the make goals for the library's link names, preferring
// the names that match its declared library type.
func (l *Library) links() []string {
	if l.LibType == "static" && len(l.StaticLinks) > 0 {
		return l.StaticLinks
	}
	if l.LibType == "shared" && len(l.SharedLinks) > 0 {
		return l.SharedLinks
	}
	if len(l.StaticLinks) > 0 {
		return l.StaticLinks
	}
	return l.SharedLinks
}

// artifactPattern is the find pattern matching the artifacts a successful
// build must produce.
func (l *Library) artifactPattern() string {
	if l.LibType == "shared" {
		return "*.so*"
	}
	return "*.a"
}

// ConanFile renders the conanfile.py that describes the built package for
// export.
func ConanFile(lib *Library) string {
	var b strings.Builder
	b.WriteString("from conans import ConanFile, tools\n\n")
	b.WriteString("class LibraryConan(ConanFile):\n")
	fmt.Fprintf(&b, "    name = %q\n", lib.Name)
	fmt.Fprintf(&b, "    version = %q\n", lib.Version)
	b.WriteString("    settings = \"os\", \"compiler\", \"build_type\", \"arch\", \"stdver\", \"flagcollection\"\n")
	fmt.Fprintf(&b, "    description = %q\n", lib.Description)
	fmt.Fprintf(&b, "    url = %q\n", lib.URL)
	b.WriteString("    license = \"None\"\n")
	b.WriteString("    author = \"None\"\n")
	b.WriteString("    topics = None\n")
	b.WriteString("    def package(self):\n")
	for _, link := range lib.links() {
		ext := ".a"
		if lib.LibType == "shared" {
			ext = ".so"
		}
		fmt.Fprintf(&b, "        self.copy(\"lib%s%s*\", dst=\"lib\", keep_path=False)\n", link, ext)
	}
	b.WriteString("    def package_info(self):\n")
	b.WriteString("        self.cpp_info.libs = [")
	var quoted []string
	for _, link := range lib.links() {
		quoted = append(quoted, fmt.Sprintf("%q", link))
	}
	b.WriteString(strings.Join(quoted, ","))
	b.WriteString("]\n")
	return b.String()
}

// ExportScript renders the script that exports and uploads the built
// package, tagged with the combination's settings.
func ExportScript(lib *Library, c *Combination) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n\n")
	fmt.Fprintf(&b,
		"conan export-pkg . %s/%s -f -s os=%s -s build_type=%s -s compiler=%s"+
			" -s compiler.version=%s -s compiler.libcxx=%s -s arch=%s -s stdver=%s -s \"flagcollection=%s\"\n",
		lib.Name, lib.Version, c.OS, c.BuildType, c.CompilerFamily(),
		c.Compiler.ID, c.LibCXX(), c.Arch, c.StdVer, c.ExtraFlags())
	fmt.Fprintf(&b, "conan upload %s/%s --all -r=myserver -c\n", lib.Name, lib.Version)
	return b.String()
}
