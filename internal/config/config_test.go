package config

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	doc := `
compilers:
  check_exe: bin/gcc --version
  gcc:
    dir: gcc-{name}
    strip:
      - bin
      - libexec
    targets:
      - "5.4.0"
      - name: "6.1.0"
        install_always: true
`
	root, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	compilers := root.Children["compilers"]
	if compilers == nil {
		t.Fatal("missing compilers child")
	}
	if got := compilers.Fields["check_exe"]; got != "bin/gcc --version" {
		t.Errorf("check_exe = %v", got)
	}

	gcc := compilers.Children["gcc"]
	if gcc == nil {
		t.Fatal("missing gcc child")
	}
	strip, ok := gcc.Fields["strip"].([]string)
	if !ok || len(strip) != 2 || strip[0] != "bin" {
		t.Errorf("strip = %v", gcc.Fields["strip"])
	}
	if len(gcc.Targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(gcc.Targets))
	}
	if gcc.Targets[0].Name != "5.4.0" || gcc.Targets[0].Fields != nil {
		t.Errorf("first target = %+v", gcc.Targets[0])
	}
	if gcc.Targets[1].Name != "6.1.0" {
		t.Errorf("second target name = %q", gcc.Targets[1].Name)
	}
	if got := gcc.Targets[1].Fields["install_always"]; got != true {
		t.Errorf("install_always = %v", got)
	}
}

func TestParseChildOrder(t *testing.T) {
	doc := `
zeta: {targets: [a]}
alpha: {targets: [b]}
mid: {targets: [c]}
`
	root, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	want := []string{"zeta", "alpha", "mid"}
	if len(root.ChildOrder) != len(want) {
		t.Fatalf("ChildOrder = %v", root.ChildOrder)
	}
	for i, name := range want {
		if root.ChildOrder[i] != name {
			t.Errorf("ChildOrder[%d] = %q, want %q", i, root.ChildOrder[i], name)
		}
	}
}

func TestParseFloatTargetRejected(t *testing.T) {
	doc := `
gcc:
  targets:
    - 5.4
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected error for unquoted numeric target")
	}
	if !strings.Contains(err.Error(), "parsed as a number") {
		t.Errorf("error = %v", err)
	}
}

func TestParseGuard(t *testing.T) {
	doc := `
nightly:
  if: nightly
  targets: [trunk]
`
	root, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := root.Children["nightly"].If; got != "nightly" {
		t.Errorf("If = %q", got)
	}
}

func TestParseAnchors(t *testing.T) {
	doc := `
libs:
  compression: &comp xz
  other:
    compression: *comp
    targets: [one]
`
	root, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	other := root.Children["libs"].Children["other"]
	if got := other.Fields["compression"]; got != "xz" {
		t.Errorf("compression = %v", got)
	}
}
