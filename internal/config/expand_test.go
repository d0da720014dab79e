package config

import (
	"slices"
	"strings"
	"testing"
)

func mustParse(t *testing.T, doc string) *Node {
	t.Helper()
	root, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return root
}

func names(targets []Target) []string {
	out := make([]string, len(targets))
	for i, tgt := range targets {
		out[i] = tgt.StrOr("name", "?")
	}
	return out
}

func TestExpandInheritance(t *testing.T) {
	root := mustParse(t, `
compilers:
  type: tarballs
  compression: gz
  gcc:
    compression: xz
    targets: ["5.4.0"]
  clang:
    targets: ["9.0.0"]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("got %d targets, want 2", len(targets))
	}

	gcc, clang := targets[0], targets[1]
	if got := gcc.StrOr("compression", ""); got != "xz" {
		t.Errorf("gcc compression = %q, want child override xz", got)
	}
	if got := clang.StrOr("compression", ""); got != "gz" {
		t.Errorf("clang compression = %q, want inherited gz", got)
	}
	if got := gcc.Context(); !slices.Equal(got, []string{"compilers", "gcc"}) {
		t.Errorf("gcc context = %v", got)
	}
}

func TestExpandListsReplaceNotConcatenate(t *testing.T) {
	root := mustParse(t, `
parent:
  strip: [bin, lib]
  child:
    strip: [libexec]
    targets: [one]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	got := targets[0].Strings("strip")
	if !slices.Equal(got, []string{"libexec"}) {
		t.Errorf("strip = %v, want the child's value only", got)
	}
}

func TestExpandDisabledSubtree(t *testing.T) {
	root := mustParse(t, `
stable:
  targets: [a]
experimental:
  if: beta
  targets: [b]
  nested:
    targets: [c]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got := names(targets); !slices.Equal(got, []string{"a"}) {
		t.Errorf("targets = %v, want only the ungated subtree", got)
	}

	targets, err = Expand(root, map[string]bool{"beta": true}, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got := names(targets); !slices.Equal(got, []string{"a", "c", "b"}) {
		t.Errorf("targets = %v", got)
	}
}

func TestExpandEmissionOrder(t *testing.T) {
	// Children's targets come before the parent node's own targets list.
	root := mustParse(t, `
top:
  first:
    targets: [f1, f2]
  second:
    deep:
      targets: [d1]
    targets: [s1]
  targets: [t1]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	want := []string{"f1", "f2", "d1", "s1", "t1"}
	if got := names(targets); !slices.Equal(got, want) {
		t.Errorf("emission order = %v, want %v", got, want)
	}
}

func TestExpandTemplates(t *testing.T) {
	root := mustParse(t, `
gcc:
  dir: gcc-{name}
  url: https://example.com/{dir}.tar.xz
  targets: ["5.4.0"]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	tgt := targets[0]
	if got := tgt.StrOr("dir", ""); got != "gcc-5.4.0" {
		t.Errorf("dir = %q", got)
	}
	if got := tgt.StrOr("url", ""); got != "https://example.com/gcc-5.4.0.tar.xz" {
		t.Errorf("url = %q", got)
	}
}

func TestExpandTemplatesInLists(t *testing.T) {
	root := mustParse(t, `
tool:
  dir: tool-{name}
  check_env:
    - TOOLROOT={dir}
  targets: ["1.0"]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	got := targets[0].Strings("check_env")
	if !slices.Equal(got, []string{"TOOLROOT=tool-1.0"}) {
		t.Errorf("check_env = %v", got)
	}
}

func TestExpandTemplateIdempotent(t *testing.T) {
	tgt := Target{"name": "5.4.0", "dir": "gcc-5.4.0", "context": []string{"gcc"}}
	before := Target{}
	for k, v := range tgt {
		before[k] = v
	}
	if err := expandTemplates(tgt, []string{"gcc"}); err != nil {
		t.Fatalf("expandTemplates() error = %v", err)
	}
	for k, v := range before {
		if s, ok := v.(string); ok && tgt[k] != s {
			t.Errorf("field %q changed: %v -> %v", k, v, tgt[k])
		}
	}
}

func TestExpandTemplateUnknownKey(t *testing.T) {
	root := mustParse(t, `
gcc:
  dir: gcc-{version}
  targets: ["5.4.0"]
`)
	_, err := Expand(root, nil, nil)
	if err == nil {
		t.Fatal("expected unknown key error")
	}
	if !strings.Contains(err.Error(), `unable to find key "version"`) {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(err.Error(), "gcc") {
		t.Errorf("error should name the context path, got %v", err)
	}
}

func TestExpandTemplateCycle(t *testing.T) {
	root := mustParse(t, `
gcc:
  a: "{b}"
  b: "{a}"
  targets: [one]
`)
	_, err := Expand(root, nil, nil)
	if err == nil {
		t.Fatal("expected mutual reference error")
	}
	if !strings.Contains(err.Error(), "too many mutual references") {
		t.Errorf("error = %v", err)
	}
}

func TestExpandResolvableMutualReference(t *testing.T) {
	// a depends on b through c; resolvable within the iteration ceiling.
	root := mustParse(t, `
gcc:
  a: "{c}"
  c: "{b}"
  b: done
  targets: [one]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got := targets[0].StrOr("a", ""); got != "done" {
		t.Errorf("a = %q, want done", got)
	}
}

func TestExpandBaseConfigSeeding(t *testing.T) {
	root := mustParse(t, `
tool:
  dir: "{staging}/tool"
  targets: [one]
`)
	base := map[string]any{"staging": "/opt/staging", "now": "2026-08-25"}
	targets, err := Expand(root, nil, base)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got := targets[0].StrOr("dir", ""); got != "/opt/staging/tool" {
		t.Errorf("dir = %q", got)
	}
}

func TestExpandSiblingIsolation(t *testing.T) {
	root := mustParse(t, `
parent:
  flavor: vanilla
  first:
    flavor: chocolate
    targets: [a]
  second:
    targets: [b]
`)
	targets, err := Expand(root, nil, nil)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if got := targets[1].StrOr("flavor", ""); got != "vanilla" {
		t.Errorf("sibling saw override: flavor = %q", got)
	}
}
