package installable

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	root := t.TempDir()
	dest := filepath.Join(root, "dest")
	staging := filepath.Join(root, "staging")
	for _, dir := range []string{dest, staging} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}
	return NewContext(dest, staging, hclog.NewNullLogger())
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestMoveFromStagingFresh(t *testing.T) {
	ic := testContext(t)
	writeTree(t, ic.Staging, map[string]string{"pkg/bin/tool": "v1"})

	if err := ic.MoveFromStaging("pkg", "pkg"); err != nil {
		t.Fatalf("MoveFromStaging() error = %v", err)
	}
	if got := readFile(t, ic.DestPath("pkg/bin/tool")); got != "v1" {
		t.Errorf("installed content = %q", got)
	}
	if _, err := os.Stat(ic.StagingPath("pkg")); !os.IsNotExist(err) {
		t.Error("staged source should be gone after promotion")
	}
}

func TestMoveFromStagingReplacesExisting(t *testing.T) {
	ic := testContext(t)
	writeTree(t, ic.Destination, map[string]string{"pkg/bin/tool": "old"})
	writeTree(t, ic.Staging, map[string]string{"pkg/bin/tool": "new"})

	if err := ic.MoveFromStaging("pkg", "pkg"); err != nil {
		t.Fatalf("MoveFromStaging() error = %v", err)
	}
	if got := readFile(t, ic.DestPath("pkg/bin/tool")); got != "new" {
		t.Errorf("installed content = %q, want replacement", got)
	}
	if _, err := os.Stat(ic.StagingPath(asideName)); !os.IsNotExist(err) {
		t.Error("parked original should be removed after success")
	}
}

func TestMoveFromStagingRestoresOnFailure(t *testing.T) {
	ic := testContext(t)
	writeTree(t, ic.Destination, map[string]string{"pkg/bin/tool": "old"})
	writeTree(t, ic.Staging, map[string]string{"pkg/bin/tool": "new"})

	dest := ic.DestPath("pkg")
	ic.rename = func(oldpath, newpath string) error {
		if newpath == dest && oldpath == ic.StagingPath("pkg") {
			return errors.New("cross-device link")
		}
		return os.Rename(oldpath, newpath)
	}

	if err := ic.MoveFromStaging("pkg", "pkg"); err == nil {
		t.Fatal("MoveFromStaging() should fail when the move-in fails")
	}
	if got := readFile(t, ic.DestPath("pkg/bin/tool")); got != "old" {
		t.Errorf("destination = %q after failed install, want original restored", got)
	}
}

func TestMoveFromStagingDryRun(t *testing.T) {
	ic := testContext(t)
	ic.DryRun = true
	writeTree(t, ic.Destination, map[string]string{"pkg/bin/tool": "old"})
	writeTree(t, ic.Staging, map[string]string{"pkg/bin/tool": "new"})

	if err := ic.MoveFromStaging("pkg", "pkg"); err != nil {
		t.Fatalf("MoveFromStaging() error = %v", err)
	}
	if got := readFile(t, ic.DestPath("pkg/bin/tool")); got != "old" {
		t.Errorf("dry run mutated the destination: %q", got)
	}
}

func TestCompareAgainstStaging(t *testing.T) {
	ic := testContext(t)
	writeTree(t, ic.Staging, map[string]string{"pkg/a": "same", "pkg/sub/b": "same"})
	writeTree(t, ic.Destination, map[string]string{"pkg/a": "same", "pkg/sub/b": "same"})

	same, err := ic.CompareAgainstStaging("pkg", "pkg")
	if err != nil || !same {
		t.Fatalf("CompareAgainstStaging() = %v, %v; want identical", same, err)
	}

	writeTree(t, ic.Destination, map[string]string{"pkg/a": "drifted"})
	same, err = ic.CompareAgainstStaging("pkg", "pkg")
	if err != nil {
		t.Fatal(err)
	}
	if same {
		t.Error("drifted content reported identical")
	}

	// Extra installed files are a difference too.
	writeTree(t, ic.Destination, map[string]string{"pkg/a": "same", "pkg/extra": "x"})
	same, err = ic.CompareAgainstStaging("pkg", "pkg")
	if err != nil {
		t.Fatal(err)
	}
	if same {
		t.Error("extra file reported identical")
	}
}

func TestLinks(t *testing.T) {
	ic := testContext(t)
	writeTree(t, ic.Destination, map[string]string{"gcc-1.0/bin/gcc": "x"})

	if ic.CheckLink("gcc-1.0", "gcc") {
		t.Error("absent link reported as pointing at gcc-1.0")
	}
	if err := ic.SetLink("gcc-1.0", "gcc"); err != nil {
		t.Fatal(err)
	}
	if !ic.CheckLink("gcc-1.0", "gcc") {
		t.Error("fresh link not recognized")
	}
	target, err := ic.ReadLink("gcc")
	if err != nil || target != "gcc-1.0" {
		t.Errorf("ReadLink() = %q, %v", target, err)
	}

	// The check is an equality check: a link naming any other install
	// does not count.
	if ic.CheckLink("gcc-2.0", "gcc") {
		t.Error("link to gcc-1.0 reported as pointing at gcc-2.0")
	}
	if err := ic.SetLink("gcc-2.0", "gcc"); err != nil {
		t.Fatal(err)
	}
	if ic.CheckLink("gcc-1.0", "gcc") {
		t.Error("repointed link still reported as gcc-1.0")
	}
	if !ic.CheckLink("gcc-2.0", "gcc") {
		t.Error("repointed link not recognized")
	}
}

func TestGlob(t *testing.T) {
	ic := testContext(t)
	writeTree(t, ic.Destination, map[string]string{
		"gcc-trunk-100/x": "", "gcc-trunk-101/x": "", "clang-trunk-100/x": "",
	})
	got, err := ic.Glob("gcc-trunk-*")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("Glob() = %v, want the two gcc dirs", got)
	}
}
