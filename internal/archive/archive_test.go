package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"
)

// tarball builds a gzipped tarball in memory from name -> content entries,
// emitted in the order given.
func tarball(t *testing.T, entries []struct{ name, content string }) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, e := range entries {
		if e.content == "" && e.name[len(e.name)-1] == '/' {
			if err := tw.WriteHeader(&tar.Header{
				Name:     e.name,
				Typeflag: tar.TypeDir,
				Mode:     0o755,
			}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		if err := tw.WriteHeader(&tar.Header{
			Name: e.name,
			Mode: 0o644,
			Size: int64(len(e.content)),
		}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestCodecFromName(t *testing.T) {
	tests := []struct {
		name    string
		want    Codec
		wantErr bool
	}{
		{name: "gz", want: Gzip},
		{name: "gzip", want: Gzip},
		{name: "bz2", want: Bzip2},
		{name: "xz", want: Xz},
		{name: "zip", wantErr: true},
		{name: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := CodecFromName(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("CodecFromName(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("CodecFromName(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestExtract(t *testing.T) {
	data := tarball(t, []struct{ name, content string }{
		{"pkg-1.0/", ""},
		{"pkg-1.0/README", "hello"},
		{"pkg-1.0/bin/tool", "#!/bin/sh\n"},
	})

	dir := t.TempDir()
	if err := Extract(bytes.NewReader(data), Gzip, dir, 0); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "pkg-1.0", "README"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello" {
		t.Errorf("README = %q", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg-1.0", "bin", "tool")); err != nil {
		t.Errorf("bin/tool missing: %v", err)
	}
}

func TestExtractStripComponents(t *testing.T) {
	data := tarball(t, []struct{ name, content string }{
		{"pkg-1.0/", ""},
		{"pkg-1.0/README", "hello"},
	})

	dir := t.TempDir()
	if err := Extract(bytes.NewReader(data), Gzip, dir, 1); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "README")); err != nil {
		t.Errorf("README not at top level after strip: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "pkg-1.0")); !os.IsNotExist(err) {
		t.Errorf("stripped directory still present")
	}
}

func TestExtractRejectsEscape(t *testing.T) {
	data := tarball(t, []struct{ name, content string }{
		{"../evil", "boom"},
	})

	dir := t.TempDir()
	err := Extract(bytes.NewReader(data), Gzip, dir, 0)
	if err == nil {
		t.Fatal("expected error for escaping entry")
	}
}

func TestCodecExt(t *testing.T) {
	if got := Xz.Ext(); got != "tar.xz" {
		t.Errorf("Ext() = %q", got)
	}
}
