// Package archive extracts compressed tarballs into a directory tree.
// Decompression is in-process: gzip from the standard library, bzip2 via
// dsnet/compress, xz via ulikunitz/xz.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/ulikunitz/xz"
)

// Codec identifies the compression wrapping a tar stream.
type Codec string

const (
	Gzip  Codec = "gz"
	Bzip2 Codec = "bz2"
	Xz    Codec = "xz"
)

// CodecFromName maps a configured compression name to a Codec.
func CodecFromName(name string) (Codec, error) {
	switch name {
	case "gz", "gzip":
		return Gzip, nil
	case "bz2", "bzip2":
		return Bzip2, nil
	case "xz":
		return Xz, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Ext returns the conventional tarball extension for the codec.
func (c Codec) Ext() string {
	return "tar." + string(c)
}

// NewReader wraps r with the codec's decompressor.
func (c Codec) NewReader(r io.Reader) (io.Reader, error) {
	switch c {
	case Gzip:
		return gzip.NewReader(r)
	case Bzip2:
		return bzip2.NewReader(r, nil)
	case Xz:
		return xz.NewReader(r)
	default:
		return nil, fmt.Errorf("unknown compression %q", string(c))
	}
}

// Extract unpacks the compressed tar stream r into dir, dropping
// stripComponents leading path elements from every entry.
func Extract(r io.Reader, codec Codec, dir string, stripComponents int) error {
	decompressed, err := codec.NewReader(r)
	if err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	tr := tar.NewReader(decompressed)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}
		name, ok := stripName(hdr.Name, stripComponents)
		if !ok {
			continue
		}
		dest, err := safeJoin(dir, name)
		if err != nil {
			return err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(dest, os.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			if err := writeFile(dest, tr, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		case tar.TypeLink:
			linked, ok := stripName(hdr.Linkname, stripComponents)
			if !ok {
				continue
			}
			src, err := safeJoin(dir, linked)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
				return err
			}
			os.Remove(dest)
			if err := os.Link(src, dest); err != nil {
				return fmt.Errorf("extract %s: %w", hdr.Name, err)
			}
		default:
			// Device nodes and the like never appear in toolchain tarballs.
		}
	}
}

func writeFile(dest string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode|0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// stripName drops n leading path components; entries shallower than n
// vanish entirely, mirroring tar --strip-components.
func stripName(name string, n int) (string, bool) {
	name = strings.TrimPrefix(name, "./")
	if n > 0 {
		parts := strings.Split(name, "/")
		if len(parts) <= n {
			return "", false
		}
		name = strings.Join(parts[n:], "/")
	}
	if name == "" || name == "." {
		return "", false
	}
	return name, true
}

// safeJoin joins name under dir, refusing entries that would escape it.
func safeJoin(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("archive entry %q has an absolute path", name)
	}
	dest := filepath.Join(dir, name)
	if dest != dir && !strings.HasPrefix(dest, dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes extraction directory", name)
	}
	return dest, nil
}
