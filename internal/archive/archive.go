// Package archive packs and unpacks the zip archives used for job
// attachments and results.
package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrCorrupt reports a malformed archive. It is never silently treated as
// an empty archive.
var ErrCorrupt = errors.New("corrupt archive")

// Pack writes the directory's contents to w as a zip archive, preserving
// paths relative to dir. Archives are built on demand, never cached.
func Pack(w io.Writer, dir string) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		fw, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(fw, f)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to pack %s: %w", dir, err)
	}
	return zw.Close()
}

// Extract unpacks the archive into dest. Entries are first written to a
// temporary directory next to dest and only moved in once the whole
// archive has extracted cleanly, so a corrupt archive never leaves
// partially-applied state behind.
func Extract(r io.ReaderAt, size int64, dest string) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	staging, err := os.MkdirTemp(filepath.Dir(dest), ".extract-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	for _, f := range zr.File {
		if err := extractFile(f, staging); err != nil {
			return err
		}
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.Rename(filepath.Join(staging, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(f *zip.File, dest string) error {
	name := filepath.Clean(filepath.FromSlash(f.Name))
	if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: entry %q escapes the archive root", ErrCorrupt, f.Name)
	}
	target := filepath.Join(dest, name)

	if f.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}
