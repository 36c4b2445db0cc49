// Package archive unpacks batches of scans delivered as zip, 7z or tar.gz
// files and finds the images inside.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bodgit/sevenzip"

	"github.com/stevecastle/retouch/imageio"
)

var (
	ErrUnsupported = errors.New("unsupported archive format")
	ErrUnsafePath  = errors.New("archive entry escapes destination")
)

// ProgressFunc is called as entries are extracted.
type ProgressFunc func(done, total int, name string)

// IsArchive reports whether path has an extension Extract understands.
func IsArchive(path string) bool {
	_, ok := kind(path)
	return ok
}

func kind(path string) (string, bool) {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return "zip", true
	case strings.HasSuffix(lower, ".7z"):
		return "7z", true
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tgz", true
	}
	return "", false
}

// Extract unpacks path into destDir, choosing the format by extension.
func Extract(path, destDir string, progress ProgressFunc) error {
	k, ok := kind(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupported, filepath.Base(path))
	}
	switch k {
	case "zip":
		return ExtractZip(path, destDir, progress)
	case "7z":
		return Extract7z(path, destDir, progress)
	default:
		return ExtractTarGz(path, destDir, progress)
	}
}

// target joins name onto destDir, rejecting absolute names and names that
// climb out of destDir.
func target(destDir, name string) (string, error) {
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	p := filepath.Join(destDir, name)
	rel, err := filepath.Rel(destDir, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return p, nil
}

func writeFile(destPath string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to extract %s: %w", filepath.Base(destPath), err)
	}
	return out.Close()
}

// ExtractZip unpacks a zip archive.
func ExtractZip(archivePath, destDir string, progress ProgressFunc) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer reader.Close()

	for i, file := range reader.File {
		if progress != nil {
			progress(i+1, len(reader.File), file.Name)
		}
		if file.FileInfo().IsDir() {
			continue
		}
		dest, err := target(destDir, file.Name)
		if err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
		}
		err = writeFile(dest, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// Extract7z unpacks a 7z archive.
func Extract7z(archivePath, destDir string, progress ProgressFunc) error {
	reader, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer reader.Close()

	for i, file := range reader.File {
		if progress != nil {
			progress(i+1, len(reader.File), file.Name)
		}
		if file.FileInfo().IsDir() {
			continue
		}
		dest, err := target(destDir, file.Name)
		if err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
		}
		err = writeFile(dest, rc)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// ExtractTarGz unpacks a gzip-compressed tarball. Only regular files are
// written; links and devices are skipped.
func ExtractTarGz(archivePath, destDir string, progress ProgressFunc) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for n := 1; ; n++ {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if progress != nil {
			// tar has no index; total is unknown.
			progress(n, 0, header.Name)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		dest, err := target(destDir, header.Name)
		if err != nil {
			return err
		}
		if err := writeFile(dest, tr); err != nil {
			return err
		}
	}
}

// ListImages returns every decodable image under dir, sorted by path.
// Hidden files and directories (such as __MACOSX) are skipped, as is any
// directory in skip, so an output folder inside dir is never read back.
func ListImages(dir string, skip ...string) ([]string, error) {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		if s != "" {
			skipped[absPath(s)] = true
		}
	}
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != dir && skipped[absPath(path)] {
			return filepath.SkipDir
		}
		name := d.Name()
		if path != dir && (strings.HasPrefix(name, ".") || name == "__MACOSX") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() && imageio.IsImage(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
