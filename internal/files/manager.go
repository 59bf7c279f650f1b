package files

import (
	"archive/zip"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Manager provides file management operations rooted at one directory.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a new file manager instance. Relative paths passed to
// its methods resolve against root.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, logger: logger.With("component", "files")}
}

// Root returns the base directory
func (m *Manager) Root() string {
	return m.root
}

// WriteFile writes the content of r to path atomically through a
// temporary sibling file.
func (m *Manager) WriteFile(path string, r io.Reader) (int64, error) {
	fullPath := m.resolvePath(path)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".tmp-"+filepath.Base(fullPath)+"-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write %s: %w", fullPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync %s: %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}

	m.logger.Debug("Wrote file",
		slog.String("path", fullPath),
		slog.Int64("size_bytes", n))
	return n, nil
}

// Open opens path for reading
func (m *Manager) Open(path string) (*os.File, error) {
	return os.Open(m.resolvePath(path))
}

// CopyFile copies a file from source to destination
func (m *Manager) CopyFile(src, dst string) error {
	srcFile, err := os.Open(m.resolvePath(src))
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer srcFile.Close()

	if _, err := m.WriteFile(dst, srcFile); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

// RemoveAll deletes path and everything below it
func (m *Manager) RemoveAll(path string) error {
	fullPath := m.resolvePath(path)
	m.logger.Debug("Removing path", slog.String("path", fullPath))
	return os.RemoveAll(fullPath)
}

// ExtractZip unpacks archive into destDir. Entries that would land outside
// destDir are rejected.
func (m *Manager) ExtractZip(archive, destDir string) ([]string, error) {
	archivePath := m.resolvePath(archive)
	dest, err := filepath.Abs(m.resolvePath(destDir))
	if err != nil {
		return nil, err
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer zr.Close()

	var extracted []string
	for _, f := range zr.File {
		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
			return nil, fmt.Errorf("archive entry %q escapes destination", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return nil, err
			}
			continue
		}

		if err := extractEntry(f, target); err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", f.Name, err)
		}
		extracted = append(extracted, target)
	}

	m.logger.Info("Extracted archive",
		slog.String("archive", archivePath),
		slog.String("dest", dest),
		slog.Int("files", len(extracted)))
	return extracted, nil
}

func extractEntry(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return err
	}
	rc, err := f.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// resolvePath resolves a path relative to the root directory
func (m *Manager) resolvePath(path string) string {
	if filepath.IsAbs(path) || m.root == "" {
		return path
	}
	return filepath.Join(m.root, path)
}
