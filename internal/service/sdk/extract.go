package sdk

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tactilityproject/ttbuild/internal/config"
)

// SafeExtract unpacks the zip archive into targetDir.
//
// Every entry is resolved against the canonical target first; if any entry
// would land outside it (or on the target itself) nothing is written at all.
// Symlink entries are written as regular files holding the link text, so an
// archive cannot plant a link and then write through it.
func SafeExtract(archivePath, targetDir string) error {
	reader, err := zip.OpenReader(filepath.Clean(archivePath))
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	root, err := canonicalDir(targetDir)
	if err != nil {
		return fmt.Errorf("resolve target directory: %w", err)
	}

	destinations := make([]string, len(reader.File))

	for i, entry := range reader.File {
		if destinations[i], err = entryPath(root, entry.Name); err != nil {
			return err
		}
	}

	if err = os.MkdirAll(root, config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	for i, entry := range reader.File {
		if entry.FileInfo().IsDir() {
			if err = os.MkdirAll(destinations[i], config.DefaultDirPermissions); err != nil {
				return fmt.Errorf("create %s: %w", entry.Name, err)
			}

			continue
		}

		if err = extractFile(entry, destinations[i]); err != nil {
			return err
		}
	}

	return nil
}

// entryPath returns where name lands under root, which must be canonical.
func entryPath(root, name string) (string, error) {
	dest := filepath.Join(root, filepath.FromSlash(name))
	if !strings.HasPrefix(dest, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafeArchive, name)
	}

	return dest, nil
}

func extractFile(entry *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create directory for %s: %w", entry.Name, err)
	}

	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", entry.Name, err)
	}

	defer func() {
		_ = src.Close()
	}()

	mode := entry.Mode().Perm() | 0o600

	dst, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("create %s: %w", entry.Name, err)
	}

	_, err = io.Copy(dst, src) //nolint:gosec // Archives come from the SDK CDN; size is bounded by the download.
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}

	return nil
}

// canonicalDir makes dir absolute and resolves symlinks on its longest
// existing prefix; the missing tail is appended unchanged.
func canonicalDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}

	existing, missing := abs, ""

	for {
		_, err = os.Lstat(existing)
		if err == nil {
			break
		}

		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}

		missing = filepath.Join(filepath.Base(existing), missing)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", err
	}

	return filepath.Join(resolved, missing), nil
}
