package packager

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/domain/manifest"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/service/build"
)

const (
	// IntermediateDir is the staging directory relative to the project root.
	IntermediateDir = "build/package-intermediate"
	// Extension is appended to the ELF base name to form the package name.
	Extension = ".app"

	elfDir    = "elf"
	assetsDir = "assets"
)

var (
	// ErrPackaging wraps every failure while producing the archive.
	ErrPackaging = errors.New("packaging failed")
	// ErrMissingArtifact is returned when a platform has no ELF to package.
	ErrMissingArtifact = errors.New("ELF file not found")
	// ErrUnencodableName is returned for an asset whose path a USTAR header cannot hold.
	ErrUnencodableName = errors.New("asset name is not ASCII")
	// errNoPlatforms is returned when there is nothing to package.
	errNoPlatforms = errors.New("no platforms to package")
)

// Packager produces package archives inside a project.
type Packager struct {
	// cfg supplies the project directory.
	cfg *config.Config
	// console receives packaging status lines.
	console *console.Printer
}

// New creates a Packager.
func New(cfg *config.Config, printer *console.Printer) *Packager {
	return &Packager{
		cfg:     cfg,
		console: printer,
	}
}

// Package stages the inputs and writes the archive, reporting progress on the console.
func (p *Packager) Package(ctx context.Context, platforms []string) (string, error) {
	ctx = logger.WithName(ctx, "packager")

	status := fmt.Sprintf("Building package with %v", platforms)
	p.console.Busy("%s", status)

	path, err := p.BuildArchive(ctx, platforms)
	if err != nil {
		p.console.Failure("Building package failed: %v", err)
		return "", err
	}

	p.console.Success("%s", status)

	return path, nil
}

// AssembleIntermediate recreates the staging directory and fills it with the
// manifest, every platform's ELF as elf/{platform}.elf and the assets tree.
func (p *Packager) AssembleIntermediate(ctx context.Context, platforms []string) (string, error) {
	assets := p.cfg.ProjectPath(assetsDir)
	info, err := os.Stat(assets)
	hasAssets := err == nil && info.IsDir()

	if hasAssets {
		name, scanErr := firstNonASCIIName(assets)
		if scanErr != nil {
			return "", fmt.Errorf("%w: scan assets: %w", ErrPackaging, scanErr)
		}

		if name != "" {
			p.console.Error("Asset %s cannot be packaged: file names must be ASCII", name)
			return "", fmt.Errorf("%w: %w: %s", ErrPackaging, ErrUnencodableName, name)
		}
	}

	staging := p.cfg.ProjectPath(IntermediateDir)

	if err := os.RemoveAll(staging); err != nil {
		return "", fmt.Errorf("%w: clear staging directory: %w", ErrPackaging, err)
	}

	if err := os.MkdirAll(filepath.Join(staging, elfDir), config.DefaultDirPermissions); err != nil {
		return "", fmt.Errorf("%w: create staging directory: %w", ErrPackaging, err)
	}

	if err := copyFile(p.cfg.ProjectPath(manifest.Filename), filepath.Join(staging, manifest.Filename)); err != nil {
		return "", fmt.Errorf("%w: copy manifest: %w", ErrPackaging, err)
	}

	for _, platform := range platforms {
		artifact, ok := build.FindArtifact(p.cfg.ProjectDir, platform)
		if !ok {
			return "", fmt.Errorf("%w: %w for %s", ErrPackaging, ErrMissingArtifact, platform)
		}

		if err := copyFile(artifact, filepath.Join(staging, elfDir, platform+".elf")); err != nil {
			return "", fmt.Errorf("%w: copy %s ELF: %w", ErrPackaging, platform, err)
		}
	}

	if hasAssets {
		if err := copyTree(assets, filepath.Join(staging, assetsDir)); err != nil {
			return "", fmt.Errorf("%w: copy assets: %w", ErrPackaging, err)
		}
	}

	logger.DebugKV(ctx, "Staged package inputs", "path", staging)

	return staging, nil
}

// PackageName returns build/{base}.app, where base is the first platform's
// ELF file name without its .app.elf suffix.
func (p *Packager) PackageName(platforms []string) (string, error) {
	if len(platforms) == 0 {
		return "", fmt.Errorf("%w: %w", ErrPackaging, errNoPlatforms)
	}

	artifact, ok := build.FindArtifact(p.cfg.ProjectDir, platforms[0])
	if !ok {
		return "", fmt.Errorf("%w: %w for %s", ErrPackaging, ErrMissingArtifact, platforms[0])
	}

	base := strings.TrimSuffix(filepath.Base(artifact), build.ArtifactSuffix)

	return p.cfg.ProjectPath("build", base+Extension), nil
}

// BuildArchive stages the inputs and tars them into the package path. The
// archive appears only once complete.
func (p *Packager) BuildArchive(ctx context.Context, platforms []string) (string, error) {
	target, err := p.PackageName(platforms)
	if err != nil {
		return "", err
	}

	staging, err := p.AssembleIntermediate(ctx, platforms)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: create archive: %w", ErrPackaging, err)
	}

	tmpName := tmp.Name()

	defer func() {
		_ = os.Remove(tmpName)
	}()

	err = writeTar(tmp, staging)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return "", fmt.Errorf("%w: write archive: %w", ErrPackaging, err)
	}

	if err = os.Chmod(tmpName, config.DefaultFilePermissions); err != nil {
		return "", fmt.Errorf("%w: %w", ErrPackaging, err)
	}

	if err = os.Rename(tmpName, target); err != nil {
		return "", fmt.Errorf("%w: move archive into place: %w", ErrPackaging, err)
	}

	if info, statErr := os.Stat(target); statErr == nil {
		logger.InfoKV(ctx, "Package written", "path", target, "size", humanize.Bytes(uint64(info.Size()))) //nolint:gosec // Size is never negative.
	}

	return target, nil
}

// writeTar writes the contents of root, without root itself, in lexical order.
func writeTar(w io.Writer, root string) error {
	tw := tar.NewWriter(w)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		header := &tar.Header{
			Name:    filepath.ToSlash(rel),
			Mode:    int64(info.Mode().Perm()),
			ModTime: info.ModTime().Truncate(time.Second),
			Format:  tar.FormatUSTAR,
		}

		switch {
		case entry.IsDir():
			header.Typeflag = tar.TypeDir
			header.Name += "/"
		case info.Mode().IsRegular():
			header.Typeflag = tar.TypeReg
			header.Size = info.Size()
		default:
			return nil
		}

		if err = tw.WriteHeader(header); err != nil {
			return fmt.Errorf("write header %s: %w", header.Name, err)
		}

		if header.Typeflag != tar.TypeReg {
			return nil
		}

		return copyInto(tw, path)
	})
	if err != nil {
		return err
	}

	return tw.Close()
}

func copyInto(w io.Writer, path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = f.Close()
	}()

	_, err = io.Copy(w, f)

	return err
}

func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	return err
}

// firstNonASCIIName returns the archive path of the first entry under the
// assets directory that is not plain ASCII, or "" when all are.
func firstNonASCIIName(root string) (string, error) {
	var found string

	err := filepath.WalkDir(root, func(path string, _ fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(filepath.Dir(root), path)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(rel)
		for i := 0; i < len(name); i++ {
			if name[i] >= utf8.RuneSelf {
				found = name
				return fs.SkipAll
			}
		}

		return nil
	})

	return found, err
}

// copyTree copies regular files and directories from src into dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}

		target := filepath.Join(dst, rel)

		if entry.IsDir() {
			return os.MkdirAll(target, config.DefaultDirPermissions)
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		return copyFile(path, target)
	})
}
