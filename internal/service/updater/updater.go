package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	goupdate "github.com/doitdistributed/go-update"
	"github.com/dustin/go-humanize"

	"github.com/tactilityproject/ttbuild/internal/domain/tool"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/service/common"
)

// DefaultFileMode is used when the target does not exist yet.
const DefaultFileMode os.FileMode = 0o755

var (
	// ErrUpdateFailed wraps every failure of the self update.
	ErrUpdateFailed = errors.New("update failed")
	// errEmptyDownload is returned when the published executable is empty.
	errEmptyDownload = errors.New("downloaded executable is empty")
	// errNoDownloadURL is returned when the metadata has no download URL.
	errNoDownloadURL = errors.New("tool metadata has no download URL")
)

// Fetcher downloads a document.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Updater applies self updates.
type Updater struct {
	// fetcher downloads the new executable.
	fetcher Fetcher
	// targetPath is the executable to replace; empty means the running one.
	targetPath string
}

// Option configures an Updater.
type Option func(*Updater)

// WithTargetPath replaces a different file than the running executable.
func WithTargetPath(path string) Option {
	return func(u *Updater) {
		u.targetPath = path
	}
}

// New creates an Updater.
func New(fetcher Fetcher, opts ...Option) *Updater {
	u := &Updater{fetcher: fetcher}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// Apply downloads meta.DownloadURL and atomically swaps it in for the target executable.
func (u *Updater) Apply(ctx context.Context, meta *tool.Metadata) error {
	ctx = logger.WithName(ctx, "updater")

	if meta == nil || meta.DownloadURL == "" {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, errNoDownloadURL)
	}

	target, err := u.resolveTarget()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	logger.InfoKV(ctx, "Downloading tool", "url", meta.DownloadURL, "version", meta.Version)

	data, err := u.fetcher.Fetch(ctx, meta.DownloadURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	if len(data) == 0 {
		return fmt.Errorf("%w: %w", ErrUpdateFailed, errEmptyDownload)
	}

	mode := DefaultFileMode
	if info, statErr := os.Stat(target); statErr == nil {
		mode = info.Mode().Perm()
	}

	logger.DebugKV(ctx, "Applying update", "path", target, "size", humanize.Bytes(uint64(len(data))))

	err = goupdate.Apply(bytes.NewReader(data), goupdate.Options{
		TargetPath: target,
		TargetMode: mode,
	})
	if err != nil {
		if rollbackErr := goupdate.RollbackError(err); rollbackErr != nil {
			logger.ErrorKV(ctx, "Rollback failed, executable may be missing", "path", target, "error", rollbackErr)
		}

		return fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	// On Windows the previous executable is only hidden while it runs.
	_ = os.Remove(filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".old"))

	logger.InfoKV(ctx, "Tool updated", "path", target, "version", meta.Version)

	return nil
}

func (u *Updater) resolveTarget() (string, error) {
	if u.targetPath != "" {
		return filepath.Abs(u.targetPath)
	}

	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}

	return filepath.EvalSymlinks(exe)
}

var _ Fetcher = (*common.Downloader)(nil)
