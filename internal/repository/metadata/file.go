package metadata

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/domain/tool"
)

// Filename is the cache file name inside the cache root.
const Filename = "tool.json"

// Repository defines persistence operations for the cached tool metadata.
type Repository interface {
	IsFresh(ctx context.Context, ttl time.Duration) bool
	Load(ctx context.Context) (*tool.Metadata, error)
	Save(ctx context.Context, raw []byte) error
}

// FileRepository stores tool.json verbatim on disk.
type FileRepository struct {
	// path is the filesystem location of the cached document.
	path string
	// now is the clock used for freshness checks.
	now func() time.Time
	// mu serializes reads and writes of the cache file.
	mu sync.Mutex
}

// ErrNotFound is returned when nothing has been cached yet.
var ErrNotFound = errors.New("tool metadata not cached")

// NewFileRepository creates a repository backed by the file at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
		now:  time.Now,
	}
}

// Path returns the cache file location.
func (r *FileRepository) Path() string {
	return r.path
}

// IsFresh reports whether the cache file exists and was written less than ttl ago.
func (r *FileRepository) IsFresh(_ context.Context, ttl time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	info, err := os.Stat(r.path)
	if err != nil {
		return false
	}

	return r.now().Sub(info.ModTime()) <= ttl
}

// Load parses the cached document.
func (r *FileRepository) Load(_ context.Context) (*tool.Metadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read tool metadata: %w", err)
	}

	return tool.Parse(contents)
}

// Save replaces the cached document, refreshing its modification time.
func (r *FileRepository) Save(_ context.Context, raw []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), config.DefaultDirPermissions); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	if err := os.WriteFile(r.path, raw, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write tool metadata: %w", err)
	}

	return nil
}
