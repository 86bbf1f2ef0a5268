//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/logger"
)

// LockFilename is the lock file name inside the project's build directory.
const LockFilename = ".ttbuild.lock"

// ErrProjectBusy is returned when another running ttbuild owns the project.
var ErrProjectBusy = errors.New("another ttbuild instance is working on this project")

// ProjectLock marks a project directory as owned by this process.
type ProjectLock struct {
	path string
}

// lockAttempts bounds how often a stale lock is removed before giving up.
const lockAttempts = 3

// AcquireLock claims the lock file at path. The file is created exclusively,
// so of two racing invocations only one wins. A lock left behind by a process
// that no longer runs is considered stale, removed and claimed again.
func AcquireLock(ctx context.Context, path string) (*ProjectLock, error) {
	path = filepath.Clean(path)
	self := os.Getpid()

	if err := os.MkdirAll(filepath.Dir(path), config.DefaultDirPermissions); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	for attempt := 0; attempt < lockAttempts; attempt++ {
		err := createLock(path, self)
		if err == nil {
			return &ProjectLock{path: path}, nil
		}

		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("write lock: %w", err)
		}

		contents, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("read lock: %w", err)
		}

		// The owner creates the file and then writes its PID in one call.
		if len(bytes.TrimSpace(contents)) == 0 {
			return nil, fmt.Errorf("%w (lock %s)", ErrProjectBusy, path)
		}

		if owner, ok := parseOwner(contents); ok {
			alive := owner == self
			if !alive {
				if alive, err = isProcessRunning(owner); err != nil {
					return nil, fmt.Errorf("inspect lock owner: %w", err)
				}
			}

			if alive {
				return nil, fmt.Errorf("%w (pid %d, lock %s)", ErrProjectBusy, owner, path)
			}

			logger.InfoKV(ctx, "Taking over stale project lock", "path", path, "pid", owner)
		} else {
			logger.InfoKV(ctx, "Taking over unreadable project lock", "path", path)
		}

		if err = os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	}

	return nil, fmt.Errorf("%w (lock %s)", ErrProjectBusy, path)
}

// createLock creates path exclusively and records pid in it.
func createLock(path string, pid int) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	_, err = f.WriteString(strconv.Itoa(pid))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("record owner: %w", err)
	}

	return nil
}

// Release removes the lock file. Releasing a nil lock is a no-op.
func (l *ProjectLock) Release() error {
	if l == nil {
		return nil
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove lock: %w", err)
	}

	return nil
}

// parseOwner returns the PID recorded in the lock file contents.
func parseOwner(contents []byte) (int, bool) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 {
		return 0, false
	}

	return pid, true
}

// isProcessRunning looks pid up in the process table.
func isProcessRunning(pid int) (bool, error) {
	process, err := ps.FindProcess(pid)
	if err != nil {
		return false, err
	}

	return process != nil, nil
}
