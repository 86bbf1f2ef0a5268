package sdk

import (
	"errors"

	"github.com/tactilityproject/ttbuild/internal/domain/tool"
)

var (
	// ErrNetwork wraps every failed CDN request. It is recoverable: the caller aborts the action.
	ErrNetwork = errors.New("network request failed")
	// ErrSdkNotFound is returned when a local SDK directory does not exist.
	ErrSdkNotFound = errors.New("SDK folder not found")
	// ErrPlatformNotInIndex is returned when the SDK index lacks the requested platform.
	ErrPlatformNotInIndex = errors.New("platform not found in SDK index")
	// ErrInvalidIndex is returned when the SDK index is not a valid document.
	ErrInvalidIndex = errors.New("invalid SDK index")
	// ErrUnsafeArchive is returned when an archive entry would be written outside its target directory.
	ErrUnsafeArchive = errors.New("archive entry escapes target directory")
)

// IsFatal reports whether err leaves the tool without a sane way to continue.
// Fatal errors come from malformed or incompatible remote data, a missing
// local SDK or an unsafe archive; network errors are not fatal.
func IsFatal(err error) bool {
	for _, fatal := range []error{
		tool.ErrInvalidFormat,
		tool.ErrIncompatible,
		ErrSdkNotFound,
		ErrPlatformNotInIndex,
		ErrInvalidIndex,
		ErrUnsafeArchive,
	} {
		if errors.Is(err, fatal) {
			return true
		}
	}

	return false
}
