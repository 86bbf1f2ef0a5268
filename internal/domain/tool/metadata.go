package tool

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidFormat is returned when the metadata document is malformed.
	ErrInvalidFormat = errors.New("invalid tool metadata format")
	// ErrIncompatible is returned when the local tool no longer matches the compatibility pattern.
	ErrIncompatible = errors.New("the tool is not compatible anymore")
)

// Metadata is the tool.json document.
type Metadata struct {
	// Version is the latest published tool version.
	Version string
	// Compatibility is a regular expression the local tool version must match.
	Compatibility string
	// DownloadURL points at the latest tool release.
	DownloadURL string
}

// Parse decodes tool.json, requiring every known key.
func Parse(data []byte) (*Metadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}

	m := new(Metadata)

	fields := []struct {
		key string
		dst *string
	}{
		{"toolVersion", &m.Version},
		{"toolCompatibility", &m.Compatibility},
		{"toolDownloadUrl", &m.DownloadURL},
	}

	for _, field := range fields {
		value, ok := raw[field.key]
		if !ok {
			return nil, fmt.Errorf("%w: %s not found", ErrInvalidFormat, field.key)
		}

		if err := json.Unmarshal(value, field.dst); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidFormat, field.key, err)
		}
	}

	return m, nil
}

// Check matches localVersion against the compatibility pattern.
// It reports whether a different (newer) version is published; a mismatch alone
// is not an error.
func (m *Metadata) Check(localVersion string) (bool, error) {
	pattern, err := regexp.Compile(m.Compatibility)
	if err != nil {
		return false, fmt.Errorf("%w: toolCompatibility: %w", ErrInvalidFormat, err)
	}

	if !pattern.MatchString(localVersion) {
		return false, fmt.Errorf("%w: %s does not match %q", ErrIncompatible, localVersion, m.Compatibility)
	}

	return m.Version != localVersion, nil
}
