package manifest

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/ini.v1"
)

// Filename is the manifest file name at the project root.
const Filename = "manifest.properties"

var (
	// ErrInvalidManifest is returned when a required section or key is missing.
	ErrInvalidManifest = errors.New("invalid manifest format")
	// ErrUnknownPlatform is returned when a requested platform is not listed in the manifest.
	ErrUnknownPlatform = errors.New("platform is not available in the manifest")
)

// Manifest describes app identity, version and target platforms.
type Manifest struct {
	// ManifestVersion is the format version from [manifest] version.
	ManifestVersion string
	// SDKVersion is the Tactility SDK version from [target] sdk.
	SDKVersion string
	// Platforms lists the target platforms from [target] platforms, in file order.
	Platforms []string
	// AppID is the unique app identifier from [app] id.
	AppID string
	// AppName is the display name from [app] name.
	AppName string
	// VersionName is the human readable app version.
	VersionName string
	// VersionCode is the monotonically increasing app version.
	VersionCode string
}

// requiredKeys lists section/key pairs in the order they are validated.
//
//nolint:gochecknoglobals // Read-only lookup table.
var requiredKeys = []struct {
	section string
	key     string
}{
	{"manifest", "version"},
	{"target", "sdk"},
	{"target", "platforms"},
	{"app", "id"},
	{"app", "versionName"},
	{"app", "versionCode"},
	{"app", "name"},
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return fromFile(file)
}

// Parse validates a manifest held in memory.
func Parse(data []byte) (*Manifest, error) {
	file, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, data)
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return fromFile(file)
}

func fromFile(file *ini.File) (*Manifest, error) {
	for _, required := range requiredKeys {
		section, err := file.GetSection(required.section)
		if err != nil {
			return nil, fmt.Errorf("%w: [%s] not found", ErrInvalidManifest, required.section)
		}

		if !section.HasKey(required.key) {
			return nil, fmt.Errorf("%w: [%s] %s not found", ErrInvalidManifest, required.section, required.key)
		}
	}

	value := func(section, key string) string {
		return strings.TrimSpace(file.Section(section).Key(key).String())
	}

	m := &Manifest{
		ManifestVersion: value("manifest", "version"),
		SDKVersion:      value("target", "sdk"),
		Platforms:       splitPlatforms(value("target", "platforms")),
		AppID:           value("app", "id"),
		AppName:         value("app", "name"),
		VersionName:     value("app", "versionName"),
		VersionCode:     value("app", "versionCode"),
	}

	if len(m.Platforms) == 0 {
		return nil, fmt.Errorf("%w: [target] platforms is empty", ErrInvalidManifest)
	}

	return m, nil
}

func splitPlatforms(raw string) []string {
	parts := strings.Split(raw, ",")
	platforms := make([]string, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || slices.Contains(platforms, part) {
			continue
		}

		platforms = append(platforms, part)
	}

	return platforms
}

// HasPlatform reports whether platform is listed in the manifest.
func (m *Manifest) HasPlatform(platform string) bool {
	return slices.Contains(m.Platforms, platform)
}

// TargetPlatforms returns every manifest platform, or only requested when it is set.
func (m *Manifest) TargetPlatforms(requested string) ([]string, error) {
	if requested == "" {
		return slices.Clone(m.Platforms), nil
	}

	if !m.HasPlatform(requested) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, requested)
	}

	return []string{requested}, nil
}
