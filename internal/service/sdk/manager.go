package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/domain/tool"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/repository/metadata"
	"github.com/tactilityproject/ttbuild/internal/service/common"
	"github.com/tactilityproject/ttbuild/internal/version"
)

const (
	// DirName is the SDK directory inside each {version}-{platform} folder.
	DirName = "TactilitySDK"

	indexFilename      = "index.json"
	stagingSuffix      = ".partial"
	sdkConfigPrefix    = "sdkconfig.app."
	toolMetadataFolder = "sdk"
)

// Manager resolves SDK directories and tool metadata.
type Manager struct {
	// cfg is the run configuration; never modified.
	cfg *config.Config
	// downloader fetches everything from the CDN.
	downloader *common.Downloader
	// metadata caches tool.json.
	metadata metadata.Repository
	// console receives user-facing status lines.
	console *console.Printer
	// toolVersion is the local tool version checked against the CDN metadata.
	toolVersion string
}

// Option configures a Manager.
type Option func(*Manager)

// WithToolVersion overrides the local tool version (defaults to version.Short()).
func WithToolVersion(v string) Option {
	return func(m *Manager) {
		if v != "" {
			m.toolVersion = v
		}
	}
}

// NewManager creates a Manager.
func NewManager(
	cfg *config.Config,
	downloader *common.Downloader,
	repo metadata.Repository,
	printer *console.Printer,
	opts ...Option,
) *Manager {
	m := &Manager{
		cfg:         cfg,
		downloader:  downloader,
		metadata:    repo,
		console:     printer,
		toolVersion: version.Short(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// ResolveToolMetadata returns the tool metadata, refreshing the cache when it
// is missing or older than the configured TTL, and checks that the local tool
// is still compatible.
func (m *Manager) ResolveToolMetadata(ctx context.Context) (*tool.Metadata, error) {
	meta, err := m.LoadToolMetadata(ctx)
	if err != nil {
		return nil, err
	}

	if meta.Version != m.toolVersion {
		m.console.Warning("New version available: %s (currently using %s)", meta.Version, m.toolVersion)
		m.console.Warning("Run 'ttbuild updateself' to update.")
	}

	if _, err = meta.Check(m.toolVersion); err != nil {
		if errors.Is(err, tool.ErrIncompatible) {
			m.console.Error("The tool is not compatible anymore.")
			m.console.Error("Run 'ttbuild updateself' to update.")
		} else {
			m.console.Error("Server returned invalid SDK data format: %v", err)
		}

		return nil, err
	}

	return meta, nil
}

// LoadToolMetadata returns the cached tool metadata, refreshing it when stale,
// without checking compatibility. updateself relies on it to recover an
// incompatible installation.
func (m *Manager) LoadToolMetadata(ctx context.Context) (*tool.Metadata, error) {
	if !m.metadata.IsFresh(ctx, m.cfg.MetadataTTL) {
		if err := m.refreshToolMetadata(ctx); err != nil {
			return nil, err
		}
	}

	meta, err := m.metadata.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tool metadata: %w", err)
	}

	return meta, nil
}

func (m *Manager) refreshToolMetadata(ctx context.Context) error {
	metadataURL, err := m.cdnURL(toolMetadataFolder, metadata.Filename)
	if err != nil {
		return err
	}

	logger.DebugKV(ctx, "Refreshing tool metadata", "url", metadataURL)

	data, err := m.downloader.Fetch(ctx, metadataURL)
	if err != nil {
		m.console.Error("Failed to retrieve SDK info")
		return fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	// A malformed document is never cached, so the next run fetches again.
	if _, err = tool.Parse(data); err != nil {
		m.console.Error("Server returned invalid SDK data format: %v", err)
		return err
	}

	return m.metadata.Save(ctx, data)
}

// ResolveSdkDirectory returns the SDK directory for version and platform.
// In local mode the directory must already exist; otherwise it is downloaded
// into the cache when absent.
func (m *Manager) ResolveSdkDirectory(ctx context.Context, sdkVersion, platform string) (string, error) {
	if m.cfg.UseLocalSDK {
		dir := m.localSdkDir(sdkVersion, platform)
		if !isDir(dir) {
			m.console.Error("Local SDK folder not found for platform %s: %s", platform, dir)
			return "", fmt.Errorf("%w: %s", ErrSdkNotFound, dir)
		}

		return dir, nil
	}

	if _, err := m.EnsureSdkDownloaded(ctx, sdkVersion, platform); err != nil {
		return "", err
	}

	return m.cachedSdkDir(sdkVersion, platform), nil
}

// EnsureSdkDownloaded downloads and extracts the SDK unless its cache
// directory already exists. It reports whether a download happened.
func (m *Manager) EnsureSdkDownloaded(ctx context.Context, sdkVersion, platform string) (bool, error) {
	ctx = logger.WithKV(ctx, "sdk_version", sdkVersion, "platform", platform)

	sdkDir := m.cachedSdkDir(sdkVersion, platform)
	if isDir(sdkDir) {
		logger.Debugf(ctx, "Using cached download for SDK version %s and platform %s", sdkVersion, platform)
		return false, nil
	}

	m.console.Println("Downloading SDK version %s for %s", sdkVersion, platform)

	root := m.cfg.CachePath(sdkVersion + "-" + platform)

	indexURL, err := m.cdnURL(toolMetadataFolder, sdkVersion, indexFilename)
	if err != nil {
		return false, err
	}

	indexPath := filepath.Join(root, indexFilename)
	if _, err = m.downloader.FetchToFile(ctx, indexURL, indexPath); err != nil {
		m.console.Error("Failed to download SDK version %s. Check your internet connection and make sure this release exists.", sdkVersion)
		return false, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	archiveName, err := m.lookupArchive(indexPath, sdkVersion, platform)
	if err != nil {
		return false, err
	}

	archiveURL, err := m.cdnURL(toolMetadataFolder, sdkVersion, archiveName)
	if err != nil {
		return false, err
	}

	archivePath := filepath.Join(root, sdkVersion+"-"+platform+".zip")
	if _, err = m.downloader.FetchToFile(ctx, archiveURL, archivePath); err != nil {
		m.console.Error("Failed to download %s to %s", archiveURL, archivePath)
		return false, fmt.Errorf("%w: %w", ErrNetwork, err)
	}

	// The SDK directory's existence is the cache marker, so it only appears
	// once extraction has finished. A staging directory left by a killed run
	// is discarded here.
	staging := filepath.Join(root, DirName+stagingSuffix)
	if err = os.RemoveAll(staging); err != nil {
		return false, fmt.Errorf("clear SDK staging directory: %w", err)
	}

	if err = SafeExtract(archivePath, staging); err != nil {
		_ = os.RemoveAll(staging)

		m.console.Error("Failed to extract SDK archive %s: %v", archivePath, err)

		return false, fmt.Errorf("extract SDK: %w", err)
	}

	if err = os.Rename(staging, sdkDir); err != nil {
		_ = os.RemoveAll(staging)
		return false, fmt.Errorf("move SDK into place: %w", err)
	}

	logger.InfoKV(ctx, "SDK ready", "path", sdkDir)

	return true, nil
}

// EnsureAllSdks makes sure every platform's SDK is in the cache, stopping at the first failure.
func (m *Manager) EnsureAllSdks(ctx context.Context, sdkVersion string, platforms []string) error {
	for _, platform := range platforms {
		if _, err := m.EnsureSdkDownloaded(ctx, sdkVersion, platform); err != nil {
			return err
		}
	}

	return nil
}

// ValidateLocalSdks checks up front that every platform has a local SDK
// directory. It does nothing outside local mode.
func (m *Manager) ValidateLocalSdks(sdkVersion string, platforms []string) error {
	if !m.cfg.UseLocalSDK {
		return nil
	}

	for _, platform := range platforms {
		dir := m.localSdkDir(sdkVersion, platform)
		if !isDir(dir) {
			m.console.Error("Local SDK folder missing for %s: %s", platform, dir)
			return fmt.Errorf("%w: %s", ErrSdkNotFound, dir)
		}
	}

	return nil
}

// SdkConfigPath returns the cached sdkconfig file of platform.
func (m *Manager) SdkConfigPath(platform string) string {
	return m.cfg.CachePath(sdkConfigPrefix + platform)
}

// EnsureSdkConfigs downloads the sdkconfig file of every platform that lacks one.
func (m *Manager) EnsureSdkConfigs(ctx context.Context, platforms []string) error {
	for _, platform := range platforms {
		path := m.SdkConfigPath(platform)
		if _, err := os.Stat(path); err == nil {
			continue
		}

		configURL, err := m.cdnURL(sdkConfigPrefix + platform)
		if err != nil {
			return err
		}

		if _, err = m.downloader.FetchToFile(ctx, configURL, path); err != nil {
			m.console.Error("Failed to download sdkconfig file for %s", platform)
			return fmt.Errorf("%w: %w", ErrNetwork, err)
		}
	}

	return nil
}

// ClearCache removes the cache root. It reports whether anything was removed.
func (m *Manager) ClearCache(ctx context.Context) (bool, error) {
	root := m.cfg.CachePath()
	if _, err := os.Stat(root); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	logger.InfoKV(ctx, "Removing SDK cache", "path", root)

	if err := os.RemoveAll(root); err != nil {
		return false, fmt.Errorf("remove cache: %w", err)
	}

	return true, nil
}

// sdkIndex is the per-version index.json.
type sdkIndex struct {
	Platforms map[string]string `json:"platforms"`
}

func (m *Manager) lookupArchive(indexPath, sdkVersion, platform string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(indexPath))
	if err != nil {
		return "", fmt.Errorf("read SDK index: %w", err)
	}

	var index sdkIndex
	if err = json.Unmarshal(data, &index); err != nil {
		m.console.Error("Invalid SDK index for version %s", sdkVersion)
		return "", fmt.Errorf("%w: %w", ErrInvalidIndex, err)
	}

	// Older indexes map platforms at the top level.
	if index.Platforms == nil {
		_ = json.Unmarshal(data, &index.Platforms)
	}

	archive, ok := index.Platforms[platform]
	if !ok || archive == "" {
		available := make([]string, 0, len(index.Platforms))
		for name := range index.Platforms {
			available = append(available, name)
		}

		slices.Sort(available)
		m.console.Error("Platform %s not found in %v for version %s", platform, available, sdkVersion)

		return "", fmt.Errorf("%w: %s (version %s)", ErrPlatformNotInIndex, platform, sdkVersion)
	}

	return archive, nil
}

func (m *Manager) cachedSdkDir(sdkVersion, platform string) string {
	return m.cfg.CachePath(sdkVersion+"-"+platform, DirName)
}

func (m *Manager) localSdkDir(sdkVersion, platform string) string {
	return m.cfg.LocalSDKDir(sdkVersion+"-"+platform, DirName)
}

func (m *Manager) cdnURL(elems ...string) (string, error) {
	joined, err := url.JoinPath(m.cfg.CDNURL, elems...)
	if err != nil {
		return "", fmt.Errorf("build CDN URL: %w", err)
	}

	return joined, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
