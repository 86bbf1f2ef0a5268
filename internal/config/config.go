package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tactilityproject/ttbuild/internal/logger"
)

// Config is the immutable run configuration threaded through every component.
// It is built once per invocation by Load/Default, ApplyEnv and Validate.
type Config struct {
	// ProjectDir is the app project root holding manifest.properties.
	ProjectDir string `yaml:"project_dir"`
	// CacheDir is the tool-owned cache root. Relative paths are resolved against ProjectDir.
	CacheDir string `yaml:"cache_dir"`
	// CDNURL is the base URL serving tool metadata, SDK indexes, SDK archives and sdkconfig files.
	CDNURL string `yaml:"cdn_url"`
	// DevicePort is the control port of the device HTTP API.
	DevicePort int `yaml:"device_port"`
	// HTTPTimeout bounds each device request.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// DownloadTimeout bounds each CDN download.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// MetadataTTL is how long the cached tool metadata stays fresh.
	MetadataTTL time.Duration `yaml:"metadata_ttl"`
	// BuildTool is the external build executable.
	BuildTool string `yaml:"build_tool"`
	// FirstBuildOracle selects how a first build is judged: OracleArtifact or OracleExitCode.
	FirstBuildOracle string `yaml:"first_build_oracle"`
	// LocalSDKPath is the base directory of locally provided SDKs. Relative paths are resolved against ProjectDir.
	LocalSDKPath string `yaml:"local_sdk_path"`
	// UseLocalSDK switches SDK resolution to LocalSDKPath. Set from the command line only.
	UseLocalSDK bool `yaml:"-"`
	// SkipBuild performs build setup without invoking BuildTool. Set from the command line only.
	SkipBuild bool `yaml:"-"`
	// LogLevel is the zap level of diagnostic logs: debug, info, warn or error.
	LogLevel string `yaml:"log_level"`
	// Verbose enables debug logging and echoes build tool output. It overrides LogLevel.
	Verbose bool `yaml:"verbose"`
}

const (
	// DefaultConfigFilename is the optional per-project settings file.
	DefaultConfigFilename = "ttbuild.yaml"

	// DefaultCacheDir is the cache root inside the project.
	DefaultCacheDir = ".tactility"

	// DefaultCDNURL serves SDKs and tool metadata.
	DefaultCDNURL = "https://cdn.tactilityproject.org"

	// DefaultDevicePort is the device control port.
	DefaultDevicePort = 6666

	// DefaultHTTPTimeout bounds device requests.
	DefaultHTTPTimeout = 10 * time.Second

	// DefaultDownloadTimeout bounds CDN downloads.
	DefaultDownloadTimeout = 30 * time.Second

	// DefaultMetadataTTL is the freshness window of the cached tool metadata.
	DefaultMetadataTTL = 3600 * time.Second

	// DefaultBuildTool is the ESP-IDF front-end.
	DefaultBuildTool = "idf.py"

	// DefaultLogLevel is the level of diagnostic logs.
	DefaultLogLevel = "info"

	// OracleArtifact judges a first build by the presence of the ELF artifact.
	OracleArtifact = "artifact"

	// OracleExitCode judges a first build by the tool's exit code.
	OracleExitCode = "exit-code"

	// LocalSDKEnv names the environment variable with the local SDK base path.
	LocalSDKEnv = "TACTILITY_SDK_PATH"

	// DefaultFilePermissions is used for files written by the tool.
	DefaultFilePermissions = 0o644

	// DefaultDirPermissions is used for directories created by the tool.
	DefaultDirPermissions = 0o755

	maxPort = 65535
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnsupportedScheme is returned for CDN URLs that are not http(s).
	errUnsupportedScheme = errors.New("unsupported URL scheme")
	// errUnknownOracle is returned for an unknown first_build_oracle value.
	errUnknownOracle = errors.New("unknown first build oracle")
	// errUnknownLogLevel is returned for a log_level zap does not know.
	errUnknownLogLevel = errors.New("unknown log level")
	// errInvalidPort is returned for ports outside 1..65535.
	errInvalidPort = errors.New("invalid device port")

	// ErrLocalSDKPathRequired is returned when local SDK mode has no base path.
	ErrLocalSDKPathRequired = errors.New("local SDK requested, but " + LocalSDKEnv + " is not set")
)

// Default returns a configuration with every field at its default.
func Default() *Config {
	return &Config{
		ProjectDir:       ".",
		CacheDir:         DefaultCacheDir,
		CDNURL:           DefaultCDNURL,
		DevicePort:       DefaultDevicePort,
		HTTPTimeout:      DefaultHTTPTimeout,
		DownloadTimeout:  DefaultDownloadTimeout,
		MetadataTTL:      DefaultMetadataTTL,
		BuildTool:        DefaultBuildTool,
		FirstBuildOracle: OracleArtifact,
		LogLevel:         DefaultLogLevel,
	}
}

// Load reads configuration from the provided path on top of the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	cfg := Default()
	if err = yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault behaves like Load but returns defaults when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes cfg to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// ApplyEnv fills LocalSDKPath from the environment when the file left it empty.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg.LocalSDKPath != "" {
		return
	}

	if value, ok := lookup(LocalSDKEnv); ok {
		cfg.LocalSDKPath = value
	}
}

// Validate fills zero values with defaults and checks the remaining fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	applyDefaults(cfg)

	parsed, err := url.ParseRequestURI(cfg.CDNURL)
	if err != nil {
		return fmt.Errorf("invalid CDN URL: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: %s", errUnsupportedScheme, parsed.Scheme)
	}

	if cfg.DevicePort <= 0 || cfg.DevicePort > maxPort {
		return fmt.Errorf("%w: %d", errInvalidPort, cfg.DevicePort)
	}

	switch cfg.FirstBuildOracle {
	case OracleArtifact, OracleExitCode:
	default:
		return fmt.Errorf("%w: %q", errUnknownOracle, cfg.FirstBuildOracle)
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errUnknownLogLevel, cfg.LogLevel)
	}

	if cfg.UseLocalSDK && cfg.LocalSDKPath == "" {
		return ErrLocalSDKPathRequired
	}

	return nil
}

func applyDefaults(cfg *Config) {
	defaults := Default()

	if cfg.ProjectDir == "" {
		cfg.ProjectDir = defaults.ProjectDir
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = defaults.CacheDir
	}

	if cfg.CDNURL == "" {
		cfg.CDNURL = defaults.CDNURL
	}

	if cfg.DevicePort == 0 {
		cfg.DevicePort = defaults.DevicePort
	}

	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaults.HTTPTimeout
	}

	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = defaults.DownloadTimeout
	}

	if cfg.MetadataTTL <= 0 {
		cfg.MetadataTTL = defaults.MetadataTTL
	}

	if cfg.BuildTool == "" {
		cfg.BuildTool = defaults.BuildTool
	}

	if cfg.FirstBuildOracle == "" {
		cfg.FirstBuildOracle = defaults.FirstBuildOracle
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
}

// ProjectPath joins elems onto the project directory.
func (c *Config) ProjectPath(elems ...string) string {
	return filepath.Join(append([]string{c.ProjectDir}, elems...)...)
}

// CachePath joins elems onto the cache root.
func (c *Config) CachePath(elems ...string) string {
	return c.underProject(c.CacheDir, elems...)
}

// LocalSDKDir joins elems onto the local SDK base path.
func (c *Config) LocalSDKDir(elems ...string) string {
	return c.underProject(c.LocalSDKPath, elems...)
}

// underProject resolves a relative root against ProjectDir before joining elems.
func (c *Config) underProject(root string, elems ...string) string {
	if !filepath.IsAbs(root) {
		root = filepath.Join(c.ProjectDir, root)
	}

	return filepath.Join(append([]string{root}, elems...)...)
}
