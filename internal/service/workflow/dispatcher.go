package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/domain/manifest"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/repository/metadata"
	"github.com/tactilityproject/ttbuild/internal/service/build"
	"github.com/tactilityproject/ttbuild/internal/service/common"
	"github.com/tactilityproject/ttbuild/internal/service/device"
	"github.com/tactilityproject/ttbuild/internal/service/packager"
	"github.com/tactilityproject/ttbuild/internal/service/sdk"
	"github.com/tactilityproject/ttbuild/internal/service/updater"
)

// IdfPathEnv must point at an activated ESP-IDF installation to build.
const IdfPathEnv = "IDF_PATH"

var (
	// ErrEnvironment is returned when the build environment is incomplete.
	ErrEnvironment = errors.New("invalid environment")
	// ErrManifestNotFound is returned when the project has no manifest.properties.
	ErrManifestNotFound = errors.New(manifest.Filename + " not found")
	// ErrDevice wraps failed device actions.
	ErrDevice = errors.New("device action failed")
)

// Dispatcher runs ttbuild actions for one project.
type Dispatcher struct {
	// cfg is the validated run configuration.
	cfg *config.Config
	// console receives user-facing status lines.
	console *console.Printer
	// sdks resolves SDKs and tool metadata.
	sdks *sdk.Manager
	// builder drives the build tool.
	builder *build.Orchestrator
	// packager writes the .app archive.
	packager *packager.Packager
	// updater replaces the running executable.
	updater *updater.Updater
	// lookupEnv reads the process environment.
	lookupEnv func(string) (string, bool)
	// deviceOptions are appended to every device client.
	deviceOptions []device.Option
}

// Option configures a Dispatcher.
type Option func(*dispatcherOptions)

type dispatcherOptions struct {
	lookupEnv     func(string) (string, bool)
	buildOptions  []build.Option
	updateOptions []updater.Option
	deviceOptions []device.Option
	downloader    []common.DownloadOption
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(o *dispatcherOptions) {
		if lookup != nil {
			o.lookupEnv = lookup
		}
	}
}

// WithBuildOptions configures the build orchestrator.
func WithBuildOptions(opts ...build.Option) Option {
	return func(o *dispatcherOptions) {
		o.buildOptions = append(o.buildOptions, opts...)
	}
}

// WithUpdaterOptions configures the self updater.
func WithUpdaterOptions(opts ...updater.Option) Option {
	return func(o *dispatcherOptions) {
		o.updateOptions = append(o.updateOptions, opts...)
	}
}

// WithDownloadOptions configures the CDN downloader.
func WithDownloadOptions(opts ...common.DownloadOption) Option {
	return func(o *dispatcherOptions) {
		o.downloader = append(o.downloader, opts...)
	}
}

// WithDeviceOptions configures every device client.
func WithDeviceOptions(opts ...device.Option) Option {
	return func(o *dispatcherOptions) {
		o.deviceOptions = append(o.deviceOptions, opts...)
	}
}

// New wires the services for cfg, which must already be validated.
func New(cfg *config.Config, printer *console.Printer, opts ...Option) (*Dispatcher, error) {
	options := &dispatcherOptions{lookupEnv: os.LookupEnv}
	for _, opt := range opts {
		opt(options)
	}

	downloader := common.NewDownloader(append([]common.DownloadOption{
		common.WithTimeout(cfg.DownloadTimeout),
	}, options.downloader...)...)

	repo := metadata.NewFileRepository(cfg.CachePath(metadata.Filename))
	sdks := sdk.NewManager(cfg, downloader, repo, printer)

	builder, err := build.NewOrchestrator(cfg, sdks, printer, options.buildOptions...)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		cfg:       cfg,
		console:   printer,
		sdks:      sdks,
		builder:   builder,
		packager:  packager.New(cfg, printer),
		updater:   updater.New(downloader, options.updateOptions...),
		lookupEnv: options.lookupEnv,
		deviceOptions: append([]device.Option{
			device.WithPort(cfg.DevicePort),
			device.WithCallTimeout(cfg.HTTPTimeout),
		}, options.deviceOptions...),
	}, nil
}

// Manifest loads the project manifest.
func (d *Dispatcher) Manifest() (*manifest.Manifest, error) {
	path := d.cfg.ProjectPath(manifest.Filename)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		d.console.Error("%s not found", manifest.Filename)
		return nil, ErrManifestNotFound
	}

	m, err := manifest.Load(path)
	if err != nil {
		d.console.Error("%v", err)
		return nil, err
	}

	return m, nil
}

// platforms returns the manifest platforms to act on.
func (d *Dispatcher) platforms(m *manifest.Manifest, requested string) ([]string, error) {
	platforms, err := m.TargetPlatforms(requested)
	if err != nil {
		d.console.Error("Platform %s is not available in the manifest. Available: %v", requested, m.Platforms)
		return nil, err
	}

	return platforms, nil
}

// lock claims the project for the duration of an action.
func (d *Dispatcher) lock(ctx context.Context) (*common.ProjectLock, error) {
	lock, err := common.AcquireLock(ctx, d.cfg.ProjectPath("build", common.LockFilename))
	if err != nil {
		if errors.Is(err, common.ErrProjectBusy) {
			d.console.Error("%v", err)
		}

		return nil, err
	}

	return lock, nil
}

func (d *Dispatcher) release(ctx context.Context, lock *common.ProjectLock) {
	if err := lock.Release(); err != nil {
		logger.WarnKV(ctx, "Release project lock", "error", err)
	}
}

func (d *Dispatcher) device(host string) (*device.Client, error) {
	client, err := device.New(host, d.deviceOptions...)
	if err != nil {
		d.console.Error("%v", err)
		return nil, err
	}

	return client, nil
}

// wrapDevice prints the failure of a device action and tags the error.
func (d *Dispatcher) wrapDevice(action string, err error) error {
	switch {
	case errors.Is(err, device.ErrUnexpectedStatus):
		d.console.Failure("%s failed", action)
	default:
		d.console.Failure("%s request failed: %v", action, err)
	}

	return fmt.Errorf("%w: %s: %w", ErrDevice, action, err)
}
