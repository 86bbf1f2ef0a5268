package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/service/build"
)

// Build builds every manifest platform, or only platform when it is set, and
// packages the result unless the tool invocation is skipped.
func (d *Dispatcher) Build(ctx context.Context, platform string) error {
	ctx = logger.WithName(ctx, "build")

	if err := d.validateEnvironment(); err != nil {
		return err
	}

	m, err := d.Manifest()
	if err != nil {
		return err
	}

	platforms, err := d.platforms(m, platform)
	if err != nil {
		return err
	}

	lock, err := d.lock(ctx)
	if err != nil {
		return err
	}

	defer d.release(ctx, lock)

	if err = d.sdks.ValidateLocalSdks(m.SDKVersion, platforms); err != nil {
		return err
	}

	if err = d.sdks.EnsureSdkConfigs(ctx, platforms); err != nil {
		return err
	}

	if !d.cfg.UseLocalSDK {
		if _, err = d.sdks.ResolveToolMetadata(ctx); err != nil {
			return err
		}

		if err = d.sdks.EnsureAllSdks(ctx, m.SDKVersion, platforms); err != nil {
			d.console.Error("Failed to download one or more SDKs")
			return err
		}
	}

	if err = d.builder.BuildAll(ctx, m.SDKVersion, platforms); err != nil {
		return err
	}

	if d.cfg.SkipBuild {
		return nil
	}

	_, err = d.packager.Package(ctx, platforms)

	return err
}

// validateEnvironment checks the variables the build needs.
func (d *Dispatcher) validateEnvironment() error {
	if !d.cfg.SkipBuild {
		if _, ok := d.lookupEnv(IdfPathEnv); !ok {
			export := "$PATH_TO_IDF_SDK/export.sh"
			if runtime.GOOS == "windows" {
				export = "%IDF_PATH%\\export.ps1"
			}

			d.console.Error("Cannot find the Espressif IDF SDK. Ensure it is installed and that it is activated via %s", export)

			return fmt.Errorf("%w: %s is not set", ErrEnvironment, IdfPathEnv)
		}
	}

	_, hasLocalSdk := d.lookupEnv(config.LocalSDKEnv)

	switch {
	case !d.cfg.UseLocalSDK && hasLocalSdk:
		d.console.Warning("%s is set, but will be ignored by this command.", config.LocalSDKEnv)
		d.console.Warning("If you want to use it, use the '--local-sdk' parameter")
	case d.cfg.UseLocalSDK && d.cfg.LocalSDKPath == "":
		d.console.Error("local build was requested, but %s environment variable is not set.", config.LocalSDKEnv)
		return fmt.Errorf("%w: %w", ErrEnvironment, config.ErrLocalSDKPathRequired)
	}

	return nil
}

// Clean removes the project's build directory.
func (d *Dispatcher) Clean(ctx context.Context) error {
	buildDir := d.cfg.ProjectPath("build")
	if _, err := os.Stat(buildDir); errors.Is(err, os.ErrNotExist) {
		d.console.Println("Nothing to clean")
		return nil
	}

	lock, err := d.lock(ctx)
	if err != nil {
		return err
	}

	defer d.release(ctx, lock)

	d.console.Busy("Removing build/")

	if err = os.RemoveAll(buildDir); err != nil {
		d.console.Failure("Removing build/")
		return fmt.Errorf("remove build directory: %w", err)
	}

	d.console.Success("Removed build/")

	return nil
}

// ClearCache removes the SDK cache.
func (d *Dispatcher) ClearCache(ctx context.Context) error {
	lock, err := d.lock(ctx)
	if err != nil {
		return err
	}

	defer d.release(ctx, lock)

	d.console.Busy("Removing %s/", d.cfg.CacheDir)

	removed, err := d.sdks.ClearCache(ctx)
	if err != nil {
		d.console.Failure("Removing %s/", d.cfg.CacheDir)
		return err
	}

	if !removed {
		d.console.Println("Nothing to clear")
		return nil
	}

	d.console.Success("Removed %s/", d.cfg.CacheDir)

	return nil
}

// UpdateSelf replaces the running tool with the published one.
func (d *Dispatcher) UpdateSelf(ctx context.Context) error {
	meta, err := d.sdks.LoadToolMetadata(ctx)
	if err != nil {
		return err
	}

	d.console.Busy("Updating to %s", meta.Version)

	if err = d.updater.Apply(ctx, meta); err != nil {
		d.console.Failure("Update failed: %v", err)
		return err
	}

	d.console.Success("Updated to %s", meta.Version)

	return nil
}

// Info prints the device description.
func (d *Dispatcher) Info(ctx context.Context, host string) error {
	client, err := d.device(host)
	if err != nil {
		return err
	}

	d.console.Busy("Requesting device info")

	info, err := client.Info(ctx)
	if err != nil {
		return d.wrapDevice("Device info", err)
	}

	d.console.Success("Received device info:")

	pretty, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("format device info: %w", err)
	}

	d.console.Println("%s", pretty)

	return nil
}

// Run starts the manifest's app on the device.
func (d *Dispatcher) Run(ctx context.Context, host string) error {
	m, err := d.Manifest()
	if err != nil {
		return err
	}

	client, err := d.device(host)
	if err != nil {
		return err
	}

	d.console.Busy("Running")

	if err = client.Run(ctx, m.AppID); err != nil {
		return d.wrapDevice("Run", err)
	}

	d.console.Success("Running")

	return nil
}

// Install uploads the package to the device. Every platform being installed
// must have been built.
func (d *Dispatcher) Install(ctx context.Context, host, platform string) error {
	m, err := d.Manifest()
	if err != nil {
		return err
	}

	platforms, err := d.platforms(m, platform)
	if err != nil {
		return err
	}

	client, err := d.device(host)
	if err != nil {
		return err
	}

	d.console.Busy("Installing")

	for _, name := range platforms {
		if _, ok := build.FindArtifact(d.cfg.ProjectDir, name); !ok {
			d.console.Failure("ELF file not built for %s", name)
			return fmt.Errorf("%w: ELF file not built for %s", ErrDevice, name)
		}
	}

	archive, err := d.packager.PackageName(platforms)
	if err != nil {
		d.console.Failure("Install file error: %v", err)
		return err
	}

	if err = client.Install(ctx, archive); err != nil {
		return d.wrapDevice("Install", err)
	}

	d.console.Success("Installing")

	return nil
}

// Uninstall removes the manifest's app from the device.
func (d *Dispatcher) Uninstall(ctx context.Context, host string) error {
	m, err := d.Manifest()
	if err != nil {
		return err
	}

	client, err := d.device(host)
	if err != nil {
		return err
	}

	d.console.Busy("Uninstalling")

	if err = client.Uninstall(ctx, m.AppID); err != nil {
		return d.wrapDevice("Uninstall", err)
	}

	d.console.Success("Uninstalled")

	return nil
}

// BuildInstallRun builds, installs and runs, each step only after the previous one succeeded.
func (d *Dispatcher) BuildInstallRun(ctx context.Context, host, platform string) error {
	if err := d.Build(ctx, platform); err != nil {
		return err
	}

	if err := d.Install(ctx, host, platform); err != nil {
		return err
	}

	return d.Run(ctx, host)
}
