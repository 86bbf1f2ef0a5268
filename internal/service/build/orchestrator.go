package build

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/logger"
)

// SdkEnv names the variable through which the build scripts find the SDK.
const SdkEnv = config.LocalSDKEnv

const (
	firstBuildCommand       = "build"
	incrementalBuildCommand = "elf"
	sdkConfigFilename       = "sdkconfig"
)

// ErrBuildFailed is returned when a platform did not build.
var ErrBuildFailed = errors.New("build failed")

// SdkResolver provides the SDK inputs of a build.
type SdkResolver interface {
	ResolveSdkDirectory(ctx context.Context, sdkVersion, platform string) (string, error)
	SdkConfigPath(platform string) string
}

// Orchestrator builds platforms one after another.
type Orchestrator struct {
	// cfg supplies the project directory, the build tool and the skip-build switch.
	cfg *config.Config
	// sdks resolves SDK directories and sdkconfig files.
	sdks SdkResolver
	// tool runs the external build tool.
	tool Tool
	// firstBuild judges first builds; incremental builds always use the exit code.
	firstBuild SuccessOracle
	// console receives per-platform status lines and failed build output.
	console *console.Printer
	// environ returns the parent environment the subprocess inherits.
	environ func() []string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTool replaces the build tool runner.
func WithTool(tool Tool) Option {
	return func(o *Orchestrator) {
		if tool != nil {
			o.tool = tool
		}
	}
}

// WithEnviron replaces the parent environment source.
func WithEnviron(environ func() []string) Option {
	return func(o *Orchestrator) {
		if environ != nil {
			o.environ = environ
		}
	}
}

// NewOrchestrator creates an Orchestrator using cfg.BuildTool and the
// first-build oracle selected by cfg.FirstBuildOracle.
func NewOrchestrator(
	cfg *config.Config,
	sdks SdkResolver,
	printer *console.Printer,
	opts ...Option,
) (*Orchestrator, error) {
	oracle, err := OracleFor(cfg.FirstBuildOracle)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		cfg:        cfg,
		sdks:       sdks,
		tool:       NewExecTool(cfg.BuildTool),
		firstBuild: oracle,
		console:    printer,
		environ:    os.Environ,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// BuildAll builds every platform in order and stops at the first failure.
func (o *Orchestrator) BuildAll(ctx context.Context, sdkVersion string, platforms []string) error {
	ctx = logger.WithName(ctx, "build")

	for _, platform := range platforms {
		if err := o.Build(ctx, sdkVersion, platform); err != nil {
			return err
		}
	}

	return nil
}

// Build runs the phase selected by the platform's current state.
func (o *Orchestrator) Build(ctx context.Context, sdkVersion, platform string) error {
	ctx = logger.WithKV(ctx, "platform", platform)

	sdkDir, err := o.sdks.ResolveSdkDirectory(ctx, sdkVersion, platform)
	if err != nil {
		return err
	}

	logger.Debugf(ctx, "Using SDK at %s", sdkDir)

	if err = copyFile(o.sdks.SdkConfigPath(platform), o.cfg.ProjectPath(sdkConfigFilename)); err != nil {
		o.console.Error("Failed to copy sdkconfig for %s: %v", platform, err)
		return fmt.Errorf("%w: %s: %w", ErrBuildFailed, platform, err)
	}

	state := ProbeState(o.cfg.ProjectDir, platform)

	logger.DebugKV(ctx, "Probed build state", "state", state.String())

	command, oracle := incrementalBuildCommand, SuccessOracle(ExitCodeOracle{})

	if state == NoArtifact {
		// A first build is judged by the artifact it creates, so nothing old may remain.
		if err = removeArtifacts(o.cfg.ProjectDir, platform); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrBuildFailed, platform, err)
		}

		command, oracle = firstBuildCommand, o.firstBuild
	}

	if o.cfg.SkipBuild {
		logger.Infof(ctx, "Skipping %s build", platform)
		return nil
	}

	if state == NoArtifact {
		o.console.Println("Building first %s build", platform)
	}

	status := fmt.Sprintf("Building %s ELF", platform)
	o.console.Busy("%s", status)

	result, err := o.tool.Run(ctx, &Invocation{
		Dir:  o.cfg.ProjectDir,
		Args: []string{"-B", Dir(platform), command},
		Env:  append(o.environ(), SdkEnv+"="+sdkDir),
	})
	if err != nil {
		o.console.Failure("%s", status)
		o.console.Error("Could not run %s: %v", o.cfg.BuildTool, err)

		return fmt.Errorf("%w: %s: %w", ErrBuildFailed, platform, err)
	}

	if !oracle.Succeeded(o.cfg.ProjectDir, platform, result) {
		o.console.Lines(result.Output)
		o.console.Failure("%s", status)

		return fmt.Errorf("%w: %s: %s exited with status %d", ErrBuildFailed, platform, command, result.ExitCode)
	}

	o.console.Success("%s", status)

	return nil
}

func removeArtifacts(projectDir, platform string) error {
	for {
		path, ok := FindArtifact(projectDir, platform)
		if !ok {
			return nil
		}

		if err := os.Remove(path); err != nil {
			return fmt.Errorf("remove stale artifact: %w", err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}

	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, config.DefaultFilePermissions)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}

	return err
}
