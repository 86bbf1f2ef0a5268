package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/logger"
	"github.com/tactilityproject/ttbuild/internal/service/sdk"
	"github.com/tactilityproject/ttbuild/internal/service/workflow"
	"github.com/tactilityproject/ttbuild/internal/version"
)

const (
	// exitFailure is the exit status of a failed action.
	exitFailure = 1
	// exitFatal is the exit status when remote data or the local SDK setup is unusable.
	exitFatal = 2
)

var (
	// cfgPath stores the configuration file path; relative paths are resolved in the project directory.
	cfgPath string
	// projectDir is the app project root.
	projectDir string
	// verbose enables debug logging and build tool output.
	verbose bool
	// localSDK resolves SDKs from TACTILITY_SDK_PATH instead of the CDN.
	localSDK bool
	// skipBuild runs everything except the build tool itself.
	skipBuild bool

	// rootCmd represents the base command.
	rootCmd = &cobra.Command{
		Use:   "ttbuild",
		Short: "Build, package and deploy Tactility apps.",
		Long: `Builds a Tactility app for every platform in its manifest.properties,
packages the ELF files into a single .app archive and deploys it to a device
running Tactility over its HTTP control API.

SDKs are downloaded once per version and platform and cached in the project.
Exit status is 1 when an action fails and 2 when remote metadata, the SDK
index, an SDK archive or a local SDK is unusable.`,
		SilenceUsage: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			logger.SetVerbose(verbose)
		},
	}
)

// Execute runs the ttbuild CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	// Setup graceful shutdown handling.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	_ = logger.Logger().Sync()

	if err == nil {
		return
	}

	if sdk.IsFatal(err) {
		os.Exit(exitFatal)
	}

	os.Exit(exitFailure)
}

// configFilePath resolves --config against the project directory.
func configFilePath() string {
	if filepath.IsAbs(cfgPath) {
		return cfgPath
	}

	return filepath.Join(projectDir, cfgPath)
}

// loadConfig builds the run configuration from the settings file, the flags and the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(configFilePath())
	if err != nil {
		return nil, err
	}

	if projectDir != "" {
		cfg.ProjectDir = projectDir
	}

	cfg.UseLocalSDK = localSDK
	cfg.SkipBuild = skipBuild
	cfg.Verbose = cfg.Verbose || verbose

	config.ApplyEnv(cfg, os.LookupEnv)

	if err = config.Validate(cfg); err != nil {
		return nil, err
	}

	logger.Configure(cfg.LogLevel, cfg.Verbose)

	return cfg, nil
}

// newDispatcher loads the configuration and wires the services.
func newDispatcher() (*workflow.Dispatcher, error) {
	printer := console.New()

	cfg, err := loadConfig()
	if err != nil {
		if errors.Is(err, config.ErrLocalSDKPathRequired) {
			printer.Error("local build was requested, but %s environment variable is not set.", config.LocalSDKEnv)
		}

		return nil, err
	}

	return workflow.New(cfg, printer)
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	flags.StringVar(&projectDir, "project", "", "app project directory (default: current directory)")
	flags.BoolVar(&verbose, "verbose", false, "show debug logs and build tool output")
	flags.BoolVar(&localSDK, "local-sdk", false, "use SDKs from "+config.LocalSDKEnv+" instead of downloading them")
	flags.BoolVar(&skipBuild, "skip-build", false, "run everything except the build tool commands")
}
