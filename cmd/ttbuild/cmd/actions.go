package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/tactilityproject/ttbuild/internal/config"
	"github.com/tactilityproject/ttbuild/internal/console"
	"github.com/tactilityproject/ttbuild/internal/service/workflow"
)

// optionalArg returns args[i] or an empty string.
func optionalArg(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}

	return ""
}

// dispatch wires the services and runs action.
func dispatch(cmd *cobra.Command, action func(context.Context, *workflow.Dispatcher) error) error {
	d, err := newDispatcher()
	if err != nil {
		return err
	}

	return action(cmd.Context(), d)
}

//nolint:gochecknoglobals // Cobra commands are package-level by convention.
var (
	buildCmd = &cobra.Command{
		Use:   "build [platform]",
		Short: "Build and package the app.",
		Long: `Builds the app for every platform in manifest.properties, or only for the
given platform, and packages the result into build/<name>.app.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.Build(ctx, optionalArg(args, 0))
			})
		},
	}

	cleanCmd = &cobra.Command{
		Use:   "clean",
		Short: "Remove the build directory.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.Clean(ctx)
			})
		},
	}

	clearCacheCmd = &cobra.Command{
		Use:   "clearcache",
		Short: "Remove the SDK cache.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.ClearCache(ctx)
			})
		},
	}

	updateSelfCmd = &cobra.Command{
		Use:   "updateself",
		Short: "Update this tool.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.UpdateSelf(ctx)
			})
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info <ip>",
		Short: "Show device information.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.Info(ctx, args[0])
			})
		},
	}

	runCmd = &cobra.Command{
		Use:   "run <ip>",
		Short: "Run the installed app on a device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.Run(ctx, args[0])
			})
		},
	}

	installCmd = &cobra.Command{
		Use:   "install <ip> [platform]",
		Short: "Install the packaged app on a device.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.Install(ctx, args[0], optionalArg(args, 1))
			})
		},
	}

	uninstallCmd = &cobra.Command{
		Use:   "uninstall <ip>",
		Short: "Uninstall the app from a device.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.Uninstall(ctx, args[0])
			})
		},
	}

	birCmd = &cobra.Command{
		Use:     "bir <ip> [platform]",
		Aliases: []string{"brrr"},
		Short:   "Build, install and run.",
		Args:    cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return dispatch(cmd, func(ctx context.Context, d *workflow.Dispatcher) error {
				return d.BuildInstallRun(ctx, args[0], optionalArg(args, 1))
			})
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Write the effective configuration to the configuration file.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			path := configFilePath()
			if err = config.Save(path, cfg); err != nil {
				return err
			}

			console.New().Success("Saved %s", path)

			return nil
		},
	}
)

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.AddCommand(
		buildCmd,
		cleanCmd,
		clearCacheCmd,
		updateSelfCmd,
		infoCmd,
		runCmd,
		installCmd,
		uninstallCmd,
		birCmd,
		configCmd,
	)
}
