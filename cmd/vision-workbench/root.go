package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"vision-workbench/internal/app"
	"vision-workbench/internal/config"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfgFile   string
	logLevel  string
	logFormat string

	cfg *config.Config
}

func newRootCommand(version, commit, date string) *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "vision-workbench",
		Short: "Plugin-based machine vision workflows",
		Long: `vision-workbench runs image processing workflows built from plugin nodes
over images captured from cameras, simulated devices or image files.

Workflows are YAML documents; devices and plugin policies come from the
configuration file and VISION_* environment variables.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = c.logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = c.logFormat
			}
			c.cfg = cfg
			return cfg.Validate()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default ./vision-workbench.yaml)")
	flags.StringVar(&c.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	flags.StringVar(&c.logFormat, "log-format", "console", "log format: console or json")

	rootCmd.AddCommand(
		newPluginsCommand(c),
		newDevicesCommand(c),
		newRunCommand(c),
		newCaptureCommand(c),
		newVersionCommand(version, commit, date),
	)
	return rootCmd
}

// start builds and starts the application, shutting it down on SIGINT or
// SIGTERM. The caller must call the returned stop function.
func (c *cli) start(ctx context.Context) (*app.Application, func(), error) {
	a, err := app.New(c.cfg, app.NewLogger(c.cfg, os.Stderr))
	if err != nil {
		return nil, nil, err
	}
	stopListening := a.Listen()
	stop := func() {
		stopListening()
		if err := a.Shutdown(); err != nil {
			fmt.Fprintln(os.Stderr, warnStyle.Render("shutdown: "+err.Error()))
		}
	}

	if _, err := a.Start(ctx); err != nil {
		stop()
		return nil, nil, err
	}
	return a, stop, nil
}

func newVersionCommand(version, commit, date string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", titleStyle.Render(app.AppName), version)
			fmt.Fprintf(cmd.OutOrStdout(), "commit %s, built %s\n", commit, date)
		},
	}
}
