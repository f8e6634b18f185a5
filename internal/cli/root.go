// Package cli implements the showrunner command line.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teranos/showrunner/internal/config"
	"github.com/teranos/showrunner/internal/logging"
)

// RootOptions holds global flags and what PersistentPreRunE loads from them.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Version    string

	Config *config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the root command.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "showrunner",
		Short: "Run scripted product demos against a terminal or a browser",
		Long: `showrunner drives a live application through a demo plan: scenes of
actions, each verified against what is on screen, with retries, smooth
framing and a report of every run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file (environment only when empty)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewWaypointsCommand(opts))
	cmd.AddCommand(NewBaselinesCommand(opts))
	cmd.AddCommand(NewDashboardCommand(opts))
	cmd.AddCommand(NewEnvCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	o.Config = cfg
	o.Logger = logging.New(cfg.Logging, o.Version)
	return nil
}

// logger is safe to call from commands run without the root command.
func (o *RootOptions) logger() *slog.Logger {
	if o.Logger == nil {
		return logging.Discard()
	}
	return o.Logger
}

func (o *RootOptions) settings() *config.Config {
	if o.Config == nil {
		return config.Default()
	}
	return o.Config
}

// NewVersionCommand prints the build version.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "showrunner %s\n", opts.Version)
			return err
		},
	}
}
