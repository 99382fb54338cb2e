// Package cli implements the finsync command line.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finsync/internal/bootstrap"
	"github.com/dvloznov/finsync/internal/config"
	"github.com/dvloznov/finsync/internal/domain"
	"github.com/dvloznov/finsync/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	User       string
	Format     string // "json" | "text"
	LogLevel   string

	// Open builds the engine; tests replace it.
	Open func(ctx context.Context, opts *RootOptions) (*bootstrap.App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the finsync CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{Open: openApp})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "finsync",
		Short: "finsync - personal finance record sync",
		Long: `Keeps expense, investment, debt, goal and insurance collections in sync
across the local JSON files, the session cache and an optional remote store.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $FINSYNC_CONFIG)")
	cmd.PersistentFlags().StringVarP(&opts.User, "user", "u", "", "principal to act as (default config user_id)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level override (debug|info|warn|error)")

	cmd.AddCommand(NewLoadCommand(opts))
	cmd.AddCommand(NewSaveCommand(opts))
	cmd.AddCommand(NewAddCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewSnapshotCommand(opts))
	cmd.AddCommand(NewKindsCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// openApp loads configuration and builds the engine. Logs go to stderr so
// they never mix with command output.
func openApp(ctx context.Context, opts *RootOptions) (*bootstrap.App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	log, err := logger.NewWithOptions(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Writer: os.Stderr})
	if err != nil {
		return nil, err
	}
	return bootstrap.New(ctx, cfg, log)
}

// withApp opens the engine, scopes ctx to the --user principal and runs fn.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *bootstrap.App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := opts.Open(ctx, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open engine", err)
	}
	defer app.Close()

	ctx = logger.WithContext(ctx, app.Logger)
	if opts.User != "" {
		ctx = domain.WithPrincipal(ctx, opts.User)
	}
	return fn(ctx, app)
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
}
