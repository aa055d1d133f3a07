// Package cli implements the reconcile command line.
package cli

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-batch-runtime/internal/config"
)

// RootOptions holds global flags and dependencies for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Resolve supplies configuration values, the environment when nil.
	Resolve config.Resolver
	// Logger overrides the logger built from the configured level.
	Logger *slog.Logger
	// Version is reported as the telemetry service version.
	Version string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of the reconcile CLI.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts == nil {
		opts = &RootOptions{}
	}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile a table against an incoming dataset",
		Long: `Reconcile computes the difference between the rows of a table and an
incoming dataset, then applies it in chunked transactions. Every run is
traced to the job and step execution tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}
