package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-batch-runtime/pkg/schedule"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Table       string
	Incoming    string
	DryRun      bool
	Cron        string
	Every       time.Duration
	Immediately bool
	MaxRuns     int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run apply on a schedule",
		Long: `Re-run apply on a cron expression or a fixed interval until interrupted.

A failed run is logged and traced, the next one still happens.

Examples:
  reconcile watch --table customers --incoming customers.yaml --cron "*/15 * * * *"
  reconcile watch --table customers --incoming customers.yaml --every 1h --immediately`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table to reconcile (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVar(&opts.Incoming, "incoming", "", "path to the incoming YAML dataset (required)")
	_ = cmd.MarkFlagRequired("incoming")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log the delta without writing it")
	cmd.Flags().StringVar(&opts.Cron, "cron", "", "cron expression (5 fields or a descriptor such as @hourly)")
	cmd.Flags().DurationVar(&opts.Every, "every", 0, "fixed interval between runs")
	cmd.Flags().BoolVar(&opts.Immediately, "immediately", false, "run once before the first scheduled instant")
	cmd.Flags().IntVar(&opts.MaxRuns, "max-runs", 0, "stop after this many runs (0 is unlimited)")
	cmd.MarkFlagsMutuallyExclusive("cron", "every")

	return cmd
}

func watchSchedule(opts *WatchOptions) (schedule.Schedule, error) {
	switch {
	case opts.Cron != "":
		return schedule.ParseCron(opts.Cron)
	case opts.Every > 0:
		return schedule.Every(opts.Every), nil
	default:
		return nil, errors.New("one of --cron or --every is required")
	}
}

func runWatch(opts *WatchOptions, cmd *cobra.Command) error {
	s, err := watchSchedule(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid schedule", err)
	}

	ctx := cmd.Context()
	e, err := openEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	out := output{format: opts.Format, w: cmd.OutOrStdout()}
	e.logger.Info("watching", "table", opts.Table, "incoming", opts.Incoming, "cron", opts.Cron, "every", opts.Every)

	return schedule.Run(ctx, s, func(ctx context.Context) error {
		result, err := reconcile(ctx, e, opts.Table, opts.Incoming, opts.DryRun || e.cfg.DryRun)
		if err != nil {
			if result != nil {
				_ = out.failure(result, err)
			}
			return fmt.Errorf("run %s: %w", result.jobID(), err)
		}
		return out.success(result)
	},
		schedule.Immediately(opts.Immediately),
		schedule.MaxRuns(opts.MaxRuns),
		schedule.WithLogger(e.logger),
	)
}
