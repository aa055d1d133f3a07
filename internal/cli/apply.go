package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-batch-runtime/internal/dataset"
	"github.com/jdziat/simple-batch-runtime/pkg/apply"
	"github.com/jdziat/simple-batch-runtime/pkg/chain"
	"github.com/jdziat/simple-batch-runtime/pkg/core"
	"github.com/jdziat/simple-batch-runtime/pkg/diff"
	"github.com/jdziat/simple-batch-runtime/pkg/iterator"
	"github.com/jdziat/simple-batch-runtime/pkg/storage"
	"github.com/jdziat/simple-batch-runtime/pkg/tracing"
)

// ApplyOptions holds flags for the apply command.
type ApplyOptions struct {
	*RootOptions
	Table    string
	Incoming string
	DryRun   bool
}

// ApplyResult reports one reconciliation run.
type ApplyResult struct {
	JobID          string        `json:"job_id"`
	Job            string        `json:"job"`
	Table          string        `json:"table"`
	Status         core.Status   `json:"status"`
	Comment        string        `json:"comment,omitempty"`
	DryRun         bool          `json:"dry_run"`
	Applied        bool          `json:"applied"`
	Added          int           `json:"added"`
	Updated        int           `json:"updated"`
	Removed        int           `json:"removed"`
	ReferenceTotal int64         `json:"reference_total"`
	IncomingTotal  int64         `json:"incoming_total"`
	Report         apply.Report  `json:"report"`
	Steps          []StepSummary `json:"steps"`
}

// StepSummary is the printable form of a traced step.
type StepSummary struct {
	Name     string        `json:"name"`
	Status   core.Status   `json:"status"`
	Comment  string        `json:"comment,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

func summarizeSteps(steps []core.StepExecution) []StepSummary {
	out := make([]StepSummary, 0, len(steps))
	for _, s := range storage.OrderSteps(steps) {
		sum := StepSummary{Name: s.Name, Status: s.Status, Duration: s.Finished.Sub(s.Started)}
		if s.Comment != nil {
			sum.Comment = *s.Comment
		}
		out = append(out, sum)
	}
	return out
}

func (r *ApplyResult) jobID() string {
	if r == nil {
		return "-"
	}
	return r.JobID
}

func (r *ApplyResult) writeText(w io.Writer) {
	mode := ""
	if r.DryRun {
		mode = " (dry-run)"
	}
	fmt.Fprintf(w, "Job %s [%s] on %s%s: %s\n", r.Job, r.JobID, r.Table, mode, r.Status)
	fmt.Fprintf(w, "  reference=%d incoming=%d added=%d updated=%d removed=%d\n",
		r.ReferenceTotal, r.IncomingTotal, r.Added, r.Updated, r.Removed)
	if !r.Applied {
		fmt.Fprintln(w, "  delta not applied")
	} else {
		fmt.Fprintf(w, "  commits=%d rollbacks=%d\n", r.Report.Commits, r.Report.Rollbacks)
	}
	for _, s := range r.Steps {
		fmt.Fprintf(w, "  - %-14s %-7s %v", s.Name, s.Status, s.Duration.Round(time.Millisecond))
		if s.Comment != "" {
			fmt.Fprintf(w, "  %s", s.Comment)
		}
		fmt.Fprintln(w)
	}
	if r.Comment != "" && r.Status == core.StatusFailure {
		fmt.Fprintf(w, "  error: %s\n", r.Comment)
	}
}

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ApplyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Reconcile a table with an incoming YAML dataset",
		Long: `Load the incoming dataset, compute its difference with the table and
apply it in chunked transactions.

The run is refused when it would remove a larger share of the table than
BATCH_ACCEPTED_LOSS allows. The execution is traced in the job and step
tables whatever the outcome.

Examples:
  reconcile apply --table customers --incoming customers.yaml
  reconcile apply --table customers --incoming customers.yaml --dry-run --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Table, "table", "", "table to reconcile (required)")
	_ = cmd.MarkFlagRequired("table")
	cmd.Flags().StringVar(&opts.Incoming, "incoming", "", "path to the incoming YAML dataset (required)")
	_ = cmd.MarkFlagRequired("incoming")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "log the delta without writing it")

	return cmd
}

func runApply(opts *ApplyOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	result, runErr := reconcile(ctx, e, opts.Table, opts.Incoming, opts.DryRun || e.cfg.DryRun)
	out := output{format: opts.Format, w: cmd.OutOrStdout()}
	if runErr != nil {
		if result != nil {
			_ = out.failure(result, runErr)
		}
		return runErr
	}
	return out.success(result)
}

// reportingApplier keeps the report of the last Apply call.
type reportingApplier struct {
	*apply.Applier[dataset.Row]
	report  apply.Report
	applied bool
}

func (r *reportingApplier) Accept(ctx context.Context, delta *diff.Delta[dataset.Row]) error {
	report, err := r.Apply(ctx, delta)
	r.report = report
	r.applied = true
	return err
}

// loadedRows describes the incoming dataset in traces.
type loadedRows []dataset.Row

func (l loadedRows) DescribeOutcome() string {
	return fmt.Sprintf("loaded: %d", len(l))
}

// reconcile runs load, diff, loss check and apply as one traced chain.
// The returned result is populated even when the run fails.
func reconcile(ctx context.Context, e *env, table, incomingPath string, dryRun bool) (*ApplyResult, error) {
	tracer, err := tracing.New(e.cfg.BatchName, e.store,
		tracing.WithLogger(e.logger),
		tracing.WithTracerProvider(e.otel.TracerProvider),
	)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "create tracer", err)
	}
	if err := dataset.Migrate(ctx, e.db, table); err != nil {
		return nil, WrapExitError(ExitCommandError, "migrate "+table, err)
	}

	// SQLite serializes writers, so every category shares one connection.
	conns := storage.ConnProvider(e.db)
	if e.store.IsSQLite() {
		reused := storage.NewReused(conns)
		defer reused.Close()
		conns = reused.Provider()
	}

	applier := &reportingApplier{Applier: apply.New(conns,
		apply.Handlers[dataset.Row]{
			Insert: apply.CreateBatch[dataset.Row](table, e.cfg.CommitInterval),
			Update: apply.SaveBatch[dataset.Row](table),
			Delete: apply.DeleteBatch[dataset.Row](table),
		},
		apply.CommitInterval(e.cfg.CommitInterval),
		apply.DryRun(dryRun),
		apply.LogMarker(table),
		apply.WithLogger(e.logger),
		apply.WithMeter(e.otel.Meter("github.com/jdziat/simple-batch-runtime/pkg/apply")),
	)}

	result := &ApplyResult{
		JobID:  tracer.JobID(),
		Job:    e.cfg.BatchName,
		Table:  table,
		DryRun: dryRun,
	}
	accepted := diff.AcceptedLoss[dataset.Row](e.cfg.AcceptedLoss, e.logger)
	computer := diff.NewComputer(dataset.CompareKey, dataset.Equal)

	loaded := chain.Map(chain.From(), "load", func(ctx context.Context, _ struct{}) (loadedRows, error) {
		rows, err := dataset.Load(incomingPath, e.logger)
		return loadedRows(rows), err
	})
	computed := chain.Map(loaded, "diff", func(ctx context.Context, rows loadedRows) (*diff.Delta[dataset.Row], error) {
		reference, err := dataset.Reference(ctx, e.db, table)
		if err != nil {
			return nil, err
		}
		defer iterator.Close(reference)

		delta, err := computer.Compute(iterator.FromSlice([]dataset.Row(rows)), reference)
		if err != nil {
			return nil, err
		}
		result.Added, result.Updated, result.Removed = len(delta.Added), len(delta.Updated), len(delta.Removed)
		result.ReferenceTotal, result.IncomingTotal = delta.ReferenceTotal, delta.IncomingTotal
		return delta, nil
	})
	tail := computed.
		Filter("accepted-loss", accepted).
		ThenConsumer("apply", applier)

	opts := append(tracer.RunOptions(),
		chain.MaxAwait(e.cfg.MaxAwait),
		chain.FailOnTimeout(e.cfg.FailOnTimeout),
		chain.FailOnPromiseError(e.cfg.FailOnPromiseError),
		chain.ForceAwaitOnPromiseError(e.cfg.ForceAwaitOnPromiseError),
		chain.WithLogger(e.logger),
	)
	runErr := tail.Run(ctx, opts...)

	job := tracer.Job()
	result.Status = job.Status
	if job.Comment != nil {
		result.Comment = *job.Comment
	}
	result.Report = applier.report
	result.Applied = applier.applied
	result.Steps = summarizeSteps(tracer.Steps())

	if runErr != nil {
		return result, WrapExitError(ExitFailure, "reconcile "+table, runErr)
	}
	return result, nil
}
