package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-batch-runtime/pkg/core"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Name  string
	Limit int
}

// JobSummary is the printable form of a traced job.
type JobSummary struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Status   core.Status   `json:"status"`
	Comment  string        `json:"comment,omitempty"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Steps    []StepSummary `json:"steps"`
}

// HistoryResult lists recent jobs, newest first.
type HistoryResult struct {
	Jobs []JobSummary `json:"jobs"`
}

func (r HistoryResult) writeText(w io.Writer) {
	if len(r.Jobs) == 0 {
		fmt.Fprintln(w, "No executions found")
		return
	}
	for _, j := range r.Jobs {
		fmt.Fprintf(w, "%s %s [%s] %s (%v)\n",
			j.Started.Format(time.RFC3339), j.Name, j.ID, j.Status, j.Finished.Sub(j.Started).Round(time.Millisecond))
		if j.Comment != "" {
			fmt.Fprintf(w, "  %s\n", j.Comment)
		}
		for _, s := range j.Steps {
			fmt.Fprintf(w, "  - %-14s %-7s", s.Name, s.Status)
			if s.Comment != "" {
				fmt.Fprintf(w, "  %s", s.Comment)
			}
			fmt.Fprintln(w)
		}
	}
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent job executions",
		Long: `Show recent job executions with their steps in execution order.

Examples:
  reconcile history
  reconcile history --name customers --limit 5 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "only show jobs with this name")
	cmd.Flags().IntVar(&opts.Limit, "limit", 10, "maximum number of jobs")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	jobs, err := e.store.ListJobs(ctx, opts.Name, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "list jobs", err)
	}

	result := HistoryResult{Jobs: make([]JobSummary, 0, len(jobs))}
	for _, j := range jobs {
		steps, err := e.store.GetSteps(ctx, j.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "get steps of "+j.ID, err)
		}
		sum := JobSummary{
			ID:       j.ID,
			Name:     j.Name,
			Status:   j.Status,
			Started:  j.Started,
			Finished: j.Finished,
			Steps:    summarizeSteps(steps),
		}
		if j.Comment != nil {
			sum.Comment = *j.Comment
		}
		result.Jobs = append(result.Jobs, sum)
	}

	return output{format: opts.Format, w: cmd.OutOrStdout()}.success(result)
}
