package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-batch-runtime/internal/dataset"
)

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	*RootOptions
	Tables []string
}

// MigrateResult lists the tables created or updated.
type MigrateResult struct {
	Tables []string `json:"tables"`
}

func (r MigrateResult) writeText(w io.Writer) {
	for _, t := range r.Tables {
		fmt.Fprintf(w, "migrated %s\n", t)
	}
}

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MigrateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the trace tables and, optionally, dataset tables",
		Long: `Create the job and step execution trace tables.

Tables passed with --table are created with the id/value dataset schema.

Examples:
  reconcile migrate
  reconcile migrate --table customers --table suppliers`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(opts, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Tables, "table", nil, "dataset table to create (repeatable)")

	return cmd
}

func runMigrate(opts *MigrateOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx, opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer e.close()

	storeCfg := e.store.Config()
	result := MigrateResult{Tables: []string{storeCfg.JobTable, storeCfg.StepTable}}
	for _, table := range opts.Tables {
		if err := dataset.Migrate(ctx, e.db, table); err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("migrate %s", table), err)
		}
		result.Tables = append(result.Tables, table)
	}

	e.logger.Info("migration complete", "tables", result.Tables)
	return output{format: opts.Format, w: cmd.OutOrStdout()}.success(result)
}
