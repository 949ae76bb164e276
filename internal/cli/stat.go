package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"mvstore/internal/executor"
	"mvstore/internal/registry"
	"mvstore/internal/txn"
)

// StatOptions holds flags for the stat command.
type StatOptions struct {
	*RootOptions
	Horizon int64
}

// TableStat reports version counts for one registered table.
type TableStat struct {
	Logical string `json:"logical"`
	Ptr     string `json:"ptr"`
	Owner   string `json:"owner"`
	Total   int64  `json:"total"`
	Visible int64  `json:"visible"`
	Marked  int64  `json:"marked"`
}

// StatReport is the structured result of a stat run.
type StatReport struct {
	Horizon int64       `json:"horizon"`
	Tables  []TableStat `json:"tables"`
}

// NewStatCommand creates the stat command.
func NewStatCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Show per-table version counts against the horizon",
		Long: `For every registered table, count physical rows, rows visible at the
transaction horizon, and rows carrying a deletion marker. The horizon
defaults to the coordinator's minimum active transaction id recovered
from the transaction log.

Example:
  mvstore stat --db ./mvstore.db
  mvstore stat --db ./mvstore.db --horizon 42`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStat(opts, cmd)
		},
	}

	cmd.Flags().Int64Var(&opts.Horizon, "horizon", 0,
		"inspect visibility at this transaction id instead of the recovered horizon")

	return cmd
}

func runStat(opts *StatOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	horizon := opts.Horizon
	if !cmd.Flags().Changed("horizon") {
		coord := txn.New(txn.WithJournal(db))
		if err := coord.Recover(ctx); err != nil {
			return WrapExitError(ExitCommandError, "failed to recover transaction log", err)
		}
		horizon = coord.MinActiveTxid()
	}

	entries, err := registry.List(ctx, db)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list registry", err)
	}

	report := StatReport{Horizon: horizon, Tables: []TableStat{}}
	for _, entry := range entries {
		if err := registry.ValidatePtr(entry.Ptr); err != nil {
			return WrapExitError(ExitCommandError, "registry entry rejected", err)
		}
		stat, err := tableStat(ctx, db, entry, horizon)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to stat %s", entry.Ptr), err)
		}
		report.Tables = append(report.Tables, stat)
	}

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	return outputStatReport(formatter, report)
}

func tableStat(ctx context.Context, db executor.Executor, entry registry.Entry, horizon int64) (TableStat, error) {
	query := fmt.Sprintf(`
		SELECT
			count(*) AS total,
			COALESCE(SUM(CASE WHEN _txid < ? AND (_deleted_txid IS NULL OR _deleted_txid >= ?) THEN 1 ELSE 0 END), 0) AS visible,
			COALESCE(SUM(CASE WHEN _deleted_txid IS NOT NULL THEN 1 ELSE 0 END), 0) AS marked
		FROM %s
	`, entry.Ptr)
	rows, err := db.Execute(ctx, query, horizon, horizon)
	if err != nil {
		return TableStat{}, err
	}
	row, ok, err := executor.CollectOne(rows)
	if err != nil {
		return TableStat{}, err
	}
	if !ok {
		return TableStat{}, fmt.Errorf("no aggregate row for %s", entry.Ptr)
	}

	stat := TableStat{Logical: entry.ID, Ptr: entry.Ptr, Owner: entry.Owner}
	if stat.Total, err = executor.Int64(row, "total"); err != nil {
		return TableStat{}, err
	}
	if stat.Visible, err = executor.Int64(row, "visible"); err != nil {
		return TableStat{}, err
	}
	if stat.Marked, err = executor.Int64(row, "marked"); err != nil {
		return TableStat{}, err
	}
	return stat, nil
}

func outputStatReport(formatter *OutputFormatter, report StatReport) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Horizon: %d\n", report.Horizon)
	if len(report.Tables) == 0 {
		fmt.Fprintln(formatter.Writer, "No registered tables.")
		return nil
	}

	fmt.Fprintf(formatter.Writer, "%-16s %-20s %-12s %8s %8s %8s\n",
		"LOGICAL", "PTR", "OWNER", "TOTAL", "VISIBLE", "MARKED")
	for _, t := range report.Tables {
		fmt.Fprintf(formatter.Writer, "%-16s %-20s %-12s %8d %8d %8d\n",
			t.Logical, t.Ptr, t.Owner, t.Total, t.Visible, t.Marked)
	}
	return nil
}
