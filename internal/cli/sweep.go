package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"mvstore/internal/config"
	"mvstore/internal/sweep"
	"mvstore/internal/txn"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	ReapAfter time.Duration
	Batch     int
}

// SweepReport is the structured result of one sweep invocation.
type SweepReport struct {
	Horizon        int64            `json:"horizon"`
	ReapedSessions int              `json:"reaped_sessions"`
	Removed        map[string]int64 `json:"removed,omitempty"`
	TotalRemoved   int64            `json:"total_removed"`
}

// NewSweepCommand creates the sweep command, the external scheduler role:
// recover the coordinator from the transaction log, optionally reap expired
// sessions, then remove record versions below the resulting horizon.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove dead record versions below the transaction horizon",
		Long: `Recover the transaction coordinator from the transaction log, compute
the minimum active transaction id, and physically delete record versions
no transaction can see anymore. Bounded per table per invocation; safe to
re-run until it reports nothing removed.

Example:
  mvstore sweep --db ./mvstore.db
  mvstore sweep --db ./mvstore.db --reap-after 24h --batch 500`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.ReapAfter, "reap-after", 0,
		"resolve sessions open longer than this before sweeping (overrides config)")
	cmd.Flags().IntVar(&opts.Batch, "batch", 0,
		"max rows removed per delete statement (overrides config)")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	setupLogging(opts.Verbose)

	cfg, err := opts.loadConfig()
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cmd.Flags().Changed("reap-after") {
		cfg.Sweep.ReapAfter = config.Duration(opts.ReapAfter)
	}
	if cmd.Flags().Changed("batch") {
		cfg.Sweep.BatchSize = opts.Batch
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

	coord := txn.New(txn.WithJournal(db))
	if err := coord.Recover(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to recover transaction log", err)
	}

	report := SweepReport{}
	if age := cfg.Sweep.ReapAfter.Std(); age > 0 {
		reaped, err := coord.ReapExpired(ctx, age)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to reap expired sessions", err)
		}
		report.ReapedSessions = reaped
		slog.Info("reaped expired sessions", "count", reaped, "max_age", age)
	}

	report.Horizon = coord.MinActiveTxid()

	sweeper := sweep.New(db,
		sweep.WithBatchSize(cfg.Sweep.BatchSize),
		sweep.WithLogger(slog.Default()),
	)
	result, err := sweeper.Run(ctx, report.Horizon)
	if err != nil {
		return WrapExitError(ExitCommandError, "sweep failed", err)
	}
	report.Removed = result.Removed
	report.TotalRemoved = result.Total()

	formatter := &OutputFormatter{
		Format:  opts.Format,
		Writer:  cmd.OutOrStdout(),
		Verbose: opts.Verbose,
	}
	return outputSweepReport(formatter, report)
}

func outputSweepReport(formatter *OutputFormatter, report SweepReport) error {
	if formatter.Format == "json" {
		return formatter.Success(report)
	}

	fmt.Fprintf(formatter.Writer, "Horizon: %d\n", report.Horizon)
	if report.ReapedSessions > 0 {
		fmt.Fprintf(formatter.Writer, "Reaped sessions: %d\n", report.ReapedSessions)
	}

	tables := make([]string, 0, len(report.Removed))
	for table := range report.Removed {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		fmt.Fprintf(formatter.Writer, "Swept %s: %d row(s)\n", table, report.Removed[table])
	}

	fmt.Fprintf(formatter.Writer, "Total removed: %d\n", report.TotalRemoved)
	return nil
}
