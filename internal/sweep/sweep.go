// Package sweep physically removes record versions that no transaction can
// see anymore. It is a sweep, not a daemon: an external scheduler calls Run
// with the coordinator's current horizon, and each invocation deletes a
// bounded amount of garbage. Repeated runs converge toward a minimal
// physical footprint and are safe to overlap with live traffic, since
// eligibility is decided strictly below the horizon.
package sweep

import (
	"context"
	"fmt"
	"log/slog"

	"mvstore/internal/executor"
	"mvstore/internal/registry"
)

const defaultBatchSize = 1000

// Sweeper deletes dead record versions from every registered table.
type Sweeper struct {
	exec   executor.Executor
	batch  int
	logger *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithBatchSize caps how many rows a single delete statement may remove.
// Smaller batches hold locks for less time at the cost of more statements.
func WithBatchSize(n int) Option {
	return func(s *Sweeper) {
		s.batch = n
	}
}

// WithLogger attaches a logger for per-table sweep reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// New creates a Sweeper issuing statements through exec.
func New(exec executor.Executor, opts ...Option) *Sweeper {
	s := &Sweeper{
		exec:  exec,
		batch: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.batch <= 0 {
		s.batch = defaultBatchSize
	}
	return s
}

// Result reports how many rows each swept physical table lost.
type Result struct {
	Removed map[string]int64
}

// Total sums removed rows across all tables.
func (r Result) Total() int64 {
	var n int64
	for _, c := range r.Removed {
		n += c
	}
	return n
}

// Run sweeps every registered table once. A row is garbage when no
// transaction at or above minActiveTxid can ever see it:
//
//   - its deletion marker is set and strictly below the horizon, or
//   - it was created strictly below the horizon and a newer version of the
//     same id also exists strictly below the horizon.
//
// The second clause never deletes the sole remaining version of a live id.
// Tables provisioned here keep one row per id, which makes that clause
// vacuous for them; it still guards externally created tables that carry
// real version history.
//
// Two logical names resolving to the same physical table are swept once.
// On error the partial Result reflects rows already removed; removal is
// destructive and is not rolled back.
func (s *Sweeper) Run(ctx context.Context, minActiveTxid int64) (Result, error) {
	res := Result{Removed: map[string]int64{}}

	entries, err := registry.List(ctx, s.exec)
	if err != nil {
		return res, fmt.Errorf("sweep: %w", err)
	}

	seen := map[string]bool{}
	for _, entry := range entries {
		if seen[entry.Ptr] {
			continue
		}
		seen[entry.Ptr] = true

		if err := registry.ValidatePtr(entry.Ptr); err != nil {
			return res, err
		}

		removed, err := s.sweepTable(ctx, entry.Ptr, minActiveTxid)
		if err != nil {
			return res, fmt.Errorf("sweep %s: %w", entry.Ptr, err)
		}
		if removed > 0 {
			res.Removed[entry.Ptr] = removed
			if s.logger != nil {
				s.logger.InfoContext(ctx, "swept table",
					"table", entry.Ptr, "removed", removed, "horizon", minActiveTxid)
			}
		}
	}
	return res, nil
}

func (s *Sweeper) sweepTable(ctx context.Context, ptr string, minActiveTxid int64) (int64, error) {
	query := fmt.Sprintf(`
		DELETE FROM %[1]s WHERE rowid IN (
			SELECT t.rowid FROM %[1]s AS t
			WHERE (t._deleted_txid IS NOT NULL AND t._deleted_txid < ?)
			   OR (t._txid < ? AND EXISTS (
					SELECT 1 FROM %[1]s AS newer
					WHERE newer.id = t.id
					  AND newer._txid > t._txid
					  AND newer._txid < ?))
			LIMIT ?
		)
		RETURNING id
	`, ptr)

	var total int64
	for {
		rows, err := s.exec.Execute(ctx, query,
			minActiveTxid, minActiveTxid, minActiveTxid, s.batch)
		if err != nil {
			return total, err
		}
		collected, err := executor.Collect(rows)
		if err != nil {
			return total, err
		}

		total += int64(len(collected))
		if len(collected) < s.batch {
			return total, nil
		}
	}
}
