package executor

import (
	"context"
	"fmt"
)

// Row is a loosely typed record: column name to driver value. TEXT columns
// scan as string, INTEGER as int64, NULL as nil.
type Row map[string]any

// Rows is a lazy cursor over an Execute result. Callers must either drain the
// cursor or Close it; Err reports any error encountered while iterating.
type Rows interface {
	// Next advances to the next row, returning false when the result set is
	// exhausted or an error occurred (check Err).
	Next() bool

	// Row returns the current row. Only valid after a true Next.
	Row() Row

	// Err returns the first error encountered during iteration.
	Err() error

	// Close releases the cursor. Safe to call more than once.
	Close() error
}

// Executor is the backing-store collaborator contract: one operation accepting
// statement text with positional `?` placeholders for values (never for
// identifiers) and returning loosely typed rows.
//
// Statements that produce no rows (plain INSERT/UPDATE/DELETE) return an empty
// cursor. Every call is atomic as a single statement; no transaction spans
// more than one call.
type Executor interface {
	Execute(ctx context.Context, statement string, params ...any) (Rows, error)
}

// Collect drains a cursor into a slice and closes it. Statements that produce
// no rows collect to an empty (non-nil) slice.
func Collect(rows Rows) ([]Row, error) {
	defer rows.Close()

	out := []Row{}
	for rows.Next() {
		out = append(out, rows.Row())
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// CollectOne drains a cursor expecting at most one row. The second return
// value reports whether a row was present.
func CollectOne(rows Rows) (Row, bool, error) {
	all, err := Collect(rows)
	if err != nil {
		return nil, false, err
	}
	if len(all) == 0 {
		return nil, false, nil
	}
	return all[0], true, nil
}

// Int64 reads an integer column, coercing the numeric types drivers produce.
func Int64(row Row, col string) (int64, error) {
	switch n := row[col].(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("column %s: unexpected type %T", col, row[col])
	}
}

// String reads a text column.
func String(row Row, col string) (string, error) {
	s, ok := row[col].(string)
	if !ok {
		return "", fmt.Errorf("column %s: unexpected type %T", col, row[col])
	}
	return s, nil
}
