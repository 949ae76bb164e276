package record

import (
	"context"
	"fmt"

	"mvstore/internal/executor"
)

// Query returns a lazy cursor over the visible records whose payload is a
// structural superset of predicate, in insertion order. A nil or empty
// predicate matches everything. The sequence is finite and restartable:
// calling Query again issues a fresh scan.
func (a *Accessor) Query(ctx context.Context, predicate Payload) (*Cursor, error) {
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, data, _txid, _order FROM %s
		WHERE `+visibleWhere+`
		ORDER BY _order ASC
	`, ptr)
	rows, err := a.exec.Execute(ctx, query, a.session.Txid, a.session.Txid)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}

	return &Cursor{rows: rows, predicate: predicate}, nil
}

// Cursor iterates a Query result. Usage follows the database/sql shape:
//
//	cur, err := acc.Query(ctx, predicate)
//	if err != nil { ... }
//	defer cur.Close()
//	for cur.Next() {
//		rec := cur.Record()
//		...
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	rows      executor.Rows
	predicate Payload
	cur       Record
	err       error
}

// Next advances to the next matching record, returning false when the scan
// is exhausted or failed (check Err). Predicate filtering happens here, so
// non-matching rows are skipped without surfacing.
func (c *Cursor) Next() bool {
	if c.err != nil {
		return false
	}
	for c.rows.Next() {
		rec, err := recordFromRow(c.rows.Row())
		if err != nil {
			c.err = fmt.Errorf("query: %w", err)
			return false
		}
		if !Matches(rec.Value, c.predicate) {
			continue
		}
		c.cur = rec
		return true
	}
	if err := c.rows.Err(); err != nil {
		c.err = fmt.Errorf("query: %w", err)
	}
	return false
}

// Record returns the current record. Only valid after a true Next.
func (c *Cursor) Record() Record { return c.cur }

// Err returns the first error encountered while iterating.
func (c *Cursor) Err() error { return c.err }

// Close releases the cursor. Safe to call more than once.
func (c *Cursor) Close() error { return c.rows.Close() }

// CollectAll drains a cursor into a slice and closes it.
func (c *Cursor) CollectAll() ([]Record, error) {
	defer c.Close()

	out := []Record{}
	for c.Next() {
		out = append(out, c.Record())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
