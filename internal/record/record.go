// Package record implements the MVCC record accessor: all data access for
// one logical table, scoped to one (session, owner, transaction horizon)
// context.
//
// Versioning model: each id keeps a current value plus a deletion marker,
// not a full version history. A row is visible to a reader at horizon cur
// iff
//
//	_txid < cur AND (_deleted_txid IS NULL OR _deleted_txid >= cur)
//
// Writes overwrite in place and stamp the writer's txid, so concurrency
// correctness reduces to last-writer-overwrite. This is weaker than textbook
// MVCC and is the documented contract; CompareAndSet is the stronger
// alternative for callers that need it.
//
// An accessor and its pointer cache are instance-local and not safe for
// concurrent use: construct one per request context.
package record

import (
	"context"
	"fmt"
	"log/slog"

	"mvstore/internal/executor"
	"mvstore/internal/registry"
	"mvstore/internal/txn"
)

// Payload is an opaque structured record value, stored as JSON. The engine
// never interprets payload shape beyond superset matching in Query.
type Payload map[string]any

// Record is one visible record version.
type Record struct {
	ID    string
	Value Payload
	Txid  int64
	Order int64
}

// visibleWhere is the visibility predicate applied to every read and every
// visible-row write. Takes the current horizon twice.
const visibleWhere = `_txid < ? AND (_deleted_txid IS NULL OR _deleted_txid >= ?)`

// Accessor provides record access to one logical table.
type Accessor struct {
	exec     executor.Executor
	resolver *registry.Resolver
	session  txn.Session
	logical  string

	ids        txn.IDGenerator
	auth       Authorizer
	fieldMasks map[string]int64
	logger     *slog.Logger
}

// Option configures an Accessor.
type Option func(*Accessor)

// WithIDGenerator overrides the generator used for Push ids.
func WithIDGenerator(g txn.IDGenerator) Option {
	return func(a *Accessor) {
		a.ids = g
	}
}

// WithLogger enables debug logging of write operations. Without it the
// accessor is silent.
func WithLogger(l *slog.Logger) Option {
	return func(a *Accessor) {
		a.logger = l
	}
}

// New creates an accessor for the logical table, scoped to the session's
// owner and transaction horizon. Resolution is lazy: the registry is not
// consulted until the first operation.
func New(exec executor.Executor, session txn.Session, logical string, opts ...Option) *Accessor {
	a := &Accessor{
		exec:     exec,
		resolver: registry.NewResolver(exec, logical, session.Owner),
		session:  session,
		logical:  logical,
		ids:      txn.UUIDv7Generator{},
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Ptr resolves the accessor's physical table name. The result is cached for
// the accessor's lifetime; resolution costs one registry query total.
func (a *Accessor) Ptr(ctx context.Context) (string, error) {
	return a.resolver.Resolve(ctx)
}

// Get returns the payload visible at the accessor's horizon, or absent.
func (a *Accessor) Get(ctx context.Context, id string) (Payload, bool, error) {
	rec, ok, err := a.GetRecord(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	return rec.Value, true, nil
}

// GetRecord is Get with version metadata: the creation txid (the value
// CompareAndSet expects) and the insertion order.
func (a *Accessor) GetRecord(ctx context.Context, id string) (Record, bool, error) {
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return Record{}, false, err
	}
	id = normalizeID(id)

	query := fmt.Sprintf(`SELECT id, data, _txid, _order FROM %s WHERE id = ? AND `+visibleWhere, ptr)
	rows, err := a.exec.Execute(ctx, query, id, a.session.Txid, a.session.Txid)
	if err != nil {
		return Record{}, false, fmt.Errorf("get: %w", err)
	}
	row, ok, err := executor.CollectOne(rows)
	if err != nil {
		return Record{}, false, fmt.Errorf("get: %w", err)
	}
	if !ok {
		return Record{}, false, nil
	}

	rec, err := recordFromRow(row)
	if err != nil {
		return Record{}, false, fmt.Errorf("get: %w", err)
	}
	return rec, true, nil
}

// Set upserts: the id now carries payload, stamped with the writer's txid,
// any deletion marker cleared. A single statement; the insertion order is
// assigned once on first insert and survives overwrites.
//
// Readers whose horizon is at or below the writer's txid do not see the
// write; there is no history for readers between versions. Last writer wins.
func (a *Accessor) Set(ctx context.Context, id string, payload Payload) error {
	if err := a.authorize(ctx, payload); err != nil {
		return err
	}
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return err
	}
	id = normalizeID(id)

	data, err := marshalPayload(payload)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, data, _txid, _deleted_txid, _owner, _order)
		VALUES (?, ?, ?, NULL, ?, (SELECT COALESCE(MAX(_order), 0) + 1 FROM %[1]s))
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			_txid = excluded._txid,
			_deleted_txid = NULL,
			_owner = excluded._owner
	`, ptr)
	rows, err := a.exec.Execute(ctx, query, id, data, a.session.Txid, a.session.Owner)
	if err != nil {
		return fmt.Errorf("set: %w", err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("set: %w", err)
	}

	a.logWrite(ctx, "set", "id", id)
	return nil
}

// Update reads the visible value, shallow-merges partial into it, and calls
// Set. Two round trips and explicitly NOT atomic: concurrent updates of the
// same id can lose writes. Callers needing atomicity use CompareAndSet or a
// single parameterized statement through Exec.
//
// An absent id degenerates to Set(partial).
func (a *Accessor) Update(ctx context.Context, id string, partial Payload) error {
	current, ok, err := a.Get(ctx, id)
	if err != nil {
		return err
	}

	merged := partial
	if ok {
		merged = mergePayload(current, partial)
	}
	return a.Set(ctx, id, merged)
}

// CompareAndSet is the guarded variant of Update: the merge is applied only
// if the visible version's txid still equals expectedTxid at write time. The
// guard sits in the WHERE clause of the single write statement, so a
// concurrent overwrite between the read and the write makes the swap report
// false instead of losing it. Absent or repointed ids also report false.
func (a *Accessor) CompareAndSet(ctx context.Context, id string, partial Payload, expectedTxid int64) (bool, error) {
	if err := a.authorize(ctx, partial); err != nil {
		return false, err
	}
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return false, err
	}
	id = normalizeID(id)

	rec, ok, err := a.GetRecord(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok || rec.Txid != expectedTxid {
		return false, nil
	}

	data, err := marshalPayload(mergePayload(rec.Value, partial))
	if err != nil {
		return false, fmt.Errorf("compare-and-set: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s SET data = ?, _txid = ?
		WHERE id = ? AND _txid = ? AND `+visibleWhere+`
		RETURNING id
	`, ptr)
	rows, err := a.exec.Execute(ctx, query,
		data, a.session.Txid,
		id, expectedTxid, a.session.Txid, a.session.Txid)
	if err != nil {
		return false, fmt.Errorf("compare-and-set: %w", err)
	}
	_, swapped, err := executor.CollectOne(rows)
	if err != nil {
		return false, fmt.Errorf("compare-and-set: %w", err)
	}

	if swapped {
		a.logWrite(ctx, "compare-and-set", "id", id)
	}
	return swapped, nil
}

// Delete stamps the visible row with a deletion marker at the accessor's
// txid and reports whether one existed. No physical removal happens here;
// the garbage collector erases the row once the horizon passes it.
func (a *Accessor) Delete(ctx context.Context, id string) (bool, error) {
	if err := a.authorize(ctx, nil); err != nil {
		return false, err
	}
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return false, err
	}
	id = normalizeID(id)

	query := fmt.Sprintf(`
		UPDATE %s SET _deleted_txid = ?
		WHERE id = ? AND `+visibleWhere+`
		RETURNING id
	`, ptr)
	rows, err := a.exec.Execute(ctx, query, a.session.Txid, id, a.session.Txid, a.session.Txid)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}
	_, existed, err := executor.CollectOne(rows)
	if err != nil {
		return false, fmt.Errorf("delete: %w", err)
	}

	if existed {
		a.logWrite(ctx, "delete", "id", id)
	}
	return existed, nil
}

// mergePayload shallow-merges partial over current: top-level keys in
// partial replace whole values, nested maps are not merged recursively.
func mergePayload(current, partial Payload) Payload {
	merged := make(Payload, len(current)+len(partial))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range partial {
		merged[k] = v
	}
	return merged
}

func (a *Accessor) logWrite(ctx context.Context, op string, args ...any) {
	if a.logger == nil {
		return
	}
	args = append([]any{"table", a.logical, "txid", a.session.Txid}, args...)
	a.logger.DebugContext(ctx, op, args...)
}

func recordFromRow(row executor.Row) (Record, error) {
	id, err := executor.String(row, "id")
	if err != nil {
		return Record{}, err
	}
	data, err := executor.String(row, "data")
	if err != nil {
		return Record{}, err
	}
	txid, err := executor.Int64(row, "_txid")
	if err != nil {
		return Record{}, err
	}
	order, err := executor.Int64(row, "_order")
	if err != nil {
		return Record{}, err
	}

	value, err := unmarshalPayload(data)
	if err != nil {
		return Record{}, err
	}
	return Record{ID: id, Value: value, Txid: txid, Order: order}, nil
}
