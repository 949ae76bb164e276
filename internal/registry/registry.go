// Package registry resolves logical table names to physical pointers.
//
// Callers never address physical storage directly: every logical name is
// looked up in the _registry relation, scoped to the requesting owner, and
// the resolved pointer is checked against an identifier allow-list before it
// may appear in statement text. Registry entries are provisioned by external
// tooling (see manifest.go); the engine only reads them.
package registry

import (
	"context"
	"fmt"
	"regexp"

	"mvstore/internal/executor"
)

// identPattern is the allow-list for physical identifiers. Pointers end up
// interpolated into statement text because identifiers cannot be
// parameterized, so anything outside this set is rejected first.
var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Entry is one registry row: a logical name bound to a physical pointer for
// one owner. Permissions is an opaque capability mask interpreted by the
// authorization collaborator, not by the engine.
type Entry struct {
	ID          string
	Ptr         string
	Owner       string
	Permissions int64
}

// ValidatePtr checks a physical identifier against the allow-list.
func ValidatePtr(ptr string) error {
	if !identPattern.MatchString(ptr) {
		return &InvalidIdentifierError{Ptr: ptr}
	}
	return nil
}

// Lookup reads the registry entry for (logical, owner). A miss returns
// NotFoundError; a stored pointer outside the allow-list returns
// InvalidIdentifierError and is never handed to callers.
func Lookup(ctx context.Context, exec executor.Executor, logical, owner string) (Entry, error) {
	query := `
		SELECT id, ptr, owner, permissions
		FROM _registry
		WHERE id = ? AND owner = ?
	`
	rows, err := exec.Execute(ctx, query, logical, owner)
	if err != nil {
		return Entry{}, fmt.Errorf("registry lookup: %w", err)
	}
	row, ok, err := executor.CollectOne(rows)
	if err != nil {
		return Entry{}, fmt.Errorf("registry lookup: %w", err)
	}
	if !ok {
		return Entry{}, &NotFoundError{Logical: logical, Owner: owner}
	}

	entry, err := entryFromRow(row)
	if err != nil {
		return Entry{}, fmt.Errorf("registry lookup: %w", err)
	}
	if err := ValidatePtr(entry.Ptr); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// List returns every registry entry ordered by logical name. The sweep and
// the stat tooling use it to enumerate physical tables.
func List(ctx context.Context, exec executor.Executor) ([]Entry, error) {
	rows, err := exec.Execute(ctx, `SELECT id, ptr, owner, permissions FROM _registry ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("registry list: %w", err)
	}
	collected, err := executor.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("registry list: %w", err)
	}

	entries := make([]Entry, 0, len(collected))
	for _, row := range collected {
		entry, err := entryFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("registry list: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Resolver resolves one (logical, owner) pair and caches the result for its
// lifetime, so resolution costs exactly one registry query per instance. The
// cache is never invalidated: a repointed registry entry requires a new
// resolver (in practice, a new accessor).
//
// Not safe for concurrent use; a resolver belongs to one accessor.
type Resolver struct {
	exec    executor.Executor
	logical string
	owner   string

	cached bool
	entry  Entry
}

// NewResolver creates a resolver for (logical, owner). No query is issued
// until the first Resolve or Entry call.
func NewResolver(exec executor.Executor, logical, owner string) *Resolver {
	return &Resolver{exec: exec, logical: logical, owner: owner}
}

// Resolve returns the validated physical pointer for the logical name.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	entry, err := r.Entry(ctx)
	if err != nil {
		return "", err
	}
	return entry.Ptr, nil
}

// Entry returns the full registry entry, querying on first use only.
func (r *Resolver) Entry(ctx context.Context) (Entry, error) {
	if r.cached {
		return r.entry, nil
	}

	entry, err := Lookup(ctx, r.exec, r.logical, r.owner)
	if err != nil {
		return Entry{}, err
	}
	r.entry = entry
	r.cached = true
	return entry, nil
}

func entryFromRow(row executor.Row) (Entry, error) {
	id, err := executor.String(row, "id")
	if err != nil {
		return Entry{}, err
	}
	ptr, err := executor.String(row, "ptr")
	if err != nil {
		return Entry{}, err
	}
	owner, err := executor.String(row, "owner")
	if err != nil {
		return Entry{}, err
	}
	permissions, err := executor.Int64(row, "permissions")
	if err != nil {
		return Entry{}, err
	}

	return Entry{ID: id, Ptr: ptr, Owner: owner, Permissions: permissions}, nil
}
