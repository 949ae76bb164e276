package registry

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"mvstore/internal/executor"
)

//go:embed schema.cue
var manifestSchema string

// ManifestError is a manifest validation failure with source position.
type ManifestError struct {
	Message string
	Pos     token.Pos
}

func (e *ManifestError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	return e.Message
}

// LoadManifest reads a CUE provisioning manifest, validates it against the
// embedded schema, and returns the declared entries. Nothing is written:
// loading a manifest has no side effects.
func LoadManifest(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	cuectx := cuecontext.New()

	schema := cuectx.CompileString(manifestSchema, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}

	manifest := cuectx.CompileString(string(data), cue.Filename(path))
	if err := manifest.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	unified := schema.Unify(manifest)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	entriesVal := unified.LookupPath(cue.ParsePath("entries"))
	if !entriesVal.Exists() {
		return nil, &ManifestError{Message: "entries list is required", Pos: manifest.Pos()}
	}

	iter, err := entriesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var entries []Entry
	for iter.Next() {
		entry, err := manifestEntry(iter.Value())
		if err != nil {
			return nil, err
		}
		// The schema pattern already constrains the ptr; this is the
		// registry's own gate and must hold regardless of how the entry
		// was produced.
		if err := ValidatePtr(entry.Ptr); err != nil {
			return nil, err
		}
		if err := ValidatePtr(entry.ID); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func manifestEntry(v cue.Value) (Entry, error) {
	id, err := stringField(v, "id")
	if err != nil {
		return Entry{}, err
	}
	ptr, err := stringField(v, "ptr")
	if err != nil {
		return Entry{}, err
	}
	owner, err := stringField(v, "owner")
	if err != nil {
		return Entry{}, err
	}

	permVal := v.LookupPath(cue.ParsePath("permissions"))
	if !permVal.Exists() {
		return Entry{}, &ManifestError{Message: "permissions is required", Pos: v.Pos()}
	}
	permissions, err := permVal.Int64()
	if err != nil {
		return Entry{}, formatCUEError(err)
	}

	return Entry{ID: id, Ptr: ptr, Owner: owner, Permissions: permissions}, nil
}

func stringField(v cue.Value, name string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(name))
	if !fv.Exists() {
		return "", &ManifestError{Message: fmt.Sprintf("%s is required", name), Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &ManifestError{Message: first.Error(), Pos: positions[0]}
	}
	return err
}

// physicalSchema is the fixed column layout every physical relation carries.
// Provisioning is the only place DDL is issued; the engine never creates or
// alters relations.
const physicalSchema = `
	CREATE TABLE IF NOT EXISTS %s (
		id            TEXT PRIMARY KEY,
		data          TEXT NOT NULL,
		_txid         INTEGER NOT NULL,
		_deleted_txid INTEGER,
		_owner        TEXT NOT NULL,
		_order        INTEGER NOT NULL
	)
`

// ProvisionResult summarizes what Provision changed.
type ProvisionResult struct {
	Created   int
	Updated   int
	Unchanged int
}

// Provision applies manifest entries to the registry: new entries get a
// registry row and their physical relation; changed entries are classified
// first and applied only when safe. Existing identical entries are left
// alone, so provisioning the same manifest twice is a no-op.
func Provision(ctx context.Context, exec executor.Executor, entries []Entry, classify Classifier) (ProvisionResult, error) {
	if classify == nil {
		classify = DefaultClassifier{}
	}

	var result ProvisionResult
	for _, desired := range entries {
		if err := ValidatePtr(desired.Ptr); err != nil {
			return result, err
		}

		existing, found, err := lookupByID(ctx, exec, desired.ID)
		if err != nil {
			return result, err
		}

		if !found {
			if err := createEntry(ctx, exec, desired); err != nil {
				return result, fmt.Errorf("provision %s: %w", desired.ID, err)
			}
			result.Created++
			continue
		}

		if existing == desired {
			result.Unchanged++
			continue
		}

		if classify.Classify(existing, desired) == ChangeDangerous {
			return result, &DangerousChangeError{ID: desired.ID, Existing: existing, Desired: desired}
		}

		// A classifier may allow repointing; make sure the new relation
		// exists before the registry row points at it.
		if existing.Ptr != desired.Ptr {
			rows, err := exec.Execute(ctx, fmt.Sprintf(physicalSchema, desired.Ptr))
			if err != nil {
				return result, fmt.Errorf("provision %s: create relation: %w", desired.ID, err)
			}
			rows.Close()
		}

		if err := updateEntry(ctx, exec, desired); err != nil {
			return result, fmt.Errorf("provision %s: %w", desired.ID, err)
		}
		result.Updated++
	}

	return result, nil
}

func lookupByID(ctx context.Context, exec executor.Executor, id string) (Entry, bool, error) {
	rows, err := exec.Execute(ctx, `SELECT id, ptr, owner, permissions FROM _registry WHERE id = ?`, id)
	if err != nil {
		return Entry{}, false, fmt.Errorf("registry lookup: %w", err)
	}
	row, ok, err := executor.CollectOne(rows)
	if err != nil {
		return Entry{}, false, fmt.Errorf("registry lookup: %w", err)
	}
	if !ok {
		return Entry{}, false, nil
	}
	entry, err := entryFromRow(row)
	if err != nil {
		return Entry{}, false, fmt.Errorf("registry lookup: %w", err)
	}
	return entry, true, nil
}

func createEntry(ctx context.Context, exec executor.Executor, e Entry) error {
	// Ptr validated by the caller; identifiers cannot be parameterized.
	rows, err := exec.Execute(ctx, fmt.Sprintf(physicalSchema, e.Ptr))
	if err != nil {
		return fmt.Errorf("create relation: %w", err)
	}
	rows.Close()

	rows, err = exec.Execute(ctx,
		`INSERT INTO _registry (id, ptr, owner, permissions) VALUES (?, ?, ?, ?)`,
		e.ID, e.Ptr, e.Owner, e.Permissions)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return rows.Close()
}

func updateEntry(ctx context.Context, exec executor.Executor, e Entry) error {
	rows, err := exec.Execute(ctx,
		`UPDATE _registry SET ptr = ?, owner = ?, permissions = ? WHERE id = ?`,
		e.Ptr, e.Owner, e.Permissions, e.ID)
	if err != nil {
		return fmt.Errorf("update entry: %w", err)
	}
	return rows.Close()
}
