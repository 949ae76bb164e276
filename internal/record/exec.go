package record

import (
	"context"
	"fmt"

	"mvstore/internal/executor"
	"mvstore/internal/sqlguard"
)

// Exec is the guarded raw escape hatch. Every textual occurrence of the
// accessor's logical name in raw is rewritten to the resolved physical name,
// the rewritten text is scanned for FROM/JOIN references to any other table,
// and only then is the statement executed with the given value parameters.
//
// No visibility predicate is injected: raw means raw. Callers that bypass
// the deletion-marker model here own the consequences. The scope scan is a
// tokenizer, not a parser; see sqlguard for its documented false negatives.
func (a *Accessor) Exec(ctx context.Context, raw string, params ...any) ([]executor.Row, error) {
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return nil, err
	}

	rewritten := sqlguard.Rewrite(raw, a.logical, ptr)
	if err := sqlguard.CheckSingleTable(rewritten, ptr); err != nil {
		return nil, err
	}

	rows, err := a.exec.Execute(ctx, rewritten, params...)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}
	collected, err := executor.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("exec: %w", err)
	}

	a.logWrite(ctx, "exec", "statement", rewritten)
	return collected, nil
}
