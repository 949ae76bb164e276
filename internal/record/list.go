package record

import (
	"context"
	"fmt"

	"mvstore/internal/executor"
)

// Push appends a record with a generated id and the next insertion order.
// The order is assigned inside the single insert statement, so concurrent
// pushes through the same backing store get distinct, increasing orders.
// Returns the generated id.
func (a *Accessor) Push(ctx context.Context, payload Payload) (string, error) {
	if err := a.authorize(ctx, payload); err != nil {
		return "", err
	}
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return "", err
	}

	id := normalizeID(a.ids.Generate())
	data, err := marshalPayload(payload)
	if err != nil {
		return "", fmt.Errorf("push: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (id, data, _txid, _deleted_txid, _owner, _order)
		VALUES (?, ?, ?, NULL, ?, (SELECT COALESCE(MAX(_order), 0) + 1 FROM %[1]s))
	`, ptr)
	rows, err := a.exec.Execute(ctx, query, id, data, a.session.Txid, a.session.Owner)
	if err != nil {
		return "", fmt.Errorf("push: %w", err)
	}
	if err := rows.Close(); err != nil {
		return "", fmt.Errorf("push: %w", err)
	}

	a.logWrite(ctx, "push", "id", id)
	return id, nil
}

// Pop removes and returns the visible record with the highest order, or
// absent if none remain. Removal is the usual deletion marker at the
// accessor's txid: a reader at the same horizon still sees the record, so
// list consumers advance their horizon between operations.
func (a *Accessor) Pop(ctx context.Context) (Payload, bool, error) {
	return a.takeEnd(ctx, "DESC", "pop")
}

// Shift removes and returns the visible record with the lowest order, or
// absent if none remain. See Pop for horizon behavior.
func (a *Accessor) Shift(ctx context.Context) (Payload, bool, error) {
	return a.takeEnd(ctx, "ASC", "shift")
}

func (a *Accessor) takeEnd(ctx context.Context, direction, op string) (Payload, bool, error) {
	if err := a.authorize(ctx, nil); err != nil {
		return nil, false, err
	}
	ptr, err := a.Ptr(ctx)
	if err != nil {
		return nil, false, err
	}

	// Selecting the end row and marking it deleted is one statement, atomic
	// through the backing executor.
	query := fmt.Sprintf(`
		UPDATE %[1]s SET _deleted_txid = ?
		WHERE id = (
			SELECT id FROM %[1]s
			WHERE `+visibleWhere+`
			ORDER BY _order %[2]s
			LIMIT 1
		)
		RETURNING id, data
	`, ptr, direction)
	rows, err := a.exec.Execute(ctx, query, a.session.Txid, a.session.Txid, a.session.Txid)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	row, ok, err := executor.CollectOne(rows)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, false, nil
	}

	data, err := executor.String(row, "data")
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	payload, err := unmarshalPayload(data)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}

	if id, err := executor.String(row, "id"); err == nil {
		a.logWrite(ctx, op, "id", id)
	}
	return payload, true, nil
}
