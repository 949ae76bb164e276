package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mvstore/internal/executor"
)

// ErrNoJournal is returned by Recover when the coordinator was constructed
// without WithJournal.
var ErrNoJournal = errors.New("coordinator has no journal")

func (c *Coordinator) journalBegin(ctx context.Context, s Session) error {
	query := `
		INSERT INTO _txn_log (session_id, owner, txid, began_at)
		VALUES (?, ?, ?, ?)
	`
	rows, err := c.journal.Execute(ctx, query, s.ID, s.Owner, s.Txid, s.BeganAt.Unix())
	if err != nil {
		return err
	}
	return rows.Close()
}

func (c *Coordinator) journalCommit(ctx context.Context, sessionID string) error {
	query := `
		UPDATE _txn_log
		SET committed_at = ?
		WHERE session_id = ? AND committed_at IS NULL
	`
	rows, err := c.journal.Execute(ctx, query, c.now().Unix(), sessionID)
	if err != nil {
		return err
	}
	return rows.Close()
}

// Recover restores coordinator state from the transaction log after a
// restart: the counter resumes past the highest txid ever allocated, and
// uncommitted sessions rejoin the active set so MinActiveTxid keeps holding
// back garbage collection for them.
//
// Call before handing the coordinator out. Recovering into a coordinator
// that already allocated txids keeps whichever counter is higher.
func (c *Coordinator) Recover(ctx context.Context) error {
	if c.journal == nil {
		return ErrNoJournal
	}

	rows, err := c.journal.Execute(ctx, `SELECT COALESCE(MAX(txid), 0) AS max_txid FROM _txn_log`)
	if err != nil {
		return fmt.Errorf("read max txid: %w", err)
	}
	row, ok, err := executor.CollectOne(rows)
	if err != nil {
		return fmt.Errorf("read max txid: %w", err)
	}
	var maxTxid int64
	if ok {
		maxTxid, err = executor.Int64(row, "max_txid")
		if err != nil {
			return fmt.Errorf("read max txid: %w", err)
		}
	}

	open, err := c.openSessions(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if maxTxid > c.next {
		c.next = maxTxid
	}
	for _, s := range open {
		c.active[s.ID] = s
	}
	return nil
}

// ReapExpired resolves sessions that have been open longer than maxAge:
// they are removed from the active set and, when journaled, stamped as
// committed in the log. Resolving as committed means their writes stay
// visible, the documented expiry policy for callers that never commit.
//
// Returns the number of sessions reaped.
func (c *Coordinator) ReapExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := c.now().Add(-maxAge)

	c.mu.Lock()
	var expired []Session
	for _, s := range c.active {
		if s.BeganAt.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	c.mu.Unlock()

	reaped := 0
	for _, s := range expired {
		if c.journal != nil {
			if err := c.journalCommit(ctx, s.ID); err != nil {
				return reaped, fmt.Errorf("reap session %s: %w", s.ID, err)
			}
		}
		c.mu.Lock()
		delete(c.active, s.ID)
		c.mu.Unlock()
		reaped++
	}
	return reaped, nil
}

func (c *Coordinator) openSessions(ctx context.Context) ([]Session, error) {
	query := `
		SELECT session_id, owner, txid, began_at
		FROM _txn_log
		WHERE committed_at IS NULL
	`
	rows, err := c.journal.Execute(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("read open sessions: %w", err)
	}
	collected, err := executor.Collect(rows)
	if err != nil {
		return nil, fmt.Errorf("read open sessions: %w", err)
	}

	sessions := make([]Session, 0, len(collected))
	for _, row := range collected {
		s, err := sessionFromRow(row)
		if err != nil {
			return nil, fmt.Errorf("read open sessions: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func sessionFromRow(row executor.Row) (Session, error) {
	id, err := executor.String(row, "session_id")
	if err != nil {
		return Session{}, err
	}
	owner, err := executor.String(row, "owner")
	if err != nil {
		return Session{}, err
	}
	txid, err := executor.Int64(row, "txid")
	if err != nil {
		return Session{}, err
	}
	beganAt, err := executor.Int64(row, "began_at")
	if err != nil {
		return Session{}, err
	}

	return Session{
		ID:      id,
		Owner:   owner,
		Txid:    txid,
		BeganAt: time.Unix(beganAt, 0),
	}, nil
}
