// Package txn implements the transaction coordinator: monotonic transaction
// id allocation, active-session tracking, and the minimum-active-txid horizon
// that bounds garbage collection.
//
// A Coordinator is an explicit instance passed by handle to whoever needs
// transaction context. It is never a package-level singleton; lifecycle is
// tied to the hosting process, and tests construct as many as they like.
package txn

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mvstore/internal/executor"
)

// Session is one open transaction: a caller identity bound to a visibility
// horizon. One open transaction per session id.
type Session struct {
	// ID is the session identifier (UUIDv7 in production).
	ID string

	// Owner is the caller identity the session acts as.
	Owner string

	// Txid is the visibility horizon allocated at begin.
	Txid int64

	// BeganAt is when the session was opened. Drives expiry reaping.
	BeganAt time.Time
}

// Coordinator allocates transaction ids and tracks active sessions.
//
// Txids are strictly increasing for the coordinator's lifetime. The counter
// starts at 0, so the first allocated txid is 1.
//
// Thread-safety: all methods are safe for concurrent use. Allocation and
// session registration happen under one mutex so MinActiveTxid never observes
// a half-registered session.
type Coordinator struct {
	mu     sync.Mutex
	next   int64
	active map[string]Session

	ids     IDGenerator
	journal executor.Executor
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithJournal persists session lifecycle to the _txn_log relation through the
// given executor. A journaled coordinator can Recover its state after restart
// and ReapExpired abandoned sessions.
func WithJournal(exec executor.Executor) Option {
	return func(c *Coordinator) {
		c.journal = exec
	}
}

// WithIDGenerator overrides the session id generator. Tests use
// NewFixedGenerator for deterministic ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Coordinator) {
		c.ids = g
	}
}

// WithNow overrides the wall clock used for session timestamps. Tests use
// this to exercise expiry without sleeping.
func WithNow(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator with the counter at 0 and no active sessions.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		active: make(map[string]Session),
		ids:    UUIDv7Generator{},
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// AllocateTxid atomically increments the counter and returns it. The first
// call returns 1.
func (c *Coordinator) AllocateTxid() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return c.next
}

// Current returns the counter without incrementing.
func (c *Coordinator) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Begin opens a transaction for owner: generates a session id, allocates a
// txid, and registers the session as active. When journaled, the session is
// also appended to the transaction log; a failed append unregisters the
// session and returns the error.
func (c *Coordinator) Begin(ctx context.Context, owner string) (Session, error) {
	c.mu.Lock()
	c.next++
	s := Session{
		ID:      c.ids.Generate(),
		Owner:   owner,
		Txid:    c.next,
		BeganAt: c.now(),
	}
	c.active[s.ID] = s
	c.mu.Unlock()

	if c.journal != nil {
		if err := c.journalBegin(ctx, s); err != nil {
			c.mu.Lock()
			delete(c.active, s.ID)
			c.mu.Unlock()
			return Session{}, fmt.Errorf("journal begin: %w", err)
		}
	}

	return s, nil
}

// Commit removes the session from the active set. An unknown session id is a
// no-op, not an error. When journaled, the log row (if any) is stamped with a
// commit time even if the session is absent from memory, so commits survive a
// coordinator that restarted without Recover.
func (c *Coordinator) Commit(ctx context.Context, sessionID string) error {
	if c.journal != nil {
		if err := c.journalCommit(ctx, sessionID); err != nil {
			return fmt.Errorf("journal commit: %w", err)
		}
	}

	c.mu.Lock()
	delete(c.active, sessionID)
	c.mu.Unlock()
	return nil
}

// MinActiveTxid returns the garbage collection horizon: the minimum txid among
// active sessions, or the current counter when none are active (nothing is
// behind, so everything allocated so far is collectible).
//
// The value is monotonic non-decreasing as sessions commit.
func (c *Coordinator) MinActiveTxid() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.active) == 0 {
		return c.next
	}

	min := int64(0)
	for _, s := range c.active {
		if min == 0 || s.Txid < min {
			min = s.Txid
		}
	}
	return min
}

// ActiveSessions returns the open sessions sorted by txid ascending. The
// result is a copy; mutating it does not affect the coordinator.
func (c *Coordinator) ActiveSessions() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make([]Session, 0, len(c.active))
	for _, s := range c.active {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Txid < sessions[j].Txid })
	return sessions
}
