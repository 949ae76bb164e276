// Package executor defines the backing-executor contract the storage engine is
// written against, plus the production SQLite implementation.
//
// The contract is deliberately narrow: one operation, Execute, taking statement
// text with positional `?` placeholders and returning a lazy row cursor.
// Placeholders carry values only, never identifiers — identifier safety is the
// caller's problem (see internal/registry and internal/sqlguard).
//
// # Atomicity contract
//
// Each Execute call is a single statement running in its own implicit
// transaction. The executor provides single-statement atomicity and nothing
// more: there are no cross-statement transactions, no savepoints, no
// session-pinned state. Callers that need multi-step atomicity must express
// the step as one statement (e.g. UPDATE ... RETURNING).
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - single connection: SQLite supports one writer at a time
package executor
