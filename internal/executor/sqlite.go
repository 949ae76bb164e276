package executor

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - Initial schema (_registry, _txn_log)
const currentSchemaVersion = 1

// SQLite is the production Executor backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

var _ Executor = (*SQLite)(nil)

// Open creates or opens a SQLite database at the given path and applies the
// base schema (registry and transaction log). Idempotent — safe to call on an
// existing database.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Execute runs one statement with positional value parameters and returns a
// lazy cursor over the result. Row-producing statements (SELECT, WITH, VALUES,
// anything with RETURNING) stream rows; plain writes return an empty cursor.
func (s *SQLite) Execute(ctx context.Context, statement string, params ...any) (Rows, error) {
	if producesRows(statement) {
		rows, err := s.db.QueryContext(ctx, statement, params...)
		if err != nil {
			return nil, err
		}
		return &sqliteRows{rows: rows}, nil
	}

	if _, err := s.db.ExecContext(ctx, statement, params...); err != nil {
		return nil, err
	}
	return emptyRows{}, nil
}

// producesRows decides whether a statement yields a result set. This is a
// keyword sniff, not a parse: it routes our own statements (which we control)
// and errs toward the query path, which handles row-less statements fine.
func producesRows(statement string) bool {
	fields := strings.Fields(statement)
	if len(fields) == 0 {
		return false
	}
	switch strings.ToUpper(fields[0]) {
	case "SELECT", "WITH", "VALUES", "PRAGMA", "EXPLAIN":
		return true
	}
	for _, f := range fields[1:] {
		if strings.EqualFold(f, "RETURNING") {
			return true
		}
	}
	return false
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the base relations if they don't exist and stamps the
// schema version. Idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// sqliteRows adapts *sql.Rows to the Rows cursor, scanning each row into a
// generically typed Row keyed by column name.
type sqliteRows struct {
	rows *sql.Rows
	cols []string
	cur  Row
	err  error
}

func (r *sqliteRows) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.rows.Next() {
		r.err = r.rows.Err()
		return false
	}

	if r.cols == nil {
		cols, err := r.rows.Columns()
		if err != nil {
			r.err = fmt.Errorf("get columns: %w", err)
			return false
		}
		r.cols = cols
	}

	values := make([]any, len(r.cols))
	ptrs := make([]any, len(r.cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		r.err = fmt.Errorf("scan row: %w", err)
		return false
	}

	row := make(Row, len(r.cols))
	for i, col := range r.cols {
		// TEXT may surface as []byte depending on column affinity.
		if b, ok := values[i].([]byte); ok {
			row[col] = string(b)
		} else {
			row[col] = values[i]
		}
	}
	r.cur = row
	return true
}

func (r *sqliteRows) Row() Row { return r.cur }

func (r *sqliteRows) Err() error { return r.err }

func (r *sqliteRows) Close() error { return r.rows.Close() }

// emptyRows is the cursor for statements that produce no rows.
type emptyRows struct{}

func (emptyRows) Next() bool   { return false }
func (emptyRows) Row() Row     { return nil }
func (emptyRows) Err() error   { return nil }
func (emptyRows) Close() error { return nil }
