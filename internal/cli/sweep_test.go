package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvstore/internal/executor"
	"mvstore/internal/record"
	"mvstore/internal/registry"
	"mvstore/internal/txn"
)

// unmarshalData decodes a JSON CLI response and re-decodes its data payload
// into the typed report a command produced.
func unmarshalData(t *testing.T, raw []byte, out any) {
	t.Helper()

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	require.Equal(t, "ok", resp.Status)

	data, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, out))
}

// seedSweptDB builds a database whose transaction log yields horizon 3 over
// one dead row: u1 written at txid 1, deleted at txid 2, and a third
// committed transaction advancing the counter.
func seedSweptDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mvstore.db")
	db, err := executor.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	ctx := context.Background()
	_, err = registry.Provision(ctx, db, []registry.Entry{
		{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7},
	}, nil)
	require.NoError(t, err)

	coord := txn.New(txn.WithJournal(db))

	writer, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, record.New(db, writer, "users").Set(ctx, "u1", record.Payload{"name": "Ann"}))
	require.NoError(t, coord.Commit(ctx, writer.ID))

	deleter, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	deleted, err := record.New(db, deleter, "users").Delete(ctx, "u1")
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, coord.Commit(ctx, deleter.ID))

	last, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, coord.Commit(ctx, last.ID))

	return path
}

func countPhysicalRows(t *testing.T, path, table string) int64 {
	t.Helper()

	db, err := executor.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	rows, err := db.Execute(context.Background(), "SELECT count(*) AS n FROM "+table)
	require.NoError(t, err)
	row, ok, err := executor.CollectOne(rows)
	require.NoError(t, err)
	require.True(t, ok)
	n, err := executor.Int64(row, "n")
	require.NoError(t, err)
	return n
}

func TestSweepCommand_RemovesDeadVersions(t *testing.T) {
	path := seedSweptDB(t)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"sweep", "--db", path, "--format", "json"})
	require.NoError(t, cmd.Execute())

	var report SweepReport
	unmarshalData(t, buf.Bytes(), &report)
	assert.Equal(t, int64(3), report.Horizon)
	assert.Equal(t, int64(1), report.TotalRemoved)
	assert.Equal(t, int64(1), report.Removed["tbl_users_x1"])

	assert.Equal(t, int64(0), countPhysicalRows(t, path, "tbl_users_x1"))
}

func TestSweepCommand_TextOutput(t *testing.T) {
	path := seedSweptDB(t)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"sweep", "--db", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, buf.String(), "Horizon: 3")
	assert.Contains(t, buf.String(), "Swept tbl_users_x1: 1 row(s)")
	assert.Contains(t, buf.String(), "Total removed: 1")
}

func TestSweepCommand_OpenSessionPinsHorizon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mvstore.db")
	db, err := executor.Open(path)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = registry.Provision(ctx, db, []registry.Entry{
		{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7},
	}, nil)
	require.NoError(t, err)

	coord := txn.New(txn.WithJournal(db))

	writer, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, record.New(db, writer, "users").Set(ctx, "u1", record.Payload{"name": "Ann"}))
	require.NoError(t, coord.Commit(ctx, writer.ID))

	// Left open: pins the horizon at txid 2.
	_, err = coord.Begin(ctx, "t1")
	require.NoError(t, err)

	deleter, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = record.New(db, deleter, "users").Delete(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, coord.Commit(ctx, deleter.ID))

	require.NoError(t, db.Close())

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"sweep", "--db", path, "--format", "json"})
	require.NoError(t, cmd.Execute())

	var report SweepReport
	unmarshalData(t, buf.Bytes(), &report)
	assert.Equal(t, int64(2), report.Horizon)
	assert.Equal(t, int64(0), report.TotalRemoved)

	assert.Equal(t, int64(1), countPhysicalRows(t, path, "tbl_users_x1"))
}

// seedPinnedDB is the open-session scenario with the pinning session
// backdated an hour, so expiry reaping can resolve it.
func seedPinnedDB(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mvstore.db")
	db, err := executor.Open(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, db.Close()) }()

	ctx := context.Background()
	_, err = registry.Provision(ctx, db, []registry.Entry{
		{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7},
	}, nil)
	require.NoError(t, err)

	coord := txn.New(txn.WithJournal(db))

	writer, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, record.New(db, writer, "users").Set(ctx, "u1", record.Payload{"name": "Ann"}))
	require.NoError(t, coord.Commit(ctx, writer.ID))

	stale, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)

	deleter, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	_, err = record.New(db, deleter, "users").Delete(ctx, "u1")
	require.NoError(t, err)
	require.NoError(t, coord.Commit(ctx, deleter.ID))

	rows, err := db.Execute(ctx, `UPDATE _txn_log SET began_at = began_at - 3700 WHERE session_id = ?`, stale.ID)
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	return path
}

func TestSweepCommand_ReapAfterResolvesExpired(t *testing.T) {
	path := seedPinnedDB(t)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"sweep", "--db", path, "--format", "json", "--reap-after", "30m"})
	require.NoError(t, cmd.Execute())

	var report SweepReport
	unmarshalData(t, buf.Bytes(), &report)
	assert.Equal(t, 1, report.ReapedSessions)
	assert.Equal(t, int64(3), report.Horizon)
	assert.Equal(t, int64(1), report.TotalRemoved)

	assert.Equal(t, int64(0), countPhysicalRows(t, path, "tbl_users_x1"))
}

func TestSweepCommand_FlagDisablesConfiguredReap(t *testing.T) {
	path := seedPinnedDB(t)

	cfgPath := filepath.Join(t.TempDir(), "mvstore.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sweep:\n  reap_after: 30m\n"), 0o644))

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"sweep", "--db", path, "--config", cfgPath, "--format", "json", "--reap-after", "0"})
	require.NoError(t, cmd.Execute())

	var report SweepReport
	unmarshalData(t, buf.Bytes(), &report)
	assert.Equal(t, 0, report.ReapedSessions)
	assert.Equal(t, int64(2), report.Horizon)
	assert.Equal(t, int64(0), report.TotalRemoved)
}

func TestSweepCommand_MissingDatabaseDirectory(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"sweep", "--db", filepath.Join(t.TempDir(), "no", "such", "dir", "x.db")})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
