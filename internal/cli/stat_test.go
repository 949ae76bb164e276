package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvstore/internal/executor"
	"mvstore/internal/record"
	"mvstore/internal/registry"
	"mvstore/internal/txn"
)

// seedStatDB writes u1 at txid 1 and u2 at txid 2, deletes u2 at txid 3,
// commits everything. The recovered horizon is 3: both rows are physically
// present, u2 carries a marker that equals the horizon and is still visible.
func seedStatDB(t *testing.T) string {
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

	s1, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, record.New(db, s1, "users").Set(ctx, "u1", record.Payload{"name": "Ann"}))
	require.NoError(t, coord.Commit(ctx, s1.ID))

	s2, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	require.NoError(t, record.New(db, s2, "users").Set(ctx, "u2", record.Payload{"name": "Bea"}))
	require.NoError(t, coord.Commit(ctx, s2.ID))

	s3, err := coord.Begin(ctx, "t1")
	require.NoError(t, err)
	deleted, err := record.New(db, s3, "users").Delete(ctx, "u2")
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, coord.Commit(ctx, s3.ID))

	return path
}

func TestStatCommand_CountsAgainstRecoveredHorizon(t *testing.T) {
	path := seedStatDB(t)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"stat", "--db", path, "--format", "json"})
	require.NoError(t, cmd.Execute())

	var report StatReport
	unmarshalData(t, buf.Bytes(), &report)
	assert.Equal(t, int64(3), report.Horizon)
	require.Len(t, report.Tables, 1)

	stat := report.Tables[0]
	assert.Equal(t, "users", stat.Logical)
	assert.Equal(t, "tbl_users_x1", stat.Ptr)
	assert.Equal(t, "t1", stat.Owner)
	assert.Equal(t, int64(2), stat.Total)
	assert.Equal(t, int64(2), stat.Visible)
	assert.Equal(t, int64(1), stat.Marked)
}

func TestStatCommand_HorizonFlagOverride(t *testing.T) {
	path := seedStatDB(t)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"stat", "--db", path, "--format", "json", "--horizon", "10"})
	require.NoError(t, cmd.Execute())

	var report StatReport
	unmarshalData(t, buf.Bytes(), &report)
	assert.Equal(t, int64(10), report.Horizon)
	require.Len(t, report.Tables, 1)

	// At horizon 10 the marker on u2 is in the past, so only u1 is visible.
	stat := report.Tables[0]
	assert.Equal(t, int64(2), stat.Total)
	assert.Equal(t, int64(1), stat.Visible)
	assert.Equal(t, int64(1), stat.Marked)
}

func TestStatCommand_TextOutput(t *testing.T) {
	path := seedStatDB(t)

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"stat", "--db", path})
	require.NoError(t, cmd.Execute())

	out := buf.String()
	assert.Contains(t, out, "Horizon: 3")
	assert.Contains(t, out, "LOGICAL")
	assert.Contains(t, out, "users")
	assert.Contains(t, out, "tbl_users_x1")
}

func TestStatCommand_EmptyRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mvstore.db")
	db, err := executor.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"stat", "--db", path})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, buf.String(), "No registered tables.")
}
