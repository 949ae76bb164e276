package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mvstore/internal/executor"
)

// countingExecutor counts Execute calls so tests can assert how many
// statements an operation issued.
type countingExecutor struct {
	inner executor.Executor
	calls int
}

func (c *countingExecutor) Execute(ctx context.Context, statement string, params ...any) (executor.Rows, error) {
	c.calls++
	return c.inner.Execute(ctx, statement, params...)
}

func openRegistryDB(t *testing.T) *executor.SQLite {
	t.Helper()
	db, err := executor.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func seedEntry(t *testing.T, db *executor.SQLite, e Entry) {
	t.Helper()
	rows, err := db.Execute(context.Background(),
		`INSERT INTO _registry (id, ptr, owner, permissions) VALUES (?, ?, ?, ?)`,
		e.ID, e.Ptr, e.Owner, e.Permissions)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
}

func TestValidatePtr(t *testing.T) {
	valid := []string{"tbl_users_x1", "a", "A9", "_hidden", "123"}
	for _, ptr := range valid {
		assert.NoError(t, ValidatePtr(ptr), "ptr %q", ptr)
	}

	invalid := []string{"", "tbl-users", "users; DROP TABLE x", "a.b", `t"t`, "tbl users", "tbl\n"}
	for _, ptr := range invalid {
		err := ValidatePtr(ptr)
		require.Error(t, err, "ptr %q", ptr)
		assert.True(t, IsInvalidIdentifier(err), "ptr %q", ptr)
	}
}

func TestLookup(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	seedEntry(t, db, Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7})

	entry, err := Lookup(ctx, db, "users", "t1")
	require.NoError(t, err)
	assert.Equal(t, Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7}, entry)
}

func TestLookup_Miss(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	_, err := Lookup(ctx, db, "users", "t1")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "users")
}

func TestLookup_OwnerMismatch(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	seedEntry(t, db, Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7})

	// The entry exists but belongs to a different owner: same miss as absent.
	_, err := Lookup(ctx, db, "users", "t2")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestLookup_RejectsBadStoredPtr(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	// A corrupted or hostile registry row must never escape as a pointer.
	seedEntry(t, db, Entry{ID: "users", Ptr: "tbl; DROP TABLE x", Owner: "t1", Permissions: 7})

	_, err := Lookup(ctx, db, "users", "t1")
	require.Error(t, err)
	assert.True(t, IsInvalidIdentifier(err))
	assert.False(t, IsNotFound(err))
}

func TestList(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	seedEntry(t, db, Entry{ID: "queue", Ptr: "tbl_queue_x1", Owner: "t1", Permissions: 3})
	seedEntry(t, db, Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7})

	entries, err := List(ctx, db)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "queue", entries[0].ID, "ordered by logical name")
	assert.Equal(t, "users", entries[1].ID)
}

func TestList_Empty(t *testing.T) {
	db := openRegistryDB(t)

	entries, err := List(context.Background(), db)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}

func TestResolver_CachesResolution(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	seedEntry(t, db, Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7})

	counting := &countingExecutor{inner: db}
	r := NewResolver(counting, "users", "t1")

	for i := 0; i < 5; i++ {
		ptr, err := r.Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tbl_users_x1", ptr)
	}
	entry, err := r.Entry(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), entry.Permissions)

	assert.Equal(t, 1, counting.calls, "resolution costs exactly one query per resolver")
}

func TestResolver_DoesNotCacheErrors(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	counting := &countingExecutor{inner: db}
	r := NewResolver(counting, "users", "t1")

	_, err := r.Resolve(ctx)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))

	seedEntry(t, db, Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7})

	ptr, err := r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tbl_users_x1", ptr)
	assert.Equal(t, 2, counting.calls)
}

func TestResolver_CacheSurvivesRegistryChange(t *testing.T) {
	db := openRegistryDB(t)
	ctx := context.Background()

	seedEntry(t, db, Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7})

	r := NewResolver(db, "users", "t1")
	ptr, err := r.Resolve(ctx)
	require.NoError(t, err)
	require.Equal(t, "tbl_users_x1", ptr)

	// Repointing the registry row does not reach existing resolvers; a new
	// resolver is required to observe it.
	rows, err := db.Execute(ctx, `UPDATE _registry SET ptr = 'tbl_users_x2' WHERE id = 'users'`)
	require.NoError(t, err)
	require.NoError(t, rows.Close())

	ptr, err = r.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tbl_users_x1", ptr, "cached pointer is never invalidated")

	fresh := NewResolver(db, "users", "t1")
	ptr, err = fresh.Resolve(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tbl_users_x2", ptr)
}

func TestDefaultClassifier(t *testing.T) {
	base := Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 7}

	tests := []struct {
		name    string
		desired Entry
		want    ChangeClass
	}{
		{"permissions only", Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t1", Permissions: 3}, ChangeSafe},
		{"repointed storage", Entry{ID: "users", Ptr: "tbl_users_x2", Owner: "t1", Permissions: 7}, ChangeDangerous},
		{"reassigned owner", Entry{ID: "users", Ptr: "tbl_users_x1", Owner: "t2", Permissions: 7}, ChangeDangerous},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultClassifier{}.Classify(base, tt.desired))
		})
	}
}
