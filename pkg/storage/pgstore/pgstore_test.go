package pgstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

func userKey(id string) storage.Key {
	return storage.Key{TenantID: "default", ResourceType: "User", ResourceID: id}
}

func userDoc(userName string) storage.Document {
	return storage.Document{
		"schemas":  []any{"urn:ietf:params:scim:schemas:core:2.0:User"},
		"userName": userName,
	}
}

func mustJSON(t *testing.T, doc storage.Document) []byte {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	return raw
}

func TestStore_Get(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT document FROM scim_resources").
		WithArgs("default", "User", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(mustJSON(t, userDoc("jdoe"))))
	mock.ExpectQuery("SELECT document FROM scim_resources").
		WithArgs("default", "User", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))

	s := New(db)
	doc, found, err := s.Get(ctx, userKey("u1"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "jdoe", doc["userName"])

	_, found, err = s.Get(ctx, userKey("missing"))
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PutUpserts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO scim_resources").
		WithArgs("default", "User", "u1", mustJSON(t, userDoc("jdoe"))).
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db)
	stored, err := s.Put(ctx, userKey("u1"), userDoc("jdoe"))
	require.NoError(t, err)
	assert.Equal(t, "jdoe", stored["userName"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PutExpecting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	current := userDoc("jdoe")
	currentVersion, err := version.Compute(current)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT document FROM scim_resources").
		WithArgs("default", "User", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(mustJSON(t, current)))
	mock.ExpectExec("UPDATE scim_resources SET document").
		WithArgs(mustJSON(t, userDoc("jdoe2")), "default", "User", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(db)
	stored, err := s.PutExpecting(ctx, userKey("u1"), userDoc("jdoe2"), currentVersion)
	require.NoError(t, err)
	assert.Equal(t, "jdoe2", stored["userName"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PutExpectingConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	current := userDoc("changed-by-someone-else")
	currentVersion, err := version.Compute(current)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT document FROM scim_resources").
		WithArgs("default", "User", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(mustJSON(t, current)))
	mock.ExpectRollback()

	s := New(db)
	_, err = s.PutExpecting(ctx, userKey("u1"), userDoc("mine"), version.FromRaw("stale"))
	var conflict *storage.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, currentVersion.Raw(), conflict.Current.Raw())
	assert.Equal(t, "stale", conflict.Expected.Raw())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PutExpectingNotFound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT document FROM scim_resources").
		WithArgs("default", "User", "missing").
		WillReturnRows(sqlmock.NewRows([]string{"document"}))
	mock.ExpectRollback()

	s := New(db)
	_, err = s.PutExpecting(ctx, userKey("missing"), userDoc("x"), version.FromRaw("any"))
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_DeleteExpecting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	current := userDoc("jdoe")
	currentVersion, err := version.Compute(current)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT document FROM scim_resources").
		WithArgs("default", "User", "u1").
		WillReturnRows(sqlmock.NewRows([]string{"document"}).AddRow(mustJSON(t, current)))
	mock.ExpectExec("DELETE FROM scim_resources").
		WithArgs("default", "User", "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(db)
	require.NoError(t, s.DeleteExpecting(ctx, userKey("u1"), currentVersion))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ListAndCount(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT resource_id, document FROM scim_resources").
		WithArgs("default", "User", 0, 2).
		WillReturnRows(sqlmock.NewRows([]string{"resource_id", "document"}).
			AddRow("u1", mustJSON(t, userDoc("alice"))).
			AddRow("u2", mustJSON(t, userDoc("bob"))))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM scim_resources`).
		WithArgs("default", "User").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	s := New(db)
	prefix := storage.Prefix{TenantID: "default", ResourceType: "User"}

	entries, err := s.List(ctx, prefix, 0, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "u1", entries[0].Key.ResourceID)
	assert.Equal(t, "bob", entries[1].Document["userName"])

	n, err := s.Count(ctx, prefix)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_FindByAttribute(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT resource_id, document FROM scim_resources").
		WithArgs("default", "User", sqlmock.AnyArg(), "alice").
		WillReturnRows(sqlmock.NewRows([]string{"resource_id", "document"}).
			AddRow("u1", mustJSON(t, userDoc("alice"))))

	s := New(db)
	hits, err := s.FindByAttribute(ctx, storage.Prefix{TenantID: "default", ResourceType: "User"}, "userName", "alice")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "u1", hits[0].Key.ResourceID)

	require.NoError(t, mock.ExpectationsWereMet())
}
