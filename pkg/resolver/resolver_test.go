package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Mindburn-Labs/scimd/pkg/tenant"
)

func TestStaticResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewStatic()
	require.NoError(t, r.AddTenant(tenant.NewContext("acme", "client-a"), "s3cret"))

	tc, err := r.Resolve(ctx, "client-a.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.TenantID)
	assert.Equal(t, "client-a", tc.ClientID)
	assert.True(t, tc.Permissions.CanCreate)

	// Wrong secret, unknown client and malformed credential are
	// indistinguishable.
	for _, cred := range []string{"client-a.wrong", "nobody.s3cret", "no-dot", "", ".secret", "client-a."} {
		_, err := r.Resolve(ctx, cred)
		assert.ErrorIs(t, err, ErrInvalidCredentials, "credential %q", cred)
	}
}

func TestStaticResolver_Directory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := NewStatic()
	require.NoError(t, r.AddTenant(tenant.NewContext("acme", "client-a"), "x"))
	require.NoError(t, r.AddTenant(tenant.NewContext("acme", "client-b"), "y"))
	require.NoError(t, r.AddTenant(tenant.NewContext("globex", "client-c"), "z"))

	ok, err := r.Exists(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(ctx, "initech")
	require.NoError(t, err)
	assert.False(t, ok)

	tenants, err := r.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, tenants)
}

func TestStaticResolver_RejectsIncompleteRecords(t *testing.T) {
	t.Parallel()
	r := NewStatic()

	assert.Error(t, r.AddTenant(nil, "x"))
	assert.Error(t, r.AddTenant(&tenant.Context{TenantID: "acme"}, "x"))
	assert.Error(t, r.AddTenant(tenant.NewContext("acme", "client-a"), ""))
}

func TestSQLResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	columns := []string{
		"tenant_id", "secret_hash",
		"can_create", "can_read", "can_update", "can_delete", "can_list",
		"max_users", "max_groups", "isolation_level",
	}
	mock.ExpectQuery("SELECT tenant_id, secret_hash").
		WithArgs("client-a").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow("acme", string(hash), true, true, true, false, true, 100, nil, "strict"))

	r := NewSQL(db)
	tc, err := r.Resolve(ctx, "client-a.s3cret")
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.TenantID)
	assert.False(t, tc.Permissions.CanDelete)
	require.NotNil(t, tc.Permissions.MaxUsers)
	assert.Equal(t, 100, *tc.Permissions.MaxUsers)
	assert.Nil(t, tc.Permissions.MaxGroups)
	assert.Equal(t, tenant.IsolationStrict, tc.Isolation)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLResolver_InvalidCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT tenant_id, secret_hash").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}))

	hash, err := bcrypt.GenerateFromPassword([]byte("right"), bcrypt.MinCost)
	require.NoError(t, err)
	mock.ExpectQuery("SELECT tenant_id, secret_hash").
		WithArgs("client-a").
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "secret_hash",
			"can_create", "can_read", "can_update", "can_delete", "can_list",
			"max_users", "max_groups", "isolation_level",
		}).AddRow("acme", string(hash), true, true, true, true, true, nil, nil, "standard"))

	r := NewSQL(db)
	_, err = r.Resolve(ctx, "ghost.whatever")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = r.Resolve(ctx, "client-a.wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLResolver_Directory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("acme").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT DISTINCT tenant_id").
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id"}).AddRow("acme").AddRow("globex"))

	r := NewSQL(db)
	ok, err := r.Exists(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, ok)

	tenants, err := r.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme", "globex"}, tenants)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJWTResolver_Resolve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := []byte("signing-key")

	token, err := MintToken(key, TenantClaims{
		TenantID:  "acme",
		Isolation: "shared",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "client-a",
			Issuer:    "scimd",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	r := NewJWT(key, WithIssuer("scimd"))
	tc, err := r.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "acme", tc.TenantID)
	assert.Equal(t, "client-a", tc.ClientID)
	assert.Equal(t, tenant.IsolationShared, tc.Isolation)
	assert.True(t, tc.Permissions.CanDelete) // defaults to full access
}

func TestJWTResolver_Rejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	key := []byte("signing-key")

	valid := jwt.RegisteredClaims{
		Subject:   "client-a",
		Issuer:    "scimd",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}

	wrongKey, err := MintToken([]byte("other-key"), TenantClaims{TenantID: "acme", RegisteredClaims: valid})
	require.NoError(t, err)

	expired, err := MintToken(key, TenantClaims{TenantID: "acme", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "client-a",
		Issuer:    "scimd",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}})
	require.NoError(t, err)

	noTenant, err := MintToken(key, TenantClaims{RegisteredClaims: valid})
	require.NoError(t, err)

	wrongIssuer, err := MintToken(key, TenantClaims{TenantID: "acme", RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "client-a",
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	require.NoError(t, err)

	r := NewJWT(key, WithIssuer("scimd"))
	for name, token := range map[string]string{
		"wrong key":    wrongKey,
		"expired":      expired,
		"no tenant":    noTenant,
		"wrong issuer": wrongIssuer,
		"garbage":      "not.a.jwt",
	} {
		_, err := r.Resolve(ctx, token)
		assert.ErrorIs(t, err, ErrInvalidCredentials, name)
	}
}

func TestJWTResolver_Directory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bare := NewJWT([]byte("k"))
	ok, err := bare.Exists(ctx, "acme")
	require.NoError(t, err)
	assert.False(t, ok)

	static := NewStatic()
	require.NoError(t, static.AddTenant(tenant.NewContext("acme", "client-a"), "x"))
	backed := NewJWT([]byte("k"), WithDirectory(static))

	ok, err = backed.Exists(ctx, "acme")
	require.NoError(t, err)
	assert.True(t, ok)

	tenants, err := backed.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme"}, tenants)
}
