package resolver

import (
	"context"
	"database/sql"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/Mindburn-Labs/scimd/pkg/tenant"
)

// SQLResolver reads tenant credentials from a relational table. Expected
// shape (Postgres dialect):
//
//	CREATE TABLE scim_tenants (
//	    client_id       TEXT PRIMARY KEY,
//	    tenant_id       TEXT NOT NULL,
//	    secret_hash     TEXT NOT NULL,
//	    can_create      BOOLEAN NOT NULL DEFAULT TRUE,
//	    can_read        BOOLEAN NOT NULL DEFAULT TRUE,
//	    can_update      BOOLEAN NOT NULL DEFAULT TRUE,
//	    can_delete      BOOLEAN NOT NULL DEFAULT TRUE,
//	    can_list        BOOLEAN NOT NULL DEFAULT TRUE,
//	    max_users       INTEGER,
//	    max_groups      INTEGER,
//	    isolation_level TEXT NOT NULL DEFAULT 'standard'
//	);
type SQLResolver struct {
	db *sql.DB
}

// NewSQL builds a resolver over an open database handle.
func NewSQL(db *sql.DB) *SQLResolver {
	return &SQLResolver{db: db}
}

var _ Resolver = (*SQLResolver)(nil)

const resolveQuery = `
SELECT tenant_id, secret_hash,
       can_create, can_read, can_update, can_delete, can_list,
       max_users, max_groups, isolation_level
FROM scim_tenants WHERE client_id = $1`

// Resolve implements Resolver.
func (r *SQLResolver) Resolve(ctx context.Context, credential string) (*tenant.Context, error) {
	clientID, secret, ok := SplitCredential(credential)
	if !ok {
		return nil, ErrInvalidCredentials
	}

	var (
		tenantID, secretHash, isolation string
		perms                           tenant.Permissions
		maxUsers, maxGroups             sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, resolveQuery, clientID).Scan(
		&tenantID, &secretHash,
		&perms.CanCreate, &perms.CanRead, &perms.CanUpdate, &perms.CanDelete, &perms.CanList,
		&maxUsers, &maxGroups, &isolation,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Same work as the hit path before reporting failure.
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(secret))
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(secret)) != nil {
		return nil, ErrInvalidCredentials
	}
	if maxUsers.Valid {
		n := int(maxUsers.Int64)
		perms.MaxUsers = &n
	}
	if maxGroups.Valid {
		n := int(maxGroups.Int64)
		perms.MaxGroups = &n
	}
	level := tenant.IsolationLevel(isolation)
	if !level.Valid() {
		level = tenant.IsolationStandard
	}
	return &tenant.Context{
		TenantID:    tenantID,
		ClientID:    clientID,
		Permissions: perms,
		Isolation:   level,
	}, nil
}

// Exists implements Resolver.
func (r *SQLResolver) Exists(ctx context.Context, tenantID string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM scim_tenants WHERE tenant_id = $1)`, tenantID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// ListTenants implements Resolver.
func (r *SQLResolver) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT tenant_id FROM scim_tenants ORDER BY tenant_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
