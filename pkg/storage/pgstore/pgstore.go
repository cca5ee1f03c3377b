// Package pgstore persists resource documents in PostgreSQL as JSONB.
// Conditional writes lock the row (SELECT ... FOR UPDATE) so the content
// hash check and the write are atomic per key.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

// Store implements storage.Store on a PostgreSQL database.
type Store struct {
	db *sql.DB
}

// New builds the store over an open handle. Migrate must have been run.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

var _ storage.Store = (*Store)(nil)

// Migrate creates the resources table.
func Migrate(ctx context.Context, db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS scim_resources (
		tenant_id     TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		document      JSONB NOT NULL,
		PRIMARY KEY (tenant_id, resource_type, resource_id)
	);`
	_, err := db.ExecContext(ctx, query)
	return err
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key storage.Key) (storage.Document, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM scim_resources WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3`,
		key.TenantID, key.ResourceType, key.ResourceID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	doc, err := decodeDocument(raw)
	if err != nil {
		return nil, false, err
	}
	return doc, true, nil
}

// Put implements storage.Store.
func (s *Store) Put(ctx context.Context, key storage.Key, doc storage.Document) (storage.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encoding document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scim_resources (tenant_id, resource_type, resource_id, document)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, resource_type, resource_id) DO UPDATE SET document = EXCLUDED.document`,
		key.TenantID, key.ResourceType, key.ResourceID, raw)
	if err != nil {
		return nil, err
	}
	return storage.CloneDocument(doc), nil
}

// PutExpecting implements storage.Store.
func (s *Store) PutExpecting(ctx context.Context, key storage.Key, doc storage.Document, expected version.Version) (storage.Document, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkVersionTx(ctx, tx, key, expected); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encoding document: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE scim_resources SET document = $1 WHERE tenant_id = $2 AND resource_type = $3 AND resource_id = $4`,
		raw, key.TenantID, key.ResourceType, key.ResourceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return storage.CloneDocument(doc), nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key storage.Key) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM scim_resources WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3`,
		key.TenantID, key.ResourceType, key.ResourceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpecting implements storage.Store.
func (s *Store) DeleteExpecting(ctx context.Context, key storage.Key, expected version.Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := checkVersionTx(ctx, tx, key, expected); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`DELETE FROM scim_resources WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3`,
		key.TenantID, key.ResourceType, key.ResourceID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key storage.Key) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM scim_resources WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3)`,
		key.TenantID, key.ResourceType, key.ResourceID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// List implements storage.Store; entries are ordered by resource id.
func (s *Store) List(ctx context.Context, prefix storage.Prefix, offset, limit int) ([]storage.Entry, error) {
	query := `
		SELECT resource_id, document FROM scim_resources
		WHERE tenant_id = $1 AND resource_type = $2
		ORDER BY resource_id OFFSET $3`
	args := []any{prefix.TenantID, prefix.ResourceType, offset}
	if limit >= 0 {
		query += ` LIMIT $4`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows, prefix)
}

// FindByAttribute implements storage.Store using the JSONB path-as-text
// operator; #>> renders scalars the same way the in-memory store does.
func (s *Store) FindByAttribute(ctx context.Context, prefix storage.Prefix, attribute, value string) ([]storage.Entry, error) {
	path := strings.Split(attribute, ".")
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, document FROM scim_resources
		WHERE tenant_id = $1 AND resource_type = $2 AND document #>> $3 = $4
		ORDER BY resource_id`,
		prefix.TenantID, prefix.ResourceType, pq.Array(path), value)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows, prefix)
}

// Count implements storage.Store.
func (s *Store) Count(ctx context.Context, prefix storage.Prefix) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scim_resources WHERE tenant_id = $1 AND resource_type = $2`,
		prefix.TenantID, prefix.ResourceType)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func checkVersionTx(ctx context.Context, tx *sql.Tx, key storage.Key, expected version.Version) error {
	row := tx.QueryRowContext(ctx,
		`SELECT document FROM scim_resources WHERE tenant_id = $1 AND resource_type = $2 AND resource_id = $3 FOR UPDATE`,
		key.TenantID, key.ResourceType, key.ResourceID)
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		return err
	}
	current, err := decodeDocument(raw)
	if err != nil {
		return err
	}
	currentVersion, err := version.Compute(current)
	if err != nil {
		return err
	}
	if !currentVersion.Equal(expected) {
		return &storage.ConflictError{Expected: expected, Current: currentVersion}
	}
	return nil
}

func scanEntries(rows *sql.Rows, prefix storage.Prefix) ([]storage.Entry, error) {
	var out []storage.Entry
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, storage.Entry{
			Key:      storage.Key{TenantID: prefix.TenantID, ResourceType: prefix.ResourceType, ResourceID: id},
			Document: doc,
		})
	}
	return out, rows.Err()
}

func decodeDocument(raw []byte) (storage.Document, error) {
	var doc storage.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("pgstore: decoding document: %w", err)
	}
	return doc, nil
}
