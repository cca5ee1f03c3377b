// Package sqlitestore persists resource documents in SQLite, one JSON blob
// per (tenant, type, id) key. Conditional writes run inside a transaction;
// SQLite's single-writer model makes the version check and write atomic.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

// Store implements storage.Store on a SQLite database.
type Store struct {
	db *sql.DB
}

// New opens the store over an existing handle and creates the schema.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open is a convenience for file-backed and in-memory (":memory:") stores.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	// The modernc driver serializes writers per connection.
	db.SetMaxOpenConns(1)
	return New(db)
}

var _ storage.Store = (*Store)(nil)

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS scim_resources (
		tenant_id     TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		document      TEXT NOT NULL,
		PRIMARY KEY (tenant_id, resource_type, resource_id)
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key storage.Key) (storage.Document, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT document FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		key.TenantID, key.ResourceType, key.ResourceID)
	var raw string
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
		return nil, fmt.Errorf("sqlitestore: encoding document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scim_resources (tenant_id, resource_type, resource_id, document)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant_id, resource_type, resource_id) DO UPDATE SET document = excluded.document`,
		key.TenantID, key.ResourceType, key.ResourceID, string(raw))
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
		return nil, fmt.Errorf("sqlitestore: encoding document: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE scim_resources SET document = ? WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		string(raw), key.TenantID, key.ResourceType, key.ResourceID)
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
		`DELETE FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
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
		`DELETE FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		key.TenantID, key.ResourceType, key.ResourceID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key storage.Key) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		key.TenantID, key.ResourceType, key.ResourceID)
	var one int
	if err := row.Scan(&one); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// List implements storage.Store; entries are ordered by resource id.
func (s *Store) List(ctx context.Context, prefix storage.Prefix, offset, limit int) ([]storage.Entry, error) {
	if limit < 0 {
		limit = -1 // SQLite: LIMIT -1 means unbounded
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, document FROM scim_resources
		WHERE tenant_id = ? AND resource_type = ?
		ORDER BY resource_id LIMIT ? OFFSET ?`,
		prefix.TenantID, prefix.ResourceType, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEntries(rows, prefix)
}

// FindByAttribute implements storage.Store. json_extract narrows the scan to
// rows holding the attribute; the exact comparison runs on the decoded
// document so the value semantics match the in-memory store.
func (s *Store) FindByAttribute(ctx context.Context, prefix storage.Prefix, attribute, value string) ([]storage.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource_id, document FROM scim_resources
		WHERE tenant_id = ? AND resource_type = ? AND json_extract(document, ?) IS NOT NULL
		ORDER BY resource_id`,
		prefix.TenantID, prefix.ResourceType, "$."+attribute)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	candidates, err := scanEntries(rows, prefix)
	if err != nil {
		return nil, err
	}
	var out []storage.Entry
	for _, e := range candidates {
		if got, ok := storage.LookupAttribute(e.Document, attribute); ok && got == value {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count implements storage.Store.
func (s *Store) Count(ctx context.Context, prefix storage.Prefix) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM scim_resources WHERE tenant_id = ? AND resource_type = ?`,
		prefix.TenantID, prefix.ResourceType)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// checkVersionTx loads the current document inside tx and verifies the
// expected version against its content hash.
func checkVersionTx(ctx context.Context, tx *sql.Tx, key storage.Key, expected version.Version) error {
	row := tx.QueryRowContext(ctx,
		`SELECT document FROM scim_resources WHERE tenant_id = ? AND resource_type = ? AND resource_id = ?`,
		key.TenantID, key.ResourceType, key.ResourceID)
	var raw string
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
		var id, raw string
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

func decodeDocument(raw string) (storage.Document, error) {
	var doc storage.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("sqlitestore: decoding document: %w", err)
	}
	return doc, nil
}
