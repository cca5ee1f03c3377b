// Package storage defines the key/value contract the resource provider
// persists through, keyed by (tenant, resource type, resource id). The
// in-memory reference implementation lives here; database and cache backed
// implementations live in subpackages and satisfy the same interface.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/scimd/pkg/version"
)

// ErrNotFound is returned by conditional operations when the target key does
// not exist. Plain Get/Delete report absence through their return values.
var ErrNotFound = errors.New("storage: resource not found")

// Document is a stored resource as free-form JSON.
type Document = map[string]any

// Key addresses one resource.
type Key struct {
	TenantID     string
	ResourceType string
	ResourceID   string
}

// Prefix returns the listing scope of the key.
func (k Key) Prefix() Prefix {
	return Prefix{TenantID: k.TenantID, ResourceType: k.ResourceType}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.TenantID, k.ResourceType, k.ResourceID)
}

// Prefix addresses all resources of one type within one tenant.
type Prefix struct {
	TenantID     string
	ResourceType string
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%s", p.TenantID, p.ResourceType)
}

// Entry is one (key, document) pair returned by listing and searching.
type Entry struct {
	Key      Key
	Document Document
}

// ConflictError reports a failed compare-and-swap: the stored version
// differed from the expected one.
type ConflictError struct {
	Expected version.Version
	Current  version.Version
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage: version conflict: expected %s, current %s",
		e.Expected.Raw(), e.Current.Raw())
}

// Store is the persistence contract beneath the resource provider.
//
// All methods take a context and may suspend; implementations must make
// PutExpecting and DeleteExpecting atomic per key: between the version check
// and the write no other writer may change the resource.
type Store interface {
	// Get loads a document; the second return is false when absent.
	Get(ctx context.Context, key Key) (Document, bool, error)

	// Put stores a document unconditionally and returns the stored value
	// (implementations may normalize it).
	Put(ctx context.Context, key Key, doc Document) (Document, error)

	// PutExpecting stores a document only when the current stored content
	// hashes to expected. Returns ErrNotFound when absent and *ConflictError
	// on mismatch.
	PutExpecting(ctx context.Context, key Key, doc Document, expected version.Version) (Document, error)

	// Delete removes a document, reporting whether something was removed.
	Delete(ctx context.Context, key Key) (bool, error)

	// DeleteExpecting removes a document only when its current content hashes
	// to expected. Returns ErrNotFound when absent and *ConflictError on
	// mismatch.
	DeleteExpecting(ctx context.Context, key Key, expected version.Version) error

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key Key) (bool, error)

	// List returns entries under the prefix with a 0-based offset; limit < 0
	// means all remaining. Order is stable per store.
	List(ctx context.Context, prefix Prefix, offset, limit int) ([]Entry, error)

	// FindByAttribute returns entries whose attribute (dotted path) equals
	// value.
	FindByAttribute(ctx context.Context, prefix Prefix, attribute, value string) ([]Entry, error)

	// Count returns the number of entries under the prefix.
	Count(ctx context.Context, prefix Prefix) (int, error)
}

// LookupAttribute walks a dotted path through a document and renders the
// leaf as a comparison string. The second return is false when the path is
// absent or traverses a non-object.
func LookupAttribute(doc Document, attribute string) (string, bool) {
	var current any = map[string]any(doc)
	start := 0
	for i := 0; i <= len(attribute); i++ {
		if i != len(attribute) && attribute[i] != '.' {
			continue
		}
		seg := attribute[start:i]
		start = i + 1
		m, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = m[seg]
		if !ok {
			return "", false
		}
	}
	switch v := current.(type) {
	case string:
		return v, true
	case nil:
		return "", false
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// CloneDocument deep-copies a document so callers never alias stored state.
func CloneDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}
