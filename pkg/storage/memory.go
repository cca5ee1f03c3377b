package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/Mindburn-Labs/scimd/pkg/version"
)

// MemoryStore is the thread-safe in-memory reference store. A single
// readers-writer lock guards the map: mutations take the writer side, reads
// and listings the reader side, which also makes the conditional operations
// atomic per key.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[Prefix]map[string]Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[Prefix]map[string]Document),
	}
}

var _ Store = (*MemoryStore)(nil)

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.data[key.Prefix()][key.ResourceID]
	if !ok {
		return nil, false, nil
	}
	return CloneDocument(doc), true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key Key, doc Document) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store(key, doc)
	return CloneDocument(doc), nil
}

// PutExpecting implements Store.
func (s *MemoryStore) PutExpecting(ctx context.Context, key Key, doc Document, expected version.Version) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.data[key.Prefix()][key.ResourceID]
	if !ok {
		return nil, ErrNotFound
	}
	currentVersion, err := version.Compute(current)
	if err != nil {
		return nil, err
	}
	if !currentVersion.Equal(expected) {
		return nil, &ConflictError{Expected: expected, Current: currentVersion}
	}
	s.store(key, doc)
	return CloneDocument(doc), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.data[key.Prefix()]
	if _, ok := bucket[key.ResourceID]; !ok {
		return false, nil
	}
	delete(bucket, key.ResourceID)
	return true, nil
}

// DeleteExpecting implements Store.
func (s *MemoryStore) DeleteExpecting(ctx context.Context, key Key, expected version.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bucket := s.data[key.Prefix()]
	current, ok := bucket[key.ResourceID]
	if !ok {
		return ErrNotFound
	}
	currentVersion, err := version.Compute(current)
	if err != nil {
		return err
	}
	if !currentVersion.Equal(expected) {
		return &ConflictError{Expected: expected, Current: currentVersion}
	}
	delete(bucket, key.ResourceID)
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(ctx context.Context, key Key) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key.Prefix()][key.ResourceID]
	return ok, nil
}

// List implements Store; entries are ordered by resource id.
func (s *MemoryStore) List(ctx context.Context, prefix Prefix, offset, limit int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.sortedEntries(prefix)
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit >= 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// FindByAttribute implements Store.
func (s *MemoryStore) FindByAttribute(ctx context.Context, prefix Prefix, attribute, value string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Entry
	for _, e := range s.sortedEntries(prefix) {
		if got, ok := LookupAttribute(e.Document, attribute); ok && got == value {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count implements Store.
func (s *MemoryStore) Count(ctx context.Context, prefix Prefix) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data[prefix]), nil
}

func (s *MemoryStore) store(key Key, doc Document) {
	bucket := s.data[key.Prefix()]
	if bucket == nil {
		bucket = make(map[string]Document)
		s.data[key.Prefix()] = bucket
	}
	bucket[key.ResourceID] = CloneDocument(doc)
}

func (s *MemoryStore) sortedEntries(prefix Prefix) []Entry {
	bucket := s.data[prefix]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, Entry{
			Key:      Key{TenantID: prefix.TenantID, ResourceType: prefix.ResourceType, ResourceID: id},
			Document: CloneDocument(bucket[id]),
		})
	}
	return entries
}
