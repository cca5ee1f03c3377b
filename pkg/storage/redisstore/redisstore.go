// Package redisstore persists resource documents in Redis, one JSON string
// per (tenant, type, id) key. Conditional writes run under WATCH so the
// content hash check and the write form one atomic step per key.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

const keyNamespace = "scim"

// casAttempts bounds optimistic retries when WATCH aborts the transaction.
const casAttempts = 5

// Store implements storage.Store on a Redis client.
type Store struct {
	client *redis.Client
}

// New builds the store over an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

var _ storage.Store = (*Store)(nil)

func redisKey(key storage.Key) string {
	return strings.Join([]string{keyNamespace, key.TenantID, key.ResourceType, key.ResourceID}, ":")
}

func redisPattern(prefix storage.Prefix) string {
	return strings.Join([]string{keyNamespace, prefix.TenantID, prefix.ResourceType, "*"}, ":")
}

// Get implements storage.Store.
func (s *Store) Get(ctx context.Context, key storage.Key) (storage.Document, bool, error) {
	raw, err := s.client.Get(ctx, redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
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
		return nil, fmt.Errorf("redisstore: encoding document: %w", err)
	}
	if err := s.client.Set(ctx, redisKey(key), raw, 0).Err(); err != nil {
		return nil, err
	}
	return storage.CloneDocument(doc), nil
}

// PutExpecting implements storage.Store.
func (s *Store) PutExpecting(ctx context.Context, key storage.Key, doc storage.Document, expected version.Version) (storage.Document, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("redisstore: encoding document: %w", err)
	}
	err = s.withWatch(ctx, key, expected, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, redisKey(key), raw, 0)
			return nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return storage.CloneDocument(doc), nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, key storage.Key) (bool, error) {
	n, err := s.client.Del(ctx, redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeleteExpecting implements storage.Store.
func (s *Store) DeleteExpecting(ctx context.Context, key storage.Key, expected version.Version) error {
	return s.withWatch(ctx, key, expected, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, redisKey(key))
			return nil
		})
		return err
	})
}

// Exists implements storage.Store.
func (s *Store) Exists(ctx context.Context, key storage.Key) (bool, error) {
	n, err := s.client.Exists(ctx, redisKey(key)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// List implements storage.Store; entries are ordered by resource id.
func (s *Store) List(ctx context.Context, prefix storage.Prefix, offset, limit int) ([]storage.Entry, error) {
	entries, err := s.allEntries(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit >= 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// FindByAttribute implements storage.Store.
func (s *Store) FindByAttribute(ctx context.Context, prefix storage.Prefix, attribute, value string) ([]storage.Entry, error) {
	entries, err := s.allEntries(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var out []storage.Entry
	for _, e := range entries {
		if got, ok := storage.LookupAttribute(e.Document, attribute); ok && got == value {
			out = append(out, e)
		}
	}
	return out, nil
}

// Count implements storage.Store.
func (s *Store) Count(ctx context.Context, prefix storage.Prefix) (int, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

// withWatch runs mutate under WATCH after verifying the expected version
// against the live document, retrying when a concurrent writer aborts the
// transaction.
func (s *Store) withWatch(ctx context.Context, key storage.Key, expected version.Version, mutate func(tx *redis.Tx) error) error {
	rkey := redisKey(key)
	check := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, rkey).Result()
		if errors.Is(err, redis.Nil) {
			return storage.ErrNotFound
		}
		if err != nil {
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
		return mutate(tx)
	}

	var err error
	for i := 0; i < casAttempts; i++ {
		err = s.client.Watch(ctx, check, rkey)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return err
}

func (s *Store) scanKeys(ctx context.Context, prefix storage.Prefix) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, redisPattern(prefix), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) allEntries(ctx context.Context, prefix storage.Prefix) ([]storage.Entry, error) {
	keys, err := s.scanKeys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	base := strings.Join([]string{keyNamespace, prefix.TenantID, prefix.ResourceType}, ":") + ":"
	entries := make([]storage.Entry, 0, len(keys))
	for i, k := range keys {
		raw, ok := values[i].(string)
		if !ok {
			continue // expired between SCAN and MGET
		}
		doc, err := decodeDocument(raw)
		if err != nil {
			return nil, err
		}
		entries = append(entries, storage.Entry{
			Key: storage.Key{
				TenantID:     prefix.TenantID,
				ResourceType: prefix.ResourceType,
				ResourceID:   strings.TrimPrefix(k, base),
			},
			Document: doc,
		})
	}
	return entries, nil
}

func decodeDocument(raw string) (storage.Document, error) {
	var doc storage.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("redisstore: decoding document: %w", err)
	}
	return doc, nil
}
