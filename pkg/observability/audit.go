package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// AuditEntry is one provisioning event in the audit timeline. ContentHash
// binds the entry to its details so later tampering is detectable.
type AuditEntry struct {
	EntryID      string         `json:"entry_id"`
	Operation    string         `json:"operation"`
	TenantID     string         `json:"tenant_id"`
	ResourceType string         `json:"resource_type,omitempty"`
	ResourceID   string         `json:"resource_id,omitempty"`
	RequestID    string         `json:"request_id,omitempty"`
	Actor        string         `json:"actor,omitempty"`
	Outcome      string         `json:"outcome"`
	Timestamp    time.Time      `json:"timestamp"`
	ContentHash  string         `json:"content_hash"`
	Details      map[string]any `json:"details,omitempty"`
}

// AuditQuery filters timeline entries. Zero fields match everything.
type AuditQuery struct {
	TenantID     string     `json:"tenant_id,omitempty"`
	ResourceType string     `json:"resource_type,omitempty"`
	Operation    string     `json:"operation,omitempty"`
	After        *time.Time `json:"after,omitempty"`
	Before       *time.Time `json:"before,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

// AuditTimeline is an in-memory, queryable record of every provisioning
// operation the server performed, indexed by tenant.
type AuditTimeline struct {
	mu       sync.RWMutex
	entries  []AuditEntry
	byTenant map[string][]int
	seq      int64
	clock    func() time.Time
}

// NewAuditTimeline creates an empty timeline.
func NewAuditTimeline() *AuditTimeline {
	return &AuditTimeline{
		byTenant: make(map[string][]int),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *AuditTimeline) WithClock(clock func() time.Time) *AuditTimeline {
	t.clock = clock
	return t
}

// Record appends an entry, assigning id, timestamp and content hash.
func (t *AuditTimeline) Record(entry AuditEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("audit-%d", t.seq)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.clock()
	}

	data, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	h := sha256.Sum256(data)
	entry.ContentHash = "sha256:" + hex.EncodeToString(h[:])

	idx := len(t.entries)
	t.entries = append(t.entries, entry)
	if entry.TenantID != "" {
		t.byTenant[entry.TenantID] = append(t.byTenant[entry.TenantID], idx)
	}
	return nil
}

// Query returns matching entries in timestamp order.
func (t *AuditTimeline) Query(q AuditQuery) []AuditEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var candidates []AuditEntry
	if q.TenantID != "" {
		indices, ok := t.byTenant[q.TenantID]
		if !ok {
			return nil
		}
		for _, i := range indices {
			candidates = append(candidates, t.entries[i])
		}
	} else {
		candidates = make([]AuditEntry, len(t.entries))
		copy(candidates, t.entries)
	}

	var results []AuditEntry
	for _, e := range candidates {
		if q.ResourceType != "" && e.ResourceType != q.ResourceType {
			continue
		}
		if q.Operation != "" && e.Operation != q.Operation {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

// Count returns the total number of recorded entries.
func (t *AuditTimeline) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
