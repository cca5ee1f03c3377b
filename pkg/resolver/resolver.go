// Package resolver maps opaque client credentials to tenant contexts. A
// resolved context is the only way a tenant scope enters the operation
// layer, so every backend reports bad credentials and unknown tenants with
// the same error to keep tenants unenumerable.
package resolver

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/Mindburn-Labs/scimd/pkg/tenant"
)

// ErrInvalidCredentials is returned for bad secrets, unknown clients and
// malformed credentials alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Resolver maps a credential to the tenant context it authorizes.
// Implementations are side-effect free and safe for concurrent use.
type Resolver interface {
	Resolve(ctx context.Context, credential string) (*tenant.Context, error)
	Exists(ctx context.Context, tenantID string) (bool, error)
	ListTenants(ctx context.Context) ([]string, error)
}

// dummyHash keeps the bcrypt comparison on the miss path so unknown clients
// cost the same as wrong secrets.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("scimd-no-such-client"), bcrypt.DefaultCost)

// SplitCredential parses the "clientID.secret" wire form.
func SplitCredential(credential string) (clientID, secret string, ok bool) {
	clientID, secret, ok = strings.Cut(credential, ".")
	if clientID == "" || secret == "" {
		return "", "", false
	}
	return clientID, secret, ok
}

type staticRecord struct {
	secretHash []byte
	tenant     tenant.Context
}

// StaticResolver is the in-memory reference resolver: a table of clients
// with bcrypt-hashed secrets, guarded by a readers-writer lock.
type StaticResolver struct {
	mu       sync.RWMutex
	byClient map[string]staticRecord
}

// NewStatic creates an empty static resolver.
func NewStatic() *StaticResolver {
	return &StaticResolver{byClient: make(map[string]staticRecord)}
}

var _ Resolver = (*StaticResolver)(nil)

// AddTenant registers a client credential for a tenant context. The secret
// is stored hashed.
func (r *StaticResolver) AddTenant(tc *tenant.Context, secret string) error {
	if tc == nil || tc.TenantID == "" || tc.ClientID == "" {
		return errors.New("resolver: tenant context must carry tenant and client ids")
	}
	if secret == "" {
		return errors.New("resolver: secret must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClient[tc.ClientID] = staticRecord{secretHash: hash, tenant: *tc}
	return nil
}

// Resolve implements Resolver.
func (r *StaticResolver) Resolve(ctx context.Context, credential string) (*tenant.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	clientID, secret, ok := SplitCredential(credential)
	if !ok {
		return nil, ErrInvalidCredentials
	}
	r.mu.RLock()
	rec, found := r.byClient[clientID]
	r.mu.RUnlock()

	hash := rec.secretHash
	if !found {
		hash = dummyHash
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil || !found {
		return nil, ErrInvalidCredentials
	}
	tc := rec.tenant
	return &tc, nil
}

// Exists implements Resolver.
func (r *StaticResolver) Exists(ctx context.Context, tenantID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.byClient {
		if rec.tenant.TenantID == tenantID {
			return true, nil
		}
	}
	return false, nil
}

// ListTenants implements Resolver; ids are returned sorted and deduplicated.
func (r *StaticResolver) ListTenants(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.byClient))
	out := make([]string, 0, len(r.byClient))
	for _, rec := range r.byClient {
		if !seen[rec.tenant.TenantID] {
			seen[rec.tenant.TenantID] = true
			out = append(out, rec.tenant.TenantID)
		}
	}
	sort.Strings(out)
	return out, nil
}
