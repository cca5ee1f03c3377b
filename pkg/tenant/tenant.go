// Package tenant carries the multi-tenant request model: who is calling
// (TenantContext), on behalf of which request (RequestContext), and with what
// listing window (ListQuery). Single-tenant deployments simply omit the
// tenant context and are served under the "default" tenant.
package tenant

import (
	"strings"

	"github.com/google/uuid"
)

// DefaultTenantID is the implicit tenant of single-tenant operations.
const DefaultTenantID = "default"

// IsolationLevel describes how strongly a tenant expects its data separated
// from other tenants. It is advisory; providers may reject contexts whose
// level disagrees with their backend.
type IsolationLevel string

const (
	IsolationStrict   IsolationLevel = "strict"
	IsolationStandard IsolationLevel = "standard"
	IsolationShared   IsolationLevel = "shared"
)

// Valid reports whether the level is one of the known values.
func (l IsolationLevel) Valid() bool {
	switch l {
	case IsolationStrict, IsolationStandard, IsolationShared:
		return true
	}
	return false
}

// Permissions enumerates what a tenant's client may do, plus optional
// resource quotas.
type Permissions struct {
	CanCreate bool `json:"can_create"`
	CanRead   bool `json:"can_read"`
	CanUpdate bool `json:"can_update"`
	CanDelete bool `json:"can_delete"`
	CanList   bool `json:"can_list"`

	MaxUsers  *int `json:"max_users,omitempty"`
	MaxGroups *int `json:"max_groups,omitempty"`
}

// AllPermissions grants every operation with no quotas.
func AllPermissions() Permissions {
	return Permissions{CanCreate: true, CanRead: true, CanUpdate: true, CanDelete: true, CanList: true}
}

// Context identifies the tenant an operation runs under.
type Context struct {
	TenantID    string         `json:"tenant_id"`
	ClientID    string         `json:"client_id,omitempty"`
	Permissions Permissions    `json:"permissions"`
	Isolation   IsolationLevel `json:"isolation_level,omitempty"`
}

// NewContext builds a tenant context with full permissions and standard
// isolation.
func NewContext(tenantID, clientID string) *Context {
	return &Context{
		TenantID:    tenantID,
		ClientID:    clientID,
		Permissions: AllPermissions(),
		Isolation:   IsolationStandard,
	}
}

// RequestContext travels with every operation. RequestID is always present;
// Tenant is nil for single-tenant operations.
type RequestContext struct {
	RequestID string
	Tenant    *Context
}

// NewRequestContext builds a request context, generating a request id when
// none is supplied.
func NewRequestContext(requestID string, tc *Context) *RequestContext {
	if strings.TrimSpace(requestID) == "" {
		requestID = uuid.NewString()
	}
	return &RequestContext{RequestID: requestID, Tenant: tc}
}

// EffectiveTenantID returns the tenant id all storage keys are scoped by:
// the context's tenant, or "default" when single-tenant.
func (rc *RequestContext) EffectiveTenantID() string {
	if rc == nil || rc.Tenant == nil || rc.Tenant.TenantID == "" {
		return DefaultTenantID
	}
	return rc.Tenant.TenantID
}

// ListQuery is the pagination window of a list operation. StartIndex is
// 1-based per SCIM; Filter is accepted but not evaluated by the core.
type ListQuery struct {
	Count              *int
	StartIndex         *int
	Filter             string
	Attributes         []string
	ExcludedAttributes []string
}

// Offset converts the 1-based start index into a 0-based storage offset.
// Zero or negative indexes clamp to the first page.
func (q *ListQuery) Offset() int {
	if q == nil || q.StartIndex == nil || *q.StartIndex <= 1 {
		return 0
	}
	return *q.StartIndex - 1
}

// Limit returns the page size, or -1 meaning "all remaining".
func (q *ListQuery) Limit() int {
	if q == nil || q.Count == nil {
		return -1
	}
	if *q.Count < 0 {
		return 0
	}
	return *q.Count
}

// NormalizedStartIndex returns the 1-based index echoed in list responses.
func (q *ListQuery) NormalizedStartIndex() int {
	if q == nil || q.StartIndex == nil || *q.StartIndex < 1 {
		return 1
	}
	return *q.StartIndex
}
