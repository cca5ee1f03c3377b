// Package provider implements the tenant-scoped resource lifecycle: create,
// read, replace, patch, delete and list, with content-derived versions and
// conditional (version-gated) variants. The provider owns server-managed
// metadata; callers hand in client documents and get back versioned
// resources.
package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"

	"github.com/Mindburn-Labs/scimd/pkg/patch"
	"github.com/Mindburn-Labs/scimd/pkg/schema"
	"github.com/Mindburn-Labs/scimd/pkg/scim"
	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/tenant"
	"github.com/Mindburn-Labs/scimd/pkg/validate"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

// DefaultBaseURL anchors meta.location when no base URL is configured.
const DefaultBaseURL = "http://localhost:8080/scim/v2"

// Provider executes resource operations against a storage backend.
type Provider struct {
	store     storage.Store
	registry  *schema.Registry
	validator *validate.Validator
	logger    *slog.Logger
	baseURL   string
	now       func() time.Time
}

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithBaseURL sets the base URL used for meta.location.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// New builds a provider over the given store and schema registry.
func New(store storage.Store, registry *schema.Registry, opts ...Option) *Provider {
	p := &Provider{
		store:     store,
		registry:  registry,
		validator: validate.New(registry),
		logger:    slog.Default(),
		baseURL:   DefaultBaseURL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ListResult is one page of a listing, with the echoed pagination window.
type ListResult struct {
	TotalResults int
	StartIndex   int
	ItemsPerPage int
	Resources    []scim.VersionedResource
}

// Create validates and persists a new resource, assigning its id and
// server-managed metadata.
func (p *Provider) Create(ctx context.Context, rctx *tenant.RequestContext, resourceType string, doc map[string]any) (*scim.VersionedResource, error) {
	if !p.registry.SupportsResourceType(resourceType) {
		return nil, scim.NewError(scim.CodeUnsupportedResourceType, "resource type %q is not supported", resourceType)
	}
	if err := permitted(rctx, "create", func(perms tenant.Permissions) bool { return perms.CanCreate }); err != nil {
		return nil, err
	}
	prefix := p.prefix(rctx, resourceType)
	if err := p.checkQuota(ctx, rctx, resourceType, prefix); err != nil {
		return nil, err
	}
	if err := p.validator.Validate(ctx, validate.ContextCreate, resourceType, doc,
		validate.WithUniqueness(p.uniquenessLookup(prefix))); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := p.now().UTC()
	stamped := storage.CloneDocument(doc)
	stamped["id"] = id
	stamped["meta"] = p.meta(resourceType, id, now, now)

	res, err := scim.FromJSON(resourceType, stamped)
	if err != nil {
		return nil, err
	}

	stored, err := p.store.Put(ctx, p.key(rctx, resourceType, id), stamped)
	if err != nil {
		return nil, scim.WrapProvider(err)
	}
	v, err := version.Compute(stored)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "resource created",
		"tenant", tenantID(rctx), "resource_type", resourceType, "id", id)
	return &scim.VersionedResource{Resource: res, Version: v}, nil
}

// Get fetches a resource by id.
func (p *Provider) Get(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string) (*scim.VersionedResource, error) {
	if err := permitted(rctx, "read", func(perms tenant.Permissions) bool { return perms.CanRead }); err != nil {
		return nil, err
	}
	doc, found, err := p.store.Get(ctx, p.key(rctx, resourceType, id))
	if err != nil {
		return nil, scim.WrapProvider(err)
	}
	if !found {
		return nil, notFound(resourceType, id)
	}
	return p.versioned(resourceType, doc)
}

// Exists reports whether a resource id is present.
func (p *Provider) Exists(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string) (bool, error) {
	if err := permitted(rctx, "read", func(perms tenant.Permissions) bool { return perms.CanRead }); err != nil {
		return false, err
	}
	ok, err := p.store.Exists(ctx, p.key(rctx, resourceType, id))
	if err != nil {
		return false, scim.WrapProvider(err)
	}
	return ok, nil
}

// Update replaces a resource wholesale. Server-managed metadata is carried
// over from the stored document; only lastModified moves.
func (p *Provider) Update(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string, doc map[string]any) (*scim.VersionedResource, error) {
	stamped, res, err := p.prepareUpdate(ctx, rctx, resourceType, id, doc)
	if err != nil {
		return nil, err
	}
	stored, err := p.store.Put(ctx, p.key(rctx, resourceType, id), stamped)
	if err != nil {
		return nil, scim.WrapProvider(err)
	}
	v, err := version.Compute(stored)
	if err != nil {
		return nil, err
	}
	p.logger.DebugContext(ctx, "resource replaced",
		"tenant", tenantID(rctx), "resource_type", resourceType, "id", id)
	return &scim.VersionedResource{Resource: res, Version: v}, nil
}

// UpdateConditional replaces a resource only when the stored version matches
// expected. Mismatch and absence are outcomes, not errors.
func (p *Provider) UpdateConditional(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string, doc map[string]any, expected version.Version) (version.ConditionalResult[*scim.VersionedResource], error) {
	var zero version.ConditionalResult[*scim.VersionedResource]
	stamped, res, err := p.prepareUpdate(ctx, rctx, resourceType, id, doc)
	if err != nil {
		if scim.IsCode(err, scim.CodeResourceNotFound) {
			return version.NotFound[*scim.VersionedResource](), nil
		}
		return zero, err
	}
	stored, err := p.store.PutExpecting(ctx, p.key(rctx, resourceType, id), stamped, expected)
	if err != nil {
		return p.mapConditional(err, expected)
	}
	v, err := version.Compute(stored)
	if err != nil {
		return zero, err
	}
	return version.Success(&scim.VersionedResource{Resource: res, Version: v}), nil
}

// Delete removes a resource unconditionally.
func (p *Provider) Delete(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string) error {
	if err := permitted(rctx, "delete", func(perms tenant.Permissions) bool { return perms.CanDelete }); err != nil {
		return err
	}
	removed, err := p.store.Delete(ctx, p.key(rctx, resourceType, id))
	if err != nil {
		return scim.WrapProvider(err)
	}
	if !removed {
		return notFound(resourceType, id)
	}
	p.logger.DebugContext(ctx, "resource deleted",
		"tenant", tenantID(rctx), "resource_type", resourceType, "id", id)
	return nil
}

// DeleteConditional removes a resource only when the stored version matches
// expected.
func (p *Provider) DeleteConditional(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string, expected version.Version) (version.ConditionalResult[struct{}], error) {
	var zero version.ConditionalResult[struct{}]
	if err := permitted(rctx, "delete", func(perms tenant.Permissions) bool { return perms.CanDelete }); err != nil {
		return zero, err
	}
	err := p.store.DeleteExpecting(ctx, p.key(rctx, resourceType, id), expected)
	switch {
	case err == nil:
		return version.Success(struct{}{}), nil
	case errors.Is(err, storage.ErrNotFound):
		return version.NotFound[struct{}](), nil
	default:
		var conflict *storage.ConflictError
		if errors.As(err, &conflict) {
			return version.Mismatch[struct{}](version.NewConflict(conflict.Expected, conflict.Current)), nil
		}
		return zero, scim.WrapProvider(err)
	}
}

// Patch applies an RFC 7644 PATCH to a stored resource. When the request
// carries an etag the write is version-gated; otherwise it is unconditional.
func (p *Provider) Patch(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string, req *patch.Request) (version.ConditionalResult[*scim.VersionedResource], error) {
	var zero version.ConditionalResult[*scim.VersionedResource]
	if err := permitted(rctx, "update", func(perms tenant.Permissions) bool { return perms.CanUpdate }); err != nil {
		return zero, err
	}
	key := p.key(rctx, resourceType, id)
	current, found, err := p.store.Get(ctx, key)
	if err != nil {
		return zero, scim.WrapProvider(err)
	}
	if !found {
		return version.NotFound[*scim.VersionedResource](), nil
	}

	patched, err := patch.Apply(current, req)
	if err != nil {
		return zero, err
	}
	p.restampAfterPatch(resourceType, id, current, patched)

	if err := p.validator.Validate(ctx, validate.ContextPatch, resourceType, patched,
		validate.WithUniqueness(p.uniquenessLookup(key.Prefix())),
		validate.ExcludingID(id)); err != nil {
		return zero, err
	}
	res, err := scim.FromJSON(resourceType, patched)
	if err != nil {
		return zero, err
	}

	var stored storage.Document
	if req.ETag != "" {
		expected, perr := version.ParseETag(req.ETag)
		if perr != nil {
			return zero, scim.InvalidRequest("malformed etag %q", req.ETag)
		}
		stored, err = p.store.PutExpecting(ctx, key, patched, expected)
		if err != nil {
			return p.mapConditional(err, expected)
		}
	} else {
		stored, err = p.store.Put(ctx, key, patched)
		if err != nil {
			return zero, scim.WrapProvider(err)
		}
	}
	v, err := version.Compute(stored)
	if err != nil {
		return zero, err
	}
	p.logger.DebugContext(ctx, "resource patched",
		"tenant", tenantID(rctx), "resource_type", resourceType, "id", id,
		"operations", len(req.Operations))
	return version.Success(&scim.VersionedResource{Resource: res, Version: v}), nil
}

// List returns one page of resources ordered by id.
func (p *Provider) List(ctx context.Context, rctx *tenant.RequestContext, resourceType string, query *tenant.ListQuery) (*ListResult, error) {
	if err := permitted(rctx, "list", func(perms tenant.Permissions) bool { return perms.CanList }); err != nil {
		return nil, err
	}
	prefix := p.prefix(rctx, resourceType)
	total, err := p.store.Count(ctx, prefix)
	if err != nil {
		return nil, scim.WrapProvider(err)
	}
	entries, err := p.store.List(ctx, prefix, query.Offset(), query.Limit())
	if err != nil {
		return nil, scim.WrapProvider(err)
	}
	resources := make([]scim.VersionedResource, 0, len(entries))
	for _, e := range entries {
		vr, err := p.versioned(resourceType, e.Document)
		if err != nil {
			return nil, err
		}
		resources = append(resources, *vr)
	}
	return &ListResult{
		TotalResults: total,
		StartIndex:   query.NormalizedStartIndex(),
		ItemsPerPage: len(resources),
		Resources:    resources,
	}, nil
}

// FindByAttribute returns every resource whose attribute (dotted path) holds
// the exact value.
func (p *Provider) FindByAttribute(ctx context.Context, rctx *tenant.RequestContext, resourceType, attribute, value string) ([]scim.VersionedResource, error) {
	if err := permitted(rctx, "read", func(perms tenant.Permissions) bool { return perms.CanRead }); err != nil {
		return nil, err
	}
	entries, err := p.store.FindByAttribute(ctx, p.prefix(rctx, resourceType), attribute, value)
	if err != nil {
		return nil, scim.WrapProvider(err)
	}
	out := make([]scim.VersionedResource, 0, len(entries))
	for _, e := range entries {
		vr, err := p.versioned(resourceType, e.Document)
		if err != nil {
			return nil, err
		}
		out = append(out, *vr)
	}
	return out, nil
}

// prepareUpdate runs the shared validation and metadata carry-over of the
// unconditional and conditional replace paths.
func (p *Provider) prepareUpdate(ctx context.Context, rctx *tenant.RequestContext, resourceType, id string, doc map[string]any) (storage.Document, *scim.Resource, error) {
	if err := permitted(rctx, "update", func(perms tenant.Permissions) bool { return perms.CanUpdate }); err != nil {
		return nil, nil, err
	}
	if docID, ok := doc["id"].(string); ok && docID != id {
		return nil, nil, scim.ValidationError("id", "is immutable: document id %q does not match target %q", docID, id)
	}
	key := p.key(rctx, resourceType, id)
	current, found, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, nil, scim.WrapProvider(err)
	}
	if !found {
		return nil, nil, notFound(resourceType, id)
	}

	stamped := storage.CloneDocument(doc)
	stamped["id"] = id
	created := createdOf(current, p.now().UTC())
	stamped["meta"] = p.meta(resourceType, id, created, p.now().UTC())

	if err := p.validator.Validate(ctx, validate.ContextUpdate, resourceType, stamped,
		validate.WithUniqueness(p.uniquenessLookup(key.Prefix())),
		validate.ExcludingID(id)); err != nil {
		return nil, nil, err
	}
	res, err := scim.FromJSON(resourceType, stamped)
	if err != nil {
		return nil, nil, err
	}
	return stamped, res, nil
}

// restampAfterPatch restores the server-owned fields a path-less replace may
// have cleared and advances lastModified.
func (p *Provider) restampAfterPatch(resourceType, id string, current, patched storage.Document) {
	patched["id"] = id
	if _, ok := patched["schemas"]; !ok {
		patched["schemas"] = current["schemas"]
	}
	patched["meta"] = p.meta(resourceType, id, createdOf(current, p.now().UTC()), p.now().UTC())
}

func (p *Provider) meta(resourceType, id string, created, lastModified time.Time) map[string]any {
	return map[string]any{
		"resourceType": resourceType,
		"created":      created.Format(time.RFC3339Nano),
		"lastModified": lastModified.Format(time.RFC3339Nano),
		"location":     p.baseURL + "/" + resourceType + "s/" + id,
	}
}

// createdOf reads the stored creation timestamp, falling back to now for
// documents written before metadata stamping existed.
func createdOf(current storage.Document, fallback time.Time) time.Time {
	meta, _ := current["meta"].(map[string]any)
	raw, _ := meta["created"].(string)
	if raw == "" {
		return fallback
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return fallback
	}
	return ts
}

// uniquenessLookup adapts storage lookups to the validator's uniqueness
// capability. userName matches case-insensitively via Unicode case folding;
// caseExact attributes match byte-for-byte.
func (p *Provider) uniquenessLookup(prefix storage.Prefix) validate.UniquenessFunc {
	return func(ctx context.Context, attribute, value string) (string, bool, error) {
		if attribute == "userName" {
			entries, err := p.store.List(ctx, prefix, 0, -1)
			if err != nil {
				return "", false, err
			}
			// Caser values are stateful, so build one per lookup.
			fold := cases.Fold()
			folded := fold.String(value)
			for _, e := range entries {
				if got, ok := storage.LookupAttribute(e.Document, attribute); ok && fold.String(got) == folded {
					return e.Key.ResourceID, true, nil
				}
			}
			return "", false, nil
		}
		hits, err := p.store.FindByAttribute(ctx, prefix, attribute, value)
		if err != nil {
			return "", false, err
		}
		if len(hits) == 0 {
			return "", false, nil
		}
		return hits[0].Key.ResourceID, true, nil
	}
}

func (p *Provider) versioned(resourceType string, doc storage.Document) (*scim.VersionedResource, error) {
	res, err := scim.FromJSON(resourceType, doc)
	if err != nil {
		return nil, err
	}
	v, err := version.Compute(doc)
	if err != nil {
		return nil, err
	}
	return &scim.VersionedResource{Resource: res, Version: v}, nil
}

func (p *Provider) mapConditional(err error, expected version.Version) (version.ConditionalResult[*scim.VersionedResource], error) {
	if errors.Is(err, storage.ErrNotFound) {
		return version.NotFound[*scim.VersionedResource](), nil
	}
	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		return version.Mismatch[*scim.VersionedResource](version.NewConflict(conflict.Expected, conflict.Current)), nil
	}
	return version.ConditionalResult[*scim.VersionedResource]{}, scim.WrapProvider(err)
}

// checkQuota enforces per-tenant resource ceilings before a create.
func (p *Provider) checkQuota(ctx context.Context, rctx *tenant.RequestContext, resourceType string, prefix storage.Prefix) error {
	if rctx == nil || rctx.Tenant == nil {
		return nil
	}
	var max *int
	switch resourceType {
	case "User":
		max = rctx.Tenant.Permissions.MaxUsers
	case "Group":
		max = rctx.Tenant.Permissions.MaxGroups
	}
	if max == nil {
		return nil
	}
	count, err := p.store.Count(ctx, prefix)
	if err != nil {
		return scim.WrapProvider(err)
	}
	if count >= *max {
		return scim.NewError(scim.CodeQuotaExceeded,
			"tenant %q reached its quota of %d %s resources", rctx.Tenant.TenantID, *max, resourceType)
	}
	return nil
}

func (p *Provider) key(rctx *tenant.RequestContext, resourceType, id string) storage.Key {
	return storage.Key{TenantID: tenantID(rctx), ResourceType: resourceType, ResourceID: id}
}

func (p *Provider) prefix(rctx *tenant.RequestContext, resourceType string) storage.Prefix {
	return storage.Prefix{TenantID: tenantID(rctx), ResourceType: resourceType}
}

func tenantID(rctx *tenant.RequestContext) string {
	return rctx.EffectiveTenantID()
}

// permitted checks the tenant permission for an operation; single-tenant
// requests carry no tenant context and are unrestricted.
func permitted(rctx *tenant.RequestContext, op string, check func(tenant.Permissions) bool) error {
	if rctx == nil || rctx.Tenant == nil {
		return nil
	}
	if !check(rctx.Tenant.Permissions) {
		return scim.NewError(scim.CodeTenantValidation,
			"tenant %q may not %s resources", rctx.Tenant.TenantID, op)
	}
	return nil
}

func notFound(resourceType, id string) error {
	return scim.NewError(scim.CodeResourceNotFound, "%s %q not found", resourceType, id)
}
