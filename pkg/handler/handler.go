// Package handler is the transport-agnostic operation dispatcher. Adapters
// translate their native requests into OperationRequest values; the handler
// resolves the tenant scope, dispatches to the provider and folds every
// outcome, including version conflicts, into a uniform OperationResponse.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/scimd/pkg/observability"
	"github.com/Mindburn-Labs/scimd/pkg/patch"
	"github.com/Mindburn-Labs/scimd/pkg/provider"
	"github.com/Mindburn-Labs/scimd/pkg/schema"
	"github.com/Mindburn-Labs/scimd/pkg/scim"
	"github.com/Mindburn-Labs/scimd/pkg/tenant"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

const scopeName = "github.com/Mindburn-Labs/scimd/pkg/handler"

// Operation enumerates the dispatchable operations.
type Operation string

const (
	OpCreate     Operation = "create"
	OpGet        Operation = "get"
	OpUpdate     Operation = "update"
	OpDelete     Operation = "delete"
	OpList       Operation = "list"
	OpSearch     Operation = "search"
	OpGetSchemas Operation = "get_schemas"
	OpGetSchema  Operation = "get_schema"
	OpExists     Operation = "exists"
	OpPatch      Operation = "patch"
)

// OperationRequest is the typed input of a dispatch. Adapters fill in what
// their transport carries; absent fields stay zero.
type OperationRequest struct {
	Operation       Operation         `json:"operation"`
	ResourceType    string            `json:"resource_type,omitempty"`
	ResourceID      string            `json:"resource_id,omitempty"`
	Data            map[string]any    `json:"data,omitempty"`
	Query           *tenant.ListQuery `json:"-"`
	TenantContext   *tenant.Context   `json:"tenant_context,omitempty"`
	RequestID       string            `json:"request_id,omitempty"`
	ExpectedVersion version.Version   `json:"-"`
}

// Metadata travels with every response regardless of outcome.
type Metadata struct {
	ResourceType  string            `json:"resource_type,omitempty"`
	ResourceID    string            `json:"resource_id,omitempty"`
	ResourceCount *int              `json:"resource_count,omitempty"`
	TotalResults  *int              `json:"total_results,omitempty"`
	RequestID     string            `json:"request_id"`
	TenantID      string            `json:"tenant_id,omitempty"`
	Schemas       []string          `json:"schemas,omitempty"`
	Additional    map[string]string `json:"additional,omitempty"`
}

// OperationResponse is the uniform dispatch result.
type OperationResponse struct {
	Success   bool     `json:"success"`
	Data      any      `json:"data,omitempty"`
	Error     string   `json:"error,omitempty"`
	ErrorCode string   `json:"error_code,omitempty"`
	Metadata  Metadata `json:"metadata"`
}

// Handler dispatches operation requests to a resource provider.
type Handler struct {
	provider *provider.Provider
	registry *schema.Registry
	logger   *slog.Logger

	tracer     trace.Tracer
	opCount    metric.Int64Counter
	opDuration metric.Float64Histogram
	audit      *observability.AuditTimeline
	slos       *observability.SLOTracker
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithAuditTimeline records every mutating operation on the timeline.
func WithAuditTimeline(t *observability.AuditTimeline) Option {
	return func(h *Handler) { h.audit = t }
}

// WithSLOTracker feeds dispatch outcomes into the SLO tracker.
func WithSLOTracker(t *observability.SLOTracker) Option {
	return func(h *Handler) { h.slos = t }
}

// New builds a handler over the provider and schema registry.
func New(p *provider.Provider, registry *schema.Registry, opts ...Option) *Handler {
	h := &Handler{
		provider: p,
		registry: registry,
		logger:   slog.Default(),
		tracer:   otel.Tracer(scopeName),
	}
	meter := otel.Meter(scopeName)
	h.opCount, _ = meter.Int64Counter("scim.operations",
		metric.WithDescription("Dispatched operations by type and outcome"))
	h.opDuration, _ = meter.Float64Histogram("scim.operation.duration",
		metric.WithDescription("Operation dispatch latency"),
		metric.WithUnit("ms"))
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle dispatches one operation. It never returns an error; failures are
// folded into the response with a machine-readable code.
func (h *Handler) Handle(ctx context.Context, req *OperationRequest) *OperationResponse {
	start := time.Now()
	rctx := tenant.NewRequestContext(reqID(req), tenantContext(req))

	ctx, span := h.tracer.Start(ctx, "scim."+string(operation(req)),
		trace.WithAttributes(observability.OperationAttributes(
			string(operation(req)), resourceType(req),
			rctx.EffectiveTenantID(), rctx.RequestID)...))
	defer span.End()

	resp := h.dispatch(ctx, rctx, req)
	resp.Metadata.RequestID = rctx.RequestID
	if rctx.Tenant != nil {
		resp.Metadata.TenantID = rctx.Tenant.TenantID
	}

	outcome := "success"
	if !resp.Success {
		outcome = resp.ErrorCode
		span.SetStatus(codes.Error, resp.Error)
		h.logger.WarnContext(ctx, "operation failed",
			"operation", operation(req), "resource_type", resourceType(req),
			"request_id", rctx.RequestID, "error_code", resp.ErrorCode, "error", resp.Error)
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", string(operation(req))),
		attribute.String("outcome", outcome))
	h.opCount.Add(ctx, 1, attrs)
	h.opDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000.0, attrs)

	if h.slos != nil {
		h.slos.Record(observability.SLOObservation{
			Operation: string(operation(req)),
			Latency:   time.Since(start),
			Success:   resp.Success,
		})
	}
	h.recordAudit(rctx, req, resp, outcome)
	return resp
}

// recordAudit appends mutating operations to the audit timeline.
func (h *Handler) recordAudit(rctx *tenant.RequestContext, req *OperationRequest, resp *OperationResponse, outcome string) {
	if h.audit == nil {
		return
	}
	switch operation(req) {
	case OpCreate, OpUpdate, OpDelete, OpPatch:
	default:
		return
	}
	actor := ""
	if rctx.Tenant != nil {
		actor = rctx.Tenant.ClientID
	}
	resourceID := req.ResourceID
	if resourceID == "" {
		resourceID = resp.Metadata.ResourceID
	}
	entry := observability.AuditEntry{
		Operation:    string(operation(req)),
		TenantID:     rctx.EffectiveTenantID(),
		ResourceType: resourceType(req),
		ResourceID:   resourceID,
		RequestID:    rctx.RequestID,
		Actor:        actor,
		Outcome:      outcome,
	}
	if !resp.Success {
		entry.Details = map[string]any{"error": resp.Error}
	}
	if err := h.audit.Record(entry); err != nil {
		h.logger.Warn("audit record failed", "error", err)
	}
}

func (h *Handler) dispatch(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest) *OperationResponse {
	if req == nil {
		return failure(scim.InvalidRequest("request must not be null"))
	}
	switch req.Operation {
	case OpCreate:
		return h.create(ctx, rctx, req)
	case OpGet:
		return h.get(ctx, rctx, req)
	case OpUpdate:
		return h.update(ctx, rctx, req)
	case OpDelete:
		return h.delete(ctx, rctx, req)
	case OpList:
		return h.list(ctx, rctx, req, req.Query)
	case OpSearch:
		query, err := searchQuery(req.Data)
		if err != nil {
			return failure(err)
		}
		return h.list(ctx, rctx, req, query)
	case OpGetSchemas:
		return h.getSchemas()
	case OpGetSchema:
		return h.getSchema(req)
	case OpExists:
		return h.exists(ctx, rctx, req)
	case OpPatch:
		return h.patch(ctx, rctx, req)
	default:
		return failure(scim.NewError(scim.CodeUnsupportedOperation, "operation %q is not supported", req.Operation))
	}
}

func (h *Handler) create(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest) *OperationResponse {
	if req.Data == nil {
		return failure(scim.InvalidRequest("create requires a resource document"))
	}
	vr, err := h.provider.Create(ctx, rctx, req.ResourceType, req.Data)
	if err != nil {
		return failure(err)
	}
	return resourceResponse(req.ResourceType, vr)
}

func (h *Handler) get(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest) *OperationResponse {
	if req.ResourceID == "" {
		return failure(scim.InvalidRequest("get requires a resource id"))
	}
	vr, err := h.provider.Get(ctx, rctx, req.ResourceType, req.ResourceID)
	if err != nil {
		return failure(err)
	}
	return resourceResponse(req.ResourceType, vr)
}

func (h *Handler) update(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest) *OperationResponse {
	if req.ResourceID == "" {
		return failure(scim.InvalidRequest("update requires a resource id"))
	}
	if req.Data == nil {
		return failure(scim.InvalidRequest("update requires a resource document"))
	}
	if !req.ExpectedVersion.IsZero() {
		res, err := h.provider.UpdateConditional(ctx, rctx, req.ResourceType, req.ResourceID, req.Data, req.ExpectedVersion)
		if err != nil {
			return failure(err)
		}
		return conditionalResponse(req.ResourceType, req.ResourceID, res)
	}
	vr, err := h.provider.Update(ctx, rctx, req.ResourceType, req.ResourceID, req.Data)
	if err != nil {
		return failure(err)
	}
	return resourceResponse(req.ResourceType, vr)
}

func (h *Handler) delete(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest) *OperationResponse {
	if req.ResourceID == "" {
		return failure(scim.InvalidRequest("delete requires a resource id"))
	}
	if !req.ExpectedVersion.IsZero() {
		res, err := h.provider.DeleteConditional(ctx, rctx, req.ResourceType, req.ResourceID, req.ExpectedVersion)
		if err != nil {
			return failure(err)
		}
		switch res.Outcome {
		case version.OutcomeSuccess:
			return &OperationResponse{
				Success: true,
				Metadata: Metadata{
					ResourceType: req.ResourceType,
					ResourceID:   req.ResourceID,
				},
			}
		case version.OutcomeVersionMismatch:
			return conflictResponse(req.ResourceType, req.ResourceID, res.Conflict)
		default:
			return failure(scim.NewError(scim.CodeResourceNotFound, "%s %q not found", req.ResourceType, req.ResourceID))
		}
	}
	if err := h.provider.Delete(ctx, rctx, req.ResourceType, req.ResourceID); err != nil {
		return failure(err)
	}
	return &OperationResponse{
		Success: true,
		Metadata: Metadata{
			ResourceType: req.ResourceType,
			ResourceID:   req.ResourceID,
		},
	}
}

func (h *Handler) list(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest, query *tenant.ListQuery) *OperationResponse {
	result, err := h.provider.List(ctx, rctx, req.ResourceType, query)
	if err != nil {
		return failure(err)
	}
	resources := make([]any, 0, len(result.Resources))
	for i := range result.Resources {
		resources = append(resources, resourceDoc(&result.Resources[i]))
	}
	count := len(resources)
	total := result.TotalResults
	return &OperationResponse{
		Success: true,
		Data: map[string]any{
			"schemas":      []any{scim.ListResponseURN},
			"Resources":    resources,
			"totalResults": result.TotalResults,
			"startIndex":   result.StartIndex,
			"itemsPerPage": result.ItemsPerPage,
		},
		Metadata: Metadata{
			ResourceType:  req.ResourceType,
			ResourceCount: &count,
			TotalResults:  &total,
			Schemas:       []string{scim.ListResponseURN},
		},
	}
}

func (h *Handler) getSchemas() *OperationResponse {
	all := h.registry.ListAll()
	docs := make([]any, 0, len(all))
	uris := make([]string, 0, len(all))
	for _, s := range all {
		docs = append(docs, s)
		uris = append(uris, s.ID)
	}
	count := len(docs)
	return &OperationResponse{
		Success: true,
		Data:    docs,
		Metadata: Metadata{
			ResourceCount: &count,
			Schemas:       uris,
		},
	}
}

func (h *Handler) getSchema(req *OperationRequest) *OperationResponse {
	uri := req.ResourceID
	if uri == "" {
		return failure(scim.InvalidRequest("get_schema requires the schema URI as resource id"))
	}
	s, err := h.registry.GetByURI(uri)
	if err != nil {
		return failure(err)
	}
	return &OperationResponse{
		Success: true,
		Data:    s,
		Metadata: Metadata{
			Schemas: []string{s.ID},
		},
	}
}

func (h *Handler) exists(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest) *OperationResponse {
	if req.ResourceID == "" {
		return failure(scim.InvalidRequest("exists requires a resource id"))
	}
	ok, err := h.provider.Exists(ctx, rctx, req.ResourceType, req.ResourceID)
	if err != nil {
		return failure(err)
	}
	return &OperationResponse{
		Success: true,
		Data:    map[string]any{"exists": ok},
		Metadata: Metadata{
			ResourceType: req.ResourceType,
			ResourceID:   req.ResourceID,
		},
	}
}

func (h *Handler) patch(ctx context.Context, rctx *tenant.RequestContext, req *OperationRequest) *OperationResponse {
	if req.ResourceID == "" {
		return failure(scim.InvalidRequest("patch requires a resource id"))
	}
	if req.Data == nil {
		return failure(scim.InvalidRequest("patch requires a PatchOp document"))
	}
	patchReq, err := decodePatch(req.Data)
	if err != nil {
		return failure(err)
	}
	if patchReq.ETag == "" && !req.ExpectedVersion.IsZero() {
		patchReq.ETag = req.ExpectedVersion.HTTP()
	}
	res, err := h.provider.Patch(ctx, rctx, req.ResourceType, req.ResourceID, patchReq)
	if err != nil {
		return failure(err)
	}
	return conditionalResponse(req.ResourceType, req.ResourceID, res)
}

// conditionalResponse folds the three outcomes of a version-gated mutation
// into the response shape.
func conditionalResponse(resourceType, id string, res version.ConditionalResult[*scim.VersionedResource]) *OperationResponse {
	switch res.Outcome {
	case version.OutcomeSuccess:
		return resourceResponse(resourceType, res.Value)
	case version.OutcomeVersionMismatch:
		return conflictResponse(resourceType, id, res.Conflict)
	default:
		return failure(scim.NewError(scim.CodeResourceNotFound, "%s %q not found", resourceType, id))
	}
}

func conflictResponse(resourceType, id string, c *version.Conflict) *OperationResponse {
	return &OperationResponse{
		Success:   false,
		Error:     c.Message,
		ErrorCode: scim.CodeVersionMismatch,
		Metadata: Metadata{
			ResourceType: resourceType,
			ResourceID:   id,
			Additional: map[string]string{
				"expected_version": c.Expected.Raw(),
				"current_version":  c.Current.Raw(),
				"expected_etag":    c.Expected.HTTP(),
				"current_etag":     c.Current.HTTP(),
			},
		},
	}
}

func resourceResponse(resourceType string, vr *scim.VersionedResource) *OperationResponse {
	id := ""
	if vr.Resource.ID != nil {
		id = vr.Resource.ID.String()
	}
	return &OperationResponse{
		Success: true,
		Data:    resourceDoc(vr),
		Metadata: Metadata{
			ResourceType: resourceType,
			ResourceID:   id,
			Additional: map[string]string{
				"version": vr.Version.Raw(),
				"etag":    vr.Version.HTTP(),
			},
		},
	}
}

// resourceDoc renders a versioned resource for the wire, surfacing the ETag
// as meta.version.
func resourceDoc(vr *scim.VersionedResource) map[string]any {
	doc := vr.Resource.ToJSON()
	if meta, ok := doc["meta"].(map[string]any); ok {
		meta["version"] = vr.Version.HTTP()
	}
	return doc
}

func failure(err error) *OperationResponse {
	return &OperationResponse{
		Success:   false,
		Error:     err.Error(),
		ErrorCode: scim.CodeOf(err),
	}
}

// decodePatch converts a generic PatchOp document into the typed request.
func decodePatch(data map[string]any) (*patch.Request, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, scim.InvalidRequest("patch document is not representable as JSON: %v", err)
	}
	var req patch.Request
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, scim.InvalidRequest("malformed PatchOp document: %v", err)
	}
	return &req, nil
}

// searchQuery converts a SearchRequest body into a list query.
func searchQuery(data map[string]any) (*tenant.ListQuery, error) {
	if data == nil {
		return &tenant.ListQuery{}, nil
	}
	var body struct {
		StartIndex *int     `json:"startIndex"`
		Count      *int     `json:"count"`
		Filter     string   `json:"filter"`
		Attributes []string `json:"attributes"`
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, scim.InvalidRequest("search request is not representable as JSON: %v", err)
	}
	if err := json.Unmarshal(b, &body); err != nil {
		return nil, scim.InvalidRequest("malformed search request: %v", err)
	}
	return &tenant.ListQuery{
		StartIndex: body.StartIndex,
		Count:      body.Count,
		Filter:     body.Filter,
		Attributes: body.Attributes,
	}, nil
}

func operation(req *OperationRequest) Operation {
	if req == nil {
		return ""
	}
	return req.Operation
}

func resourceType(req *OperationRequest) string {
	if req == nil {
		return ""
	}
	return req.ResourceType
}

func reqID(req *OperationRequest) string {
	if req == nil {
		return ""
	}
	return req.RequestID
}

func tenantContext(req *OperationRequest) *tenant.Context {
	if req == nil {
		return nil
	}
	return req.TenantContext
}
