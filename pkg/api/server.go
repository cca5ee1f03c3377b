// Package api binds the operation handler to the SCIM 2.0 HTTP surface:
// /scim/v2 resource endpoints with ETag/If-Match conditional semantics,
// bearer-credential tenant resolution and the RFC 7644 error envelope.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/Mindburn-Labs/scimd/pkg/handler"
	"github.com/Mindburn-Labs/scimd/pkg/resolver"
	"github.com/Mindburn-Labs/scimd/pkg/scim"
	"github.com/Mindburn-Labs/scimd/pkg/tenant"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

const (
	// ContentType is the SCIM media type (RFC 7644 §3.1).
	ContentType = "application/scim+json"

	basePath = "/scim/v2"
)

// Server is the HTTP adapter over the operation handler.
type Server struct {
	handler  *handler.Handler
	resolver resolver.Resolver
	logger   *slog.Logger
	mux      *http.ServeMux
}

// Option configures a Server.
type Option func(*Server)

// WithResolver enables multi-tenant operation via bearer credentials.
func WithResolver(r resolver.Resolver) Option {
	return func(s *Server) { s.resolver = r }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the SCIM HTTP surface.
func NewServer(h *handler.Handler, opts ...Option) *Server {
	s := &Server{
		handler: h,
		logger:  slog.Default(),
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET "+basePath+"/ServiceProviderConfig", s.serviceProviderConfig)
	s.mux.HandleFunc("GET "+basePath+"/Schemas", s.listSchemas)
	s.mux.HandleFunc("GET "+basePath+"/Schemas/{urn}", s.getSchema)

	s.mux.HandleFunc("POST "+basePath+"/{type}/.search", s.search)
	s.mux.HandleFunc("POST "+basePath+"/{type}", s.create)
	s.mux.HandleFunc("GET "+basePath+"/{type}", s.list)
	s.mux.HandleFunc("GET "+basePath+"/{type}/{id}", s.get)
	s.mux.HandleFunc("PUT "+basePath+"/{type}/{id}", s.update)
	s.mux.HandleFunc("PATCH "+basePath+"/{type}/{id}", s.patch)
	s.mux.HandleFunc("DELETE "+basePath+"/{type}/{id}", s.delete)
}

// resourceType maps a path segment like "Users" to the type name "User".
func resourceType(r *http.Request) string {
	seg := r.PathValue("type")
	return strings.TrimSuffix(seg, "s")
}

// tenantContext resolves the bearer credential, when present. A missing
// header means single-tenant operation; a bad credential is a 401.
func (s *Server) tenantContext(r *http.Request) (*tenant.Context, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" || s.resolver == nil {
		return nil, nil
	}
	credential := strings.TrimPrefix(auth, "Bearer ")
	tc, err := s.resolver.Resolve(r.Context(), credential)
	if err != nil {
		return nil, err
	}
	return tc, nil
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	tc, err := s.tenantContext(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, scim.CodeInvalidRequest, "request body is not valid JSON")
		return
	}
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:     handler.OpCreate,
		ResourceType:  resourceType(r),
		Data:          doc,
		TenantContext: tc,
		RequestID:     requestID(r),
	})
	s.writeResource(w, resp, http.StatusCreated)
}

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	tc, err := s.tenantContext(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:     handler.OpGet,
		ResourceType:  resourceType(r),
		ResourceID:    r.PathValue("id"),
		TenantContext: tc,
		RequestID:     requestID(r),
	})
	s.writeResource(w, resp, http.StatusOK)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	tc, err := s.tenantContext(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	expected, ok := expectedVersion(w, r)
	if !ok {
		return
	}
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, scim.CodeInvalidRequest, "request body is not valid JSON")
		return
	}
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:       handler.OpUpdate,
		ResourceType:    resourceType(r),
		ResourceID:      r.PathValue("id"),
		Data:            doc,
		TenantContext:   tc,
		RequestID:       requestID(r),
		ExpectedVersion: expected,
	})
	s.writeResource(w, resp, http.StatusOK)
}

func (s *Server) patch(w http.ResponseWriter, r *http.Request) {
	tc, err := s.tenantContext(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	expected, ok := expectedVersion(w, r)
	if !ok {
		return
	}
	var doc map[string]any
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		writeError(w, http.StatusBadRequest, scim.CodeInvalidRequest, "request body is not valid JSON")
		return
	}
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:       handler.OpPatch,
		ResourceType:    resourceType(r),
		ResourceID:      r.PathValue("id"),
		Data:            doc,
		TenantContext:   tc,
		RequestID:       requestID(r),
		ExpectedVersion: expected,
	})
	s.writeResource(w, resp, http.StatusOK)
}

func (s *Server) delete(w http.ResponseWriter, r *http.Request) {
	tc, err := s.tenantContext(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	expected, ok := expectedVersion(w, r)
	if !ok {
		return
	}
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:       handler.OpDelete,
		ResourceType:    resourceType(r),
		ResourceID:      r.PathValue("id"),
		TenantContext:   tc,
		RequestID:       requestID(r),
		ExpectedVersion: expected,
	})
	if !resp.Success {
		s.writeFailure(w, resp)
		return
	}
	w.Header().Set("X-Request-Id", resp.Metadata.RequestID)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	tc, err := s.tenantContext(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	query, err := listQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, scim.CodeInvalidRequest, err.Error())
		return
	}
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:     handler.OpList,
		ResourceType:  resourceType(r),
		Query:         query,
		TenantContext: tc,
		RequestID:     requestID(r),
	})
	s.writeBody(w, resp, http.StatusOK)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	tc, err := s.tenantContext(r)
	if err != nil {
		writeUnauthorized(w)
		return
	}
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, scim.CodeInvalidRequest, "request body is not valid JSON")
		return
	}
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:     handler.OpSearch,
		ResourceType:  resourceType(r),
		Data:          body,
		TenantContext: tc,
		RequestID:     requestID(r),
	})
	s.writeBody(w, resp, http.StatusOK)
}

func (s *Server) listSchemas(w http.ResponseWriter, r *http.Request) {
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation: handler.OpGetSchemas,
		RequestID: requestID(r),
	})
	s.writeBody(w, resp, http.StatusOK)
}

func (s *Server) getSchema(w http.ResponseWriter, r *http.Request) {
	resp := s.handler.Handle(r.Context(), &handler.OperationRequest{
		Operation:  handler.OpGetSchema,
		ResourceID: r.PathValue("urn"),
		RequestID:  requestID(r),
	})
	s.writeBody(w, resp, http.StatusOK)
}

func (s *Server) serviceProviderConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"schemas":    []string{"urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"},
		"patch":      map[string]any{"supported": true},
		"etag":       map[string]any{"supported": true},
		"bulk":       map[string]any{"supported": false, "maxOperations": 0, "maxPayloadSize": 0},
		"filter":     map[string]any{"supported": false, "maxResults": 0},
		"changePassword": map[string]any{"supported": false},
		"sort":           map[string]any{"supported": false},
		"authenticationSchemes": []any{map[string]any{
			"type":        "oauthbearertoken",
			"name":        "Bearer credential",
			"description": "Opaque tenant credential presented as a bearer token",
		}},
	})
}

// writeResource renders a single-resource response, surfacing the version as
// an ETag header.
func (s *Server) writeResource(w http.ResponseWriter, resp *handler.OperationResponse, okStatus int) {
	if !resp.Success {
		s.writeFailure(w, resp)
		return
	}
	if etag := resp.Metadata.Additional["etag"]; etag != "" {
		w.Header().Set("ETag", etag)
	}
	w.Header().Set("X-Request-Id", resp.Metadata.RequestID)
	writeJSON(w, okStatus, resp.Data)
}

func (s *Server) writeBody(w http.ResponseWriter, resp *handler.OperationResponse, okStatus int) {
	if !resp.Success {
		s.writeFailure(w, resp)
		return
	}
	w.Header().Set("X-Request-Id", resp.Metadata.RequestID)
	writeJSON(w, okStatus, resp.Data)
}

func (s *Server) writeFailure(w http.ResponseWriter, resp *handler.OperationResponse) {
	status := scim.HTTPStatus(resp.ErrorCode)
	if resp.ErrorCode == scim.CodeVersionMismatch {
		if etag := resp.Metadata.Additional["current_etag"]; etag != "" {
			w.Header().Set("ETag", etag)
		}
	}
	w.Header().Set("X-Request-Id", resp.Metadata.RequestID)
	writeError(w, status, resp.ErrorCode, resp.Error)
}

// expectedVersion parses If-Match into a version; a malformed header is
// answered with 400 and ok=false.
func expectedVersion(w http.ResponseWriter, r *http.Request) (version.Version, bool) {
	raw := r.Header.Get("If-Match")
	if raw == "" {
		return version.Version{}, true
	}
	v, err := version.ParseETag(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, scim.CodeInvalidRequest, "malformed If-Match header")
		return version.Version{}, false
	}
	return v, true
}

func listQuery(r *http.Request) (*tenant.ListQuery, error) {
	q := &tenant.ListQuery{Filter: r.URL.Query().Get("filter")}
	for param, dst := range map[string]**int{"startIndex": &q.StartIndex, "count": &q.Count} {
		raw := r.URL.Query().Get(param)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, scim.InvalidRequest("%s must be an integer", param)
		}
		*dst = &n
	}
	return q, nil
}

func requestID(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

