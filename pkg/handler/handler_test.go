package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scimd/pkg/observability"
	"github.com/Mindburn-Labs/scimd/pkg/provider"
	"github.com/Mindburn-Labs/scimd/pkg/schema"
	"github.com/Mindburn-Labs/scimd/pkg/scim"
	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/tenant"
	"github.com/Mindburn-Labs/scimd/pkg/version"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	registry := schema.NewRegistry()
	p := provider.New(storage.NewMemoryStore(), registry)
	return New(p, registry)
}

func userDoc(userName string) map[string]any {
	return map[string]any{
		"schemas":  []any{scim.UserCoreSchema},
		"userName": userName,
	}
}

func createUser(t *testing.T, h *Handler, userName string) *OperationResponse {
	t.Helper()
	resp := h.Handle(context.Background(), &OperationRequest{
		Operation:    OpCreate,
		ResourceType: "User",
		Data:         userDoc(userName),
	})
	require.True(t, resp.Success, "create failed: %s", resp.Error)
	return resp
}

func TestHandle_CreateCarriesVersionMetadata(t *testing.T) {
	t.Parallel()
	h := newHandler(t)

	resp := createUser(t, h, "jdoe")

	assert.NotEmpty(t, resp.Metadata.RequestID)
	assert.NotEmpty(t, resp.Metadata.ResourceID)
	require.NotNil(t, resp.Metadata.Additional)
	assert.NotEmpty(t, resp.Metadata.Additional["version"])
	assert.Equal(t, `W/"`+resp.Metadata.Additional["version"]+`"`, resp.Metadata.Additional["etag"])

	doc, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	meta := doc["meta"].(map[string]any)
	assert.Equal(t, resp.Metadata.Additional["etag"], meta["version"])
}

func TestHandle_RequestIDEchoed(t *testing.T) {
	t.Parallel()
	h := newHandler(t)

	resp := h.Handle(context.Background(), &OperationRequest{
		Operation:    OpGet,
		ResourceType: "User",
		ResourceID:   "missing",
		RequestID:    "req-42",
	})
	assert.False(t, resp.Success)
	assert.Equal(t, "req-42", resp.Metadata.RequestID)
	assert.Equal(t, scim.CodeResourceNotFound, resp.ErrorCode)
}

func TestHandle_MissingIDFailsBeforeProvider(t *testing.T) {
	t.Parallel()
	h := newHandler(t)

	for _, op := range []Operation{OpGet, OpUpdate, OpDelete, OpPatch, OpExists} {
		t.Run(string(op), func(t *testing.T) {
			resp := h.Handle(context.Background(), &OperationRequest{
				Operation:    op,
				ResourceType: "User",
				Data:         userDoc("x"),
			})
			assert.False(t, resp.Success)
			assert.Equal(t, scim.CodeInvalidRequest, resp.ErrorCode)
		})
	}
}

func TestHandle_ConditionalUpdateConflict(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	created := createUser(t, h, "jdoe")
	id := created.Metadata.ResourceID
	v := version.FromRaw(created.Metadata.Additional["version"])

	ok := h.Handle(ctx, &OperationRequest{
		Operation:       OpUpdate,
		ResourceType:    "User",
		ResourceID:      id,
		Data:            userDoc("jdoe2"),
		ExpectedVersion: v,
	})
	require.True(t, ok.Success, ok.Error)

	stale := h.Handle(ctx, &OperationRequest{
		Operation:       OpUpdate,
		ResourceType:    "User",
		ResourceID:      id,
		Data:            userDoc("jdoe3"),
		ExpectedVersion: v,
	})
	require.False(t, stale.Success)
	assert.Equal(t, scim.CodeVersionMismatch, stale.ErrorCode)
	add := stale.Metadata.Additional
	assert.Equal(t, v.Raw(), add["expected_version"])
	assert.Equal(t, ok.Metadata.Additional["version"], add["current_version"])
	assert.Equal(t, v.HTTP(), add["expected_etag"])
	assert.Equal(t, ok.Metadata.Additional["etag"], add["current_etag"])
}

func TestHandle_ConditionalDelete(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	created := createUser(t, h, "jdoe")
	id := created.Metadata.ResourceID

	stale := h.Handle(ctx, &OperationRequest{
		Operation:       OpDelete,
		ResourceType:    "User",
		ResourceID:      id,
		ExpectedVersion: version.FromRaw("stale"),
	})
	assert.False(t, stale.Success)
	assert.Equal(t, scim.CodeVersionMismatch, stale.ErrorCode)

	ok := h.Handle(ctx, &OperationRequest{
		Operation:       OpDelete,
		ResourceType:    "User",
		ResourceID:      id,
		ExpectedVersion: version.FromRaw(created.Metadata.Additional["version"]),
	})
	assert.True(t, ok.Success, ok.Error)
}

func TestHandle_ListEnvelope(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	createUser(t, h, "alice")
	createUser(t, h, "bob")

	resp := h.Handle(ctx, &OperationRequest{
		Operation:    OpList,
		ResourceType: "User",
	})
	require.True(t, resp.Success, resp.Error)

	data := resp.Data.(map[string]any)
	assert.Equal(t, []any{scim.ListResponseURN}, data["schemas"])
	assert.Equal(t, 2, data["totalResults"])
	assert.Equal(t, 1, data["startIndex"])
	assert.Equal(t, 2, data["itemsPerPage"])
	assert.Len(t, data["Resources"].([]any), 2)

	require.NotNil(t, resp.Metadata.TotalResults)
	assert.Equal(t, 2, *resp.Metadata.TotalResults)
	require.NotNil(t, resp.Metadata.ResourceCount)
	assert.Equal(t, 2, *resp.Metadata.ResourceCount)
}

func TestHandle_SearchBody(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol"} {
		createUser(t, h, name)
	}

	resp := h.Handle(ctx, &OperationRequest{
		Operation:    OpSearch,
		ResourceType: "User",
		Data: map[string]any{
			"schemas":    []any{scim.SearchRequestURN},
			"startIndex": 2,
			"count":      1,
			"filter":     `userName sw "a"`, // accepted, unevaluated
		},
	})
	require.True(t, resp.Success, resp.Error)

	data := resp.Data.(map[string]any)
	assert.Equal(t, 3, data["totalResults"])
	assert.Equal(t, 2, data["startIndex"])
	assert.Equal(t, 1, data["itemsPerPage"])
}

func TestHandle_Schemas(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	all := h.Handle(ctx, &OperationRequest{Operation: OpGetSchemas})
	require.True(t, all.Success)
	require.NotNil(t, all.Metadata.ResourceCount)
	assert.Equal(t, 2, *all.Metadata.ResourceCount)
	assert.Contains(t, all.Metadata.Schemas, scim.UserCoreSchema)

	one := h.Handle(ctx, &OperationRequest{
		Operation:  OpGetSchema,
		ResourceID: scim.GroupCoreSchema,
	})
	require.True(t, one.Success)
	s := one.Data.(*schema.Schema)
	assert.Equal(t, "Group", s.Name)

	missing := h.Handle(ctx, &OperationRequest{
		Operation:  OpGetSchema,
		ResourceID: "urn:ietf:params:scim:schemas:core:2.0:Device",
	})
	assert.False(t, missing.Success)
	assert.Equal(t, scim.CodeSchemaNotFound, missing.ErrorCode)
}

func TestHandle_Exists(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	created := createUser(t, h, "jdoe")

	resp := h.Handle(ctx, &OperationRequest{
		Operation:    OpExists,
		ResourceType: "User",
		ResourceID:   created.Metadata.ResourceID,
	})
	require.True(t, resp.Success)
	assert.Equal(t, map[string]any{"exists": true}, resp.Data)

	resp = h.Handle(ctx, &OperationRequest{
		Operation:    OpExists,
		ResourceType: "User",
		ResourceID:   "missing",
	})
	require.True(t, resp.Success)
	assert.Equal(t, map[string]any{"exists": false}, resp.Data)
}

func TestHandle_Patch(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	created := createUser(t, h, "jdoe")

	resp := h.Handle(ctx, &OperationRequest{
		Operation:    OpPatch,
		ResourceType: "User",
		ResourceID:   created.Metadata.ResourceID,
		Data: map[string]any{
			"schemas": []any{scim.PatchOpURN},
			"Operations": []any{
				map[string]any{"op": "replace", "path": "userName", "value": "patched"},
			},
		},
	})
	require.True(t, resp.Success, resp.Error)

	doc := resp.Data.(map[string]any)
	assert.Equal(t, "patched", doc["userName"])
	assert.NotEqual(t, created.Metadata.Additional["version"], resp.Metadata.Additional["version"])
}

func TestHandle_PatchConditionalMismatch(t *testing.T) {
	t.Parallel()
	h := newHandler(t)
	ctx := context.Background()

	created := createUser(t, h, "jdoe")

	resp := h.Handle(ctx, &OperationRequest{
		Operation:       OpPatch,
		ResourceType:    "User",
		ResourceID:      created.Metadata.ResourceID,
		ExpectedVersion: version.FromRaw("stale"),
		Data: map[string]any{
			"Operations": []any{
				map[string]any{"op": "replace", "path": "userName", "value": "patched"},
			},
		},
	})
	require.False(t, resp.Success)
	assert.Equal(t, scim.CodeVersionMismatch, resp.ErrorCode)
}

func TestHandle_UnsupportedOperation(t *testing.T) {
	t.Parallel()
	h := newHandler(t)

	resp := h.Handle(context.Background(), &OperationRequest{Operation: "bulk"})
	assert.False(t, resp.Success)
	assert.Equal(t, scim.CodeUnsupportedOperation, resp.ErrorCode)
}

func TestHandle_AuditAndSLORecording(t *testing.T) {
	t.Parallel()
	registry := schema.NewRegistry()
	p := provider.New(storage.NewMemoryStore(), registry)
	timeline := observability.NewAuditTimeline()
	slos := observability.DefaultSLOTracker()
	h := New(p, registry, WithAuditTimeline(timeline), WithSLOTracker(slos))

	created := h.Handle(context.Background(), &OperationRequest{
		Operation:    OpCreate,
		ResourceType: "User",
		Data:         userDoc("jdoe"),
		TenantContext: tenant.NewContext("acme", "client-a"),
	})
	require.True(t, created.Success, created.Error)

	// Reads stay off the audit timeline.
	got := h.Handle(context.Background(), &OperationRequest{
		Operation:    OpGet,
		ResourceType: "User",
		ResourceID:   created.Metadata.ResourceID,
		TenantContext: tenant.NewContext("acme", "client-a"),
	})
	require.True(t, got.Success, got.Error)

	failed := h.Handle(context.Background(), &OperationRequest{
		Operation:     OpDelete,
		ResourceType:  "User",
		ResourceID:    "missing",
		TenantContext: tenant.NewContext("acme", "client-a"),
	})
	require.False(t, failed.Success)

	entries := timeline.Query(observability.AuditQuery{TenantID: "acme"})
	require.Len(t, entries, 2)
	assert.Equal(t, "create", entries[0].Operation)
	assert.Equal(t, created.Metadata.ResourceID, entries[0].ResourceID)
	assert.Equal(t, "client-a", entries[0].Actor)
	assert.Equal(t, "success", entries[0].Outcome)
	assert.Equal(t, scim.CodeResourceNotFound, entries[1].Outcome)

	status, err := slos.Status("create")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ObservationCount)
	status, err = slos.Status("get")
	require.NoError(t, err)
	assert.Equal(t, 1, status.ObservationCount)
}
