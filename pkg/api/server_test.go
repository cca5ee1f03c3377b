package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/scimd/pkg/handler"
	"github.com/Mindburn-Labs/scimd/pkg/provider"
	"github.com/Mindburn-Labs/scimd/pkg/resolver"
	"github.com/Mindburn-Labs/scimd/pkg/schema"
	"github.com/Mindburn-Labs/scimd/pkg/scim"
	"github.com/Mindburn-Labs/scimd/pkg/storage"
	"github.com/Mindburn-Labs/scimd/pkg/tenant"
)

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	registry := schema.NewRegistry()
	p := provider.New(storage.NewMemoryStore(), registry)
	srv := httptest.NewServer(Chain(NewServer(handler.New(p, registry), opts...), RequestID))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any, header http.Header) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", ContentType)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func userBody(userName string) map[string]any {
	return map[string]any{
		"schemas":  []string{scim.UserCoreSchema},
		"userName": userName,
	}
}

func TestServer_CreateAndGet(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users", userBody("jdoe"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	assert.NotEmpty(t, etag)
	assert.Equal(t, ContentType, resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))

	created := decodeBody(t, resp)
	id := created["id"].(string)
	require.NotEmpty(t, id)
	meta := created["meta"].(map[string]any)
	assert.Equal(t, etag, meta["version"])

	got := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Users/"+id, nil, nil)
	require.Equal(t, http.StatusOK, got.StatusCode)
	assert.Equal(t, etag, got.Header.Get("ETag"))
	doc := decodeBody(t, got)
	assert.Equal(t, "jdoe", doc["userName"])
}

func TestServer_GetMissingIs404(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Users/missing", nil, nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, []any{scim.ErrorURN}, body["schemas"])
	assert.Equal(t, "404", body["status"])
}

func TestServer_ConditionalUpdate(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users", userBody("jdoe"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	etag := resp.Header.Get("ETag")
	id := decodeBody(t, resp)["id"].(string)

	ifMatch := http.Header{"If-Match": []string{etag}}
	ok := doJSON(t, http.MethodPut, srv.URL+"/scim/v2/Users/"+id, userBody("jdoe2"), ifMatch)
	require.Equal(t, http.StatusOK, ok.StatusCode)
	newETag := ok.Header.Get("ETag")
	assert.NotEqual(t, etag, newETag)
	ok.Body.Close()

	// The original ETag is stale now.
	stale := doJSON(t, http.MethodPut, srv.URL+"/scim/v2/Users/"+id, userBody("jdoe3"), ifMatch)
	require.Equal(t, http.StatusPreconditionFailed, stale.StatusCode)
	assert.Equal(t, newETag, stale.Header.Get("ETag"))
	body := decodeBody(t, stale)
	assert.Equal(t, "412", body["status"])

	malformed := doJSON(t, http.MethodPut, srv.URL+"/scim/v2/Users/"+id, userBody("x"),
		http.Header{"If-Match": []string{`W/unquoted`}})
	require.Equal(t, http.StatusBadRequest, malformed.StatusCode)
	malformed.Body.Close()
}

func TestServer_Patch(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users", userBody("jdoe"), nil)
	id := decodeBody(t, resp)["id"].(string)

	patched := doJSON(t, http.MethodPatch, srv.URL+"/scim/v2/Users/"+id, map[string]any{
		"schemas": []string{scim.PatchOpURN},
		"Operations": []map[string]any{
			{"op": "replace", "path": "userName", "value": "patched"},
		},
	}, nil)
	require.Equal(t, http.StatusOK, patched.StatusCode)
	doc := decodeBody(t, patched)
	assert.Equal(t, "patched", doc["userName"])
}

func TestServer_DeleteIs204(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users", userBody("jdoe"), nil)
	id := decodeBody(t, resp)["id"].(string)

	del := doJSON(t, http.MethodDelete, srv.URL+"/scim/v2/Users/"+id, nil, nil)
	require.Equal(t, http.StatusNoContent, del.StatusCode)
	del.Body.Close()

	again := doJSON(t, http.MethodDelete, srv.URL+"/scim/v2/Users/"+id, nil, nil)
	require.Equal(t, http.StatusNotFound, again.StatusCode)
	again.Body.Close()
}

func TestServer_ListAndSearch(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	for _, name := range []string{"alice", "bob", "carol"} {
		resp := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users", userBody(name), nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}

	list := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Users?startIndex=2&count=1", nil, nil)
	require.Equal(t, http.StatusOK, list.StatusCode)
	body := decodeBody(t, list)
	assert.Equal(t, float64(3), body["totalResults"])
	assert.Equal(t, float64(2), body["startIndex"])
	assert.Equal(t, float64(1), body["itemsPerPage"])
	assert.Len(t, body["Resources"].([]any), 1)

	search := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users/.search", map[string]any{
		"schemas":    []string{scim.SearchRequestURN},
		"startIndex": 1,
		"count":      2,
	}, nil)
	require.Equal(t, http.StatusOK, search.StatusCode)
	body = decodeBody(t, search)
	assert.Equal(t, float64(3), body["totalResults"])
	assert.Len(t, body["Resources"].([]any), 2)

	bad := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Users?count=abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, bad.StatusCode)
	bad.Body.Close()
}

func TestServer_SchemasAndServiceProviderConfig(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t)

	resp := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Schemas/"+scim.UserCoreSchema, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "User", body["name"])

	spc := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/ServiceProviderConfig", nil, nil)
	require.Equal(t, http.StatusOK, spc.StatusCode)
	body = decodeBody(t, spc)
	etagSupport := body["etag"].(map[string]any)
	assert.Equal(t, true, etagSupport["supported"])
}

func TestServer_TenantAuth(t *testing.T) {
	t.Parallel()

	static := resolver.NewStatic()
	require.NoError(t, static.AddTenant(tenant.NewContext("acme", "client-a"), "s3cret"))
	srv := newTestServer(t, WithResolver(static))

	authed := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users", userBody("jdoe"),
		http.Header{"Authorization": []string{"Bearer client-a.s3cret"}})
	require.Equal(t, http.StatusCreated, authed.StatusCode)
	authed.Body.Close()

	denied := doJSON(t, http.MethodPost, srv.URL+"/scim/v2/Users", userBody("jdoe"),
		http.Header{"Authorization": []string{"Bearer client-a.wrong"}})
	require.Equal(t, http.StatusUnauthorized, denied.StatusCode)
	assert.NotEmpty(t, denied.Header.Get("WWW-Authenticate"))
	denied.Body.Close()

	// Tenant-scoped data is invisible without the credential.
	anon := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Users", nil, nil)
	require.Equal(t, http.StatusOK, anon.StatusCode)
	body := decodeBody(t, anon)
	assert.Equal(t, float64(0), body["totalResults"])
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	registry := schema.NewRegistry()
	p := provider.New(storage.NewMemoryStore(), registry)
	limiter := NewRateLimiter(1, 2)
	srv := httptest.NewServer(Chain(NewServer(handler.New(p, registry)), RequestID, limiter.Middleware))
	t.Cleanup(srv.Close)

	statuses := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		resp := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Schemas", nil, nil)
		statuses = append(statuses, resp.StatusCode)
		resp.Body.Close()
	}
	assert.Contains(t, statuses, http.StatusTooManyRequests)
	assert.Equal(t, http.StatusOK, statuses[0])
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	type observation struct {
		method string
		status int
	}
	var (
		mu   sync.Mutex
		seen []observation
	)
	record := func(_ context.Context, method, _ string, status int, _ time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, observation{method: method, status: status})
	}

	registry := schema.NewRegistry()
	p := provider.New(storage.NewMemoryStore(), registry)
	srv := httptest.NewServer(Chain(NewServer(handler.New(p, registry)), RequestID, Metrics(record)))
	t.Cleanup(srv.Close)

	ok := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Schemas", nil, nil)
	ok.Body.Close()
	missing := doJSON(t, http.MethodGet, srv.URL+"/scim/v2/Users/absent", nil, nil)
	missing.Body.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, observation{method: http.MethodGet, status: http.StatusOK}, seen[0])
	assert.Equal(t, observation{method: http.MethodGet, status: http.StatusNotFound}, seen[1])
}
