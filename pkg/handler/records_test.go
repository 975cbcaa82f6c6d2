package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/larkmcp/lark-mcp-server/pkg/provider"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newStubAPI(t *testing.T) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code":                0,
			"tenant_access_token": "t-token",
			"expire":              7200,
		})
	})
	return mux
}

func newTestProvider(t *testing.T, apiBase string, env map[string]string) *provider.ApiProvider {
	t.Helper()

	t.Setenv("LARK_MCP_APP_ID", "app-id")
	t.Setenv("LARK_MCP_APP_SECRET", "app-secret")
	t.Setenv("LARK_MCP_APP_TOKEN", "app123")
	t.Setenv("LARK_MCP_API_BASE", apiBase)
	t.Setenv("LARK_MCP_TABLES_CACHE", t.TempDir()+"/tables_cache.json")
	for k, v := range env {
		t.Setenv(k, v)
	}

	p, err := provider.New("stdio", zap.NewNop())
	require.NoError(t, err)
	return p
}

func callToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func toolText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok, "expected text content")
	return tc.Text
}

func TestRecordsListHandlerEmitsCSV(t *testing.T) {
	mux := newStubAPI(t)
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables/tbl1/records", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"record_id": "rec1", "fields": map[string]any{"Name": "Alice\nSmith", "Amount": 100.5}},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	rh := NewRecordsHandler(p)

	res, err := rh.RecordsListHandler(context.Background(), callToolRequest("records_list", map[string]any{
		"table_id": "tbl1",
	}))
	require.NoError(t, err)

	out := toolText(t, res)
	assert.Contains(t, out, "rec1,Name,Alice Smith", "field values are flattened to one line")
	assert.Contains(t, out, "rec1,Amount,100.5")
}

func TestRecordsListHandlerValidatesArguments(t *testing.T) {
	srv := httptest.NewServer(newStubAPI(t))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	rh := NewRecordsHandler(p)

	_, err := rh.RecordsListHandler(context.Background(), callToolRequest("records_list", map[string]any{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table_id")

	_, err = rh.RecordsListHandler(context.Background(), callToolRequest("records_list", map[string]any{
		"table_id": "tbl1",
		"limit":    10000,
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit")
}

func TestRecordsCreateHandler(t *testing.T) {
	mux := newStubAPI(t)
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables/tbl1/records/batch_create", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Records []struct {
				Fields map[string]any `json:"fields"`
			} `json:"records"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Records, 2)

		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"records": []map[string]any{
					{"record_id": "rec1", "fields": req.Records[0].Fields},
					{"record_id": "rec2", "fields": req.Records[1].Fields},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	rh := NewRecordsHandler(p)

	res, err := rh.RecordsCreateHandler(context.Background(), callToolRequest("records_create", map[string]any{
		"table_id": "tbl1",
		"records":  `[{"Name":"Alice"},{"Name":"Bob"}]`,
	}))
	require.NoError(t, err)

	out := toolText(t, res)
	assert.Contains(t, out, "Created 2 records")
	assert.Contains(t, out, "rec1")
}

func TestRecordsCreateHandlerSurfacesRateLimit(t *testing.T) {
	var hits int
	mux := newStubAPI(t)
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables/tbl1/records/batch_create", func(w http.ResponseWriter, r *http.Request) {
		hits++
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{"records": []map[string]any{{"record_id": "rec1"}}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Two write tokens: the token fetch and the first batch use them up.
	p := newTestProvider(t, srv.URL, map[string]string{
		"LARK_MCP_WRITES_PER_MINUTE": "2",
	})
	rh := NewRecordsHandler(p)

	req := callToolRequest("records_create", map[string]any{
		"table_id": "tbl1",
		"records":  `[{"Name":"Alice"}]`,
	})

	res, err := rh.RecordsCreateHandler(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, res.IsError)
	require.Equal(t, 1, hits)

	res, err = rh.RecordsCreateHandler(context.Background(), req)
	require.NoError(t, err, "a denial is a tool-level error, not a protocol error")
	assert.True(t, res.IsError)
	assert.Contains(t, toolText(t, res), "too many write requests")
	assert.Equal(t, 1, hits, "denied call must not reach the API")
}
