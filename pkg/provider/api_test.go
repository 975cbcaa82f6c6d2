package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/larkmcp/lark-mcp-server/pkg/lark"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func newStubAPI(t *testing.T, tables []map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/open-apis/auth/v3/tenant_access_token/internal", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code":                0,
			"tenant_access_token": "t-token",
			"expire":              7200,
		})
	})
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{"has_more": false, "items": tables},
		})
	})
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"field_id": "fld1", "field_name": "Name", "type": 1},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func setProviderEnv(t *testing.T, apiBase, cacheFile string) {
	t.Helper()
	t.Setenv("LARK_MCP_APP_ID", "app-id")
	t.Setenv("LARK_MCP_APP_SECRET", "app-secret")
	t.Setenv("LARK_MCP_APP_TOKEN", "app123")
	t.Setenv("LARK_MCP_API_BASE", apiBase)
	t.Setenv("LARK_MCP_TABLES_CACHE", cacheFile)
}

func TestIsReadyAfterRefreshAndCacheLoad(t *testing.T) {
	srv := newStubAPI(t, []map[string]any{
		{"table_id": "tbl1", "name": "Expenses", "revision": 3},
	})
	cacheFile := t.TempDir() + "/tables_cache.json"
	setProviderEnv(t, srv.URL, cacheFile)

	p, err := New("stdio", zap.NewNop())
	require.NoError(t, err)

	ready, err := p.IsReady()
	assert.False(t, ready)
	require.Error(t, err)

	require.NoError(t, p.RefreshTables(context.Background()))

	ready, err = p.IsReady()
	assert.True(t, ready)
	require.NoError(t, err)

	tables := p.ProvideTablesMap()
	require.Contains(t, tables, "tbl1")
	assert.Len(t, tables["tbl1"].Fields, 1)

	// A fresh provider becomes ready from the cache file alone.
	p2, err := New("stdio", zap.NewNop())
	require.NoError(t, err)

	ready, _ = p2.IsReady()
	assert.False(t, ready)

	require.True(t, p2.LoadTablesCache())
	ready, err = p2.IsReady()
	assert.True(t, ready)
	require.NoError(t, err)
	assert.Contains(t, p2.ProvideTablesMap(), "tbl1")
}

func TestIsReadyWithoutDefaultBase(t *testing.T) {
	t.Setenv("LARK_MCP_APP_ID", "app-id")
	t.Setenv("LARK_MCP_APP_SECRET", "app-secret")
	t.Setenv("LARK_MCP_APP_TOKEN", "")
	t.Setenv("LARK_MCP_BASE_URL", "")

	p, err := New("stdio", zap.NewNop())
	require.NoError(t, err)

	ready, err := p.IsReady()
	assert.True(t, ready, "no cache to warm when no base is configured")
	require.NoError(t, err)
}

func TestRefreshTablesPrunesRemovedTables(t *testing.T) {
	srv := newStubAPI(t, []map[string]any{
		{"table_id": "tbl1", "name": "Expenses", "revision": 3},
	})
	cacheFile := t.TempDir() + "/tables_cache.json"
	setProviderEnv(t, srv.URL, cacheFile)

	p, err := New("stdio", zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, p.RefreshFields(context.Background(), lark.Table{TableID: "tblGone", Name: "Old"}))
	require.Contains(t, p.ProvideTablesMap(), "tblGone")

	require.NoError(t, p.RefreshTables(context.Background()))

	tables := p.ProvideTablesMap()
	assert.Contains(t, tables, "tbl1")
	assert.NotContains(t, tables, "tblGone")
}
