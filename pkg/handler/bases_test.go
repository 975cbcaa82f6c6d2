package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasesCreateHandler(t *testing.T) {
	mux := newStubAPI(t)
	mux.HandleFunc("/open-apis/bitable/v1/apps", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"app": map[string]any{
					"app_token": "appNew",
					"name":      "Budget",
					"url":       "https://example.feishu.cn/base/appNew",
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	bh := NewBasesHandler(p)

	res, err := bh.BasesCreateHandler(context.Background(), callToolRequest("bases_create", map[string]any{
		"name": "Budget",
	}))
	require.NoError(t, err)
	assert.Contains(t, toolText(t, res), "appNew")

	_, err = bh.BasesCreateHandler(context.Background(), callToolRequest("bases_create", map[string]any{}))
	require.Error(t, err)
}

func TestTablesListHandlerEmitsCSV(t *testing.T) {
	mux := newStubAPI(t)
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"table_id": "tbl1", "name": "Expenses", "revision": 3},
					{"table_id": "tbl2", "name": "People", "revision": 1},
				},
			},
		})
	})
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables/tbl1/fields", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"field_id": "fld1", "field_name": "Name", "type": 1},
					{"field_id": "fld2", "field_name": "Amount", "type": 2},
				},
			},
		})
	})
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables/tbl2/fields", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"has_more": false,
				"items": []map[string]any{
					{"field_id": "fld3", "field_name": "Name", "type": 1},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	require.NoError(t, p.RefreshTables(context.Background()))

	bh := NewBasesHandler(p)
	res, err := bh.TablesListHandler(context.Background(), callToolRequest("tables_list", nil))
	require.NoError(t, err)

	out := toolText(t, res)
	assert.Contains(t, out, "tbl1,Expenses,3,2")
	assert.Contains(t, out, "tbl2,People,1,1")
}

func TestTablesListHandlerWaitsForWarmCache(t *testing.T) {
	srv := httptest.NewServer(newStubAPI(t))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	bh := NewBasesHandler(p)

	_, err := bh.TablesListHandler(context.Background(), callToolRequest("tables_list", nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warming up")

	_, err = bh.TablesResource(context.Background(), mcp.ReadResourceRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warming up")
}

func TestLimiterStatsHandlerReportsAllTiers(t *testing.T) {
	mux := newStubAPI(t)
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/tables", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{"has_more": false, "items": []map[string]any{}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	require.NoError(t, p.RefreshTables(context.Background()))

	// The warmup is one read call plus the token fetch; the handler's own
	// listing is a second read.
	bh := NewBasesHandler(p)
	_, err := bh.TablesListHandler(context.Background(), callToolRequest("tables_list", nil))
	require.NoError(t, err)

	sh := NewSystemHandler(p)
	res, err := sh.LimiterStatsHandler(context.Background(), mcp.CallToolRequest{})
	require.NoError(t, err)

	out := toolText(t, res)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5, "header plus one row per tier")
	assert.Contains(t, out, "read,2,0,2")
	assert.Contains(t, out, "write,1,0,1")
}

func TestRolesCreateHandler(t *testing.T) {
	mux := newStubAPI(t)
	mux.HandleFunc("/open-apis/bitable/v1/apps/app123/roles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"role": map[string]any{"role_id": "rol1", "role_name": "Editors"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	sh := NewSystemHandler(p)

	res, err := sh.RolesCreateHandler(context.Background(), callToolRequest("roles_create", map[string]any{
		"name":        "Editors",
		"table_roles": `[{"table_id":"tbl1","table_perm":2}]`,
	}))
	require.NoError(t, err)
	assert.Contains(t, toolText(t, res), "rol1")

	_, err = sh.RolesCreateHandler(context.Background(), callToolRequest("roles_create", map[string]any{
		"name":        "Editors",
		"table_roles": `{`,
	}))
	require.Error(t, err)
}

func TestPermissionsGrantHandlerRejectsBadPerm(t *testing.T) {
	srv := httptest.NewServer(newStubAPI(t))
	defer srv.Close()

	p := newTestProvider(t, srv.URL, nil)
	sh := NewSystemHandler(p)

	_, err := sh.PermissionsGrantHandler(context.Background(), callToolRequest("permissions_grant", map[string]any{
		"member_id": "ou_1",
		"perm":      "owner",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perm")
}
