package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gocarina/gocsv"
	"github.com/larkmcp/lark-mcp-server/pkg/lark"
	"github.com/larkmcp/lark-mcp-server/pkg/provider"
	"github.com/mark3labs/mcp-go/mcp"
)

// LimiterStat is one tier's snapshot for the stats tool.
type LimiterStat struct {
	Tier      string  `json:"tier"`
	Total     int64   `json:"total"`
	Denied    int64   `json:"denied"`
	Allowed   int64   `json:"allowed"`
	Available float64 `json:"available"`
}

type SystemHandler struct {
	apiProvider *provider.ApiProvider
}

func NewSystemHandler(apiProvider *provider.ApiProvider) *SystemHandler {
	return &SystemHandler{
		apiProvider: apiProvider,
	}
}

func (sh *SystemHandler) PermissionsGrantHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appToken := request.GetString("app_token", sh.apiProvider.DefaultAppToken())
	if appToken == "" {
		return nil, errors.New("app_token must be provided when no default base is configured")
	}

	memberID := request.GetString("member_id", "")
	if memberID == "" {
		return nil, errors.New("member_id must be a non-empty string")
	}

	perm := request.GetString("perm", "edit")
	switch perm {
	case "view", "edit", "full_access":
	default:
		return nil, fmt.Errorf("perm must be one of 'view', 'edit', 'full_access', got %q", perm)
	}

	client, err := sh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	if err := client.GrantPermission(ctx, appToken, memberID, perm); err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf("Granted %s to member %s on base %s", perm, memberID, appToken)), nil
}

func (sh *SystemHandler) RolesCreateHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appToken := request.GetString("app_token", sh.apiProvider.DefaultAppToken())
	if appToken == "" {
		return nil, errors.New("app_token must be provided when no default base is configured")
	}

	name := request.GetString("name", "")
	if name == "" {
		return nil, errors.New("name must be a non-empty string")
	}

	role := lark.Role{RoleName: name}
	if rawTableRoles := request.GetString("table_roles", ""); rawTableRoles != "" {
		if err := json.Unmarshal([]byte(rawTableRoles), &role.TableRoles); err != nil {
			return nil, fmt.Errorf("table_roles must be a JSON array of table role objects: %w", err)
		}
	}

	client, err := sh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	created, err := client.CreateRole(ctx, appToken, role)
	if err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf("Role %q created with role_id %s", created.RoleName, created.RoleID)), nil
}

func (sh *SystemHandler) LimiterStatsHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lim := sh.apiProvider.Limiter()
	metrics := lim.GetMetrics()

	var rows []LimiterStat
	for tier, m := range metrics {
		available, err := lim.AvailableTokens(tier)
		if err != nil {
			return nil, err
		}
		rows = append(rows, LimiterStat{
			Tier:      tier.String(),
			Total:     m.Total,
			Denied:    m.Denied,
			Allowed:   m.Allowed(),
			Available: available,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Tier < rows[j].Tier })

	csvBytes, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(csvBytes)), nil
}
