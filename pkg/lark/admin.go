package lark

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// Administrative API: drive permissions and Bitable advanced roles. These
// paths classify as Admin regardless of method, so they draw from the most
// restrictive quota.

type grantPermissionRequest struct {
	MemberType string `json:"member_type"`
	MemberID   string `json:"member_id"`
	Perm       string `json:"perm"`
}

// GrantPermission grants a member access to a Bitable base. perm is one of
// "view", "edit" or "full_access".
func (c *Client) GrantPermission(ctx context.Context, appToken, memberID, perm string) error {
	path := fmt.Sprintf("/open-apis/drive/v1/permissions/%s/members", url.PathEscape(appToken))
	q := url.Values{"type": {"bitable"}}

	req := grantPermissionRequest{
		MemberType: "openid",
		MemberID:   memberID,
		Perm:       perm,
	}
	return c.call(ctx, http.MethodPost, path, q.Encode(), req, nil, true)
}

type TableRole struct {
	TableID   string `json:"table_id"`
	TablePerm int    `json:"table_perm"`
}

type Role struct {
	RoleID     string      `json:"role_id,omitempty"`
	RoleName   string      `json:"role_name"`
	TableRoles []TableRole `json:"table_roles,omitempty"`
}

type createRoleResponse struct {
	baseResponse
	Data struct {
		Role Role `json:"role"`
	} `json:"data"`
}

// CreateRole creates an advanced-permission role on a Bitable base.
func (c *Client) CreateRole(ctx context.Context, appToken string, role Role) (*Role, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/roles", url.PathEscape(appToken))

	var res createRoleResponse
	if err := c.call(ctx, http.MethodPost, path, "", role, &res, true); err != nil {
		return nil, err
	}
	return &res.Data.Role, nil
}
