package limiter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		method string
		path   string
		want   Tier
	}{
		{"read records", "GET", "/open-apis/bitable/v1/apps/app123/tables/tbl1/records", Read},
		{"read tables", "GET", "/open-apis/bitable/v1/apps/app123/tables", Read},
		{"head is read", "HEAD", "/open-apis/bitable/v1/apps/app123", Read},
		{"lowercase get", "get", "/records", Read},
		{"create records", "POST", "/open-apis/bitable/v1/apps/app123/tables/tbl1/records/batch_create", Write},
		{"update record", "PUT", "/open-apis/bitable/v1/apps/app123/tables/tbl1/records/rec1", Write},
		{"patch record", "PATCH", "/open-apis/bitable/v1/apps/app123/tables/tbl1/records/rec1", Write},
		{"delete table", "DELETE", "/open-apis/bitable/v1/apps/app123/tables/tbl1", Write},
		{"grant role is admin not write", "POST", "/roles/grant", Admin},
		{"bitable roles", "POST", "/open-apis/bitable/v1/apps/app123/roles", Admin},
		{"permission members", "POST", "/open-apis/drive/v1/permissions/app123/members", Admin},
		{"reading permissions is still admin", "GET", "/open-apis/drive/v1/permissions/app123/members", Admin},
		{"tenant settings", "GET", "/open-apis/tenant/v2/tenant/query", Admin},
		{"embedded role substring does not match", "GET", "/open-apis/userroles", Read},
		{"token endpoint is write not admin", "POST", "/open-apis/auth/v3/tenant_access_token/internal", Write},
		{"unknown method", "CONNECT", "/open-apis/bitable/v1/apps", Default},
		{"empty method", "", "/records", Default},
		{"generic read", "GET", "/records", Read},
		{"generic write", "POST", "/records", Write},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.method, tt.path))
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Equal(t, Admin, Classify("POST", "/roles/grant"))
	}
}

func TestTierString(t *testing.T) {
	assert.Equal(t, "default", Default.String())
	assert.Equal(t, "read", Read.String())
	assert.Equal(t, "write", Write.String())
	assert.Equal(t, "admin", Admin.String())
	assert.Equal(t, "unknown", Tier(99).String())
}
