package server

import (
	"fmt"

	"github.com/larkmcp/lark-mcp-server/pkg/handler"
	"github.com/larkmcp/lark-mcp-server/pkg/provider"
	"github.com/larkmcp/lark-mcp-server/pkg/server/auth"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

type MCPServer struct {
	server *server.MCPServer
	logger *zap.Logger
}

func NewMCPServer(p *provider.ApiProvider, transport string, logger *zap.Logger) *MCPServer {
	s := server.NewMCPServer(
		"Lark MCP Server",
		"1.0.0",
		server.WithLogging(),
		server.WithRecovery(),
		server.WithToolHandlerMiddleware(auth.BuildMiddleware(transport, logger)),
	)

	basesHandler := handler.NewBasesHandler(p)

	s.AddTool(mcp.NewTool("bases_create",
		mcp.WithDescription("Create a new Bitable base (app) and return its app_token."),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the base, e.g. 'CRM System'."),
		),
		mcp.WithString("folder_token",
			mcp.Description("Optional drive folder to create the base in."),
		),
	), basesHandler.BasesCreateHandler)

	s.AddTool(mcp.NewTool("tables_list",
		mcp.WithDescription("List the tables of a base as CSV with table_id, name, revision and cached field count."),
		mcp.WithString("app_token",
			mcp.Description("Token of the base. Defaults to the configured base when omitted."),
		),
	), basesHandler.TablesListHandler)

	s.AddTool(mcp.NewTool("tables_create",
		mcp.WithDescription("Create a table in a base, optionally with an initial field schema."),
		mcp.WithString("app_token",
			mcp.Description("Token of the base. Defaults to the configured base when omitted."),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the table, e.g. 'Contacts'."),
		),
		mcp.WithString("fields",
			mcp.Description(`Optional JSON array of field definitions, e.g. [{"field_name":"Name","type":1},{"field_name":"Amount","type":2}]. Type is the Bitable field type number (1 text, 2 number, 3 single select, 5 date, 11 person).`),
		),
	), basesHandler.TablesCreateHandler)

	s.AddTool(mcp.NewTool("fields_create",
		mcp.WithDescription("Add a field to a table."),
		mcp.WithString("app_token",
			mcp.Description("Token of the base. Defaults to the configured base when omitted."),
		),
		mcp.WithString("table_id",
			mcp.Required(),
			mcp.Description("ID of the table in format tblxxxxxxxxxx."),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the field."),
		),
		mcp.WithNumber("type",
			mcp.DefaultNumber(1),
			mcp.Description("Bitable field type number. Default is 1 (text)."),
		),
		mcp.WithString("property",
			mcp.Description(`Optional JSON object with type-specific properties, e.g. {"options":[{"name":"Active"},{"name":"Churned"}]} for selects.`),
		),
	), basesHandler.FieldsCreateHandler)

	recordsHandler := handler.NewRecordsHandler(p)

	s.AddTool(mcp.NewTool("records_list",
		mcp.WithDescription("Read records from a table. Returns CSV in long format: one row per record field."),
		mcp.WithString("app_token",
			mcp.Description("Token of the base. Defaults to the configured base when omitted."),
		),
		mcp.WithString("table_id",
			mcp.Required(),
			mcp.Description("ID of the table in format tblxxxxxxxxxx."),
		),
		mcp.WithNumber("limit",
			mcp.DefaultNumber(50),
			mcp.Description("The maximum number of records to return. Must be an integer between 1 and 500."),
		),
	), recordsHandler.RecordsListHandler)

	s.AddTool(mcp.NewTool("records_create",
		mcp.WithDescription("Insert records into a table in one idempotent batch."),
		mcp.WithString("app_token",
			mcp.Description("Token of the base. Defaults to the configured base when omitted."),
		),
		mcp.WithString("table_id",
			mcp.Required(),
			mcp.Description("ID of the table in format tblxxxxxxxxxx."),
		),
		mcp.WithString("records",
			mcp.Required(),
			mcp.Description(`JSON array of field maps, one per record, e.g. [{"Name":"Alice","Amount":100}].`),
		),
	), recordsHandler.RecordsCreateHandler)

	systemHandler := handler.NewSystemHandler(p)

	s.AddTool(mcp.NewTool("permissions_grant",
		mcp.WithDescription("Grant a member access to a base. This is an administrative operation with a small quota."),
		mcp.WithString("app_token",
			mcp.Description("Token of the base. Defaults to the configured base when omitted."),
		),
		mcp.WithString("member_id",
			mcp.Required(),
			mcp.Description("Open id of the member to grant access to."),
		),
		mcp.WithString("perm",
			mcp.DefaultString("edit"),
			mcp.Description("Permission level. Allowed values: 'view', 'edit', 'full_access'."),
		),
	), systemHandler.PermissionsGrantHandler)

	s.AddTool(mcp.NewTool("roles_create",
		mcp.WithDescription("Create an advanced-permission role on a base. This is an administrative operation with a small quota."),
		mcp.WithString("app_token",
			mcp.Description("Token of the base. Defaults to the configured base when omitted."),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the role, e.g. 'Editors'."),
		),
		mcp.WithString("table_roles",
			mcp.Description(`Optional JSON array of per-table grants, e.g. [{"table_id":"tblxxx","table_perm":2}].`),
		),
	), systemHandler.RolesCreateHandler)

	s.AddTool(mcp.NewTool("limiter_stats",
		mcp.WithDescription("Report the request admission stats per tier: totals, denials and currently available tokens."),
	), systemHandler.LimiterStatsHandler)

	// The resource describes one concrete base; without a configured
	// default there is nothing to point its URI at.
	if token := p.DefaultAppToken(); token != "" {
		s.AddResource(mcp.NewResource(
			"lark://"+token+"/tables",
			"Cached tables of the configured base",
			mcp.WithResourceDescription("CSV list of the configured base's tables and field counts"),
			mcp.WithMIMEType("text/csv"),
		), basesHandler.TablesResource)
	}

	return &MCPServer{
		server: s,
		logger: logger,
	}
}

func (s *MCPServer) ServeSSE(addr string) *server.SSEServer {
	return server.NewSSEServer(s.server,
		server.WithBaseURL(fmt.Sprintf("http://%s", addr)),
		server.WithSSEContextFunc(auth.AuthFromRequest(s.logger)),
	)
}

func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server)
}
