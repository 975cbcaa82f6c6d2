package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocarina/gocsv"
	"github.com/larkmcp/lark-mcp-server/pkg/lark"
	"github.com/larkmcp/lark-mcp-server/pkg/limiter"
	"github.com/larkmcp/lark-mcp-server/pkg/provider"
	"github.com/larkmcp/lark-mcp-server/pkg/server/auth"
	"github.com/mark3labs/mcp-go/mcp"
)

type TableRow struct {
	TableID  string `json:"tableID"`
	Name     string `json:"name"`
	Revision int    `json:"revision"`
	Fields   int    `json:"fields"`
}

type BasesHandler struct {
	apiProvider *provider.ApiProvider
}

func NewBasesHandler(apiProvider *provider.ApiProvider) *BasesHandler {
	return &BasesHandler{
		apiProvider: apiProvider,
	}
}

// rateLimitedResult converts an admission denial into a tool-level error so
// the model sees an actionable "try again later" message instead of a
// protocol failure. Other errors pass through.
func rateLimitedResult(err error) (*mcp.CallToolResult, bool) {
	var rle *limiter.RateLimitedError
	if errors.As(err, &rle) {
		return mcp.NewToolResultError(rle.Error()), true
	}
	return nil, false
}

func (bh *BasesHandler) appToken(request mcp.CallToolRequest) (string, error) {
	token := request.GetString("app_token", bh.apiProvider.DefaultAppToken())
	if token == "" {
		return "", errors.New("app_token must be provided when no default base is configured")
	}
	return token, nil
}

func (bh *BasesHandler) BasesCreateHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name := request.GetString("name", "")
	if name == "" {
		return nil, errors.New("name must be a non-empty string")
	}
	folderToken := request.GetString("folder_token", "")

	client, err := bh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	app, err := client.CreateApp(ctx, name, folderToken)
	if err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf("Base %q created with app_token %s, url: %s",
		app.Name, app.AppToken, app.URL)), nil
}

func (bh *BasesHandler) TablesListHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appToken, err := bh.appToken(request)
	if err != nil {
		return nil, err
	}

	if ready, err := bh.apiProvider.IsReady(); !ready {
		return nil, err
	}

	client, err := bh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	tables, err := client.ListTables(ctx, appToken)
	if err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	cached := bh.apiProvider.ProvideTablesMap()

	var rows []TableRow
	for _, table := range tables {
		rows = append(rows, TableRow{
			TableID:  table.TableID,
			Name:     table.Name,
			Revision: table.Revision,
			Fields:   len(cached[table.TableID].Fields),
		})
	}

	csvBytes, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(csvBytes)), nil
}

func (bh *BasesHandler) TablesResource(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	// mark3labs/mcp-go does not support middlewares for resources.
	if authenticated, err := auth.IsAuthenticated(ctx, bh.apiProvider.ServerTransport(), bh.apiProvider.Logger()); !authenticated {
		return nil, err
	}

	if ready, err := bh.apiProvider.IsReady(); !ready {
		return nil, err
	}

	var rows []TableRow
	for _, info := range bh.apiProvider.ProvideTablesMap() {
		rows = append(rows, TableRow{
			TableID:  info.Table.TableID,
			Name:     info.Table.Name,
			Revision: info.Table.Revision,
			Fields:   len(info.Fields),
		})
	}

	csvBytes, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, err
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "lark://" + bh.apiProvider.DefaultAppToken() + "/tables",
			MIMEType: "text/csv",
			Text:     string(csvBytes),
		},
	}, nil
}

func (bh *BasesHandler) TablesCreateHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appToken, err := bh.appToken(request)
	if err != nil {
		return nil, err
	}

	name := request.GetString("name", "")
	if name == "" {
		return nil, errors.New("name must be a non-empty string")
	}

	var fields []lark.Field
	if rawFields := request.GetString("fields", ""); rawFields != "" {
		if err := json.Unmarshal([]byte(rawFields), &fields); err != nil {
			return nil, fmt.Errorf("fields must be a JSON array of field definitions: %w", err)
		}
	}

	client, err := bh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	tableID, err := client.CreateTable(ctx, appToken, name, fields)
	if err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf("Table %q created with table_id %s", name, tableID)), nil
}

func (bh *BasesHandler) FieldsCreateHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appToken, err := bh.appToken(request)
	if err != nil {
		return nil, err
	}

	tableID := request.GetString("table_id", "")
	if tableID == "" {
		return nil, errors.New("table_id must be a non-empty string")
	}
	name := request.GetString("name", "")
	if name == "" {
		return nil, errors.New("name must be a non-empty string")
	}
	fieldType := request.GetInt("type", 1)

	field := lark.Field{FieldName: name, Type: fieldType}
	if rawProperty := request.GetString("property", ""); rawProperty != "" {
		if err := json.Unmarshal([]byte(rawProperty), &field.Property); err != nil {
			return nil, fmt.Errorf("property must be a JSON object: %w", err)
		}
	}

	client, err := bh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	created, err := client.CreateField(ctx, appToken, tableID, field)
	if err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf("Field %q created with field_id %s", created.FieldName, created.FieldID)), nil
}
