package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gocarina/gocsv"
	"github.com/larkmcp/lark-mcp-server/pkg/lark"
	"github.com/larkmcp/lark-mcp-server/pkg/provider"
	"github.com/larkmcp/lark-mcp-server/pkg/text"
	"github.com/mark3labs/mcp-go/mcp"
)

// RecordRow is the long-format CSV shape of one field value. Bitable fields
// are dynamic per table, so each record is emitted as one row per field.
type RecordRow struct {
	RecordID string `json:"recordID"`
	Field    string `json:"field"`
	Value    string `json:"value"`
}

type RecordsHandler struct {
	apiProvider *provider.ApiProvider
}

func NewRecordsHandler(apiProvider *provider.ApiProvider) *RecordsHandler {
	return &RecordsHandler{
		apiProvider: apiProvider,
	}
}

func (rh *RecordsHandler) appToken(request mcp.CallToolRequest) (string, error) {
	token := request.GetString("app_token", rh.apiProvider.DefaultAppToken())
	if token == "" {
		return "", errors.New("app_token must be provided when no default base is configured")
	}
	return token, nil
}

func (rh *RecordsHandler) RecordsListHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appToken, err := rh.appToken(request)
	if err != nil {
		return nil, err
	}

	tableID := request.GetString("table_id", "")
	if tableID == "" {
		return nil, errors.New("table_id must be a non-empty string")
	}

	limit := request.GetInt("limit", 50)
	if limit < 1 || limit > 500 {
		return nil, fmt.Errorf("limit must be between 1 and 500, got %d", limit)
	}

	client, err := rh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	records, err := client.ListRecords(ctx, appToken, tableID, limit)
	if err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	var rows []RecordRow
	for _, record := range records {
		for field, value := range record.Fields {
			rows = append(rows, RecordRow{
				RecordID: record.RecordID,
				Field:    field,
				Value:    text.ProcessText(flattenValue(value)),
			})
		}
	}

	csvBytes, err := gocsv.MarshalBytes(&rows)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(string(csvBytes)), nil
}

func (rh *RecordsHandler) RecordsCreateHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	appToken, err := rh.appToken(request)
	if err != nil {
		return nil, err
	}

	tableID := request.GetString("table_id", "")
	if tableID == "" {
		return nil, errors.New("table_id must be a non-empty string")
	}

	rawRecords := request.GetString("records", "")
	if rawRecords == "" {
		return nil, errors.New("records must be a non-empty JSON array")
	}

	var fieldSets []map[string]any
	if err := json.Unmarshal([]byte(rawRecords), &fieldSets); err != nil {
		return nil, fmt.Errorf("records must be a JSON array of field maps: %w", err)
	}
	if len(fieldSets) == 0 {
		return nil, errors.New("records must contain at least one record")
	}

	records := make([]lark.Record, len(fieldSets))
	for i, fields := range fieldSets {
		records[i] = lark.Record{Fields: fields}
	}

	client, err := rh.apiProvider.Provide()
	if err != nil {
		return nil, err
	}

	created, err := client.BatchCreateRecords(ctx, appToken, tableID, records)
	if err != nil {
		if res, ok := rateLimitedResult(err); ok {
			return res, nil
		}
		return nil, err
	}

	ids := make([]string, len(created))
	for i, record := range created {
		ids[i] = record.RecordID
	}
	out, err := json.Marshal(ids)
	if err != nil {
		return nil, err
	}

	return mcp.NewToolResultText(fmt.Sprintf("Created %d records: %s", len(created), out)), nil
}

// flattenValue renders a Bitable field value for a CSV cell. Values come
// back from the API as strings, numbers, or structured link/person arrays.
func flattenValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return fmt.Sprintf("%g", val)
	case bool:
		return fmt.Sprintf("%t", val)
	case nil:
		return ""
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
