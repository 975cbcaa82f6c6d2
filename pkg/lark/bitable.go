package lark

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Bitable API, bitable.v1.*

type App struct {
	AppToken string `json:"app_token"`
	Name     string `json:"name"`
	URL      string `json:"url,omitempty"`
}

type Table struct {
	TableID  string `json:"table_id"`
	Revision int    `json:"revision,omitempty"`
	Name     string `json:"name"`
}

type Field struct {
	FieldID   string         `json:"field_id,omitempty"`
	FieldName string         `json:"field_name"`
	Type      int            `json:"type"`
	Property  map[string]any `json:"property,omitempty"`
}

type Record struct {
	RecordID string         `json:"record_id,omitempty"`
	Fields   map[string]any `json:"fields"`
}

type pageMeta struct {
	HasMore   bool   `json:"has_more"`
	PageToken string `json:"page_token"`
	Total     int    `json:"total"`
}

// listPace throttles pagination loops so a deep listing does not burn the
// read quota in one burst.
func listPace() *rate.Limiter {
	return rate.NewLimiter(rate.Every(200*time.Millisecond), 3)
}

type createAppRequest struct {
	Name        string `json:"name"`
	FolderToken string `json:"folder_token,omitempty"`
}

type createAppResponse struct {
	baseResponse
	Data struct {
		App App `json:"app"`
	} `json:"data"`
}

// CreateApp creates a new Bitable base.
func (c *Client) CreateApp(ctx context.Context, name, folderToken string) (*App, error) {
	var res createAppResponse
	err := c.call(ctx, http.MethodPost, "/open-apis/bitable/v1/apps", "",
		createAppRequest{Name: name, FolderToken: folderToken}, &res, true)
	if err != nil {
		return nil, err
	}
	return &res.Data.App, nil
}

type listTablesResponse struct {
	baseResponse
	Data struct {
		pageMeta
		Items []Table `json:"items"`
	} `json:"data"`
}

// ListTables returns every table of the base, following pagination.
func (c *Client) ListTables(ctx context.Context, appToken string) ([]Table, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables", url.PathEscape(appToken))
	pace := listPace()

	var tables []Table
	pageToken := ""
	for {
		q := url.Values{"page_size": {"100"}}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var res listTablesResponse
		if err := c.call(ctx, http.MethodGet, path, q.Encode(), nil, &res, true); err != nil {
			return nil, err
		}
		tables = append(tables, res.Data.Items...)

		if !res.Data.HasMore || res.Data.PageToken == "" {
			break
		}
		pageToken = res.Data.PageToken
		if err := pace.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

type createTableRequest struct {
	Table struct {
		Name   string  `json:"name"`
		Fields []Field `json:"fields,omitempty"`
	} `json:"table"`
}

type createTableResponse struct {
	baseResponse
	Data struct {
		TableID string `json:"table_id"`
	} `json:"data"`
}

// CreateTable creates a table with an optional initial field set and returns
// its id.
func (c *Client) CreateTable(ctx context.Context, appToken, name string, fields []Field) (string, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables", url.PathEscape(appToken))

	var req createTableRequest
	req.Table.Name = name
	req.Table.Fields = fields

	var res createTableResponse
	if err := c.call(ctx, http.MethodPost, path, "", req, &res, true); err != nil {
		return "", err
	}
	return res.Data.TableID, nil
}

type listFieldsResponse struct {
	baseResponse
	Data struct {
		pageMeta
		Items []Field `json:"items"`
	} `json:"data"`
}

// ListFields returns the field schema of a table.
func (c *Client) ListFields(ctx context.Context, appToken, tableID string) ([]Field, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/fields",
		url.PathEscape(appToken), url.PathEscape(tableID))
	pace := listPace()

	var fields []Field
	pageToken := ""
	for {
		q := url.Values{"page_size": {"100"}}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var res listFieldsResponse
		if err := c.call(ctx, http.MethodGet, path, q.Encode(), nil, &res, true); err != nil {
			return nil, err
		}
		fields = append(fields, res.Data.Items...)

		if !res.Data.HasMore || res.Data.PageToken == "" {
			break
		}
		pageToken = res.Data.PageToken
		if err := pace.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return fields, nil
}

type createFieldResponse struct {
	baseResponse
	Data struct {
		Field Field `json:"field"`
	} `json:"data"`
}

// CreateField adds a field to a table.
func (c *Client) CreateField(ctx context.Context, appToken, tableID string, field Field) (*Field, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/fields",
		url.PathEscape(appToken), url.PathEscape(tableID))

	var res createFieldResponse
	if err := c.call(ctx, http.MethodPost, path, "", field, &res, true); err != nil {
		return nil, err
	}
	return &res.Data.Field, nil
}

type listRecordsResponse struct {
	baseResponse
	Data struct {
		pageMeta
		Items []Record `json:"items"`
	} `json:"data"`
}

// ListRecords returns up to maxRecords records of a table, following
// pagination. maxRecords <= 0 means no cap.
func (c *Client) ListRecords(ctx context.Context, appToken, tableID string, maxRecords int) ([]Record, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records",
		url.PathEscape(appToken), url.PathEscape(tableID))
	pace := listPace()

	var records []Record
	pageToken := ""
	for {
		pageSize := 100
		if maxRecords > 0 && maxRecords-len(records) < pageSize {
			pageSize = maxRecords - len(records)
		}

		q := url.Values{"page_size": {strconv.Itoa(pageSize)}}
		if pageToken != "" {
			q.Set("page_token", pageToken)
		}

		var res listRecordsResponse
		if err := c.call(ctx, http.MethodGet, path, q.Encode(), nil, &res, true); err != nil {
			return nil, err
		}
		records = append(records, res.Data.Items...)

		if !res.Data.HasMore || res.Data.PageToken == "" {
			break
		}
		if maxRecords > 0 && len(records) >= maxRecords {
			break
		}
		pageToken = res.Data.PageToken
		if err := pace.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return records, nil
}

type batchCreateRecordsRequest struct {
	Records []Record `json:"records"`
}

type batchCreateRecordsResponse struct {
	baseResponse
	Data struct {
		Records []Record `json:"records"`
	} `json:"data"`
}

// BatchCreateRecords inserts records into a table in one call. A generated
// client token makes the insert idempotent on the platform side.
func (c *Client) BatchCreateRecords(ctx context.Context, appToken, tableID string, records []Record) ([]Record, error) {
	path := fmt.Sprintf("/open-apis/bitable/v1/apps/%s/tables/%s/records/batch_create",
		url.PathEscape(appToken), url.PathEscape(tableID))
	q := url.Values{"client_token": {uuid.NewString()}}

	var res batchCreateRecordsResponse
	err := c.call(ctx, http.MethodPost, path, q.Encode(), batchCreateRecordsRequest{Records: records}, &res, true)
	if err != nil {
		return nil, err
	}
	return res.Data.Records, nil
}
