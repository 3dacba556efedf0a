package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"regnxt-workbook-be/pkg/changes"
	"regnxt-workbook-be/pkg/sheet"
)

// ErrNoData is returned when the backend answers with an empty body.
var ErrNoData = errors.New("no data received")

// BackendError is a non-2xx answer from the RI backend.
type BackendError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s: backend responded %d: %s", e.Method, e.Path, e.Status, e.Body)
}

type SaveDataRequest struct {
	Cells      []changes.ChangedCell `json:"cells"`
	WorkbookID int                   `json:"workbookId"`
	Reason     string                `json:"reason"`
}

// Version is one entry of a workbook's layer history.
type Version struct {
	VersionID   int       `json:"versionId"`
	Name        string    `json:"name,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	CreatedBy   string    `json:"createdBy,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CellCount   int       `json:"cellCount,omitempty"`
	Description string    `json:"description,omitempty"`
}

// VersionCell is a prior cell value captured in a version.
type VersionCell struct {
	CellID    int    `json:"cellid"`
	SheetID   int    `json:"sheetid"`
	RowNr     int    `json:"rowNr"`
	ColNr     int    `json:"colNr"`
	PrevValue string `json:"prevvalue"`
	NewValue  string `json:"newvalue"`
	Comment   string `json:"comment,omitempty"`
}

type IWorkbookClient interface {
	GetSheetData(ctx context.Context, token string, workbookID, sheetID int) (*sheet.RawGrid, error)
	GetTables(ctx context.Context, token string, workbookID int, includeSheets bool) ([]sheet.TableNode, error)
	SaveData(ctx context.Context, token string, req SaveDataRequest) error
	GetVersions(ctx context.Context, token string, workbookID int) ([]Version, error)
	GetVersionData(ctx context.Context, token string, workbookID, versionID int) ([]VersionCell, error)
	DeleteVersion(ctx context.Context, token string, workbookID, versionID int) error
}

type workbookClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewWorkbookClient(baseURL string, timeout time.Duration) IWorkbookClient {
	return &workbookClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *workbookClient) GetSheetData(ctx context.Context, token string, workbookID, sheetID int) (*sheet.RawGrid, error) {
	params := url.Values{}
	params.Add("workbookId", strconv.Itoa(workbookID))
	params.Add("sheetId", strconv.Itoa(sheetID))

	var grid *sheet.RawGrid
	if err := c.do(ctx, http.MethodGet, "/RI/Workbook/SheetData", params, token, nil, &grid); err != nil {
		return nil, err
	}
	if grid == nil {
		return nil, ErrNoData
	}
	return grid, nil
}

func (c *workbookClient) GetTables(ctx context.Context, token string, workbookID int, includeSheets bool) ([]sheet.TableNode, error) {
	params := url.Values{}
	params.Add("workbookId", strconv.Itoa(workbookID))
	params.Add("includeSheets", strconv.FormatBool(includeSheets))

	var nodes []sheet.TableNode
	if err := c.do(ctx, http.MethodGet, "/RI/Workbook/Tables", params, token, nil, &nodes); err != nil {
		return nil, err
	}
	if nodes == nil {
		return nil, ErrNoData
	}
	return nodes, nil
}

func (c *workbookClient) SaveData(ctx context.Context, token string, req SaveDataRequest) error {
	return c.do(ctx, http.MethodPost, "/RI/Workbook/Data", nil, token, req, nil)
}

func (c *workbookClient) GetVersions(ctx context.Context, token string, workbookID int) ([]Version, error) {
	params := url.Values{}
	params.Add("workbookId", strconv.Itoa(workbookID))

	versions := make([]Version, 0)
	if err := c.do(ctx, http.MethodGet, "/RI/Workbook/version", params, token, nil, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

func (c *workbookClient) GetVersionData(ctx context.Context, token string, workbookID, versionID int) ([]VersionCell, error) {
	params := url.Values{}
	params.Add("workbookId", strconv.Itoa(workbookID))
	params.Add("versionId", strconv.Itoa(versionID))

	cells := make([]VersionCell, 0)
	if err := c.do(ctx, http.MethodGet, "/RI/Workbook/version/data", params, token, nil, &cells); err != nil {
		return nil, err
	}
	return cells, nil
}

func (c *workbookClient) DeleteVersion(ctx context.Context, token string, workbookID, versionID int) error {
	params := url.Values{}
	params.Add("workbookId", strconv.Itoa(workbookID))
	params.Add("versionId", strconv.Itoa(versionID))

	return c.do(ctx, http.MethodDelete, "/RI/Workbook/version", params, token, nil, nil)
}

// do sends one request. out is left untouched when the body is empty.
func (c *workbookClient) do(ctx context.Context, method, path string, params url.Values, token string, in, out interface{}) error {
	target := c.baseURL + path
	if len(params) > 0 {
		target += "?" + params.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal %s body: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return ErrNoData
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}
