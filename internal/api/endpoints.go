package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dharsanguruparan/certdesk/internal/model"
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Message string     `json:"message"`
	Token   string     `json:"token"`
	User    model.User `json:"user"`
}

// Login exchanges credentials for a bearer token. The client keeps using its
// current token; callers decide whether to SetToken.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	in := map[string]string{"username": username, "password": password}
	var out LoginResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/login", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks that the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.doJSON(ctx, http.MethodGet, "/api/health", nil, nil, nil)
}

// OCRResult is the response of POST /api/ocr-extract.
type OCRResult struct {
	ExtractedData        map[string]json.RawMessage `json:"extracted_data"`
	RawText              string                     `json:"raw_text"`
	ExtractionConfidence float64                    `json:"extraction_confidence"`
	ExtractionIssues     []string                   `json:"extraction_issues"`
}

// Fields flattens ExtractedData into strings. JSON strings are unquoted, null
// becomes empty and any other value keeps its JSON text (numbers stay "8.45").
func (r OCRResult) Fields() map[string]string {
	out := make(map[string]string, len(r.ExtractedData))
	for k, raw := range r.ExtractedData {
		var s string
		switch {
		case len(raw) == 0 || string(raw) == "null":
			out[k] = ""
		case json.Unmarshal(raw, &s) == nil:
			out[k] = s
		default:
			out[k] = string(raw)
		}
	}
	return out
}

// OCRData converts the response into the payload variant, clamping the
// confidence into [0,1].
func (r OCRResult) OCRData() model.OCRData {
	conf := r.ExtractionConfidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return model.OCRData{
		ExtractedData: r.Fields(),
		RawText:       r.RawText,
		Confidence:    conf,
		Issues:        r.ExtractionIssues,
	}
}

// ExtractOCR uploads one file for server-side OCR.
func (c *Client) ExtractOCR(ctx context.Context, filename string, content io.Reader) (*OCRResult, error) {
	var out OCRResult
	if err := c.doMultipart(ctx, "/api/ocr-extract", "file", filename, content, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkApprove submits approved records as one batch.
func (c *Client) BulkApprove(ctx context.Context, items []model.SubmissionItem) (*model.BulkApproveResult, error) {
	in := struct {
		Items []model.SubmissionItem `json:"items"`
	}{Items: items}
	var out model.BulkApproveResult
	if err := c.doJSON(ctx, http.MethodPost, "/api/certificates/bulk-approve", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FraudFilter narrows fraud-log fetches and exports. Empty fields are omitted.
type FraudFilter struct {
	Status   string
	DateFrom string
	DateTo   string
}

func (f FraudFilter) values() url.Values {
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", f.Status)
	}
	if f.DateFrom != "" {
		q.Set("date_from", f.DateFrom)
	}
	if f.DateTo != "" {
		q.Set("date_to", f.DateTo)
	}
	return q
}

func pageValues(q url.Values, page, perPage int) url.Values {
	if q == nil {
		q = url.Values{}
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(perPage))
	return q
}

// FraudLogs fetches one page of fraud detection records.
func (c *Client) FraudLogs(ctx context.Context, page, perPage int, filter FraudFilter) (*model.FraudLogPage, error) {
	var out model.FraudLogPage
	q := pageValues(filter.values(), page, perPage)
	if err := c.doJSON(ctx, http.MethodGet, "/api/fraud-logs", q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateFraudLog applies a partial update and returns the stored record.
func (c *Client) UpdateFraudLog(ctx context.Context, id int64, update model.FraudLogUpdate) (*model.FraudLog, error) {
	var out model.FraudLog
	path := fmt.Sprintf("/api/fraud-logs/%d", id)
	if err := c.doJSON(ctx, http.MethodPut, path, nil, update, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FraudStats fetches aggregate fraud counts.
func (c *Client) FraudStats(ctx context.Context) (*model.FraudStats, error) {
	var out model.FraudStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/fraud-logs/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ExportFraudLogs streams the server-generated CSV into w and returns the
// number of bytes written.
func (c *Client) ExportFraudLogs(ctx context.Context, filter FraudFilter, w io.Writer) (int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/fraud-logs/export", filter.values(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "text/csv")
	resp, err := c.send(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("write export: %w", err)
	}
	return n, nil
}

// AddToBlacklist creates a blacklist entry from a fraud log.
func (c *Client) AddToBlacklist(ctx context.Context, req model.BlacklistRequest) (*model.BlacklistEntry, error) {
	var out struct {
		Message        string                `json:"message"`
		BlacklistEntry *model.BlacklistEntry `json:"blacklist_entry"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/blacklist", nil, req, &out); err != nil {
		return nil, err
	}
	if out.BlacklistEntry == nil {
		return &model.BlacklistEntry{
			FraudDetectionLogID: req.FraudDetectionLogID,
			Reason:              req.Reason,
			AutoBlockSeatNo:     req.AutoBlockSeatNo,
			AutoBlockNameCombo:  req.AutoBlockNameCombo,
			IsActive:            true,
		}, nil
	}
	return out.BlacklistEntry, nil
}

// Blacklist fetches one page of active blacklist entries joined with their
// originating fraud logs.
func (c *Client) Blacklist(ctx context.Context, page, perPage int) (*model.BlacklistPage, error) {
	var out model.BlacklistPage
	if err := c.doJSON(ctx, http.MethodGet, "/api/blacklist", pageValues(nil, page, perPage), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveFromBlacklist deletes the entry created from fraudLogID.
func (c *Client) RemoveFromBlacklist(ctx context.Context, fraudLogID int64) error {
	path := fmt.Sprintf("/api/blacklist/%d", fraudLogID)
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil, nil)
}

// BlacklistStats fetches aggregate blacklist counts.
func (c *Client) BlacklistStats(ctx context.Context) (*model.BlacklistStats, error) {
	var out model.BlacklistStats
	if err := c.doJSON(ctx, http.MethodGet, "/api/blacklist/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
