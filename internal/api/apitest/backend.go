// Package apitest provides an in-memory fake of the certificate backend for
// tests that exercise the HTTP client end to end.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/model"
)

// OCRFunc decides the response for one uploaded file.
type OCRFunc func(filename string, data []byte) (status int, body any)

// Backend is a fake backend served by httptest.
type Backend struct {
	mu sync.Mutex

	// Token, when set, is required as a bearer token on every call but login.
	Token string
	// OCR handles /api/ocr-extract; the default succeeds with fixed fields.
	OCR OCRFunc
	// ApproveStatus overrides the status of bulk-approve when non-zero.
	ApproveStatus int
	// FailPaths makes matching "METHOD /path" calls return 500.
	FailPaths map[string]bool

	Approved  [][]model.SubmissionItem
	FraudLogs map[int64]*model.FraudLog
	Blacklist map[int64]*model.BlacklistEntry
	calls     []string

	server *httptest.Server
}

// New starts a fake backend that is closed when the test ends.
func New(t testing.TB) *Backend {
	b := &Backend{
		FraudLogs: map[int64]*model.FraudLog{},
		Blacklist: map[int64]*model.BlacklistEntry{},
		FailPaths: map[string]bool{},
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

// URL is the base URL of the fake.
func (b *Backend) URL() string {
	return b.server.URL
}

// Client returns an api.Client pointed at the fake, carrying Token.
func (b *Backend) Client(opts ...api.Option) *api.Client {
	opts = append([]api.Option{api.WithToken(b.Token)}, opts...)
	return api.New(b.server.URL, opts...)
}

// Calls returns the "METHOD /path" list of requests served so far.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// CallCount counts served requests equal to call.
func (b *Backend) CallCount(call string) int {
	n := 0
	for _, c := range b.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

// SetOCR replaces the OCR handler.
func (b *Backend) SetOCR(fn OCRFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.OCR = fn
}

// SetApproveStatus overrides the bulk-approve status; 0 restores success.
func (b *Backend) SetApproveStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ApproveStatus = status
}

// Fail makes calls matching "METHOD /path" return 500 until Recover is called.
func (b *Backend) Fail(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.FailPaths[call] = true
}

// Recover undoes Fail.
func (b *Backend) Recover(call string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.FailPaths, call)
}

// AddFraudLog seeds a fraud log.
func (b *Backend) AddFraudLog(log model.FraudLog) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l := log
	b.FraudLogs[l.ID] = &l
}

// FraudLog returns a copy of the stored log with its blacklist association.
func (b *Backend) FraudLog(id int64) (model.FraudLog, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.FraudLogs[id]
	if !ok {
		return model.FraudLog{}, false
	}
	return b.withEntry(*l), true
}

func (b *Backend) withEntry(l model.FraudLog) model.FraudLog {
	if e, ok := b.Blacklist[l.ID]; ok && e.IsActive {
		entry := *e
		entry.FraudLog = nil
		l.BlacklistEntry = &entry
	} else {
		l.BlacklistEntry = nil
	}
	return l
}

func (b *Backend) serve(w http.ResponseWriter, r *http.Request) {
	call := r.Method + " " + r.URL.Path
	b.mu.Lock()
	b.calls = append(b.calls, call)
	fail := b.FailPaths[call]
	b.mu.Unlock()

	if fail {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "boom"})
		return
	}
	if r.URL.Path != "/api/login" && r.URL.Path != "/api/health" && b.Token != "" {
		if r.Header.Get("Authorization") != "Bearer "+b.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Token is missing"})
			return
		}
	}

	switch {
	case call == "GET /api/health":
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	case call == "POST /api/login":
		b.handleLogin(w, r)
	case call == "POST /api/ocr-extract":
		b.handleOCR(w, r)
	case call == "POST /api/certificates/bulk-approve":
		b.handleApprove(w, r)
	case call == "GET /api/fraud-logs":
		b.handleFraudLogs(w, r)
	case call == "GET /api/fraud-logs/stats":
		b.handleFraudStats(w)
	case call == "GET /api/fraud-logs/export":
		b.handleExport(w, r)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/fraud-logs/"):
		b.handleUpdate(w, r)
	case call == "POST /api/blacklist":
		b.handleAddBlacklist(w, r)
	case call == "GET /api/blacklist":
		b.handleBlacklist(w, r)
	case call == "GET /api/blacklist/stats":
		b.handleBlacklistStats(w)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/blacklist/"):
		b.handleRemoveBlacklist(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Resource not found"})
	}
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Username == "" || in.Password == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Username and password are required"})
		return
	}
	if in.Password != "secret" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Welcome, Admin!",
		"token":   "token-" + in.Username,
		"user":    model.User{ID: 1, Username: in.Username, FullName: "Admin", Role: "admin"},
	})
}

func (b *Backend) handleOCR(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"})
		return
	}
	defer file.Close()
	data, _ := io.ReadAll(file)
	b.mu.Lock()
	fn := b.OCR
	b.mu.Unlock()
	if fn == nil {
		fn = DefaultOCR
	}
	status, body := fn(header.Filename, data)
	writeJSON(w, status, body)
}

// DefaultOCR succeeds with a fixed extraction.
func DefaultOCR(filename string, _ []byte) (int, any) {
	return http.StatusOK, map[string]any{
		"success": true,
		"extracted_data": map[string]any{
			"seat_no":      "S1001",
			"student_name": "Asha Patil",
			"sgpa":         8.45,
			"subject":      "Physics",
		},
		"raw_text":              "SEAT NO S1001 " + filename,
		"extraction_confidence": 0.912,
		"extraction_issues":     []string{},
	}
}

func (b *Backend) handleApprove(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Items []model.SubmissionItem `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || len(in.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "No items provided for approval"})
		return
	}
	b.mu.Lock()
	status := b.ApproveStatus
	b.mu.Unlock()
	if status != 0 && status != http.StatusOK {
		writeJSON(w, status, map[string]string{"error": "Bulk approval failed"})
		return
	}
	b.mu.Lock()
	b.Approved = append(b.Approved, in.Items)
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, model.BulkApproveResult{
		Message:             fmt.Sprintf("Bulk approval completed: %d certificates added", len(in.Items)),
		SuccessCount:        len(in.Items),
		TotalItemsProcessed: len(in.Items),
		ValidationErrors:    []string{},
		Duplicates:          []string{},
	})
}

func (b *Backend) filtered(r *http.Request) []model.FraudLog {
	status := r.URL.Query().Get("status")
	from, _ := time.Parse("2006-01-02", r.URL.Query().Get("date_from"))
	to, _ := time.Parse("2006-01-02", r.URL.Query().Get("date_to"))
	var out []model.FraudLog
	for _, l := range b.FraudLogs {
		if status != "" && string(l.FraudStatus) != status {
			continue
		}
		if l.DetectedAt != nil {
			if !from.IsZero() && l.DetectedAt.Before(from) {
				continue
			}
			if !to.IsZero() && l.DetectedAt.After(to.Add(24*time.Hour-time.Second)) {
				continue
			}
		}
		out = append(out, b.withEntry(*l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func paginate(r *http.Request, total int) (page, perPage, start, end, pages int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	pages = (total + perPage - 1) / perPage
	start = min((page-1)*perPage, total)
	end = min(start+perPage, total)
	return page, perPage, start, end, pages
}

func (b *Backend) handleFraudLogs(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	logs := b.filtered(r)
	b.mu.Unlock()
	page, perPage, start, end, pages := paginate(r, len(logs))
	writeJSON(w, http.StatusOK, model.FraudLogPage{
		FraudLogs:   logs[start:end],
		Total:       len(logs),
		Pages:       pages,
		CurrentPage: page,
		PerPage:     perPage,
		HasNext:     page < pages,
		HasPrev:     page > 1,
	})
}

func (b *Backend) handleFraudStats(w http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := model.FraudStats{StatusDistribution: map[string]int{}, DailyCounts: []model.DailyCount{}}
	for _, l := range b.FraudLogs {
		if e, ok := b.Blacklist[l.ID]; ok && e.IsActive {
			continue
		}
		stats.TotalFraudAttempts++
		stats.StatusDistribution[string(l.FraudStatus)]++
		if l.ReviewedByAdmin {
			stats.ReviewedCount++
		}
	}
	stats.PendingReview = stats.TotalFraudAttempts - stats.ReviewedCount
	writeJSON(w, http.StatusOK, stats)
}

func (b *Backend) handleExport(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	logs := b.filtered(r)
	b.mu.Unlock()
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=fraud_detection_logs.csv")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ID,Status,Seat No,Reviewed")
	for _, l := range logs {
		reviewed := "No"
		if l.ReviewedByAdmin {
			reviewed = "Yes"
		}
		fmt.Fprintf(w, "%d,%s,%s,%s\n", l.ID, l.FraudStatus, l.ExtractedSeatNo, reviewed)
	}
}

func idFromPath(path, prefix string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(path, prefix), 10, 64)
	return id, err == nil
}

func (b *Backend) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(r.URL.Path, "/api/fraud-logs/")
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Resource not found"})
		return
	}
	var in model.FraudLogUpdate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.FraudLogs[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Resource not found"})
		return
	}
	if in.ReviewedByAdmin != nil {
		l.ReviewedByAdmin = *in.ReviewedByAdmin
		if l.ReviewedByAdmin {
			now := time.Now().UTC()
			l.ReviewedAt = &now
		}
	}
	if in.AdminNotes != nil {
		l.AdminNotes = *in.AdminNotes
	}
	writeJSON(w, http.StatusOK, b.withEntry(*l))
}

func (b *Backend) handleAddBlacklist(w http.ResponseWriter, r *http.Request) {
	var in model.BlacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.FraudDetectionLogID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "fraud_detection_log_id is required"})
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.FraudLogs[in.FraudDetectionLogID]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Resource not found"})
		return
	}
	if l.FraudStatus != model.FraudFake {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Only FAKE certificates can be blacklisted"})
		return
	}
	if e, ok := b.Blacklist[l.ID]; ok && e.IsActive {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "This fraud log is already blacklisted"})
		return
	}
	now := time.Now().UTC()
	entry := &model.BlacklistEntry{
		FraudDetectionLogID: l.ID,
		Reason:              in.Reason,
		AutoBlockSeatNo:     in.AutoBlockSeatNo,
		AutoBlockNameCombo:  in.AutoBlockNameCombo,
		BlacklistedAt:       &now,
		IsActive:            true,
	}
	b.Blacklist[l.ID] = entry
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":         true,
		"message":         "Certificate added to blacklist successfully",
		"blacklist_entry": entry,
	})
}

func (b *Backend) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	var items []model.BlacklistEntry
	for id, e := range b.Blacklist {
		if !e.IsActive {
			continue
		}
		entry := *e
		if l, ok := b.FraudLogs[id]; ok {
			snapshot := *l
			entry.FraudLog = &snapshot
		}
		items = append(items, entry)
	}
	b.mu.Unlock()
	sort.Slice(items, func(i, j int) bool { return items[i].FraudDetectionLogID > items[j].FraudDetectionLogID })
	page, perPage, start, end, pages := paginate(r, len(items))
	writeJSON(w, http.StatusOK, model.BlacklistPage{
		Items:       items[start:end],
		Total:       len(items),
		Pages:       pages,
		CurrentPage: page,
		PerPage:     perPage,
		HasNext:     page < pages,
		HasPrev:     page > 1,
	})
}

func (b *Backend) handleBlacklistStats(w http.ResponseWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := model.BlacklistStats{DailyCounts: []model.DailyCount{}}
	for _, e := range b.Blacklist {
		if !e.IsActive {
			continue
		}
		stats.TotalBlacklisted++
		if e.AutoBlockSeatNo {
			stats.AutoBlockSeatCount++
		}
		if e.AutoBlockNameCombo {
			stats.AutoBlockNameCount++
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (b *Backend) handleRemoveBlacklist(w http.ResponseWriter, r *http.Request) {
	id, ok := idFromPath(r.URL.Path, "/api/blacklist/")
	b.mu.Lock()
	defer b.mu.Unlock()
	e, found := b.Blacklist[id]
	if !ok || !found || !e.IsActive {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Blacklist entry not found"})
		return
	}
	e.IsActive = false
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Certificate removed from blacklist successfully",
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
