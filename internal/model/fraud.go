package model

import (
	"encoding/json"
	"time"
)

// FraudStatus is the server-assigned verdict of a fraud detection record.
type FraudStatus string

const (
	FraudFake       FraudStatus = "FAKE"
	FraudSuspicious FraudStatus = "SUSPICIOUS"
	FraudAuthentic  FraudStatus = "AUTHENTIC"
)

// FraudLog is a server-persisted record of a suspicious verification attempt.
// CertDesk reads and patches it but never computes the fraud status itself.
type FraudLog struct {
	ID                   int64           `json:"id"`
	DetectedAt           *time.Time      `json:"detected_at,omitempty"`
	ConfidenceScore      float64         `json:"confidence_score"`
	ExtractedSeatNo      string          `json:"extracted_seat_no"`
	ExtractedStudentName string          `json:"extracted_student_name"`
	ExtractedMotherName  string          `json:"extracted_mother_name"`
	ExtractedSGPA        json.RawMessage `json:"extracted_sgpa,omitempty"`
	ExtractedResultDate  string          `json:"extracted_result_date"`
	ExtractedSubject     string          `json:"extracted_subject"`
	FraudStatus          FraudStatus     `json:"fraud_status"`
	DetectionReason      string          `json:"detection_reason"`
	UploadedFilename     string          `json:"uploaded_filename"`
	IPAddress            string          `json:"ip_address"`
	ReviewedByAdmin      bool            `json:"reviewed_by_admin"`
	AdminNotes           string          `json:"admin_notes"`
	ReviewedAt           *time.Time      `json:"reviewed_at,omitempty"`
	BlacklistEntry       *BlacklistEntry `json:"blacklist_entry,omitempty"`
}

// Reasons decodes DetectionReason. A JSON array yields its elements, any other
// JSON value or undecodable text is returned as a single reason, and an empty
// string yields no reasons.
func (l FraudLog) Reasons() []string {
	raw := l.DetectionReason
	if raw == "" {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return list
	}
	return []string{raw}
}

// SGPA renders the extracted SGPA, which the backend may send as a number or string.
func (l FraudLog) SGPA() string {
	if len(l.ExtractedSGPA) == 0 || string(l.ExtractedSGPA) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(l.ExtractedSGPA, &s); err == nil {
		return s
	}
	return string(l.ExtractedSGPA)
}

// Blacklisted reports whether an active blacklist entry is attached.
func (l FraudLog) Blacklisted() bool {
	return l.BlacklistEntry != nil && l.BlacklistEntry.IsActive
}

// CanBlacklist reports whether the "add to blacklist" action applies.
func (l FraudLog) CanBlacklist() bool {
	return l.FraudStatus == FraudFake && !l.Blacklisted()
}

// BlacklistEntry is a server-persisted block rule derived from a fraud log.
// It is identified by the fraud log it was created from.
type BlacklistEntry struct {
	FraudDetectionLogID int64      `json:"fraud_detection_log_id"`
	Reason              string     `json:"blacklist_reason"`
	AutoBlockSeatNo     bool       `json:"auto_block_seat_no"`
	AutoBlockNameCombo  bool       `json:"auto_block_name_combo"`
	BlacklistedBy       *int64     `json:"blacklisted_by,omitempty"`
	BlacklistedAt       *time.Time `json:"blacklisted_at,omitempty"`
	IsActive            bool       `json:"is_active"`
	FraudLog            *FraudLog  `json:"fraud_log,omitempty"`
}

// BlacklistRequest is the body of an add-to-blacklist call.
type BlacklistRequest struct {
	FraudDetectionLogID int64  `json:"fraud_detection_log_id"`
	Reason              string `json:"blacklist_reason"`
	AutoBlockSeatNo     bool   `json:"auto_block_seat_no"`
	AutoBlockNameCombo  bool   `json:"auto_block_name_combo"`
}

// NewBlacklistRequest returns a request with the default toggles: block by seat
// number on, block by name combination off.
func NewBlacklistRequest(fraudLogID int64, reason string) BlacklistRequest {
	return BlacklistRequest{
		FraudDetectionLogID: fraudLogID,
		Reason:              reason,
		AutoBlockSeatNo:     true,
		AutoBlockNameCombo:  false,
	}
}

// FraudLogUpdate is the partial update accepted by PUT /api/fraud-logs/{id}.
type FraudLogUpdate struct {
	ReviewedByAdmin *bool   `json:"reviewed_by_admin,omitempty"`
	AdminNotes      *string `json:"admin_notes,omitempty"`
}

// DailyCount is one bucket of a per-day histogram.
type DailyCount struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// FraudStats aggregates fraud logs that are not blacklisted.
type FraudStats struct {
	TotalFraudAttempts int            `json:"total_fraud_attempts"`
	ReviewedCount      int            `json:"reviewed_count"`
	PendingReview      int            `json:"pending_review"`
	StatusDistribution map[string]int `json:"status_distribution"`
	DailyCounts        []DailyCount   `json:"daily_counts"`
	ReviewPercentage   float64        `json:"review_percentage"`
}

// BlacklistStats aggregates active blacklist entries.
type BlacklistStats struct {
	TotalBlacklisted   int          `json:"total_blacklisted"`
	AutoBlockSeatCount int          `json:"auto_block_seat_count"`
	AutoBlockNameCount int          `json:"auto_block_name_count"`
	DailyCounts        []DailyCount `json:"daily_counts"`
}

// FraudLogPage is one page of GET /api/fraud-logs.
type FraudLogPage struct {
	FraudLogs   []FraudLog `json:"fraud_logs"`
	Total       int        `json:"total"`
	Pages       int        `json:"pages"`
	CurrentPage int        `json:"current_page"`
	PerPage     int        `json:"per_page"`
	HasNext     bool       `json:"has_next"`
	HasPrev     bool       `json:"has_prev"`
}

// BlacklistPage is one page of GET /api/blacklist.
type BlacklistPage struct {
	Items       []BlacklistEntry `json:"blacklist_items"`
	Total       int              `json:"total"`
	Pages       int              `json:"pages"`
	CurrentPage int              `json:"current_page"`
	PerPage     int              `json:"per_page"`
	HasNext     bool             `json:"has_next"`
	HasPrev     bool             `json:"has_prev"`
}
