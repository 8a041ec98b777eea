package model

// SubmissionSource names the origin of a submitted record.
type SubmissionSource string

const (
	SourceCSV SubmissionSource = "csv"
	SourceOCR SubmissionSource = "ocr"
)

// SubmissionItem is one record of a bulk-approve request.
type SubmissionItem struct {
	Source     SubmissionSource  `json:"source"`
	Filename   string            `json:"filename"`
	Data       map[string]string `json:"data"`
	Confidence *float64          `json:"confidence,omitempty"`
}

// BulkApproveResult summarizes a bulk-approve call.
type BulkApproveResult struct {
	Message             string   `json:"message"`
	SuccessCount        int      `json:"success_count"`
	ErrorCount          int      `json:"error_count"`
	TotalItemsProcessed int      `json:"total_items_processed"`
	ValidationErrors    []string `json:"validation_errors"`
	Duplicates          []string `json:"duplicates"`
	Warning             string   `json:"warning,omitempty"`
}

// User is the identity returned by the login endpoint.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Email    string `json:"email"`
}
