// Package intake validates candidate files and stages the accepted ones.
package intake

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/certdesk/internal/model"
)

var (
	ErrTypeNotAllowed = errors.New("file type not allowed")
	ErrTooLarge       = errors.New("file exceeds limit")
	ErrDuplicate      = errors.New("duplicate file name")
)

// sniffLen is how many leading bytes http.DetectContentType looks at.
const sniffLen = 512

// Candidate is a file offered for intake.
type Candidate struct {
	Name        string
	Size        int64
	ContentType string
	Path        string
}

// Rejection records why a candidate was not staged.
type Rejection struct {
	Name string
	Err  error
}

func (r Rejection) String() string {
	return fmt.Sprintf("%s: %v", r.Name, r.Err)
}

// Validator enforces the type allow-list and the size limit.
type Validator struct {
	maxSize int64
	types   map[string]bool
	exts    map[string]bool
}

// NewValidator builds a Validator. Types are MIME types without parameters and
// extensions include the leading dot.
func NewValidator(maxSize int64, types, exts []string) *Validator {
	v := &Validator{
		maxSize: maxSize,
		types:   make(map[string]bool, len(types)),
		exts:    make(map[string]bool, len(exts)),
	}
	for _, t := range types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			v.types[t] = true
		}
	}
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		v.exts[e] = true
	}
	return v
}

// Check returns nil when c may be staged.
func (v *Validator) Check(c Candidate) error {
	if !v.allowedType(c) {
		return ErrTypeNotAllowed
	}
	if c.Size > v.maxSize {
		return fmt.Errorf("%w (%d bytes)", ErrTooLarge, v.maxSize)
	}
	return nil
}

func (v *Validator) allowedType(c Candidate) bool {
	if v.types[baseType(c.ContentType)] {
		return true
	}
	return v.exts[strings.ToLower(filepath.Ext(c.Name))]
}

func baseType(contentType string) string {
	if contentType == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return strings.ToLower(mt)
	}
	return strings.ToLower(contentType)
}

// Stager turns accepted candidates into pending staged files.
type Stager struct {
	validator *Validator
	newID     func() string
	now       func() time.Time
}

// NewStager builds a Stager using random uuids for file ids.
func NewStager(v *Validator) *Stager {
	return &Stager{
		validator: v,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Stage validates candidates against existing and returns the files to add.
// Invalid candidates and names already present (in existing or earlier in the
// same call) are left out; every skipped candidate is reported in rejected.
func (s *Stager) Stage(existing []model.StagedFile, candidates []Candidate) (staged []model.StagedFile, rejected []Rejection) {
	names := make(map[string]bool, len(existing)+len(candidates))
	for _, f := range existing {
		names[f.Name] = true
	}
	now := s.now()
	for _, c := range candidates {
		if err := s.validator.Check(c); err != nil {
			rejected = append(rejected, Rejection{Name: c.Name, Err: err})
			continue
		}
		if names[c.Name] {
			rejected = append(rejected, Rejection{Name: c.Name, Err: ErrDuplicate})
			continue
		}
		names[c.Name] = true
		staged = append(staged, model.StagedFile{
			ID:          s.newID(),
			Name:        c.Name,
			Size:        c.Size,
			ContentType: baseType(c.ContentType),
			Source:      c.Path,
			Status:      model.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	return staged, rejected
}

// CandidateFromPath stats path and determines its content type from the first
// bytes, using the extension when sniffing only finds a generic type.
func CandidateFromPath(path string) (Candidate, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return Candidate{}, fmt.Errorf("%s is not a regular file", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return Candidate{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return Candidate{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Candidate{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: DetectContentType(filepath.Base(path), buf[:n]),
		Path:        path,
	}, nil
}

// DetectContentType sniffs head and falls back to the extension for text,
// zip containers and unknown binaries.
func DetectContentType(name string, head []byte) string {
	sniffed := baseType(http.DetectContentType(head))
	switch sniffed {
	case "application/octet-stream", "text/plain", "application/zip":
		if byExt := extensionType(name); byExt != "" {
			return byExt
		}
	}
	return sniffed
}

var extTypes = map[string]string{
	".csv":  "text/csv",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".tiff": "image/tiff",
	".bmp":  "image/bmp",
}

func extensionType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := extTypes[ext]; ok {
		return t
	}
	return baseType(mime.TypeByExtension(ext))
}

// IsCSV reports whether a staged file is parsed locally as CSV rather than
// sent for OCR.
func IsCSV(f model.StagedFile) bool {
	ct := strings.ToLower(f.ContentType)
	return strings.Contains(ct, "csv") || strings.Contains(ct, "excel") ||
		strings.HasSuffix(strings.ToLower(f.Name), ".csv")
}
