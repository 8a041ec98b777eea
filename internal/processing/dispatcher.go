package processing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/csvparse"
	"github.com/dharsanguruparan/certdesk/internal/intake"
	"github.com/dharsanguruparan/certdesk/internal/model"
	pdfutil "github.com/dharsanguruparan/certdesk/internal/pdf"
)

// User-facing failure messages recorded on staged files.
const (
	MsgCSVParse = "Failed to parse CSV file"
	MsgPDFRead  = "Failed to read PDF file"
	MsgFileRead = "Failed to read file"
)

// Extractor performs remote OCR extraction; *api.Client satisfies it.
type Extractor interface {
	ExtractOCR(ctx context.Context, filename string, content io.Reader) (*api.OCRResult, error)
}

// Opener provides the bytes of a staged file.
type Opener interface {
	Open(ctx context.Context, f model.StagedFile) (io.ReadCloser, error)
}

// LocalFiles opens staged files from their source path.
type LocalFiles struct{}

// Open implements Opener.
func (LocalFiles) Open(_ context.Context, f model.StagedFile) (io.ReadCloser, error) {
	if f.Source == "" {
		return nil, fmt.Errorf("file %s has no source path", f.Name)
	}
	return os.Open(f.Source)
}

// Dispatcher parses CSV files locally and sends everything else for OCR.
type Dispatcher struct {
	extractor Extractor
	opener    Opener
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher builds a Dispatcher. A nil opener reads local files.
func NewDispatcher(extractor Extractor, opener Opener, logger *slog.Logger) *Dispatcher {
	if opener == nil {
		opener = LocalFiles{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		extractor: extractor,
		opener:    opener,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Process returns f marked processed with its payload, or marked failed with a
// short message. It never returns an error: failures belong to the file.
func (d *Dispatcher) Process(ctx context.Context, f model.StagedFile) model.StagedFile {
	if intake.IsCSV(f) {
		return d.processCSV(ctx, f)
	}
	return d.processOCR(ctx, f)
}

func (d *Dispatcher) processCSV(ctx context.Context, f model.StagedFile) model.StagedFile {
	rc, err := d.opener.Open(ctx, f)
	if err != nil {
		d.logger.Warn("open csv failed", "file", f.Name, "error", err)
		return f.WithError(MsgCSVParse, d.now())
	}
	defer rc.Close()
	data, err := csvparse.Parse(rc)
	if err != nil {
		d.logger.Warn("parse csv failed", "file", f.Name, "error", err)
		return f.WithError(MsgCSVParse, d.now())
	}
	d.logger.Info("csv parsed", "file", f.Name, "records", len(data.Records))
	return f.WithResult(model.NewCSVPayload(*data), d.now())
}

func (d *Dispatcher) processOCR(ctx context.Context, f model.StagedFile) model.StagedFile {
	rc, err := d.opener.Open(ctx, f)
	if err != nil {
		d.logger.Warn("open file failed", "file", f.Name, "error", err)
		return f.WithError(MsgFileRead, d.now())
	}
	defer rc.Close()

	var content io.Reader = rc
	if pdfutil.IsPDF(f.ContentType, f.Name) {
		raw, err := io.ReadAll(rc)
		if err != nil {
			return f.WithError(MsgFileRead, d.now())
		}
		info, err := pdfutil.Inspect(raw)
		if err != nil {
			d.logger.Warn("pdf preflight failed", "file", f.Name, "error", err)
			return f.WithError(MsgPDFRead, d.now())
		}
		d.logger.Debug("pdf preflight", "file", f.Name, "pages", info.Pages, "text_layer", info.HasText())
		content = bytes.NewReader(raw)
	}

	res, err := d.extractor.ExtractOCR(ctx, f.Name, content)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, context.Canceled) {
			level = slog.LevelInfo
		}
		d.logger.Log(ctx, level, "ocr extraction failed", "file", f.Name, "status", api.StatusCode(err), "error", err)
		return f.WithError(api.Message(err), d.now())
	}
	data := res.OCRData()
	d.logger.Info("ocr extracted", "file", f.Name, "fields", len(data.ExtractedData), "confidence", data.Confidence)
	return f.WithResult(model.NewOCRPayload(data), d.now())
}
