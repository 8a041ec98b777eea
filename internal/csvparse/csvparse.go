// Package csvparse turns an uploaded delimited file into keyed records.
package csvparse

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dharsanguruparan/certdesk/internal/model"
)

// ErrNoHeader is returned for input without a header line.
var ErrNoHeader = errors.New("csv has no header row")

// Parse reads a header line followed by data rows. Cells are trimmed, rows may
// be shorter or longer than the header (extra cells are ignored, missing cells
// become ""), and rows whose cells are all empty are discarded.
func Parse(r io.Reader) (*model.CSVData, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	headers := make([]string, len(header))
	for i, h := range header {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	data := &model.CSVData{Headers: headers, Records: []model.Record{}}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		if rec, ok := toRecord(headers, row); ok {
			data.Records = append(data.Records, rec)
		}
	}
	return data, nil
}

func toRecord(headers, row []string) (model.Record, bool) {
	rec := make(model.Record, len(headers))
	empty := true
	for i, h := range headers {
		var v string
		if i < len(row) {
			v = strings.TrimSpace(row[i])
		}
		if v != "" {
			empty = false
		}
		rec[h] = v
	}
	return rec, !empty
}
