package model

import (
	"fmt"
	"maps"
)

// PayloadKind tags the variant held by a Payload.
type PayloadKind string

const (
	KindCSV PayloadKind = "csv"
	KindOCR PayloadKind = "ocr"
)

// Record is one parsed CSV row keyed by header.
type Record map[string]string

// CSVData holds the rows parsed locally from a delimited file.
type CSVData struct {
	Records []Record `json:"records"`
	Headers []string `json:"headers"`
}

// OCRData holds the result of a remote OCR extraction.
type OCRData struct {
	ExtractedData map[string]string `json:"extracted_data"`
	RawText       string            `json:"raw_text"`
	Confidence    float64           `json:"confidence"`
	Issues        []string          `json:"issues,omitempty"`
}

// Payload is a tagged union: Kind selects which of CSV or OCR is set.
type Payload struct {
	Kind PayloadKind `json:"type"`
	CSV  *CSVData    `json:"csv,omitempty"`
	OCR  *OCRData    `json:"ocr,omitempty"`
}

// NewCSVPayload wraps parsed CSV data.
func NewCSVPayload(data CSVData) Payload {
	return Payload{Kind: KindCSV, CSV: &data}
}

// NewOCRPayload wraps an OCR extraction result.
func NewOCRPayload(data OCRData) Payload {
	return Payload{Kind: KindOCR, OCR: &data}
}

// Validate enforces that exactly the variant named by Kind is present.
func (p Payload) Validate() error {
	switch p.Kind {
	case KindCSV:
		if p.CSV == nil || p.OCR != nil {
			return fmt.Errorf("csv payload must carry only csv data")
		}
	case KindOCR:
		if p.OCR == nil || p.CSV != nil {
			return fmt.Errorf("ocr payload must carry only ocr data")
		}
		if p.OCR.Confidence < 0 || p.OCR.Confidence > 1 {
			return fmt.Errorf("ocr confidence %v outside [0,1]", p.OCR.Confidence)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPayload, p.Kind)
	}
	return nil
}

// Clone deep-copies the payload.
func (p Payload) Clone() Payload {
	out := Payload{Kind: p.Kind}
	switch p.Kind {
	case KindCSV:
		if p.CSV != nil {
			csv := CSVData{
				Headers: append([]string(nil), p.CSV.Headers...),
				Records: make([]Record, len(p.CSV.Records)),
			}
			for i, r := range p.CSV.Records {
				csv.Records[i] = maps.Clone(r)
			}
			out.CSV = &csv
		}
	case KindOCR:
		if p.OCR != nil {
			ocr := *p.OCR
			ocr.ExtractedData = maps.Clone(p.OCR.ExtractedData)
			ocr.Issues = append([]string(nil), p.OCR.Issues...)
			out.OCR = &ocr
		}
	}
	return out
}

// EditableFields returns a copy of the fields an editor works on: the first
// CSV record or the OCR extracted-data map.
func (p Payload) EditableFields() map[string]string {
	switch p.Kind {
	case KindCSV:
		if p.CSV == nil || len(p.CSV.Records) == 0 {
			return map[string]string{}
		}
		return maps.Clone(map[string]string(p.CSV.Records[0]))
	case KindOCR:
		if p.OCR == nil || p.OCR.ExtractedData == nil {
			return map[string]string{}
		}
		return maps.Clone(p.OCR.ExtractedData)
	default:
		return map[string]string{}
	}
}

// ApplyEdit returns a copy of p with fields merged into the editable structure.
// Keys absent from fields are left untouched.
func (p Payload) ApplyEdit(fields map[string]string) (Payload, error) {
	out := p.Clone()
	switch out.Kind {
	case KindCSV:
		if out.CSV == nil {
			return out, fmt.Errorf("csv payload without data")
		}
		if len(out.CSV.Records) == 0 {
			out.CSV.Records = []Record{{}}
		}
		maps.Copy(out.CSV.Records[0], fields)
	case KindOCR:
		if out.OCR == nil {
			return out, fmt.Errorf("ocr payload without data")
		}
		if out.OCR.ExtractedData == nil {
			out.OCR.ExtractedData = map[string]string{}
		}
		maps.Copy(out.OCR.ExtractedData, fields)
	default:
		return out, fmt.Errorf("%w: %q", ErrUnknownPayload, out.Kind)
	}
	return out, nil
}
