// Package pdfutil inspects PDF uploads before they are sent for extraction.
package pdfutil

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	pdf "github.com/ledongthuc/pdf"
)

// ErrUnreadable marks a document the PDF reader could not open.
var ErrUnreadable = errors.New("unreadable pdf")

// Info summarizes a PDF that opened successfully.
type Info struct {
	Pages int
	// Text is the embedded text layer; empty for scanned documents.
	Text string
}

// HasText reports whether the document carries a text layer.
func (i Info) HasText() bool {
	return strings.TrimSpace(i.Text) != ""
}

// IsPDF reports whether a staged file should be preflighted.
func IsPDF(contentType, name string) bool {
	return strings.EqualFold(contentType, "application/pdf") ||
		strings.HasSuffix(strings.ToLower(name), ".pdf")
}

// Inspect opens data with ledongthuc/pdf and collects the page count and any
// embedded text. Pages whose text cannot be decoded are skipped.
func Inspect(data []byte) (info Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrUnreadable, r)
		}
	}()
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Info{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	info.Pages = doc.NumPage()
	if info.Pages == 0 {
		return Info{}, fmt.Errorf("%w: no pages", ErrUnreadable)
	}
	var builder strings.Builder
	for page := 1; page <= info.Pages; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		builder.WriteString(content)
		builder.WriteString("\n")
	}
	info.Text = builder.String()
	return info, nil
}
