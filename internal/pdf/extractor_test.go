package pdfutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInspectInvalid(t *testing.T) {
	for name, content := range map[string][]byte{
		"garbage":   []byte("not a pdf file"),
		"empty":     nil,
		"truncated": []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\n"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Inspect(content)
			assert.ErrorIs(t, err, ErrUnreadable)
		})
	}
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF("application/pdf", "scan"))
	assert.True(t, IsPDF("", "SCAN.PDF"))
	assert.False(t, IsPDF("image/png", "scan.png"))
}

func TestInfoHasText(t *testing.T) {
	assert.False(t, Info{Pages: 1, Text: " \n"}.HasText())
	assert.True(t, Info{Pages: 1, Text: "Seat No: S1001"}.HasText())
}
