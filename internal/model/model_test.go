package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayloadValidate(t *testing.T) {
	assert.NoError(t, NewCSVPayload(CSVData{}).Validate())
	assert.NoError(t, NewOCRPayload(OCRData{Confidence: 0.5}).Validate())

	assert.Error(t, Payload{Kind: KindCSV}.Validate())
	assert.Error(t, Payload{Kind: KindOCR, OCR: &OCRData{}, CSV: &CSVData{}}.Validate())
	assert.Error(t, NewOCRPayload(OCRData{Confidence: 1.5}).Validate())
	assert.ErrorIs(t, Payload{Kind: "xml"}.Validate(), ErrUnknownPayload)
}

func TestStagedFileValidate(t *testing.T) {
	f := StagedFile{ID: "1", Status: StatusPending}
	require.NoError(t, f.Validate())

	processed := f.WithResult(NewCSVPayload(CSVData{Headers: []string{"a"}}), time.Now())
	require.NoError(t, processed.Validate())
	assert.Equal(t, StatusPending, f.Status, "original must not change")

	failed := processed.WithError("boom", time.Now())
	require.NoError(t, failed.Validate())
	assert.Nil(t, failed.Data)
	assert.Equal(t, "boom", failed.Error)

	assert.Error(t, StagedFile{ID: "2", Status: StatusProcessed}.Validate())
	assert.Error(t, StagedFile{ID: "3", Status: "done"}.Validate())
}

func TestPayloadEditRoundTrip(t *testing.T) {
	csv := NewCSVPayload(CSVData{
		Headers: []string{"seat_no", "name"},
		Records: []Record{{"seat_no": "A1", "name": "x"}, {"seat_no": "A2", "name": "y"}},
	})
	fields := csv.EditableFields()
	fields["name"] = "edited"
	assert.Equal(t, "x", csv.CSV.Records[0]["name"], "editable fields are a copy")

	edited, err := csv.ApplyEdit(map[string]string{"name": "edited"})
	require.NoError(t, err)
	assert.Equal(t, Record{"seat_no": "A1", "name": "edited"}, edited.CSV.Records[0])
	assert.Equal(t, "y", edited.CSV.Records[1]["name"])
	assert.Equal(t, "x", csv.CSV.Records[0]["name"])

	ocr := NewOCRPayload(OCRData{ExtractedData: map[string]string{"seat_no": "B1", "sgpa": "8"}})
	edited, err = ocr.ApplyEdit(map[string]string{"sgpa": "9"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"seat_no": "B1", "sgpa": "9"}, edited.OCR.ExtractedData)
	assert.Equal(t, "8", ocr.OCR.ExtractedData["sgpa"])
}

func TestApplyEditOnEmptyCSV(t *testing.T) {
	p := NewCSVPayload(CSVData{Headers: []string{"a"}})
	assert.Empty(t, p.EditableFields())

	edited, err := p.ApplyEdit(map[string]string{"a": "1"})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"a": "1"}}, edited.CSV.Records)
}

func TestFraudLogReasons(t *testing.T) {
	assert.Equal(t, []string{"seal mismatch", "unknown seat"}, FraudLog{DetectionReason: `["seal mismatch","unknown seat"]`}.Reasons())
	assert.Equal(t, []string{"plain text"}, FraudLog{DetectionReason: "plain text"}.Reasons())
	assert.Equal(t, []string{}, FraudLog{}.Reasons())
}

func TestFraudLogBlacklistState(t *testing.T) {
	fake := FraudLog{ID: 1, FraudStatus: FraudFake}
	assert.True(t, fake.CanBlacklist())

	fake.BlacklistEntry = &BlacklistEntry{FraudDetectionLogID: 1, IsActive: true}
	assert.True(t, fake.Blacklisted())
	assert.False(t, fake.CanBlacklist())

	assert.False(t, FraudLog{FraudStatus: FraudSuspicious}.CanBlacklist())
}

func TestFraudLogSGPA(t *testing.T) {
	assert.Equal(t, "8.5", FraudLog{ExtractedSGPA: []byte("8.5")}.SGPA())
	assert.Equal(t, "7.25", FraudLog{ExtractedSGPA: []byte(`"7.25"`)}.SGPA())
	assert.Equal(t, "", FraudLog{ExtractedSGPA: []byte("null")}.SGPA())
}

func TestNewBlacklistRequestDefaults(t *testing.T) {
	req := NewBlacklistRequest(5, "")
	assert.True(t, req.AutoBlockSeatNo)
	assert.False(t, req.AutoBlockNameCombo)
}
