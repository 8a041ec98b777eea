package review

import (
	"maps"

	"github.com/dharsanguruparan/certdesk/internal/model"
)

// BuildSubmission expands the selected files into bulk-approve items. CSV
// files produce one item per record, OCR files one item each. Files without a
// payload contribute nothing.
func BuildSubmission(s State) []model.SubmissionItem {
	items := []model.SubmissionItem{}
	for _, f := range s.SelectedFiles() {
		if f.Data == nil {
			continue
		}
		switch f.Data.Kind {
		case model.KindCSV:
			if f.Data.CSV == nil {
				continue
			}
			for _, rec := range f.Data.CSV.Records {
				items = append(items, model.SubmissionItem{
					Source:   model.SourceCSV,
					Filename: f.Name,
					Data:     maps.Clone(map[string]string(rec)),
				})
			}
		case model.KindOCR:
			if f.Data.OCR == nil {
				continue
			}
			confidence := f.Data.OCR.Confidence
			items = append(items, model.SubmissionItem{
				Source:     model.SourceOCR,
				Filename:   f.Name,
				Data:       maps.Clone(f.Data.OCR.ExtractedData),
				Confidence: &confidence,
			})
		}
	}
	return items
}
