// Package review owns the bulk-review session: the staged files, the selection
// and the single edit buffer. State transitions are pure functions returning a
// new State; Controller serializes them and persists the result.
package review

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/dharsanguruparan/certdesk/internal/model"
)

var (
	ErrUnknownFile    = errors.New("unknown file")
	ErrNotEditing     = errors.New("no edit in progress")
	ErrNotProcessed   = errors.New("file has no extracted data")
	ErrEmptySelection = errors.New("no files selected")
)

// EditBuffer holds the fields being edited for one file.
type EditBuffer struct {
	FileID string            `json:"fileId"`
	Fields map[string]string `json:"fields"`
}

// State is the serializable review session.
type State struct {
	Files []model.StagedFile `json:"files"`
	// Selected is kept in collection order.
	Selected []string    `json:"selected"`
	Editing  *EditBuffer `json:"editing,omitempty"`
}

// Clone deep-copies s.
func (s State) Clone() State {
	out := State{
		Files:    make([]model.StagedFile, len(s.Files)),
		Selected: slices.Clone(s.Selected),
	}
	for i, f := range s.Files {
		out.Files[i] = f.Clone()
	}
	if s.Editing != nil {
		out.Editing = &EditBuffer{FileID: s.Editing.FileID, Fields: maps.Clone(s.Editing.Fields)}
	}
	return out
}

func (s State) index(id string) int {
	return slices.IndexFunc(s.Files, func(f model.StagedFile) bool { return f.ID == id })
}

// File returns the staged file with id.
func (s State) File(id string) (model.StagedFile, bool) {
	if i := s.index(id); i >= 0 {
		return s.Files[i], true
	}
	return model.StagedFile{}, false
}

// IsSelected reports whether id is in the selection.
func (s State) IsSelected(id string) bool {
	return slices.Contains(s.Selected, id)
}

// SelectedFiles returns the selected files in collection order.
func (s State) SelectedFiles() []model.StagedFile {
	var out []model.StagedFile
	for _, f := range s.Files {
		if s.IsSelected(f.ID) {
			out = append(out, f)
		}
	}
	return out
}

// Counts tallies files per status.
func (s State) Counts() map[model.FileStatus]int {
	out := map[model.FileStatus]int{}
	for _, f := range s.Files {
		out[f.Status]++
	}
	return out
}

// Validate checks every file and that selection and edit refer to staged files.
func (s State) Validate() error {
	names := make(map[string]bool, len(s.Files))
	for _, f := range s.Files {
		if err := f.Validate(); err != nil {
			return err
		}
		if names[f.Name] {
			return fmt.Errorf("duplicate file name %q", f.Name)
		}
		names[f.Name] = true
	}
	for _, id := range s.Selected {
		if s.index(id) < 0 {
			return fmt.Errorf("selection: %w %s", ErrUnknownFile, id)
		}
	}
	if s.Editing != nil && s.index(s.Editing.FileID) < 0 {
		return fmt.Errorf("edit: %w %s", ErrUnknownFile, s.Editing.FileID)
	}
	return nil
}

// withSelection returns a copy of s selecting exactly the staged ids in want,
// ordered as the files are.
func (s State) withSelection(want map[string]bool) State {
	out := s.Clone()
	out.Selected = out.Selected[:0]
	for _, f := range out.Files {
		if want[f.ID] {
			out.Selected = append(out.Selected, f.ID)
		}
	}
	return out
}

func (s State) selectionSet() map[string]bool {
	set := make(map[string]bool, len(s.Selected))
	for _, id := range s.Selected {
		set[id] = true
	}
	return set
}

// Intake appends newly staged files. Files whose name is already staged are
// ignored.
func (s State) Intake(files []model.StagedFile) State {
	out := s.Clone()
	names := make(map[string]bool, len(out.Files))
	for _, f := range out.Files {
		names[f.Name] = true
	}
	for _, f := range files {
		if names[f.Name] {
			continue
		}
		names[f.Name] = true
		out.Files = append(out.Files, f.Clone())
	}
	return out
}

// ApplyResult replaces the staged file with the same id by f.
func (s State) ApplyResult(f model.StagedFile) (State, error) {
	i := s.index(f.ID)
	if i < 0 {
		return s, fmt.Errorf("%w %s", ErrUnknownFile, f.ID)
	}
	out := s.Clone()
	out.Files[i] = f.Clone()
	return out, nil
}

// AutoSelect selects every processed file, replacing the previous selection.
func (s State) AutoSelect() State {
	want := make(map[string]bool)
	for _, f := range s.Files {
		if f.Status == model.StatusProcessed {
			want[f.ID] = true
		}
	}
	return s.withSelection(want)
}

// Toggle flips the selection of id.
func (s State) Toggle(id string) (State, error) {
	if s.index(id) < 0 {
		return s, fmt.Errorf("%w %s", ErrUnknownFile, id)
	}
	want := s.selectionSet()
	want[id] = !want[id]
	return s.withSelection(want), nil
}

// Select adds ids to the selection. Unknown ids are ignored.
func (s State) Select(ids ...string) State {
	want := s.selectionSet()
	for _, id := range ids {
		want[id] = true
	}
	return s.withSelection(want)
}

// SelectAll selects every staged file regardless of status.
func (s State) SelectAll() State {
	want := make(map[string]bool, len(s.Files))
	for _, f := range s.Files {
		want[f.ID] = true
	}
	return s.withSelection(want)
}

// DeselectAll clears the selection.
func (s State) DeselectAll() State {
	return s.withSelection(nil)
}

// StartEdit seeds the edit buffer from the file's editable fields. An edit
// already in progress on another file is discarded.
func (s State) StartEdit(id string) (State, error) {
	f, ok := s.File(id)
	if !ok {
		return s, fmt.Errorf("%w %s", ErrUnknownFile, id)
	}
	if f.Data == nil {
		return s, fmt.Errorf("%w: %s", ErrNotProcessed, f.Name)
	}
	out := s.Clone()
	out.Editing = &EditBuffer{FileID: id, Fields: f.Data.EditableFields()}
	return out, nil
}

// SetField changes one field in the edit buffer.
func (s State) SetField(key, value string) (State, error) {
	if s.Editing == nil {
		return s, ErrNotEditing
	}
	out := s.Clone()
	out.Editing.Fields[key] = value
	return out, nil
}

// SaveEdit merges the buffer into the edited file's payload and closes the
// editor.
func (s State) SaveEdit() (State, error) {
	if s.Editing == nil {
		return s, ErrNotEditing
	}
	i := s.index(s.Editing.FileID)
	if i < 0 {
		return s, fmt.Errorf("%w %s", ErrUnknownFile, s.Editing.FileID)
	}
	f := s.Files[i]
	if f.Data == nil {
		return s, fmt.Errorf("%w: %s", ErrNotProcessed, f.Name)
	}
	payload, err := f.Data.ApplyEdit(s.Editing.Fields)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	out.Files[i].Data = &payload
	out.Editing = nil
	return out, nil
}

// CancelEdit discards the buffer.
func (s State) CancelEdit() State {
	out := s.Clone()
	out.Editing = nil
	return out
}

// Reject removes a file from the collection and the selection.
func (s State) Reject(id string) (State, error) {
	if s.index(id) < 0 {
		return s, fmt.Errorf("%w %s", ErrUnknownFile, id)
	}
	return s.Prune([]string{id}), nil
}

// Prune removes every listed id that is staged. Unknown ids are ignored.
func (s State) Prune(ids []string) State {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := s.Clone()
	out.Files = slices.DeleteFunc(out.Files, func(f model.StagedFile) bool { return drop[f.ID] })
	out.Selected = slices.DeleteFunc(out.Selected, func(id string) bool { return drop[id] })
	if out.Editing != nil && drop[out.Editing.FileID] {
		out.Editing = nil
	}
	return out
}
