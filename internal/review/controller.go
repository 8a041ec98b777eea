package review

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/notify"
	"github.com/dharsanguruparan/certdesk/internal/storage"
)

// SessionStore persists encoded sessions by id. Load returns
// storage.ErrNotFound for unknown ids.
type SessionStore interface {
	Load(ctx context.Context, id string) ([]byte, error)
	Save(ctx context.Context, id string, data []byte) error
}

// Approver sends a bulk-approve batch.
type Approver interface {
	BulkApprove(ctx context.Context, items []model.SubmissionItem) (*model.BulkApproveResult, error)
}

// ApproveFunc is called with the submitted files and the backend result after
// a successful submission.
type ApproveFunc func(submitted []model.StagedFile, result *model.BulkApproveResult)

// Controller owns one review session. All transitions go through it so the
// processing worker and the caller never write concurrently.
type Controller struct {
	mu       sync.Mutex
	id       string
	state    State
	store    SessionStore
	approver Approver
	banner   *notify.Banner
	logger   *slog.Logger

	subMu  sync.Mutex
	subs   map[int]func(model.StagedFile)
	nextID int
}

// Option customizes a Controller.
type Option func(*Controller)

// WithBanner routes submission failures to b.
func WithBanner(b *notify.Banner) Option {
	return func(c *Controller) { c.banner = b }
}

// WithLogger sets the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithApprover sets the backend used by Submit.
func WithApprover(a Approver) Option {
	return func(c *Controller) { c.approver = a }
}

// NewController builds a controller for session id. A nil store keeps the
// session in memory only.
func NewController(id string, store SessionStore, opts ...Option) *Controller {
	c := &Controller{
		id:     id,
		store:  store,
		logger: slog.Default(),
		subs:   map[int]func(model.StagedFile){},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the session id.
func (c *Controller) ID() string {
	return c.id
}

// Load replaces the in-memory state with the stored session. A missing session
// starts empty.
func (c *Controller) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	data, err := c.store.Load(ctx, c.id)
	if errors.Is(err, storage.ErrNotFound) {
		c.mu.Lock()
		c.state = State{}
		c.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load session %s: %w", c.id, err)
	}
	st, err := Decode(data)
	if err != nil {
		return fmt.Errorf("load session %s: %w", c.id, err)
	}
	c.mu.Lock()
	c.state = st
	c.mu.Unlock()
	return nil
}

// Decode parses a stored session.
func Decode(data []byte) (State, error) {
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode session: %w", err)
	}
	if err := st.Validate(); err != nil {
		return State{}, fmt.Errorf("invalid session: %w", err)
	}
	return st, nil
}

// Encode serializes a session for storage.
func Encode(st State) ([]byte, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	return data, nil
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Subscribe registers fn to receive every file update. The returned func
// removes the subscription.
func (c *Controller) Subscribe(fn func(model.StagedFile)) func() {
	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.subMu.Unlock()
	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

func (c *Controller) publish(f model.StagedFile) {
	c.subMu.Lock()
	fns := make([]func(model.StagedFile), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()
	for _, fn := range fns {
		fn(f.Clone())
	}
}

// apply runs a transition under the lock and persists the result. The state is
// only replaced once it has been saved.
func (c *Controller) apply(ctx context.Context, fn func(State) (State, error)) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next, err := fn(c.state)
	if err != nil {
		return c.state.Clone(), err
	}
	if c.store != nil {
		data, err := Encode(next)
		if err != nil {
			return c.state.Clone(), err
		}
		if err := c.store.Save(ctx, c.id, data); err != nil {
			return c.state.Clone(), fmt.Errorf("save session %s: %w", c.id, err)
		}
	}
	c.state = next
	return next.Clone(), nil
}

func pure(fn func(State) State) func(State) (State, error) {
	return func(s State) (State, error) { return fn(s), nil }
}

// Intake adds staged files to the session.
func (c *Controller) Intake(ctx context.Context, files []model.StagedFile) (State, error) {
	return c.apply(ctx, func(s State) (State, error) { return s.Intake(files), nil })
}

// ApplyResult stores a processed or failed file and notifies subscribers.
func (c *Controller) ApplyResult(ctx context.Context, f model.StagedFile) error {
	if _, err := c.apply(ctx, func(s State) (State, error) { return s.ApplyResult(f) }); err != nil {
		return err
	}
	c.publish(f)
	return nil
}

// AutoSelect selects every processed file.
func (c *Controller) AutoSelect(ctx context.Context) (State, error) {
	return c.apply(ctx, pure(State.AutoSelect))
}

// Toggle flips the selection of id.
func (c *Controller) Toggle(ctx context.Context, id string) (State, error) {
	return c.apply(ctx, func(s State) (State, error) { return s.Toggle(id) })
}

// Select adds ids to the selection.
func (c *Controller) Select(ctx context.Context, ids ...string) (State, error) {
	return c.apply(ctx, func(s State) (State, error) { return s.Select(ids...), nil })
}

// SelectAll selects every staged file.
func (c *Controller) SelectAll(ctx context.Context) (State, error) {
	return c.apply(ctx, pure(State.SelectAll))
}

// DeselectAll clears the selection.
func (c *Controller) DeselectAll(ctx context.Context) (State, error) {
	return c.apply(ctx, pure(State.DeselectAll))
}

// StartEdit opens the editor on id.
func (c *Controller) StartEdit(ctx context.Context, id string) (State, error) {
	return c.apply(ctx, func(s State) (State, error) { return s.StartEdit(id) })
}

// SetField edits one buffered field.
func (c *Controller) SetField(ctx context.Context, key, value string) (State, error) {
	return c.apply(ctx, func(s State) (State, error) { return s.SetField(key, value) })
}

// SaveEdit writes the buffer back to the file payload.
func (c *Controller) SaveEdit(ctx context.Context) (State, error) {
	return c.apply(ctx, State.SaveEdit)
}

// CancelEdit discards the buffer.
func (c *Controller) CancelEdit(ctx context.Context) (State, error) {
	return c.apply(ctx, pure(State.CancelEdit))
}

// Reject removes id from the session.
func (c *Controller) Reject(ctx context.Context, id string) (State, error) {
	return c.apply(ctx, func(s State) (State, error) { return s.Reject(id) })
}

// Prune removes ids from the session.
func (c *Controller) Prune(ctx context.Context, ids []string) (State, error) {
	return c.apply(ctx, func(s State) (State, error) { return s.Prune(ids), nil })
}

// Submit sends the current selection as one bulk-approve batch. On success
// onApprove (if set) runs before the selection is cleared. On failure the state
// is left untouched, the banner shows the translated error and the error is
// returned.
func (c *Controller) Submit(ctx context.Context, onApprove ApproveFunc) (*model.BulkApproveResult, error) {
	if c.approver == nil {
		return nil, errors.New("submit: no approver configured")
	}
	snapshot := c.State()
	items := BuildSubmission(snapshot)
	if len(items) == 0 {
		return nil, ErrEmptySelection
	}
	submitted := snapshot.SelectedFiles()

	c.logger.Info("submitting batch", "files", len(submitted), "items", len(items))
	result, err := c.approver.BulkApprove(ctx, items)
	if err != nil {
		msg := api.Message(err)
		if c.banner != nil {
			c.banner.Error(msg)
		}
		c.logger.Error("bulk approve failed", "error", err)
		return nil, fmt.Errorf("submit: %w", err)
	}
	if onApprove != nil {
		onApprove(submitted, result)
	}
	if _, err := c.DeselectAll(ctx); err != nil {
		return result, err
	}
	if c.banner != nil && result.Message != "" {
		c.banner.Success(result.Message)
	}
	return result, nil
}

// SubmittedIDs lists the ids of files, for pruning after a submission.
func SubmittedIDs(files []model.StagedFile) []string {
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}
	return ids
}
