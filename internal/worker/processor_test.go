package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/queue"
	"github.com/dharsanguruparan/certdesk/internal/review"
	"github.com/dharsanguruparan/certdesk/internal/storage"
)

type memSessions struct {
	*storage.MemoryStore
	mu sync.Mutex
}

func (m *memSessions) Update(ctx context.Context, id string, fn func([]byte) ([]byte, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := m.Load(ctx, id)
	if err != nil {
		return err
	}
	next, err := fn(data)
	if err != nil {
		return err
	}
	return m.Save(ctx, id, next)
}

type fakeFiles struct {
	calls []string
}

func (f *fakeFiles) Process(_ context.Context, sf model.StagedFile) model.StagedFile {
	f.calls = append(f.calls, sf.ID)
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if sf.Name == "bad.png" {
		return sf.WithError("Server error. Please try again later.", at)
	}
	return sf.WithResult(model.NewOCRPayload(model.OCRData{ExtractedData: map[string]string{"seat_no": "S1"}, Confidence: 0.9}), at)
}

func setup(t *testing.T) (*memSessions, *fakeFiles, *Processor) {
	t.Helper()
	sessions := &memSessions{MemoryStore: storage.NewMemoryStore()}
	st := review.State{}.Intake([]model.StagedFile{
		{ID: "a", Name: "good.png", Status: model.StatusPending},
		{ID: "b", Name: "bad.png", Status: model.StatusPending},
	})
	data, err := review.Encode(st)
	require.NoError(t, err)
	require.NoError(t, sessions.Save(context.Background(), "s1", data))
	files := &fakeFiles{}
	return sessions, files, NewProcessor(sessions, files, nil)
}

func task(t *testing.T, session, file string) *asynq.Task {
	t.Helper()
	tk, err := queue.NewProcessTask(queue.ProcessPayload{SessionID: session, FileID: file})
	require.NoError(t, err)
	return tk
}

func loadState(t *testing.T, s *memSessions) review.State {
	t.Helper()
	data, err := s.Load(context.Background(), "s1")
	require.NoError(t, err)
	st, err := review.Decode(data)
	require.NoError(t, err)
	return st
}

func TestProcessTaskStoresResults(t *testing.T) {
	sessions, files, p := setup(t)
	ctx := context.Background()

	require.NoError(t, p.ProcessTask(ctx, task(t, "s1", "a")))
	require.NoError(t, p.ProcessTask(ctx, task(t, "s1", "b")))

	st := loadState(t, sessions)
	good, _ := st.File("a")
	bad, _ := st.File("b")
	assert.Equal(t, model.StatusProcessed, good.Status)
	assert.Equal(t, model.StatusError, bad.Status)
	assert.Equal(t, []string{"a"}, st.Selected)

	require.NoError(t, p.ProcessTask(ctx, task(t, "s1", "a")))
	assert.Equal(t, []string{"a", "b"}, files.calls)
}

func TestProcessTaskSkips(t *testing.T) {
	_, files, p := setup(t)
	ctx := context.Background()

	assert.NoError(t, p.ProcessTask(ctx, task(t, "s1", "gone")))
	assert.NoError(t, p.ProcessTask(ctx, task(t, "missing", "a")))
	assert.Empty(t, files.calls)

	err := p.ProcessTask(ctx, asynq.NewTask(queue.ProcessStagedTask, []byte(`{}`)))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}
