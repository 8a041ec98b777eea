package processing

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/certdesk/internal/api/apitest"
	"github.com/dharsanguruparan/certdesk/internal/intake"
	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/review"
	"github.com/dharsanguruparan/certdesk/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

type fixture struct {
	dir     string
	backend *apitest.Backend
	ctrl    *review.Controller
	runner  *Runner
}

func newFixture(t *testing.T, backend *apitest.Backend, token string) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	client := backend.Client()
	client.SetToken(token)
	queue := NewQueue(NewDispatcher(client, nil, nil), 16, nil)
	queue.Start(ctx)
	ctrl := review.NewController("test", storage.NewMemoryStore())
	return &fixture{
		dir:     t.TempDir(),
		backend: backend,
		ctrl:    ctrl,
		runner:  NewRunner(ctrl, queue, nil),
	}
}

func (f *fixture) write(t *testing.T, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o600))
	return p
}

func (f *fixture) stage(t *testing.T, paths ...string) []model.StagedFile {
	t.Helper()
	candidates, err := intake.Candidates(paths)
	require.NoError(t, err)
	stager := intake.NewStager(intake.NewValidator(16<<20,
		[]string{"image/png", "application/pdf", "text/csv"},
		[]string{".png", ".pdf", ".csv"}))
	staged, _ := stager.Stage(f.ctrl.State().Files, candidates)
	_, err = f.ctrl.Intake(context.Background(), staged)
	require.NoError(t, err)
	return staged
}

func statusByName(st review.State) map[string]model.StagedFile {
	out := map[string]model.StagedFile{}
	for _, f := range st.Files {
		out[f.Name] = f
	}
	return out
}

func TestProcessAllScenario(t *testing.T) {
	backend := apitest.New(t)
	f := newFixture(t, backend, "")

	png := f.write(t, "cert1.png", append(pngHeader, make([]byte, 2<<20)...))
	csvPath := f.write(t, "data.csv", []byte("seat_no,name\nS1,Asha\n , \nS2,Ravi\n"))
	staged := f.stage(t, png, csvPath, png)
	require.Len(t, staged, 2)

	done, err := f.runner.ProcessAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, done, 2)

	st := f.ctrl.State()
	files := statusByName(st)
	csvFile := files["data.csv"]
	require.Equal(t, model.StatusProcessed, csvFile.Status)
	require.Equal(t, model.KindCSV, csvFile.Data.Kind)
	assert.Len(t, csvFile.Data.CSV.Records, 2)

	pngFile := files["cert1.png"]
	require.Equal(t, model.StatusProcessed, pngFile.Status)
	require.Equal(t, model.KindOCR, pngFile.Data.Kind)
	assert.Equal(t, "S1001", pngFile.Data.OCR.ExtractedData["seat_no"])
	assert.InDelta(t, 0.912, pngFile.Data.OCR.Confidence, 1e-9)

	assert.Len(t, st.Selected, 2)
	assert.Equal(t, 1, backend.CallCount("POST /api/ocr-extract"))
	assert.NoError(t, st.Validate())
}

func TestProcessAllIsolatesFailures(t *testing.T) {
	backend := apitest.New(t)
	backend.OCR = func(filename string, data []byte) (int, any) {
		if filename == "a.png" {
			return http.StatusInternalServerError, map[string]string{"error": "OCR engine crashed"}
		}
		return apitest.DefaultOCR(filename, data)
	}
	f := newFixture(t, backend, "")
	f.stage(t, f.write(t, "a.png", pngHeader), f.write(t, "b.png", pngHeader))

	done, err := f.runner.ProcessAll(context.Background())
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, "b.png", done[0].Name)

	st := f.ctrl.State()
	files := statusByName(st)
	assert.Equal(t, model.StatusError, files["a.png"].Status)
	assert.Equal(t, "Server error. Please try again later.", files["a.png"].Error)
	assert.Nil(t, files["a.png"].Data)
	assert.Equal(t, model.StatusProcessed, files["b.png"].Status)
	assert.Equal(t, []string{files["b.png"].ID}, st.Selected)
}

func TestProcessAllUnauthorized(t *testing.T) {
	backend := apitest.New(t)
	backend.Token = "secret"
	f := newFixture(t, backend, "wrong")
	f.stage(t, f.write(t, "scan.png", pngHeader), f.write(t, "rows.csv", []byte("a,b\n1,2\n")))

	_, err := f.runner.ProcessAll(context.Background())
	require.NoError(t, err)

	st := f.ctrl.State()
	files := statusByName(st)
	scan := files["scan.png"]
	assert.Equal(t, model.StatusError, scan.Status)
	assert.Contains(t, scan.Error, "Authentication required")
	assert.Equal(t, model.StatusProcessed, files["rows.csv"].Status)
	assert.Equal(t, []string{files["rows.csv"].ID}, st.Selected)
}

func TestProcessAllKeepsOrderAndPublishes(t *testing.T) {
	backend := apitest.New(t)
	var mu sync.Mutex
	var order []string
	backend.OCR = func(filename string, data []byte) (int, any) {
		mu.Lock()
		order = append(order, filename)
		mu.Unlock()
		return apitest.DefaultOCR(filename, data)
	}
	f := newFixture(t, backend, "")
	f.stage(t, f.write(t, "3.png", pngHeader), f.write(t, "1.png", pngHeader), f.write(t, "2.png", pngHeader))
	want := []string{}
	for _, sf := range f.ctrl.State().Files {
		want = append(want, sf.Name)
	}

	var published []string
	unsubscribe := f.ctrl.Subscribe(func(sf model.StagedFile) {
		mu.Lock()
		published = append(published, sf.Name+":"+string(sf.Status))
		mu.Unlock()
	})
	defer unsubscribe()

	_, err := f.runner.ProcessAll(context.Background())
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
	require.Len(t, published, 3)
	for i, name := range want {
		assert.Equal(t, name+":processed", published[i])
	}
}

func TestRetry(t *testing.T) {
	backend := apitest.New(t)
	backend.OCR = func(string, []byte) (int, any) {
		return http.StatusBadGateway, map[string]string{"error": "upstream"}
	}
	f := newFixture(t, backend, "")
	f.stage(t, f.write(t, "flaky.png", pngHeader))

	_, err := f.runner.ProcessAll(context.Background())
	require.NoError(t, err)
	failed := f.ctrl.State().Files[0]
	require.Equal(t, model.StatusError, failed.Status)
	assert.Empty(t, f.ctrl.State().Selected)

	backend.SetOCR(apitest.DefaultOCR)
	res, err := f.runner.Retry(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusProcessed, res.Status)
	assert.Equal(t, []string{failed.ID}, f.ctrl.State().Selected)

	_, err = f.runner.Retry(context.Background(), failed.ID)
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
	_, err = f.runner.Retry(context.Background(), "nope")
	assert.ErrorIs(t, err, review.ErrUnknownFile)
}

func TestDispatcherPDFPreflight(t *testing.T) {
	backend := apitest.New(t)
	f := newFixture(t, backend, "")
	f.stage(t, f.write(t, "broken.pdf", []byte("%PDF-1.4\nthis is not really a pdf")))

	_, err := f.runner.ProcessAll(context.Background())
	require.NoError(t, err)
	file := f.ctrl.State().Files[0]
	assert.Equal(t, model.StatusError, file.Status)
	assert.Equal(t, MsgPDFRead, file.Error)
	assert.Zero(t, backend.CallCount("POST /api/ocr-extract"))
}

func TestDispatcherCSVFailures(t *testing.T) {
	d := NewDispatcher(nil, nil, nil)
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))

	for _, sf := range []model.StagedFile{
		{ID: "1", Name: "empty.csv", ContentType: "text/csv", Source: empty, Status: model.StatusPending},
		{ID: "2", Name: "gone.csv", ContentType: "text/csv", Source: filepath.Join(dir, "gone.csv"), Status: model.StatusPending},
	} {
		res := d.Process(context.Background(), sf)
		assert.Equal(t, model.StatusError, res.Status, sf.Name)
		assert.Equal(t, MsgCSVParse, res.Error)
		assert.NoError(t, res.Validate())
	}
}

type gateProcessor struct {
	release chan struct{}
}

func (g gateProcessor) Process(_ context.Context, f model.StagedFile) model.StagedFile {
	<-g.release
	return f.WithResult(model.NewCSVPayload(model.CSVData{}), f.CreatedAt)
}

func TestQueueSubmitWaitsForRoom(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	gate := gateProcessor{release: make(chan struct{})}
	q := NewQueue(gate, 1, nil)

	var mu sync.Mutex
	results := map[string]model.StagedFile{}
	done := func(f model.StagedFile, attempted bool) {
		mu.Lock()
		if attempted {
			results[f.ID] = f
		}
		mu.Unlock()
	}
	require.NoError(t, q.Submit(ctx, Job{File: model.StagedFile{ID: "a", Status: model.StatusPending}, Done: done}))

	// The buffer is full and the worker is not running yet.
	short, stop := context.WithTimeout(ctx, 20*time.Millisecond)
	defer stop()
	err := q.Submit(short, Job{File: model.StagedFile{ID: "b", Status: model.StatusPending}, Done: done})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	submitted := make(chan error, 1)
	go func() {
		submitted <- q.Submit(ctx, Job{File: model.StagedFile{ID: "c", Status: model.StatusPending}, Done: done})
	}()
	q.Start(ctx)
	close(gate.release)
	require.NoError(t, <-submitted)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, model.StatusProcessed, results["a"].Status)
	assert.Equal(t, model.StatusProcessed, results["c"].Status)
	assert.NotContains(t, results, "b")
}

type orderProcessor struct {
	mu    sync.Mutex
	order []string
}

func (o *orderProcessor) Process(_ context.Context, f model.StagedFile) model.StagedFile {
	o.mu.Lock()
	o.order = append(o.order, f.Name)
	o.mu.Unlock()
	time.Sleep(time.Millisecond)
	return f.WithResult(model.NewCSVPayload(model.CSVData{}), f.CreatedAt)
}

func TestProcessAllBatchLargerThanQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &orderProcessor{}
	q := NewQueue(proc, 2, nil)
	q.Start(ctx)
	ctrl := review.NewController("big", storage.NewMemoryStore())

	var files []model.StagedFile
	var names []string
	for i := 0; i < 9; i++ {
		name := "f" + string(rune('0'+i)) + ".png"
		names = append(names, name)
		files = append(files, model.StagedFile{ID: name, Name: name, Size: 1, Status: model.StatusPending})
	}
	_, err := ctrl.Intake(ctx, files)
	require.NoError(t, err)

	done, err := NewRunner(ctrl, q, nil).ProcessAll(ctx)
	require.NoError(t, err)
	assert.Len(t, done, len(files))
	for _, f := range ctrl.State().Files {
		assert.Equal(t, model.StatusProcessed, f.Status, f.Name)
		assert.Empty(t, f.Error)
	}
	assert.Len(t, ctrl.State().Selected, len(files))

	proc.mu.Lock()
	defer proc.mu.Unlock()
	assert.Equal(t, names, proc.order)
}
