package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/certdesk/internal/api/apitest"
	"github.com/dharsanguruparan/certdesk/internal/logging"
	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/review"
	"github.com/dharsanguruparan/certdesk/internal/storage"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func setupEnv(t *testing.T) (*apitest.Backend, string) {
	t.Helper()
	backend := apitest.New(t)
	dir := t.TempDir()
	t.Setenv("CERTDESK_CONFIG", "")
	t.Setenv("CERTDESK_TOKEN", "")
	t.Setenv("CERTDESK_DATABASE_URL", "")
	t.Setenv("CERTDESK_API_URL", backend.URL())
	t.Setenv("CERTDESK_SESSION_DIR", filepath.Join(dir, "sessions"))
	t.Setenv("CERTDESK_TOKEN_FILE", filepath.Join(dir, "token"))
	t.Setenv("CERTDESK_LOG_LEVEL", "error")
	return backend, dir
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	return runApp(t, &app{}, stdin, args...)
}

func runApp(t *testing.T, a *app, stdin string, args ...string) (string, error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cmd := newRootCommand(a)
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := execute(ctx, a, cmd)
	return out.String(), err
}

func TestLoginStoresToken(t *testing.T) {
	_, dir := setupEnv(t)

	out, err := run(t, "", "login", "-u", "admin", "-p", "secret")
	require.NoError(t, err)
	assert.Contains(t, out, "logged in as admin")

	token, err := os.ReadFile(filepath.Join(dir, "token"))
	require.NoError(t, err)
	assert.Equal(t, "token-admin\n", string(token))

	_, err = run(t, "", "login", "-u", "admin", "-p", "wrong")
	assert.Error(t, err)
}

func TestLoginChecksBackendHealth(t *testing.T) {
	backend, dir := setupEnv(t)
	backend.Fail("GET /api/health")

	_, err := run(t, "", "login", "-u", "admin", "-p", "secret")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unreachable")
	assert.Zero(t, backend.CallCount("POST /api/login"))
	assert.NoFileExists(t, filepath.Join(dir, "token"))
}

func TestResetDiscardsSession(t *testing.T) {
	_, dir := setupEnv(t)
	path := filepath.Join(dir, "cert.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	_, err := run(t, "", "intake", path)
	require.NoError(t, err)

	out, err := run(t, "n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "1 file(s)")

	_, err = run(t, "", "reset", "--yes")
	require.NoError(t, err)
	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0 file(s)")
}

func TestEditRequiresProcessedFile(t *testing.T) {
	_, dir := setupEnv(t)
	path := filepath.Join(dir, "marks.csv")
	require.NoError(t, os.WriteFile(path, []byte("seat_no\nS1\n"), 0o644))
	_, err := run(t, "", "intake", path)
	require.NoError(t, err)

	// Pending files have nothing to edit.
	_, err = run(t, "", "edit", "marks.csv", "--set", "seat_no=S2")
	assert.ErrorIs(t, err, review.ErrNotProcessed)

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.NotContains(t, out, "edit in progress")
}

func TestReviewWorkflow(t *testing.T) {
	backend, dir := setupEnv(t)
	drop := filepath.Join(dir, "drop")
	require.NoError(t, os.MkdirAll(drop, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(drop, "marks.csv"), []byte("seat_no,name\nS1,Asha\nS2,Ravi\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(drop, "cert.png"), pngHeader, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(drop, "notes.txt"), []byte("hello"), 0o644))

	out, err := run(t, "", "intake", drop)
	require.NoError(t, err)
	assert.Contains(t, out, "staged 2 file(s)")

	out, err = run(t, "", "intake", drop)
	require.NoError(t, err)
	assert.Contains(t, out, "staged 0 file(s)")

	out, err = run(t, "", "process")
	require.NoError(t, err)
	assert.Contains(t, out, "2 processed, 2 selected")
	assert.Equal(t, 1, backend.CallCount("POST /api/ocr-extract"))

	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "csv, 2 record(s)")
	assert.Contains(t, out, "2 processed, 0 failed, 2 selected")

	_, err = run(t, "", "edit", "cert.png", "--set", "seat_no=S9")
	require.NoError(t, err)
	out, err = run(t, "", "edit", "cert.png")
	require.NoError(t, err)
	assert.Contains(t, out, "S9")

	out, err = run(t, "", "submit")
	require.NoError(t, err)
	assert.Contains(t, out, "approved 3")

	require.Len(t, backend.Approved, 1)
	items := backend.Approved[0]
	require.Len(t, items, 3)
	var ocr []model.SubmissionItem
	for _, it := range items {
		if it.Source == model.SourceOCR {
			ocr = append(ocr, it)
		}
	}
	require.Len(t, ocr, 1)
	assert.Equal(t, "S9", ocr[0].Data["seat_no"])
	require.NotNil(t, ocr[0].Confidence)

	out, err = run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "0 file(s)")

	_, err = run(t, "", "submit")
	assert.ErrorIs(t, err, review.ErrEmptySelection)
}

func TestSubmitFailureKeepsSelection(t *testing.T) {
	backend, dir := setupEnv(t)
	path := filepath.Join(dir, "cert.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o644))
	_, err := run(t, "", "intake", path)
	require.NoError(t, err)
	_, err = run(t, "", "process")
	require.NoError(t, err)

	backend.SetApproveStatus(500)
	_, err = run(t, "", "submit")
	require.Error(t, err)

	out, err := run(t, "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "1 selected")
}

func TestBlacklistRemoveAsksForConfirmation(t *testing.T) {
	backend, _ := setupEnv(t)
	backend.AddFraudLog(model.FraudLog{ID: 1, FraudStatus: model.FraudFake, ExtractedSeatNo: "S0001"})

	out, err := run(t, "", "fraud", "list", "--status", "fake")
	require.NoError(t, err)
	assert.Contains(t, out, "S0001")

	_, err = run(t, "", "blacklist", "add", "1", "--reason", "forged seal")
	require.NoError(t, err)

	out, err = run(t, "n\n", "blacklist", "remove", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")
	assert.Zero(t, backend.CallCount("DELETE /api/blacklist/1"))

	_, err = run(t, "y\n", "blacklist", "remove", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, backend.CallCount("DELETE /api/blacklist/1"))
}

func TestExecuteClosesResourcesOnFailure(t *testing.T) {
	setupEnv(t)
	closed := 0
	a := &app{closers: []func(){func() { closed++ }}}

	_, err := runApp(t, a, "", "retry", "missing.png")
	require.ErrorIs(t, err, review.ErrUnknownFile)
	assert.Equal(t, 1, closed)
	assert.Empty(t, a.closers)

	_, err = runApp(t, a, "", "status")
	require.NoError(t, err)
	assert.Equal(t, 1, closed)
}

type flakyStore struct {
	*storage.MemoryStore
	fail bool
}

func (s *flakyStore) Save(ctx context.Context, id string, data []byte) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.MemoryStore.Save(ctx, id, data)
}

func TestAbandonEditLogsPersistFailure(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	a := &app{logger: logging.New(&logs, "debug")}
	store := &flakyStore{MemoryStore: storage.NewMemoryStore()}
	ctrl := review.NewController("s", store)

	f := model.StagedFile{ID: "f1", Name: "cert.png", Status: model.StatusPending}
	f = f.WithResult(model.NewOCRPayload(model.OCRData{ExtractedData: map[string]string{"seat_no": "S1"}}), f.CreatedAt)
	_, err := ctrl.Intake(ctx, []model.StagedFile{f})
	require.NoError(t, err)
	_, err = ctrl.StartEdit(ctx, "f1")
	require.NoError(t, err)

	store.fail = true
	a.abandonEdit(ctx, ctrl, "f1")
	assert.Contains(t, logs.String(), "cancel edit failed")
	assert.Contains(t, logs.String(), "disk full")
	assert.NotNil(t, ctrl.State().Editing)

	store.fail = false
	logs.Reset()
	a.abandonEdit(ctx, ctrl, "f1")
	assert.Empty(t, logs.String())
	assert.Nil(t, ctrl.State().Editing)
}

func TestResolveFile(t *testing.T) {
	st := review.State{Files: []model.StagedFile{
		{ID: "abc123", Name: "a.png"},
		{ID: "abd456", Name: "b.png"},
	}}
	id, err := resolveFile(st, "b.png")
	require.NoError(t, err)
	assert.Equal(t, "abd456", id)

	id, err = resolveFile(st, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc123", id)

	_, err = resolveFile(st, "ab")
	assert.ErrorIs(t, err, errAmbiguousFile)
	_, err = resolveFile(st, "zzz")
	assert.ErrorIs(t, err, review.ErrUnknownFile)
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"seat_no=S1", "note=a=b"})
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"seat_no", "S1"}, {"note", "a=b"}}, got)

	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
}
