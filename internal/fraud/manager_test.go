package fraud

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/api/apitest"
	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/notify"
)

func seed(b *apitest.Backend, n int) {
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		at := base.AddDate(0, 0, i)
		status := model.FraudFake
		if i%2 == 0 {
			status = model.FraudSuspicious
		}
		b.AddFraudLog(model.FraudLog{
			ID:              int64(i),
			DetectedAt:      &at,
			FraudStatus:     status,
			ExtractedSeatNo: fmt.Sprintf("S%04d", i),
			DetectionReason: `["Seat number not found"]`,
		})
	}
}

func TestFiltersValidate(t *testing.T) {
	assert.NoError(t, Filters{}.Validate())
	assert.NoError(t, Filters{Status: model.FraudFake, DateFrom: "2024-03-01", DateTo: "2024-03-01"}.Validate())
	assert.ErrorIs(t, Filters{Status: model.FraudAuthentic}.Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, Filters{DateFrom: "03/01/2024"}.Validate(), ErrInvalidFilter)
	assert.ErrorIs(t, Filters{DateFrom: "2024-03-05", DateTo: "2024-03-01"}.Validate(), ErrInvalidFilter)
}

func TestLoadLogsPaginationAndFilters(t *testing.T) {
	backend := apitest.New(t)
	seed(backend, 25)
	m := NewManager(backend.Client())
	ctx := context.Background()

	require.NoError(t, m.LoadLogs(ctx))
	snap := m.Snapshot()
	assert.Len(t, snap.Logs.Logs, 20)
	assert.Equal(t, 2, snap.Logs.Pages)
	assert.Equal(t, 25, snap.Logs.Total)
	assert.False(t, snap.Logs.Loading)

	require.NoError(t, m.SetPage(2))
	require.NoError(t, m.LoadLogs(ctx))
	assert.Len(t, m.Snapshot().Logs.Logs, 5)

	require.NoError(t, m.SetFilters(Filters{Status: model.FraudFake}))
	assert.Equal(t, 2, m.Snapshot().Logs.Page)
	require.NoError(t, m.LoadLogs(ctx))
	snap = m.Snapshot()
	assert.Equal(t, 13, snap.Logs.Total)
	assert.Len(t, snap.Logs.Logs, 0)

	require.NoError(t, m.SetFilters(Filters{DateFrom: "2024-03-02", DateTo: "2024-03-04"}))
	require.NoError(t, m.SetPage(1))
	require.NoError(t, m.LoadLogs(ctx))
	assert.Equal(t, 3, m.Snapshot().Logs.Total)
}

func TestSetFiltersWithPageReset(t *testing.T) {
	m := NewManager(nil, WithPageReset(true))
	require.NoError(t, m.SetPage(3))
	require.NoError(t, m.SetFilters(Filters{Status: model.FraudSuspicious}))
	assert.Equal(t, 1, m.Snapshot().Logs.Page)

	err := m.SetFilters(Filters{Status: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidFilter)
	assert.Equal(t, model.FraudSuspicious, m.Snapshot().Filters.Status)
	assert.Error(t, m.SetPage(0))
}

func TestMarkReviewedRefetches(t *testing.T) {
	backend := apitest.New(t)
	seed(backend, 3)
	banner := notify.NewBanner(5 * time.Second)
	m := NewManager(backend.Client(), WithBanner(banner))
	ctx := context.Background()

	require.NoError(t, m.LoadLogs(ctx))
	require.NoError(t, m.MarkReviewed(ctx, 2, "checked with registrar"))

	l, ok := m.Snapshot().Log(2)
	require.True(t, ok)
	assert.True(t, l.ReviewedByAdmin)
	assert.Equal(t, "checked with registrar", l.AdminNotes)
	assert.Equal(t, 2, backend.CallCount("GET /api/fraud-logs"))

	alert, ok := banner.Current()
	require.True(t, ok)
	assert.Equal(t, notify.LevelSuccess, alert.Level)
}

func TestBlacklistMutualExclusion(t *testing.T) {
	backend := apitest.New(t)
	seed(backend, 3)
	m := NewManager(backend.Client())
	ctx := context.Background()
	require.NoError(t, m.LoadLogs(ctx))

	l, ok := m.Snapshot().Log(1)
	require.True(t, ok)
	require.True(t, l.CanBlacklist())

	require.NoError(t, m.AddToBlacklist(ctx, model.NewBlacklistRequest(1, "forged seal")))
	l, _ = m.Snapshot().Log(1)
	require.NotNil(t, l.BlacklistEntry)
	assert.True(t, l.Blacklisted())
	assert.False(t, l.CanBlacklist())
	assert.True(t, l.BlacklistEntry.AutoBlockSeatNo)
	assert.False(t, l.BlacklistEntry.AutoBlockNameCombo)
	require.NotNil(t, m.Snapshot().Logs.Stats)
	assert.Equal(t, 2, m.Snapshot().Logs.Stats.TotalFraudAttempts)

	err := m.AddToBlacklist(ctx, model.NewBlacklistRequest(1, "again"))
	assert.ErrorIs(t, err, ErrAlreadyBlacklisted)
	assert.Equal(t, 1, backend.CallCount("POST /api/blacklist"))

	require.NoError(t, m.LoadBlacklist(ctx))
	entries := m.Snapshot().Blacklist.Entries
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].FraudLog)
	assert.Equal(t, int64(1), entries[0].FraudLog.ID)

	assert.ErrorIs(t, m.RemoveFromBlacklist(ctx, 1, func(int64) bool { return false }), ErrNotConfirmed)
	assert.ErrorIs(t, m.RemoveFromBlacklist(ctx, 1, nil), ErrNotConfirmed)
	assert.Zero(t, backend.CallCount("DELETE /api/blacklist/1"))

	require.NoError(t, m.RemoveFromBlacklist(ctx, 1, func(id int64) bool { return id == 1 }))
	snap := m.Snapshot()
	l, _ = snap.Log(1)
	assert.Nil(t, l.BlacklistEntry)
	assert.True(t, l.CanBlacklist())
	assert.Empty(t, snap.Blacklist.Entries)
	require.NotNil(t, snap.Blacklist.Stats)
	assert.Zero(t, snap.Blacklist.Stats.TotalBlacklisted)
	assert.Equal(t, 3, snap.Logs.Stats.TotalFraudAttempts)
}

func TestFailureKeepsStateAndRaisesBanner(t *testing.T) {
	backend := apitest.New(t)
	seed(backend, 2)
	banner := notify.NewBanner(5 * time.Second)
	m := NewManager(backend.Client(), WithBanner(banner))
	ctx := context.Background()
	require.NoError(t, m.LoadLogs(ctx))
	before := m.Snapshot()

	backend.Fail("GET /api/fraud-logs")
	require.Error(t, m.LoadLogs(ctx))
	assert.Equal(t, before, m.Snapshot())

	alert, ok := banner.Current()
	require.True(t, ok)
	assert.Equal(t, "Server error. Please try again later.", alert.Message)

	err := m.AddToBlacklist(ctx, model.NewBlacklistRequest(2, ""))
	require.Error(t, err)
	alert, _ = banner.Current()
	assert.Equal(t, "Only FAKE certificates can be blacklisted", alert.Message)
}

// slowLogsBackend delays fraud-log fetches and fails stats with a 401.
type slowLogsBackend struct {
	Backend
	delay time.Duration
}

func (b slowLogsBackend) FraudLogs(ctx context.Context, page, perPage int, filter api.FraudFilter) (*model.FraudLogPage, error) {
	select {
	case <-time.After(b.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Backend.FraudLogs(ctx, page, perPage, filter)
}

func (b slowLogsBackend) FraudStats(context.Context) (*model.FraudStats, error) {
	return nil, &api.Error{StatusCode: 401, Method: "GET", Path: "/api/fraud-logs/stats", Message: "Token is missing"}
}

func TestRefetchFailureShowsRealError(t *testing.T) {
	backend := apitest.New(t)
	seed(backend, 3)
	banner := notify.NewBanner(5 * time.Second)
	m := NewManager(slowLogsBackend{Backend: backend.Client(), delay: 50 * time.Millisecond}, WithBanner(banner))
	ctx := context.Background()

	err := m.AddToBlacklist(ctx, model.NewBlacklistRequest(1, "forged"))
	require.Error(t, err)
	assert.True(t, api.IsUnauthorized(err))

	alert, ok := banner.Current()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, alert.Level)
	assert.Equal(t, "Authentication required: Token is missing", alert.Message)

	// The slow sibling still completed instead of being cancelled.
	snap := m.Snapshot()
	assert.Len(t, snap.Logs.Logs, 3)
	l, ok := snap.Log(1)
	require.True(t, ok)
	assert.True(t, l.Blacklisted())

	err = m.RemoveFromBlacklist(ctx, 1, func(int64) bool { return true })
	require.Error(t, err)
	alert, _ = banner.Current()
	assert.Equal(t, "Authentication required: Token is missing", alert.Message)
}

func TestExportUsesFilters(t *testing.T) {
	backend := apitest.New(t)
	seed(backend, 4)
	m := NewManager(backend.Client())
	require.NoError(t, m.SetFilters(Filters{Status: model.FraudSuspicious}))

	var buf bytes.Buffer
	n, err := m.Export(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "ID,Status,Seat No,Reviewed", lines[0])
	for _, line := range lines[1:] {
		assert.Contains(t, line, "SUSPICIOUS")
	}
}
