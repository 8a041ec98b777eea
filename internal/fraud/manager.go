// Package fraud drives the fraud-log and blacklist administration views: two
// independently paginated tabs, filters, and the actions that mutate server
// state followed by the refetches that make the change visible.
package fraud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/model"
	"github.com/dharsanguruparan/certdesk/internal/notify"
)

var (
	ErrNotConfirmed       = errors.New("action not confirmed")
	ErrInvalidFilter      = errors.New("invalid filter")
	ErrAlreadyBlacklisted = errors.New("fraud log already blacklisted")
)

// DefaultPerPage is the page size of both tabs.
const DefaultPerPage = 20

const dateLayout = "2006-01-02"

// Backend is the slice of the HTTP client the manager uses.
type Backend interface {
	FraudLogs(ctx context.Context, page, perPage int, filter api.FraudFilter) (*model.FraudLogPage, error)
	UpdateFraudLog(ctx context.Context, id int64, update model.FraudLogUpdate) (*model.FraudLog, error)
	FraudStats(ctx context.Context) (*model.FraudStats, error)
	ExportFraudLogs(ctx context.Context, filter api.FraudFilter, w io.Writer) (int64, error)
	AddToBlacklist(ctx context.Context, req model.BlacklistRequest) (*model.BlacklistEntry, error)
	Blacklist(ctx context.Context, page, perPage int) (*model.BlacklistPage, error)
	RemoveFromBlacklist(ctx context.Context, fraudLogID int64) error
	BlacklistStats(ctx context.Context) (*model.BlacklistStats, error)
}

// Tab names a view.
type Tab string

const (
	TabLogs      Tab = "fraud-logs"
	TabBlacklist Tab = "blacklist"
)

// Filters narrow the fraud-log tab and the export. Dates are inclusive and use
// YYYY-MM-DD.
type Filters struct {
	Status   model.FraudStatus
	DateFrom string
	DateTo   string
}

// Validate checks the status and the date range.
func (f Filters) Validate() error {
	switch f.Status {
	case "", model.FraudFake, model.FraudSuspicious:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidFilter, f.Status)
	}
	var from, to time.Time
	var err error
	if f.DateFrom != "" {
		if from, err = time.Parse(dateLayout, f.DateFrom); err != nil {
			return fmt.Errorf("%w: date_from %q", ErrInvalidFilter, f.DateFrom)
		}
	}
	if f.DateTo != "" {
		if to, err = time.Parse(dateLayout, f.DateTo); err != nil {
			return fmt.Errorf("%w: date_to %q", ErrInvalidFilter, f.DateTo)
		}
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: date_to before date_from", ErrInvalidFilter)
	}
	return nil
}

func (f Filters) query() api.FraudFilter {
	return api.FraudFilter{Status: string(f.Status), DateFrom: f.DateFrom, DateTo: f.DateTo}
}

// Pager is the pagination cursor and loading flag of one tab.
type Pager struct {
	Page    int
	Pages   int
	Total   int
	Loading bool
}

// LogsTab is the fraud-log view.
type LogsTab struct {
	Pager
	Logs  []model.FraudLog
	Stats *model.FraudStats
}

// BlacklistTab is the blacklist view.
type BlacklistTab struct {
	Pager
	Entries []model.BlacklistEntry
	Stats   *model.BlacklistStats
}

// Snapshot is a copy of the manager state.
type Snapshot struct {
	Active    Tab
	Filters   Filters
	Logs      LogsTab
	Blacklist BlacklistTab
}

// Log returns the fraud log with id from the current page.
func (s Snapshot) Log(id int64) (model.FraudLog, bool) {
	for _, l := range s.Logs.Logs {
		if l.ID == id {
			return l, true
		}
	}
	return model.FraudLog{}, false
}

// Manager owns the state of both tabs. Methods are safe for concurrent use.
type Manager struct {
	backend   Backend
	perPage   int
	resetPage bool
	banner    *notify.Banner
	logger    *slog.Logger

	mu sync.Mutex
	st Snapshot
}

// Option customizes a Manager.
type Option func(*Manager)

// WithPerPage overrides the page size.
func WithPerPage(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.perPage = n
		}
	}
}

// WithPageReset makes SetFilters return the fraud-log tab to page 1.
func WithPageReset(reset bool) Option {
	return func(m *Manager) { m.resetPage = reset }
}

// WithBanner routes action results to b.
func WithBanner(b *notify.Banner) Option {
	return func(m *Manager) { m.banner = b }
}

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager builds a Manager with both tabs on page 1.
func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		perPage: DefaultPerPage,
		logger:  slog.Default(),
		st: Snapshot{
			Active:    TabLogs,
			Logs:      LogsTab{Pager: Pager{Page: 1, Pages: 1}},
			Blacklist: BlacklistTab{Pager: Pager{Page: 1, Pages: 1}},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Snapshot returns a copy of the current state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.st
	out.Logs.Logs = append([]model.FraudLog(nil), m.st.Logs.Logs...)
	out.Blacklist.Entries = append([]model.BlacklistEntry(nil), m.st.Blacklist.Entries...)
	return out
}

// SetTab switches the active tab.
func (m *Manager) SetTab(tab Tab) {
	m.mu.Lock()
	m.st.Active = tab
	m.mu.Unlock()
}

// SetFilters replaces the fraud-log filters. The page is kept unless the
// manager was built WithPageReset(true).
func (m *Manager) SetFilters(f Filters) error {
	if err := f.Validate(); err != nil {
		m.fail(err)
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Filters = f
	if m.resetPage {
		m.st.Logs.Page = 1
	}
	return nil
}

// SetPage moves the fraud-log cursor.
func (m *Manager) SetPage(page int) error {
	if page < 1 {
		return fmt.Errorf("page %d out of range", page)
	}
	m.mu.Lock()
	m.st.Logs.Page = page
	m.mu.Unlock()
	return nil
}

// SetBlacklistPage moves the blacklist cursor.
func (m *Manager) SetBlacklistPage(page int) error {
	if page < 1 {
		return fmt.Errorf("page %d out of range", page)
	}
	m.mu.Lock()
	m.st.Blacklist.Page = page
	m.mu.Unlock()
	return nil
}

func (m *Manager) fail(err error) {
	m.logger.Error("fraud action failed", "error", err)
	if m.banner != nil {
		m.banner.Error(api.Message(err))
	}
}

func (m *Manager) succeed(msg string) {
	m.logger.Info(msg)
	if m.banner != nil {
		m.banner.Success(msg)
	}
}

// LoadLogs fetches the current fraud-log page with the current filters.
func (m *Manager) LoadLogs(ctx context.Context) error {
	m.mu.Lock()
	page, filters := m.st.Logs.Page, m.st.Filters
	m.st.Logs.Loading = true
	m.mu.Unlock()

	res, err := m.backend.FraudLogs(ctx, page, m.perPage, filters.query())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Logs.Loading = false
	if err != nil {
		m.fail(err)
		return fmt.Errorf("load fraud logs: %w", err)
	}
	m.st.Logs.Logs = res.FraudLogs
	m.st.Logs.Total = res.Total
	m.st.Logs.Pages = max(res.Pages, 1)
	return nil
}

// LoadStats fetches fraud statistics.
func (m *Manager) LoadStats(ctx context.Context) error {
	stats, err := m.backend.FraudStats(ctx)
	if err != nil {
		m.fail(err)
		return fmt.Errorf("load fraud stats: %w", err)
	}
	m.mu.Lock()
	m.st.Logs.Stats = stats
	m.mu.Unlock()
	return nil
}

// MarkReviewed flags a fraud log as reviewed, optionally with admin notes, and
// reloads the current page.
func (m *Manager) MarkReviewed(ctx context.Context, id int64, notes string) error {
	reviewed := true
	update := model.FraudLogUpdate{ReviewedByAdmin: &reviewed}
	if notes != "" {
		update.AdminNotes = &notes
	}
	if _, err := m.backend.UpdateFraudLog(ctx, id, update); err != nil {
		m.fail(err)
		return fmt.Errorf("mark reviewed %d: %w", id, err)
	}
	if err := m.LoadLogs(ctx); err != nil {
		return err
	}
	m.succeed("Fraud log marked as reviewed")
	return nil
}

// AddToBlacklist creates a blacklist entry and refetches logs and stats so the
// association shows up. Logs on the current page that are already blacklisted
// are refused without a call.
func (m *Manager) AddToBlacklist(ctx context.Context, req model.BlacklistRequest) error {
	if l, ok := m.Snapshot().Log(req.FraudDetectionLogID); ok && l.Blacklisted() {
		err := fmt.Errorf("%w: %d", ErrAlreadyBlacklisted, l.ID)
		m.fail(err)
		return err
	}
	if _, err := m.backend.AddToBlacklist(ctx, req); err != nil {
		m.fail(err)
		return fmt.Errorf("add to blacklist %d: %w", req.FraudDetectionLogID, err)
	}
	// Siblings keep running when one refetch fails so each reports its own error.
	var g errgroup.Group
	g.Go(func() error { return m.LoadLogs(ctx) })
	g.Go(func() error { return m.LoadStats(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	m.succeed("Added to blacklist")
	return nil
}

// LoadBlacklist fetches the current blacklist page.
func (m *Manager) LoadBlacklist(ctx context.Context) error {
	m.mu.Lock()
	page := m.st.Blacklist.Page
	m.st.Blacklist.Loading = true
	m.mu.Unlock()

	res, err := m.backend.Blacklist(ctx, page, m.perPage)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.Blacklist.Loading = false
	if err != nil {
		m.fail(err)
		return fmt.Errorf("load blacklist: %w", err)
	}
	m.st.Blacklist.Entries = res.Items
	m.st.Blacklist.Total = res.Total
	m.st.Blacklist.Pages = max(res.Pages, 1)
	return nil
}

// LoadBlacklistStats fetches blacklist statistics.
func (m *Manager) LoadBlacklistStats(ctx context.Context) error {
	stats, err := m.backend.BlacklistStats(ctx)
	if err != nil {
		m.fail(err)
		return fmt.Errorf("load blacklist stats: %w", err)
	}
	m.mu.Lock()
	m.st.Blacklist.Stats = stats
	m.mu.Unlock()
	return nil
}

// RemoveFromBlacklist deletes the entry for fraudLogID once confirm returns
// true, then refetches the blacklist and the fraud-log data.
func (m *Manager) RemoveFromBlacklist(ctx context.Context, fraudLogID int64, confirm func(fraudLogID int64) bool) error {
	if confirm == nil || !confirm(fraudLogID) {
		return ErrNotConfirmed
	}
	if err := m.backend.RemoveFromBlacklist(ctx, fraudLogID); err != nil {
		m.fail(err)
		return fmt.Errorf("remove from blacklist %d: %w", fraudLogID, err)
	}
	var g errgroup.Group
	g.Go(func() error { return m.LoadBlacklist(ctx) })
	g.Go(func() error { return m.LoadBlacklistStats(ctx) })
	g.Go(func() error { return m.LoadLogs(ctx) })
	g.Go(func() error { return m.LoadStats(ctx) })
	if err := g.Wait(); err != nil {
		return err
	}
	m.succeed("Removed from blacklist")
	return nil
}

// Export streams the server CSV for the current filters into w.
func (m *Manager) Export(ctx context.Context, w io.Writer) (int64, error) {
	filters := m.Snapshot().Filters
	n, err := m.backend.ExportFraudLogs(ctx, filters.query(), w)
	if err != nil {
		m.fail(err)
		return n, fmt.Errorf("export fraud logs: %w", err)
	}
	m.succeed("Fraud logs exported successfully!")
	return n, nil
}
