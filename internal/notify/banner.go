// Package notify holds the single user-visible alert. A new alert replaces the
// previous one and each alert disappears once its TTL has passed.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dharsanguruparan/certdesk/internal/config"
)

// Level classifies an alert.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Alert is one banner message.
type Alert struct {
	Level     Level
	Message   string
	ShownAt   time.Time
	ExpiresAt time.Time
}

// Banner keeps at most one visible alert.
type Banner struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	sink    func(Alert)
	current *Alert
}

// Option customizes a Banner.
type Option func(*Banner)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Banner) { b.now = now }
}

// WithLogger sets the logger alerts are mirrored to.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Banner) { b.logger = logger }
}

// WithSink registers a callback invoked for every shown alert.
func WithSink(fn func(Alert)) Option {
	return func(b *Banner) { b.sink = fn }
}

// NewBanner builds a Banner whose alerts live for ttl, clamped to 5-8s.
func NewBanner(ttl time.Duration, opts ...Option) *Banner {
	b := &Banner{
		ttl:    config.ClampAlertTTL(ttl),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TTL is the effective alert lifetime.
func (b *Banner) TTL() time.Duration {
	return b.ttl
}

// Show replaces the current alert.
func (b *Banner) Show(level Level, message string) Alert {
	now := b.now()
	a := Alert{Level: level, Message: message, ShownAt: now, ExpiresAt: now.Add(b.ttl)}
	b.mu.Lock()
	b.current = &a
	sink := b.sink
	b.mu.Unlock()

	if level == LevelError {
		b.logger.Warn("alert", "message", message)
	} else {
		b.logger.Debug("alert", "level", level, "message", message)
	}
	if sink != nil {
		sink(a)
	}
	return a
}

// Error shows an error alert.
func (b *Banner) Error(message string) Alert { return b.Show(LevelError, message) }

// Success shows a success alert.
func (b *Banner) Success(message string) Alert { return b.Show(LevelSuccess, message) }

// Current returns the visible alert, if any. Expired alerts are dropped.
func (b *Banner) Current() (Alert, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.current == nil {
		return Alert{}, false
	}
	if !b.now().Before(b.current.ExpiresAt) {
		b.current = nil
		return Alert{}, false
	}
	return *b.current, true
}

// Dismiss clears the current alert.
func (b *Banner) Dismiss() {
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()
}
