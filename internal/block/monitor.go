// Package block detects bot walls across every network exchange.
package block

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/jobs"
)

// urlReasons maps URL fragments to block reasons. Order matters: the first
// matching group wins, and status-code classification runs before any of it.
var urlReasons = []struct {
	reason  jobs.BlockReason
	needles []string
}{
	{jobs.BlockLoginRequired, []string{"/login", "/signin", "/sign-in", "/uas/login"}},
	{jobs.BlockAuthwall, []string{"/authwall", "/auth-wall"}},
	{jobs.BlockCheckpoint, []string{"/checkpoint", "/security-check"}},
	{jobs.BlockCaptcha, []string{"/captcha", "/challenge", "/security-verification"}},
}

// Monitor watches network exchanges and latches the first block signal.
// The first detection wins: later observations never reclassify the reason,
// and the registered callback fires exactly once per run. Safe for
// concurrent observers (browser event listeners report from their own
// goroutine).
type Monitor struct {
	mu       sync.Mutex
	onBlock  func(jobs.BlockReason)
	blocked  bool
	reason   jobs.BlockReason
	notified bool
	requests int64
	logger   *zap.Logger
}

// NewMonitor builds a monitor. The logger may be nil.
func NewMonitor(logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{logger: logger}
}

// OnBlock registers the single callback invoked when the run first blocks.
// Registering replaces any previous callback; call it before the run starts.
func (m *Monitor) OnBlock(cb func(jobs.BlockReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBlock = cb
}

// Observe inspects one completed exchange. Every call counts toward the
// run's request total regardless of outcome.
func (m *Monitor) Observe(rawURL string, status int, header http.Header) {
	m.mu.Lock()
	m.requests++
	if m.blocked {
		m.mu.Unlock()
		return
	}
	reason, hit := ClassifyResponse(rawURL, status)
	if !hit {
		m.mu.Unlock()
		return
	}
	cb := m.trip(reason)
	m.mu.Unlock()

	fields := []zap.Field{
		zap.String("reason", string(reason)),
		zap.String("url", rawURL),
		zap.Int("status", status),
	}
	if reason == jobs.BlockRateLimited {
		if retryAfter := header.Get("Retry-After"); retryAfter != "" {
			fields = append(fields, zap.String("retry_after", retryAfter))
		}
	}
	m.logger.Warn("block detected", fields...)
	if cb != nil {
		cb(reason)
	}
}

// ObserveError records a surface navigation failure after retries were
// exhausted. Listers call this for the listing surface only; ATS fetch
// failures are per-company fallbacks, not blocks.
func (m *Monitor) ObserveError(rawURL string, err error) {
	m.mu.Lock()
	if m.blocked {
		m.mu.Unlock()
		return
	}
	cb := m.trip(jobs.BlockNetworkError)
	m.mu.Unlock()

	m.logger.Warn("surface unreachable, treating as blocked",
		zap.String("url", rawURL),
		zap.Error(err),
	)
	if cb != nil {
		cb(jobs.BlockNetworkError)
	}
}

// trip latches the block state and returns the callback to invoke, or nil
// if it already fired. Callers must hold m.mu.
func (m *Monitor) trip(reason jobs.BlockReason) func(jobs.BlockReason) {
	m.blocked = true
	m.reason = reason
	if m.notified || m.onBlock == nil {
		return nil
	}
	m.notified = true
	return m.onBlock
}

// Blocked reports whether a block has been latched.
func (m *Monitor) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}

// Reason returns the latched reason, if any.
func (m *Monitor) Reason() (jobs.BlockReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason, m.blocked
}

// Requests returns the number of exchanges observed so far.
func (m *Monitor) Requests() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// Reset clears all state for the next run. Workers execute runs serially,
// so resetting between runs is race-free.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = false
	m.reason = ""
	m.notified = false
	m.requests = 0
	m.onBlock = nil
}

// ClassifyResponse classifies one exchange. Status codes outrank URL
// patterns: 429 is always rate_limited, 401/403 always login_required.
func ClassifyResponse(rawURL string, status int) (jobs.BlockReason, bool) {
	switch status {
	case http.StatusTooManyRequests:
		return jobs.BlockRateLimited, true
	case http.StatusUnauthorized, http.StatusForbidden:
		return jobs.BlockLoginRequired, true
	}
	return ClassifyURL(rawURL)
}

// ClassifyURL matches the URL against the block pattern table. A
// "challenge." host prefix classifies as captcha even without a path hit.
func ClassifyURL(rawURL string) (jobs.BlockReason, bool) {
	lowered := strings.ToLower(rawURL)
	for _, group := range urlReasons {
		for _, needle := range group.needles {
			if strings.Contains(lowered, needle) {
				return group.reason, true
			}
		}
	}
	if parsed, err := url.Parse(lowered); err == nil {
		if strings.HasPrefix(parsed.Hostname(), "challenge.") {
			return jobs.BlockCaptcha, true
		}
	}
	return "", false
}
