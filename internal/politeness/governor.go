// Package politeness paces outbound requests toward external surfaces.
package politeness

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls request pacing.
type Config struct {
	// MinInterval is the guaranteed minimum spacing between successive
	// Wait completions. Zero disables the gate.
	MinInterval time.Duration
	// Jitter adds up to Jitter*MinInterval of extra delay. It never
	// shortens the interval.
	Jitter float64
	// PerHostRPS/PerHostBurst shape the per-host token buckets used by
	// WaitHost. RPS <= 0 means unlimited.
	PerHostRPS   float64
	PerHostBurst int
}

// Governor enforces the minimum spacing between successive request
// completions, plus per-host token buckets for parallel fetch paths. The
// mutex is held across the sleep so concurrent waiters serialize: every
// completion is measured against the previous completion.
type Governor struct {
	mu       sync.Mutex
	interval time.Duration
	jitter   float64
	last     time.Time

	hostMu   sync.Mutex
	limiters map[string]*rate.Limiter
	hostRate rate.Limit
	burst    int
}

// New builds a Governor.
func New(cfg Config) *Governor {
	interval := cfg.MinInterval
	if interval < 0 {
		interval = 0
	}
	jitter := cfg.Jitter
	if jitter < 0 {
		jitter = 0
	}
	hostRate := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		hostRate = rate.Inf
	}
	burst := cfg.PerHostBurst
	if burst <= 0 {
		burst = 1
	}
	return &Governor{
		interval: interval,
		jitter:   jitter,
		limiters: make(map[string]*rate.Limiter),
		hostRate: hostRate,
		burst:    burst,
	}
}

// Wait blocks until at least MinInterval has elapsed since the previous
// completion, then stamps the new completion time. The first call never
// sleeps.
func (g *Governor) Wait(ctx context.Context) error {
	if g.interval <= 0 {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.last.IsZero() {
		delay := g.interval + g.jitterDelay() - time.Since(g.last)
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return fmt.Errorf("governor wait canceled: %w", ctx.Err())
			case <-timer.C:
			}
		}
	}
	g.last = time.Now()
	return nil
}

// WaitHost blocks on the token bucket for the URL's host. Buckets are
// created lazily per host.
func (g *Governor) WaitHost(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	g.hostMu.Lock()
	limiter, ok := g.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(g.hostRate, g.burst)
		g.limiters[host] = limiter
	}
	g.hostMu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("host rate wait: %w", err)
	}
	return nil
}

func (g *Governor) jitterDelay() time.Duration {
	if g.jitter <= 0 {
		return 0
	}
	bound := time.Duration(g.jitter * float64(g.interval))
	if bound <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(bound)))
	if err != nil {
		return bound / 2
	}
	return time.Duration(n.Int64())
}
