// Package discovery finds job candidates on the guest listing surface.
//
// Two listers exist: a static one that reads the guest search fragments
// directly, and an interception one that drives a headless browser and
// captures the listing API responses the page triggers. Fallback composes
// them so the browser only spins up when the static pass comes back empty
// on an unblocked run.
package discovery

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/jobs"
)

// Fallback runs a primary lister and promotes to a secondary one when the
// primary yields nothing on an unblocked run. Promotion never happens after
// a partial yield, so candidates are never double-emitted.
type Fallback struct {
	primary   jobs.Lister
	secondary jobs.Lister
	blocked   func() bool
	logger    *zap.Logger
}

// NewFallback composes two listers. blocked reports the run's block state
// (nil means never blocked); secondary may be nil to disable promotion.
func NewFallback(primary, secondary jobs.Lister, blocked func() bool, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		primary:   primary,
		secondary: secondary,
		blocked:   blocked,
		logger:    logger,
	}
}

// Search implements jobs.Lister.
func (f *Fallback) Search(ctx context.Context, q jobs.Query, emit func(jobs.Candidate) bool) error {
	count := 0
	err := f.primary.Search(ctx, q, func(c jobs.Candidate) bool {
		count++
		return emit(c)
	})
	if count > 0 || f.secondary == nil || ctx.Err() != nil {
		return err
	}
	if f.isBlocked() {
		f.logger.Warn("skipping browser fallback on blocked run")
		return err
	}
	if err != nil {
		f.logger.Warn("static discovery failed, promoting to browser", zap.Error(err))
	} else {
		f.logger.Info("static discovery yielded nothing, promoting to browser")
	}
	return f.secondary.Search(ctx, q, emit)
}

func (f *Fallback) isBlocked() bool {
	return f.blocked != nil && f.blocked()
}

// SurfaceHost normalizes a listing base URL to the host token used for
// external-apply checks ("www." stripped, lowercased).
func SurfaceHost(base *url.URL) string {
	if base == nil {
		return ""
	}
	return strings.ToLower(strings.TrimPrefix(base.Hostname(), "www."))
}

// ExternalApply reports whether an apply URL leaves the listing surface.
// Relative URLs and subdomains of the surface host both count as internal.
func ExternalApply(applyURL, surfaceHost string) bool {
	if applyURL == "" || surfaceHost == "" {
		return false
	}
	u, err := url.Parse(applyURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host != surfaceHost && !strings.HasSuffix(host, "."+surfaceHost)
}
