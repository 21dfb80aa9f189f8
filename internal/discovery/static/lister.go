// Package static discovers job candidates by reading the guest search
// fragments over plain HTTP, no browser involved.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/discovery"
	"github.com/hireworks/jobsift/internal/jobs"
)

const (
	defaultBaseURL  = "https://www.linkedin.com"
	defaultTimeout  = 15 * time.Second
	defaultMaxPages = 3

	// defaultPageSize matches the guest search endpoint's fragment size.
	defaultPageSize = 25
)

// Config controls the lister.
type Config struct {
	BaseURL       string
	UserAgent     string
	Timeout       time.Duration
	MaxPages      int
	PageSize      int
	RespectRobots bool
	Governor      jobs.Governor
	Observer      jobs.SurfaceObserver
	Retry         jobs.RetryPolicy
	Logger        *zap.Logger
}

// Lister implements jobs.Lister over the guest search fragments. Every list
// page and detail fragment it fetches is reported to the block observer; a
// tripped monitor stops pagination and detail fetching immediately.
type Lister struct {
	cfg           Config
	baseURL       *url.URL
	surfaceHost   string
	baseCollector *colly.Collector
	transport     http.RoundTripper
	retry         jobs.RetryPolicy
	logger        *zap.Logger
}

// New builds a Lister.
func New(cfg Config) (*Lister, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("static discovery: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = jobs.DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// Retries and pagination revisit URLs, so the collector must not
	// remember them.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Lister{
		cfg:           cfg,
		baseURL:       base,
		surfaceHost:   discovery.SurfaceHost(base),
		baseCollector: c,
		transport:     transport,
		retry:         retry,
		logger:        logger,
	}, nil
}

// Search pages through the guest search fragments, resolves each card's
// apply URL from its detail fragment, and emits candidates until the query
// limit, the page budget, or a block stops it.
func (l *Lister) Search(ctx context.Context, q jobs.Query, emit func(jobs.Candidate) bool) error {
	seen := make(map[string]struct{})
	yielded := 0
	for page := 0; page < l.cfg.MaxPages; page++ {
		if l.blocked() {
			return nil
		}
		pageURL := l.searchURL(q, page*l.cfg.PageSize)
		body, err := l.fetchPage(ctx, pageURL)
		if err != nil {
			// Block walls and dead networks are run state, not search
			// errors; anything else bubbles up.
			if l.blocked() {
				l.logger.Warn("guest search stopped by block wall", zap.String("url", pageURL))
				return nil
			}
			if jobs.IsNetworkError(err) && ctx.Err() == nil {
				l.observeError(pageURL, err)
				l.logger.Warn("guest surface unreachable", zap.String("url", pageURL), zap.Error(err))
				return nil
			}
			l.logger.Warn("guest search page failed", zap.String("url", pageURL), zap.Error(err))
			return err
		}
		if l.blocked() {
			return nil
		}

		cards := parseCards(body, l.baseURL)
		if len(cards) == 0 {
			if discovery.ScriptRendered(body) {
				l.logger.Info("guest search page appears script-rendered",
					zap.String("url", pageURL),
					zap.Int("page", page),
				)
			}
			return nil
		}
		l.logger.Debug("guest search page parsed",
			zap.Int("page", page),
			zap.Int("cards", len(cards)),
		)

		for _, card := range cards {
			if l.blocked() {
				return nil
			}
			if _, dup := seen[card.ID]; dup {
				continue
			}
			seen[card.ID] = struct{}{}
			if !emit(l.resolveCandidate(ctx, card)) {
				return nil
			}
			yielded++
			if q.Limit > 0 && yielded >= q.Limit {
				return nil
			}
		}
	}
	return nil
}

// resolveCandidate fills in the apply URL from the card's detail fragment.
// Detail failures degrade to a candidate without one rather than aborting
// the search.
func (l *Lister) resolveCandidate(ctx context.Context, card jobCard) jobs.Candidate {
	candidate := jobs.Candidate{
		ID:               card.ID,
		Title:            card.Title,
		Company:          card.Company,
		Location:         card.Location,
		SourceURL:        card.SourceURL,
		ExtractionMethod: "api",
	}
	if l.blocked() {
		return candidate
	}
	detailURL := l.baseURL.JoinPath("jobs-guest", "jobs", "api", "jobPosting", card.ID).String()
	body, err := l.fetchPage(ctx, detailURL)
	if err != nil {
		l.logger.Debug("detail fragment failed",
			zap.String("job_id", card.ID),
			zap.Error(err),
		)
		return candidate
	}
	candidate.ApplyURL = parseApplyURL(body)
	candidate.ExternalApply = discovery.ExternalApply(candidate.ApplyURL, l.surfaceHost)
	return candidate
}

// fetchPage rate-limits, fetches with retries, and reports every exchange to
// the observer. Transport failures come back as jobs.NetworkError; HTTP-level
// failures do not retry.
func (l *Lister) fetchPage(ctx context.Context, pageURL string) ([]byte, error) {
	if l.cfg.Governor != nil {
		if err := l.cfg.Governor.Wait(ctx); err != nil {
			return nil, err
		}
	}
	var body []byte
	err := l.retry.Do(ctx, func() error {
		res, err := l.fetch(ctx, pageURL)
		if res.status > 0 {
			l.observe(res.targetOr(pageURL), res.status, res.headers)
		}
		switch {
		case err != nil && res.status > 0:
			return fmt.Errorf("guest fetch %s: unexpected status %d", pageURL, res.status)
		case err != nil:
			return &jobs.NetworkError{URL: pageURL, Err: err}
		}
		body = res.body
		return nil
	})
	return body, err
}

type fetchResult struct {
	target  string
	status  int
	headers http.Header
	body    []byte
}

// targetOr prefers the post-redirect URL so authwall bounces classify on the
// URL they landed on.
func (r fetchResult) targetOr(fallback string) string {
	if r.target != "" {
		return r.target
	}
	return fallback
}

func (l *Lister) fetch(ctx context.Context, rawURL string) (fetchResult, error) {
	var (
		result   fetchResult
		fetchErr error
	)
	collector := l.baseCollector.Clone()
	if l.cfg.UserAgent != "" {
		collector.UserAgent = l.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !l.cfg.RespectRobots
	collector.SetRequestTimeout(l.cfg.Timeout)
	collector.WithTransport(l.transport)

	collector.OnResponse(func(r *colly.Response) {
		result = fetchResult{
			target:  r.Request.URL.String(),
			status:  r.StatusCode,
			headers: r.Headers.Clone(),
			body:    append([]byte(nil), r.Body...),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r == nil || r.StatusCode == 0 {
			return
		}
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		target := ""
		if r.Request != nil && r.Request.URL != nil {
			target = r.Request.URL.String()
		}
		result = fetchResult{
			target:  target,
			status:  r.StatusCode,
			headers: headers,
			body:    append([]byte(nil), r.Body...),
		}
	})

	done := make(chan error, 1)
	go func() { done <- collector.Visit(rawURL) }()

	select {
	case <-ctx.Done():
		return result, fmt.Errorf("guest fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return result, err
		}
		if fetchErr != nil {
			return result, fetchErr
		}
		return result, nil
	}
}

func (l *Lister) searchURL(q jobs.Query, start int) string {
	u := l.baseURL.JoinPath("jobs-guest", "jobs", "api", "seeMoreJobPostings", "search")
	params := url.Values{}
	if q.Keywords != "" {
		params.Set("keywords", q.Keywords)
	}
	if q.Location != "" {
		params.Set("location", q.Location)
	}
	params.Set("start", strconv.Itoa(start))
	u.RawQuery = params.Encode()
	return u.String()
}

func (l *Lister) blocked() bool {
	return l.cfg.Observer != nil && l.cfg.Observer.Blocked()
}

func (l *Lister) observe(target string, status int, headers http.Header) {
	if l.cfg.Observer != nil {
		l.cfg.Observer.Observe(target, status, headers)
	}
}

func (l *Lister) observeError(target string, err error) {
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveError(target, err)
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
