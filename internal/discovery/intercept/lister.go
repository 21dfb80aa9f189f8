// Package intercept discovers job candidates by driving a headless browser
// and capturing the listing API responses the page triggers. The browser
// exists only to make the page fire its API calls; the intercepted JSON is
// the source of truth.
package intercept

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/discovery"
	"github.com/hireworks/jobsift/internal/jobs"
)

const (
	defaultBaseURL           = "https://www.linkedin.com"
	defaultUserAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultNavigationTimeout = 45 * time.Second
	defaultScrollRounds      = 3

	// settleDelay gives the page time to fire its listing API calls after
	// navigation and after each scroll.
	settleDelay = 1500 * time.Millisecond
)

// Config controls the lister.
type Config struct {
	BaseURL           string
	UserAgent         string
	MaxParallel       int
	NavigationTimeout time.Duration
	ScrollRounds      int
	Observer          jobs.SurfaceObserver
	Logger            *zap.Logger
}

// Lister implements jobs.Lister with chromedp network interception.
type Lister struct {
	cfg         Config
	baseURL     *url.URL
	surfaceHost string
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// New creates the lister and its shared browser allocator. The browser
// itself launches lazily on the first search.
func New(cfg Config) (*Lister, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("intercept discovery: invalid base url %q", cfg.BaseURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.ScrollRounds <= 0 {
		cfg.ScrollRounds = defaultScrollRounds
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 720),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Lister{
		cfg:         cfg,
		baseURL:     base,
		surfaceHost: discovery.SurfaceHost(base),
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger,
	}, nil
}

// Close cancels the allocator context and with it any running browser.
func (l *Lister) Close() {
	l.allocCancel()
}

// Search navigates the jobs search page, captures the listing API responses
// it triggers across scroll rounds, and emits parsed candidates. Every
// response from the tab goes through the block observer; a tripped monitor
// ends the search with whatever was already emitted.
func (l *Lister) Search(ctx context.Context, q jobs.Query, emit func(jobs.Candidate) bool) error {
	if err := l.acquire(ctx); err != nil {
		return err
	}
	defer l.release()

	taskCtx, taskCancel := chromedp.NewContext(l.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, l.cfg.NavigationTimeout)
	defer cancel()

	capture := newAPICapture(l.cfg.Observer)
	chromedp.ListenTarget(taskCtx, capture.handleEvent)

	searchURL := l.searchURL(q)
	if err := chromedp.Run(taskCtx,
		l.networkSetupAction(),
		chromedp.Navigate(searchURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
	); err != nil {
		if ctx.Err() == nil && !l.blocked() {
			l.observeError(searchURL, err)
		}
		return fmt.Errorf("listing navigation: %w", err)
	}

	seen := make(map[string]struct{})
	yielded := 0
	for round := 0; round < l.cfg.ScrollRounds; round++ {
		if l.blocked() || (q.Limit > 0 && yielded >= q.Limit) {
			return nil
		}
		if round > 0 {
			if err := chromedp.Run(taskCtx,
				chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
				chromedp.Sleep(settleDelay),
			); err != nil {
				l.logger.Debug("scroll round failed", zap.Int("round", round), zap.Error(err))
				return nil
			}
			if capture.pendingCount() == 0 {
				// Scrolling triggered nothing new; the feed is exhausted.
				return nil
			}
		}
		done, err := l.drainBatches(taskCtx, capture, seen, q, emit, &yielded)
		if done || err != nil {
			return err
		}
	}
	return nil
}

// drainBatches pulls the queued response bodies out of the browser and emits
// the candidates they contain. Unavailable bodies are skipped.
func (l *Lister) drainBatches(
	taskCtx context.Context,
	capture *apiCapture,
	seen map[string]struct{},
	q jobs.Query,
	emit func(jobs.Candidate) bool,
	yielded *int,
) (bool, error) {
	for _, p := range capture.takePending() {
		if l.blocked() {
			return true, nil
		}
		var body []byte
		err := chromedp.Run(taskCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			b, err := network.GetResponseBody(p.requestID).Do(ctx)
			if err != nil {
				return err
			}
			body = b
			return nil
		}))
		if err != nil {
			l.logger.Debug("listing response body unavailable",
				zap.String("url", p.url),
				zap.Error(err),
			)
			continue
		}
		for _, item := range ExtractItems(body) {
			candidate, ok := l.parseCandidate(item)
			if !ok {
				continue
			}
			if _, dup := seen[candidate.ID]; dup {
				continue
			}
			seen[candidate.ID] = struct{}{}
			if !emit(candidate) {
				return true, nil
			}
			*yielded++
			if q.Limit > 0 && *yielded >= q.Limit {
				return true, nil
			}
			if l.blocked() {
				return true, nil
			}
		}
	}
	return false, nil
}

func (l *Lister) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(l.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (l *Lister) searchURL(q jobs.Query) string {
	u := l.baseURL.JoinPath("jobs", "search")
	params := url.Values{}
	if q.Keywords != "" {
		params.Set("keywords", q.Keywords)
	}
	if q.Location != "" {
		params.Set("location", q.Location)
	}
	params.Set("position", "1")
	params.Set("pageNum", "0")
	u.RawQuery = params.Encode()
	return u.String()
}

func (l *Lister) acquire(ctx context.Context) error {
	if l.limiter == nil {
		return nil
	}
	select {
	case l.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (l *Lister) release() {
	if l.limiter == nil {
		return
	}
	select {
	case <-l.limiter:
	default:
	}
}

func (l *Lister) blocked() bool {
	return l.cfg.Observer != nil && l.cfg.Observer.Blocked()
}

func (l *Lister) observeError(target string, err error) {
	if l.cfg.Observer != nil {
		l.cfg.Observer.ObserveError(target, err)
	}
}

type pendingResponse struct {
	requestID network.RequestID
	url       string
}

// apiCapture watches every network response from the tab: all of them feed
// the block observer, listing API hits are queued for body retrieval. The
// mutex matters because events arrive on the browser's event goroutine.
type apiCapture struct {
	mu       sync.Mutex
	observer jobs.SurfaceObserver
	pending  []pendingResponse
}

func newAPICapture(observer jobs.SurfaceObserver) *apiCapture {
	return &apiCapture{observer: observer}
}

func (c *apiCapture) handleEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Response == nil {
		return
	}
	if c.observer != nil {
		c.observer.Observe(resp.Response.URL, int(resp.Response.Status), toHTTPHeaders(resp.Response.Headers))
	}
	if int(resp.Response.Status) != http.StatusOK || !MatchesListingAPI(resp.Response.URL) {
		return
	}
	c.mu.Lock()
	c.pending = append(c.pending, pendingResponse{requestID: resp.RequestID, url: resp.Response.URL})
	c.mu.Unlock()
}

func (c *apiCapture) takePending() []pendingResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

func (c *apiCapture) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func toHTTPHeaders(h network.Headers) http.Header {
	headers := http.Header{}
	for key, value := range h {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []string:
			for _, entry := range v {
				headers.Add(key, entry)
			}
		case []interface{}:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	return headers
}
