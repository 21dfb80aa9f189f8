package ats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/jobs"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
)

// APIConfig controls the shared JSON transport used by provider clients.
type APIConfig struct {
	Timeout   time.Duration
	UserAgent string
	Observer  jobs.BlockObserver
	Retry     jobs.RetryPolicy
	Logger    *zap.Logger
}

// API is the JSON-over-HTTP helper shared by provider clients. Every
// response is reported to the block observer before it is interpreted;
// transport failures surface as jobs.NetworkError so the retry policy can
// tell them apart from HTTP-level failures.
type API struct {
	http      *http.Client
	userAgent string
	observer  jobs.BlockObserver
	retry     jobs.RetryPolicy
	logger    *zap.Logger
}

// NewAPI builds the helper with pooled transport and defaults applied.
func NewAPI(cfg APIConfig) *API {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	retry := cfg.Retry
	if retry.MaxAttempts <= 0 {
		retry = jobs.DefaultRetryPolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout:   15 * time.Second,
				ExpectContinueTimeout: 1 * time.Second,
				MaxIdleConns:          100,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		userAgent: userAgent,
		observer:  cfg.Observer,
		retry:     retry,
		logger:    logger,
	}
}

// GetJSON fetches rawURL and decodes the response into out.
func (a *API) GetJSON(ctx context.Context, rawURL string, out any) error {
	return a.do(ctx, http.MethodGet, rawURL, nil, out)
}

// PostJSON sends body as JSON and decodes the response into out.
func (a *API) PostJSON(ctx context.Context, rawURL string, body any, out any) error {
	return a.do(ctx, http.MethodPost, rawURL, body, out)
}

func (a *API) do(ctx context.Context, method, rawURL string, body any, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	}
	return a.retry.Do(ctx, func() error {
		return a.once(ctx, method, rawURL, payload, out)
	})
}

func (a *API) once(ctx context.Context, method, rawURL string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return &jobs.NetworkError{URL: rawURL, Err: err}
	}
	defer func() {
		// Drain so the pooled connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))
		_ = resp.Body.Close()
	}()

	if a.observer != nil {
		a.observer.Observe(rawURL, resp.StatusCode, resp.Header)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s %s: unexpected status %d", method, rawURL, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", rawURL, err)
	}
	return nil
}
