// Package lever fetches postings from the Lever postings API.
package lever

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/jobs"
)

const defaultBaseURL = "https://api.lever.co"

// Config wires the client.
type Config struct {
	API     *ats.API
	BaseURL string
	Clock   jobs.Clock
	Logger  *zap.Logger
}

// Client implements jobs.FetchClient against the v0 postings API.
type Client struct {
	api     *ats.API
	baseURL string
	clock   jobs.Clock
	logger  *zap.Logger
}

// New builds a Client with defaults applied.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:     cfg.API,
		baseURL: baseURL,
		clock:   cfg.Clock,
		logger:  logger,
	}
}

// Provider reports the ATS this client serves.
func (c *Client) Provider() jobs.Provider {
	return jobs.ProviderLever
}

type leverPosting struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	HostedURL  string `json:"hostedUrl"`
	ApplyURL   string `json:"applyUrl"`
	CreatedAt  int64  `json:"createdAt"`
	Categories struct {
		Location string `json:"location"`
	} `json:"categories"`
}

// Fetch streams the site's open postings. The endpoint returns a bare array;
// createdAt is epoch milliseconds.
func (c *Client) Fetch(ctx context.Context, req jobs.FetchRequest, emit func(jobs.Posting) bool) error {
	if req.Slug == "" {
		return fmt.Errorf("lever: slug required")
	}
	endpoint := fmt.Sprintf("%s/v0/postings/%s?mode=json", c.baseURL, url.PathEscape(req.Slug))
	var payload []leverPosting
	if err := c.api.GetJSON(ctx, endpoint, &payload); err != nil {
		return fmt.Errorf("lever site %s: %w", req.Slug, err)
	}

	now := c.clock.Now()
	emitted := 0
	for _, item := range payload {
		if item.ID == "" || item.Text == "" {
			c.logger.Debug("skipping malformed lever posting",
				zap.String("slug", req.Slug),
				zap.String("id", item.ID),
			)
			continue
		}
		applyURL := item.HostedURL
		if applyURL == "" {
			applyURL = item.ApplyURL
		}
		posting := jobs.Posting{
			ID:               item.ID,
			Title:            item.Text,
			Company:          req.Company,
			Location:         item.Categories.Location,
			ApplyURL:         applyURL,
			Provider:         jobs.ProviderLever,
			Origin:           jobs.OriginATS,
			Source:           jobs.SourceATSAPI,
			SourceURL:        applyURL,
			ExtractedAt:      now,
			ExtractionMethod: "ats_api",
		}
		if item.CreatedAt > 0 {
			ts := time.UnixMilli(item.CreatedAt).UTC()
			posting.PostedAt = &ts
		}
		if !emit(posting) {
			return nil
		}
		emitted++
		if req.Limit > 0 && emitted >= req.Limit {
			return nil
		}
	}
	return nil
}
