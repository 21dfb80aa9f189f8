// Package greenhouse fetches postings from the public Greenhouse board API.
package greenhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/jobs"
)

const defaultBaseURL = "https://boards-api.greenhouse.io"

// Config wires the client.
type Config struct {
	API     *ats.API
	BaseURL string
	Clock   jobs.Clock
	Logger  *zap.Logger
}

// Client implements jobs.FetchClient against the boards API.
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
	return jobs.ProviderGreenhouse
}

type boardResponse struct {
	Jobs []boardJob `json:"jobs"`
}

type boardJob struct {
	ID          json.Number `json:"id"`
	Title       string      `json:"title"`
	AbsoluteURL string      `json:"absolute_url"`
	UpdatedAt   string      `json:"updated_at"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
}

// Fetch streams the board's open postings. Items missing an id or title are
// skipped; they never abort the stream.
func (c *Client) Fetch(ctx context.Context, req jobs.FetchRequest, emit func(jobs.Posting) bool) error {
	if req.Slug == "" {
		return fmt.Errorf("greenhouse: slug required")
	}
	endpoint := fmt.Sprintf("%s/v1/boards/%s/jobs", c.baseURL, url.PathEscape(req.Slug))
	var payload boardResponse
	if err := c.api.GetJSON(ctx, endpoint, &payload); err != nil {
		return fmt.Errorf("greenhouse board %s: %w", req.Slug, err)
	}

	now := c.clock.Now()
	emitted := 0
	for _, item := range payload.Jobs {
		id := item.ID.String()
		if id == "" || item.Title == "" {
			c.logger.Debug("skipping malformed greenhouse posting",
				zap.String("slug", req.Slug),
				zap.String("id", id),
			)
			continue
		}
		posting := jobs.Posting{
			ID:               id,
			Title:            item.Title,
			Company:          req.Company,
			Location:         item.Location.Name,
			ApplyURL:         item.AbsoluteURL,
			Provider:         jobs.ProviderGreenhouse,
			Origin:           jobs.OriginATS,
			Source:           jobs.SourceATSAPI,
			SourceURL:        item.AbsoluteURL,
			ExtractedAt:      now,
			ExtractionMethod: "ats_api",
		}
		if ts, err := time.Parse(time.RFC3339, item.UpdatedAt); err == nil {
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
