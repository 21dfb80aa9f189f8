// Package ashby fetches postings from the Ashby job board API.
package ashby

import (
	"context"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/jobs"
)

const defaultBaseURL = "https://api.ashbyhq.com"

// Config wires the client.
type Config struct {
	API     *ats.API
	BaseURL string
	Clock   jobs.Clock
	Logger  *zap.Logger
}

// Client implements jobs.FetchClient against the posting API.
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
	return jobs.ProviderAshby
}

type boardResponse struct {
	Jobs []boardJob `json:"jobs"`
}

type boardJob struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Location string `json:"location"`
	JobURL   string `json:"jobUrl"`
}

// Fetch streams the board's open postings. Ashby exposes no posted-at date on
// this surface, so PostedAt stays unset.
func (c *Client) Fetch(ctx context.Context, req jobs.FetchRequest, emit func(jobs.Posting) bool) error {
	if req.Slug == "" {
		return fmt.Errorf("ashby: slug required")
	}
	endpoint := fmt.Sprintf("%s/posting-api/job-board/%s", c.baseURL, url.PathEscape(req.Slug))
	var payload boardResponse
	if err := c.api.GetJSON(ctx, endpoint, &payload); err != nil {
		return fmt.Errorf("ashby board %s: %w", req.Slug, err)
	}

	now := c.clock.Now()
	emitted := 0
	for _, item := range payload.Jobs {
		if item.ID == "" || item.Title == "" {
			c.logger.Debug("skipping malformed ashby posting",
				zap.String("slug", req.Slug),
				zap.String("id", item.ID),
			)
			continue
		}
		posting := jobs.Posting{
			ID:               item.ID,
			Title:            item.Title,
			Company:          req.Company,
			Location:         item.Location,
			ApplyURL:         item.JobURL,
			Provider:         jobs.ProviderAshby,
			Origin:           jobs.OriginATS,
			Source:           jobs.SourceATSAPI,
			SourceURL:        item.JobURL,
			ExtractedAt:      now,
			ExtractionMethod: "ats_api",
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
