// Package smartrecruiters fetches postings from the SmartRecruiters posting API.
package smartrecruiters

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/jobs"
)

const defaultBaseURL = "https://api.smartrecruiters.com"

// Config wires the client.
type Config struct {
	API     *ats.API
	BaseURL string
	Clock   jobs.Clock
	Logger  *zap.Logger
}

// Client implements jobs.FetchClient against the v1 postings API.
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
	return jobs.ProviderSmartRecruiters
}

type postingsResponse struct {
	Content []postingItem `json:"content"`
}

type postingItem struct {
	ID           string `json:"id"`
	UUID         string `json:"uuid"`
	Name         string `json:"name"`
	ReleasedDate string `json:"releasedDate"`
	Location     struct {
		City   string `json:"city"`
		Region string `json:"region"`
	} `json:"location"`
}

func (p postingItem) location() string {
	switch {
	case p.Location.City != "" && p.Location.Region != "":
		return p.Location.City + ", " + p.Location.Region
	case p.Location.City != "":
		return p.Location.City
	default:
		return p.Location.Region
	}
}

// Fetch streams the company's published postings. The API has no public apply
// URL field, so the canonical jobs.smartrecruiters.com posting page stands in.
func (c *Client) Fetch(ctx context.Context, req jobs.FetchRequest, emit func(jobs.Posting) bool) error {
	if req.Slug == "" {
		return fmt.Errorf("smartrecruiters: slug required")
	}
	endpoint := fmt.Sprintf("%s/v1/companies/%s/postings", c.baseURL, url.PathEscape(req.Slug))
	var payload postingsResponse
	if err := c.api.GetJSON(ctx, endpoint, &payload); err != nil {
		return fmt.Errorf("smartrecruiters company %s: %w", req.Slug, err)
	}

	now := c.clock.Now()
	emitted := 0
	for _, item := range payload.Content {
		id := item.ID
		if id == "" {
			id = item.UUID
		}
		if id == "" || item.Name == "" {
			c.logger.Debug("skipping malformed smartrecruiters posting",
				zap.String("slug", req.Slug),
				zap.String("id", id),
			)
			continue
		}
		postingURL := fmt.Sprintf("https://jobs.smartrecruiters.com/%s/%s", req.Slug, id)
		posting := jobs.Posting{
			ID:               id,
			Title:            item.Name,
			Company:          req.Company,
			Location:         item.location(),
			ApplyURL:         postingURL,
			Provider:         jobs.ProviderSmartRecruiters,
			Origin:           jobs.OriginATS,
			Source:           jobs.SourceATSAPI,
			SourceURL:        postingURL,
			ExtractedAt:      now,
			ExtractionMethod: "ats_api",
		}
		if ts, err := time.Parse(time.RFC3339, item.ReleasedDate); err == nil {
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
