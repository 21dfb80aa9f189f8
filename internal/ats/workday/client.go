// Package workday fetches postings from Workday CXS career sites.
//
// Workday has no shared public host: every tenant serves its own API under
// {tenant-host}/wday/cxs/{tenant}/{site}/jobs, so the endpoint is derived from
// the career site URL that classification discovered.
package workday

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/jobs"
)

const defaultPageSize = 20

// Config wires the client.
type Config struct {
	API    *ats.API
	Clock  jobs.Clock
	Hasher jobs.Hasher
	Logger *zap.Logger

	// PageSize bounds each CXS request. Zero means the service default.
	PageSize int
}

// Client implements jobs.FetchClient against the CXS jobs endpoint.
type Client struct {
	api      *ats.API
	clock    jobs.Clock
	hasher   jobs.Hasher
	logger   *zap.Logger
	pageSize int
}

// New builds a Client with defaults applied.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	return &Client{
		api:      cfg.API,
		clock:    cfg.Clock,
		hasher:   cfg.Hasher,
		logger:   logger,
		pageSize: pageSize,
	}
}

// Provider reports the ATS this client serves.
func (c *Client) Provider() jobs.Provider {
	return jobs.ProviderWorkday
}

var (
	sitePathPattern = regexp.MustCompile(`/d/([^/?#]+)`)
	siteHostPattern = regexp.MustCompile(`myworkdayjobs\.com/([^/?#]+)`)
)

// apiEndpoint derives the CXS jobs endpoint from a career site URL such as
// https://acme.wd5.myworkdayjobs.com/en-US/d/External or
// https://acme.wd1.myworkdayjobs.com/careers.
func apiEndpoint(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("workday: invalid career site url %q", baseURL)
	}
	tenant, _, _ := strings.Cut(u.Hostname(), ".")
	site := ""
	if m := sitePathPattern.FindStringSubmatch(u.Path); len(m) > 1 {
		site = m[1]
	}
	if site == "" {
		if m := siteHostPattern.FindStringSubmatch(strings.ToLower(baseURL)); len(m) > 1 {
			site = m[1]
		}
	}
	if tenant == "" || site == "" {
		return "", fmt.Errorf("workday: cannot derive tenant site from %q", baseURL)
	}
	return fmt.Sprintf("%s://%s/wday/cxs/%s/%s/jobs", u.Scheme, u.Host, tenant, site), nil
}

type cxsResponse struct {
	Total       int          `json:"total"`
	JobPostings []cxsPosting `json:"jobPostings"`
}

type cxsPosting struct {
	Title         string   `json:"title"`
	ExternalPath  string   `json:"externalPath"`
	LocationsText string   `json:"locationsText"`
	PostedOn      string   `json:"postedOn"`
	BulletFields  []string `json:"bulletFields"`
}

// Fetch pages through the tenant's CXS feed until the reported total is
// exhausted or the request limit is hit. Postings without a requisition id in
// bulletFields get a content hash of title and company instead.
func (c *Client) Fetch(ctx context.Context, req jobs.FetchRequest, emit func(jobs.Posting) bool) error {
	if req.BaseURL == "" {
		return fmt.Errorf("workday: career site url required")
	}
	endpoint, err := apiEndpoint(req.BaseURL)
	if err != nil {
		return err
	}
	base, err := url.Parse(req.BaseURL)
	if err != nil {
		return fmt.Errorf("workday: invalid career site url %q", req.BaseURL)
	}

	now := c.clock.Now()
	offset := 0
	emitted := 0
	for {
		body := map[string]any{
			"limit":      c.pageSize,
			"offset":     offset,
			"searchText": "",
		}
		var page cxsResponse
		if err := c.api.PostJSON(ctx, endpoint, body, &page); err != nil {
			return fmt.Errorf("workday cxs page offset=%d: %w", offset, err)
		}
		if len(page.JobPostings) == 0 {
			return nil
		}
		for _, item := range page.JobPostings {
			if item.Title == "" {
				c.logger.Debug("skipping workday posting without title",
					zap.String("endpoint", endpoint),
				)
				continue
			}
			id, err := c.postingID(item, req.Company)
			if err != nil {
				c.logger.Debug("skipping workday posting without id",
					zap.String("title", item.Title),
					zap.Error(err),
				)
				continue
			}
			posting := jobs.Posting{
				ID:               id,
				Title:            item.Title,
				Company:          req.Company,
				Location:         item.LocationsText,
				ApplyURL:         resolveApplyURL(base, item.ExternalPath),
				Provider:         jobs.ProviderWorkday,
				Origin:           jobs.OriginATS,
				Source:           jobs.SourceATSAPI,
				SourceURL:        req.BaseURL,
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
		offset += c.pageSize
		if page.Total > 0 && offset >= page.Total {
			return nil
		}
	}
}

// postingID prefers the requisition id Workday puts first in bulletFields.
func (c *Client) postingID(item cxsPosting, company string) (string, error) {
	if len(item.BulletFields) > 0 && item.BulletFields[0] != "" {
		return item.BulletFields[0], nil
	}
	sum, err := c.hasher.Hash([]byte(item.Title + company))
	if err != nil {
		return "", err
	}
	if len(sum) > 12 {
		sum = sum[:12]
	}
	return sum, nil
}

func resolveApplyURL(base *url.URL, externalPath string) string {
	if externalPath == "" {
		return ""
	}
	ref, err := url.Parse(externalPath)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
