// Package ats resolves applicant tracking systems behind apply URLs and
// holds the shared plumbing for provider API clients.
package ats

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/hireworks/jobsift/internal/jobs"
)

// detectionRules is the ordered provider detection table. The first rule
// whose pattern matches the lowercased URL wins, so order is part of the
// contract.
var detectionRules = []struct {
	provider jobs.Provider
	patterns []*regexp.Regexp
}{
	{jobs.ProviderWorkday, compileAll(
		`myworkdayjobs\.com`,
		`wd\d+\.myworkdaysite\.com`,
		`wd\d+\.myworkdayjobs\.com`,
		`workday\.com/.*careers`,
		`\.wd\d+\.`,
	)},
	{jobs.ProviderGreenhouse, compileAll(
		`boards\.greenhouse\.io`,
		`job-boards\.greenhouse\.io`,
		`greenhouse\.io/.*embed`,
	)},
	{jobs.ProviderLever, compileAll(
		`jobs\.lever\.co`,
		`lever\.co/.*apply`,
	)},
	{jobs.ProviderICIMS, compileAll(
		`careers-.*\.icims\.com`,
		`icims\.com`,
		`jobs\..*\.com/.*icims`,
	)},
	{jobs.ProviderTaleo, compileAll(
		`taleo\.net`,
		`oracle\.com/.*taleo`,
		`taleo\.com`,
	)},
	{jobs.ProviderBambooHR, compileAll(
		`.*\.bamboohr\.com/careers`,
		`.*\.bamboohr\.com/jobs`,
	)},
	{jobs.ProviderJobvite, compileAll(
		`jobs\.jobvite\.com`,
		`.*\.jobvite\.com`,
	)},
	{jobs.ProviderSmartRecruiters, compileAll(
		`jobs\.smartrecruiters\.com`,
		`careers\.smartrecruiters\.com`,
	)},
	{jobs.ProviderAshby, compileAll(
		`jobs\.ashbyhq\.com`,
		`.*\.ashbyhq\.com`,
	)},
}

// slugRules extracts the company board slug per provider. Most specific
// pattern first; the first capture group of the first match wins.
var slugRules = map[jobs.Provider][]*regexp.Regexp{
	jobs.ProviderGreenhouse: compileAll(
		`greenhouse\.io/.*embed/job_board/js\?for=([^&]+)`,
		`job-boards\.greenhouse\.io/([^/?#]+)`,
		`boards\.greenhouse\.io/([^/?#]+)`,
	),
	jobs.ProviderLever: compileAll(
		`jobs\.lever\.co/([^/?#]+)`,
		`lever\.co/([^/?#]+)`,
	),
	jobs.ProviderAshby: compileAll(
		`jobs\.ashbyhq\.com/([^/?#]+)`,
		`ashbyhq\.com/([^/?#]+)`,
	),
	jobs.ProviderWorkday: compileAll(
		`myworkdayjobs\.com/([^/?#]+)`,
		`wd\d+\.myworkdaysite\.com/.*?/([^/?#]+)`,
	),
	jobs.ProviderSmartRecruiters: compileAll(
		`jobs\.smartrecruiters\.com/([^/?#]+)`,
		`careers\.smartrecruiters\.com/([^/?#]+)`,
	),
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

// Registry pairs URL detection with fetch capability. Detection coverage is
// wider than capability: providers without an API client detect fine but
// CapabilityFor returns nil for them.
type Registry struct {
	clients map[jobs.Provider]jobs.FetchClient
}

// NewRegistry indexes the given clients by their provider.
func NewRegistry(clients ...jobs.FetchClient) *Registry {
	indexed := make(map[jobs.Provider]jobs.FetchClient, len(clients))
	for _, c := range clients {
		if c == nil {
			continue
		}
		indexed[c.Provider()] = c
	}
	return &Registry{clients: indexed}
}

// Detect resolves an apply URL to a provider. Unmatched or empty URLs are
// ProviderUnknown. Deterministic: same URL, same answer.
func (r *Registry) Detect(rawURL string) jobs.Provider {
	if rawURL == "" {
		return jobs.ProviderUnknown
	}
	lowered := strings.ToLower(rawURL)
	for _, rule := range detectionRules {
		for _, pattern := range rule.patterns {
			if pattern.MatchString(lowered) {
				return rule.provider
			}
		}
	}
	return jobs.ProviderUnknown
}

// CapabilityFor returns the fetch client for a provider, or nil when the
// provider has no API integration.
func (r *Registry) CapabilityFor(p jobs.Provider) jobs.FetchClient {
	return r.clients[p]
}

// ExtractSlug pulls the company board slug out of an apply URL. Returns ""
// when the provider has no slug rules or nothing matches.
func (r *Registry) ExtractSlug(p jobs.Provider, rawURL string) string {
	rules, ok := slugRules[p]
	if !ok || rawURL == "" {
		return ""
	}
	lowered := strings.ToLower(rawURL)
	for _, pattern := range rules {
		if m := pattern.FindStringSubmatch(lowered); len(m) > 1 && m[1] != "" {
			return m[1]
		}
	}
	return ""
}

// CareerBaseURL reduces an apply URL to scheme://host, the base a provider
// client needs to reach the company's career site. "" when unparsable.
func CareerBaseURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}
