package intercept

import (
	"encoding/json"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/hireworks/jobsift/internal/discovery"
	"github.com/hireworks/jobsift/internal/jobs"
)

var listingAPIPatterns = []*regexp.Regexp{
	regexp.MustCompile(`/jobs-guest/jobs/api/`),
	regexp.MustCompile(`/jobs/api/`),
	regexp.MustCompile(`/voyager/api/jobs/jobPostings`),
	regexp.MustCompile(`/voyager/api/jobs/jobDetails`),
	regexp.MustCompile(`/voyager/api/jobs/search`),
	regexp.MustCompile(`/voyager/api/search/dash`),
	regexp.MustCompile(`(?i)/voyager/api/graphql.*job`),
}

// MatchesListingAPI reports whether a URL belongs to the listing surface's
// jobs API.
func MatchesListingAPI(rawURL string) bool {
	for _, p := range listingAPIPatterns {
		if p.MatchString(rawURL) {
			return true
		}
	}
	return false
}

// ExtractItems pulls job posting objects out of a listing API response. The
// surface answers in several envelope shapes ("included" entity lists,
// "elements" arrays, keyed "data" objects); all of them are walked.
func ExtractItems(body []byte) []map[string]any {
	var root map[string]any
	if err := json.Unmarshal(body, &root); err != nil {
		return nil
	}
	var items []map[string]any

	if included, ok := root["included"].([]any); ok {
		for _, raw := range included {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			urn, _ := item["entityUrn"].(string)
			recipe, _ := item["$recipeType"].(string)
			if strings.Contains(strings.ToLower(urn), "jobposting") ||
				strings.Contains(strings.ToLower(recipe), "jobposting") {
				items = append(items, item)
			}
		}
	}

	if elements, ok := root["elements"].([]any); ok {
		for _, raw := range elements {
			if item, ok := raw.(map[string]any); ok {
				items = append(items, item)
			}
		}
	}

	if data, ok := root["data"].(map[string]any); ok {
		keys := make([]string, 0, len(data))
		for key := range data {
			if strings.Contains(strings.ToLower(key), "job") {
				keys = append(keys, key)
			}
		}
		sort.Strings(keys)
		for _, key := range keys {
			switch v := data[key].(type) {
			case []any:
				for _, raw := range v {
					if item, ok := raw.(map[string]any); ok {
						items = append(items, item)
					}
				}
			case map[string]any:
				items = append(items, v)
			}
		}
	}
	return items
}

// parseCandidate maps one intercepted posting object to a candidate.
// Objects without an id, title, or company are rejected.
func (l *Lister) parseCandidate(item map[string]any) (jobs.Candidate, bool) {
	id := extractID(item)
	title, _ := item["title"].(string)
	company := extractCompany(item)
	if id == "" || title == "" || company == "" {
		return jobs.Candidate{}, false
	}
	applyURL := ExtractApplyURL(item)
	return jobs.Candidate{
		ID:               id,
		Title:            title,
		Company:          company,
		Location:         extractLocation(item),
		SourceURL:        l.baseURL.JoinPath("jobs", "view", id).String(),
		ApplyURL:         applyURL,
		ExternalApply:    discovery.ExternalApply(applyURL, l.surfaceHost),
		ExtractionMethod: "network_interception",
	}, true
}

func extractID(item map[string]any) string {
	if urn, _ := item["entityUrn"].(string); urn != "" {
		if id := urn[strings.LastIndex(urn, ":")+1:]; id != "" {
			return id
		}
	}
	for _, key := range []string{"jobPostingId", "id"} {
		switch v := item[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatInt(int64(v), 10)
		}
	}
	if urn, _ := item["trackingUrn"].(string); urn != "" {
		if id := urn[strings.LastIndex(urn, ":")+1:]; id != "" {
			return id
		}
	}
	return ""
}

func extractCompany(item map[string]any) string {
	for _, key := range []string{"companyDetails", "company"} {
		switch v := item[key].(type) {
		case string:
			if v != "" {
				return v
			}
		case map[string]any:
			if name, _ := v["name"].(string); name != "" {
				return name
			}
			if name, _ := v["companyName"].(string); name != "" {
				return name
			}
			if nested, ok := v["company"].(map[string]any); ok {
				if name, _ := nested["name"].(string); name != "" {
					return name
				}
			}
		}
	}
	name, _ := item["companyName"].(string)
	return name
}

func extractLocation(item map[string]any) string {
	if loc, _ := item["formattedLocation"].(string); loc != "" {
		return loc
	}
	switch v := item["location"].(type) {
	case string:
		if v != "" {
			return v
		}
	case map[string]any:
		if name, _ := v["defaultLocalizedName"].(string); name != "" {
			return name
		}
		if name, _ := v["name"].(string); name != "" {
			return name
		}
	}
	loc, _ := item["locationName"].(string)
	return loc
}

// ExtractApplyURL digs the apply URL out of a posting object, trying the
// known key variants including offsite apply methods.
func ExtractApplyURL(item map[string]any) string {
	keys := []string{"applyUrl", "applyMethod", "externalApplyUrl", "companyApplyUrl", "offSiteApplyUrl"}
	for _, key := range keys {
		value, ok := item[key]
		if !ok {
			continue
		}
		switch v := value.(type) {
		case string:
			if strings.HasPrefix(v, "http") {
				return v
			}
		case map[string]any:
			if u, _ := v["url"].(string); u != "" {
				return u
			}
			if u, _ := v["companyApplyUrl"].(string); u != "" {
				return u
			}
		}
	}
	return ""
}
