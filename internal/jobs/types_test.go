package jobs

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostingJSONRoundTrip(t *testing.T) {
	t.Parallel()

	posted := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	in := Posting{
		ID:               "4011223344",
		Title:            "Senior Backend Engineer",
		Company:          "Acme Corp",
		Location:         "Berlin, Germany",
		ApplyURL:         "https://boards.greenhouse.io/acmecorp/jobs/4011223344",
		Provider:         ProviderGreenhouse,
		Origin:           OriginATS,
		Source:           SourceDiscovery,
		SourceURL:        "https://www.linkedin.com/jobs/view/4011223344",
		ExtractedAt:      time.Date(2025, 11, 4, 18, 30, 0, 0, time.UTC),
		ExtractionMethod: "api",
		PostedAt:         &posted,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out Posting
	require.NoError(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)

	// Field names are a wire contract shared with downstream consumers.
	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{
		"job_id", "title", "company_name", "location", "apply_url",
		"provider", "origin", "source", "source_url", "extracted_at",
		"extraction_method",
	} {
		require.Contains(t, raw, key)
	}
}

func TestPostingDedupKey(t *testing.T) {
	t.Parallel()

	a := Posting{ID: "123", Company: "Acme Corp"}
	b := Posting{ID: "123", Company: "ACME CORP"}
	require.Equal(t, a.DedupKey(), b.DedupKey())
	require.Equal(t, "acme corp:123", a.DedupKey())

	c := Posting{ID: "124", Company: "Acme Corp"}
	require.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestCompanyKeyNormalization(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme corp", CompanyKey("  Acme Corp "))
	require.Equal(t, CompanyKey("TinyCo"), CompanyKey("tinyco"))
}

func TestRunStateClone(t *testing.T) {
	t.Parallel()

	reason := BlockCaptcha
	orig := RunState{
		IsBlocked:         true,
		BlockReason:       &reason,
		PostingsCollected: 4,
		RequestsMade:      17,
		Errors:            []string{"ats fetch acme: boom"},
	}
	cp := orig.Clone()
	require.Equal(t, orig, cp)

	cp.Errors = append(cp.Errors, "later")
	*cp.BlockReason = BlockAuthwall
	require.Len(t, orig.Errors, 1)
	require.Equal(t, BlockCaptcha, *orig.BlockReason)
}
