package greenhouse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/jobs"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type recordingObserver struct {
	urls     []string
	statuses []int
}

func (o *recordingObserver) Observe(url string, status int, _ http.Header) {
	o.urls = append(o.urls, url)
	o.statuses = append(o.statuses, status)
}

const boardFixture = `{
  "jobs": [
    {
      "id": 4011,
      "title": "Senior Backend Engineer",
      "absolute_url": "https://boards.greenhouse.io/acme/jobs/4011",
      "updated_at": "2025-10-01T12:30:00-04:00",
      "location": {"name": "Remote - US"}
    },
    {
      "id": 4012,
      "title": "",
      "absolute_url": "https://boards.greenhouse.io/acme/jobs/4012",
      "location": {"name": "NYC"}
    },
    {
      "id": 4013,
      "title": "Data Platform Engineer",
      "absolute_url": "https://boards.greenhouse.io/acme/jobs/4013",
      "updated_at": "not-a-timestamp",
      "location": {"name": "London"}
    }
  ]
}`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *recordingObserver, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	observer := &recordingObserver{}
	api := ats.NewAPI(ats.APIConfig{Observer: observer})
	client := New(Config{
		API:     api,
		BaseURL: srv.URL,
		Clock:   fixedClock{now: time.Date(2025, 10, 2, 9, 0, 0, 0, time.UTC)},
	})
	return client, observer, srv
}

func TestFetchEmitsBoardPostings(t *testing.T) {
	var gotPath string
	client, observer, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(boardFixture))
	}))

	var postings []jobs.Posting
	err := client.Fetch(context.Background(), jobs.FetchRequest{Company: "Acme", Slug: "acme"}, func(p jobs.Posting) bool {
		postings = append(postings, p)
		return true
	})
	require.NoError(t, err)
	require.Len(t, postings, 2, "the title-less posting should be skipped")

	assert.Equal(t, "/v1/boards/acme/jobs", gotPath)

	first := postings[0]
	assert.Equal(t, "4011", first.ID)
	assert.Equal(t, "Senior Backend Engineer", first.Title)
	assert.Equal(t, "Acme", first.Company)
	assert.Equal(t, "Remote - US", first.Location)
	assert.Equal(t, "https://boards.greenhouse.io/acme/jobs/4011", first.ApplyURL)
	assert.Equal(t, jobs.ProviderGreenhouse, first.Provider)
	assert.Equal(t, jobs.OriginATS, first.Origin)
	assert.Equal(t, jobs.SourceATSAPI, first.Source)
	assert.Equal(t, "ats_api", first.ExtractionMethod)
	require.NotNil(t, first.PostedAt)
	assert.Equal(t, 2025, first.PostedAt.Year())

	assert.Nil(t, postings[1].PostedAt, "unparseable updated_at leaves posted_at unset")

	require.Len(t, observer.statuses, 1)
	assert.Equal(t, http.StatusOK, observer.statuses[0])
}

func TestFetchHonorsLimitAndEmitStop(t *testing.T) {
	client, _, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(boardFixture))
	}))

	var limited []jobs.Posting
	err := client.Fetch(context.Background(), jobs.FetchRequest{Company: "Acme", Slug: "acme", Limit: 1}, func(p jobs.Posting) bool {
		limited = append(limited, p)
		return true
	})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	calls := 0
	err = client.Fetch(context.Background(), jobs.FetchRequest{Company: "Acme", Slug: "acme"}, func(jobs.Posting) bool {
		calls++
		return false
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "emit returning false stops the stream")
}

func TestFetchSurfacesServerErrors(t *testing.T) {
	client, observer, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	err := client.Fetch(context.Background(), jobs.FetchRequest{Company: "Acme", Slug: "acme"}, func(jobs.Posting) bool {
		t.Fatal("no posting should be emitted")
		return false
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 429")

	require.NotEmpty(t, observer.statuses, "observer sees the blocked exchange")
	assert.Equal(t, http.StatusTooManyRequests, observer.statuses[0])
}

func TestFetchRequiresSlug(t *testing.T) {
	client := New(Config{API: ats.NewAPI(ats.APIConfig{}), Clock: fixedClock{}})
	err := client.Fetch(context.Background(), jobs.FetchRequest{Company: "Acme"}, func(jobs.Posting) bool { return true })
	require.Error(t, err)
}
