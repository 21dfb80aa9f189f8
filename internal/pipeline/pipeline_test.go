package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireworks/jobsift/internal/jobs"
	"github.com/hireworks/jobsift/internal/progress"
)

type fakeMonitor struct {
	mu       sync.Mutex
	cb       func(jobs.BlockReason)
	blocked  bool
	reason   jobs.BlockReason
	requests int64
}

func (m *fakeMonitor) OnBlock(fn func(jobs.BlockReason)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = fn
}

func (m *fakeMonitor) Blocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}

func (m *fakeMonitor) Reason() (jobs.BlockReason, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason, m.blocked
}

func (m *fakeMonitor) Requests() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

func (m *fakeMonitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocked = false
	m.reason = ""
}

func (m *fakeMonitor) trigger(reason jobs.BlockReason) {
	m.mu.Lock()
	if m.blocked {
		m.mu.Unlock()
		return
	}
	m.blocked = true
	m.reason = reason
	cb := m.cb
	m.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

type fakeLister struct {
	candidates []jobs.Candidate
	// afterEmit runs after the nth candidate (1-based) was yielded.
	afterEmit func(n int)
	err       error
}

func (l *fakeLister) Search(ctx context.Context, _ jobs.Query, emit func(jobs.Candidate) bool) error {
	for i, c := range l.candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		keep := emit(c)
		if l.afterEmit != nil {
			l.afterEmit(i + 1)
		}
		if !keep {
			return nil
		}
	}
	return l.err
}

type fakeFetchClient struct {
	provider jobs.Provider
	postings []jobs.Posting
	err      error
	calls    int
}

func (c *fakeFetchClient) Provider() jobs.Provider { return c.provider }

func (c *fakeFetchClient) Fetch(_ context.Context, _ jobs.FetchRequest, emit func(jobs.Posting) bool) error {
	c.calls++
	for _, p := range c.postings {
		if !emit(p) {
			return nil
		}
	}
	return c.err
}

type fakeRegistry struct {
	clients map[jobs.Provider]jobs.FetchClient
	slugs   map[jobs.Provider]string
}

func (r *fakeRegistry) Detect(rawURL string) jobs.Provider {
	switch {
	case strings.Contains(rawURL, "greenhouse.io"):
		return jobs.ProviderGreenhouse
	case strings.Contains(rawURL, "lever.co"):
		return jobs.ProviderLever
	case strings.Contains(rawURL, "myworkdayjobs.com"):
		return jobs.ProviderWorkday
	default:
		return jobs.ProviderUnknown
	}
}

func (r *fakeRegistry) CapabilityFor(p jobs.Provider) jobs.FetchClient {
	client, ok := r.clients[p]
	if !ok {
		return nil
	}
	return client
}

func (r *fakeRegistry) ExtractSlug(p jobs.Provider, _ string) string {
	return r.slugs[p]
}

type tickingClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(5 * time.Millisecond)
	return c.t
}

type captureEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *captureEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *captureEmitter) byStage(stage progress.Stage) []progress.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []progress.Event
	for _, evt := range e.events {
		if evt.Stage == stage {
			out = append(out, evt)
		}
	}
	return out
}

func atsCandidate(id, company, applyURL string) jobs.Candidate {
	return jobs.Candidate{
		ID:               id,
		Title:            "Software Engineer",
		Company:          company,
		Location:         "Remote",
		SourceURL:        "https://example.com/jobs/" + id,
		ApplyURL:         applyURL,
		ExternalApply:    true,
		ExtractionMethod: "static",
	}
}

func nativeCandidate(id, company string) jobs.Candidate {
	return jobs.Candidate{
		ID:               id,
		Title:            "Software Engineer",
		Company:          company,
		SourceURL:        "https://example.com/jobs/" + id,
		ExtractionMethod: "static",
	}
}

func atsPosting(id, company string) jobs.Posting {
	return jobs.Posting{
		ID:       id,
		Title:    "Software Engineer",
		Company:  company,
		Provider: jobs.ProviderGreenhouse,
		Origin:   jobs.OriginATS,
		Source:   jobs.SourceATSAPI,
	}
}

func newOrchestrator(t *testing.T, lister jobs.Lister, registry jobs.ProviderRegistry, monitor Monitor, emitter progress.Emitter) *Orchestrator {
	t.Helper()
	orch, err := New(Config{
		Lister:   lister,
		Registry: registry,
		Monitor:  monitor,
		Clock:    newTickingClock(),
		Emitter:  emitter,
	})
	require.NoError(t, err)
	return orch
}

func TestRunHeadlessToggleSelectsBrowserLister(t *testing.T) {
	staticL := &fakeLister{candidates: []jobs.Candidate{nativeCandidate("s1", "Acme")}}
	browserL := &fakeLister{candidates: []jobs.Candidate{
		nativeCandidate("b1", "Acme"),
		nativeCandidate("b2", "Globex"),
	}}
	orch, err := New(Config{
		Lister:   staticL,
		Browser:  browserL,
		Registry: &fakeRegistry{},
		Monitor:  &fakeMonitor{},
		Clock:    newTickingClock(),
	})
	require.NoError(t, err)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", Headless: true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Postings, 2, "headless runs use the browser lister")

	result, err = orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", Headless: false,
	})
	require.NoError(t, err)
	assert.Len(t, result.Postings, 1, "non-headless runs stay on the static lister")
}

func TestRunHeadlessWithoutBrowserDegradesToStatic(t *testing.T) {
	staticL := &fakeLister{candidates: []jobs.Candidate{nativeCandidate("s1", "Acme")}}
	orch := newOrchestrator(t, staticL, &fakeRegistry{}, &fakeMonitor{}, nil)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", Headless: true,
	})
	require.NoError(t, err)
	assert.Len(t, result.Postings, 1)
	assert.Empty(t, result.Errors)
}

func TestDiscoveryErrorIsRecorded(t *testing.T) {
	lister := &fakeLister{
		candidates: []jobs.Candidate{nativeCandidate("1", "Acme")},
		err:        errors.New("status 500"),
	}
	orch := newOrchestrator(t, lister, &fakeRegistry{}, &fakeMonitor{}, nil)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang",
	})
	require.NoError(t, err)

	assert.Len(t, result.Postings, 1, "candidates yielded before the failure are retained")
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "discovery: status 500", result.Errors[0])
}

func TestRunRequiresKeywords(t *testing.T) {
	orch := newOrchestrator(t, &fakeLister{}, &fakeRegistry{}, &fakeMonitor{}, nil)
	_, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{})
	require.Error(t, err)
}

func TestBlockMidDiscoveryRetainsYieldedCandidates(t *testing.T) {
	monitor := &fakeMonitor{}
	lister := &fakeLister{
		candidates: []jobs.Candidate{
			nativeCandidate("1", "Acme"),
			nativeCandidate("2", "Globex"),
			nativeCandidate("3", "Initech"),
			nativeCandidate("4", "Umbrella"),
			nativeCandidate("5", "Hooli"),
		},
		// The wall lands while the third candidate is in flight: it is
		// still retained, everything after it is not.
		afterEmit: func(n int) {
			if n == 2 {
				monitor.trigger(jobs.BlockCaptcha)
			}
		},
	}
	emitter := &captureEmitter{}
	orch := newOrchestrator(t, lister, &fakeRegistry{}, monitor, emitter)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true,
	})
	require.NoError(t, err)

	assert.Len(t, result.Postings, 3)
	assert.True(t, result.RunState.IsBlocked)
	require.NotNil(t, result.RunState.BlockReason)
	assert.Equal(t, jobs.BlockCaptcha, *result.RunState.BlockReason)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "blocked: captcha_detected", result.Errors[0])

	blocked := emitter.byStage(progress.StageBlocked)
	require.Len(t, blocked, 1)
	assert.Equal(t, string(jobs.BlockCaptcha), blocked[0].Reason)
}

func TestBlockBeforeFetchFallsBackToDiscovery(t *testing.T) {
	monitor := &fakeMonitor{}
	client := &fakeFetchClient{provider: jobs.ProviderGreenhouse}
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{jobs.ProviderGreenhouse: client},
		slugs:   map[jobs.Provider]string{jobs.ProviderGreenhouse: "acme"},
	}
	lister := &fakeLister{
		candidates: []jobs.Candidate{
			atsCandidate("1", "Acme", "https://boards.greenhouse.io/acme/jobs/1"),
			atsCandidate("2", "Acme", "https://boards.greenhouse.io/acme/jobs/2"),
		},
		afterEmit: func(n int) {
			if n == 2 {
				monitor.trigger(jobs.BlockRateLimited)
			}
		},
	}
	orch := newOrchestrator(t, lister, registry, monitor, nil)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true,
	})
	require.NoError(t, err)

	assert.Zero(t, client.calls, "blocked runs must not hit provider APIs")
	assert.Len(t, result.Postings, 2)
	assert.Empty(t, result.ProviderCompanies)
	for _, p := range result.Postings {
		assert.Equal(t, jobs.SourceDiscovery, p.Source)
	}
}

func TestFetchErrorKeepsDiscoveryWithSingleErrorLine(t *testing.T) {
	client := &fakeFetchClient{
		provider: jobs.ProviderGreenhouse,
		err:      errors.New("status 500"),
	}
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{jobs.ProviderGreenhouse: client},
		slugs:   map[jobs.Provider]string{jobs.ProviderGreenhouse: "acme"},
	}
	lister := &fakeLister{candidates: []jobs.Candidate{
		atsCandidate("1", "Acme", "https://boards.greenhouse.io/acme/jobs/1"),
		atsCandidate("2", "Acme", "https://boards.greenhouse.io/acme/jobs/2"),
	}}
	emitter := &captureEmitter{}
	orch := newOrchestrator(t, lister, registry, &fakeMonitor{}, emitter)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true,
	})
	require.NoError(t, err)

	assert.Len(t, result.Postings, 2)
	assert.Empty(t, result.ProviderCompanies)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "fetch Acme (greenhouse): status 500", result.Errors[0])

	done := emitter.byStage(progress.StageFetchDone)
	require.Len(t, done, 1)
	assert.Equal(t, progress.OutcomeError, done[0].Outcome)
}

func TestEmptyFetchKeepsDiscoveryAndRecordsError(t *testing.T) {
	client := &fakeFetchClient{provider: jobs.ProviderGreenhouse}
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{jobs.ProviderGreenhouse: client},
		slugs:   map[jobs.Provider]string{jobs.ProviderGreenhouse: "acme"},
	}
	lister := &fakeLister{candidates: []jobs.Candidate{
		atsCandidate("1", "Acme", "https://boards.greenhouse.io/acme/jobs/1"),
	}}
	orch := newOrchestrator(t, lister, registry, &fakeMonitor{}, nil)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, client.calls)
	assert.Len(t, result.Postings, 1)
	assert.Empty(t, result.ProviderCompanies)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "fetch Acme (greenhouse): no postings returned", result.Errors[0])
}

func TestUnresolvedProviderSkipsWithoutError(t *testing.T) {
	// Workday detects but has no registered client here.
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{},
		slugs:   map[jobs.Provider]string{},
	}
	lister := &fakeLister{candidates: []jobs.Candidate{
		atsCandidate("1", "Acme", "https://acme.wd5.myworkdayjobs.com/External/job/1"),
	}}
	emitter := &captureEmitter{}
	orch := newOrchestrator(t, lister, registry, &fakeMonitor{}, emitter)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true,
	})
	require.NoError(t, err)

	assert.Len(t, result.Postings, 1)
	assert.Empty(t, result.Errors, "unresolved providers are not failures")
	assert.Empty(t, result.ProviderCompanies)

	done := emitter.byStage(progress.StageFetchDone)
	require.Len(t, done, 1)
	assert.Equal(t, progress.OutcomeSkipped, done[0].Outcome)
}

func TestFetchATSDisabledKeepsDiscoveryOnly(t *testing.T) {
	client := &fakeFetchClient{provider: jobs.ProviderGreenhouse}
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{jobs.ProviderGreenhouse: client},
		slugs:   map[jobs.Provider]string{jobs.ProviderGreenhouse: "acme"},
	}
	lister := &fakeLister{candidates: []jobs.Candidate{
		atsCandidate("1", "Acme", "https://boards.greenhouse.io/acme/jobs/1"),
	}}
	orch := newOrchestrator(t, lister, registry, &fakeMonitor{}, nil)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: false,
	})
	require.NoError(t, err)

	assert.Zero(t, client.calls)
	assert.Len(t, result.Postings, 1)
	assert.Empty(t, result.ProviderCompanies)
}

func TestFetchCollapsesDuplicatesToDiscoveryInstance(t *testing.T) {
	client := &fakeFetchClient{
		provider: jobs.ProviderGreenhouse,
		postings: []jobs.Posting{
			atsPosting("1", "Acme"), // collides with the discovered posting
			atsPosting("9", "Acme"),
		},
	}
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{jobs.ProviderGreenhouse: client},
		slugs:   map[jobs.Provider]string{jobs.ProviderGreenhouse: "acme"},
	}
	lister := &fakeLister{candidates: []jobs.Candidate{
		atsCandidate("1", "Acme", "https://boards.greenhouse.io/acme/jobs/1"),
	}}
	orch := newOrchestrator(t, lister, registry, &fakeMonitor{}, nil)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true,
	})
	require.NoError(t, err)

	require.Len(t, result.Postings, 2)
	byID := make(map[string]jobs.Posting)
	for _, p := range result.Postings {
		byID[p.ID] = p
	}
	assert.Equal(t, jobs.SourceDiscovery, byID["1"].Source, "discovery instance wins key collisions")
	assert.Equal(t, jobs.SourceATSAPI, byID["9"].Source)

	info, ok := result.ProviderCompanies["acme"]
	require.True(t, ok)
	assert.Equal(t, "Acme", info.Company)
	assert.Equal(t, jobs.ProviderGreenhouse, info.Provider)
	assert.Equal(t, "https://boards.greenhouse.io", info.BaseURL)
	assert.Equal(t, 2, info.PostingCount, "posting_count covers the full fetched set")
}

func TestMaxPerCompanyCapsFetch(t *testing.T) {
	client := &fakeFetchClient{
		provider: jobs.ProviderGreenhouse,
		postings: []jobs.Posting{
			atsPosting("a", "Acme"),
			atsPosting("b", "Acme"),
			atsPosting("c", "Acme"),
			atsPosting("d", "Acme"),
		},
	}
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{jobs.ProviderGreenhouse: client},
		slugs:   map[jobs.Provider]string{jobs.ProviderGreenhouse: "acme"},
	}
	lister := &fakeLister{candidates: []jobs.Candidate{
		atsCandidate("a", "Acme", "https://boards.greenhouse.io/acme/jobs/a"),
	}}
	orch := newOrchestrator(t, lister, registry, &fakeMonitor{}, nil)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true, MaxPerCompany: 2,
	})
	require.NoError(t, err)

	assert.Len(t, result.Postings, 2)
	assert.Equal(t, 2, result.ProviderCompanies["acme"].PostingCount)
}

func TestMultiCompanyRunAggregates(t *testing.T) {
	greenhouse := &fakeFetchClient{
		provider: jobs.ProviderGreenhouse,
		postings: []jobs.Posting{atsPosting("g1", "Acme"), atsPosting("g2", "Acme")},
	}
	lever := &fakeFetchClient{
		provider: jobs.ProviderLever,
		err:      errors.New("connection reset"),
	}
	registry := &fakeRegistry{
		clients: map[jobs.Provider]jobs.FetchClient{
			jobs.ProviderGreenhouse: greenhouse,
			jobs.ProviderLever:      lever,
		},
		slugs: map[jobs.Provider]string{
			jobs.ProviderGreenhouse: "acme",
			jobs.ProviderLever:      "globex",
		},
	}
	lister := &fakeLister{candidates: []jobs.Candidate{
		atsCandidate("g1", "Acme", "https://boards.greenhouse.io/acme/jobs/g1"),
		nativeCandidate("n1", "Initech"),
		atsCandidate("l1", "Globex", "https://jobs.lever.co/globex/l1"),
		nativeCandidate("n2", "Initech"),
	}}
	emitter := &captureEmitter{}
	orch := newOrchestrator(t, lister, registry, &fakeMonitor{}, emitter)

	result, err := orch.Run(context.Background(), uuid.NewString(), jobs.RunParameters{
		Keywords: "golang", FetchATS: true,
	})
	require.NoError(t, err)

	// Acme reconciled to 2 ATS postings (g1 collapsed to discovery, g2 new),
	// Globex fell back to its single discovery posting, Initech stayed native.
	assert.Len(t, result.Postings, 5)
	assert.Equal(t, []string{"initech"}, result.NativeCompanies)
	require.Len(t, result.ProviderCompanies, 1)
	assert.Equal(t, 2, result.ProviderCompanies["acme"].PostingCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, "fetch Globex (lever): connection reset", result.Errors[0])
	assert.False(t, result.RunState.IsBlocked)
	assert.Equal(t, 5, result.RunState.PostingsCollected)

	starts := emitter.byStage(progress.StageFetchStart)
	assert.Len(t, starts, 2)
}
