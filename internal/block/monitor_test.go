package block

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/jobs"
)

func TestClassifyResponse_Table(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		url    string
		status int
		want   jobs.BlockReason
		hit    bool
	}{
		{"plain success", "https://www.linkedin.com/jobs/view/1", 200, "", false},
		{"rate limited", "https://www.linkedin.com/jobs/search", 429, jobs.BlockRateLimited, true},
		{"unauthorized", "https://www.linkedin.com/voyager/api/jobs", 401, jobs.BlockLoginRequired, true},
		{"forbidden", "https://www.linkedin.com/voyager/api/jobs", 403, jobs.BlockLoginRequired, true},
		{"login redirect", "https://www.linkedin.com/uas/login?session_redirect=x", 200, jobs.BlockLoginRequired, true},
		{"signin path", "https://example.com/signin", 200, jobs.BlockLoginRequired, true},
		{"authwall", "https://www.linkedin.com/authwall?trk=gf", 200, jobs.BlockAuthwall, true},
		{"checkpoint", "https://www.linkedin.com/checkpoint/challenge", 200, jobs.BlockCheckpoint, true},
		{"security check", "https://example.com/security-check", 200, jobs.BlockCheckpoint, true},
		{"captcha path", "https://example.com/captcha?id=9", 200, jobs.BlockCaptcha, true},
		{"challenge subdomain", "https://challenge.linkedin.com/verify", 200, jobs.BlockCaptcha, true},
		{"status beats url", "https://example.com/captcha", 429, jobs.BlockRateLimited, true},
		{"login beats later groups", "https://example.com/login/authwall", 200, jobs.BlockLoginRequired, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, hit := ClassifyResponse(tc.url, tc.status)
			require.Equal(t, tc.hit, hit)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestMonitor_FirstDetectionWins(t *testing.T) {
	t.Parallel()

	m := NewMonitor(zap.NewNop())
	var mu sync.Mutex
	var calls []jobs.BlockReason
	m.OnBlock(func(r jobs.BlockReason) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, r)
	})

	m.Observe("https://www.linkedin.com/jobs/search", 200, nil)
	require.False(t, m.Blocked())

	m.Observe("https://www.linkedin.com/authwall", 200, nil)
	require.True(t, m.Blocked())
	reason, ok := m.Reason()
	require.True(t, ok)
	require.Equal(t, jobs.BlockAuthwall, reason)

	// Later, different signals must not reclassify or re-notify.
	m.Observe("https://challenge.linkedin.com/verify", 429, nil)
	reason, _ = m.Reason()
	require.Equal(t, jobs.BlockAuthwall, reason)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []jobs.BlockReason{jobs.BlockAuthwall}, calls)
}

func TestMonitor_CallbackFiresOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	m := NewMonitor(zap.NewNop())
	var mu sync.Mutex
	count := 0
	m.OnBlock(func(jobs.BlockReason) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Observe("https://www.linkedin.com/jobs/search", 429, nil)
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, count)
}

func TestMonitor_CountsRequests(t *testing.T) {
	t.Parallel()

	m := NewMonitor(zap.NewNop())
	for i := 0; i < 5; i++ {
		m.Observe("https://www.linkedin.com/jobs/view/1", 200, nil)
	}
	require.Equal(t, int64(5), m.Requests())

	// Observations after a block still count as traffic.
	m.Observe("https://www.linkedin.com/authwall", 200, nil)
	m.Observe("https://www.linkedin.com/jobs/view/2", 200, nil)
	require.Equal(t, int64(7), m.Requests())
}

func TestMonitor_ObserveErrorTripsNetworkError(t *testing.T) {
	t.Parallel()

	m := NewMonitor(zap.NewNop())
	fired := false
	m.OnBlock(func(r jobs.BlockReason) {
		fired = true
		require.Equal(t, jobs.BlockNetworkError, r)
	})

	m.ObserveError("https://www.linkedin.com/jobs/search", http.ErrHandlerTimeout)
	require.True(t, m.Blocked())
	require.True(t, fired)
	require.Zero(t, m.Requests())
}

func TestMonitor_ResetClearsState(t *testing.T) {
	t.Parallel()

	m := NewMonitor(zap.NewNop())
	m.Observe("https://www.linkedin.com/authwall", 200, nil)
	require.True(t, m.Blocked())

	m.Reset()
	require.False(t, m.Blocked())
	require.Zero(t, m.Requests())
	_, ok := m.Reason()
	require.False(t, ok)
}
