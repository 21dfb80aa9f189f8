package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hireworks/jobsift/internal/progress"
)

// PrometheusSink exports ingestion progress metrics via Prometheus. It owns
// all collectors for runs started/completed/running, per-provider fetch
// outcomes, postings, and block reasons.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	fetches       *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	postings      prometheus.Counter
	blocks        *prometheus.CounterVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobsift_runs_started_total",
			Help: "Total ingestion runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsift_runs_completed_total",
			Help: "Total runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "jobsift_runs_running",
			Help: "Current number of running ingestion runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobsift_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsift_ats_fetches_total",
			Help: "Company ATS fetches partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "jobsift_ats_fetch_duration_seconds",
			Help:    "ATS fetch duration partitioned by provider.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		postings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "jobsift_postings_collected_total",
			Help: "Postings added to final run results.",
		}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "jobsift_blocks_total",
			Help: "Block walls detected partitioned by reason.",
		}, []string{"reason"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.fetches,
		s.fetchDuration,
		s.postings,
		s.blocks,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		s.completeRun(evt, "success")
	case progress.StageRunError:
		s.completeRun(evt, "error")
	case progress.StageFetchDone:
		s.handleFetch(evt)
	case progress.StageBlocked:
		reason := evt.Reason
		if reason == "" {
			reason = "unknown"
		}
		s.blocks.WithLabelValues(reason).Inc()
	}
}

func (s *PrometheusSink) completeRun(evt progress.Event, result string) {
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if evt.Postings > 0 {
		s.postings.Add(float64(evt.Postings))
	}
	if s.tracker.complete(evt.RunID) {
		s.runsRunning.Dec()
	}
}

func (s *PrometheusSink) handleFetch(evt progress.Event) {
	provider := evt.Provider
	if provider == "" {
		provider = "unknown"
	}
	outcome := string(evt.Outcome)
	if outcome == "" {
		outcome = string(progress.OutcomeError)
	}
	s.fetches.WithLabelValues(provider, outcome).Inc()
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(provider).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
