package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hireworks/jobsift/internal/jobs"
)

// ErrRunNotFound signals a lookup for a run the store never saw.
var ErrRunNotFound = errors.New("run not found")

// RunStore provides an in-memory jobs.RunStore for development and tests.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[string]jobs.Run
	results map[string]jobs.PipelineResult
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[string]jobs.Run),
		results: make(map[string]jobs.PipelineResult),
	}
}

// CreateRun registers a new run.
func (s *RunStore) CreateRun(_ context.Context, run jobs.Run) error {
	if run.ID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRunStatus transitions a run's status and counters. Terminal
// statuses also stamp the finish time based on what was already recorded.
func (s *RunStore) UpdateRunStatus(
	_ context.Context,
	runID string,
	status jobs.RunStatus,
	errText string,
	counters jobs.RunCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	now := time.Now().UTC()
	switch status {
	case jobs.RunStatusRunning:
		if run.Started == nil {
			run.Started = &now
		}
	case jobs.RunStatusSucceeded, jobs.RunStatusFailed, jobs.RunStatusCanceled:
		if run.Finished == nil {
			run.Finished = &now
		}
	}
	s.runs[runID] = run
	return nil
}

// SaveResult stores the run's terminal snapshot.
func (s *RunStore) SaveResult(_ context.Context, runID string, result jobs.PipelineResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return ErrRunNotFound
	}
	s.results[runID] = result
	return nil
}

// GetRun returns run metadata.
func (s *RunStore) GetRun(_ context.Context, runID string) (jobs.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return jobs.Run{}, ErrRunNotFound
	}
	return run, nil
}

// GetResult returns the run's stored result.
func (s *RunStore) GetResult(_ context.Context, runID string) (jobs.PipelineResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[runID]
	if !ok {
		return jobs.PipelineResult{}, ErrRunNotFound
	}
	return result, nil
}
