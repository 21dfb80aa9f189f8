package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hireworks/jobsift/internal/jobs"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the runs status column.
type RunStatus string

// Run statuses persisted in runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// RunRow models the runs table for API responses.
type RunRow struct {
	// ID is the run identifier shared with workers and the queue.
	ID uuid.UUID
	// StartedAt captures when the run was first marked running.
	StartedAt time.Time
	// FinishedAt is nil until the run is marked success/error.
	FinishedAt *time.Time
	// Status is running/success/error.
	Status RunStatus
	// ErrorMessage optionally stores the final failure reason.
	ErrorMessage *string
}

// CompanyStats captures per-company fetch aggregation for a run.
type CompanyStats struct {
	// RunID is the owning run.
	RunID uuid.UUID
	// Company is the normalized company key.
	Company string
	// Provider is the detected ATS behind the company, if any.
	Provider string
	// LastUpdate captures the timestamp of the most recent aggregate.
	LastUpdate time.Time
	// Postings counts postings reconciled for the company.
	Postings int64
	// FetchOK through FetchSkipped hold per-outcome fetch counts.
	FetchOK      int64
	FetchEmpty   int64
	FetchError   int64
	FetchSkipped int64
}

// RunRepository persists incremental run progress and its read side.
type RunRepository interface {
	// StartRun inserts (or idempotently updates) the started_at timestamp.
	StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// FinishRun marks the run finished with the provided status and error.
	FinishRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertCompanyStats applies posting/fetch deltas per (run, company).
	UpsertCompanyStats(
		ctx context.Context,
		runID uuid.UUID,
		company string,
		provider string,
		deltaPostings int64,
		outcome string,
		at time.Time,
	) error

	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (RunRow, error)
	// ListRuns returns runs filtered by optional status plus limit/offset.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]RunRow, error)
	// ListRunCompanies returns aggregated company stats for one run.
	ListRunCompanies(ctx context.Context, runID uuid.UUID, limit, offset int) ([]CompanyStats, error)
}

// PostingWriter persists a run's final posting corpus.
type PostingWriter interface {
	InsertPostings(ctx context.Context, runID string, postings []jobs.Posting) error
}
