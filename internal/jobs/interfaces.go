package jobs

import (
	"context"
	"net/http"
	"time"
)

// Lister streams discovery candidates for a query. Production stops as soon
// as emit returns false; implementations must honor ctx between items.
type Lister interface {
	Search(ctx context.Context, query Query, emit func(Candidate) bool) error
}

// FetchClient streams normalized postings from one ATS provider's API.
// Malformed items are skipped, never fatal; a returned error means the
// company's retrieval failed as a whole.
type FetchClient interface {
	Provider() Provider
	Fetch(ctx context.Context, req FetchRequest, emit func(Posting) bool) error
}

// BlockObserver receives every network exchange so block walls are spotted
// no matter which component hit them.
type BlockObserver interface {
	Observe(url string, status int, header http.Header)
}

// SurfaceObserver is the monitor surface listing listers drive: every
// response goes through Observe, exhausted navigation failures through
// ObserveError, and pagination polls Blocked between steps.
type SurfaceObserver interface {
	BlockObserver
	ObserveError(url string, err error)
	Blocked() bool
}

// ProviderRegistry resolves apply URLs to providers and providers to
// fetch capability. CapabilityFor returns nil for providers without a client.
type ProviderRegistry interface {
	Detect(rawURL string) Provider
	CapabilityFor(p Provider) FetchClient
	ExtractSlug(p Provider, rawURL string) string
}

// Governor enforces the minimum spacing between outbound requests.
type Governor interface {
	Wait(ctx context.Context) error
}

// RunStore persists run metadata and results.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	SaveResult(ctx context.Context, runID string, result PipelineResult) error
	GetRun(ctx context.Context, runID string) (Run, error)
	GetResult(ctx context.Context, runID string) (PipelineResult, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for runs.
type Queue interface {
	Enqueue(ctx context.Context, item RunItem) error
	Dequeue(ctx context.Context) (RunItem, error)
}

// Hasher computes digests for artifact naming and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
