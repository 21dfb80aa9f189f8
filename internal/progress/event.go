// Package progress defines the event structures emitted by the ingestion
// workers and orchestrators.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart   Stage = "RUN_START"
	StageRunHB      Stage = "RUN_HEARTBEAT"
	StageRunDone    Stage = "RUN_DONE"
	StageRunError   Stage = "RUN_ERROR"
	StageFetchStart Stage = "FETCH_START"
	StageFetchDone  Stage = "FETCH_DONE"
	StageBlocked    Stage = "BLOCKED"
)

// Outcome is the coarse result of one company's ATS fetch.
type Outcome string

// Supported fetch outcomes. Skipped covers unresolved providers (no client
// or no slug); Empty is a zero-posting fetch, which the pipeline treats the
// same as an error.
const (
	OutcomeOK      Outcome = "ok"
	OutcomeEmpty   Outcome = "empty"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// Event captures a single milestone of ingestion progress.
type Event struct {
	// RunID uniquely identifies a run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Company scopes fetch events to a company key.
	Company string
	// Provider labels fetch events with the ATS behind the company.
	Provider string
	// Outcome carries the fetch result for FETCH_DONE events.
	Outcome Outcome
	// Reason carries the block reason for BLOCKED events.
	Reason string
	// Postings is the posting count delta for the event.
	Postings int64
	// Requests carries the run's request total on lifecycle events.
	Requests int64
	// Dur captures execution latency for fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunHB, StageRunDone, StageRunError:
	case StageBlocked:
		if e.Reason == "" {
			return errors.New("blocked event requires reason")
		}
	case StageFetchStart:
		if e.Company == "" {
			return errors.New("fetch start requires company")
		}
	case StageFetchDone:
		if e.Company == "" {
			return errors.New("fetch done requires company")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for repositories.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
