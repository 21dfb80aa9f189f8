package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/progress"
	"github.com/hireworks/jobsift/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. It batches
// company-level counters to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses company deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors verbatim.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart, progress.StageRunDone, progress.StageRunError:
			if err := s.handleRunEvent(ctx, runID, evt); err != nil {
				return err
			}
		case progress.StageFetchDone:
			s.recordCompanyStats(stats, runID, evt)
		}
	}

	for key, delta := range stats {
		if err := s.repo.UpsertCompanyStats(
			ctx,
			key.runID,
			key.company,
			delta.provider,
			delta.postings,
			key.outcome,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert company stats: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) handleRunEvent(ctx context.Context, runID uuid.UUID, evt progress.Event) error {
	switch evt.Stage {
	case progress.StageRunStart:
		if err := s.repo.StartRun(ctx, runID, evt.TS); err != nil {
			return fmt.Errorf("start run: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.FinishRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
	}
	return nil
}

func (s *StoreSink) recordCompanyStats(stats map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Company == "" {
		return
	}
	key := statsKey{
		runID:   runID,
		company: evt.Company,
		outcome: string(evt.Outcome),
	}
	stat := stats[key]
	if stat == nil {
		stat = &statsDelta{}
		stats[key] = stat
	}
	stat.postings += evt.Postings
	if stat.provider == "" {
		stat.provider = evt.Provider
	}
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID   uuid.UUID
	company string
	outcome string
}

type statsDelta struct {
	provider string
	postings int64
	at       time.Time
}
