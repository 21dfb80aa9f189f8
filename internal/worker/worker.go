// Package worker implements the run execution loop.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/jobs"
	"github.com/hireworks/jobsift/internal/progress"
	"github.com/hireworks/jobsift/internal/report"
	"github.com/hireworks/jobsift/internal/store"
)

// Runner executes one ingestion run end to end.
type Runner interface {
	Run(ctx context.Context, runID string, params jobs.RunParameters) (*jobs.PipelineResult, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic is the completion-event topic; empty disables publishing.
	Topic string
	// RunTimeout bounds a single run's wall clock. Zero means no limit.
	RunTimeout time.Duration
}

// Worker consumes queued runs and drives the pipeline, persisting results
// and artifacts as each run completes.
type Worker struct {
	queue     jobs.Queue
	runStore  jobs.RunStore
	runner    Runner
	reports   *report.Writer
	postings  store.PostingWriter
	publisher jobs.Publisher
	clock     jobs.Clock
	emitter   progress.Emitter
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. The posting writer, publisher, report writer and
// emitter are optional; everything else is required.
func New(
	queue jobs.Queue,
	runStore jobs.RunStore,
	runner Runner,
	reports *report.Writer,
	postings store.PostingWriter,
	publisher jobs.Publisher,
	clock jobs.Clock,
	emitter progress.Emitter,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		runStore:  runStore,
		runner:    runner,
		reports:   reports,
		postings:  postings,
		publisher: publisher,
		clock:     clock,
		emitter:   emitter,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queued runs until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.processRun(ctx, item)
	}
}

func (w *Worker) processRun(ctx context.Context, item jobs.RunItem) {
	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, jobs.RunStatusRunning, "", jobs.RunCounters{}); err != nil {
		w.logger.Error("mark run running failed", zap.String("run_id", item.RunID), zap.Error(err))
		return
	}
	w.emit(item.RunID, progress.Event{Stage: progress.StageRunStart})

	started := w.clock.Now()
	runCtx := ctx
	if w.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, w.cfg.RunTimeout)
		defer cancel()
	}

	result, err := w.runner.Run(runCtx, item.RunID, item.Params)
	elapsed := w.clock.Now().Sub(started)
	if err != nil {
		w.finishFailed(ctx, item.RunID, err, elapsed)
		return
	}

	if err := w.runStore.SaveResult(ctx, item.RunID, *result); err != nil {
		w.logger.Error("save result failed", zap.String("run_id", item.RunID), zap.Error(err))
	}
	w.persistPostings(ctx, item.RunID, result)
	reportURI := w.writeReport(ctx, item.RunID, result)
	w.publishCompletion(ctx, item.RunID, result, reportURI)

	status, errText := w.deriveFinalStatus(runCtx, result)
	counters := jobs.RunCounters{
		Postings:          len(result.Postings),
		ProviderCompanies: len(result.ProviderCompanies),
		NativeCompanies:   len(result.NativeCompanies),
		Requests:          result.RunState.RequestsMade,
		Errors:            len(result.Errors),
	}
	if err := w.runStore.UpdateRunStatus(ctx, item.RunID, status, errText, counters); err != nil {
		w.logger.Error("final run status update failed", zap.String("run_id", item.RunID), zap.Error(err))
	}

	evt := progress.Event{
		Stage:    progress.StageRunDone,
		Postings: int64(len(result.Postings)),
		Requests: result.RunState.RequestsMade,
		Dur:      elapsed,
	}
	if status != jobs.RunStatusSucceeded {
		evt.Stage = progress.StageRunError
		evt.Note = errText
	}
	w.emit(item.RunID, evt)

	w.logger.Info("run finished",
		zap.String("run_id", item.RunID),
		zap.String("status", string(status)),
		zap.Int("postings", len(result.Postings)),
		zap.Int64("requests", result.RunState.RequestsMade),
		zap.Duration("elapsed", elapsed),
	)
}

func (w *Worker) finishFailed(ctx context.Context, runID string, runErr error, elapsed time.Duration) {
	status := jobs.RunStatusFailed
	if ctx.Err() != nil {
		status = jobs.RunStatusCanceled
	}
	if err := w.runStore.UpdateRunStatus(ctx, runID, status, runErr.Error(), jobs.RunCounters{}); err != nil {
		w.logger.Error("failed run status update failed", zap.String("run_id", runID), zap.Error(err))
	}
	w.emit(runID, progress.Event{Stage: progress.StageRunError, Dur: elapsed, Note: runErr.Error()})
	w.logger.Error("run failed", zap.String("run_id", runID), zap.Error(runErr))
}

func (w *Worker) persistPostings(ctx context.Context, runID string, result *jobs.PipelineResult) {
	if w.postings == nil || len(result.Postings) == 0 {
		return
	}
	if err := w.postings.InsertPostings(ctx, runID, result.Postings); err != nil {
		w.logger.Error("persist postings failed", zap.String("run_id", runID), zap.Error(err))
	}
}

func (w *Worker) writeReport(ctx context.Context, runID string, result *jobs.PipelineResult) string {
	if w.reports == nil {
		return ""
	}
	rpt := report.Build(runID, result, w.clock.Now())
	uri, hash, err := w.reports.Write(ctx, rpt)
	if err != nil {
		w.logger.Error("write report failed", zap.String("run_id", runID), zap.Error(err))
		return ""
	}
	w.logger.Info("report written",
		zap.String("run_id", runID),
		zap.String("uri", uri),
		zap.String("hash", hash),
	)
	return uri
}

func (w *Worker) publishCompletion(ctx context.Context, runID string, result *jobs.PipelineResult, reportURI string) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	payload := map[string]any{
		"run_id":             runID,
		"postings":           len(result.Postings),
		"provider_companies": len(result.ProviderCompanies),
		"native_companies":   len(result.NativeCompanies),
		"blocked":            result.RunState.IsBlocked,
		"requests_made":      result.RunState.RequestsMade,
		"completed_at":       result.CompletedAt.Format(time.RFC3339),
	}
	if result.RunState.BlockReason != nil {
		payload["block_reason"] = string(*result.RunState.BlockReason)
	}
	if reportURI != "" {
		payload["report_uri"] = reportURI
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, payload); err != nil {
		w.logger.Error("publish completion failed", zap.String("run_id", runID), zap.Error(err))
	}
}

// deriveFinalStatus maps a completed pipeline result to a terminal run
// status. A blocked run that still collected postings counts as succeeded;
// the partial result is the product.
func (w *Worker) deriveFinalStatus(runCtx context.Context, result *jobs.PipelineResult) (jobs.RunStatus, string) {
	if runCtx.Err() != nil {
		return jobs.RunStatusCanceled, runCtx.Err().Error()
	}
	if len(result.Postings) == 0 {
		errText := "no postings were collected"
		if len(result.Errors) > 0 {
			errText = fmt.Sprintf("%s: %s", errText, result.Errors[0])
		}
		if result.RunState.BlockReason != nil {
			errText = fmt.Sprintf("%s (blocked: %s)", errText, *result.RunState.BlockReason)
		}
		return jobs.RunStatusFailed, errText
	}
	return jobs.RunStatusSucceeded, ""
}

func (w *Worker) emit(runID string, evt progress.Event) {
	if w.emitter == nil {
		return
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(id)
	evt.TS = w.clock.Now()
	w.emitter.Emit(evt)
}
