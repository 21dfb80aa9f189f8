// Package pipeline orchestrates one ingestion run: discovery, origin
// classification, per-company ATS reconciliation, and final aggregation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hireworks/jobsift/internal/ats"
	"github.com/hireworks/jobsift/internal/dedup"
	"github.com/hireworks/jobsift/internal/jobs"
	"github.com/hireworks/jobsift/internal/progress"
)

// Monitor is the run-scoped block monitor surface the orchestrator drives.
// *block.Monitor satisfies it.
type Monitor interface {
	OnBlock(func(jobs.BlockReason))
	Blocked() bool
	Reason() (jobs.BlockReason, bool)
	Requests() int64
	Reset()
}

// Config carries the collaborator set for one orchestrator. One orchestrator
// serves one worker; runs execute serially on it. Browser is the
// script-rendering lister used when a run asks for headless discovery; it
// may be nil when the deployment has no browser available.
type Config struct {
	Lister   jobs.Lister
	Browser  jobs.Lister
	Registry jobs.ProviderRegistry
	Monitor  Monitor
	Governor jobs.Governor
	Clock    jobs.Clock
	Emitter  progress.Emitter
	Logger   *zap.Logger
}

// Orchestrator owns the run lifecycle and the result snapshot. The block
// monitor writes into run state only through the callback registered here;
// every phase polls the blocked flag at its checkpoints instead of being
// interrupted.
type Orchestrator struct {
	lister   jobs.Lister
	browser  jobs.Lister
	registry jobs.ProviderRegistry
	monitor  Monitor
	governor jobs.Governor
	clock    jobs.Clock
	emitter  progress.Emitter
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Lister == nil {
		return nil, errors.New("pipeline: lister is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("pipeline: provider registry is required")
	}
	if cfg.Monitor == nil {
		return nil, errors.New("pipeline: block monitor is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("pipeline: clock is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		lister:   cfg.Lister,
		browser:  cfg.Browser,
		registry: cfg.Registry,
		monitor:  cfg.Monitor,
		governor: cfg.Governor,
		clock:    cfg.Clock,
		emitter:  cfg.Emitter,
		logger:   logger,
	}, nil
}

// candidate pairs a discovery item with the classification computed the
// moment its apply URL was known. Origin is never re-evaluated later, even
// if ATS-side data obtained afterwards would contradict it.
type candidate struct {
	posting  jobs.Posting
	provider jobs.Provider
	applyURL string
}

// group collects one company's ATS-bound candidates in discovery order. The
// first candidate is the representative: its provider and apply URL drive
// the fetch.
type group struct {
	key        string
	company    string
	provider   jobs.Provider
	applyURL   string
	candidates []candidate
}

// runState is the single shared mutable object of a run. The monitor
// callback writes the block fields from whatever goroutine observed the
// wall, so every access goes through the mutex.
type runState struct {
	mu    sync.Mutex
	state jobs.RunState
}

func (r *runState) block(reason jobs.BlockReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.IsBlocked {
		return
	}
	r.state.IsBlocked = true
	rsn := reason
	r.state.BlockReason = &rsn
	r.state.Errors = append(r.state.Errors, fmt.Sprintf("blocked: %s", reason))
}

func (r *runState) appendError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Errors = append(r.state.Errors, msg)
}

func (r *runState) snapshot() jobs.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.Clone()
}

// Run executes the full phase sequence and returns the terminal snapshot.
// An error comes back only for pre-flight failures; a degraded run (blocked,
// partial, fetch failures) still yields a result, and any yielded result is
// internally consistent: every counted posting is present and every failure
// is recorded.
func (o *Orchestrator) Run(ctx context.Context, runID string, params jobs.RunParameters) (*jobs.PipelineResult, error) {
	if params.Keywords == "" {
		return nil, errors.New("pipeline: keywords are required")
	}

	state := &runState{}
	o.monitor.Reset()
	o.monitor.OnBlock(func(reason jobs.BlockReason) {
		state.block(reason)
		o.logger.Warn("run blocked",
			zap.String("run_id", runID),
			zap.String("reason", string(reason)),
		)
		o.emit(runID, progress.Event{
			Stage:  progress.StageBlocked,
			Reason: string(reason),
		})
	})

	index := dedup.NewIndex()

	candidates := o.discover(ctx, params, state)
	groups, native := o.classify(candidates, index)
	infos := o.fetchATS(ctx, runID, params, groups, index, state)

	return o.aggregate(index, native, infos, state), nil
}

// discover streams candidates off the listing surface, classifying each one
// as it arrives. Consumption stops at the run cap, on context end, and at
// the first blocked poll; items already yielded are always retained.
func (o *Orchestrator) discover(ctx context.Context, params jobs.RunParameters, state *runState) []candidate {
	maxPostings := params.MaxPostings
	if maxPostings <= 0 {
		maxPostings = 100
	}
	var out []candidate
	err := o.selectLister(params).Search(ctx, jobs.Query{
		Keywords: params.Keywords,
		Location: params.Location,
		Limit:    maxPostings,
	}, func(c jobs.Candidate) bool {
		out = append(out, o.classifyCandidate(c))
		if len(out) >= maxPostings {
			return false
		}
		return !o.monitor.Blocked()
	})
	if err != nil && ctx.Err() == nil {
		state.appendError(fmt.Sprintf("discovery: %v", err))
		o.logger.Warn("discovery ended with error", zap.Error(err), zap.Int("candidates", len(out)))
	}
	return out
}

// selectLister honors the run's headless toggle. A run asking for browser
// discovery on a deployment without one degrades to the static lister.
func (o *Orchestrator) selectLister(params jobs.RunParameters) jobs.Lister {
	if !params.Headless {
		return o.lister
	}
	if o.browser == nil {
		o.logger.Warn("headless discovery requested but no browser lister is available")
		return o.lister
	}
	return o.browser
}

// classifyCandidate computes provider and origin exactly once, at discovery
// time.
func (o *Orchestrator) classifyCandidate(c jobs.Candidate) candidate {
	provider := jobs.ProviderUnknown
	if c.ApplyURL != "" {
		provider = o.registry.Detect(c.ApplyURL)
	}
	origin := jobs.ClassifyOrigin(c.ExternalApply, provider)
	return candidate{
		posting: jobs.Posting{
			ID:               c.ID,
			Title:            c.Title,
			Company:          c.Company,
			Location:         c.Location,
			ApplyURL:         c.ApplyURL,
			Provider:         provider,
			Origin:           origin,
			Source:           jobs.SourceDiscovery,
			SourceURL:        c.SourceURL,
			ExtractedAt:      o.clock.Now(),
			ExtractionMethod: c.ExtractionMethod,
		},
		provider: provider,
		applyURL: c.ApplyURL,
	}
}

// classify partitions candidates by company key in first-appearance order.
// Native postings enter the result immediately; ATS-bound ones wait for the
// fetch phase.
func (o *Orchestrator) classify(candidates []candidate, index *dedup.Index) ([]*group, []string) {
	groups := make(map[string]*group)
	var order []*group
	var native []string
	nativeSeen := make(map[string]struct{})

	for _, c := range candidates {
		key := jobs.CompanyKey(c.posting.Company)
		if c.posting.Origin == jobs.OriginNative {
			index.Add(c.posting)
			if _, ok := nativeSeen[key]; !ok && key != "" {
				nativeSeen[key] = struct{}{}
				native = append(native, key)
			}
			continue
		}
		g, ok := groups[key]
		if !ok {
			g = &group{
				key:      key,
				company:  c.posting.Company,
				provider: c.provider,
				applyURL: c.applyURL,
			}
			groups[key] = g
			order = append(order, g)
		}
		g.candidates = append(g.candidates, c)
	}
	return order, native
}

// fetchATS reconciles each company group against its provider API, one
// company at a time in discovery order. Every exit path keeps the group's
// discovery candidates in the result: nothing is silently dropped.
func (o *Orchestrator) fetchATS(
	ctx context.Context,
	runID string,
	params jobs.RunParameters,
	groups []*group,
	index *dedup.Index,
	state *runState,
) map[string]jobs.ProviderInfo {
	providerInfos := make(map[string]jobs.ProviderInfo)

	if !params.FetchATS || o.monitor.Blocked() {
		for _, g := range groups {
			o.fallback(g, index)
		}
		return providerInfos
	}

	maxPerCompany := params.MaxPerCompany
	if maxPerCompany <= 0 {
		maxPerCompany = 50
	}
	canceled := false
	for _, g := range groups {
		if canceled || o.monitor.Blocked() {
			o.fallback(g, index)
			continue
		}
		if _, done := providerInfos[g.key]; done {
			continue
		}
		o.fetchCompany(ctx, runID, g, maxPerCompany, index, state, providerInfos)
		if ctx.Err() != nil && !canceled {
			canceled = true
			state.appendError(fmt.Sprintf("run interrupted: %v", ctx.Err()))
		}
	}
	return providerInfos
}

// fetchCompany runs one company's provider fetch with the candidate
// fallback semantics: unresolved providers are an informational skip, fetch
// errors and empty fetches are recorded failures, and only a non-empty
// fetch marks the company processed.
func (o *Orchestrator) fetchCompany(
	ctx context.Context,
	runID string,
	g *group,
	maxPerCompany int,
	index *dedup.Index,
	state *runState,
	providerInfos map[string]jobs.ProviderInfo,
) {
	logger := o.logger.With(
		zap.String("company", g.company),
		zap.String("provider", string(g.provider)),
	)

	client := o.registry.CapabilityFor(g.provider)
	slug := o.registry.ExtractSlug(g.provider, g.applyURL)
	if client == nil || slug == "" {
		logger.Info("provider unresolved, keeping discovery postings",
			zap.Bool("has_client", client != nil),
			zap.String("slug", slug),
		)
		o.emitFetch(runID, g, progress.OutcomeSkipped, 0, 0)
		o.fallback(g, index)
		return
	}

	if o.governor != nil {
		if err := o.governor.Wait(ctx); err != nil {
			o.fallback(g, index)
			return
		}
	}

	o.emit(runID, progress.Event{
		Stage:    progress.StageFetchStart,
		Company:  g.key,
		Provider: string(g.provider),
	})
	started := o.clock.Now()

	// Discovery-time instances win key collisions regardless of which
	// side arrived at the index first.
	discByKey := make(map[string]jobs.Posting, len(g.candidates))
	for _, c := range g.candidates {
		discByKey[c.posting.DedupKey()] = c.posting
	}

	fetched := 0
	err := client.Fetch(ctx, jobs.FetchRequest{
		Company: g.company,
		Slug:    slug,
		BaseURL: ats.CareerBaseURL(g.applyURL),
		Limit:   maxPerCompany,
	}, func(p jobs.Posting) bool {
		fetched++
		if disc, ok := discByKey[p.DedupKey()]; ok {
			index.Add(disc)
		} else {
			index.Add(p)
		}
		if fetched >= maxPerCompany {
			return false
		}
		return !o.monitor.Blocked()
	})
	dur := o.clock.Now().Sub(started)

	switch {
	case err != nil:
		state.appendError(fmt.Sprintf("fetch %s (%s): %v", g.company, g.provider, err))
		logger.Warn("ats fetch failed, keeping discovery postings", zap.Error(err))
		o.emitFetch(runID, g, progress.OutcomeError, int64(fetched), dur)
		o.fallback(g, index)
	case fetched == 0:
		state.appendError(fmt.Sprintf("fetch %s (%s): no postings returned", g.company, g.provider))
		logger.Warn("ats fetch returned nothing, keeping discovery postings")
		o.emitFetch(runID, g, progress.OutcomeEmpty, 0, dur)
		o.fallback(g, index)
	default:
		if _, exists := providerInfos[g.key]; !exists {
			providerInfos[g.key] = jobs.ProviderInfo{
				Company:      g.company,
				Provider:     g.provider,
				BaseURL:      ats.CareerBaseURL(g.applyURL),
				PostingCount: fetched,
				FetchedAt:    o.clock.Now(),
			}
		}
		logger.Info("ats fetch reconciled", zap.Int("postings", fetched))
		o.emitFetch(runID, g, progress.OutcomeOK, int64(fetched), dur)
	}
}

// fallback adds a group's discovery candidates to the result. Duplicate
// keys are no-ops, so calling it after a partial fetch is safe.
func (o *Orchestrator) fallback(g *group, index *dedup.Index) {
	for _, c := range g.candidates {
		index.Add(c.posting)
	}
}

// aggregate builds the terminal snapshot. Distribution math is left to
// callers; this only freezes what the run produced.
func (o *Orchestrator) aggregate(index *dedup.Index, native []string, infos map[string]jobs.ProviderInfo, state *runState) *jobs.PipelineResult {
	state.mu.Lock()
	state.state.PostingsCollected = index.Len()
	state.state.RequestsMade = o.monitor.Requests()
	state.mu.Unlock()

	snapshot := state.snapshot()
	if infos == nil {
		infos = make(map[string]jobs.ProviderInfo)
	}
	return &jobs.PipelineResult{
		Postings:          index.Postings(),
		ProviderCompanies: infos,
		NativeCompanies:   append([]string(nil), native...),
		RunState:          snapshot,
		Errors:            append([]string(nil), snapshot.Errors...),
		CompletedAt:       o.clock.Now(),
	}
}

func (o *Orchestrator) emit(runID string, evt progress.Event) {
	if o.emitter == nil {
		return
	}
	id, err := uuid.Parse(runID)
	if err != nil {
		return
	}
	evt.RunID = progress.UUIDToBytes(id)
	evt.TS = o.clock.Now()
	o.emitter.Emit(evt)
}

func (o *Orchestrator) emitFetch(runID string, g *group, outcome progress.Outcome, postings int64, dur time.Duration) {
	o.emit(runID, progress.Event{
		Stage:    progress.StageFetchDone,
		Company:  g.key,
		Provider: string(g.provider),
		Outcome:  outcome,
		Postings: postings,
		Dur:      dur,
	})
}
