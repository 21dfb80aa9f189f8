// Package report builds and persists the terminal artifact of an ingestion
// run: the full posting corpus plus the distributions and run health a
// reader needs to judge partial results.
package report

import (
	"time"

	"github.com/hireworks/jobsift/internal/jobs"
)

// Report is the persisted JSON artifact for one run. Posting objects inside
// it carry the stable wire field names.
type Report struct {
	RunID             string                       `json:"run_id"`
	GeneratedAt       time.Time                    `json:"generated_at"`
	CompletedAt       time.Time                    `json:"completed_at"`
	TotalPostings     int                          `json:"total_postings"`
	Blocked           bool                         `json:"blocked"`
	BlockReason       string                       `json:"block_reason,omitempty"`
	RequestsMade      int64                        `json:"requests_made"`
	ByProvider        map[string]int               `json:"by_provider"`
	ByOrigin          map[string]int               `json:"by_origin"`
	ProviderCompanies map[string]jobs.ProviderInfo `json:"provider_companies"`
	NativeCompanies   []string                     `json:"native_companies"`
	Errors            []string                     `json:"errors"`
	Postings          []jobs.Posting               `json:"postings"`
}

// Build computes the distributions the orchestrator deliberately leaves to
// callers and freezes the result into a Report.
func Build(runID string, result *jobs.PipelineResult, generatedAt time.Time) Report {
	r := Report{
		RunID:             runID,
		GeneratedAt:       generatedAt,
		ByProvider:        make(map[string]int),
		ByOrigin:          make(map[string]int),
		ProviderCompanies: make(map[string]jobs.ProviderInfo),
		Errors:            []string{},
		NativeCompanies:   []string{},
		Postings:          []jobs.Posting{},
	}
	if result == nil {
		return r
	}
	r.CompletedAt = result.CompletedAt
	r.TotalPostings = len(result.Postings)
	r.Blocked = result.RunState.IsBlocked
	if result.RunState.BlockReason != nil {
		r.BlockReason = string(*result.RunState.BlockReason)
	}
	r.RequestsMade = result.RunState.RequestsMade
	r.Errors = append(r.Errors, result.Errors...)
	r.NativeCompanies = append(r.NativeCompanies, result.NativeCompanies...)
	for key, info := range result.ProviderCompanies {
		r.ProviderCompanies[key] = info
	}
	for _, p := range result.Postings {
		r.ByProvider[string(p.Provider)]++
		r.ByOrigin[string(p.Origin)]++
	}
	r.Postings = append(r.Postings, result.Postings...)
	return r
}
