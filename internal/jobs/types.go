// Package jobs defines core types shared across subsystems.
package jobs

import (
	"strings"
	"time"
)

// Origin says where a posting is ultimately hosted.
type Origin string

// Origin values persisted on the wire.
const (
	OriginATS    Origin = "ats"
	OriginNative Origin = "native"
)

// Source records which surface produced a posting instance.
type Source string

// Source values persisted on the wire.
const (
	SourceDiscovery Source = "discovery"
	SourceATSAPI    Source = "ats_api"
)

// Provider identifies an applicant tracking system behind an apply URL.
type Provider string

// Known providers, in registry detection order. Detection coverage is wider
// than fetch capability: some providers classify but have no API client.
const (
	ProviderWorkday         Provider = "workday"
	ProviderGreenhouse      Provider = "greenhouse"
	ProviderLever           Provider = "lever"
	ProviderICIMS           Provider = "icims"
	ProviderTaleo           Provider = "taleo"
	ProviderBambooHR        Provider = "bamboohr"
	ProviderJobvite         Provider = "jobvite"
	ProviderSmartRecruiters Provider = "smartrecruiters"
	ProviderAshby           Provider = "ashby"
	ProviderUnknown         Provider = "unknown"
)

// BlockReason classifies why the listing surface cut a run off.
type BlockReason string

// Block reasons persisted on the wire.
const (
	BlockLoginRequired BlockReason = "login_required"
	BlockCaptcha       BlockReason = "captcha_detected"
	BlockAuthwall      BlockReason = "authwall"
	BlockCheckpoint    BlockReason = "checkpoint"
	BlockRateLimited   BlockReason = "rate_limited"
	BlockNetworkError  BlockReason = "network_error"
)

// Posting is the normalized unit of output. The JSON field names are the
// stable wire contract and round-trip losslessly.
type Posting struct {
	ID               string     `json:"job_id"`
	Title            string     `json:"title"`
	Company          string     `json:"company_name"`
	Location         string     `json:"location,omitempty"`
	ApplyURL         string     `json:"apply_url,omitempty"`
	Provider         Provider   `json:"provider"`
	Origin           Origin     `json:"origin"`
	Source           Source     `json:"source"`
	SourceURL        string     `json:"source_url"`
	ExtractedAt      time.Time  `json:"extracted_at"`
	ExtractionMethod string     `json:"extraction_method"`
	PostedAt         *time.Time `json:"posted_at,omitempty"`
}

// DedupKey identifies a posting across sources: lowercased company plus the
// provider-native job ID. No further normalization happens here.
func (p Posting) DedupKey() string {
	return strings.ToLower(p.Company) + ":" + p.ID
}

// CompanyKey normalizes a company name for grouping and map keys.
func CompanyKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Candidate is a raw discovery-time item before normalization.
type Candidate struct {
	ID               string
	Title            string
	Company          string
	Location         string
	SourceURL        string
	ApplyURL         string
	ExternalApply    bool
	ExtractionMethod string
}

// Query drives one discovery search.
type Query struct {
	Keywords string
	Location string
	Limit    int
}

// FetchRequest captures everything an ATS client needs for one company.
type FetchRequest struct {
	Company string
	Slug    string
	BaseURL string
	Limit   int
}

// RunState is the shared run health snapshot owned by the orchestrator.
// is_blocked flips false to true at most once per run and never back;
// block_reason is written exactly once by the block monitor callback;
// counters never decrease and errors is append-only.
type RunState struct {
	IsBlocked         bool         `json:"is_blocked"`
	BlockReason       *BlockReason `json:"block_reason,omitempty"`
	PostingsCollected int          `json:"postings_collected"`
	RequestsMade      int64        `json:"requests_made"`
	Errors            []string     `json:"errors"`
}

// Clone returns a deep copy safe to hand to callers.
func (s RunState) Clone() RunState {
	cp := s
	cp.Errors = append([]string(nil), s.Errors...)
	if s.BlockReason != nil {
		reason := *s.BlockReason
		cp.BlockReason = &reason
	}
	return cp
}

// ProviderInfo records a successful ATS reconciliation for one company.
// It is written once per company per run; the first success wins.
type ProviderInfo struct {
	Company      string    `json:"company_name"`
	Provider     Provider  `json:"provider"`
	BaseURL      string    `json:"base_url,omitempty"`
	PostingCount int       `json:"posting_count"`
	FetchedAt    time.Time `json:"fetched_at"`
}

// PipelineResult is the terminal artifact of one pipeline run.
type PipelineResult struct {
	Postings          []Posting               `json:"postings"`
	ProviderCompanies map[string]ProviderInfo `json:"provider_companies"`
	NativeCompanies   []string                `json:"native_companies"`
	RunState          RunState                `json:"run_state"`
	Errors            []string                `json:"errors"`
	CompletedAt       time.Time               `json:"completed_at"`
}

// RunStatus represents the lifecycle state of a submitted run.
type RunStatus string

// Run status values persisted in the run store.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCanceled  RunStatus = "canceled"
)

// RunParameters captures per-run knobs requested by the client.
type RunParameters struct {
	Keywords         string            `json:"keywords"`
	Location         string            `json:"location"`
	MaxPostings      int               `json:"max_postings" mapstructure:"max_postings"`
	MaxPerCompany    int               `json:"max_per_company" mapstructure:"max_per_company"`
	FetchATS         bool              `json:"fetch_ats" mapstructure:"fetch_ats"`
	FetchATSProvided bool              `json:"-" mapstructure:"fetch_ats_provided"`
	Headless         bool              `json:"headless" mapstructure:"headless"`
	HeadlessProvided bool              `json:"-" mapstructure:"headless_provided"`
	Tags             map[string]string `json:"tags"`
}

// Run represents the metadata persisted for each submitted run.
type Run struct {
	ID         string        `json:"id"`
	Status     RunStatus     `json:"status"`
	Submitted  time.Time     `json:"submitted_at"`
	Started    *time.Time    `json:"started_at,omitempty"`
	Finished   *time.Time    `json:"finished_at,omitempty"`
	ErrorText  string        `json:"error_text,omitempty"`
	Parameters RunParameters `json:"parameters"`
	Counters   RunCounters   `json:"counters"`
}

// RunCounters tracks the headline stats per run.
type RunCounters struct {
	Postings          int   `json:"postings"`
	ProviderCompanies int   `json:"provider_companies"`
	NativeCompanies   int   `json:"native_companies"`
	Requests          int64 `json:"requests"`
	Errors            int   `json:"errors"`
}

// RunItem wraps a run ready to execute.
type RunItem struct {
	RunID     string
	Params    RunParameters
	Attempt   int
	Submitted int64
}
