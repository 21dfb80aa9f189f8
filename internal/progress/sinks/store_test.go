package sinks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hireworks/jobsift/internal/progress"
	"github.com/hireworks/jobsift/internal/store"
)

type startCall struct {
	runID     uuid.UUID
	startedAt time.Time
}

type finishCall struct {
	runID      uuid.UUID
	finishedAt time.Time
	status     store.RunStatus
	errMsg     *string
}

type upsertCall struct {
	runID    uuid.UUID
	company  string
	provider string
	postings int64
	outcome  string
	at       time.Time
}

type fakeRunRepo struct {
	starts   []startCall
	finishes []finishCall
	upserts  []upsertCall

	startErr  error
	upsertErr error
}

func (r *fakeRunRepo) StartRun(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	if r.startErr != nil {
		return r.startErr
	}
	r.starts = append(r.starts, startCall{runID: runID, startedAt: startedAt})
	return nil
}

func (r *fakeRunRepo) FinishRun(_ context.Context, runID uuid.UUID, finishedAt time.Time, status store.RunStatus, errMsg *string) error {
	r.finishes = append(r.finishes, finishCall{runID: runID, finishedAt: finishedAt, status: status, errMsg: errMsg})
	return nil
}

func (r *fakeRunRepo) UpsertCompanyStats(_ context.Context, runID uuid.UUID, company, provider string, deltaPostings int64, outcome string, at time.Time) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.upserts = append(r.upserts, upsertCall{
		runID:    runID,
		company:  company,
		provider: provider,
		postings: deltaPostings,
		outcome:  outcome,
		at:       at,
	})
	return nil
}

func (r *fakeRunRepo) GetRun(context.Context, uuid.UUID) (store.RunRow, error) {
	return store.RunRow{}, store.ErrNotFound
}

func (r *fakeRunRepo) ListRuns(context.Context, *store.RunStatus, int, int) ([]store.RunRow, error) {
	return nil, nil
}

func (r *fakeRunRepo) ListRunCompanies(context.Context, uuid.UUID, int, int) ([]store.CompanyStats, error) {
	return nil, nil
}

func TestStoreSinkRunLifecycle(t *testing.T) {
	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)

	runID := uuid.New()
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	batch := []progress.Event{
		{RunID: progress.UUIDToBytes(runID), TS: started, Stage: progress.StageRunStart},
		{RunID: progress.UUIDToBytes(runID), TS: finished, Stage: progress.StageRunDone},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.starts, 1)
	assert.Equal(t, runID, repo.starts[0].runID)
	assert.Equal(t, started, repo.starts[0].startedAt)

	require.Len(t, repo.finishes, 1)
	assert.Equal(t, store.RunSuccess, repo.finishes[0].status)
	assert.Nil(t, repo.finishes[0].errMsg)
}

func TestStoreSinkRunErrorCarriesNote(t *testing.T) {
	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)

	runID := uuid.New()
	batch := []progress.Event{{
		RunID: progress.UUIDToBytes(runID),
		TS:    time.Now().UTC(),
		Stage: progress.StageRunError,
		Note:  "no postings were collected",
	}}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Len(t, repo.finishes, 1)
	assert.Equal(t, store.RunError, repo.finishes[0].status)
	require.NotNil(t, repo.finishes[0].errMsg)
	assert.Equal(t, "no postings were collected", *repo.finishes[0].errMsg)
}

func TestStoreSinkCollapsesCompanyDeltas(t *testing.T) {
	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)

	runID := uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	batch := []progress.Event{
		{
			RunID: progress.UUIDToBytes(runID), TS: t0,
			Stage: progress.StageFetchDone, Company: "acme",
			Provider: "greenhouse", Outcome: progress.OutcomeOK, Postings: 4,
		},
		{
			RunID: progress.UUIDToBytes(runID), TS: t0.Add(time.Second),
			Stage: progress.StageFetchDone, Company: "acme",
			Provider: "greenhouse", Outcome: progress.OutcomeOK, Postings: 3,
		},
		{
			RunID: progress.UUIDToBytes(runID), TS: t0.Add(2 * time.Second),
			Stage: progress.StageFetchDone, Company: "globex",
			Outcome: progress.OutcomeSkipped,
		},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Len(t, repo.upserts, 2)

	byCompany := make(map[string]upsertCall, len(repo.upserts))
	for _, call := range repo.upserts {
		byCompany[call.company] = call
	}

	acme := byCompany["acme"]
	assert.Equal(t, runID, acme.runID)
	assert.Equal(t, "greenhouse", acme.provider)
	assert.Equal(t, int64(7), acme.postings)
	assert.Equal(t, string(progress.OutcomeOK), acme.outcome)
	assert.Equal(t, t0.Add(time.Second), acme.at)

	globex := byCompany["globex"]
	assert.Equal(t, string(progress.OutcomeSkipped), globex.outcome)
	assert.Equal(t, int64(0), globex.postings)
}

func TestStoreSinkPropagatesRepoErrors(t *testing.T) {
	runID := uuid.New()

	repo := &fakeRunRepo{startErr: errors.New("connection refused")}
	sink := NewStoreSink(repo, nil)
	err := sink.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(runID), TS: time.Now().UTC(), Stage: progress.StageRunStart,
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start run")

	repo = &fakeRunRepo{upsertErr: errors.New("deadlock detected")}
	sink = NewStoreSink(repo, nil)
	err = sink.Consume(context.Background(), []progress.Event{{
		RunID: progress.UUIDToBytes(runID), TS: time.Now().UTC(),
		Stage: progress.StageFetchDone, Company: "acme", Outcome: progress.OutcomeOK,
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert company stats")
}

func TestStoreSinkIgnoresNonPersistedStages(t *testing.T) {
	repo := &fakeRunRepo{}
	sink := NewStoreSink(repo, nil)

	runID := uuid.New()
	batch := []progress.Event{
		{RunID: progress.UUIDToBytes(runID), TS: time.Now().UTC(), Stage: progress.StageRunHB},
		{RunID: progress.UUIDToBytes(runID), TS: time.Now().UTC(), Stage: progress.StageBlocked, Reason: "http_403"},
		{RunID: progress.UUIDToBytes(runID), TS: time.Now().UTC(), Stage: progress.StageFetchStart, Company: "acme"},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	assert.Empty(t, repo.starts)
	assert.Empty(t, repo.finishes)
	assert.Empty(t, repo.upserts)
}
