// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireworks/jobsift/internal/store"
)

// db is the narrow pool surface the repository needs; pgxmock stands in for
// it in tests.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// RunRepository implements store.RunRepository using Postgres.
type RunRepository struct {
	pool db
}

// NewRunRepository connects a pool and returns the repository.
func NewRunRepository(ctx context.Context, dsn string) (*RunRepository, error) {
	if dsn == "" {
		return nil, errors.New("database.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	return &RunRepository{pool: pool}, nil
}

// NewRunRepositoryWithPool constructs a repository from an existing pool
// (primarily for testing).
func NewRunRepositoryWithPool(pool db) (*RunRepository, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunRepository{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (r *RunRepository) Close() {
	if r == nil || r.pool == nil {
		return
	}
	r.pool.Close()
}

// StartRun inserts or idempotently updates a run's start time.
func (r *RunRepository) StartRun(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status
		WHERE runs.status <> EXCLUDED.status;
	`
	if _, err := r.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun marks a run completed with a status and optional error message.
func (r *RunRepository) FinishRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	if _, err := r.pool.Exec(ctx, query, finishedAt, status, errMsg, runID); err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// UpsertCompanyStats accumulates posting and fetch-outcome deltas for one
// (run, company) row, creating it on first sight.
func (r *RunRepository) UpsertCompanyStats(
	ctx context.Context,
	runID uuid.UUID,
	company string,
	provider string,
	deltaPostings int64,
	outcome string,
	at time.Time,
) error {
	var query string
	switch outcome {
	case "ok":
		query = `UPDATE run_company_stats SET postings = postings + $1,
			fetch_ok = fetch_ok + 1,
			last_update = $2
			WHERE run_id = $3 AND company = $4;`
	case "empty":
		query = `UPDATE run_company_stats SET postings = postings + $1,
			fetch_empty = fetch_empty + 1,
			last_update = $2
			WHERE run_id = $3 AND company = $4;`
	case "error":
		query = `UPDATE run_company_stats SET postings = postings + $1,
			fetch_error = fetch_error + 1,
			last_update = $2
			WHERE run_id = $3 AND company = $4;`
	case "skipped":
		query = `UPDATE run_company_stats SET postings = postings + $1,
			fetch_skipped = fetch_skipped + 1,
			last_update = $2
			WHERE run_id = $3 AND company = $4;`
	default:
		return fmt.Errorf("unknown fetch outcome: %s", outcome)
	}

	res, err := r.pool.Exec(ctx, query, deltaPostings, at, runID, company)
	if err != nil {
		return fmt.Errorf("update company stats: %w", err)
	}
	if res.RowsAffected() == 0 {
		var ok, empty, errCount, skipped int64
		switch outcome {
		case "ok":
			ok = 1
		case "empty":
			empty = 1
		case "error":
			errCount = 1
		case "skipped":
			skipped = 1
		}
		query = `
			INSERT INTO run_company_stats (run_id, company, provider, last_update, postings, fetch_ok, fetch_empty, fetch_error, fetch_skipped)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (run_id, company) DO NOTHING;
		`
		if _, err = r.pool.Exec(
			ctx,
			query,
			runID,
			company,
			provider,
			at,
			deltaPostings,
			ok,
			empty,
			errCount,
			skipped,
		); err != nil {
			return fmt.Errorf("insert company stats: %w", err)
		}
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (r *RunRepository) GetRun(ctx context.Context, runID uuid.UUID) (store.RunRow, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM runs
		WHERE id = $1;
	`
	var row store.RunRow
	err := r.pool.QueryRow(ctx, query, runID).Scan(
		&row.ID,
		&row.StartedAt,
		&row.FinishedAt,
		&row.Status,
		&row.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.RunRow{}, store.ErrNotFound
		}
		return store.RunRow{}, fmt.Errorf("get run: %w", err)
	}
	return row, nil
}

// ListRuns retrieves runs with optional status filtering, newest first.
func (r *RunRepository) ListRuns(
	ctx context.Context,
	status *store.RunStatus,
	limit,
	offset int,
) ([]store.RunRow, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := r.pool.Query(ctx, query, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []store.RunRow
	for rows.Next() {
		var row store.RunRow
		if err := rows.Scan(
			&row.ID,
			&row.StartedAt,
			&row.FinishedAt,
			&row.Status,
			&row.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		runs = append(runs, row)
	}
	return runs, nil
}

// ListRunCompanies retrieves aggregated company statistics for one run.
func (r *RunRepository) ListRunCompanies(
	ctx context.Context,
	runID uuid.UUID,
	limit,
	offset int,
) ([]store.CompanyStats, error) {
	query := `
		SELECT run_id, company, provider, last_update, postings, fetch_ok, fetch_empty, fetch_error, fetch_skipped
		FROM run_company_stats
		WHERE run_id = $1
		ORDER BY last_update DESC
		LIMIT $2 OFFSET $3;
	`
	rows, err := r.pool.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list run companies: %w", err)
	}
	defer rows.Close()

	var stats []store.CompanyStats
	for rows.Next() {
		var stat store.CompanyStats
		if err := rows.Scan(
			&stat.RunID,
			&stat.Company,
			&stat.Provider,
			&stat.LastUpdate,
			&stat.Postings,
			&stat.FetchOK,
			&stat.FetchEmpty,
			&stat.FetchError,
			&stat.FetchSkipped,
		); err != nil {
			return nil, fmt.Errorf("scan company stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	return stats, nil
}
