package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hireworks/jobsift/internal/jobs"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostingStoreConfig controls the Postgres connection pool used for posting
// rows.
type PostingStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostingStore writes a run's final posting corpus into Postgres.
type PostingStore struct {
	pool  execCloser
	table string
}

// NewPostingStore creates a Postgres-backed PostingStore using the provided
// config.
func NewPostingStore(ctx context.Context, cfg PostingStoreConfig) (*PostingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "postings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostingStore{pool: pool, table: table}, nil
}

// NewPostingStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewPostingStoreWithPool(pool execCloser, table string) (*PostingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "postings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PostingStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *PostingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// InsertPostings writes the run's postings. The (run_id, company, job_id)
// conflict target makes re-delivery of the same run idempotent.
func (s *PostingStore) InsertPostings(ctx context.Context, runID string, postings []jobs.Posting) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("posting store is not configured")
	}
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	job_id,
	title,
	company_name,
	location,
	apply_url,
	provider,
	origin,
	source,
	source_url,
	extracted_at,
	extraction_method,
	posted_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (run_id, company_name, job_id) DO NOTHING`, s.table)

	for _, p := range postings {
		if p.ID == "" {
			return fmt.Errorf("posting id is required")
		}
		args := []any{
			runID,
			p.ID,
			p.Title,
			jobs.CompanyKey(p.Company),
			p.Location,
			p.ApplyURL,
			string(p.Provider),
			string(p.Origin),
			string(p.Source),
			p.SourceURL,
			p.ExtractedAt,
			p.ExtractionMethod,
			p.PostedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("insert posting %s: %w", p.ID, err)
		}
	}
	return nil
}
