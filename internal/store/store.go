// Package store persists run summaries to PostgreSQL. Persistence is
// optional; the run command only builds a Store when database.url is
// configured, and the report command reads stored runs back to
// regenerate their report files.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/kei1-dev/terakoya-invoicer/internal/reporting"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrRunNotFound is returned by GetRun when no run with the given ID
// has been saved.
var ErrRunNotFound = errors.New("run not found")

// defaultListLimit bounds ListRuns when the caller passes no limit.
const defaultListLimit = 20

// DBPool abstracts the pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ddl is applied statement by statement; pgx's extended protocol does
// not accept multi-command strings.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS runs (
        id            TEXT PRIMARY KEY,
        created_at    TIMESTAMPTZ NOT NULL,
        target_month  TEXT NOT NULL,
        dry_run       BOOLEAN NOT NULL,
        submitted     BOOLEAN NOT NULL,
        total_lessons INTEGER NOT NULL,
        existing      INTEGER NOT NULL,
        added         INTEGER NOT NULL,
        skipped       INTEGER NOT NULL,
        failed        INTEGER NOT NULL,
        summary       JSONB NOT NULL
    );`,
	`CREATE INDEX IF NOT EXISTS runs_target_month_idx ON runs (target_month);`,
}

// RunMeta is the lightweight listing row: everything about a run except
// the full summary payload.
type RunMeta struct {
	RunID       string
	CreatedAt   time.Time
	TargetMonth string
	DryRun      bool
	Submitted   bool
	Totals      reporting.Totals
}

// Store provides the PostgreSQL run history.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New verifies the connection and ensures the runs table exists.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to ensure runs schema: %w", err)
		}
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

const sqlUpsertRun = `
    INSERT INTO runs (id, created_at, target_month, dry_run, submitted,
                      total_lessons, existing, added, skipped, failed, summary)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
    ON CONFLICT (id) DO UPDATE SET
        submitted     = EXCLUDED.submitted,
        total_lessons = EXCLUDED.total_lessons,
        existing      = EXCLUDED.existing,
        added         = EXCLUDED.added,
        skipped       = EXCLUDED.skipped,
        failed        = EXCLUDED.failed,
        summary       = EXCLUDED.summary;
`

// SaveRun upserts one run. Saving the same run ID again overwrites the
// stored counters and payload, which keeps a rerun after a transient
// database failure from erroring out.
func (s *Store) SaveRun(ctx context.Context, summary *reporting.RunSummary) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}

	_, err = s.pool.Exec(ctx, sqlUpsertRun,
		summary.RunID, summary.ExecutedAt.UTC(), summary.TargetMonth,
		summary.DryRun, summary.Submitted,
		summary.Totals.Lessons, summary.Totals.Existing,
		summary.Totals.Added, summary.Totals.Skipped, summary.Totals.Failed,
		payload,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", summary.RunID, err)
	}

	s.log.Info("Run saved",
		zap.String("run_id", summary.RunID),
		zap.String("target_month", summary.TargetMonth))
	return nil
}

const sqlSelectRun = `SELECT summary FROM runs WHERE id = $1;`

// GetRun loads the full summary for one run.
func (s *Store) GetRun(ctx context.Context, runID string) (*reporting.RunSummary, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, sqlSelectRun, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run %s: %w", runID, err)
	}

	var summary reporting.RunSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode run %s: %w", runID, err)
	}
	return &summary, nil
}

const sqlListRuns = `
    SELECT id, created_at, target_month, dry_run, submitted,
           total_lessons, existing, added, skipped, failed
    FROM runs
    ORDER BY created_at DESC
    LIMIT $1;
`

// ListRuns returns the most recent runs, newest first, without their
// summary payloads.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunMeta, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx, sqlListRuns, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var metas []RunMeta
	for rows.Next() {
		var m RunMeta
		err := rows.Scan(
			&m.RunID, &m.CreatedAt, &m.TargetMonth, &m.DryRun, &m.Submitted,
			&m.Totals.Lessons, &m.Totals.Existing,
			&m.Totals.Added, &m.Totals.Skipped, &m.Totals.Failed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		metas = append(metas, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return metas, nil
}
