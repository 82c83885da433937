package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/quill/api/schemas"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS execution_reports (
    run_id      TEXT PRIMARY KEY,
    target      TEXT NOT NULL,
    status      TEXT NOT NULL,
    started_at  TIMESTAMPTZ NOT NULL,
    duration_ms BIGINT NOT NULL,
    failure     JSONB,
    metadata    JSONB NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS candidates (
    run_id   TEXT NOT NULL REFERENCES execution_reports (run_id),
    position INTEGER NOT NULL,
    title    TEXT,
    url      TEXT,
    origin   TEXT,
    score    DOUBLE PRECISION NOT NULL,
    eligible BOOLEAN NOT NULL,
    counters JSONB NOT NULL DEFAULT '{}',
    PRIMARY KEY (run_id, position)
);`

const insertReportSQL = `
        INSERT INTO execution_reports (run_id, target, status, started_at, duration_ms, failure, metadata)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (run_id) DO NOTHING;
    `

const selectReportsSQL = `
        SELECT run_id, target, status, started_at, duration_ms, failure, metadata
        FROM execution_reports
        ORDER BY started_at DESC
        LIMIT $1;
    `

var candidateColumns = []string{"run_id", "position", "title", "url", "origin", "score", "eligible", "counters"}

// ReportSink appends execution reports and their ranked candidates to
// PostgreSQL. Reports are never updated once written.
type ReportSink struct {
	pool DBPool
	log  *zap.Logger
}

// Connect opens a pool for databaseURL and wraps it in a ReportSink. The
// returned close function releases the pool.
func Connect(ctx context.Context, databaseURL string, logger *zap.Logger) (*ReportSink, func(), error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	sink, err := NewReportSink(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return sink, pool.Close, nil
}

// NewReportSink creates a new sink and verifies the connection.
func NewReportSink(ctx context.Context, pool DBPool, logger *zap.Logger) (*ReportSink, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &ReportSink{
		pool: pool,
		log:  logger.Named("report_sink"),
	}, nil
}

// Migrate creates the report tables when they do not exist.
func (s *ReportSink) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create report schema: %w", err)
	}
	return nil
}

// PersistReport writes the report and its candidates in one transaction.
func (s *ReportSink) PersistReport(ctx context.Context, report schemas.ExecutionReport, candidates []schemas.ScoredCandidate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	failure, err := nullableJSON(report.Failure)
	if err != nil {
		return fmt.Errorf("failed to encode failure detail: %w", err)
	}
	metadata, err := objectJSON(report.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode report metadata: %w", err)
	}

	if _, err := tx.Exec(ctx, insertReportSQL,
		report.RunID, report.Target, string(report.Status),
		report.Timestamp.UTC(), report.Duration.Milliseconds(),
		failure, metadata,
	); err != nil {
		return fmt.Errorf("failed to insert execution report: %w", err)
	}

	if len(candidates) > 0 {
		if err := s.persistCandidates(ctx, tx, report.RunID, candidates); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Execution report persisted.", zap.String("run_id", report.RunID), zap.Int("candidates", len(candidates)))
	return nil
}

func (s *ReportSink) persistCandidates(ctx context.Context, tx pgx.Tx, runID string, candidates []schemas.ScoredCandidate) error {
	rows := make([][]any, len(candidates))
	for i, c := range candidates {
		counters, err := objectJSON(c.Record.Counters)
		if err != nil {
			return fmt.Errorf("failed to encode counters for candidate %d: %w", i, err)
		}
		rows[i] = []any{
			runID, i,
			c.Record.Title, c.Record.URL, c.Record.Origin,
			c.Score, c.Eligible, counters,
		}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"candidates"}, candidateColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy candidates: %w", err)
	}
	if int(copyCount) != len(candidates) {
		return fmt.Errorf("mismatch in copied candidates count: expected %d, got %d", len(candidates), copyCount)
	}
	return nil
}

// RecentReports returns up to limit reports, newest first.
func (s *ReportSink) RecentReports(ctx context.Context, limit int) ([]schemas.ExecutionReport, error) {
	rows, err := s.pool.Query(ctx, selectReportsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	defer rows.Close()

	var reports []schemas.ExecutionReport
	for rows.Next() {
		var (
			r          schemas.ExecutionReport
			status     string
			durationMS int64
			failure    []byte
			metadata   []byte
		)
		if err := rows.Scan(&r.RunID, &r.Target, &status, &r.Timestamp, &durationMS, &failure, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan report row: %w", err)
		}
		r.Status = schemas.RunStatus(status)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if len(failure) > 0 && string(failure) != "null" {
			r.Failure = &schemas.FailureDetail{}
			if err := json.Unmarshal(failure, r.Failure); err != nil {
				return nil, fmt.Errorf("failed to decode failure for run %s: %w", r.RunID, err)
			}
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata for run %s: %w", r.RunID, err)
			}
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return reports, nil
}

func nullableJSON(v *schemas.FailureDetail) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func objectJSON[M ~map[string]V, V any](m M) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
