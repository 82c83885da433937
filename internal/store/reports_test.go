package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/quill/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func strPtr(s string) *string { return &s }

func newSink(t *testing.T, logger *zap.Logger) (*ReportSink, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing().WillReturnError(nil)
	sink, err := NewReportSink(context.Background(), mockPool, logger)
	require.NoError(t, err)
	return sink, mockPool
}

func TestNewReportSink(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewReportSink(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	sink, mockPool := newSink(t, zap.NewNop())
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS execution_reports").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, sink.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPersistReport(t *testing.T) {
	ctx := context.Background()
	report := schemas.ExecutionReport{
		RunID:     uuid.NewString(),
		Target:    "https://example.test/question/1",
		Timestamp: time.Now(),
		Duration:  1500 * time.Millisecond,
		Status:    schemas.StatusSuccess,
	}
	candidates := []schemas.ScoredCandidate{
		{Record: schemas.Record{Title: strPtr("B"), URL: strPtr("https://example.test/question/2")}, Score: 1100, Eligible: true},
		{Record: schemas.Record{Title: strPtr("A")}, Score: 115},
	}

	t.Run("should persist report and candidates without rollback errors", func(t *testing.T) {
		core, logs := observer.New(zapcore.ErrorLevel)
		sink, mockPool := newSink(t, zap.New(core))

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).
			WithArgs(report.RunID, report.Target, "success", pgxmock.AnyArg(), int64(1500), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"candidates"}, candidateColumns).
			WillReturnResult(2)
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, sink.PersistReport(ctx, report, candidates))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, logs.All(), "a rollback after commit is not an error")
	})

	t.Run("should skip the copy when there are no candidates", func(t *testing.T) {
		sink, mockPool := newSink(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, sink.PersistReport(ctx, report, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should roll back when the insert fails", func(t *testing.T) {
		sink, mockPool := newSink(t, zap.NewNop())
		insertErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).WillReturnError(insertErr)
		mockPool.ExpectRollback()

		err := sink.PersistReport(ctx, report, candidates)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should report a copy count mismatch", func(t *testing.T) {
		sink, mockPool := newSink(t, zap.NewNop())

		mockPool.ExpectBegin()
		mockPool.ExpectExec(flexibleSQLMatcher(insertReportSQL)).WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mockPool.ExpectCopyFrom(pgx.Identifier{"candidates"}, candidateColumns).
			WillReturnResult(1)
		mockPool.ExpectRollback()

		err := sink.PersistReport(ctx, report, candidates)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "mismatch in copied candidates count")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("should fail when the transaction cannot begin", func(t *testing.T) {
		sink, mockPool := newSink(t, zap.NewNop())
		beginErr := errors.New("connection reset")
		mockPool.ExpectBegin().WillReturnError(beginErr)

		err := sink.PersistReport(ctx, report, nil)
		assert.ErrorIs(t, err, beginErr)
	})
}

func TestRecentReports(t *testing.T) {
	sink, mockPool := newSink(t, zap.NewNop())
	now := time.Now().UTC()

	columns := []string{"run_id", "target", "status", "started_at", "duration_ms", "failure", "metadata"}
	rows := pgxmock.NewRows(columns).
		AddRow("run-2", "https://example.test/q/2", "failure", now, int64(2500),
			[]byte(`{"component":"session","detail":"authentication failed"}`), []byte(`{"query":"go"}`)).
		AddRow("run-1", "https://example.test/q/1", "success", now.Add(-time.Hour), int64(900), []byte(nil), []byte(`{}`))

	mockPool.ExpectQuery(flexibleSQLMatcher(selectReportsSQL)).
		WithArgs(10).
		WillReturnRows(rows)

	reports, err := sink.RecentReports(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	assert.Equal(t, schemas.StatusFailure, reports[0].Status)
	require.NotNil(t, reports[0].Failure)
	assert.Equal(t, "session", reports[0].Failure.Component)
	assert.Equal(t, "go", reports[0].Metadata["query"])
	assert.Equal(t, 2500*time.Millisecond, reports[0].Duration)

	assert.True(t, reports[1].Succeeded())
	assert.Nil(t, reports[1].Failure)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
