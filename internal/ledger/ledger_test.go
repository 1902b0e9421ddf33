package ledger

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/animus-labs/replay-testing/internal/domain"
)

func newTestLedger(t *testing.T) (*Ledger, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l := New(db, nil)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC) }
	ids := []string{"run-1", "run-2"}
	l.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	return l, mock
}

func sampleReport() domain.Report {
	return domain.Report{
		Name:      "pkg.basic_replay",
		SessionID: "session-1",
		StartedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Fixtures: []domain.FixtureReport{{
			Fixture: "cmd_vel_only",
			Runs: []domain.RunReport{
				{Fixture: "cmd_vel_only", Run: "slow", Outcomes: []domain.TestOutcome{{Suite: "S", Name: "a", Status: domain.OutcomePass}}},
				{Fixture: "cmd_vel_only", Run: "fast", Outcomes: []domain.TestOutcome{{Suite: "S", Name: "a", Status: domain.OutcomeFail, Message: "boom"}}},
			},
		}},
	}
}

func TestEnsureSchema(t *testing.T) {
	l, mock := newTestLedger(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS replay_test_sessions")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS replay_test_runs")).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, l.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord(t *testing.T) {
	l, mock := newTestLedger(t)
	rep := sampleReport()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO replay_test_sessions")).
		WithArgs("session-1", "pkg.basic_replay", rep.StartedAt, time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC), 2, 1, 1, 0, false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO replay_test_runs")).
		WithArgs("run-1", "session-1", "cmd_vel_only", "slow", "", "", 1, 0, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO replay_test_runs")).
		WithArgs("run-2", "session-1", "cmd_vel_only", "fast", "", "", 1, 1, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, l.Record(context.Background(), rep))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRollsBackOnFailure(t *testing.T) {
	l, mock := newTestLedger(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO replay_test_sessions")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO replay_test_runs")).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := l.Record(context.Background(), sampleReport())
	require.ErrorContains(t, err, "insert run cmd_vel_only/slow")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRequiresSessionID(t *testing.T) {
	l, mock := newTestLedger(t)
	rep := sampleReport()
	rep.SessionID = " "
	require.ErrorContains(t, l.Record(context.Background(), rep), "session id")
	require.NoError(t, mock.ExpectationsWereMet())

	var nilLedger *Ledger
	require.Error(t, nilLedger.EnsureSchema(context.Background()))
}
