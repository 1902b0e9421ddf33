// Package ledger keeps a history of replay test sessions in postgres.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/animus-labs/replay-testing/internal/domain"
	"github.com/animus-labs/replay-testing/internal/platform/logging"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS replay_test_sessions (
		session_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		tests INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		successful BOOLEAN NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS replay_test_runs (
		run_id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES replay_test_sessions(session_id) ON DELETE CASCADE,
		fixture TEXT NOT NULL,
		run TEXT NOT NULL,
		filtered_fixture_path TEXT NOT NULL,
		run_fixture_path TEXT NOT NULL,
		tests INTEGER NOT NULL,
		failures INTEGER NOT NULL,
		errors INTEGER NOT NULL,
		outcomes JSONB NOT NULL,
		UNIQUE (session_id, fixture, run)
	)`,
}

const (
	insertSession = `INSERT INTO replay_test_sessions (session_id, name, started_at, finished_at, tests, passed, failures, errors, successful)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	insertRun = `INSERT INTO replay_test_runs (run_id, session_id, fixture, run, filtered_fixture_path, run_fixture_path, tests, failures, errors, outcomes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
)

type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func New(db *sql.DB, logger *slog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		logger: logging.OrDiscard(logger),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// EnsureSchema creates the ledger tables when missing.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.db == nil {
		return errors.New("ledger database is not configured")
	}
	for _, stmt := range schemaStatements {
		if _, err := l.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure ledger schema: %w", err)
		}
	}
	return nil
}

// Record stores the session summary and one row per run in a single transaction.
func (l *Ledger) Record(ctx context.Context, rep domain.Report) (err error) {
	if l == nil || l.db == nil {
		return errors.New("ledger database is not configured")
	}
	sessionID := strings.TrimSpace(rep.SessionID)
	if sessionID == "" {
		return errors.New("report has no session id")
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	totals := rep.Totals()
	startedAt := rep.StartedAt
	finishedAt := l.now().UTC()
	if startedAt.IsZero() {
		startedAt = finishedAt
	}
	if _, err = tx.ExecContext(ctx, insertSession,
		sessionID, rep.Name, startedAt.UTC(), finishedAt,
		totals.Tests, totals.Passed, totals.Failures, totals.Errors, rep.Successful(),
	); err != nil {
		return fmt.Errorf("insert session %s: %w", sessionID, err)
	}

	for _, run := range rep.Runs() {
		outcomes, mErr := json.Marshal(run.Outcomes)
		if mErr != nil {
			return fmt.Errorf("encode outcomes: %w", mErr)
		}
		if _, err = tx.ExecContext(ctx, insertRun,
			l.newID(), sessionID, run.Fixture, run.Run, run.FilteredPath, run.OutputPath,
			run.Tests(), run.Failures(), run.Errors(), outcomes,
		); err != nil {
			return fmt.Errorf("insert run %s/%s: %w", run.Fixture, run.Run, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger transaction: %w", err)
	}
	l.logger.Info("session recorded in ledger", "session_id", sessionID, "runs", len(rep.Runs()))
	return nil
}
