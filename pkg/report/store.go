package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/riskops/amlguard/pkg/pipeline"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Store persists analysis outcomes to sqlite so operators can review what
// ran, what halted, and why.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens (or creates) the outcome database at path and runs migrations.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL keeps concurrent session writers from blocking readers.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, logger: log.Logger}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS outcomes (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_id    TEXT NOT NULL,
			thread_id     TEXT NOT NULL,
			completed     INTEGER NOT NULL,
			status        TEXT NOT NULL,
			halted_stage  TEXT,
			detail        TEXT,
			final_message TEXT,
			started_at    TIMESTAMP NOT NULL,
			finished_at   TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_outcomes_subject ON outcomes(subject_id, started_at);
	`)
	return err
}

// SaveOutcome appends one outcome row.
func (s *Store) SaveOutcome(ctx context.Context, outcome pipeline.Outcome) error {
	completed := 0
	if outcome.Completed {
		completed = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO outcomes (subject_id, thread_id, completed, status, halted_stage, detail, final_message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		outcome.SubjectID,
		outcome.ThreadID,
		completed,
		outcome.Status,
		outcome.HaltedStage,
		outcome.Detail,
		outcome.FinalMessage,
		outcome.StartedAt.UTC(),
		outcome.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}

	s.logger.Debug().
		Str("subject_id", outcome.SubjectID).
		Str("status", outcome.Status).
		Msg("Outcome persisted")
	return nil
}

// ListBySubject returns the newest outcomes for one subject, newest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string, limit int) ([]pipeline.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, thread_id, completed, status, halted_stage, detail, final_message, started_at, finished_at
		FROM outcomes
		WHERE subject_id = ?
		ORDER BY started_at DESC
		LIMIT ?`, subjectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// ListRecent returns the newest outcomes across all subjects.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]pipeline.Outcome, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT subject_id, thread_id, completed, status, halted_stage, detail, final_message, started_at, finished_at
		FROM outcomes
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]pipeline.Outcome, error) {
	var outcomes []pipeline.Outcome
	for rows.Next() {
		var (
			o         pipeline.Outcome
			completed int
			started   time.Time
			finished  time.Time
		)
		if err := rows.Scan(&o.SubjectID, &o.ThreadID, &completed, &o.Status,
			&o.HaltedStage, &o.Detail, &o.FinalMessage, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Completed = completed != 0
		o.StartedAt = started
		o.FinishedAt = finished
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
