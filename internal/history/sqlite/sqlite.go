package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/textpilot/textpilot-daemon/internal/history"
)

// Store implements history.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS job_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	button_id TEXT NOT NULL DEFAULT '',
	role_id TEXT NOT NULL DEFAULT '',
	prompt_chars INTEGER NOT NULL,
	output_chars INTEGER NOT NULL,
	fragments INTEGER NOT NULL,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','failed','cancelled')),
	duration_ms INTEGER NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_job_records_user_created ON job_records(user_id, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new job record.
func (s *Store) Record(ctx context.Context, rec history.Record) error {
	if rec.UserID == "" || rec.RequestID == "" {
		return errors.New("history record requires user id and request id")
	}
	if !history.ValidOutcome(rec.Outcome) {
		return fmt.Errorf("invalid outcome %q", rec.Outcome)
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO job_records(user_id, request_id, button_id, role_id, prompt_chars, output_chars, fragments, outcome, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID,
		rec.RequestID,
		rec.ButtonID,
		rec.RoleID,
		rec.PromptChars,
		rec.OutputChars,
		rec.Fragments,
		string(rec.Outcome),
		rec.DurationMS,
		created,
	)
	return err
}

// Summary returns outcome counts for the given user.
func (s *Store) Summary(ctx context.Context, userID string) (history.Summary, error) {
	if userID == "" {
		return history.Summary{}, errors.New("user id required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT
	COALESCE(SUM(CASE WHEN outcome='completed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='failed' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='cancelled' THEN 1 ELSE 0 END), 0)
FROM job_records
WHERE user_id = ?`, userID)

	var summary history.Summary
	if err := row.Scan(&summary.Completed, &summary.Failed, &summary.Cancelled); err != nil {
		return history.Summary{}, err
	}
	return summary, nil
}

// ListRecent returns the latest records for a user.
func (s *Store) ListRecent(ctx context.Context, userID string, limit int) ([]history.Record, error) {
	if userID == "" {
		return nil, errors.New("user id required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, request_id, button_id, role_id, prompt_chars, output_chars, fragments, outcome, duration_ms, created_at
FROM job_records
WHERE user_id = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []history.Record
	for rows.Next() {
		var rec history.Record
		var outcome string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.RequestID, &rec.ButtonID, &rec.RoleID, &rec.PromptChars, &rec.OutputChars, &rec.Fragments, &outcome, &rec.DurationMS, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Outcome = history.Outcome(outcome)
		records = append(records, rec)
	}
	return records, rows.Err()
}
