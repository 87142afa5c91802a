package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/textpilot/textpilot-daemon/internal/history"
)

// Store implements history.Store backed by PostgreSQL, for shared
// deployments where several desktops report into one database.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed history store using the provided DSN and
// connection pool settings.
func New(dsn string, maxOpen, maxIdle int, maxLifetime time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if maxLifetime > 0 {
		db.SetConnMaxLifetime(maxLifetime)
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
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	button_id TEXT NOT NULL DEFAULT '',
	role_id TEXT NOT NULL DEFAULT '',
	prompt_chars BIGINT NOT NULL,
	output_chars BIGINT NOT NULL,
	fragments BIGINT NOT NULL,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','failed','cancelled')),
	duration_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
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
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
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
WHERE user_id = $1`, userID)

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
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, userID, limit)
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
