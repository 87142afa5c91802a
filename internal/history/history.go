package history

import (
	"context"
	"time"
)

// Outcome is the terminal state a job reached.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Record describes one finished job. Records are write-only telemetry;
// the live job and connection registries never read them back.
type Record struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	RequestID   string    `json:"request_id"`
	ButtonID    string    `json:"button_id"`
	RoleID      string    `json:"role_id"`
	PromptChars int64     `json:"prompt_chars"`
	OutputChars int64     `json:"output_chars"`
	Fragments   int64     `json:"fragments"`
	Outcome     Outcome   `json:"outcome"`
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary aggregates job outcomes for one user.
type Summary struct {
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// Store defines persistence behaviour for job history.
type Store interface {
	Record(ctx context.Context, rec Record) error
	Summary(ctx context.Context, userID string) (Summary, error)
	ListRecent(ctx context.Context, userID string, limit int) ([]Record, error)
	Close() error
}

// ValidOutcome reports whether o is one of the terminal outcomes.
func ValidOutcome(o Outcome) bool {
	switch o {
	case OutcomeCompleted, OutcomeFailed, OutcomeCancelled:
		return true
	}
	return false
}
