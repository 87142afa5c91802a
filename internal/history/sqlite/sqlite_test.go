package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/textpilot/textpilot-daemon/internal/history"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordAndSummary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	record := func(requestID string, outcome history.Outcome) {
		if err := store.Record(ctx, history.Record{
			UserID:      "u1",
			RequestID:   requestID,
			ButtonID:    "polish",
			RoleID:      "work_email",
			PromptChars: 120,
			OutputChars: 300,
			Fragments:   12,
			Outcome:     outcome,
			DurationMS:  900,
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	record("req_a", history.OutcomeCompleted)
	record("req_b", history.OutcomeCompleted)
	record("req_c", history.OutcomeCancelled)
	record("req_d", history.OutcomeFailed)

	summary, err := store.Summary(ctx, "u1")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.Completed != 2 || summary.Cancelled != 1 || summary.Failed != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestListRecentOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	for i, requestID := range []string{"req_old", "req_mid", "req_new"} {
		if err := store.Record(ctx, history.Record{
			UserID:    "u1",
			RequestID: requestID,
			Outcome:   history.OutcomeCompleted,
			CreatedAt: now.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	recent, err := store.ListRecent(ctx, "u1", 2)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].RequestID != "req_new" || recent[1].RequestID != "req_mid" {
		t.Fatalf("unexpected ordering %q, %q", recent[0].RequestID, recent[1].RequestID)
	}
}

func TestRecordValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, history.Record{RequestID: "req_a", Outcome: history.OutcomeCompleted}); err == nil {
		t.Fatalf("expected error for missing user id")
	}
	if err := store.Record(ctx, history.Record{UserID: "u1", RequestID: "req_a", Outcome: "exploded"}); err == nil {
		t.Fatalf("expected error for invalid outcome")
	}
}
