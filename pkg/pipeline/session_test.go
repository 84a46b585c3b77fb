package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/riskops/amlguard/pkg/engine"
)

type memoryStore struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (s *memoryStore) SaveOutcome(ctx context.Context, outcome Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, outcome)
	return nil
}

func TestSeedMessage(t *testing.T) {
	start := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	end := time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

	got := SeedMessage("M1005", start, end)
	want := "Please gather data for merchant 'M1005' from 2025-03-02T12:00:00 to 2025-04-01T12:00:00."
	if got != want {
		t.Errorf("Seed message mismatch:\n got %q\nwant %q", got, want)
	}
}

func newTestRunner(t *testing.T, client *fakeClient, store OutcomeStore) *SessionRunner {
	t.Helper()
	driver := NewDriver(client, &fakeTools{}, WithClock(newFakeClock()))
	seq, err := NewSequencer(client, driver, DefaultStages())
	if err != nil {
		t.Fatalf("NewSequencer failed: %v", err)
	}
	opts := []SessionOption{WithSessionClock(newFakeClock())}
	if store != nil {
		opts = append(opts, WithOutcomeStore(store))
	}
	runner, err := NewSessionRunner(client, seq, opts...)
	if err != nil {
		t.Fatalf("NewSessionRunner failed: %v", err)
	}
	return runner
}

func TestSessionAnalyze(t *testing.T) {
	t.Run("completed session records final message", func(t *testing.T) {
		client := &fakeClient{
			steps:         []pollStep{{run: runSnapshot(engine.RunStatusCompleted)}},
			latestContent: "Actions taken: status updated.",
		}
		store := &memoryStore{}
		runner := newTestRunner(t, client, store)

		outcome, err := runner.Analyze(context.Background(), "M1005")
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if !outcome.Completed {
			t.Error("Expected completed outcome")
		}
		if outcome.SubjectID != "M1005" {
			t.Errorf("Expected subject M1005, got %q", outcome.SubjectID)
		}
		if outcome.ThreadID == "" {
			t.Error("Expected thread ID on outcome")
		}
		if outcome.Status != string(engine.RunStatusCompleted) {
			t.Errorf("Expected completed status, got %q", outcome.Status)
		}
		if outcome.FinalMessage != "Actions taken: status updated." {
			t.Errorf("Unexpected final message %q", outcome.FinalMessage)
		}
		if outcome.FinishedAt.Before(outcome.StartedAt) {
			t.Error("FinishedAt precedes StartedAt")
		}

		if len(client.seeded) != 1 {
			t.Fatalf("Expected one seed message, got %d", len(client.seeded))
		}
		if !strings.Contains(client.seeded[0], "Please gather data for merchant 'M1005'") {
			t.Errorf("Seed message malformed: %q", client.seeded[0])
		}

		if len(store.outcomes) != 1 {
			t.Fatalf("Expected one persisted outcome, got %d", len(store.outcomes))
		}
	})

	t.Run("halted session records stage and status", func(t *testing.T) {
		failed := runSnapshot(engine.RunStatusFailed)
		failed.LastError = "model call failed after 3 attempts"
		client := &fakeClient{steps: []pollStep{{run: failed}}}
		store := &memoryStore{}
		runner := newTestRunner(t, client, store)

		outcome, err := runner.Analyze(context.Background(), "M1012")
		if err == nil {
			t.Fatal("Expected error for halted session")
		}
		if outcome.Completed {
			t.Error("Halted outcome must not be completed")
		}
		if outcome.HaltedStage != "Data Aggregation" {
			t.Errorf("Expected halt at Data Aggregation, got %q", outcome.HaltedStage)
		}
		if outcome.Status != string(engine.RunStatusFailed) {
			t.Errorf("Expected failed status, got %q", outcome.Status)
		}
		if outcome.Detail != "model call failed after 3 attempts" {
			t.Errorf("Unexpected detail %q", outcome.Detail)
		}

		if len(client.createdAgents) != 1 {
			t.Errorf("Later stages must not start, got %v", client.createdAgents)
		}
		if len(store.outcomes) != 1 {
			t.Fatalf("Halted outcome must still be persisted, got %d", len(store.outcomes))
		}
	})

	t.Run("seed window uses configured lookback", func(t *testing.T) {
		client := &fakeClient{
			steps:         []pollStep{{run: runSnapshot(engine.RunStatusCompleted)}},
			latestContent: "done",
		}
		driver := NewDriver(client, &fakeTools{}, WithClock(newFakeClock()))
		seq, err := NewSequencer(client, driver, DefaultStages())
		if err != nil {
			t.Fatalf("NewSequencer failed: %v", err)
		}
		clock := newFakeClock()
		runner, err := NewSessionRunner(client, seq,
			WithSessionClock(clock),
			WithLookback(7*24*time.Hour),
		)
		if err != nil {
			t.Fatalf("NewSessionRunner failed: %v", err)
		}

		if _, err := runner.Analyze(context.Background(), "M1050"); err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}

		end := clock.Now()
		start := end.Add(-7 * 24 * time.Hour)
		want := SeedMessage("M1050", start, end)
		if client.seeded[0] != want {
			t.Errorf("Seed window mismatch:\n got %q\nwant %q", client.seeded[0], want)
		}
	})
}

func TestSessionAnalyzeAll(t *testing.T) {
	client := &fakeClient{
		steps:         []pollStep{{run: runSnapshot(engine.RunStatusCompleted)}},
		latestContent: "done",
	}
	store := &memoryStore{}
	driver := NewDriver(client, &fakeTools{}, WithClock(newFakeClock()))
	seq, err := NewSequencer(client, driver, DefaultStages())
	if err != nil {
		t.Fatalf("NewSequencer failed: %v", err)
	}
	runner, err := NewSessionRunner(client, seq,
		WithSessionClock(newFakeClock()),
		WithOutcomeStore(store),
		WithMaxInFlight(2),
	)
	if err != nil {
		t.Fatalf("NewSessionRunner failed: %v", err)
	}

	subjects := []string{"M1005", "M1012", "M1050"}
	outcomes := runner.AnalyzeAll(context.Background(), subjects)

	if len(outcomes) != len(subjects) {
		t.Fatalf("Expected %d outcomes, got %d", len(subjects), len(outcomes))
	}
	for i, subjectID := range subjects {
		if outcomes[i].SubjectID != subjectID {
			t.Errorf("Outcome %d: expected subject %s, got %s", i, subjectID, outcomes[i].SubjectID)
		}
		if !outcomes[i].Completed {
			t.Errorf("Outcome %d: expected completed", i)
		}
	}
	if len(store.outcomes) != len(subjects) {
		t.Errorf("Expected %d persisted outcomes, got %d", len(subjects), len(store.outcomes))
	}
}

func TestNewSessionRunner(t *testing.T) {
	client := &fakeClient{}
	driver := NewDriver(client, &fakeTools{}, WithClock(newFakeClock()))
	seq, err := NewSequencer(client, driver, DefaultStages())
	if err != nil {
		t.Fatalf("NewSequencer failed: %v", err)
	}

	t.Run("rejects nil client", func(t *testing.T) {
		if _, err := NewSessionRunner(nil, seq); err == nil {
			t.Error("Expected error for nil client")
		}
	})

	t.Run("rejects non-positive lookback", func(t *testing.T) {
		if _, err := NewSessionRunner(client, seq, WithLookback(0)); err == nil {
			t.Error("Expected error for zero lookback")
		}
	})

	t.Run("rejects zero in-flight cap", func(t *testing.T) {
		if _, err := NewSessionRunner(client, seq, WithMaxInFlight(0)); err == nil {
			t.Error("Expected error for zero cap")
		}
	})
}
