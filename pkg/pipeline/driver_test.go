package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/riskops/amlguard/pkg/engine"
)

type pollStep struct {
	run *engine.Run
	err error
}

// fakeClient scripts the engine boundary. GetRun consumes steps in order
// and repeats the final step once the script is exhausted.
type fakeClient struct {
	mu            sync.Mutex
	steps         []pollStep
	last          pollStep
	submitted     [][]engine.ToolOutput
	submitErr     error
	latestContent string
	latestErr     error
	createdAgents []string
	createErr     error
	threads       int
	seeded        []string
}

func (f *fakeClient) CreateThread(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads++
	return fmt.Sprintf("thread_%d", f.threads), nil
}

func (f *fakeClient) AddMessage(ctx context.Context, threadID string, role engine.Role, content string) (engine.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seeded = append(f.seeded, content)
	return engine.Message{ID: "msg_seed", Role: role, Content: content}, nil
}

func (f *fakeClient) CreateRun(ctx context.Context, threadID, agentID, instructions string) (*engine.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.createdAgents = append(f.createdAgents, agentID)
	return &engine.Run{
		ID:       fmt.Sprintf("run_%d", len(f.createdAgents)),
		ThreadID: threadID,
		AgentID:  agentID,
		Status:   engine.RunStatusQueued,
	}, nil
}

func (f *fakeClient) GetRun(ctx context.Context, runID string) (*engine.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.steps) > 0 {
		f.last = f.steps[0]
		f.steps = f.steps[1:]
	}
	if f.last.err != nil {
		return nil, f.last.err
	}
	run := *f.last.run
	run.ID = runID
	return &run, nil
}

func (f *fakeClient) SubmitToolOutputs(ctx context.Context, runID string, outputs []engine.ToolOutput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	batch := make([]engine.ToolOutput, len(outputs))
	copy(batch, outputs)
	f.submitted = append(f.submitted, batch)
	return nil
}

func (f *fakeClient) LatestMessage(ctx context.Context, threadID string) (*engine.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return &engine.Message{ID: "msg_latest", Role: engine.RoleAssistant, Content: f.latestContent}, nil
}

// fakeClock advances a virtual time instead of sleeping.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

// fakeTools records calls and answers with a canned payload per tool.
type fakeTools struct {
	mu       sync.Mutex
	calls    []string
	payloads map[string]string
}

func (f *fakeTools) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if payload, ok := f.payloads[name]; ok {
		return payload
	}
	return "{}"
}

func runSnapshot(status engine.RunStatus) *engine.Run {
	return &engine.Run{ThreadID: "thread_1", AgentID: "data-aggregation", Status: status}
}

func TestDriverAwait(t *testing.T) {
	t.Run("completes and returns newest message", func(t *testing.T) {
		client := &fakeClient{
			steps: []pollStep{
				{run: runSnapshot(engine.RunStatusQueued)},
				{run: runSnapshot(engine.RunStatusInProgress)},
				{run: runSnapshot(engine.RunStatusCompleted)},
			},
			latestContent: "aggregation summary",
		}
		clock := newFakeClock()
		driver := NewDriver(client, &fakeTools{}, WithClock(clock))

		out, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"})
		if err != nil {
			t.Fatalf("Await failed: %v", err)
		}
		if out != "aggregation summary" {
			t.Errorf("Expected newest message, got %q", out)
		}
		if len(clock.sleeps) != 2 {
			t.Fatalf("Expected 2 poll sleeps, got %d", len(clock.sleeps))
		}
		for _, d := range clock.sleeps {
			if d != DefaultBackoff().PollInterval {
				t.Errorf("Expected poll interval %v, got %v", DefaultBackoff().PollInterval, d)
			}
		}
	})

	t.Run("terminal failure surfaces status and detail", func(t *testing.T) {
		failed := runSnapshot(engine.RunStatusFailed)
		failed.LastError = "model call failed after 3 attempts"
		client := &fakeClient{steps: []pollStep{{run: failed}}}
		driver := NewDriver(client, &fakeTools{}, WithClock(newFakeClock()))

		_, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"})
		var terminal *TerminalError
		if !errors.As(err, &terminal) {
			t.Fatalf("Expected TerminalError, got %v", err)
		}
		if terminal.Status != engine.RunStatusFailed {
			t.Errorf("Expected failed status, got %s", terminal.Status)
		}
		if terminal.Detail != "model call failed after 3 attempts" {
			t.Errorf("Unexpected detail %q", terminal.Detail)
		}
	})

	t.Run("cancelled run is terminal", func(t *testing.T) {
		client := &fakeClient{steps: []pollStep{{run: runSnapshot(engine.RunStatusCancelled)}}}
		driver := NewDriver(client, &fakeTools{}, WithClock(newFakeClock()))

		_, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"})
		var terminal *TerminalError
		if !errors.As(err, &terminal) {
			t.Fatalf("Expected TerminalError, got %v", err)
		}
		if terminal.Status != engine.RunStatusCancelled {
			t.Errorf("Expected cancelled status, got %s", terminal.Status)
		}
	})
}

func TestDriverToolBatch(t *testing.T) {
	t.Run("answers every pending call with matching tokens", func(t *testing.T) {
		pending := runSnapshot(engine.RunStatusRequiresToolOutput)
		pending.PendingCalls = []engine.ToolCallRequest{
			{CallID: "call_a", Name: "get_profile", Arguments: map[string]interface{}{"subject_id": "M1005"}},
			{CallID: "call_b", Name: "get_aggregated_stats", Arguments: map[string]interface{}{"subject_id": "M1005"}},
		}
		client := &fakeClient{
			steps: []pollStep{
				{run: pending},
				{run: runSnapshot(engine.RunStatusCompleted)},
			},
			latestContent: "done",
		}
		tools := &fakeTools{payloads: map[string]string{
			"get_profile":          `{"name":"Test Merchant"}`,
			"get_aggregated_stats": `{"total_value":42000}`,
		}}
		driver := NewDriver(client, tools, WithClock(newFakeClock()))

		if _, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"}); err != nil {
			t.Fatalf("Await failed: %v", err)
		}

		if len(client.submitted) != 1 {
			t.Fatalf("Expected 1 submission, got %d", len(client.submitted))
		}
		batch := client.submitted[0]
		if len(batch) != 2 {
			t.Fatalf("Expected full batch of 2, got %d", len(batch))
		}
		byToken := make(map[string]string)
		for _, out := range batch {
			if _, dup := byToken[out.CallID]; dup {
				t.Errorf("Duplicate token %s in batch", out.CallID)
			}
			byToken[out.CallID] = out.Output
		}
		if byToken["call_a"] != `{"name":"Test Merchant"}` {
			t.Errorf("Output not correlated for call_a: %q", byToken["call_a"])
		}
		if byToken["call_b"] != `{"total_value":42000}` {
			t.Errorf("Output not correlated for call_b: %q", byToken["call_b"])
		}
	})

	t.Run("error payloads still fill the batch", func(t *testing.T) {
		pending := runSnapshot(engine.RunStatusRequiresToolOutput)
		pending.PendingCalls = []engine.ToolCallRequest{
			{CallID: "call_a", Name: "get_profile"},
			{CallID: "call_b", Name: "get_flagged_examples"},
		}
		client := &fakeClient{
			steps: []pollStep{
				{run: pending},
				{run: runSnapshot(engine.RunStatusCompleted)},
			},
			latestContent: "done",
		}
		tools := &fakeTools{payloads: map[string]string{
			"get_profile":          `{"name":"Test Merchant"}`,
			"get_flagged_examples": `{"error":"tool execution timeout after 30s"}`,
		}}
		driver := NewDriver(client, tools, WithClock(newFakeClock()))

		if _, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"}); err != nil {
			t.Fatalf("Await failed: %v", err)
		}
		if len(client.submitted) != 1 || len(client.submitted[0]) != 2 {
			t.Fatalf("Expected one full batch of 2, got %v", client.submitted)
		}
	})
}

func TestDriverPollFaults(t *testing.T) {
	t.Run("retries transient faults with longer interval", func(t *testing.T) {
		client := &fakeClient{
			steps: []pollStep{
				{err: errors.New("connection reset")},
				{err: errors.New("connection reset")},
				{run: runSnapshot(engine.RunStatusCompleted)},
			},
			latestContent: "recovered",
		}
		clock := newFakeClock()
		driver := NewDriver(client, &fakeTools{}, WithClock(clock))

		out, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"})
		if err != nil {
			t.Fatalf("Await failed: %v", err)
		}
		if out != "recovered" {
			t.Errorf("Expected recovered output, got %q", out)
		}
		if len(clock.sleeps) != 2 {
			t.Fatalf("Expected 2 fault sleeps, got %d", len(clock.sleeps))
		}
		for _, d := range clock.sleeps {
			if d != DefaultBackoff().FaultInterval {
				t.Errorf("Expected fault interval %v, got %v", DefaultBackoff().FaultInterval, d)
			}
		}
	})

	t.Run("gives up after consecutive fault limit", func(t *testing.T) {
		client := &fakeClient{steps: []pollStep{{err: errors.New("connection reset")}}}
		driver := NewDriver(client, &fakeTools{},
			WithClock(newFakeClock()),
			WithBackoff(Backoff{PollInterval: time.Millisecond, FaultInterval: time.Millisecond, MaxFaults: 3}),
		)

		_, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"})
		if err == nil || !strings.Contains(err.Error(), "status check failed 3 times") {
			t.Errorf("Expected fault-limit error, got %v", err)
		}
	})

	t.Run("fault counter resets on success", func(t *testing.T) {
		client := &fakeClient{
			steps: []pollStep{
				{err: errors.New("connection reset")},
				{err: errors.New("connection reset")},
				{run: runSnapshot(engine.RunStatusInProgress)},
				{err: errors.New("connection reset")},
				{err: errors.New("connection reset")},
				{run: runSnapshot(engine.RunStatusCompleted)},
			},
			latestContent: "done",
		}
		driver := NewDriver(client, &fakeTools{},
			WithClock(newFakeClock()),
			WithBackoff(Backoff{PollInterval: time.Millisecond, FaultInterval: time.Millisecond, MaxFaults: 3}),
		)

		if _, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"}); err != nil {
			t.Fatalf("Await failed: %v", err)
		}
	})
}

func TestDriverMaxWait(t *testing.T) {
	client := &fakeClient{steps: []pollStep{{run: runSnapshot(engine.RunStatusInProgress)}}}
	driver := NewDriver(client, &fakeTools{},
		WithClock(newFakeClock()),
		WithBackoff(Backoff{PollInterval: time.Second, FaultInterval: time.Second, MaxWait: 5 * time.Second, MaxFaults: 5}),
	)

	_, err := driver.Await(context.Background(), &engine.Run{ID: "run_1", ThreadID: "thread_1"})
	var terminal *TerminalError
	if !errors.As(err, &terminal) {
		t.Fatalf("Expected TerminalError, got %v", err)
	}
	if terminal.Status != engine.RunStatusExpired {
		t.Errorf("Expected expired status, got %s", terminal.Status)
	}
}

func TestDriverContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{steps: []pollStep{{run: runSnapshot(engine.RunStatusInProgress)}}}
	driver := NewDriver(client, &fakeTools{}, WithClock(newFakeClock()))

	_, err := driver.Await(ctx, &engine.Run{ID: "run_1", ThreadID: "thread_1"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
