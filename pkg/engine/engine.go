package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/riskops/amlguard/pkg/agent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Engine is an in-process Client implementation backed by a chat-completion
// provider. Each run executes on its own goroutine and walks the RunStatus
// state machine: it pauses in requires_tool_output whenever the model emits
// tool calls and resumes when the full output batch arrives.
type Engine struct {
	provider agent.LLMProvider
	agents   map[string]AgentSpec
	runTTL   time.Duration

	mu      sync.RWMutex
	threads map[string]*Thread
	runs    map[string]*runState

	logger zerolog.Logger
}

// runState is the engine-private side of a run. The tool-call transcript
// stays here; only user and assistant turns ever reach the thread.
type runState struct {
	run     Run
	outputs chan []ToolOutput
	cancel  context.CancelFunc
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunTTL bounds the wall-clock lifetime of every run. A run that is
// still non-terminal when the TTL elapses transitions to expired.
func WithRunTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.runTTL = ttl
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine over the given provider and agent specs. The spec
// set is closed at construction; runs may only reference agents in it.
func New(provider agent.LLMProvider, agents map[string]AgentSpec, opts ...Option) (*Engine, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if len(agents) == 0 {
		return nil, fmt.Errorf("at least one agent spec is required")
	}
	for id, spec := range agents {
		if spec.Model == "" {
			return nil, fmt.Errorf("agent %s: model is required", id)
		}
	}

	e := &Engine{
		provider: provider,
		agents:   agents,
		threads:  make(map[string]*Thread),
		runs:     make(map[string]*runState),
		logger:   log.Logger,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// CreateThread opens a new conversation thread.
func (e *Engine) CreateThread(ctx context.Context) (string, error) {
	id := fmt.Sprintf("thread_%s", uuid.New().String())

	e.mu.Lock()
	e.threads[id] = NewThread(id)
	e.mu.Unlock()

	e.logger.Debug().Str("thread_id", id).Msg("Thread created")

	return id, nil
}

// AddMessage appends a message to a thread.
func (e *Engine) AddMessage(ctx context.Context, threadID string, role Role, content string) (Message, error) {
	thread, err := e.thread(threadID)
	if err != nil {
		return Message{}, err
	}

	return thread.Append(role, content), nil
}

// LatestMessage returns the newest message in a thread.
func (e *Engine) LatestMessage(ctx context.Context, threadID string) (*Message, error) {
	thread, err := e.thread(threadID)
	if err != nil {
		return nil, err
	}

	msg, ok := thread.Latest()
	if !ok {
		return nil, fmt.Errorf("thread %s has no messages", threadID)
	}
	return &msg, nil
}

// CreateRun starts an asynchronous run of agentID against the thread.
func (e *Engine) CreateRun(ctx context.Context, threadID, agentID, instructions string) (*Run, error) {
	thread, err := e.thread(threadID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	spec, ok := e.agents[agentID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent: %s", agentID)
	}

	suffix, err := gonanoid.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate run id: %w", err)
	}
	runID := fmt.Sprintf("run_%s", suffix)

	// The run outlives the CreateRun call, so its context is detached from
	// the caller's. Cancellation goes through CancelRun or the TTL.
	runCtx, cancel := context.WithCancel(context.Background())
	if e.runTTL > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), e.runTTL)
	}

	rs := &runState{
		run: Run{
			ID:        runID,
			ThreadID:  threadID,
			AgentID:   agentID,
			Status:    RunStatusQueued,
			CreatedAt: time.Now(),
		},
		outputs: make(chan []ToolOutput, 1),
		cancel:  cancel,
	}

	e.mu.Lock()
	e.runs[runID] = rs
	e.mu.Unlock()

	e.logger.Debug().
		Str("run_id", runID).
		Str("thread_id", threadID).
		Str("agent_id", agentID).
		Msg("Run created")

	go e.execute(runCtx, rs, spec, thread, instructions)

	return e.snapshot(rs), nil
}

// GetRun returns a snapshot of the run.
func (e *Engine) GetRun(ctx context.Context, runID string) (*Run, error) {
	e.mu.RLock()
	rs, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}

	return e.snapshot(rs), nil
}

// SubmitToolOutputs resumes a run paused in requires_tool_output. The batch
// must answer every pending call exactly once.
func (e *Engine) SubmitToolOutputs(ctx context.Context, runID string, outputs []ToolOutput) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	rs, ok := e.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}

	if rs.run.Status != RunStatusRequiresToolOutput {
		return fmt.Errorf("run %s does not require tool output (status: %s)", runID, rs.run.Status)
	}

	if len(outputs) != len(rs.run.PendingCalls) {
		return fmt.Errorf("run %s expects %d tool outputs, got %d", runID, len(rs.run.PendingCalls), len(outputs))
	}

	pending := make(map[string]bool, len(rs.run.PendingCalls))
	for _, call := range rs.run.PendingCalls {
		pending[call.CallID] = true
	}
	for _, out := range outputs {
		if !pending[out.CallID] {
			return fmt.Errorf("run %s: unexpected or duplicate tool output for call %s", runID, out.CallID)
		}
		delete(pending, out.CallID)
	}

	rs.run.Status = RunStatusQueued
	rs.run.PendingCalls = nil
	rs.outputs <- outputs

	return nil
}

// CancelRun transitions a non-terminal run directly to cancelled, releasing
// any pending tool-call obligations without outputs.
func (e *Engine) CancelRun(runID string) error {
	e.mu.Lock()
	rs, ok := e.runs[runID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("run not found: %s", runID)
	}
	if rs.run.Status.Terminal() {
		e.mu.Unlock()
		return fmt.Errorf("run %s is already terminal (status: %s)", runID, rs.run.Status)
	}
	rs.run.Status = RunStatusCancelled
	rs.run.PendingCalls = nil
	e.mu.Unlock()

	rs.cancel()

	e.logger.Info().Str("run_id", runID).Msg("Run cancelled")

	return nil
}

// execute drives a single run to a terminal status.
func (e *Engine) execute(ctx context.Context, rs *runState, spec AgentSpec, thread *Thread, instructions string) {
	defer rs.cancel()

	e.setStatus(rs, RunStatusInProgress)

	system := spec.Instructions
	if instructions != "" {
		system = system + "\n\n" + instructions
	}

	// Seed the working transcript from the thread. Tool interactions below
	// stay run-private.
	messages := []agent.Message{}
	for _, msg := range thread.Messages() {
		messages = append(messages, agent.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}

	maxTurns := spec.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 10
	}

	for turn := 0; turn < maxTurns; turn++ {
		response, err := e.callWithRetry(ctx, spec, system, messages)
		if err != nil {
			if ctx.Err() != nil {
				e.finishOnDone(ctx, rs)
			} else {
				e.finishOnError(rs, err)
			}
			return
		}

		if len(response.ToolCalls) == 0 {
			thread.Append(RoleAssistant, response.Content)
			e.setStatus(rs, RunStatusCompleted)
			e.logger.Debug().Str("run_id", rs.run.ID).Int("turns", turn+1).Msg("Run completed")
			return
		}

		pending := make([]ToolCallRequest, 0, len(response.ToolCalls))
		for _, tc := range response.ToolCalls {
			callID := tc.ID
			if callID == "" {
				suffix, err := gonanoid.New()
				if err != nil {
					e.finishOnError(rs, fmt.Errorf("failed to generate call id: %w", err))
					return
				}
				callID = fmt.Sprintf("call_%s", suffix)
			}
			pending = append(pending, ToolCallRequest{
				CallID:    callID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
			})
		}

		e.mu.Lock()
		if rs.run.Status.Terminal() {
			e.mu.Unlock()
			return
		}
		rs.run.Status = RunStatusRequiresToolOutput
		rs.run.PendingCalls = pending
		e.mu.Unlock()

		e.logger.Debug().
			Str("run_id", rs.run.ID).
			Int("pending_calls", len(pending)).
			Msg("Run awaiting tool output")

		var outputs []ToolOutput
		select {
		case outputs = <-rs.outputs:
		case <-ctx.Done():
			e.finishOnDone(ctx, rs)
			return
		}

		e.setStatus(rs, RunStatusInProgress)

		// Record the assistant turn and its answers in pending order.
		assistantCalls := make([]agent.ToolCall, len(pending))
		for i, call := range pending {
			assistantCalls[i] = agent.ToolCall{
				ID:        call.CallID,
				Name:      call.Name,
				Arguments: call.Arguments,
			}
		}
		messages = append(messages, agent.Message{
			Role:      "assistant",
			Content:   response.Content,
			ToolCalls: assistantCalls,
		})

		byCall := make(map[string]string, len(outputs))
		for _, out := range outputs {
			byCall[out.CallID] = out.Output
		}
		for _, call := range pending {
			messages = append(messages, agent.Message{
				Role:       "tool",
				Content:    byCall[call.CallID],
				ToolCallID: call.CallID,
			})
		}
	}

	e.finishOnError(rs, fmt.Errorf("maximum tool turns (%d) exceeded", maxTurns))
}

// callWithRetry calls the provider with bounded exponential backoff on
// retryable errors.
func (e *Engine) callWithRetry(ctx context.Context, spec AgentSpec, system string, messages []agent.Message) (*agent.LLMResponse, error) {
	const maxAttempts = 3

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		response, err := e.provider.Call(ctx, agent.LLMRequest{
			Model:        spec.Model,
			SystemPrompt: system,
			Messages:     messages,
			Tools:        spec.Tools,
			Temperature:  spec.Temperature,
			MaxTokens:    spec.MaxTokens,
		})
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !agent.IsRetryableError(err) || attempt == maxAttempts-1 {
			break
		}

		delay := time.Duration(1<<attempt) * time.Second
		e.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Retrying provider call after error")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// finishOnError records a terminal failure unless the run was already
// cancelled or expired by another path.
func (e *Engine) finishOnError(rs *runState, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rs.run.Status.Terminal() {
		return
	}

	rs.run.Status = RunStatusFailed
	rs.run.LastError = err.Error()
	rs.run.PendingCalls = nil

	e.logger.Warn().Str("run_id", rs.run.ID).Err(err).Msg("Run failed")
}

// finishOnDone resolves a context-termination into cancelled or expired.
func (e *Engine) finishOnDone(ctx context.Context, rs *runState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rs.run.Status.Terminal() {
		return
	}

	if ctx.Err() == context.DeadlineExceeded {
		rs.run.Status = RunStatusExpired
		rs.run.LastError = "run lifetime exceeded"
	} else {
		rs.run.Status = RunStatusCancelled
	}
	rs.run.PendingCalls = nil
}

func (e *Engine) setStatus(rs *runState, status RunStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rs.run.Status.Terminal() {
		return
	}
	rs.run.Status = status
}

func (e *Engine) snapshot(rs *runState) *Run {
	e.mu.RLock()
	defer e.mu.RUnlock()

	run := rs.run
	if len(rs.run.PendingCalls) > 0 {
		run.PendingCalls = make([]ToolCallRequest, len(rs.run.PendingCalls))
		copy(run.PendingCalls, rs.run.PendingCalls)
	}
	return &run
}

func (e *Engine) thread(threadID string) (*Thread, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	thread, ok := e.threads[threadID]
	if !ok {
		return nil, fmt.Errorf("thread not found: %s", threadID)
	}
	return thread, nil
}
