package engine

import "context"

// Client is the reasoning-engine boundary consumed by the pipeline. The
// caller creates a thread, seeds it, starts runs against it, polls run
// status, answers tool-call batches, and reads the newest message.
//
// Implementations must return snapshot copies from GetRun: a returned Run is
// never mutated afterwards by the engine.
type Client interface {
	// CreateThread opens a new, empty conversation thread.
	CreateThread(ctx context.Context) (string, error)

	// AddMessage appends a message to a thread.
	AddMessage(ctx context.Context, threadID string, role Role, content string) (Message, error)

	// CreateRun starts an asynchronous run of the named agent against the
	// thread. Extra instructions, when non-empty, supplement the agent's
	// configured instruction text for this run only.
	CreateRun(ctx context.Context, threadID, agentID, instructions string) (*Run, error)

	// GetRun returns the current snapshot of a run.
	GetRun(ctx context.Context, runID string) (*Run, error)

	// SubmitToolOutputs resumes a run in requires_tool_output. The batch must
	// answer every pending call exactly once; partial or mismatched batches
	// are rejected without changing run state.
	SubmitToolOutputs(ctx context.Context, runID string, outputs []ToolOutput) error

	// LatestMessage returns the newest message in a thread.
	LatestMessage(ctx context.Context, threadID string) (*Message, error)
}
