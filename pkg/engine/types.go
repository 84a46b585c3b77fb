package engine

import (
	"time"

	"github.com/riskops/amlguard/pkg/agent"
)

// RunStatus is the observable state of a run.
//
// Lifecycle: queued -> in_progress -> (requires_tool_output -> queued ->
// in_progress)* -> completed | failed | cancelled | expired.
type RunStatus string

const (
	RunStatusQueued             RunStatus = "queued"
	RunStatusInProgress         RunStatus = "in_progress"
	RunStatusRequiresToolOutput RunStatus = "requires_tool_output"
	RunStatusCompleted          RunStatus = "completed"
	RunStatusFailed             RunStatus = "failed"
	RunStatusCancelled          RunStatus = "cancelled"
	RunStatusExpired            RunStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled, RunStatusExpired:
		return true
	}
	return false
}

// Role identifies who authored a thread message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a thread. Seq is the insertion index and the sole
// ordering key; messages are never mutated after creation.
type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCallRequest is a pending tool invocation attached to a run in the
// requires_tool_output state. CallID is unique within the run.
type ToolCallRequest struct {
	CallID    string                 `json:"call_id"`
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ToolOutput answers one ToolCallRequest, correlated by CallID. Output is a
// JSON-encoded payload; tool failures travel as error-shaped payloads, not
// as absent outputs.
type ToolOutput struct {
	CallID string `json:"call_id"`
	Output string `json:"output"`
}

// Run is a snapshot of one asynchronous agent execution against a thread.
// PendingCalls is populated only in requires_tool_output; LastError only in
// failed, cancelled, or expired.
type Run struct {
	ID           string            `json:"id"`
	ThreadID     string            `json:"thread_id"`
	AgentID      string            `json:"agent_id"`
	Status       RunStatus         `json:"status"`
	PendingCalls []ToolCallRequest `json:"pending_calls,omitempty"`
	LastError    string            `json:"last_error,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// AgentSpec is the resolved identity of one pipeline agent: a stable ID, its
// instruction text, and the explicit subset of tools it may call. Specs are
// fixed at configuration load.
type AgentSpec struct {
	ID           string
	Name         string
	Model        string
	Instructions string
	Tools        []agent.ToolSpec
	Temperature  float64
	MaxTokens    int
	MaxTurns     int
}
