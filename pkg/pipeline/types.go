package pipeline

import (
	"fmt"
	"time"

	"github.com/riskops/amlguard/pkg/engine"
)

// Stage is one step of the fixed pipeline ordering, bound to one agent
// identity. Position in the configured slice is the execution order and is
// identical for every subject.
type Stage struct {
	Name    string
	AgentID string
}

// TerminalError reports that a run ended in failed, cancelled, or expired.
// The driver surfaces it without retrying.
type TerminalError struct {
	Status engine.RunStatus
	Detail string
}

func (e *TerminalError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("run %s", e.Status)
	}
	return fmt.Sprintf("run %s: %s", e.Status, e.Detail)
}

// StageFailure reports the stage at which a subject's pipeline halted and
// why. Stages after the halting one are never started.
type StageFailure struct {
	Stage  string
	Status engine.RunStatus
	Detail string
}

func (e *StageFailure) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("pipeline halted at stage %q: run %s", e.Stage, e.Status)
	}
	return fmt.Sprintf("pipeline halted at stage %q: run %s: %s", e.Stage, e.Status, e.Detail)
}

// Outcome is the terminal record of one subject's pipeline session.
type Outcome struct {
	SubjectID    string    `json:"subject_id"`
	ThreadID     string    `json:"thread_id"`
	Completed    bool      `json:"completed"`
	FinalMessage string    `json:"final_message,omitempty"`
	HaltedStage  string    `json:"halted_stage,omitempty"`
	Status       string    `json:"status,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
