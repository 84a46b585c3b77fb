package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Caller performs a remote tool call.
type Caller interface {
	ExecuteTool(ctx context.Context, name string, args map[string]interface{}) (json.RawMessage, error)
}

// Executor validates and dispatches tool calls, folding every failure mode
// into an error-shaped JSON payload. Execute never fails from the caller's
// point of view: the reasoning stage sees the error text and decides how to
// react.
type Executor struct {
	registry *Registry
	caller   Caller
	timeout  time.Duration
}

// NewExecutor creates an executor over the registry and remote caller.
func NewExecutor(registry *Registry, caller Caller, timeout time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		registry: registry,
		caller:   caller,
		timeout:  timeout,
	}
}

// Execute runs one tool call and returns the JSON payload to hand back to
// the run: the service result on success, {"error": ...} otherwise.
func (x *Executor) Execute(ctx context.Context, name string, args map[string]interface{}) string {
	if _, ok := x.registry.Get(name); !ok {
		log.Warn().Str("tool", name).Msg("Unknown tool requested")
		return errorPayload(fmt.Sprintf("unknown tool: %s", name))
	}

	if err := x.registry.Validate(name, args); err != nil {
		log.Warn().Str("tool", name).Err(err).Msg("Tool argument validation failed")
		return errorPayload(err.Error())
	}

	callCtx, cancel := context.WithTimeout(ctx, x.timeout)
	defer cancel()

	start := time.Now()
	result, err := x.caller.ExecuteTool(callCtx, name, args)
	if err != nil {
		var callErr *CallError
		switch {
		case errors.As(err, &callErr):
			log.Warn().Str("tool", name).Str("detail", callErr.Message).Msg("Tool call returned error")
			return errorPayload(callErr.Message)
		case errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded:
			log.Warn().Str("tool", name).Dur("timeout", x.timeout).Msg("Tool call timed out")
			return errorPayload(fmt.Sprintf("tool execution timeout after %v", x.timeout))
		default:
			log.Warn().Str("tool", name).Err(err).Msg("Tool call failed")
			return errorPayload(fmt.Sprintf("tool connection error: %v", err))
		}
	}

	log.Debug().
		Str("tool", name).
		Dur("duration", time.Since(start)).
		Msg("Tool call completed")

	return string(result)
}

func errorPayload(msg string) string {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return string(data)
}
