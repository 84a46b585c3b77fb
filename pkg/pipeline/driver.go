package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/riskops/amlguard/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Clock abstracts time so driver behavior is testable without real delays.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ToolRunner answers one tool call with a JSON payload. Implementations
// must fold their own failures into error-shaped payloads; the driver
// treats every returned payload as a valid result.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) string
}

// Backoff holds the driver's polling policy. Intervals are constant, not
// exponential; FaultInterval applies after a failed status check.
type Backoff struct {
	PollInterval  time.Duration
	FaultInterval time.Duration
	MaxWait       time.Duration // overall polling budget; 0 polls forever
	MaxFaults     int           // consecutive status-check faults tolerated
}

// DefaultBackoff mirrors the production polling cadence.
func DefaultBackoff() Backoff {
	return Backoff{
		PollInterval:  2 * time.Second,
		FaultInterval: 5 * time.Second,
		MaxWait:       10 * time.Minute,
		MaxFaults:     5,
	}
}

// Driver owns the lifecycle of one run at a time: it polls status, answers
// tool-call batches through the ToolRunner, and returns the stage output
// once the run is terminal.
type Driver struct {
	client  engine.Client
	tools   ToolRunner
	clock   Clock
	backoff Backoff
	logger  zerolog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithClock sets the driver clock.
func WithClock(clock Clock) DriverOption {
	return func(d *Driver) {
		d.clock = clock
	}
}

// WithBackoff sets the polling policy.
func WithBackoff(backoff Backoff) DriverOption {
	return func(d *Driver) {
		d.backoff = backoff
	}
}

// WithDriverLogger sets the driver logger.
func WithDriverLogger(logger zerolog.Logger) DriverOption {
	return func(d *Driver) {
		d.logger = logger
	}
}

// NewDriver creates a driver over the engine client and tool runner.
func NewDriver(client engine.Client, tools ToolRunner, opts ...DriverOption) *Driver {
	d := &Driver{
		client:  client,
		tools:   tools,
		clock:   realClock{},
		backoff: DefaultBackoff(),
		logger:  log.Logger,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Await polls the run to a terminal status. On completed it returns the
// newest thread message; failed, cancelled, and expired come back as a
// *TerminalError. Transient status-check faults are retried with the longer
// interval up to Backoff.MaxFaults in a row.
func (d *Driver) Await(ctx context.Context, run *engine.Run) (string, error) {
	logger := d.logger.With().Str("run_id", run.ID).Logger()

	var deadline time.Time
	if d.backoff.MaxWait > 0 {
		deadline = d.clock.Now().Add(d.backoff.MaxWait)
	}

	faults := 0
	for {
		if !deadline.IsZero() && d.clock.Now().After(deadline) {
			logger.Warn().Dur("max_wait", d.backoff.MaxWait).Msg("Run polling budget exceeded")
			return "", &TerminalError{
				Status: engine.RunStatusExpired,
				Detail: fmt.Sprintf("no terminal status within %v", d.backoff.MaxWait),
			}
		}

		snapshot, err := d.client.GetRun(ctx, run.ID)
		if err != nil {
			faults++
			if d.backoff.MaxFaults > 0 && faults >= d.backoff.MaxFaults {
				return "", fmt.Errorf("status check failed %d times in a row: %w", faults, err)
			}
			logger.Warn().Err(err).Int("consecutive_faults", faults).Msg("Status check failed, backing off")
			if err := d.clock.Sleep(ctx, d.backoff.FaultInterval); err != nil {
				return "", err
			}
			continue
		}
		faults = 0

		switch snapshot.Status {
		case engine.RunStatusQueued, engine.RunStatusInProgress:
			if err := d.clock.Sleep(ctx, d.backoff.PollInterval); err != nil {
				return "", err
			}

		case engine.RunStatusRequiresToolOutput:
			logger.Info().Int("pending_calls", len(snapshot.PendingCalls)).Msg("Run requires tool output")

			outputs := d.executeBatch(ctx, snapshot.PendingCalls)
			if err := d.client.SubmitToolOutputs(ctx, run.ID, outputs); err != nil {
				return "", fmt.Errorf("failed to submit tool outputs: %w", err)
			}

		case engine.RunStatusCompleted:
			msg, err := d.client.LatestMessage(ctx, run.ThreadID)
			if err != nil {
				return "", fmt.Errorf("run completed but output unavailable: %w", err)
			}
			return msg.Content, nil

		case engine.RunStatusFailed, engine.RunStatusCancelled, engine.RunStatusExpired:
			logger.Warn().
				Str("status", string(snapshot.Status)).
				Str("detail", snapshot.LastError).
				Msg("Run terminal failure")
			return "", &TerminalError{Status: snapshot.Status, Detail: snapshot.LastError}

		default:
			logger.Warn().Str("status", string(snapshot.Status)).Msg("Unknown run status")
			if err := d.clock.Sleep(ctx, d.backoff.PollInterval); err != nil {
				return "", err
			}
		}
	}
}

// executeBatch answers every pending call in the batch. Calls run
// concurrently; results are correlated by token, so ordering cannot be
// violated. The returned batch always has exactly one output per request.
func (d *Driver) executeBatch(ctx context.Context, calls []engine.ToolCallRequest) []engine.ToolOutput {
	outputs := make([]engine.ToolOutput, len(calls))

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call engine.ToolCallRequest) {
			defer wg.Done()
			outputs[i] = engine.ToolOutput{
				CallID: call.CallID,
				Output: d.tools.Execute(ctx, call.Name, call.Arguments),
			}
		}(i, call)
	}
	wg.Wait()

	return outputs
}
