package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/riskops/amlguard/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// timeFormat is the ISO seconds layout used in seed messages and tool
// arguments.
const timeFormat = "2006-01-02T15:04:05"

// OutcomeStore persists session outcomes. Persistence failures must not
// abort the session; the runner logs and moves on.
type OutcomeStore interface {
	SaveOutcome(ctx context.Context, outcome Outcome) error
}

// SessionRunner creates one analysis session per subject: a fresh thread,
// a seed request covering the lookback window, and a full pipeline pass.
type SessionRunner struct {
	client      engine.Client
	sequencer   *Sequencer
	store       OutcomeStore
	clock       Clock
	lookback    time.Duration
	maxInFlight int
	logger      zerolog.Logger
}

// SessionOption configures a SessionRunner.
type SessionOption func(*SessionRunner)

// WithOutcomeStore sets the outcome store.
func WithOutcomeStore(store OutcomeStore) SessionOption {
	return func(r *SessionRunner) {
		r.store = store
	}
}

// WithLookback sets the analysis window ending at session start.
func WithLookback(d time.Duration) SessionOption {
	return func(r *SessionRunner) {
		r.lookback = d
	}
}

// WithMaxInFlight caps how many subjects AnalyzeAll works on at once.
func WithMaxInFlight(n int) SessionOption {
	return func(r *SessionRunner) {
		r.maxInFlight = n
	}
}

// WithSessionClock sets the runner clock.
func WithSessionClock(clock Clock) SessionOption {
	return func(r *SessionRunner) {
		r.clock = clock
	}
}

// WithSessionLogger sets the runner logger.
func WithSessionLogger(logger zerolog.Logger) SessionOption {
	return func(r *SessionRunner) {
		r.logger = logger
	}
}

// NewSessionRunner builds a runner over the engine client and sequencer.
func NewSessionRunner(client engine.Client, sequencer *Sequencer, opts ...SessionOption) (*SessionRunner, error) {
	if client == nil {
		return nil, fmt.Errorf("engine client is required")
	}
	if sequencer == nil {
		return nil, fmt.Errorf("sequencer is required")
	}

	r := &SessionRunner{
		client:      client,
		sequencer:   sequencer,
		clock:       realClock{},
		lookback:    30 * 24 * time.Hour,
		maxInFlight: 1,
		logger:      log.Logger,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.lookback <= 0 {
		return nil, fmt.Errorf("lookback must be positive")
	}
	if r.maxInFlight < 1 {
		return nil, fmt.Errorf("max in-flight must be at least one")
	}

	return r, nil
}

// SeedMessage renders the opening request for one subject and window.
func SeedMessage(subjectID string, start, end time.Time) string {
	return fmt.Sprintf("Please gather data for merchant '%s' from %s to %s.",
		subjectID, start.Format(timeFormat), end.Format(timeFormat))
}

// Analyze runs the full pipeline for one subject on a fresh thread. The
// returned outcome is always populated, even on failure; the error mirrors
// the outcome for callers that want to branch.
func (r *SessionRunner) Analyze(ctx context.Context, subjectID string) (Outcome, error) {
	started := r.clock.Now()
	end := started
	start := end.Add(-r.lookback)

	outcome := Outcome{
		SubjectID: subjectID,
		StartedAt: started,
	}

	logger := r.logger.With().Str("subject_id", subjectID).Logger()
	logger.Info().
		Str("window_start", start.Format(timeFormat)).
		Str("window_end", end.Format(timeFormat)).
		Msg("Starting analysis session")

	threadID, err := r.client.CreateThread(ctx)
	if err != nil {
		outcome.Status = string(engine.RunStatusFailed)
		outcome.Detail = err.Error()
		outcome.FinishedAt = r.clock.Now()
		return r.finish(ctx, outcome, fmt.Errorf("failed to create session thread: %w", err))
	}
	outcome.ThreadID = threadID

	if _, err := r.client.AddMessage(ctx, threadID, engine.RoleUser, SeedMessage(subjectID, start, end)); err != nil {
		outcome.Status = string(engine.RunStatusFailed)
		outcome.Detail = err.Error()
		outcome.FinishedAt = r.clock.Now()
		return r.finish(ctx, outcome, fmt.Errorf("failed to seed session thread: %w", err))
	}

	final, err := r.sequencer.Run(ctx, threadID)
	outcome.FinishedAt = r.clock.Now()
	if err != nil {
		var halted *StageFailure
		if errors.As(err, &halted) {
			outcome.HaltedStage = halted.Stage
			outcome.Status = string(halted.Status)
			outcome.Detail = halted.Detail
		} else {
			outcome.Status = string(engine.RunStatusFailed)
			outcome.Detail = err.Error()
		}
		return r.finish(ctx, outcome, err)
	}

	outcome.Completed = true
	outcome.Status = string(engine.RunStatusCompleted)
	outcome.FinalMessage = final

	logger.Info().Dur("elapsed", outcome.FinishedAt.Sub(started)).Msg("Analysis session completed")
	return r.finish(ctx, outcome, nil)
}

// AnalyzeAll runs one session per subject, at most maxInFlight at a time.
// Every subject is attempted; failures do not stop the batch. Outcomes are
// returned in input order.
func (r *SessionRunner) AnalyzeAll(ctx context.Context, subjectIDs []string) []Outcome {
	outcomes := make([]Outcome, len(subjectIDs))
	sem := make(chan struct{}, r.maxInFlight)

	var wg sync.WaitGroup
	for i, subjectID := range subjectIDs {
		wg.Add(1)
		go func(i int, subjectID string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			outcome, err := r.Analyze(ctx, subjectID)
			if err != nil {
				r.logger.Error().Err(err).Str("subject_id", subjectID).Msg("Analysis session failed")
			}
			outcomes[i] = outcome
		}(i, subjectID)
	}
	wg.Wait()

	return outcomes
}

func (r *SessionRunner) finish(ctx context.Context, outcome Outcome, err error) (Outcome, error) {
	if r.store != nil {
		if saveErr := r.store.SaveOutcome(ctx, outcome); saveErr != nil {
			r.logger.Error().Err(saveErr).Str("subject_id", outcome.SubjectID).Msg("Failed to persist outcome")
		}
	}
	return outcome, err
}
