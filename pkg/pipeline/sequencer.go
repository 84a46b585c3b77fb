package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/riskops/amlguard/pkg/engine"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Sequencer drives an ordered list of stages over one conversation thread.
// Each stage sees the full transcript produced by every stage before it.
type Sequencer struct {
	client engine.Client
	driver *Driver
	stages []Stage
	logger zerolog.Logger
}

// SequencerOption configures a Sequencer.
type SequencerOption func(*Sequencer)

// WithSequencerLogger sets the sequencer logger.
func WithSequencerLogger(logger zerolog.Logger) SequencerOption {
	return func(s *Sequencer) {
		s.logger = logger
	}
}

// NewSequencer validates the stage list and builds a sequencer.
func NewSequencer(client engine.Client, driver *Driver, stages []Stage, opts ...SequencerOption) (*Sequencer, error) {
	if client == nil {
		return nil, fmt.Errorf("engine client is required")
	}
	if driver == nil {
		return nil, fmt.Errorf("driver is required")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("at least one stage is required")
	}
	seen := make(map[string]bool, len(stages))
	for _, stage := range stages {
		if stage.Name == "" || stage.AgentID == "" {
			return nil, fmt.Errorf("stage name and agent id are required")
		}
		if seen[stage.AgentID] {
			return nil, fmt.Errorf("duplicate stage agent %q", stage.AgentID)
		}
		seen[stage.AgentID] = true
	}

	s := &Sequencer{
		client: client,
		driver: driver,
		stages: stages,
		logger: log.Logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Stages returns the configured stage order.
func (s *Sequencer) Stages() []Stage {
	out := make([]Stage, len(s.stages))
	copy(out, s.stages)
	return out
}

// Run executes every stage in order against the thread. The first stage
// that ends in a terminal failure halts the sequence; later stages are
// never started. The returned string is the final stage's output.
func (s *Sequencer) Run(ctx context.Context, threadID string) (string, error) {
	logger := s.logger.With().Str("thread_id", threadID).Logger()

	var final string
	for i, stage := range s.stages {
		logger.Info().
			Int("stage", i+1).
			Int("total", len(s.stages)).
			Str("name", stage.Name).
			Msg("Starting pipeline stage")

		run, err := s.client.CreateRun(ctx, threadID, stage.AgentID, "")
		if err != nil {
			return "", fmt.Errorf("failed to start stage %q: %w", stage.Name, err)
		}

		output, err := s.driver.Await(ctx, run)
		if err != nil {
			var terminal *TerminalError
			if errors.As(err, &terminal) {
				return "", &StageFailure{
					Stage:  stage.Name,
					Status: terminal.Status,
					Detail: terminal.Detail,
				}
			}
			return "", fmt.Errorf("stage %q: %w", stage.Name, err)
		}

		logger.Info().Str("name", stage.Name).Int("output_len", len(output)).Msg("Pipeline stage completed")
		final = output
	}

	return final, nil
}
