package schedule

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SweepFunc runs one full analysis pass over the configured subjects.
type SweepFunc func(ctx context.Context)

// Service fires periodic analysis sweeps on a cron schedule. Sweeps never
// overlap: if one is still running when the next fire arrives, the fire is
// skipped.
type Service struct {
	cron     *cron.Cron
	sweep    SweepFunc
	spec     string
	logger   zerolog.Logger
	mu       sync.Mutex
	running  bool
	inFlight bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// ServiceOptions configures the sweep service.
type ServiceOptions struct {
	Schedule string // standard 5-field cron spec
	Sweep    SweepFunc
	Logger   *zerolog.Logger
}

// NewService validates the schedule and builds the service.
func NewService(opts ServiceOptions) (*Service, error) {
	if opts.Schedule == "" {
		return nil, fmt.Errorf("schedule is required")
	}
	if opts.Sweep == nil {
		return nil, fmt.Errorf("sweep callback is required")
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cron:   cron.New(),
		sweep:  opts.Sweep,
		spec:   opts.Schedule,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if _, err := s.cron.AddFunc(opts.Schedule, s.fire); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to register sweep: %w", err)
	}

	return s, nil
}

// Start begins firing sweeps. Safe to call once; later calls are no-ops.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.cron.Start()
	s.logger.Info().Str("schedule", s.spec).Msg("Sweep service started")
}

// Stop halts the schedule and cancels any in-flight sweep.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.cancel()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info().Msg("Sweep service stopped")
}

// Running reports whether the schedule is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) fire() {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		s.logger.Warn().Msg("Previous sweep still running, skipping fire")
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.inFlight = false
		s.mu.Unlock()
	}()

	s.logger.Info().Msg("Starting scheduled sweep")
	s.sweep(s.ctx)
}
