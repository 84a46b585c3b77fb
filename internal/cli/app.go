package cli

import (
	"fmt"
	"time"

	"github.com/riskops/amlguard/internal/config"
	"github.com/riskops/amlguard/internal/logger"
	"github.com/riskops/amlguard/pkg/agent"
	"github.com/riskops/amlguard/pkg/engine"
	"github.com/riskops/amlguard/pkg/pipeline"
	"github.com/riskops/amlguard/pkg/report"
	"github.com/riskops/amlguard/pkg/toolexec"
)

// app holds the wired pipeline components for one CLI invocation.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	registry *toolexec.Registry
	client   *toolexec.Client
	store    *report.Store
	runner   *pipeline.SessionRunner
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// buildApp wires the full pipeline from configuration.
func buildApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, err
	}

	registry, err := toolexec.Builtin()
	if err != nil {
		return nil, err
	}

	provider, err := agent.NewProvider(cfg.AI.Provider, cfg.AI.APIKey)
	if err != nil {
		return nil, err
	}

	specs, err := pipeline.DefaultAgentSpecs(registry, cfg.Pipeline.Model, cfg.Pipeline.Temperature, cfg.Pipeline.MaxTokens)
	if err != nil {
		return nil, err
	}
	agents := make(map[string]engine.AgentSpec, len(specs))
	for _, spec := range specs {
		agents[spec.ID] = spec
	}

	eng, err := engine.New(provider, agents,
		engine.WithRunTTL(time.Duration(cfg.Pipeline.RunTTLMins)*time.Minute),
	)
	if err != nil {
		return nil, err
	}

	toolTimeout := time.Duration(cfg.ToolServer.Timeout) * time.Second
	client := toolexec.NewClient(cfg.ToolServer.URL, toolTimeout)
	executor := toolexec.NewExecutor(registry, client, toolTimeout)

	driver := pipeline.NewDriver(eng, executor, pipeline.WithBackoff(pipeline.Backoff{
		PollInterval:  time.Duration(cfg.Polling.IntervalSeconds) * time.Second,
		FaultInterval: time.Duration(cfg.Polling.FaultIntervalSeconds) * time.Second,
		MaxWait:       time.Duration(cfg.Polling.MaxWaitMinutes) * time.Minute,
		MaxFaults:     cfg.Polling.MaxFaults,
	}))

	sequencer, err := pipeline.NewSequencer(eng, driver, pipeline.DefaultStages())
	if err != nil {
		return nil, err
	}

	store, err := report.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	runner, err := pipeline.NewSessionRunner(eng, sequencer,
		pipeline.WithOutcomeStore(store),
		pipeline.WithLookback(time.Duration(cfg.Pipeline.LookbackDays)*24*time.Hour),
		pipeline.WithMaxInFlight(cfg.Pipeline.MaxInFlight),
	)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      lg,
		registry: registry,
		client:   client,
		store:    store,
		runner:   runner,
	}, nil
}

func (a *app) Close() {
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}
