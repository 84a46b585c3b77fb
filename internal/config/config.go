package config

import (
	"encoding/json"
	"fmt"
)

// Config represents the main amlguard configuration
type Config struct {
	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Pipeline behavior
	Pipeline PipelineConfig `json:"pipeline" mapstructure:"pipeline"`

	// Tool server endpoint
	ToolServer ToolServerConfig `json:"tool_server" mapstructure:"tool_server"`

	// Run polling cadence
	Polling PollingConfig `json:"polling" mapstructure:"polling"`

	// Scheduled sweeps
	Sweep SweepConfig `json:"sweep" mapstructure:"sweep"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Outcome database path
	DatabasePath string `json:"database_path" mapstructure:"database_path"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Provider string `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
}

// PipelineConfig holds analysis pipeline settings
type PipelineConfig struct {
	Model        string   `json:"model" mapstructure:"model"`
	Temperature  float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens    int      `json:"max_tokens" mapstructure:"max_tokens"`
	LookbackDays int      `json:"lookback_days" mapstructure:"lookback_days"`
	Subjects     []string `json:"subjects" mapstructure:"subjects"`
	MaxInFlight  int      `json:"max_in_flight" mapstructure:"max_in_flight"`
	RunTTLMins   int      `json:"run_ttl_minutes" mapstructure:"run_ttl_minutes"`
}

// ToolServerConfig holds the tool server endpoint
type ToolServerConfig struct {
	URL     string `json:"url" mapstructure:"url"`
	Timeout int    `json:"timeout" mapstructure:"timeout"` // seconds
}

// PollingConfig holds run polling cadence
type PollingConfig struct {
	IntervalSeconds      int `json:"interval_seconds" mapstructure:"interval_seconds"`
	FaultIntervalSeconds int `json:"fault_interval_seconds" mapstructure:"fault_interval_seconds"`
	MaxWaitMinutes       int `json:"max_wait_minutes" mapstructure:"max_wait_minutes"`
	MaxFaults            int `json:"max_faults" mapstructure:"max_faults"`
}

// SweepConfig holds scheduled sweep settings
type SweepConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Schedule string `json:"schedule" mapstructure:"schedule"` // standard 5-field cron spec
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`
	File   string `json:"file" mapstructure:"file"`
	Pretty bool   `json:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Provider: "openai",
		},
		Pipeline: PipelineConfig{
			Model:        "gpt-4-turbo-preview",
			Temperature:  0.2,
			MaxTokens:    4096,
			LookbackDays: 30,
			Subjects:     []string{"M1005", "M1012", "M1050"},
			MaxInFlight:  1,
			RunTTLMins:   15,
		},
		ToolServer: ToolServerConfig{
			URL:     "http://localhost:5003",
			Timeout: 30,
		},
		Polling: PollingConfig{
			IntervalSeconds:      2,
			FaultIntervalSeconds: 5,
			MaxWaitMinutes:       10,
			MaxFaults:            5,
		},
		Sweep: SweepConfig{
			Enabled:  false,
			Schedule: "0 2 * * *",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Pretty: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.AI.Provider != "openai" && c.AI.Provider != "anthropic" {
		return fmt.Errorf("invalid provider %q (must be: openai, anthropic)", c.AI.Provider)
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("ai.api_key is required")
	}

	if c.Pipeline.Model == "" {
		return fmt.Errorf("pipeline.model is required")
	}
	if c.Pipeline.LookbackDays <= 0 {
		return fmt.Errorf("pipeline.lookback_days must be positive")
	}
	if len(c.Pipeline.Subjects) == 0 {
		return fmt.Errorf("pipeline.subjects must name at least one subject")
	}
	if c.Pipeline.MaxInFlight < 1 {
		return fmt.Errorf("pipeline.max_in_flight must be at least one")
	}

	if c.ToolServer.URL == "" {
		return fmt.Errorf("tool_server.url is required")
	}
	if c.ToolServer.Timeout <= 0 {
		return fmt.Errorf("tool_server.timeout must be positive")
	}

	if c.Polling.IntervalSeconds <= 0 {
		return fmt.Errorf("polling.interval_seconds must be positive")
	}
	if c.Polling.FaultIntervalSeconds <= 0 {
		return fmt.Errorf("polling.fault_interval_seconds must be positive")
	}
	if c.Polling.MaxWaitMinutes < 0 {
		return fmt.Errorf("polling.max_wait_minutes must not be negative")
	}

	if c.Sweep.Enabled && c.Sweep.Schedule == "" {
		return fmt.Errorf("sweep.schedule is required when sweeps are enabled")
	}

	return nil
}
