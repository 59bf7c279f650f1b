package operations

import (
	"time"
)

// Config represents the run execution configuration
type Config struct {
	// Execution mode (sequential or parallel)
	ExecutionMode ExecutionMode `json:"execution_mode"`

	// Step-specific timeouts, keyed by step id or ingest prefix
	StepTimeouts map[string]time.Duration `json:"step_timeouts"`

	// Retry configuration for retryable step errors
	RetryConfig RetryConfig `json:"retry_config"`

	// Whether independent steps keep running after a failure
	ContinueOnError bool `json:"continue_on_error"`

	// Maximum concurrent steps in parallel mode
	MaxConcurrency int `json:"max_concurrency"`
}

// NewConfig returns the default run configuration
func NewConfig() *Config {
	return &Config{
		ExecutionMode: ExecutionModeParallel,
		StepTimeouts: map[string]time.Duration{
			StepIDIngestPrefix: DefaultIngestTimeout,
			StepIDTransform:    DefaultTransformTimeout,
			StepIDLoad:         DefaultLoadTimeout,
		},
		RetryConfig:     NewRetryConfig(),
		ContinueOnError: true,
		MaxConcurrency:  2,
	}
}

// GetStepTimeout returns the timeout for a specific step. Ingest steps
// share the timeout registered under the ingest prefix.
func (c *Config) GetStepTimeout(stepID string) time.Duration {
	if timeout, ok := c.StepTimeouts[stepID]; ok {
		return timeout
	}
	if _, ok := IngestYear(stepID); ok {
		if timeout, ok := c.StepTimeouts[StepIDIngestPrefix]; ok {
			return timeout
		}
	}
	return DefaultStepTimeout
}

// SetStepTimeout sets the timeout for a specific step
func (c *Config) SetStepTimeout(stepID string, timeout time.Duration) {
	if c.StepTimeouts == nil {
		c.StepTimeouts = make(map[string]time.Duration)
	}
	c.StepTimeouts[stepID] = timeout
}

// ConfigBuilder provides a fluent interface for building run configurations
type ConfigBuilder struct {
	config *Config
}

// NewConfigBuilder creates a new configuration builder
func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: NewConfig()}
}

// WithExecutionMode sets the execution mode
func (b *ConfigBuilder) WithExecutionMode(mode ExecutionMode) *ConfigBuilder {
	b.config.ExecutionMode = mode
	return b
}

// WithStepTimeout sets the timeout for a step
func (b *ConfigBuilder) WithStepTimeout(stepID string, timeout time.Duration) *ConfigBuilder {
	b.config.SetStepTimeout(stepID, timeout)
	return b
}

// WithRetryConfig sets the retry configuration
func (b *ConfigBuilder) WithRetryConfig(config RetryConfig) *ConfigBuilder {
	b.config.RetryConfig = config
	return b
}

// WithContinueOnError sets whether to continue on errors
func (b *ConfigBuilder) WithContinueOnError(continueOnError bool) *ConfigBuilder {
	b.config.ContinueOnError = continueOnError
	return b
}

// WithMaxConcurrency sets the maximum concurrency
func (b *ConfigBuilder) WithMaxConcurrency(maxConcurrency int) *ConfigBuilder {
	b.config.MaxConcurrency = maxConcurrency
	return b
}

// Build returns the built configuration
func (b *ConfigBuilder) Build() *Config {
	return b.config
}
