// Package config loads patchwarden.yaml with environment overrides.
package config

import (
	"time"

	"patchwarden/internal/logging"
)

// Config is the full patchwarden configuration.
type Config struct {
	Auditors        []Auditor         `koanf:"auditors" yaml:"auditors"`
	ExcludedPaths   []string          `koanf:"excluded_paths" yaml:"excluded_paths,omitempty"`
	Agent           AgentConfig       `koanf:"agent" yaml:"agent"`
	Limits          LimitsConfig      `koanf:"limits" yaml:"limits"`
	QualityGate     QualityGateConfig `koanf:"quality_gate" yaml:"quality_gate"`
	Condenser       CondenserConfig   `koanf:"condenser" yaml:"condenser"`
	Git             GitConfig         `koanf:"git" yaml:"git"`
	Logging         logging.Config    `koanf:"logging" yaml:"logging"`
	Notifications   bool              `koanf:"notifications" yaml:"notifications"`
	MetricsTextfile string            `koanf:"metrics_textfile" yaml:"metrics_textfile,omitempty"`
}

// Auditor is a named directive driving one category of review.
type Auditor struct {
	Name          string `koanf:"name" yaml:"name"`
	Directive     string `koanf:"directive" yaml:"directive,omitempty"`
	DirectiveFile string `koanf:"directive_file" yaml:"directive_file,omitempty"`
}

// AgentConfig configures the agent executor.
type AgentConfig struct {
	Executor           string        `koanf:"executor" yaml:"executor"`
	Command            string        `koanf:"command" yaml:"command"`
	Model              string        `koanf:"model" yaml:"model"`
	Reasoning          string        `koanf:"reasoning" yaml:"reasoning"`
	FixModel           string        `koanf:"fix_model" yaml:"fix_model,omitempty"`
	FixReasoning       string        `koanf:"fix_reasoning" yaml:"fix_reasoning,omitempty"`
	ValidatorModel     string        `koanf:"validator_model" yaml:"validator_model,omitempty"`
	ValidatorReasoning string        `koanf:"validator_reasoning" yaml:"validator_reasoning,omitempty"`
	Timeout            time.Duration `koanf:"timeout" yaml:"timeout"`
}

// LimitsConfig holds the bounded-attempt counters.
type LimitsConfig struct {
	MaxThreadAttempts     int `koanf:"max_thread_attempts" yaml:"max_thread_attempts"`
	MaxRegressionAttempts int `koanf:"max_regression_attempts" yaml:"max_regression_attempts"`
	MaxValidationRetries  int `koanf:"max_validation_retries" yaml:"max_validation_retries"`
	MaxRounds             int `koanf:"max_rounds" yaml:"max_rounds"`
}

// QualityGateConfig lists the build/lint/test stages.
type QualityGateConfig struct {
	OutputBudget int         `koanf:"output_budget" yaml:"output_budget"`
	Build        StageConfig `koanf:"build" yaml:"build"`
	Lint         StageConfig `koanf:"lint" yaml:"lint"`
	Test         StageConfig `koanf:"test" yaml:"test"`
}

// StageConfig is one quality gate stage.
type StageConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Command string `koanf:"command" yaml:"command"`
}

// CondenserConfig configures test-failure summarization.
type CondenserConfig struct {
	Provider string `koanf:"provider" yaml:"provider"`
	Model    string `koanf:"model" yaml:"model"`
	BaseURL  string `koanf:"base_url" yaml:"base_url,omitempty"`
	APIKey   string `koanf:"api_key" yaml:"api_key,omitempty"`
}

// GitConfig configures the commit collaborator.
type GitConfig struct {
	Commit      bool   `koanf:"commit" yaml:"commit"`
	AuthorName  string `koanf:"author_name" yaml:"author_name"`
	AuthorEmail string `koanf:"author_email" yaml:"author_email"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Agent: AgentConfig{
			Executor:  "codex",
			Command:   "codex",
			Reasoning: "medium",
			Timeout:   20 * time.Minute,
		},
		Limits: LimitsConfig{
			MaxThreadAttempts:     8,
			MaxRegressionAttempts: 3,
			MaxValidationRetries:  1,
		},
		QualityGate: QualityGateConfig{
			OutputBudget: 4000,
			Build:        StageConfig{Enabled: true, Command: "go build ./..."},
			Lint:         StageConfig{Enabled: false, Command: "go vet ./..."},
			Test:         StageConfig{Enabled: true, Command: "go test ./..."},
		},
		Condenser: CondenserConfig{Provider: "none"},
		Git: GitConfig{
			Commit:      true,
			AuthorName:  "patchwarden",
			AuthorEmail: "patchwarden@localhost",
		},
		Logging: logging.NewDefaultConfig(),
	}
}
