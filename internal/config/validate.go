package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auditors) == 0 {
		errs = append(errs, errors.New("at least one auditor is required"))
	}
	seen := make(map[string]struct{}, len(c.Auditors))
	for i, a := range c.Auditors {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("auditors[%d]: name is required", i))
			continue
		}
		if _, dup := seen[name]; dup {
			errs = append(errs, fmt.Errorf("auditors[%d]: duplicate name %q", i, name))
		}
		seen[name] = struct{}{}
		if strings.TrimSpace(a.Directive) == "" && strings.TrimSpace(a.DirectiveFile) == "" {
			errs = append(errs, fmt.Errorf("auditor %s: directive or directive_file is required", name))
		}
	}

	switch c.Agent.Executor {
	case "codex", "mock":
	default:
		errs = append(errs, fmt.Errorf("agent.executor: unknown executor %q", c.Agent.Executor))
	}
	if c.Agent.Executor == "codex" && strings.TrimSpace(c.Agent.Command) == "" {
		errs = append(errs, errors.New("agent.command is required for the codex executor"))
	}
	if c.Agent.Timeout < 0 {
		errs = append(errs, errors.New("agent.timeout must not be negative"))
	}
	if c.Limits.MaxValidationRetries <= 0 {
		errs = append(errs, errors.New("limits.max_validation_retries must be positive"))
	}
	if c.Limits.MaxRegressionAttempts < 0 {
		errs = append(errs, errors.New("limits.max_regression_attempts must not be negative"))
	}

	for name, stage := range map[string]StageConfig{
		"build": c.QualityGate.Build,
		"lint":  c.QualityGate.Lint,
		"test":  c.QualityGate.Test,
	} {
		if stage.Enabled && strings.TrimSpace(stage.Command) == "" {
			errs = append(errs, fmt.Errorf("quality_gate.%s: command is required when enabled", name))
		}
	}

	switch c.Condenser.Provider {
	case "", "none":
	case "openai":
		if strings.TrimSpace(c.Condenser.Model) == "" {
			errs = append(errs, errors.New("condenser.model is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("condenser.provider: unknown provider %q", c.Condenser.Provider))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("logging: %w", err))
	}
	return errors.Join(errs...)
}
