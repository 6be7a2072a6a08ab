// Package condense summarizes failing test output with a language model.
package condense

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/x/ansi"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"patchwarden/internal/config"
)

const defaultMaxInput = 12000

const promptTemplate = `You are summarizing a failing automated test run for an engineer who will fix it.
List each failing test with the assertion or error that caused it and the file:line when shown.
Do not speculate about fixes. Reply in at most 15 short lines of plain text.

STDOUT:
%s

STDERR:
%s
`

// LLM condenses test output through any langchaingo model.
type LLM struct {
	Model llms.Model
	// MaxInput bounds the characters of stdout and stderr sent to the model.
	MaxInput  int
	MaxTokens int
}

// FromConfig returns nil when condensation is disabled.
func FromConfig(cfg config.CondenserConfig) (*LLM, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "none":
		return nil, nil
	case "openai":
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai condenser: %w", err)
		}
		return &LLM{Model: model}, nil
	default:
		return nil, fmt.Errorf("unknown condenser provider %q", cfg.Provider)
	}
}

// Condense returns a short failure summary. Empty output yields an empty summary.
func (c *LLM) Condense(ctx context.Context, stdout, stderr string) (string, error) {
	if c == nil || c.Model == nil {
		return "", errors.New("condenser has no model")
	}
	stdout = clip(ansi.Strip(stdout), c.maxInput())
	stderr = clip(ansi.Strip(stderr), c.maxInput()/4)
	if strings.TrimSpace(stdout) == "" && strings.TrimSpace(stderr) == "" {
		return "", nil
	}
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, c.Model, fmt.Sprintf(promptTemplate, stdout, stderr),
		llms.WithTemperature(0),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("condense test output: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *LLM) maxInput() int {
	if c.MaxInput > 0 {
		return c.MaxInput
	}
	return defaultMaxInput
}

// clip keeps the tail, where test runners print their failures.
func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
