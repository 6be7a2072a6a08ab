package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by WriteFile when the target already exists.
var ErrConfigExists = errors.New("config file already exists")

// Starter returns the defaults plus example auditors, the content written by init.
func Starter() Config {
	cfg := Default()
	cfg.Auditors = []Auditor{
		{Name: "correctness", Directive: "Find bugs, unchecked errors and edge cases that the code mishandles, and fix them."},
		{Name: "tests", Directive: "Find important behavior without test coverage and add focused tests for it."},
	}
	cfg.ExcludedPaths = []string{".git", ".patchwarden", "vendor"}
	return cfg
}

// Marshal encodes cfg as YAML in the layout Load reads.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile writes cfg to path. Unless force is set an existing file is left untouched.
func WriteFile(path string, cfg Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
