package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	envPrefix         = "PATCHWARDEN_"
	maxConfigFileSize = 1024 * 1024
)

// sections with underscores in their own name must precede shorter ones sharing a prefix.
var envSections = []string{"quality_gate", "agent", "limits", "condenser", "git", "logging"}

var stageNames = []string{"build", "lint", "test"}

// Load reads configuration with precedence env > file > defaults.
// A missing file is not an error; scalar fields can still come from the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if content != nil {
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path is a directory: %s", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return io.ReadAll(f)
}

// envKey maps PATCHWARDEN_AGENT_MODEL -> agent.model and
// PATCHWARDEN_QUALITY_GATE_TEST_COMMAND -> quality_gate.test.command.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	for _, section := range envSections {
		if !strings.HasPrefix(lower, section+"_") {
			continue
		}
		field := strings.TrimPrefix(lower, section+"_")
		if section == "quality_gate" {
			for _, stage := range stageNames {
				if strings.HasPrefix(field, stage+"_") {
					return section + "." + stage + "." + strings.TrimPrefix(field, stage+"_")
				}
			}
		}
		return section + "." + field
	}
	return lower
}

// ResolveDirectives loads directive_file contents relative to root.
func (c *Config) ResolveDirectives(root string) error {
	for i, a := range c.Auditors {
		if strings.TrimSpace(a.Directive) != "" || a.DirectiveFile == "" {
			continue
		}
		path := a.DirectiveFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read directive for auditor %s: %w", a.Name, err)
		}
		c.Auditors[i].Directive = strings.TrimSpace(string(data))
	}
	return nil
}
