package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const defaultConfigPath = "/etc/recipeforge/config.json"

// Config matches the JSON schema consumed by the build and server commands.
type Config struct {
	Archive         string            `json:"archive"`
	Channels        []string          `json:"channels"`
	Platforms       []string          `json:"platforms"`
	RecipesDir      string            `json:"recipes_dir"`
	OutputDir       string            `json:"output_dir"`
	StateDB         string            `json:"state_db"`
	WorkDir         string            `json:"work_dir"`
	Interpreter     string            `json:"interpreter"`
	MetadataCommand []string          `json:"metadata_command"`
	BuildEnv        map[string]string `json:"build_env"`
}

func DefaultPath() string {
	if path := os.Getenv("RECIPEFORGE_CONFIG_FILE"); path != "" {
		return path
	}
	return defaultConfigPath
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Archive == "" {
		return errors.New("config archive is required")
	}
	if len(c.Channels) == 0 {
		return errors.New("config channels is required")
	}
	if len(c.Platforms) == 0 {
		return errors.New("config platforms is required")
	}
	if c.RecipesDir == "" {
		return errors.New("config recipes_dir is required")
	}
	if c.OutputDir == "" {
		return errors.New("config output_dir is required")
	}
	return nil
}

func (c *Config) ArchiveURL() string {
	return strings.TrimRight(c.Archive, "/")
}

func (c *Config) StatePath() string {
	if c.StateDB != "" {
		return c.StateDB
	}
	return filepath.Join(c.OutputDir, "builds.db")
}

func (c *Config) InterpreterBinary() string {
	if c.Interpreter != "" {
		return c.Interpreter
	}
	return "python3"
}

func (c *Config) MetadataArgs() []string {
	if len(c.MetadataCommand) > 0 {
		return c.MetadataCommand
	}
	return []string{c.InterpreterBinary(), "setup.py", "--version"}
}

func (c *Config) ChannelNames() []string {
	names := append([]string(nil), c.Channels...)
	sort.Strings(names)
	return names
}
