// Package config loads the gosshield YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"gosshield/common"
	"gosshield/toolchain"
)

// DefaultPath is the configuration file looked up in the working directory.
const DefaultPath = "gosshield.yaml"

// Config holds all gosshield configuration.
type Config struct {
	// OS gates the OS specific techniques. Empty means the host OS.
	OS string `yaml:"os"`

	// OutputDir receives persisted artifacts. Empty means the input's directory.
	OutputDir string `yaml:"output_dir"`

	// WorkDir hosts the per-run working directories. Empty means os.TempDir().
	WorkDir string `yaml:"work_dir"`

	// Techniques is the default selection used when none is given.
	Techniques []string `yaml:"techniques,omitempty"`

	Toolchain ToolchainConfig `yaml:"toolchain"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ToolConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args,omitempty"`
}

type StripperConfig struct {
	Binary     string   `yaml:"binary"`
	Args       []string `yaml:"args,omitempty"`
	ObjectArgs []string `yaml:"object_args,omitempty"`
}

type PackerConfig struct {
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args,omitempty"`
	Dir    string   `yaml:"dir"`
}

type ToolchainConfig struct {
	Timeout  string         `yaml:"timeout"`
	Compiler ToolConfig     `yaml:"compiler"`
	Stripper StripperConfig `yaml:"stripper"`
	Packer   PackerConfig   `yaml:"packer"`
}

type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Toolchain: ToolchainConfig{
			Timeout:  "5m",
			Compiler: ToolConfig{Binary: "gcc"},
			Stripper: StripperConfig{
				Binary:     "strip",
				ObjectArgs: []string{"--strip-unneeded"},
			},
			Packer: PackerConfig{
				Binary: "python",
				Args:   []string{"EW_Packer.py"},
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if cc := os.Getenv("GOSSHIELD_CC"); cc != "" {
		c.Toolchain.Compiler.Binary = cc
	}
	if strip := os.Getenv("GOSSHIELD_STRIP"); strip != "" {
		c.Toolchain.Stripper.Binary = strip
	}
	if packer := os.Getenv("GOSSHIELD_PACKER"); packer != "" {
		c.Toolchain.Packer.Binary = packer
	}
	if target := os.Getenv("GOSSHIELD_OS"); target != "" {
		c.OS = target
	}
}

// GetTimeout returns the per-process toolchain timeout.
func (c *Config) GetTimeout() time.Duration {
	d, err := time.ParseDuration(c.Toolchain.Timeout)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// ResolvedOS returns the configured target OS, falling back to the host.
func (c *Config) ResolvedOS() common.OS {
	if c.OS == "" {
		return common.HostOS()
	}
	return common.ParseOS(c.OS)
}

// Selection parses the default technique selection.
func (c *Config) Selection() (common.Selection, error) {
	return common.NewSelection(c.Techniques...)
}

// ToolchainSettings converts the toolchain section for the toolchain package.
func (c *Config) ToolchainSettings() toolchain.Settings {
	t := c.Toolchain
	return toolchain.Settings{
		Compiler:        toolchain.Tool{Binary: t.Compiler.Binary, Args: t.Compiler.Args},
		Stripper:        toolchain.Tool{Binary: t.Stripper.Binary, Args: t.Stripper.Args},
		Packer:          toolchain.Tool{Binary: t.Packer.Binary, Args: t.Packer.Args},
		ObjectStripArgs: t.Stripper.ObjectArgs,
		PackerDir:       t.Packer.Dir,
	}
}

// LogLevel parses logging.level.
func (c *Config) LogLevel() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.Logging.Level)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.OS != "" && common.ParseOS(c.OS) == common.Other {
		return fmt.Errorf("invalid os: %s (valid: windows, linux, mac)", c.OS)
	}
	if _, err := c.Selection(); err != nil {
		return fmt.Errorf("invalid techniques: %w", err)
	}
	if d, err := time.ParseDuration(c.Toolchain.Timeout); err != nil || d <= 0 {
		return fmt.Errorf("invalid toolchain timeout: %q", c.Toolchain.Timeout)
	}
	for role, binary := range map[string]string{
		"compiler": c.Toolchain.Compiler.Binary,
		"stripper": c.Toolchain.Stripper.Binary,
		"packer":   c.Toolchain.Packer.Binary,
	} {
		if binary == "" {
			return fmt.Errorf("toolchain %s binary not configured", role)
		}
	}
	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	return nil
}
