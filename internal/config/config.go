// Package config loads the htmlshot service configuration from a YAML file
// and the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the service configuration.
type Config struct {
	Addr         string        `yaml:"addr"`
	Token        string        `yaml:"token"`
	MaxContexts  int           `yaml:"max_contexts"`
	ChromePath   string        `yaml:"chrome_path"`
	RemoteURL    string        `yaml:"remote_url"`
	NoSandbox    bool          `yaml:"no_sandbox"`
	AutoDownload bool          `yaml:"auto_download"`
	Stealth      bool          `yaml:"stealth"`
	Timeout      time.Duration `yaml:"timeout"`
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	MaxWidth     int           `yaml:"max_width"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	LogLevel     string        `yaml:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads the YAML file at path, when path is not empty, and applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.Token == "" {
		c.Token = "token"
	}
	if c.MaxContexts <= 0 {
		c.MaxContexts = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 30 * time.Second
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = 1080
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 10 << 20
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// applyEnv overrides fields from the environment. lookup is os.LookupEnv
// outside tests.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		c.Addr = ":" + strings.TrimPrefix(v, ":")
	}
	if v, ok := lookup("TOKEN"); ok && v != "" {
		c.Token = v
	}
	if v, ok := lookup("MAX_CONTEXTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MAX_CONTEXTS: %w", err)
		}
		c.MaxContexts = n
	}
	if v, ok := lookup("CHROME_PATH"); ok && v != "" {
		c.ChromePath = v
	}
	if v, ok := lookup("REMOTE_URL"); ok && v != "" {
		c.RemoteURL = v
	}
	if v, ok := lookup("NO_SANDBOX"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: NO_SANDBOX: %w", err)
		}
		c.NoSandbox = b
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	return nil
}
