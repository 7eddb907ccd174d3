// Package config loads lensrev settings from defaults, a YAML file,
// LENSREV_* environment variables and command-line overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting of the server and CLI.
type Config struct {
	DataDir            string        `yaml:"data_dir"`
	Addr               string        `yaml:"addr"`
	Port               int           `yaml:"port"`
	Provider           string        `yaml:"provider"`
	Model              string        `yaml:"model"`
	APIKeyEnv          string        `yaml:"api_key_env"`
	BaseURL            string        `yaml:"base_url"`
	Concurrency        int           `yaml:"concurrency"`
	PartialOnAllFailed bool          `yaml:"partial_on_all_failed"`
	Profile            string        `yaml:"profile"`
	LensTimeout        time.Duration `yaml:"lens_timeout"`
	FuzzWindow         int           `yaml:"fuzz_window"`
	RunRetention       time.Duration `yaml:"run_retention"`
	EventLog           bool          `yaml:"event_log"`
	LogLevel           string        `yaml:"log_level"`
	LogFile            string        `yaml:"log_file"`
	MaxDiffBytes       int           `yaml:"max_diff_bytes"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		DataDir:      defaultDataDir(),
		Addr:         "127.0.0.1",
		Port:         6789,
		Provider:     "anthropic",
		Model:        "claude-sonnet-4-5",
		Concurrency:  3,
		Profile:      "quick",
		LensTimeout:  2 * time.Minute,
		FuzzWindow:   3,
		RunRetention: 15 * time.Minute,
		EventLog:     true,
		LogLevel:     "info",
		MaxDiffBytes: 500000,
	}
}

// ListenAddr returns host:port for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// APIKey resolves the provider key from the configured environment variable,
// falling back to the provider's conventional variable.
func (c Config) APIKey() string {
	env := c.APIKeyEnv
	if env == "" {
		switch c.Provider {
		case "openai":
			env = "OPENAI_API_KEY"
		default:
			env = "ANTHROPIC_API_KEY"
		}
	}
	return os.Getenv(env)
}

// Validate checks ranges that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.LensTimeout < 0 {
		errs = append(errs, errors.New("lens_timeout must not be negative"))
	}
	switch c.Provider {
	case "anthropic", "openai", "none":
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}
	return errors.Join(errs...)
}

// Path returns the default config file location.
func Path() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "lensrev", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "lensrev", "config.yaml")
}

func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "lensrev")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lensrev"
	}
	return filepath.Join(home, ".local", "share", "lensrev")
}

// Load builds the effective config by merging: defaults <- file <- env <- overrides.
// An empty path uses Path(); a missing file is not an error. Override keys
// are the YAML key names.
func Load(path string, overrides map[string]string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = Path()
	}
	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	if err := mergeEnv(&cfg); err != nil {
		return Config{}, err
	}
	for k, v := range overrides {
		if v == "" {
			continue
		}
		if err := Set(&cfg, k, v); err != nil {
			return Config{}, fmt.Errorf("flag %s: %w", k, err)
		}
	}
	return cfg, cfg.Validate()
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}
	// Decoding over the defaults keeps any key the file leaves out.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Keys lists the settable keys, in declaration order.
var Keys = []string{
	"data_dir", "addr", "port", "provider", "model", "api_key_env", "base_url",
	"concurrency", "partial_on_all_failed", "profile", "lens_timeout", "fuzz_window",
	"run_retention", "event_log", "log_level", "log_file", "max_diff_bytes",
}

func mergeEnv(cfg *Config) error {
	for _, k := range Keys {
		v, ok := os.LookupEnv("LENSREV_" + strings.ToUpper(k))
		if !ok || v == "" {
			continue
		}
		if err := Set(cfg, k, v); err != nil {
			return fmt.Errorf("LENSREV_%s: %w", strings.ToUpper(k), err)
		}
	}
	return nil
}

// Set assigns a single setting by key name.
func Set(cfg *Config, key, value string) error {
	switch key {
	case "data_dir":
		cfg.DataDir = value
	case "addr":
		cfg.Addr = value
	case "port":
		return setInt(&cfg.Port, value)
	case "provider":
		cfg.Provider = value
	case "model":
		cfg.Model = value
	case "api_key_env":
		cfg.APIKeyEnv = value
	case "base_url":
		cfg.BaseURL = value
	case "concurrency":
		return setInt(&cfg.Concurrency, value)
	case "partial_on_all_failed":
		return setBool(&cfg.PartialOnAllFailed, value)
	case "profile":
		cfg.Profile = value
	case "lens_timeout":
		return setDuration(&cfg.LensTimeout, value)
	case "fuzz_window":
		return setInt(&cfg.FuzzWindow, value)
	case "run_retention":
		return setDuration(&cfg.RunRetention, value)
	case "event_log":
		return setBool(&cfg.EventLog, value)
	case "log_level":
		cfg.LogLevel = value
	case "log_file":
		cfg.LogFile = value
	case "max_diff_bytes":
		return setInt(&cfg.MaxDiffBytes, value)
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("must be an integer: %w", err)
	}
	*dst = n
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("must be a boolean: %w", err)
	}
	*dst = b
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("must be a duration: %w", err)
	}
	*dst = d
	return nil
}
