// Package config loads the rely configuration file and resolves the
// per-provider retry policies the orchestrator consumes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"rely/internal/llm/retry"
)

const (
	defaultProviderName     = "anthropic"
	defaultAnthropicModel   = "claude-sonnet-4-20250514"
	defaultAnthropicVersion = "2023-06-01"

	// Retry preset names accepted in [providers.<id>.retry].
	PresetDefault   = "default"
	PresetRateLimit = "rate-limit"

	defaultConfigRelativePath = ".config/rely/config.toml"

	envDefaultProvider  = "RELY_DEFAULT_PROVIDER"
	envAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	envAnthropicModel   = "RELY_ANTHROPIC_MODEL"
	envAnthropicBaseURL = "RELY_ANTHROPIC_BASE_URL"
	envAnthropicVersion = "RELY_ANTHROPIC_VERSION"
	envRetryAttempts    = "RELY_RETRY_ATTEMPTS"
	envRetryMinDelay    = "RELY_RETRY_MIN_DELAY"
	envRetryMaxDelay    = "RELY_RETRY_MAX_DELAY"
	envRetryJitter      = "RELY_RETRY_JITTER"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the application configuration root.
type Config struct {
	DefaultProvider string                    `toml:"default_provider" json:"default_provider"`
	Providers       map[string]ProviderConfig `toml:"providers" json:"providers"`
}

// ProviderConfig configures one provider entry.
type ProviderConfig struct {
	APIKey  string       `toml:"api_key" json:"api_key,omitempty"`
	Model   string       `toml:"model" json:"model,omitempty"`
	BaseURL string       `toml:"base_url" json:"base_url,omitempty"`
	Version string       `toml:"version" json:"version,omitempty"`
	Retry   *RetryConfig `toml:"retry" json:"retry,omitempty"`
}

// RetryConfig stores a retry policy as config-friendly values. Pointer
// fields distinguish "absent, use the preset value" from explicit zeros.
// An entirely absent retry table disables retry for the provider.
type RetryConfig struct {
	Preset   string   `toml:"preset" json:"preset,omitempty"`
	Attempts *int     `toml:"attempts" json:"attempts,omitempty"`
	MinDelay *string  `toml:"min_delay" json:"min_delay,omitempty"`
	MaxDelay *string  `toml:"max_delay" json:"max_delay,omitempty"`
	Jitter   *float64 `toml:"jitter" json:"jitter,omitempty"`
}

// Settings is a validated provider runtime snapshot.
type Settings struct {
	APIKey  string
	Model   string
	BaseURL string
	Version string
	Retry   *retry.Policy
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// Default returns application defaults. The anthropic entry carries no
// retry table: retry stays disabled until the config opts in.
func Default() Config {
	return Config{
		DefaultProvider: defaultProviderName,
		Providers: map[string]ProviderConfig{
			defaultProviderName: {
				Model:   defaultAnthropicModel,
				Version: defaultAnthropicVersion,
			},
		},
	}
}

// Load reads the config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultConfigPath()
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// RetryFor resolves the retry policy for a provider. A nil policy with a
// nil error means retry is disabled for that provider.
func (c Config) RetryFor(providerID string) (*retry.Policy, error) {
	pc, ok := c.Providers[providerID]
	if !ok || pc.Retry == nil {
		return nil, nil
	}
	return pc.Retry.Resolve()
}

// Resolve turns a config retry table into an orchestrator policy:
// preset first, explicit fields on top.
func (rc *RetryConfig) Resolve() (*retry.Policy, error) {
	if rc == nil {
		return nil, nil
	}

	var policy retry.Policy
	switch strings.ToLower(strings.TrimSpace(rc.Preset)) {
	case "", PresetDefault:
		policy = retry.DefaultPolicy()
	case PresetRateLimit, "rate_limit", "ratelimit":
		policy = retry.RateLimitPolicy()
	default:
		return nil, fmt.Errorf("%w: unknown retry preset %q", ErrInvalidConfig, rc.Preset)
	}

	if rc.Attempts != nil {
		if *rc.Attempts < 1 {
			return nil, fmt.Errorf("%w: retry attempts must be >= 1", ErrInvalidConfig)
		}
		policy.Attempts = *rc.Attempts
	}
	if rc.MinDelay != nil {
		d, err := parseDelay("min_delay", *rc.MinDelay)
		if err != nil {
			return nil, err
		}
		policy.MinDelay = d
	}
	if rc.MaxDelay != nil {
		d, err := parseDelay("max_delay", *rc.MaxDelay)
		if err != nil {
			return nil, err
		}
		policy.MaxDelay = d
	}
	if rc.Jitter != nil {
		if *rc.Jitter < 0 || *rc.Jitter > 1 {
			return nil, fmt.Errorf("%w: retry jitter must be in [0, 1]", ErrInvalidConfig)
		}
		policy.Jitter = *rc.Jitter
	}
	if policy.MaxDelay < policy.MinDelay {
		return nil, fmt.Errorf("%w: retry max_delay must be >= min_delay", ErrInvalidConfig)
	}
	return &policy, nil
}

func parseDelay(field, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: parse retry %s: %v", ErrInvalidConfig, field, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%w: retry %s must be >= 0", ErrInvalidConfig, field)
	}
	return d, nil
}

// ProviderSettings returns a validated runtime snapshot for a provider.
func (c Config) ProviderSettings(providerID string) (Settings, error) {
	pc, ok := c.Providers[providerID]
	if !ok {
		return Settings{}, fmt.Errorf("%w: provider %q is not configured", ErrInvalidConfig, providerID)
	}

	policy, err := c.RetryFor(providerID)
	if err != nil {
		return Settings{}, err
	}

	model := strings.TrimSpace(pc.Model)
	version := strings.TrimSpace(pc.Version)
	if providerID == defaultProviderName {
		if model == "" {
			model = defaultAnthropicModel
		}
		if version == "" {
			version = defaultAnthropicVersion
		}
	}
	if model == "" {
		return Settings{}, fmt.Errorf("%w: providers.%s.model is required", ErrInvalidConfig, providerID)
	}

	return Settings{
		APIKey:  strings.TrimSpace(pc.APIKey),
		Model:   model,
		BaseURL: strings.TrimSpace(pc.BaseURL),
		Version: version,
		Retry:   policy,
	}, nil
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if value, ok := os.LookupEnv(envDefaultProvider); ok && strings.TrimSpace(value) != "" {
		cfg.DefaultProvider = strings.TrimSpace(value)
	}

	anthropic := cfg.Providers[defaultProviderName]
	changed := false
	if value, ok := os.LookupEnv(envAnthropicAPIKey); ok {
		anthropic.APIKey = value
		changed = true
	}
	if value, ok := os.LookupEnv(envAnthropicModel); ok && strings.TrimSpace(value) != "" {
		anthropic.Model = strings.TrimSpace(value)
		changed = true
	}
	if value, ok := os.LookupEnv(envAnthropicBaseURL); ok && strings.TrimSpace(value) != "" {
		anthropic.BaseURL = strings.TrimSpace(value)
		changed = true
	}
	if value, ok := os.LookupEnv(envAnthropicVersion); ok && strings.TrimSpace(value) != "" {
		anthropic.Version = strings.TrimSpace(value)
		changed = true
	}
	if changed {
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		cfg.Providers[defaultProviderName] = anthropic
	}

	return applyRetryEnv(cfg)
}

// applyRetryEnv overrides the default provider's retry table from the
// environment, creating the table when needed.
func applyRetryEnv(cfg *Config) error {
	id := strings.TrimSpace(cfg.DefaultProvider)
	if id == "" {
		return nil
	}

	pc := cfg.Providers[id]
	rc := pc.Retry
	touched := false
	ensure := func() {
		if rc == nil {
			rc = &RetryConfig{}
		}
		touched = true
	}

	if value, ok := os.LookupEnv(envRetryAttempts); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envRetryAttempts, err)
		}
		ensure()
		rc.Attempts = &parsed
	}
	if value, ok := os.LookupEnv(envRetryMinDelay); ok && strings.TrimSpace(value) != "" {
		v := strings.TrimSpace(value)
		ensure()
		rc.MinDelay = &v
	}
	if value, ok := os.LookupEnv(envRetryMaxDelay); ok && strings.TrimSpace(value) != "" {
		v := strings.TrimSpace(value)
		ensure()
		rc.MaxDelay = &v
	}
	if value, ok := os.LookupEnv(envRetryJitter); ok && strings.TrimSpace(value) != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, envRetryJitter, err)
		}
		ensure()
		rc.Jitter = &parsed
	}

	if touched {
		if cfg.Providers == nil {
			cfg.Providers = map[string]ProviderConfig{}
		}
		pc.Retry = rc
		cfg.Providers[id] = pc
	}
	return nil
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.DefaultProvider) == "" {
		return fmt.Errorf("%w: default_provider is required", ErrInvalidConfig)
	}
	for id, pc := range cfg.Providers {
		if _, err := pc.Retry.Resolve(); err != nil {
			return fmt.Errorf("providers.%s: %w", id, err)
		}
	}
	if _, ok := cfg.Providers[cfg.DefaultProvider]; !ok {
		return fmt.Errorf("%w: default provider %q is not configured", ErrInvalidConfig, cfg.DefaultProvider)
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}
