package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ProvidersConfig represents the complete provider operations configuration.
type ProvidersConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Budget    BudgetConfig              `yaml:"budget"`
	Global    GlobalConfig              `yaml:"global"`
}

// ProviderConfig represents configuration for a single provider.
type ProviderConfig struct {
	Host        string        `yaml:"host"`
	BaseURL     string        `yaml:"base_url"`
	RPS         int           `yaml:"rps"`          // Requests per second
	Burst       int           `yaml:"burst"`        // Burst capacity
	DailyBudget int           `yaml:"daily_budget"` // Max requests per UTC day
	TTLSecs     int           `yaml:"ttl_secs"`     // Cache TTL in seconds
	BackoffMS   BackoffConfig `yaml:"backoff_ms"`   // Backoff configuration
	Circuit     CircuitConfig `yaml:"circuit"`      // Circuit breaker config
	Fallbacks   []string      `yaml:"fallbacks"`    // Providers tried when the circuit opens
	Enabled     bool          `yaml:"enabled"`
}

// BackoffConfig represents exponential backoff configuration.
type BackoffConfig struct {
	Base   int  `yaml:"base"`   // Base backoff in milliseconds
	Max    int  `yaml:"max"`    // Maximum backoff in milliseconds
	Jitter bool `yaml:"jitter"` // Jitter to avoid thundering herd
}

// CircuitConfig represents circuit breaker configuration.
type CircuitConfig struct {
	ErrorRateThreshold  float64 `yaml:"error_rate_threshold"` // Percent of failed requests that trips
	ConsecutiveFailures uint32  `yaml:"consecutive_failures"` // Consecutive failures that trip
	MaxRequests         uint32  `yaml:"max_requests"`         // Probes allowed while half-open
	IntervalMS          int     `yaml:"interval_ms"`          // Closed-state count reset interval
	TimeoutMS           int     `yaml:"timeout_ms"`           // Open-state duration before half-open
	RequestTimeoutMS    int     `yaml:"request_timeout_ms"`   // Per-request timeout
}

// BudgetConfig represents budget management configuration.
type BudgetConfig struct {
	WarnThreshold float64 `yaml:"warn_threshold"` // Warn at this fraction of daily budget
	ResetHour     int     `yaml:"reset_hour"`     // UTC hour to reset budgets (0-23)
}

// GlobalConfig represents global provider settings.
type GlobalConfig struct {
	MaxConcurrentPerHost int    `yaml:"max_concurrent_per_host"`
	UserAgent            string `yaml:"user_agent"`
}

// LoadProvidersConfig loads provider configuration from a YAML file.
func LoadProvidersConfig(configPath string) (*ProvidersConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers config: %w", err)
	}

	var config ProvidersConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse providers config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid providers config: %w", err)
	}

	return &config, nil
}

// DefaultProvidersConfig returns the built-in provider operations config used
// when no YAML file is present.
func DefaultProvidersConfig() *ProvidersConfig {
	defaults := map[string]struct {
		host    string
		baseURL string
		rps     int
		budget  int
		ttl     int
	}{
		"coingecko":     {"api.coingecko.com", "https://api.coingecko.com/api/v3", 1, 5000, 300},
		"cryptocompare": {"min-api.cryptocompare.com", "https://min-api.cryptocompare.com/data", 2, 8000, 300},
		"defillama":     {"api.llama.fi", "https://api.llama.fi", 2, 10000, 600},
		"feargreed":     {"api.alternative.me", "https://api.alternative.me/fng", 1, 2000, 900},
		"cryptopanic":   {"cryptopanic.com", "https://cryptopanic.com/api/v1", 1, 2000, 300},
		"lunarcrush":    {"api.lunarcrush.com", "https://api.lunarcrush.com/v2", 1, 2000, 600},
		"explorer":      {"api.etherscan.io", "https://api.etherscan.io/api", 2, 10000, 600},
		"anthropic":     {"api.anthropic.com", "https://api.anthropic.com/v1", 1, 2000, 0},
	}

	providers := make(map[string]ProviderConfig, len(defaults))
	for name, d := range defaults {
		providers[name] = ProviderConfig{
			Host:        d.host,
			BaseURL:     d.baseURL,
			RPS:         d.rps,
			Burst:       d.rps * 2,
			DailyBudget: d.budget,
			TTLSecs:     d.ttl,
			BackoffMS:   BackoffConfig{Base: 250, Max: 8000, Jitter: true},
			Circuit: CircuitConfig{
				ErrorRateThreshold:  30.0,
				ConsecutiveFailures: 5,
				MaxRequests:         2,
				IntervalMS:          60000,
				TimeoutMS:           30000,
				RequestTimeoutMS:    10000,
			},
			Enabled: true,
		}
	}

	// OHLCV history falls back to CoinGecko market charts.
	cc := providers["cryptocompare"]
	cc.Fallbacks = []string{"coingecko"}
	providers["cryptocompare"] = cc

	return &ProvidersConfig{
		Providers: providers,
		Budget:    BudgetConfig{WarnThreshold: 0.8, ResetHour: 0},
		Global: GlobalConfig{
			MaxConcurrentPerHost: 4,
			UserAgent:            "DeFiInsight/1.3 (+https://defiinsight.io)",
		},
	}
}

// LoadProvidersConfigOrDefault loads the YAML config and falls back to the
// built-in defaults when the file does not exist.
func LoadProvidersConfigOrDefault(configPath string) (*ProvidersConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultProvidersConfig(), nil
	}
	return LoadProvidersConfig(configPath)
}

// Validate ensures the configuration is valid and consistent.
func (c *ProvidersConfig) Validate() error {
	if c.Budget.WarnThreshold <= 0 || c.Budget.WarnThreshold > 1 {
		return fmt.Errorf("budget warn_threshold must be between 0 and 1, got %f", c.Budget.WarnThreshold)
	}
	if c.Budget.ResetHour < 0 || c.Budget.ResetHour > 23 {
		return fmt.Errorf("budget reset_hour must be between 0 and 23, got %d", c.Budget.ResetHour)
	}

	if c.Global.MaxConcurrentPerHost <= 0 {
		return fmt.Errorf("global max_concurrent_per_host must be positive, got %d", c.Global.MaxConcurrentPerHost)
	}
	if c.Global.UserAgent == "" {
		return fmt.Errorf("global user_agent cannot be empty")
	}

	for name, provider := range c.Providers {
		if err := provider.Validate(); err != nil {
			return fmt.Errorf("provider %s: %w", name, err)
		}
		for _, fb := range provider.Fallbacks {
			if _, ok := c.Providers[fb]; !ok {
				return fmt.Errorf("provider %s: unknown fallback %q", name, fb)
			}
		}
	}

	return nil
}

// Validate ensures a provider configuration is valid.
func (p *ProviderConfig) Validate() error {
	if p.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	if p.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}
	if p.RPS <= 0 {
		return fmt.Errorf("rps must be positive, got %d", p.RPS)
	}
	if p.Burst < p.RPS {
		return fmt.Errorf("burst (%d) must be >= rps (%d)", p.Burst, p.RPS)
	}
	if p.DailyBudget <= 0 {
		return fmt.Errorf("daily_budget must be positive, got %d", p.DailyBudget)
	}
	if p.TTLSecs < 0 {
		return fmt.Errorf("ttl_secs cannot be negative, got %d", p.TTLSecs)
	}
	if err := p.BackoffMS.Validate(); err != nil {
		return fmt.Errorf("backoff_ms: %w", err)
	}
	if err := p.Circuit.Validate(); err != nil {
		return fmt.Errorf("circuit: %w", err)
	}
	return nil
}

// Validate ensures backoff configuration is valid.
func (b *BackoffConfig) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("base must be positive, got %d", b.Base)
	}
	if b.Max <= b.Base {
		return fmt.Errorf("max (%d) must be > base (%d)", b.Max, b.Base)
	}
	return nil
}

// Validate ensures circuit breaker configuration is valid.
func (c *CircuitConfig) Validate() error {
	if c.ErrorRateThreshold <= 0 || c.ErrorRateThreshold > 100 {
		return fmt.Errorf("error_rate_threshold must be in (0,100], got %f", c.ErrorRateThreshold)
	}
	if c.ConsecutiveFailures == 0 {
		return fmt.Errorf("consecutive_failures must be positive")
	}
	if c.TimeoutMS <= 0 {
		return fmt.Errorf("timeout_ms must be positive, got %d", c.TimeoutMS)
	}
	if c.RequestTimeoutMS <= 0 {
		return fmt.Errorf("request_timeout_ms must be positive, got %d", c.RequestTimeoutMS)
	}
	return nil
}

// GetCacheTTL returns the cache TTL as a time.Duration.
func (p *ProviderConfig) GetCacheTTL() time.Duration {
	return time.Duration(p.TTLSecs) * time.Second
}

// GetRequestTimeout returns the per-request timeout as a time.Duration.
func (p *ProviderConfig) GetRequestTimeout() time.Duration {
	return time.Duration(p.Circuit.RequestTimeoutMS) * time.Millisecond
}

// GetBaseBackoff returns the base backoff as a time.Duration.
func (p *ProviderConfig) GetBaseBackoff() time.Duration {
	return time.Duration(p.BackoffMS.Base) * time.Millisecond
}

// GetMaxBackoff returns the maximum backoff as a time.Duration.
func (p *ProviderConfig) GetMaxBackoff() time.Duration {
	return time.Duration(p.BackoffMS.Max) * time.Millisecond
}

// GetProvider returns configuration for a specific provider.
func (c *ProvidersConfig) GetProvider(name string) (*ProviderConfig, bool) {
	config, exists := c.Providers[name]
	return &config, exists
}

// IsProviderEnabled checks if a provider is enabled.
func (c *ProvidersConfig) IsProviderEnabled(name string) bool {
	if config, exists := c.Providers[name]; exists {
		return config.Enabled
	}
	return false
}
