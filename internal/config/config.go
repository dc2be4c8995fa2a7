package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Hermes    HermesConfig    `yaml:"hermes"`
	Tails     TailsConfig     `yaml:"tails"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Sweeper   SweeperConfig   `yaml:"sweeper"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
}

// DatabaseConfig selects the store. An empty URL runs against the in-memory store.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	EnsureSchema bool   `yaml:"ensure_schema"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

type TailsConfig struct {
	DefaultWindowMinutes int `yaml:"default_window_minutes"`
	MaxWindowMinutes     int `yaml:"max_window_minutes"`
}

type AnalyticsConfig struct {
	TopN int `yaml:"top_n"`
}

type SweeperConfig struct {
	Enabled           bool `yaml:"enabled"`
	IntervalMs        int  `yaml:"interval_ms"`
	SnapshotAnalytics bool `yaml:"snapshot_analytics"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig selects the span exporter. "none" leaves the global
// TracerProvider untouched.
type TracingConfig struct {
	Exporter    string  `yaml:"exporter"` // none|stdout|otlp
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalMs) * time.Millisecond
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8700,
			MetricsPort: 8701,
		},
		Database: DatabaseConfig{
			EnsureSchema: true,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Tails: TailsConfig{
			DefaultWindowMinutes: 30,
			MaxWindowMinutes:     1440,
		},
		Analytics: AnalyticsConfig{
			TopN: 5,
		},
		Sweeper: SweeperConfig{
			Enabled:    false,
			IntervalMs: 60000,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 120,
			Burst:             20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			Endpoint:    "localhost:4317",
			Insecure:    true,
			SampleRate:  1,
			Environment: "development",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the services cannot run with.
func (c *Config) Validate() error {
	if c.Tails.DefaultWindowMinutes <= 0 {
		return fmt.Errorf("tails.default_window_minutes must be positive")
	}
	if c.Tails.MaxWindowMinutes < c.Tails.DefaultWindowMinutes {
		return fmt.Errorf("tails.max_window_minutes must be >= default_window_minutes")
	}
	if c.Sweeper.Enabled && c.Sweeper.IntervalMs <= 0 {
		return fmt.Errorf("sweeper.interval_ms must be positive when the sweeper is enabled")
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must be positive")
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	case "otlp":
		if c.Tracing.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter %q must be one of none, stdout, otlp", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TAILGATE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("TAILGATE_METRICS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.MetricsPort = n
		}
	}
	if v := os.Getenv("TAILGATE_ADMIN_TOKEN"); v != "" {
		cfg.Server.AdminToken = v
	}
	if v := os.Getenv("TAILGATE_DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("TAILGATE_ENSURE_SCHEMA"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Database.EnsureSchema = b
		}
	}
	if v := os.Getenv("TAILGATE_HERMES_URL"); v != "" {
		cfg.Hermes.URL = v
	}
	if v := os.Getenv("TAILGATE_SWEEPER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sweeper.Enabled = b
		}
	}
	if v := os.Getenv("TAILGATE_SWEEP_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sweeper.IntervalMs = n
		}
	}
	if v := os.Getenv("TAILGATE_RATE_LIMIT_RPM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.RequestsPerMinute = n
		}
	}
	if v := os.Getenv("TAILGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TAILGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TAILGATE_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("TAILGATE_OTLP_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("TAILGATE_OTLP_INSECURE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Tracing.Insecure = b
		}
	}
	if v := os.Getenv("TAILGATE_TRACE_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("TAILGATE_ENV"); v != "" {
		cfg.Tracing.Environment = v
	}
}
