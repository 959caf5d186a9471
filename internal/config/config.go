package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ApplyPilot server.
type Config struct {
	Server       ServerConfig
	Database     DatabaseConfig
	Redis        RedisConfig
	Board        BoardConfig
	Orchestrator OrchestratorConfig
	RateLimit    RateLimitConfig
	Submitter    SubmitterConfig
	Enrich       EnrichConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// BoardConfig points at the external job board.
type BoardConfig struct {
	BaseURL string
	APIKey  string
	Source  string
	Timeout time.Duration
}

type OrchestratorConfig struct {
	TickInterval    time.Duration
	CallTimeout     time.Duration
	MaxJobsPerCycle int
}

// RateLimitConfig shapes the per-user submission token bucket.
// RefillPerHour tokens accrue continuously up to Capacity.
type RateLimitConfig struct {
	Capacity      int
	RefillPerHour float64
}

type SubmitterConfig struct {
	Interval  time.Duration
	BatchSize int
}

type EnrichConfig struct {
	Provider string
	Keywords []string
}

var validEnrichProviders = map[string]bool{
	"none":    true,
	"keyword": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("APPLYPILOT_PORT", 8080),
			Env:  envString("APPLYPILOT_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Board: BoardConfig{
			BaseURL: os.Getenv("BOARD_BASE_URL"),
			APIKey:  os.Getenv("BOARD_API_KEY"),
			Source:  envString("BOARD_SOURCE", "board"),
			Timeout: envDuration("BOARD_TIMEOUT", 30*time.Second),
		},
		Orchestrator: OrchestratorConfig{
			TickInterval:    envDuration("ORCHESTRATOR_TICK_INTERVAL", 5*time.Minute),
			CallTimeout:     envDuration("ORCHESTRATOR_CALL_TIMEOUT", 30*time.Second),
			MaxJobsPerCycle: envInt("ORCHESTRATOR_MAX_JOBS_PER_CYCLE", 100),
		},
		RateLimit: RateLimitConfig{
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 10),
			RefillPerHour: envFloat("RATE_LIMIT_REFILL_PER_HOUR", 5),
		},
		Submitter: SubmitterConfig{
			Interval:  envDuration("SUBMITTER_INTERVAL", time.Minute),
			BatchSize: envInt("SUBMITTER_BATCH_SIZE", 20),
		},
		Enrich: EnrichConfig{
			Provider: envString("ENRICH_PROVIDER", "none"),
			Keywords: envList("ENRICH_KEYWORDS"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Board.BaseURL == "" {
		return fmt.Errorf("BOARD_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Board.BaseURL, "http://") && !strings.HasPrefix(c.Board.BaseURL, "https://") {
		return fmt.Errorf("BOARD_BASE_URL must start with http:// or https://, got %q", c.Board.BaseURL)
	}

	if !validEnrichProviders[c.Enrich.Provider] {
		return fmt.Errorf("ENRICH_PROVIDER must be one of none, keyword; got %q", c.Enrich.Provider)
	}

	if c.RateLimit.Capacity <= 0 {
		return fmt.Errorf("RATE_LIMIT_CAPACITY must be positive, got %d", c.RateLimit.Capacity)
	}
	if c.RateLimit.RefillPerHour <= 0 {
		return fmt.Errorf("RATE_LIMIT_REFILL_PER_HOUR must be positive, got %v", c.RateLimit.RefillPerHour)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
