package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the arena backend.
type Config struct {
	Postgres      PostgresConfig      `yaml:"postgres"`
	NATS          NATSConfig          `yaml:"nats"`
	Queue         QueueConfig         `yaml:"queue"`
	Matchmaking   MatchmakingConfig   `yaml:"matchmaking"`
	Game          GameConfig          `yaml:"game"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// PostgresConfig holds Postgres configuration.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// NATSConfig holds NATS configuration.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig tunes the durable turn queue.
type QueueConfig struct {
	// MaxWorkers bounds concurrent turn processing per instance.
	MaxWorkers int `yaml:"max_workers"`

	// AgentRequestsPerSecond throttles agent decision calls; zero
	// disables throttling.
	AgentRequestsPerSecond float64 `yaml:"agent_requests_per_second"`
}

// MatchmakingConfig tunes the waiting-room state machine.
type MatchmakingConfig struct {
	WaitingPeriod        time.Duration `yaml:"waiting_period"`
	StaleGameAge         time.Duration `yaml:"stale_game_age"`
	DeadlineInterval     time.Duration `yaml:"deadline_interval"`
	StaleSweepInterval   time.Duration `yaml:"stale_sweep_interval"`
	SystemAgentVersionID string        `yaml:"system_agent_version_id"`
	SystemUserID         string        `yaml:"system_user_id"`
}

// GameConfig tunes the turn orchestrator.
type GameConfig struct {
	// LockStaleAfter is the age past which a held processing lock is
	// treated as abandoned and reclaimed.
	LockStaleAfter time.Duration `yaml:"lock_stale_after"`
}

// ObservabilityConfig holds configuration for observability components.
type ObservabilityConfig struct {
	// OpsAddress serves /healthz and /metrics; empty disables the server.
	OpsAddress  string `yaml:"ops_address"`
	Environment string `yaml:"environment"`
}

// LoadConfig loads the configuration from a YAML file, falling back to
// environment variables when the file does not exist. Environment
// variables override file values either way.
func LoadConfig(filename string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(filename)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("OPS_ADDRESS"); v != "" {
		cfg.Observability.OpsAddress = v
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Observability.Environment = v
	}
	if v := os.Getenv("QUEUE_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxWorkers = n
		}
	}
	if v := os.Getenv("AGENT_REQUESTS_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Queue.AgentRequestsPerSecond = f
		}
	}
	if v := os.Getenv("MATCHMAKING_WAITING_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Matchmaking.WaitingPeriod = d
		}
	}
	if v := os.Getenv("MATCHMAKING_STALE_GAME_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Matchmaking.StaleGameAge = d
		}
	}
	if v := os.Getenv("MATCHMAKING_SYSTEM_AGENT"); v != "" {
		cfg.Matchmaking.SystemAgentVersionID = v
	}
	if v := os.Getenv("MATCHMAKING_SYSTEM_USER"); v != "" {
		cfg.Matchmaking.SystemUserID = v
	}
	if v := os.Getenv("GAME_LOCK_STALE_AFTER"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Game.LockStaleAfter = d
		}
	}

	cfg.applyDefaults()

	if cfg.Postgres.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is not set (postgres.dsn or DATABASE_URL)")
	}
	if cfg.NATS.URL == "" {
		return nil, fmt.Errorf("NATS URL is not set (nats.url or NATS_URL)")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Queue.MaxWorkers <= 0 {
		c.Queue.MaxWorkers = 25
	}
	if c.Matchmaking.WaitingPeriod <= 0 {
		c.Matchmaking.WaitingPeriod = 60 * time.Second
	}
	if c.Matchmaking.StaleGameAge <= 0 {
		c.Matchmaking.StaleGameAge = 10 * time.Minute
	}
	if c.Matchmaking.DeadlineInterval <= 0 {
		c.Matchmaking.DeadlineInterval = time.Second
	}
	if c.Matchmaking.StaleSweepInterval <= 0 {
		c.Matchmaking.StaleSweepInterval = time.Minute
	}
	if c.Matchmaking.SystemAgentVersionID == "" {
		c.Matchmaking.SystemAgentVersionID = "system-bot"
	}
	if c.Matchmaking.SystemUserID == "" {
		c.Matchmaking.SystemUserID = "system"
	}
	if c.Game.LockStaleAfter <= 0 {
		c.Game.LockStaleAfter = 10 * time.Minute
	}
}
