package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the engine reads from the environment.
// One FromEnv call at startup produces the value handed to each component;
// nothing else in the engine touches os.Getenv.
type Config struct {
	Port        string
	DatabaseURL string

	// HTTP surface.
	AllowedOrigins  string
	APIAuthToken    string
	RateLimitPerMin int
	RateLimitBurst  int

	// Federation defaults applied when a start-round request omits them.
	MinClientsDefault  int
	PrivacyEpsilon     float64
	PrivacySensitivity float64
	PrivacyBudgetCap   float64

	// Store liveness.
	HeartbeatTimeout time.Duration
	LivenessSweep    time.Duration

	// Mining worker pool.
	WorkerPoolSize int
	QueueDepth     int
	StaleJobAfter  time.Duration
	BatchSize      int

	// Cache capacities for the mining engine.
	CachePatterns    int
	CacheBounds      int
	CacheProjections int
}

// FromEnv loads configuration from the process environment. Every knob has
// a default; only values that fail to parse produce an error.
func FromEnv() (Config, error) {
	cfg := Config{
		Port:           getEnvOrDefault("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		APIAuthToken:   os.Getenv("API_AUTH_TOKEN"),
	}

	var err error
	if cfg.RateLimitPerMin, err = intEnv("RATE_LIMIT_PER_MIN", 120); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitBurst, err = intEnv("RATE_LIMIT_BURST", 30); err != nil {
		return Config{}, err
	}
	if cfg.MinClientsDefault, err = intEnv("MIN_CLIENTS_DEFAULT", 2); err != nil {
		return Config{}, err
	}
	if cfg.PrivacyEpsilon, err = floatEnv("PRIVACY_EPSILON_DEFAULT", 1.0); err != nil {
		return Config{}, err
	}
	if cfg.PrivacySensitivity, err = floatEnv("PRIVACY_SENSITIVITY", 1.0); err != nil {
		return Config{}, err
	}
	if cfg.PrivacyBudgetCap, err = floatEnv("PRIVACY_BUDGET_CAP", 10.0); err != nil {
		return Config{}, err
	}
	if cfg.HeartbeatTimeout, err = durationEnv("HEARTBEAT_INACTIVE_TIMEOUT", 60*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.LivenessSweep, err = durationEnv("LIVENESS_SWEEP_PERIOD", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.WorkerPoolSize, err = intEnv("MINING_WORKER_POOL_SIZE", 4); err != nil {
		return Config{}, err
	}
	if cfg.QueueDepth, err = intEnv("MINING_QUEUE_DEPTH", 64); err != nil {
		return Config{}, err
	}
	if cfg.StaleJobAfter, err = durationEnv("STALE_JOB_TIMEOUT", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.BatchSize, err = intEnv("MINING_BATCH_SIZE", 5000); err != nil {
		return Config{}, err
	}
	if cfg.CachePatterns, err = intEnv("CACHE_SIZE_PATTERNS", 4096); err != nil {
		return Config{}, err
	}
	if cfg.CacheBounds, err = intEnv("CACHE_SIZE_BOUNDS", 8192); err != nil {
		return Config{}, err
	}
	if cfg.CacheProjections, err = intEnv("CACHE_SIZE_PROJECTIONS", 1024); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.RateLimitPerMin < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MIN must be >= 1, got %d", c.RateLimitPerMin)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 1, got %d", c.RateLimitBurst)
	}
	if c.MinClientsDefault < 1 {
		return fmt.Errorf("MIN_CLIENTS_DEFAULT must be >= 1, got %d", c.MinClientsDefault)
	}
	if c.PrivacyEpsilon < 0 {
		return fmt.Errorf("PRIVACY_EPSILON_DEFAULT must be >= 0, got %g", c.PrivacyEpsilon)
	}
	if c.PrivacySensitivity <= 0 {
		return fmt.Errorf("PRIVACY_SENSITIVITY must be > 0, got %g", c.PrivacySensitivity)
	}
	if c.PrivacyBudgetCap <= 0 {
		return fmt.Errorf("PRIVACY_BUDGET_CAP must be > 0, got %g", c.PrivacyBudgetCap)
	}
	if c.HeartbeatTimeout <= 0 {
		return fmt.Errorf("HEARTBEAT_INACTIVE_TIMEOUT must be positive, got %s", c.HeartbeatTimeout)
	}
	if c.LivenessSweep <= 0 {
		return fmt.Errorf("LIVENESS_SWEEP_PERIOD must be positive, got %s", c.LivenessSweep)
	}
	if c.StaleJobAfter <= 0 {
		return fmt.Errorf("STALE_JOB_TIMEOUT must be positive, got %s", c.StaleJobAfter)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("MINING_WORKER_POOL_SIZE must be >= 1, got %d", c.WorkerPoolSize)
	}
	if c.QueueDepth < 1 {
		return fmt.Errorf("MINING_QUEUE_DEPTH must be >= 1, got %d", c.QueueDepth)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("MINING_BATCH_SIZE must be >= 1, got %d", c.BatchSize)
	}
	return nil
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", key, v)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q", key, v)
	}
	return f, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q (use forms like 30s, 10m)", key, v)
	}
	return d, nil
}
