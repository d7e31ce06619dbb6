package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/agency-portal/internal/entitlement"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    slog.Level

	DeliveryTimeout  time.Duration
	SweepBatchSize   int
	SweepConcurrency int
	SweepInterval    time.Duration
	SweepDeadline    time.Duration
	SweepClaimLease  time.Duration
	AutoDisableAfter int

	InternalAPISecret string
	APIRateLimit      int

	// PlanPrices maps payment provider price identifiers to tiers.
	PlanPrices map[string]entitlement.Tier
}

// fileConfig is the optional YAML overlay named by CONFIG_FILE.
type fileConfig struct {
	Plans map[string][]string `yaml:"plans"`
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		RedisURL:          getEnv("REDIS_URL", ""),
		SweepBatchSize:    getEnvInt("SWEEP_BATCH_SIZE", 50),
		SweepConcurrency:  getEnvInt("SWEEP_CONCURRENCY", 10),
		AutoDisableAfter:  getEnvInt("WEBHOOK_AUTO_DISABLE_AFTER", 0),
		InternalAPISecret: getEnv("INTERNAL_API_SECRET", ""),
		APIRateLimit:      getEnvInt("API_RATE_LIMIT", 0),
		PlanPrices:        map[string]entitlement.Tier{},
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("parsing LOG_LEVEL: %w", err)
	}

	var err error
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"DELIVERY_TIMEOUT", 30 * time.Second, &cfg.DeliveryTimeout},
		{"SWEEP_INTERVAL", 0, &cfg.SweepInterval},
		{"SWEEP_DEADLINE", 4 * time.Minute, &cfg.SweepDeadline},
		{"SWEEP_CLAIM_LEASE", 5 * time.Minute, &cfg.SweepClaimLease},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	prices := map[entitlement.Tier]string{
		entitlement.TierStarter: "PLAN_PRICE_STARTER",
		entitlement.TierGrowth:  "PLAN_PRICE_GROWTH",
		entitlement.TierScale:   "PLAN_PRICE_SCALE",
	}
	for tier, key := range prices {
		for _, id := range splitList(os.Getenv(key)) {
			cfg.PlanPrices[id] = tier
		}
	}

	if cfg.SweepConcurrency < 1 {
		return nil, fmt.Errorf("SWEEP_CONCURRENCY must be at least 1")
	}
	if cfg.SweepBatchSize < 1 {
		return nil, fmt.Errorf("SWEEP_BATCH_SIZE must be at least 1")
	}
	// A lease that can lapse mid-sweep lets another replica claim the same row.
	if cfg.SweepClaimLease <= cfg.SweepDeadline {
		return nil, fmt.Errorf("SWEEP_CLAIM_LEASE (%s) must be longer than SWEEP_DEADLINE (%s)", cfg.SweepClaimLease, cfg.SweepDeadline)
	}

	return cfg, nil
}

// RequireDatabase fails when no DATABASE_URL is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	return nil
}

// Catalog builds the plan catalog from PlanPrices.
func (c *Config) Catalog() *entitlement.Catalog {
	return entitlement.NewCatalog(c.PlanPrices)
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	for name, ids := range fc.Plans {
		tier, ok := entitlement.ParseTier(name)
		if !ok {
			return fmt.Errorf("config file: unknown plan tier %q", name)
		}
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				c.PlanPrices[id] = tier
			}
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
