package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Priya8975/agency-portal/internal/entitlement"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp keeps Load from picking up a stray .env in the package directory.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)
	for _, key := range []string{"PORT", "DATABASE_URL", "LOG_LEVEL", "DELIVERY_TIMEOUT", "SWEEP_BATCH_SIZE",
		"SWEEP_CONCURRENCY", "SWEEP_INTERVAL", "SWEEP_DEADLINE", "SWEEP_CLAIM_LEASE", "WEBHOOK_AUTO_DISABLE_AFTER"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, 50, cfg.SweepBatchSize)
	assert.Equal(t, 10, cfg.SweepConcurrency)
	assert.Equal(t, time.Duration(0), cfg.SweepInterval)
	assert.Equal(t, 4*time.Minute, cfg.SweepDeadline)
	assert.Equal(t, 5*time.Minute, cfg.SweepClaimLease)
	assert.Equal(t, 0, cfg.AutoDisableAfter)
	assert.Error(t, cfg.RequireDatabase())
}

func TestLoad_Env(t *testing.T) {
	chdirTemp(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/portal")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("DELIVERY_TIMEOUT", "5s")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("WEBHOOK_AUTO_DISABLE_AFTER", "3")
	t.Setenv("PLAN_PRICE_GROWTH", "price_growth_m, price_growth_y")
	t.Setenv("PLAN_PRICE_SCALE", "price_scale")

	cfg, err := Load()
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireDatabase())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.DeliveryTimeout)
	assert.Equal(t, time.Minute, cfg.SweepInterval)
	assert.Equal(t, 3, cfg.AutoDisableAfter)

	catalog := cfg.Catalog()
	assert.Equal(t, entitlement.TierGrowth, catalog.Resolve("price_growth_y").Tier)
	assert.Equal(t, entitlement.TierScale, catalog.Resolve("price_scale").Tier)
	assert.Equal(t, entitlement.TierStarter, catalog.Resolve("price_unknown").Tier)
}

func TestLoad_InvalidDuration(t *testing.T) {
	chdirTemp(t)
	t.Setenv("SWEEP_DEADLINE", "four minutes")

	_, err := Load()
	assert.ErrorContains(t, err, "SWEEP_DEADLINE")
}

func TestLoad_LeaseMustOutlastDeadline(t *testing.T) {
	tests := []struct {
		name     string
		lease    string
		deadline string
		wantErr  bool
	}{
		{"defaults", "", "", false},
		{"lease shorter than deadline", "1m", "4m", true},
		{"lease equal to deadline", "4m", "4m", true},
		{"lease longer than deadline", "10m", "8m", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv("SWEEP_CLAIM_LEASE", tt.lease)
			t.Setenv("SWEEP_DEADLINE", tt.deadline)

			_, err := Load()
			if tt.wantErr {
				assert.ErrorContains(t, err, "SWEEP_CLAIM_LEASE")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("PORT=9999\nINTERNAL_API_SECRET=s3cret\n"), 0o600))
	t.Setenv("PORT", "")
	t.Setenv("INTERNAL_API_SECRET", "")
	os.Unsetenv("PORT")
	os.Unsetenv("INTERNAL_API_SECRET")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, "s3cret", cfg.InternalAPISecret)
}

func TestLoad_YAMLPlans(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
plans:
  growth: [price_g1]
  Scale:
    - price_s1
    - price_s2
`), 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, entitlement.TierGrowth, cfg.PlanPrices["price_g1"])
	assert.Equal(t, entitlement.TierScale, cfg.PlanPrices["price_s2"])
}

func TestLoad_YAMLUnknownTier(t *testing.T) {
	dir := chdirTemp(t)
	path := filepath.Join(dir, "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("plans:\n  enterprise: [price_e]\n"), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	assert.ErrorContains(t, err, "enterprise")
}
