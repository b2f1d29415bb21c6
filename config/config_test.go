package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/rewards-engine/config"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, ":8080", cfg.ListenAddress)
	assert.Equal(t, "./data/rewards.db", cfg.DatabasePath)
	assert.Equal(t, 5*time.Second, cfg.LockTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout.Duration)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, float64(1), cfg.RateLimit.PerSecond)
	assert.Equal(t, 5, cfg.RateLimit.Burst)
	assert.NotEmpty(t, cfg.CORS.AllowedOrigins)
	assert.Equal(t, time.Hour, cfg.Reconcile.Interval.Duration)
	assert.False(t, cfg.Reconcile.Disabled)
}

func TestLoad_FullFile(t *testing.T) {
	admins := writeFile(t, "admins.txt", "# support team\nadmin-2\n\n  admin-3  \n")
	path := writeFile(t, "rewards.yaml", `
listen: ":9090"
database: ":memory:"
environment: production
lock_timeout: 250ms
shutdown_timeout: 10s
admins: ["admin-1", " "]
admins_file: `+admins+`
log:
  level: debug
rate_limit:
  per_second: 2
  burst: 3
reconcile:
  disabled: true
  interval: 15m
program:
  base_amount: 20
  timezone: UTC
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ListenAddress)
	assert.Equal(t, ":memory:", cfg.DatabasePath)
	assert.Equal(t, "production", cfg.Environment)
	assert.Equal(t, 250*time.Millisecond, cfg.LockTimeout.Duration)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout.Duration)
	assert.Equal(t, []string{"admin-1", "admin-2", "admin-3"}, cfg.Admins)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 100, cfg.Log.MaxSizeMB, "unset fields keep defaults")
	assert.Equal(t, float64(2), cfg.RateLimit.PerSecond)
	assert.Equal(t, float64(2), cfg.RateLimit.Rate())
	assert.Equal(t, int64(20), cfg.Program.BaseAmount)
	assert.True(t, cfg.Reconcile.Disabled)
	assert.Equal(t, 15*time.Minute, cfg.Reconcile.Interval.Duration)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "listen: \":1\"\nbogus: true\n"},
		{"bad duration", "lock_timeout: soon\n"},
		{"bad log level", "log:\n  level: chatty\n"},
		{"negative rate", "rate_limit:\n  per_second: -1\n"},
		{"invalid program", "program:\n  base_amount: -3\n"},
		{"negative reconcile interval", "reconcile:\n  interval: -1m\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(writeFile(t, "rewards.yaml", tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad_RateLimitDisabled(t *testing.T) {
	// GIVEN: A config that turns the claim limiter off
	path := writeFile(t, "rewards.yaml", "rate_limit:\n  disabled: true\n")

	// WHEN: It is loaded
	cfg, err := config.Load(path)
	require.NoError(t, err)

	// THEN: The per_second default stays in place but no rate is enforced
	assert.True(t, cfg.RateLimit.Disabled)
	assert.Equal(t, float64(1), cfg.RateLimit.PerSecond)
	assert.Zero(t, cfg.RateLimit.Rate())
	assert.Equal(t, float64(1), config.Default().RateLimit.Rate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MissingAdminsFile(t *testing.T) {
	path := writeFile(t, "rewards.yaml", "admins_file: /does/not/exist\n")

	_, err := config.Load(path)
	assert.Error(t, err)
}
