package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ledger.db", cfg.DB.Path)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 4, cfg.Recompute.Concurrency)
	assert.Equal(t, 24*time.Hour, cfg.Recompute.Interval)
	assert.False(t, cfg.Recompute.SchedulerEnabled)
	assert.True(t, cfg.App.IsDev())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("LEDGER_DB_PATH", "/tmp/x.db")
	t.Setenv("LEDGER_PORT", "9090")
	t.Setenv("LEDGER_RECOMPUTE_CONCURRENCY", "8")
	t.Setenv("LEDGER_RECOMPUTE_INTERVAL", "30m")
	t.Setenv("LEDGER_SCHEDULER_ENABLED", "true")
	t.Setenv("LEDGER_CORS_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("LEDGER_ENV", "prod")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DB.Path)
	assert.Equal(t, 9090, cfg.HTTP.Port)
	assert.Equal(t, 8, cfg.Recompute.Concurrency)
	assert.Equal(t, 30*time.Minute, cfg.Recompute.Interval)
	assert.True(t, cfg.Recompute.SchedulerEnabled)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.HTTP.AllowedOrigins)
	assert.False(t, cfg.App.IsDev())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"zero concurrency", "LEDGER_RECOMPUTE_CONCURRENCY", "0"},
		{"port out of range", "LEDGER_PORT", "70000"},
		{"unparseable interval", "LEDGER_RECOMPUTE_INTERVAL", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
