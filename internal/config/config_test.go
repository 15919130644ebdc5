package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "myhealth", cfg.Database.Database)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)

	assert.Equal(t, 9, cfg.Pipeline.UTCOffsetHours)
	assert.Equal(t, 5, cfg.Pipeline.WindowMinutes)
	assert.Equal(t, 5*time.Minute, cfg.Pipeline.Interval)
	assert.Equal(t, 4.0, cfg.Pipeline.SamplingRate)
	assert.Equal(t, 3.0, cfg.Pipeline.OutlierSigma)
	assert.Equal(t, 10, cfg.Pipeline.MinFrequencyRRs)

	assert.Equal(t, 1, cfg.Compliance.BucketMinutes)
	assert.True(t, cfg.Compliance.CacheEnabled)
	assert.Equal(t, "hrv:cycle:events", cfg.Events.Stream)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PORT", "6543")
	t.Setenv("HRV_WORKERS", "8")
	t.Setenv("HRV_SAMPLING_RATE", "2.5")
	t.Setenv("COMPLIANCE_CACHE_ENABLED", "false")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6543, cfg.Database.Port)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 2.5, cfg.Pipeline.SamplingRate)
	assert.False(t, cfg.Compliance.CacheEnabled)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("HRV_WINDOW_MINUTES", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	cfg := &Config{}
	cfg.Pipeline.UTCOffsetHours = 9

	loc := cfg.Location()
	_, offset := time.Date(2025, 1, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 9*3600, offset)
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	assert.Equal(t, "test-value", getEnv("TEST_VAR", "default"))
	assert.Equal(t, "default-value", getEnv("NON_EXISTENT_VAR", "default-value"))
	assert.Equal(t, 7, getEnvInt("NON_EXISTENT_INT", 7))
}
