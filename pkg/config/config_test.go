package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 3, cfg.Vision.MaxInFlight)
	assert.Equal(t, 20, cfg.Vision.MaxFrames)
	assert.Equal(t, int64(25*1024*1024), cfg.Speech.MaxUploadBytes)
	assert.Contains(t, cfg.Speech.AcceptedFormats, "mp3")
	assert.False(t, cfg.InlineDispatch)
	assert.Equal(t, 45*time.Minute, cfg.Queue.JobTimeout)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9999")
	t.Setenv("INLINE_DISPATCH", "true")
	t.Setenv("VISION_MAX_IN_FLIGHT", "5")
	t.Setenv("QUEUE_WORKER_COUNT", "7")
	t.Setenv("QUEUE_POLL_INTERVAL", "250ms")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.HTTPPort)
	assert.True(t, cfg.InlineDispatch)
	assert.Equal(t, 5, cfg.Vision.MaxInFlight)
	assert.Equal(t, 7, cfg.Queue.WorkerCount)
	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("VISION_MAX_IN_FLIGHT", "0")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_in_flight")
}

func TestTierTable_VideoCost(t *testing.T) {
	table := DefaultTierTable()

	tests := []struct {
		name          string
		minutes       float64
		analyzeFrames bool
		want          int
	}{
		{"three minutes with frames", 3, true, 5},
		{"three minutes audio only", 3, false, 3},
		{"partial minute rounds up", 0.5, false, 1},
		{"zero duration floors at one credit", 0, false, 1},
		{"hour with frames", 60, true, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.VideoCost(tt.minutes, tt.analyzeFrames))
		})
	}
}

func TestTierTable_TierForDuration(t *testing.T) {
	table := DefaultTierTable()

	tier, ok := table.TierForDuration(30)
	require.True(t, ok)
	assert.Equal(t, "free", tier.Name)

	tier, ok = table.TierForDuration(240)
	require.True(t, ok)
	assert.Equal(t, "pro", tier.Name)

	_, ok = table.TierForDuration(10000)
	assert.False(t, ok)
}

func TestLoadTierTable_FromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yaml")
	content := `
tiers:
  - name: basic
    monthly_credits: 10
    max_duration_minutes: 30
    storage_limit_mb: 512
pricing:
  credits_per_minute: 2
  frame_analysis_per_minute: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	table, err := LoadTierTable(path)
	require.NoError(t, err)
	require.Len(t, table.Tiers, 1)
	assert.Equal(t, "basic", table.Tiers[0].Name)
	assert.Equal(t, 9, table.VideoCost(3, true))
}

func TestLoadTierTable_MissingFile(t *testing.T) {
	_, err := LoadTierTable("/nonexistent/tiers.yaml")
	require.Error(t, err)
}
