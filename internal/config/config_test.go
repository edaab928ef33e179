package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Dedup.SimhashDistance)
	assert.Equal(t, 96, cfg.Dedup.LookbackHours)
	assert.Equal(t, 0.22, cfg.Freshness.StaleThreshold)
	assert.Equal(t, 0.08, cfg.Freshness.ExpireThreshold)
	assert.Equal(t, 6, cfg.Scheduler.MaxConcurrent)
	assert.Equal(t, 800, cfg.Scheduler.MinDelayMs)
	assert.Equal(t, 30, cfg.Quota.PerSourcePerDay)
	assert.InDelta(t, 36, cfg.HalfLifeFor("breaking_market"), 1e-9)
	assert.InDelta(t, 72, cfg.HalfLifeFor("unknown_category"), 1e-9)
}

func TestLoadSourcesAndDefaults(t *testing.T) {
	path := writeConfig(t, `
sources:
  - id: energy-wire
    type: feed
    url: https://example.com/rss.xml
    category: energy_inventory
    enabled: true
  - id: port-status
    type: html
    url: https://example.com/status
    enabled: false
    reliability: 0.9
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)

	first := cfg.Sources[0]
	assert.Equal(t, 40, first.MaxItems)
	assert.Equal(t, "en", first.Language)
	assert.InDelta(t, 0.7, first.Reliability, 1e-9)

	enabled := cfg.EnabledSources(nil)
	require.Len(t, enabled, 1)
	assert.Equal(t, "energy-wire", enabled[0].ID)

	assert.Empty(t, cfg.EnabledSources([]string{"port-status"}))
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "duplicate source ids",
			body: "sources:\n  - {id: a, url: https://x, enabled: true}\n  - {id: a, url: https://y, enabled: true}\n",
			want: "duplicate source id",
		},
		{
			name: "missing url",
			body: "sources:\n  - {id: a, enabled: true}\n",
			want: "url must be set",
		},
		{
			name: "inverted thresholds",
			body: "freshness:\n  stale_threshold: 0.05\n  expire_threshold: 0.2\n",
			want: "stale_threshold",
		},
		{
			name: "bad simhash distance",
			body: "dedup:\n  simhash_distance: 90\n",
			want: "simhash_distance",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
