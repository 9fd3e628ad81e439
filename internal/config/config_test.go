package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/wxbench/internal/wx"
)

func validConfig() *Config {
	return &Config{
		Location: LocationConfig{
			Latitude:  43.6532,
			Longitude: -79.3832,
			Timezone:  "America/Toronto",
		},
		Providers: ProvidersConfig{
			Enabled: []string{"openweather", "msc_geomet"},
		},
	}
}

func TestValidateAppliesDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "ambient_weather", cfg.Providers.GroundTruth)
	assert.Equal(t, 15, cfg.Providers.RequestTimeoutSeconds)
	assert.Equal(t, 2, cfg.Providers.MaxRetries)
	assert.Equal(t, 84, cfg.Providers.MSCRDPSMaxLeadHours)
	assert.Equal(t, "data/wxbench.db", cfg.Storage.SQLitePath)
	assert.Equal(t, "data/runs", cfg.Artifacts.BasePath)
	assert.Equal(t, 30, cfg.Matching.ToleranceMinutes)
	assert.Equal(t, 8500, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"latitude out of range", func(c *Config) { c.Location.Latitude = 91 }},
		{"longitude out of range", func(c *Config) { c.Location.Longitude = -181 }},
		{"missing timezone", func(c *Config) { c.Location.Timezone = "" }},
		{"bad timezone", func(c *Config) { c.Location.Timezone = "Not/AZone" }},
		{"no providers", func(c *Config) { c.Providers.Enabled = nil }},
		{"unknown provider", func(c *Config) { c.Providers.Enabled = []string{"noaa"} }},
		{"duplicate provider", func(c *Config) { c.Providers.Enabled = []string{"openweather", "openweather"} }},
		{"bad ground truth", func(c *Config) { c.Providers.GroundTruth = "noaa" }},
		{"negative retries", func(c *Config) { c.Providers.MaxRetries = -1 }},
		{"negative lead horizon", func(c *Config) { c.Providers.MSCRDPSMaxLeadHours = -1 }},
		{"negative tolerance", func(c *Config) { c.Matching.ToleranceMinutes = -5 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[location]
latitude = 43.6532
longitude = -79.3832
timezone = "America/Toronto"

[providers]
enabled = ["openweather", "tomorrow_io"]
ground_truth = "ambient_weather"
max_retries = 3

[matching]
tolerance_minutes = 20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"openweather", "tomorrow_io"}, cfg.Providers.Enabled)
	assert.Equal(t, 3, cfg.Providers.MaxRetries)
	assert.Equal(t, 20, cfg.Matching.ToleranceMinutes)
	assert.Equal(t, "43.6532,-79.3832", cfg.WxLocation().Name())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	assert.Error(t, err)
}

func TestEnabledProviders(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []wx.Provider{wx.ProviderOpenWeather, wx.ProviderMSCGeoMet}, cfg.EnabledProviders())
}

func TestCollectProviderKeys(t *testing.T) {
	keys := collectProviderKeys([]string{
		"WXBENCH_OPENWEATHER_API_KEY=abc123",
		"WXBENCH_AMBIENT_WEATHER_APP_KEY=def456",
		"WXBENCH_EMPTY=",
		"PATH=/usr/bin",
	})

	assert.Equal(t, "abc123", keys["WXBENCH_OPENWEATHER_API_KEY"])
	assert.Equal(t, "def456", keys["WXBENCH_AMBIENT_WEATHER_APP_KEY"])
	assert.NotContains(t, keys, "WXBENCH_EMPTY")
	assert.NotContains(t, keys, "PATH")
}

func TestKeysNeverComeFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[location]
latitude = 1.0
longitude = 1.0
timezone = "UTC"

[providers]
enabled = ["openweather"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers.Key("WXBENCH_NOT_SET_ANYWHERE"))
}
