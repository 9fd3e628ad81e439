package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yegors/wxbench/internal/wx"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Location  LocationConfig  `toml:"location"`  // Benchmark location settings
	Providers ProvidersConfig `toml:"providers"` // Weather provider settings
	Storage   StorageConfig   `toml:"storage"`   // Data persistence settings
	Artifacts ArtifactsConfig `toml:"artifacts"` // Per-run manifest/log output settings
	Matching  MatchingConfig  `toml:"matching"`  // Forecast/observation matching settings
	Server    ServerConfig    `toml:"server"`    // Inspection API server settings
	Logging   LoggingConfig   `toml:"logging"`   // Application logging settings
}

// LocationConfig contains the single benchmark location
type LocationConfig struct {
	Latitude  float64 `toml:"latitude"`  // Decimal degrees, -90..90
	Longitude float64 `toml:"longitude"` // Decimal degrees, -180..180
	Timezone  string  `toml:"timezone"`  // IANA zone name used for daily-forecast alignment (e.g. "America/Toronto")
}

// ProvidersConfig contains weather provider selection and transport settings
type ProvidersConfig struct {
	Enabled     []string `toml:"enabled"`      // Providers to ingest each cycle (see wx.AllProviders for valid names)
	GroundTruth string   `toml:"ground_truth"` // Provider whose observations are the scoring reference (default: ambient_weather)

	RequestTimeoutSeconds int `toml:"request_timeout_seconds"` // HTTP timeout per provider request
	MaxRetries            int `toml:"max_retries"`             // Retry attempts per request before giving up

	// RDPS PROGNOS publishes one file per lead hour; this caps how far out
	// a cycle fetches (default: 84).
	MSCRDPSMaxLeadHours int `toml:"msc_rdps_max_lead_hours"`

	// Optional base URL overrides, mainly for tests and proxies
	OpenWeatherBaseURL    string `toml:"openweather_base_url"`
	TomorrowIOBaseURL     string `toml:"tomorrow_io_base_url"`
	AccuWeatherBaseURL    string `toml:"accuweather_base_url"`
	MSCGeoMetBaseURL      string `toml:"msc_geomet_base_url"`
	MSCRDPSBaseURL        string `toml:"msc_rdps_base_url"`
	AmbientWeatherBaseURL string `toml:"ambient_weather_base_url"`

	// API keys are not stored in the config file. They are read from the
	// environment (WXBENCH_OPENWEATHER_API_KEY etc.), optionally loaded
	// from a .env file at startup.
	Keys map[string]string `toml:"-"`
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Path to the SQLite database file
}

// ArtifactsConfig controls where per-run manifests and event logs land
type ArtifactsConfig struct {
	BasePath string `toml:"base_path"` // Base directory; each run writes under <base>/<run_id>/
}

// MatchingConfig contains forecast/observation matching settings
type MatchingConfig struct {
	ToleranceMinutes int `toml:"tolerance_minutes"` // Max |observed_at - valid_start| for a match (default: 30)
}

// ServerConfig contains the inspection API server configuration
type ServerConfig struct {
	Host             string `toml:"host"`
	Port             int    `toml:"port"`
	ReadTimeoutSecs  int    `toml:"read_timeout_seconds"`
	WriteTimeoutSecs int    `toml:"write_timeout_seconds"`
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.Providers.Keys = collectProviderKeys(os.Environ())

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// collectProviderKeys gathers WXBENCH_* credentials from the environment.
// Empty values are ignored so absent and blank secrets are distinguishable.
func collectProviderKeys(environ []string) map[string]string {
	keys := make(map[string]string)
	for _, entry := range environ {
		name, value, ok := strings.Cut(entry, "=")
		if !ok || value == "" {
			continue
		}
		if strings.HasPrefix(name, "WXBENCH_") {
			keys[name] = value
		}
	}
	return keys
}

// Key returns a provider credential from the environment set, e.g.
// Key("WXBENCH_OPENWEATHER_API_KEY")
func (p ProvidersConfig) Key(name string) string {
	return p.Keys[name]
}

// WxLocation converts the location section to the domain type
func (c *Config) WxLocation() wx.Location {
	return wx.Location{
		Latitude:  c.Location.Latitude,
		Longitude: c.Location.Longitude,
		Timezone:  c.Location.Timezone,
	}
}

// Tolerance returns the matching tolerance as a duration
func (c *Config) Tolerance() time.Duration {
	return time.Duration(c.Matching.ToleranceMinutes) * time.Minute
}

// Validate validates the configuration and applies defaults
func (c *Config) Validate() error {
	if c.Location.Latitude < -90 || c.Location.Latitude > 90 {
		return fmt.Errorf("invalid latitude: %f (must be between -90 and 90)", c.Location.Latitude)
	}
	if c.Location.Longitude < -180 || c.Location.Longitude > 180 {
		return fmt.Errorf("invalid longitude: %f (must be between -180 and 180)", c.Location.Longitude)
	}
	if c.Location.Timezone == "" {
		return fmt.Errorf("location timezone is required")
	}
	if _, err := time.LoadLocation(c.Location.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Location.Timezone, err)
	}

	if len(c.Providers.Enabled) == 0 {
		return fmt.Errorf("at least one provider must be enabled")
	}
	seen := make(map[string]bool)
	for _, name := range c.Providers.Enabled {
		if _, err := wx.ParseProvider(name); err != nil {
			return err
		}
		if seen[name] {
			return fmt.Errorf("duplicate provider enabled: %s", name)
		}
		seen[name] = true
	}

	if c.Providers.GroundTruth == "" {
		c.Providers.GroundTruth = string(wx.ProviderAmbientWeather)
	}
	if _, err := wx.ParseProvider(c.Providers.GroundTruth); err != nil {
		return fmt.Errorf("invalid ground_truth provider: %w", err)
	}

	if c.Providers.RequestTimeoutSeconds <= 0 {
		c.Providers.RequestTimeoutSeconds = 15
	}
	if c.Providers.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be 0 or greater")
	}
	if c.Providers.MaxRetries == 0 {
		c.Providers.MaxRetries = 2
	}
	if c.Providers.MSCRDPSMaxLeadHours < 0 {
		return fmt.Errorf("msc_rdps_max_lead_hours must be 0 or greater")
	}
	if c.Providers.MSCRDPSMaxLeadHours == 0 {
		c.Providers.MSCRDPSMaxLeadHours = 84
	}

	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/wxbench.db"
	}
	if c.Artifacts.BasePath == "" {
		c.Artifacts.BasePath = "data/runs"
	}

	if c.Matching.ToleranceMinutes < 0 {
		return fmt.Errorf("tolerance_minutes must be 0 or greater")
	}
	if c.Matching.ToleranceMinutes == 0 {
		c.Matching.ToleranceMinutes = 30
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8500
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 30
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = 30
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	return nil
}

// EnabledProviders returns the enabled providers as domain values.
// Validate must have been called first.
func (c *Config) EnabledProviders() []wx.Provider {
	providers := make([]wx.Provider, 0, len(c.Providers.Enabled))
	for _, name := range c.Providers.Enabled {
		p, _ := wx.ParseProvider(name)
		providers = append(providers, p)
	}
	return providers
}
