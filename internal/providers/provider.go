// Package providers contains the HTTP clients and payload normalizers for
// every supported weather data source. The provider set is closed: adding a
// source means adding a wx.Provider constant, a client, and a normalizer
// case here.
package providers

import (
	"context"
	"time"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

// Endpoint names used on raw payloads. Payloads recorded under an auxiliary
// endpoint (e.g. AccuWeather's location search) are stored but never
// normalized.
const (
	EndpointObservation    = "observation"
	EndpointForecastHourly = "forecast_hourly"
	EndpointForecastDaily  = "forecast_daily"
	EndpointLocationSearch = "location_search"

	// RDPS PROGNOS publishes one file per (variable, lead hour); the
	// endpoint names the variable since the payload body does not.
	EndpointPrognosAirTemp   = "prognos_air_temp"
	EndpointPrognosDewPoint  = "prognos_dew_point"
	EndpointPrognosWindSpeed = "prognos_wind_speed"
	EndpointPrognosWindDir   = "prognos_wind_direction"
)

// KindForEndpoint maps a payload endpoint to the product family it
// normalizes into. Auxiliary endpoints report ok=false.
func KindForEndpoint(endpoint string) (wx.ProductKind, bool) {
	switch endpoint {
	case EndpointObservation:
		return wx.ProductObservation, true
	case EndpointForecastHourly:
		return wx.ProductForecastHourly, true
	case EndpointForecastDaily:
		return wx.ProductForecastDaily, true
	case EndpointPrognosAirTemp, EndpointPrognosDewPoint, EndpointPrognosWindSpeed, EndpointPrognosWindDir:
		return wx.ProductForecastHourly, true
	}
	return "", false
}

// Fetcher retrieves the raw payloads one provider contributes to a cycle.
// Implementations perform HTTP only; they never interpret payload bodies.
type Fetcher interface {
	Provider() wx.Provider
	Fetch(ctx context.Context, runAt time.Time) ([]wx.RawPayload, error)
}

// DailyDeriver marks fetchers whose source publishes no daily product. The
// runner synthesizes daily points from their hourly forecasts after
// ingestion, via DeriveDailyFromHourly.
type DailyDeriver interface {
	DerivesDaily() bool
}

// NewFetchers builds a fetcher for every enabled provider, in the order they
// are enabled. Missing credentials are not an error here; they surface as
// AuthConfigError from Fetch so one misconfigured provider cannot block the
// rest of a run.
func NewFetchers(cfg *config.Config, log *logger.Logger) []Fetcher {
	loc := cfg.WxLocation()
	fetchers := make([]Fetcher, 0, len(cfg.Providers.Enabled))
	for _, p := range cfg.EnabledProviders() {
		switch p {
		case wx.ProviderOpenWeather:
			fetchers = append(fetchers, newOpenWeatherClient(cfg.Providers, loc, log))
		case wx.ProviderTomorrowIO:
			fetchers = append(fetchers, newTomorrowIOClient(cfg.Providers, loc, log))
		case wx.ProviderAccuWeather:
			fetchers = append(fetchers, newAccuWeatherClient(cfg.Providers, loc, log))
		case wx.ProviderMSCGeoMet:
			fetchers = append(fetchers, newMSCGeoMetClient(cfg.Providers, loc, log))
		case wx.ProviderMSCRDPS:
			fetchers = append(fetchers, newMSCRDPSClient(cfg.Providers, loc, log))
		case wx.ProviderAmbientWeather:
			fetchers = append(fetchers, newAmbientWeatherClient(cfg.Providers, loc, log))
		}
	}
	return fetchers
}

// Normalize translates one raw payload into canonical data points. Dispatch
// is a closed switch over the provider enum; an unknown provider is a
// MappingError, never a silent skip. Auxiliary payloads normalize to an
// empty batch.
func Normalize(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	switch raw.Provider {
	case wx.ProviderOpenWeather:
		return normalizeOpenWeather(raw, kind, loc, align)
	case wx.ProviderTomorrowIO:
		return normalizeTomorrowIO(raw, kind, loc, align)
	case wx.ProviderAccuWeather:
		return normalizeAccuWeather(raw, kind, loc, align)
	case wx.ProviderMSCGeoMet:
		return normalizeMSCGeoMet(raw, kind, loc, align)
	case wx.ProviderMSCRDPS:
		return normalizeMSCRDPS(raw, kind, loc, align)
	case wx.ProviderAmbientWeather:
		return normalizeAmbientWeather(raw, kind, loc, align)
	}
	return nil, &wx.MappingError{Provider: raw.Provider, Detail: "no normalizer registered for provider"}
}
