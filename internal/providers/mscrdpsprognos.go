package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

const mscRDPSDefaultBaseURL = "https://dd.weather.gc.ca/today/model_rdps/stat-post-processing"

// RDPS model runs are published four times a day, at these UTC hours.
var rdpsRunHours = [...]int{0, 6, 12, 18}

// rdpsVariable binds one PROGNOS product file family to a canonical metric.
// The variable name, post-processing method and vertical level together
// form the published filename.
type rdpsVariable struct {
	name     string
	method   string
	vertical string
	endpoint string
	metric   string
}

var rdpsVariables = []rdpsVariable{
	{"AirTemp", "MLR", "AGL-1.5m", EndpointPrognosAirTemp, metrics.TemperatureAir},
	{"DewPoint", "MLR", "AGL-1.5m", EndpointPrognosDewPoint, metrics.TemperatureDewpoint},
	{"WindSpeed", "LASSO", "AGL-10m", EndpointPrognosWindSpeed, metrics.WindSpeed},
	{"WindDir", "WDLASSO2", "AGL-10m", EndpointPrognosWindDir, metrics.WindDirection},
}

func rdpsVariableForEndpoint(endpoint string) (rdpsVariable, bool) {
	for _, v := range rdpsVariables {
		if v.endpoint == endpoint {
			return v, true
		}
	}
	return rdpsVariable{}, false
}

// mscRDPSClient fetches MSC's RDPS PROGNOS statistically post-processed
// station-point forecasts. The datamart is open data and needs no
// credentials. Each (variable, lead hour) pair is a separate GeoJSON file;
// the client steps backwards through run cycles until it finds one that
// has been published, then fetches every file of that run up to the
// configured lead horizon. The source has no daily product, so daily
// points are derived from the hourly ones after ingestion.
type mscRDPSClient struct {
	cfg          config.ProvidersConfig
	loc          wx.Location
	baseURL      string
	maxLeadHours int
	tr           *transport
}

func newMSCRDPSClient(cfg config.ProvidersConfig, loc wx.Location, log *logger.Logger) *mscRDPSClient {
	baseURL := cfg.MSCRDPSBaseURL
	if baseURL == "" {
		baseURL = mscRDPSDefaultBaseURL
	}
	maxLeadHours := cfg.MSCRDPSMaxLeadHours
	if maxLeadHours <= 0 {
		maxLeadHours = 84
	}
	return &mscRDPSClient{
		cfg:          cfg,
		loc:          loc,
		baseURL:      baseURL,
		maxLeadHours: maxLeadHours,
		tr:           newTransport(wx.ProviderMSCRDPS, cfg.RequestTimeoutSeconds, cfg.MaxRetries, log),
	}
}

func (c *mscRDPSClient) Provider() wx.Provider { return wx.ProviderMSCRDPS }

func (c *mscRDPSClient) DerivesDaily() bool { return true }

func (c *mscRDPSClient) Fetch(ctx context.Context, runAt time.Time) ([]wx.RawPayload, error) {
	runTime, first, err := c.resolveRun(ctx, runAt)
	if err != nil {
		return nil, err
	}
	first.RunAt = runAt
	payloads := []wx.RawPayload{first}

	for lead := 0; lead <= c.maxLeadHours; lead++ {
		for _, v := range rdpsVariables {
			if lead == 0 && v.endpoint == EndpointPrognosAirTemp {
				continue // fetched while resolving the run cycle
			}
			payload, err := c.tr.get(ctx, v.endpoint, c.fileURL(runTime, lead, v), nil)
			if err != nil {
				return payloads, err
			}
			payload.RunAt = runAt
			payloads = append(payloads, payload)
		}
	}
	return payloads, nil
}

// resolveRun finds the most recent published run cycle at or before runAt.
// Files for a fresh cycle appear with a delay, so the lead-0 air
// temperature file is requested first and the search steps back six hours
// at a time until a cycle answers, at most one full day.
func (c *mscRDPSClient) resolveRun(ctx context.Context, runAt time.Time) (time.Time, wx.RawPayload, error) {
	runTime := rdpsRunTime(runAt)
	v := rdpsVariables[0]

	var lastErr error
	for attempt := 0; attempt < len(rdpsRunHours); attempt++ {
		payload, err := c.tr.get(ctx, v.endpoint, c.fileURL(runTime, 0, v), nil)
		if err == nil {
			return runTime, payload, nil
		}
		var authErr *wx.AuthConfigError
		if errors.As(err, &authErr) || ctx.Err() != nil {
			return time.Time{}, wx.RawPayload{}, err
		}
		lastErr = err
		runTime = runTime.Add(-6 * time.Hour)
	}
	return time.Time{}, wx.RawPayload{}, &wx.TransportError{Provider: wx.ProviderMSCRDPS, Endpoint: v.endpoint,
		Err: fmt.Errorf("no published run cycle found: %w", lastErr)}
}

// rdpsRunTime floors an instant to the most recent run cycle hour.
func rdpsRunTime(now time.Time) time.Time {
	now = now.UTC()
	for i := len(rdpsRunHours) - 1; i >= 0; i-- {
		if now.Hour() >= rdpsRunHours[i] {
			return time.Date(now.Year(), now.Month(), now.Day(), rdpsRunHours[i], 0, 0, 0, time.UTC)
		}
	}
	prev := now.AddDate(0, 0, -1)
	return time.Date(prev.Year(), prev.Month(), prev.Day(), 18, 0, 0, 0, time.UTC)
}

func (c *mscRDPSClient) fileURL(runTime time.Time, lead int, v rdpsVariable) string {
	file := fmt.Sprintf("%s_MSC_RDPS-PROGNOS-%s-%s_%s_PT%03dH.json",
		runTime.Format("20060102T15Z"), v.method, v.name, v.vertical, lead)
	return fmt.Sprintf("%s/%02d/%03d/%s", c.baseURL, runTime.Hour(), lead, file)
}

// RDPS PROGNOS wire format: a GeoJSON feature collection with one feature
// per station, all carrying the same variable at the same lead hour.
type rdpsFeatureCollection struct {
	Features []rdpsFeature `json:"features"`
}

type rdpsFeature struct {
	Geometry struct {
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties struct {
		StationID     string   `json:"prognos_station_id"`
		ReferenceTime string   `json:"reference_datetime"`
		ForecastTime  string   `json:"forecast_datetime"`
		LeadTime      string   `json:"forecast_leadtime"`
		Value         *float64 `json:"forecast_value"`
		Unit          string   `json:"unit"`
	} `json:"properties"`
}

// rdpsStationValue is one station's reading after wire-level filtering.
type rdpsStationValue struct {
	stationID     string
	latitude      float64
	longitude     float64
	referenceTime time.Time
	forecastTime  time.Time
	value         float64
	unit          string
}

func normalizeMSCRDPS(raw *wx.RawPayload, kind wx.ProductKind, loc wx.Location, align *timealign.Aligner) ([]wx.DataPoint, error) {
	if kind != wx.ProductForecastHourly {
		return nil, nil
	}
	variable, ok := rdpsVariableForEndpoint(raw.Endpoint)
	if !ok {
		return nil, &wx.MappingError{Provider: raw.Provider,
			Detail: fmt.Sprintf("unknown endpoint: %s", raw.Endpoint)}
	}

	var payload rdpsFeatureCollection
	if err := json.Unmarshal(raw.Body, &payload); err != nil {
		return nil, &wx.MappingError{Provider: raw.Provider, Detail: fmt.Sprintf("decoding payload: %v", err)}
	}

	values := make([]rdpsStationValue, 0, len(payload.Features))
	for _, feature := range payload.Features {
		props := feature.Properties
		if len(feature.Geometry.Coordinates) < 2 || props.StationID == "" || props.Value == nil {
			continue
		}
		referenceTime, err := parseISO(props.ReferenceTime)
		if err != nil {
			continue
		}
		forecastTime, err := parseISO(props.ForecastTime)
		if err != nil {
			continue
		}
		values = append(values, rdpsStationValue{
			stationID:     props.StationID,
			latitude:      feature.Geometry.Coordinates[1],
			longitude:     feature.Geometry.Coordinates[0],
			referenceTime: referenceTime,
			forecastTime:  forecastTime,
			value:         *props.Value,
			unit:          props.Unit,
		})
	}
	if len(values) == 0 {
		return nil, &wx.MappingError{Provider: raw.Provider, Field: "features",
			Detail: "no usable station values"}
	}

	nearest := values[0]
	bestDistance := greatCircleKm(loc.Latitude, loc.Longitude, nearest.latitude, nearest.longitude)
	for _, v := range values[1:] {
		if d := greatCircleKm(loc.Latitude, loc.Longitude, v.latitude, v.longitude); d < bestDistance {
			bestDistance = d
			nearest = v
		}
	}

	value := nearest.value
	var rawUnit string
	switch variable.metric {
	case metrics.TemperatureAir, metrics.TemperatureDewpoint:
		rawUnit = metrics.UnitCelsius
		if nearest.unit == "K" {
			rawUnit = "K"
		}
	case metrics.WindSpeed:
		rawUnit = metrics.UnitKmPerHour
	case metrics.WindDirection:
		rawUnit = metrics.UnitDegrees
		value = math.Round(value)
	}

	b := newBatch(raw, wx.ProductForecastHourly, loc, align)
	b.setStation(nearest.stationID)
	b.setCoords(nearest.latitude, nearest.longitude)
	issuedAt := nearest.referenceTime
	start := nearest.forecastTime
	b.setWindow(start, start.Add(time.Hour), &issuedAt, nil)
	b.forecast(variable.metric, &value, rawUnit, "properties.forecast_value")
	return b.finish()
}

// greatCircleKm is the haversine distance used to pick the station nearest
// the configured location.
func greatCircleKm(lat1, lon1, lat2, lon2 float64) float64 {
	const radiusKm = 6371.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * radiusKm * math.Asin(math.Sqrt(a))
}
