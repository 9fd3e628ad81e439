package wx

import (
	"fmt"
	"time"
)

// Provider identifies a configured weather data provider. The provider set
// is closed: normalizer dispatch switches over these values.
type Provider string

const (
	ProviderOpenWeather    Provider = "openweather"
	ProviderTomorrowIO     Provider = "tomorrow_io"
	ProviderAccuWeather    Provider = "accuweather"
	ProviderMSCGeoMet      Provider = "msc_geomet"
	ProviderMSCRDPS        Provider = "msc_rdps_prognos"
	ProviderAmbientWeather Provider = "ambient_weather"
)

// AllProviders lists every known provider in a stable order
var AllProviders = []Provider{
	ProviderOpenWeather,
	ProviderTomorrowIO,
	ProviderAccuWeather,
	ProviderMSCGeoMet,
	ProviderMSCRDPS,
	ProviderAmbientWeather,
}

// ParseProvider validates a provider name from configuration
func ParseProvider(name string) (Provider, error) {
	for _, p := range AllProviders {
		if string(p) == name {
			return p, nil
		}
	}
	return "", fmt.Errorf("unknown provider: %s", name)
}

// ProductKind distinguishes the three normalized product families
type ProductKind string

const (
	ProductObservation    ProductKind = "observation"
	ProductForecastHourly ProductKind = "forecast_hourly"
	ProductForecastDaily  ProductKind = "forecast_daily"
)

// LeadUnit is the horizon unit of a forecast data point
type LeadUnit string

const (
	LeadHour LeadUnit = "hour"
	LeadDay  LeadUnit = "day"
)

// Location is the configured benchmark location
type Location struct {
	Latitude  float64
	Longitude float64
	Timezone  string // IANA zone name, e.g. "America/Toronto"
}

// Name returns the stable identity used for the run idempotency gate
func (l Location) Name() string {
	return fmt.Sprintf("%.4f,%.4f", l.Latitude, l.Longitude)
}

// RawPayload is the immutable record of one HTTP exchange with a provider.
// Rows are append-only; the only deletion path is an explicit rollback.
type RawPayload struct {
	ID             int64
	Provider       Provider
	Endpoint       string
	RunAt          time.Time // UTC
	RequestURL     string    // credentials redacted
	ResponseStatus int
	Body           []byte
	SHA256         string
}

// DataPoint is one canonical metric reading. Exactly one of ValueNum /
// ValueText is populated; observations carry ObservedAt, forecasts carry
// ValidStart/ValidEnd. Immutable once written; rewrites are keyed by the
// natural key (provider, product_kind, metric_type, valid_start|observed_at,
// lead_offset).
type DataPoint struct {
	ID          int64       `json:"id"`
	RawID       int64       `json:"raw_id"` // weak reference, looked up explicitly
	Provider    Provider    `json:"provider"`
	ProductKind ProductKind `json:"product_kind"`
	MetricType  string      `json:"metric_type"`
	ValueNum    *float64    `json:"value_num,omitempty"`
	ValueText   *string     `json:"value_text,omitempty"`
	Unit        string      `json:"unit"`      // canonical unit, mandatory for numeric metrics
	ValueRaw    string      `json:"value_raw"` // provider-native value for traceability
	UnitRaw     string      `json:"unit_raw"`
	ObservedAt  *time.Time  `json:"observed_at,omitempty"` // observations only, UTC
	ValidStart  *time.Time  `json:"valid_start,omitempty"` // forecasts only, UTC
	ValidEnd    *time.Time  `json:"valid_end,omitempty"`
	IssuedAt    *time.Time  `json:"issued_at,omitempty"`
	RunAt       time.Time   `json:"run_at"`
	LocalDay    string      `json:"local_day,omitempty"` // forecast only, civil date in the configured zone
	LeadUnit    LeadUnit    `json:"lead_unit,omitempty"`
	LeadOffset  *int        `json:"lead_offset,omitempty"`
	LeadLabel   string      `json:"lead_label,omitempty"`
	// LeadDayIndex preserves the provider's raw daily list position (0-based).
	// It may diverge from LeadOffset when a provider's list skips "today";
	// both are persisted as-is.
	LeadDayIndex *int    `json:"lead_day_index,omitempty"`
	Station      string  `json:"station,omitempty"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	SourceField  string  `json:"source_field"`
	QualityFlag  string  `json:"quality_flag,omitempty"`
}

// EffectiveTime returns the timestamp that participates in the natural key:
// ObservedAt for observations, ValidStart for forecasts.
func (p *DataPoint) EffectiveTime() time.Time {
	if p.ObservedAt != nil {
		return *p.ObservedAt
	}
	if p.ValidStart != nil {
		return *p.ValidStart
	}
	return time.Time{}
}

// Validate checks the model invariants a reading must satisfy before it is
// admitted to a batch.
func (p *DataPoint) Validate() error {
	if p.MetricType == "" {
		return &ValidationError{Provider: p.Provider, Detail: "metric_type is empty"}
	}
	if (p.ValueNum == nil) == (p.ValueText == nil) {
		return &ValidationError{Provider: p.Provider, Metric: p.MetricType,
			Detail: "exactly one of value_num and value_text must be set"}
	}
	if p.ValueNum != nil && p.Unit == "" {
		return &ValidationError{Provider: p.Provider, Metric: p.MetricType,
			Detail: "canonical unit is mandatory for numeric metrics"}
	}
	switch p.ProductKind {
	case ProductObservation:
		if p.ObservedAt == nil || p.ValidStart != nil {
			return &ValidationError{Provider: p.Provider, Metric: p.MetricType,
				Detail: "observation must carry observed_at and no validity window"}
		}
	case ProductForecastHourly, ProductForecastDaily:
		if p.ValidStart == nil || p.ObservedAt != nil {
			return &ValidationError{Provider: p.Provider, Metric: p.MetricType,
				Detail: "forecast must carry valid_start and no observed_at"}
		}
		if p.LeadOffset == nil {
			return &ValidationError{Provider: p.Provider, Metric: p.MetricType,
				Detail: "forecast must carry a lead offset"}
		}
	default:
		return &ValidationError{Provider: p.Provider, Metric: p.MetricType,
			Detail: fmt.Sprintf("unknown product kind: %s", p.ProductKind)}
	}
	return nil
}

// RunStatus is the orchestrator state machine
type RunStatus string

const (
	RunPending        RunStatus = "pending"
	RunRunning        RunStatus = "running"
	RunSuccess        RunStatus = "success"
	RunPartialFailure RunStatus = "partial_failure"
	RunFailed         RunStatus = "failed"
)

// ProviderOutcome records one provider's result within a run
type ProviderOutcome struct {
	Provider    Provider `json:"provider"`
	Status      string   `json:"status"` // "success" or "error"
	RawPayloads int      `json:"raw_payloads"`
	DataPoints  int      `json:"data_points"`
	Rejected    int      `json:"rejected_points,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// Run is one ingestion cycle, unique per (location, hour_bucket)
type Run struct {
	ID         string            `json:"id"`
	Location   string            `json:"location"`
	HourBucket time.Time         `json:"hour_bucket"` // run_at floored to the hour, UTC
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Status     RunStatus         `json:"status"`
	Outcomes   []ProviderOutcome `json:"outcomes,omitempty"`
	RawCount   int               `json:"raw_count"`
	PointCount int               `json:"point_count"`
	Errors     []string          `json:"errors,omitempty"`
}

// ScoreRecord is a derived, recomputable accuracy statistic for one
// provider/metric/lead bucket. It carries no persistent identity.
type ScoreRecord struct {
	Provider    Provider `json:"provider"`
	MetricType  string   `json:"metric_type"`
	LeadUnit    LeadUnit `json:"lead_unit"`
	LeadOffset  int      `json:"lead_offset"`
	SampleCount int      `json:"sample_count"`
	// MAE is set for continuous metrics, Brier for precipitation
	// probability; both are nil when SampleCount is zero.
	MAE      *float64 `json:"mae,omitempty"`
	Brier    *float64 `json:"brier,omitempty"`
	Coverage float64  `json:"coverage"`
	Expected int      `json:"expected_count"`
}

// FloorToHour truncates an instant to the top of its UTC hour. This is the
// hour-bucket identity for runs and absorbs intra-hour cron jitter in lead
// computation.
func FloorToHour(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}
