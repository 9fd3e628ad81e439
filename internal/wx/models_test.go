package wx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	p, err := ParseProvider("openweather")
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenWeather, p)

	_, err = ParseProvider("noaa")
	assert.Error(t, err)
}

func TestLocationName(t *testing.T) {
	loc := Location{Latitude: 43.65321, Longitude: -79.38325}
	assert.Equal(t, "43.6532,-79.3832", loc.Name())
}

func TestFloorToHour(t *testing.T) {
	in := time.Date(2025, 6, 10, 12, 47, 33, 999, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC), FloorToHour(in))

	// Non-UTC instants floor to the UTC hour.
	est := time.FixedZone("EST", -5*3600)
	in = time.Date(2025, 6, 10, 7, 30, 0, 0, est)
	assert.Equal(t, time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC), FloorToHour(in))
}

func TestDataPointEffectiveTime(t *testing.T) {
	observedAt := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	validStart := observedAt.Add(time.Hour)

	obs := DataPoint{ObservedAt: &observedAt}
	assert.Equal(t, observedAt, obs.EffectiveTime())

	fc := DataPoint{ValidStart: &validStart}
	assert.Equal(t, validStart, fc.EffectiveTime())

	assert.True(t, (&DataPoint{}).EffectiveTime().IsZero())
}

func TestDataPointValidate(t *testing.T) {
	observedAt := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	validStart := observedAt.Add(time.Hour)
	value := 15.0
	text := "Sunny"
	offset := 1

	valid := DataPoint{
		Provider:    ProviderOpenWeather,
		ProductKind: ProductObservation,
		MetricType:  "temperature_air",
		ValueNum:    &value,
		Unit:        "C",
		ObservedAt:  &observedAt,
	}
	assert.NoError(t, valid.Validate())

	validForecast := DataPoint{
		Provider:    ProviderOpenWeather,
		ProductKind: ProductForecastHourly,
		MetricType:  "temperature_air",
		ValueNum:    &value,
		Unit:        "C",
		ValidStart:  &validStart,
		LeadOffset:  &offset,
	}
	assert.NoError(t, validForecast.Validate())

	cases := []struct {
		name   string
		mutate func(*DataPoint)
	}{
		{"missing metric type", func(p *DataPoint) { p.MetricType = "" }},
		{"both values set", func(p *DataPoint) { p.ValueText = &text }},
		{"no value set", func(p *DataPoint) { p.ValueNum = nil }},
		{"numeric without unit", func(p *DataPoint) { p.Unit = "" }},
		{"observation without observed_at", func(p *DataPoint) { p.ObservedAt = nil }},
		{"observation with validity window", func(p *DataPoint) { p.ValidStart = &validStart }},
		{"unknown product kind", func(p *DataPoint) { p.ProductKind = "nowcast" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}

	t.Run("forecast without lead offset", func(t *testing.T) {
		p := validForecast
		p.LeadOffset = nil
		assert.Error(t, p.Validate())
	})

	t.Run("forecast with observed_at", func(t *testing.T) {
		p := validForecast
		p.ObservedAt = &observedAt
		assert.Error(t, p.Validate())
	})
}
