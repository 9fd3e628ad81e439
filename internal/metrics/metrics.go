// Package metrics defines the canonical metric vocabulary and the unit
// conversions providers normalize into. Adding a metric is a vocabulary
// entry here; the storage schema never changes.
package metrics

import "fmt"

// Canonical metric types
const (
	TemperatureAir      = "temperature_air"
	TemperatureDewpoint = "temperature_dewpoint"
	TemperatureHigh     = "temperature_high"
	TemperatureLow      = "temperature_low"
	TemperatureApparent = "temperature_apparent"
	HumidityRelative    = "humidity_relative"
	PressureSeaLevel    = "pressure_sea_level"
	WindSpeed           = "wind_speed"
	WindGust            = "wind_gust"
	WindDirection       = "wind_direction"
	Visibility          = "visibility"
	CloudCover          = "cloud_cover"
	PrecipProbability   = "precipitation_probability"
	PrecipAmount        = "precipitation_amount"
	ConditionText       = "condition_text"
	UVIndex             = "uv_index"
)

// Canonical units
const (
	UnitCelsius       = "C"
	UnitPercent       = "%"
	UnitKilopascal    = "kPa"
	UnitKmPerHour     = "km/h"
	UnitKilometre     = "km"
	UnitMillimetre    = "mm"
	UnitDegrees       = "deg"
	UnitDimensionless = "index"
	UnitText          = "text"
)

// canonicalUnits maps every metric type to its single canonical unit
var canonicalUnits = map[string]string{
	TemperatureAir:      UnitCelsius,
	TemperatureDewpoint: UnitCelsius,
	TemperatureHigh:     UnitCelsius,
	TemperatureLow:      UnitCelsius,
	TemperatureApparent: UnitCelsius,
	HumidityRelative:    UnitPercent,
	PressureSeaLevel:    UnitKilopascal,
	WindSpeed:           UnitKmPerHour,
	WindGust:            UnitKmPerHour,
	WindDirection:       UnitDegrees,
	Visibility:          UnitKilometre,
	CloudCover:          UnitPercent,
	PrecipProbability:   UnitPercent,
	PrecipAmount:        UnitMillimetre,
	ConditionText:       UnitText,
	UVIndex:             UnitDimensionless,
}

// CanonicalUnit returns the unit a metric type is normalized to
func CanonicalUnit(metricType string) (string, bool) {
	unit, ok := canonicalUnits[metricType]
	return unit, ok
}

// IsText reports whether a metric type carries a textual value
func IsText(metricType string) bool {
	return canonicalUnits[metricType] == UnitText
}

// IsContinuous reports whether a metric type is scored with MAE.
// Wind direction is circular and condition text is categorical; both are
// excluded. Precipitation probability is scored with Brier instead.
func IsContinuous(metricType string) bool {
	switch metricType {
	case WindDirection, ConditionText, PrecipProbability:
		return false
	}
	unit, ok := canonicalUnits[metricType]
	return ok && unit != UnitText
}

// linear is an exactly invertible affine unit conversion: to = from*Scale + Offset
type linear struct {
	Scale  float64
	Offset float64
}

type unitPair struct{ from, to string }

// conversions holds the supported provider-native -> canonical conversions.
// Each is pure and total over float64.
var conversions = map[unitPair]linear{
	{"K", UnitCelsius}:        {Scale: 1, Offset: -273.15},
	{"F", UnitCelsius}:        {Scale: 5.0 / 9.0, Offset: -160.0 / 9.0},
	{"hPa", UnitKilopascal}:   {Scale: 0.1},
	{"mb", UnitKilopascal}:    {Scale: 0.1},
	{"inHg", UnitKilopascal}:  {Scale: 3.386389},
	{"m/s", UnitKmPerHour}:    {Scale: 3.6},
	{"mph", UnitKmPerHour}:    {Scale: 1.60934},
	{"kn", UnitKmPerHour}:     {Scale: 1.852},
	{"m", UnitKilometre}:      {Scale: 0.001},
	{"mi", UnitKilometre}:     {Scale: 1.60934},
	{"in", UnitMillimetre}:    {Scale: 25.4},
	{"cm", UnitMillimetre}:    {Scale: 10},
	{"fraction", UnitPercent}: {Scale: 100},
}

// Convert converts a value between two supported units. Conversion is exact
// in the affine sense: Convert(Convert(x, a, b), b, a) recovers x up to
// floating epsilon.
func Convert(value float64, fromUnit, toUnit string) (float64, error) {
	if fromUnit == toUnit {
		return value, nil
	}
	if c, ok := conversions[unitPair{fromUnit, toUnit}]; ok {
		return value*c.Scale + c.Offset, nil
	}
	if c, ok := conversions[unitPair{toUnit, fromUnit}]; ok {
		// Inverse of the registered direction
		return (value - c.Offset) / c.Scale, nil
	}
	return 0, fmt.Errorf("unsupported unit conversion: %s -> %s", fromUnit, toUnit)
}

// KnownPairs returns every registered (from, to) unit pair, for contract tests
func KnownPairs() [][2]string {
	pairs := make([][2]string, 0, len(conversions))
	for p := range conversions {
		pairs = append(pairs, [2]string{p.from, p.to})
	}
	return pairs
}
