package providers

import (
	"sort"
	"strconv"

	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
)

// qualityDerivedDailyFromHourly marks daily points synthesized from a
// provider's hourly forecasts rather than reported by the provider.
const qualityDerivedDailyFromHourly = "derived_daily_from_hourly"

// DeriveDailyFromHourly synthesizes daily forecast points from a provider's
// hourly ones, for sources that publish no daily product. Points are
// grouped by local civil day; air temperature contributes a daily mean plus
// a high and a low, wind-like metrics take the worst case, precipitation
// amounts sum, and the rest average. Each day's points reference the raw
// payload of its earliest hourly point.
func DeriveDailyFromHourly(points []wx.DataPoint, align *timealign.Aligner) []wx.DataPoint {
	byDay := make(map[string][]wx.DataPoint)
	for _, p := range points {
		if p.ProductKind != wx.ProductForecastHourly || p.ValueNum == nil || p.ValidStart == nil {
			continue
		}
		day := align.LocalDay(*p.ValidStart)
		byDay[day] = append(byDay[day], p)
	}

	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	var daily []wx.DataPoint
	for dayIndex, day := range days {
		entries := byDay[day]
		sort.Slice(entries, func(i, j int) bool { return entries[i].ValidStart.Before(*entries[j].ValidStart) })
		anchor := entries[0]

		start, end := align.DayWindow(*anchor.ValidStart)
		lead := align.DailyLead(start)
		idx := dayIndex

		emit := func(metric string, value float64) {
			unit, ok := metrics.CanonicalUnit(metric)
			if !ok {
				return
			}
			v := value
			daily = append(daily, wx.DataPoint{
				RawID:        anchor.RawID,
				Provider:     anchor.Provider,
				ProductKind:  wx.ProductForecastDaily,
				MetricType:   metric,
				ValueNum:     &v,
				Unit:         unit,
				ValueRaw:     strconv.FormatFloat(value, 'g', -1, 64),
				UnitRaw:      unit,
				ValidStart:   &start,
				ValidEnd:     &end,
				IssuedAt:     anchor.IssuedAt,
				RunAt:        anchor.RunAt,
				LocalDay:     day,
				LeadUnit:     wx.LeadDay,
				LeadOffset:   &lead,
				LeadLabel:    timealign.Label(lead, wx.LeadDay),
				LeadDayIndex: &idx,
				Station:      anchor.Station,
				Latitude:     anchor.Latitude,
				Longitude:    anchor.Longitude,
				QualityFlag:  qualityDerivedDailyFromHourly,
			})
		}

		for _, metric := range dayMetrics(entries) {
			values := metricValues(entries, metric)
			switch metric {
			case metrics.TemperatureAir:
				emit(metrics.TemperatureAir, meanOf(values))
				emit(metrics.TemperatureHigh, maxOf(values))
				emit(metrics.TemperatureLow, minOf(values))
			case metrics.WindSpeed, metrics.WindGust, metrics.PrecipProbability, metrics.UVIndex:
				emit(metric, maxOf(values))
			case metrics.PrecipAmount:
				emit(metric, sumOf(values))
			case metrics.WindDirection:
				emit(metric, values[0])
			default:
				emit(metric, meanOf(values))
			}
		}
	}
	return daily
}

// dayMetrics lists the distinct metric types of a day's entries, in first
// appearance order so output is deterministic.
func dayMetrics(entries []wx.DataPoint) []string {
	seen := make(map[string]bool)
	var out []string
	for _, p := range entries {
		if !seen[p.MetricType] {
			seen[p.MetricType] = true
			out = append(out, p.MetricType)
		}
	}
	return out
}

func metricValues(entries []wx.DataPoint, metric string) []float64 {
	var values []float64
	for _, p := range entries {
		if p.MetricType == metric {
			values = append(values, *p.ValueNum)
		}
	}
	return values
}

func meanOf(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total / float64(len(values))
}

func maxOf(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v > best {
			best = v
		}
	}
	return best
}

func minOf(values []float64) float64 {
	best := values[0]
	for _, v := range values[1:] {
		if v < best {
			best = v
		}
	}
	return best
}

func sumOf(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		total += v
	}
	return total
}
