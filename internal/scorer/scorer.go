// Package scorer reduces matched forecast/observation pairs into accuracy
// statistics per provider, metric, and lead bucket.
package scorer

import (
	"sort"

	"github.com/yegors/wxbench/internal/matcher"
	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/wx"
)

// bucket identifies one scoring group.
type bucket struct {
	provider   wx.Provider
	metricType string
	leadUnit   wx.LeadUnit
	leadOffset int
}

// Score reduces matched pairs into one record per provider/metric/lead
// bucket. The forecasts slice supplies expected counts for coverage, so it
// must be the same population the matcher ran over. Buckets with zero
// matches report coverage 0 and omit the error statistic; a number is never
// synthesized from an empty sample.
func Score(pairs []matcher.Pair, forecasts []wx.DataPoint) []wx.ScoreRecord {
	expected := make(map[bucket]int)
	for _, f := range forecasts {
		b, ok := bucketOf(f)
		if !ok {
			continue
		}
		expected[b]++
	}

	matched := make(map[bucket][]matcher.Pair)
	for _, p := range pairs {
		b, ok := bucketOf(p.Forecast)
		if !ok {
			continue
		}
		matched[b] = append(matched[b], p)
	}

	records := make([]wx.ScoreRecord, 0, len(expected))
	for b, total := range expected {
		pairs := matched[b]
		record := wx.ScoreRecord{
			Provider:    b.provider,
			MetricType:  b.metricType,
			LeadUnit:    b.leadUnit,
			LeadOffset:  b.leadOffset,
			SampleCount: len(pairs),
			Expected:    total,
		}
		if total > 0 {
			record.Coverage = float64(len(pairs)) / float64(total)
		}
		if len(pairs) > 0 {
			switch {
			case b.metricType == metrics.PrecipProbability:
				record.Brier = floatPtr(brier(pairs))
			case metrics.IsContinuous(b.metricType):
				record.MAE = floatPtr(meanAbsoluteError(pairs))
			}
		}
		records = append(records, record)
	}

	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Provider != b.Provider {
			return a.Provider < b.Provider
		}
		if a.MetricType != b.MetricType {
			return a.MetricType < b.MetricType
		}
		if a.LeadUnit != b.LeadUnit {
			return a.LeadUnit < b.LeadUnit
		}
		return a.LeadOffset < b.LeadOffset
	})
	return records
}

// bucketOf returns the scoring bucket of a forecast point. Text metrics and
// metrics without an error statistic never form buckets.
func bucketOf(f wx.DataPoint) (bucket, bool) {
	if f.ValueNum == nil || f.LeadOffset == nil {
		return bucket{}, false
	}
	if f.MetricType != metrics.PrecipProbability && !metrics.IsContinuous(f.MetricType) {
		return bucket{}, false
	}
	return bucket{
		provider:   f.Provider,
		metricType: f.MetricType,
		leadUnit:   f.LeadUnit,
		leadOffset: *f.LeadOffset,
	}, true
}

// meanAbsoluteError averages |forecast - observation| in canonical units.
func meanAbsoluteError(pairs []matcher.Pair) float64 {
	var sum float64
	for _, p := range pairs {
		diff := *p.Forecast.ValueNum - *p.Observation.ValueNum
		if diff < 0 {
			diff = -diff
		}
		sum += diff
	}
	return sum / float64(len(pairs))
}

// brier averages (p - o)^2, where p is the forecast probability scaled to
// [0,1] and o is 1 when any precipitation was observed.
func brier(pairs []matcher.Pair) float64 {
	var sum float64
	for _, pair := range pairs {
		p := *pair.Forecast.ValueNum / 100
		o := 0.0
		if *pair.Observation.ValueNum > 0 {
			o = 1.0
		}
		d := p - o
		sum += d * d
	}
	return sum / float64(len(pairs))
}

func floatPtr(v float64) *float64 { return &v }
