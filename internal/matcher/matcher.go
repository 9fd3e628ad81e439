// Package matcher pairs forecast readings with the ground-truth
// observations that later verified them.
package matcher

import (
	"sort"
	"time"

	"github.com/yegors/wxbench/internal/metrics"
	"github.com/yegors/wxbench/internal/wx"
)

// Pair is one forecast reading matched to its verifying observation.
type Pair struct {
	Forecast    wx.DataPoint
	Observation wx.DataPoint
	Delta       time.Duration // |observed_at - valid_start|
}

// Matcher finds, for each forecast, the observation closest to its validity
// start within the tolerance window. Matching is many-to-one: several
// forecast runs may verify against the same observation. It is stateless
// and freely re-entrant.
type Matcher struct {
	tolerance time.Duration
}

func New(tolerance time.Duration) *Matcher {
	return &Matcher{tolerance: tolerance}
}

// observationMetric returns the observation metric a forecast metric
// verifies against. Probability forecasts verify against observed
// precipitation amounts (occurrence); everything else verifies against
// itself.
func observationMetric(forecastMetric string) string {
	if forecastMetric == metrics.PrecipProbability {
		return metrics.PrecipAmount
	}
	return forecastMetric
}

// Match pairs each forecast with its nearest in-tolerance observation.
// Forecasts without an in-tolerance observation are excluded, not errors.
// Determinism: ties on |delta| are broken by the observation with the
// earliest run_at.
func (m *Matcher) Match(forecasts, observations []wx.DataPoint) []Pair {
	byMetric := make(map[string][]wx.DataPoint)
	for _, obs := range observations {
		if obs.ObservedAt == nil || obs.ValueNum == nil {
			continue
		}
		byMetric[obs.MetricType] = append(byMetric[obs.MetricType], obs)
	}
	for metric := range byMetric {
		candidates := byMetric[metric]
		sort.Slice(candidates, func(i, j int) bool {
			if !candidates[i].ObservedAt.Equal(*candidates[j].ObservedAt) {
				return candidates[i].ObservedAt.Before(*candidates[j].ObservedAt)
			}
			return candidates[i].RunAt.Before(candidates[j].RunAt)
		})
	}

	var pairs []Pair
	for _, forecast := range forecasts {
		if forecast.ValidStart == nil || forecast.ValueNum == nil {
			continue
		}
		candidates := byMetric[observationMetric(forecast.MetricType)]
		if best, delta, ok := m.nearest(candidates, *forecast.ValidStart); ok {
			pairs = append(pairs, Pair{Forecast: forecast, Observation: best, Delta: delta})
		}
	}
	return pairs
}

// nearest scans the in-tolerance window around the target instant. The
// candidate slice is sorted by observed_at, so only the window needs
// inspection.
func (m *Matcher) nearest(candidates []wx.DataPoint, target time.Time) (wx.DataPoint, time.Duration, bool) {
	lo := target.Add(-m.tolerance)
	start := sort.Search(len(candidates), func(i int) bool {
		return !candidates[i].ObservedAt.Before(lo)
	})

	var best wx.DataPoint
	var bestDelta time.Duration
	found := false
	for i := start; i < len(candidates); i++ {
		obs := candidates[i]
		delta := obs.ObservedAt.Sub(target)
		if delta < 0 {
			delta = -delta
		}
		if delta > m.tolerance {
			if obs.ObservedAt.After(target) {
				break
			}
			continue
		}
		switch {
		case !found,
			delta < bestDelta,
			delta == bestDelta && obs.RunAt.Before(best.RunAt):
			best, bestDelta, found = obs, delta, true
		}
	}
	return best, bestDelta, found
}
