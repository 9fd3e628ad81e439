package runner

import (
	"fmt"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/matcher"
	"github.com/yegors/wxbench/internal/scorer"
	"github.com/yegors/wxbench/internal/storage/sqlite"
	"github.com/yegors/wxbench/internal/wx"
)

// ComputeScores recomputes every accuracy statistic from the persisted data
// points: forecasts are matched against the ground-truth provider's
// observations and reduced per provider/metric/lead bucket. Scores carry no
// persistent state, so this is safe to call at any time.
func ComputeScores(store *sqlite.Store, cfg *config.Config) ([]wx.ScoreRecord, error) {
	groundTruth, err := wx.ParseProvider(cfg.Providers.GroundTruth)
	if err != nil {
		return nil, fmt.Errorf("resolving ground truth provider: %w", err)
	}

	forecasts, err := store.Forecasts()
	if err != nil {
		return nil, fmt.Errorf("loading forecasts: %w", err)
	}
	observations, err := store.Observations(groundTruth)
	if err != nil {
		return nil, fmt.Errorf("loading observations: %w", err)
	}

	pairs := matcher.New(cfg.Tolerance()).Match(forecasts, observations)
	return scorer.Score(pairs, forecasts), nil
}
