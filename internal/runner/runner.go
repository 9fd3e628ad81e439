// Package runner orchestrates ingestion cycles: claim the hour bucket,
// drive every enabled provider through fetch, normalize, and store, and
// record the outcome in the runs table and the per-run artifacts.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/providers"
	"github.com/yegors/wxbench/internal/storage/sqlite"
	"github.com/yegors/wxbench/internal/timealign"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

// Runner executes one ingestion cycle per invocation. Cycles are unique per
// (location, hour_bucket); a second trigger within the same hour is skipped
// at the claim gate.
type Runner struct {
	cfg      *config.Config
	store    *sqlite.Store
	fetchers []providers.Fetcher
	logger   *logger.Logger
	now      func() time.Time
}

func New(cfg *config.Config, store *sqlite.Store, fetchers []providers.Fetcher, log *logger.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    store,
		fetchers: fetchers,
		logger:   log.Named("runner"),
		now:      time.Now,
	}
}

// RunCycle performs one full ingestion cycle. A cycle whose hour bucket is
// already claimed returns an IdempotencyConflict; callers report the skip
// and move on. Provider failures never abort sibling providers; they are
// recorded per provider and reflected in the final run status.
func (r *Runner) RunCycle(ctx context.Context) (*wx.Run, error) {
	runAt := r.now().UTC()
	location := r.cfg.WxLocation()

	run := &wx.Run{
		ID:         uuid.NewString(),
		Location:   location.Name(),
		HourBucket: wx.FloorToHour(runAt),
		StartedAt:  runAt,
		Status:     wx.RunRunning,
	}

	if err := r.store.ClaimRun(run); err != nil {
		var conflict *wx.IdempotencyConflict
		if errors.As(err, &conflict) {
			r.logger.Info("Hour bucket already claimed, skipping cycle",
				logger.String("location", run.Location),
				logger.Time("hour_bucket", run.HourBucket))
			return nil, err
		}
		return nil, fmt.Errorf("claiming run: %w", err)
	}

	align, err := timealign.New(runAt, location.Timezone)
	if err != nil {
		run.Status = wx.RunFailed
		run.Errors = append(run.Errors, err.Error())
		r.finish(run, nil)
		return run, err
	}

	artifacts, err := newArtifactWriter(r.cfg.Artifacts.BasePath, run.ID)
	if err != nil {
		r.logger.Warn("Artifact directory unavailable, continuing without artifacts", logger.Error(err))
		artifacts = nil
	}
	defer func() {
		if artifacts != nil {
			artifacts.close()
		}
	}()

	r.logger.Info("Starting ingestion cycle",
		logger.String("run_id", run.ID),
		logger.String("location", run.Location),
		logger.Time("hour_bucket", run.HourBucket),
		logger.Int("providers", len(r.fetchers)))
	r.emit(artifacts, "run_start", map[string]any{
		"run_id":      run.ID,
		"location":    run.Location,
		"hour_bucket": run.HourBucket.Format(time.RFC3339),
	})

	cancelled := false
	for _, fetcher := range r.fetchers {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		outcome := r.runProvider(ctx, fetcher, run, align, artifacts)
		run.Outcomes = append(run.Outcomes, outcome)
		run.RawCount += outcome.RawPayloads
		run.PointCount += outcome.DataPoints
		if outcome.Error != "" {
			run.Errors = append(run.Errors, outcome.Error)
		}
	}

	run.Status = deriveStatus(run.Outcomes, len(r.fetchers), cancelled)
	if cancelled {
		run.Errors = append(run.Errors, fmt.Sprintf("cycle cancelled: %v", ctx.Err()))
	}
	r.finish(run, artifacts)

	r.logger.Info("Ingestion cycle finished",
		logger.String("run_id", run.ID),
		logger.String("status", string(run.Status)),
		logger.Int("raw_payloads", run.RawCount),
		logger.Int("data_points", run.PointCount))
	return run, nil
}

// runProvider drives one provider through fetch, normalize, and store. Any
// failure, including a panicking normalizer, is contained here and reported
// as that provider's outcome.
func (r *Runner) runProvider(ctx context.Context, fetcher providers.Fetcher, run *wx.Run, align *timealign.Aligner, artifacts *artifactWriter) (outcome wx.ProviderOutcome) {
	provider := fetcher.Provider()
	outcome = wx.ProviderOutcome{Provider: provider, Status: "success"}

	defer func() {
		if rec := recover(); rec != nil {
			outcome.Status = "error"
			outcome.Error = fmt.Sprintf("%s: panic: %v", provider, rec)
			r.logger.Error("Provider pipeline panicked",
				logger.String("provider", string(provider)),
				logger.Any("panic", rec))
		}
		if outcome.Status == "success" {
			r.emit(artifacts, "provider_success", map[string]any{
				"provider":     string(provider),
				"raw_payloads": outcome.RawPayloads,
				"data_points":  outcome.DataPoints,
			})
		} else {
			r.emit(artifacts, "provider_error", map[string]any{
				"provider": string(provider),
				"error":    outcome.Error,
			})
		}
	}()

	r.emit(artifacts, "provider_start", map[string]any{"provider": string(provider)})

	payloads, fetchErr := fetcher.Fetch(ctx, run.StartedAt)

	// Payloads fetched before a mid-flight failure are still recorded; the
	// raw store is append-only evidence of what was received.
	var hourly []wx.DataPoint
	for i := range payloads {
		payload := &payloads[i]
		if _, err := r.store.StoreRawPayload(payload); err != nil {
			outcome.Status = "error"
			outcome.Error = fmt.Sprintf("%s: storing raw payload: %v", provider, err)
			return outcome
		}
		outcome.RawPayloads++

		kind, ok := providers.KindForEndpoint(payload.Endpoint)
		if !ok {
			continue
		}
		points, err := providers.Normalize(payload, kind, r.cfg.WxLocation(), align)
		if err != nil {
			outcome.Status = "error"
			outcome.Error = err.Error()
			return outcome
		}
		if !r.storePoints(points, provider, &outcome) {
			return outcome
		}
		if kind == wx.ProductForecastHourly {
			hourly = append(hourly, points...)
		}
	}

	if fetchErr != nil {
		outcome.Status = "error"
		outcome.Error = fetchErr.Error()
		return outcome
	}

	// Sources without a daily product get one synthesized from their
	// hourly forecasts, anchored to the same raw payloads.
	if d, ok := fetcher.(providers.DailyDeriver); ok && d.DerivesDaily() && len(hourly) > 0 {
		daily := providers.DeriveDailyFromHourly(hourly, align)
		if !r.storePoints(daily, provider, &outcome) {
			return outcome
		}
	}
	return outcome
}

// storePoints persists one normalized batch onto the outcome. Individually
// rejected readings are counted but do not fail the provider; a storage
// failure does. Returns false when the provider should stop.
func (r *Runner) storePoints(points []wx.DataPoint, provider wx.Provider, outcome *wx.ProviderOutcome) bool {
	stored, rejected, err := r.store.StoreDataPoints(points)
	if err != nil {
		outcome.Status = "error"
		outcome.Error = fmt.Sprintf("%s: storing data points: %v", provider, err)
		return false
	}
	outcome.DataPoints += stored
	outcome.Rejected += len(rejected)
	return true
}

// deriveStatus collapses per-provider outcomes into the run status. A
// cancelled cycle is Failed regardless of what completed before the
// cancellation.
func deriveStatus(outcomes []wx.ProviderOutcome, expected int, cancelled bool) wx.RunStatus {
	if cancelled {
		return wx.RunFailed
	}
	successes := 0
	for _, o := range outcomes {
		if o.Status == "success" {
			successes++
		}
	}
	switch {
	case successes == expected && expected > 0:
		return wx.RunSuccess
	case successes > 0:
		return wx.RunPartialFailure
	}
	return wx.RunFailed
}

func (r *Runner) finish(run *wx.Run, artifacts *artifactWriter) {
	finishedAt := r.now().UTC()
	run.FinishedAt = &finishedAt

	if err := r.store.FinishRun(run); err != nil {
		r.logger.Error("Failed to persist run completion",
			logger.String("run_id", run.ID),
			logger.Error(err))
	}

	if artifacts == nil {
		return
	}
	r.emit(artifacts, "run_finish", map[string]any{
		"run_id": run.ID,
		"status": string(run.Status),
	})
	location := r.cfg.WxLocation()
	manifest := Manifest{
		RunID:      run.ID,
		Location:   run.Location,
		HourBucket: run.HourBucket.Format(time.RFC3339),
		StartedAt:  run.StartedAt.Format(time.RFC3339),
		FinishedAt: finishedAt.Format(time.RFC3339),
		DurationS:  finishedAt.Sub(run.StartedAt).Seconds(),
		Status:     run.Status,
		Parameters: ManifestParams{
			Latitude:         location.Latitude,
			Longitude:        location.Longitude,
			Timezone:         location.Timezone,
			Providers:        r.cfg.Providers.Enabled,
			GroundTruth:      r.cfg.Providers.GroundTruth,
			ToleranceMinutes: r.cfg.Matching.ToleranceMinutes,
		},
		Outcomes:   run.Outcomes,
		RawCount:   run.RawCount,
		PointCount: run.PointCount,
		Errors:     run.Errors,
	}
	if err := artifacts.writeManifest(manifest); err != nil {
		r.logger.Warn("Failed to write run manifest",
			logger.String("run_id", run.ID),
			logger.Error(err))
	}
}

func (r *Runner) emit(artifacts *artifactWriter, name string, fields map[string]any) {
	if artifacts == nil {
		return
	}
	if err := artifacts.event(name, fields); err != nil {
		r.logger.Warn("Failed to write run event", logger.String("event", name), logger.Error(err))
	}
}
