package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yegors/wxbench/internal/wx"
)

// Manifest is the per-run summary written next to the event log. It is a
// human-inspectable artifact; the database row remains the source of truth.
type Manifest struct {
	RunID      string               `json:"run_id"`
	Location   string               `json:"location"`
	HourBucket string               `json:"hour_bucket"`
	StartedAt  string               `json:"started_at"`
	FinishedAt string               `json:"finished_at"`
	DurationS  float64              `json:"duration_seconds"`
	Status     wx.RunStatus         `json:"status"`
	Parameters ManifestParams       `json:"parameters"`
	Outcomes   []wx.ProviderOutcome `json:"outcomes"`
	RawCount   int                  `json:"raw_count"`
	PointCount int                  `json:"point_count"`
	Errors     []string             `json:"errors,omitempty"`
}

// ManifestParams records the inputs the run was executed with.
type ManifestParams struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Timezone         string   `json:"timezone"`
	Providers        []string `json:"providers"`
	GroundTruth      string   `json:"ground_truth"`
	ToleranceMinutes int      `json:"tolerance_minutes"`
}

// artifactWriter appends ordered events to <base>/<run_id>/events.jsonl and
// writes manifest.json on completion. Artifact failures are reported but
// must never fail a run, so callers treat errors here as advisory.
type artifactWriter struct {
	dir    string
	events *os.File
}

func newArtifactWriter(basePath, runID string) (*artifactWriter, error) {
	dir := filepath.Join(basePath, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating artifact directory: %w", err)
	}
	events, err := os.OpenFile(filepath.Join(dir, "events.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening event log: %w", err)
	}
	return &artifactWriter{dir: dir, events: events}, nil
}

// event appends one timestamped event line. Lines are written in call
// order, one JSON object each.
func (w *artifactWriter) event(name string, fields map[string]any) error {
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"event": name,
	}
	for k, v := range fields {
		entry[k] = v
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := w.events.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

func (w *artifactWriter) writeManifest(m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, "manifest.json"), append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

func (w *artifactWriter) close() {
	if w.events != nil {
		w.events.Close()
	}
}
