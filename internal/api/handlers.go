package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/runner"
	"github.com/yegors/wxbench/internal/storage/sqlite"
	"github.com/yegors/wxbench/internal/wx"
	"github.com/yegors/wxbench/pkg/logger"
)

// Handler contains the API handlers
type Handler struct {
	store  *sqlite.Store
	config *config.Config
	logger *logger.Logger
}

// NewHandler creates a new API handler
func NewHandler(store *sqlite.Store, config *config.Config, logger *logger.Logger) *Handler {
	return &Handler{
		store:  store,
		config: config,
		logger: logger.Named("api-handler"),
	}
}

// GetHealth reports service liveness and store counts
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	rawCount, err := h.store.CountRawPayloads()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to read store", err)
		return
	}
	pointCount, err := h.store.CountDataPoints()
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to read store", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"time":         time.Now().UTC().Format(time.RFC3339),
		"raw_payloads": rawCount,
		"data_points":  pointCount,
	})
}

// GetScores recomputes accuracy statistics from the persisted data points.
// Optional query parameters: provider, metric_type, lead_unit.
func (h *Handler) GetScores(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	records, err := runner.ComputeScores(h.store, h.config)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to compute scores", err)
		return
	}

	provider := r.URL.Query().Get("provider")
	metricType := r.URL.Query().Get("metric_type")
	leadUnit := r.URL.Query().Get("lead_unit")
	filtered := make([]wx.ScoreRecord, 0, len(records))
	for _, record := range records {
		if provider != "" && string(record.Provider) != provider {
			continue
		}
		if metricType != "" && record.MetricType != metricType {
			continue
		}
		if leadUnit != "" && string(record.LeadUnit) != leadUnit {
			continue
		}
		filtered = append(filtered, record)
	}

	h.logger.Debug("Computed scores",
		logger.Int("buckets", len(filtered)),
		logger.Duration("duration", time.Since(start)))
	WriteJSON(w, http.StatusOK, map[string]any{
		"ground_truth": h.config.Providers.GroundTruth,
		"scores":       filtered,
	})
}

// GetRuns returns recent runs, newest first
func (h *Handler) GetRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntParam(r, "limit", 50)
	runs, err := h.store.GetRuns(limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load runs", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// GetRunByID returns one run by its identifier
func (h *Handler) GetRunByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := h.store.GetRun(id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "run not found", nil)
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to load run", err)
		return
	}
	WriteJSON(w, http.StatusOK, run)
}

// GetDataPoints returns stored data points with optional filters:
// provider, product_kind, metric_type, limit.
func (h *Handler) GetDataPoints(w http.ResponseWriter, r *http.Request) {
	filter := sqlite.PointFilter{
		Provider:    wx.Provider(r.URL.Query().Get("provider")),
		ProductKind: wx.ProductKind(r.URL.Query().Get("product_kind")),
		MetricType:  r.URL.Query().Get("metric_type"),
		Limit:       parseIntParam(r, "limit", 500),
	}
	points, err := h.store.GetDataPoints(filter)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load data points", err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"count":  len(points),
		"points": points,
	})
}

func parseIntParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		h.logger.Error(message, logger.Error(err))
	}
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
