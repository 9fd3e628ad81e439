package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/wxbench/internal/config"
	"github.com/yegors/wxbench/internal/storage/sqlite"
	"github.com/yegors/wxbench/pkg/logger"
)

// Router assembles the inspection API
type Router struct {
	handler *Handler
	logger  *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(store *sqlite.Store, config *config.Config, logger *logger.Logger) *Router {
	return &Router{
		handler: NewHandler(store, config, logger),
		logger:  logger.Named("api-router"),
	}
}

// Routes returns the HTTP handler with all routes mounted
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/health", r.handler.GetHealth)
		router.Get("/scores", r.handler.GetScores)
		router.Get("/runs", r.handler.GetRuns)
		router.Get("/runs/{id}", r.handler.GetRunByID)
		router.Get("/datapoints", r.handler.GetDataPoints)
	})

	return router
}
