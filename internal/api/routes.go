// Package api serves the aircraft buffer to the renderer: the column table
// over HTTP, a websocket stream of "replaced" events, scheduler status and
// Prometheus metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/unklstewy/skyplot/internal/buffer"
	"github.com/unklstewy/skyplot/internal/db"
	"github.com/unklstewy/skyplot/internal/ingest"
	"github.com/unklstewy/skyplot/internal/observability"
	"github.com/unklstewy/skyplot/pkg/coordinates"
	"github.com/unklstewy/skyplot/pkg/logger"
)

// Ingester is the part of the ingestion service the API drives.
type Ingester interface {
	Status() ingest.Status
	TriggerNow() error
}

// EventLister reads back recorded cycle events.
type EventLister interface {
	Recent(ctx context.Context, outcome string, limit int) ([]db.CycleEventRecord, error)
}

// Deps are the collaborators the API serves from. Events and Metrics are
// optional; their routes are only mounted when set. Database adds a
// connectivity check to /health and event counts to /status.
type Deps struct {
	Buffer   *buffer.Buffer
	Ingest   Ingester
	Events   EventLister
	Metrics  *observability.CycleCollector
	Database *db.DB

	Region         coordinates.BoundingBox
	AllowedOrigins []string
}

// Router is the API router
type Router struct {
	handler    *Handler
	stream     *Stream
	middleware *Middleware
	deps       Deps
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Deps, log *logger.Logger) *Router {
	if log == nil {
		log = logger.NewNop()
	}
	return &Router{
		handler:    NewHandler(deps, log),
		stream:     NewStream(deps.Buffer, deps.Metrics, log),
		middleware: NewMiddleware(log),
		deps:       deps,
		logger:     log.Named("api-router"),
	}
}

// Stream returns the websocket stream so the caller can close it on shutdown.
func (r *Router) Stream() *Stream {
	return r.stream
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	if r.deps.Metrics != nil {
		router.Use(r.deps.Metrics.Middleware)
	}
	router.Use(r.middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(r.middleware.CORS(r.deps.AllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		// Aircraft routes
		router.Get("/aircraft", r.handler.GetAircraft)
		router.Get("/aircraft/{icao24}", r.handler.GetAircraftByICAO)

		// Fixed plot ranges
		router.Get("/viewport", r.handler.GetViewport)

		// Scheduler
		router.Get("/status", r.handler.GetStatus)
		router.Post("/refresh", r.handler.Refresh)

		if r.deps.Events != nil {
			router.Get("/cycles", r.handler.GetCycles)
		}

		// WebSocket route
		router.Get("/ws", r.stream.ServeHTTP)

		// Health check
		router.Get("/health", r.handler.GetHealth)
	})

	if r.deps.Metrics != nil {
		router.Method(http.MethodGet, "/metrics", r.deps.Metrics.Handler())
	}

	r.logger.Debug("Routes mounted",
		logger.Bool("cycles", r.deps.Events != nil),
		logger.Bool("metrics", r.deps.Metrics != nil),
		logger.Bool("database", r.deps.Database != nil),
	)

	return router
}
