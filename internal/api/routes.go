package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/yegors/co-atc-safety/internal/config"
	"github.com/yegors/co-atc-safety/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	config     *config.ServerConfig
	logger     *logger.Logger
}

// NewRouter creates a new API router
func NewRouter(deps Dependencies, cfg *config.ServerConfig, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(deps, log),
		middleware: NewMiddleware(log),
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.CORSAllowedOrigins))
	router.Use(r.middleware.LimitBody)

	router.Route("/api/v1", func(router chi.Router) {
		router.Get("/health", r.handler.GetHealth)
		router.Get("/status", r.handler.GetStatus)

		router.Get("/events", r.handler.GetEvents)

		router.Get("/detection", r.handler.GetDetection)
		router.Put("/detection", r.handler.SetDetection)

		router.Get("/ws", r.handler.HandleWebSocket)
	})

	router.Get("/metrics", r.handler.GetMetrics)

	return router
}
