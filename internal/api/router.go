package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/flighttrack/internal/config"
	"github.com/yegors/flighttrack/pkg/logger"
)

// Router wires the handlers to routes
type Router struct {
	handler *Handler
	metrics http.Handler
	config  *config.Config
	logger  *logger.Logger
}

// NewRouter creates the router. metrics may be nil when metrics are disabled.
func NewRouter(handler *Handler, metrics http.Handler, cfg *config.Config, log *logger.Logger) *Router {
	return &Router{
		handler: handler,
		metrics: metrics,
		config:  cfg,
		logger:  log.Named("api"),
	}
}

// Routes builds the HTTP handler
func (rt *Router) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(rt.requestLogger)
	r.Use(corsMiddleware(rt.config.Server.CORSAllowedOrigins))

	r.Get("/healthz", rt.handler.GetHealth)

	if rt.metrics != nil {
		r.Method(http.MethodGet, rt.config.Metrics.Path, rt.metrics)
	}

	if rt.handler.wsServer != nil {
		r.Get("/ws", rt.handler.wsServer.HandleConnection)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", rt.handler.GetStatus)
		r.Get("/flights", rt.handler.GetFlights)
		r.Get("/flights/active", rt.handler.GetActiveFlights)
		r.Get("/flights/{id}", rt.handler.GetFlightByID)
		r.Get("/aircraft/{icao}", rt.handler.GetAircraft)
		r.Get("/aircraft/{icao}/positions", rt.handler.GetPositionHistory)
	})

	return r
}

// requestLogger logs each request at debug level
func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("duration", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// corsMiddleware allows the configured origins; ["*"] allows any
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowAll := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.TrimRight(o, "/")] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[origin]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
