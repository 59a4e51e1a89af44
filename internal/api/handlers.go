package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/config"
	"github.com/yegors/flighttrack/internal/flights"
	"github.com/yegors/flighttrack/internal/websocket"
	"github.com/yegors/flighttrack/pkg/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000
)

// StatusProvider reports poll-cycle health
type StatusProvider interface {
	Status() (flights.CycleStatus, bool)
	Healthy(now time.Time) bool
}

// Store is the read side of the flight store used by the API
type Store interface {
	ListOpenFlights(ctx context.Context) ([]flights.Flight, error)
	ListFlights(ctx context.Context, icao string, limit int) ([]flights.Flight, error)
	GetFlight(ctx context.Context, id int64) (*flights.Flight, error)
	GetAircraft(ctx context.Context, icao string) (*flights.AircraftInfo, error)
	GetPositionHistory(ctx context.Context, icao string, limit int) ([]flights.PositionSample, error)
}

// Handler contains the API handlers
type Handler struct {
	service  StatusProvider
	store    Store
	index    *flights.ActiveFlightIndex
	sources  []adsb.SourceName
	config   *config.Config
	logger   *logger.Logger
	wsServer *websocket.Server
	now      func() time.Time
}

// NewHandler creates a new API handler. wsServer may be nil when event
// streaming is disabled.
func NewHandler(service StatusProvider, store Store, index *flights.ActiveFlightIndex, sources []adsb.SourceName, cfg *config.Config, log *logger.Logger, wsServer *websocket.Server) *Handler {
	return &Handler{
		service:  service,
		store:    store,
		index:    index,
		sources:  sources,
		config:   cfg,
		logger:   log.Named("api-handler"),
		wsServer: wsServer,
		now:      time.Now,
	}
}

// StatusResponse is the body of GET /api/status
type StatusResponse struct {
	Healthy       bool                 `json:"healthy"`
	Sources       []adsb.SourceName    `json:"sources"`
	FleetSize     int                  `json:"fleet_size"`
	ActiveFlights int                  `json:"active_flights"`
	PollInterval  string               `json:"poll_interval"`
	LastCycle     *flights.CycleStatus `json:"last_cycle,omitempty"`
	WSClients     int                  `json:"ws_clients"`
}

// GetHealth returns 200 when a poll cycle completed recently, 503 otherwise
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	healthy := h.service.Healthy(h.now())
	response := map[string]any{"status": "ok"}
	status := http.StatusOK
	if !healthy {
		response["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	if last, ok := h.service.Status(); ok {
		response["last_cycle"] = last.StartedAt
	}
	WriteJSON(w, status, response)
}

// GetStatus returns the last cycle summary plus tracker state
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Healthy:       h.service.Healthy(h.now()),
		Sources:       h.sources,
		FleetSize:     len(h.config.Tracker.Fleet),
		ActiveFlights: h.index.Len(),
		PollInterval:  (time.Duration(h.config.Tracker.PollIntervalSecs) * time.Second).String(),
	}
	if last, ok := h.service.Status(); ok {
		resp.LastCycle = &last
	}
	if h.wsServer != nil {
		resp.WSClients = h.wsServer.ClientCount()
	}
	WriteJSON(w, http.StatusOK, resp)
}

// GetActiveFlights returns every open flight from the store
func (h *Handler) GetActiveFlights(w http.ResponseWriter, r *http.Request) {
	open, err := h.store.ListOpenFlights(r.Context())
	if err != nil {
		h.logger.Error("Failed to list open flights", logger.Error(err))
		http.Error(w, "Failed to list open flights", http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, open)
}

// GetFlights returns recent flights, optionally for one aircraft (?icao=)
func (h *Handler) GetFlights(w http.ResponseWriter, r *http.Request) {
	icao := ""
	if raw := r.URL.Query().Get("icao"); raw != "" {
		n, ok := adsb.NormalizeICAO(raw)
		if !ok {
			http.Error(w, "Invalid icao", http.StatusBadRequest)
			return
		}
		icao = n
	}

	list, err := h.store.ListFlights(r.Context(), icao, parseLimit(r, defaultListLimit))
	if err != nil {
		h.logger.Error("Failed to list flights", logger.Error(err), logger.String("icao", icao))
		http.Error(w, "Failed to list flights", http.StatusInternalServerError)
		return
	}
	WriteJSON(w, http.StatusOK, list)
}

// GetFlightByID returns one flight
func (h *Handler) GetFlightByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid flight id", http.StatusBadRequest)
		return
	}

	f, err := h.store.GetFlight(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get flight", logger.Error(err), logger.Int64("flight_id", id))
		http.Error(w, "Failed to get flight", http.StatusInternalServerError)
		return
	}
	if f == nil {
		http.Error(w, "Flight not found", http.StatusNotFound)
		return
	}
	WriteJSON(w, http.StatusOK, f)
}

// GetAircraft returns the registry row for an aircraft
func (h *Handler) GetAircraft(w http.ResponseWriter, r *http.Request) {
	icao, ok := adsb.NormalizeICAO(chi.URLParam(r, "icao"))
	if !ok {
		http.Error(w, "Invalid icao", http.StatusBadRequest)
		return
	}

	a, err := h.store.GetAircraft(r.Context(), icao)
	if err != nil {
		h.logger.Error("Failed to get aircraft", logger.Error(err), logger.String("icao", icao))
		http.Error(w, "Failed to get aircraft", http.StatusInternalServerError)
		return
	}
	if a == nil {
		http.Error(w, "Aircraft not found", http.StatusNotFound)
		return
	}

	response := map[string]any{"aircraft": a}
	if id, ok := h.index.Get(icao); ok {
		response["open_flight_id"] = id
	}
	WriteJSON(w, http.StatusOK, response)
}

// GetPositionHistory returns recent position samples for an aircraft, newest first
func (h *Handler) GetPositionHistory(w http.ResponseWriter, r *http.Request) {
	icao, ok := adsb.NormalizeICAO(chi.URLParam(r, "icao"))
	if !ok {
		http.Error(w, "Invalid icao", http.StatusBadRequest)
		return
	}

	hist, err := h.store.GetPositionHistory(r.Context(), icao, parseLimit(r, 100))
	if err != nil {
		h.logger.Error("Failed to get position history", logger.Error(err), logger.String("icao", icao))
		http.Error(w, "Failed to get position history", http.StatusInternalServerError)
		return
	}
	if hist == nil {
		hist = []flights.PositionSample{}
	}
	WriteJSON(w, http.StatusOK, hist)
}

// parseLimit reads ?limit=, falling back to def for missing or bad values
func parseLimit(r *http.Request, def int) int {
	limit := def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

// WriteJSON writes a JSON response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
