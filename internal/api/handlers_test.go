package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/config"
	"github.com/yegors/flighttrack/internal/flights"
	"github.com/yegors/flighttrack/internal/metrics"
	"github.com/yegors/flighttrack/pkg/logger"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeStatus struct {
	last    *flights.CycleStatus
	healthy bool
}

func (f *fakeStatus) Status() (flights.CycleStatus, bool) {
	if f.last == nil {
		return flights.CycleStatus{}, false
	}
	return *f.last, true
}

func (f *fakeStatus) Healthy(time.Time) bool { return f.healthy }

type fakeStore struct {
	flights   []flights.Flight
	aircraft  map[string]flights.AircraftInfo
	positions []flights.PositionSample
	err       error

	lastICAO  string
	lastLimit int
}

func (s *fakeStore) ListOpenFlights(context.Context) ([]flights.Flight, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []flights.Flight
	for _, f := range s.flights {
		if f.IsOpen() {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *fakeStore) ListFlights(_ context.Context, icao string, limit int) ([]flights.Flight, error) {
	s.lastICAO, s.lastLimit = icao, limit
	return s.flights, s.err
}

func (s *fakeStore) GetFlight(_ context.Context, id int64) (*flights.Flight, error) {
	for _, f := range s.flights {
		if f.ID == id {
			return &f, nil
		}
	}
	return nil, s.err
}

func (s *fakeStore) GetAircraft(_ context.Context, icao string) (*flights.AircraftInfo, error) {
	if a, ok := s.aircraft[icao]; ok {
		return &a, nil
	}
	return nil, nil
}

func (s *fakeStore) GetPositionHistory(_ context.Context, icao string, limit int) ([]flights.PositionSample, error) {
	s.lastICAO, s.lastLimit = icao, limit
	return s.positions, s.err
}

func newTestRouter(t *testing.T, status *fakeStatus, store *fakeStore) http.Handler {
	t.Helper()
	cfg := &config.Config{
		Server:  config.ServerConfig{CORSAllowedOrigins: []string{"https://ops.example"}},
		Tracker: config.TrackerConfig{PollIntervalSecs: 30, Fleet: []string{"abc123", "c0ffee"}},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
	index := flights.NewActiveFlightIndex()
	index.Set("abc123", 1)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SetActiveFlights(index.Len())

	h := NewHandler(status, store, index, []adsb.SourceName{adsb.SourceLocal, adsb.SourceOpenSky}, cfg, logger.NewNop(), nil)
	h.now = func() time.Time { return now }
	return NewRouter(h, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), cfg, logger.NewNop()).Routes()
}

func sampleStore() *fakeStore {
	landing := now.Add(-time.Hour)
	return &fakeStore{
		flights: []flights.Flight{
			{ID: 1, ICAO: "abc123", TakeoffTime: now.Add(-30 * time.Minute)},
			{ID: 2, ICAO: "c0ffee", TakeoffTime: now.Add(-3 * time.Hour), LandingTime: &landing, DistanceKm: 420},
		},
		aircraft: map[string]flights.AircraftInfo{
			"abc123": {ICAO: "abc123", Callsign: "ACA123", LastSource: adsb.SourceLocal, LastSeen: now},
		},
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		healthy bool
		want    int
	}{
		{"healthy", true, http.StatusOK},
		{"stale", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeStatus{healthy: tt.healthy}, sampleStore())
			if rec := get(t, h, "/healthz"); rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

func TestStatus(t *testing.T) {
	last := &flights.CycleStatus{StartedAt: now, Requested: 2, Resolved: 1, Processed: 1, Missing: []string{"c0ffee"}}
	h := newTestRouter(t, &fakeStatus{last: last, healthy: true}, sampleStore())

	rec := get(t, h, "/api/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp StatusResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Healthy || resp.FleetSize != 2 || resp.ActiveFlights != 1 || resp.PollInterval != "30s" {
		t.Errorf("Unexpected status: %+v", resp)
	}
	if resp.LastCycle == nil || resp.LastCycle.Resolved != 1 || len(resp.Sources) != 2 {
		t.Errorf("Expected last cycle and sources, got %+v", resp)
	}
}

func TestFlights(t *testing.T) {
	store := sampleStore()
	h := newTestRouter(t, &fakeStatus{healthy: true}, store)

	rec := get(t, h, "/api/flights/active")
	var open []flights.Flight
	json.NewDecoder(rec.Body).Decode(&open)
	if rec.Code != http.StatusOK || len(open) != 1 || open[0].ID != 1 {
		t.Errorf("Expected one open flight, got %d %+v", rec.Code, open)
	}

	rec = get(t, h, "/api/flights?icao=ABC123&limit=5000")
	if rec.Code != http.StatusOK || store.lastICAO != "abc123" || store.lastLimit != maxListLimit {
		t.Errorf("Expected normalized icao and capped limit, got %d %q %d", rec.Code, store.lastICAO, store.lastLimit)
	}

	if rec := get(t, h, "/api/flights?icao=zzz"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad icao, got %d", rec.Code)
	}

	rec = get(t, h, "/api/flights/2")
	var f flights.Flight
	json.NewDecoder(rec.Body).Decode(&f)
	if rec.Code != http.StatusOK || f.DistanceKm != 420 || f.IsOpen() {
		t.Errorf("Expected closed flight 2, got %d %+v", rec.Code, f)
	}
	if rec := get(t, h, "/api/flights/99"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
	if rec := get(t, h, "/api/flights/abc"); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestStoreErrors(t *testing.T) {
	store := sampleStore()
	store.err = errors.New("database is locked")
	h := newTestRouter(t, &fakeStatus{healthy: true}, store)

	for _, path := range []string{"/api/flights/active", "/api/flights", "/api/aircraft/abc123/positions"} {
		if rec := get(t, h, path); rec.Code != http.StatusInternalServerError {
			t.Errorf("%s: expected 500, got %d", path, rec.Code)
		}
	}
}

func TestAircraft(t *testing.T) {
	store := sampleStore()
	h := newTestRouter(t, &fakeStatus{healthy: true}, store)

	rec := get(t, h, "/api/aircraft/ABC123")
	var body struct {
		Aircraft     flights.AircraftInfo `json:"aircraft"`
		OpenFlightID int64                `json:"open_flight_id"`
	}
	json.NewDecoder(rec.Body).Decode(&body)
	if rec.Code != http.StatusOK || body.Aircraft.Callsign != "ACA123" || body.OpenFlightID != 1 {
		t.Errorf("Unexpected aircraft response %d: %+v", rec.Code, body)
	}

	if rec := get(t, h, "/api/aircraft/c0ffee"); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unseen aircraft, got %d", rec.Code)
	}

	rec = get(t, h, "/api/aircraft/abc123/positions?limit=10")
	if rec.Code != http.StatusOK || store.lastLimit != 10 {
		t.Errorf("Expected positions with limit 10, got %d / %d", rec.Code, store.lastLimit)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("Expected empty JSON array, got %s", rec.Body.String())
	}
}

func TestMetricsAndCORS(t *testing.T) {
	h := newTestRouter(t, &fakeStatus{healthy: true}, sampleStore())

	rec := get(t, h, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "flighttrack_active_flights 1") {
		t.Errorf("Expected active flights gauge in metrics, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "https://ops.example")
	out := httptest.NewRecorder()
	h.ServeHTTP(out, req)
	if out.Code != http.StatusOK || out.Header().Get("Access-Control-Allow-Origin") != "https://ops.example" {
		t.Errorf("Expected CORS preflight allowed, got %d %q", out.Code, out.Header().Get("Access-Control-Allow-Origin"))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Origin", "https://evil.example")
	out = httptest.NewRecorder()
	h.ServeHTTP(out, req)
	if out.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Expected unknown origin not to be allowed")
	}
}
