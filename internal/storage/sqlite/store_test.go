package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/flights"
	"github.com/yegors/flighttrack/pkg/logger"
)

var _ flights.Store = (*Store)(nil)
var _ flights.FlightLister = (*Store)(nil)
var _ flights.PositionPruner = (*Store)(nil)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "flights.db"), logger.NewNop())
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestLastKnownStateRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.GetLastKnownState(ctx, "abc123")
	if err != nil || got != nil {
		t.Fatalf("Expected nil for unknown aircraft, got %+v, %v", got, err)
	}

	st := flights.LastKnownState{
		ICAO:      "abc123",
		Timestamp: base,
		Lat:       adsb.Float(43.6),
		Lon:       adsb.Float(-79.6),
		AltitudeM: adsb.Float(0),
		SpeedMS:   adsb.Float(3.5),
		OnGround:  adsb.Bool(true),
		Source:    adsb.SourceLocal,
		UpdatedAt: base,
	}
	if err := s.UpsertLastKnownState(ctx, st); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err = s.GetLastKnownState(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Timestamp.Equal(base) || *got.Lat != 43.6 || *got.SpeedMS != 3.5 || got.HeadingDeg != nil {
		t.Errorf("Unexpected state: %+v", got)
	}
	if got.OnGround == nil || !*got.OnGround || got.Source != adsb.SourceLocal {
		t.Errorf("Expected on-ground from local, got %v/%s", got.OnGround, got.Source)
	}
}

func TestUpsertLastKnownStateKeepsGroundFlag(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := flights.LastKnownState{ICAO: "abc123", Timestamp: base, OnGround: adsb.Bool(true), UpdatedAt: base}
	if err := s.UpsertLastKnownState(ctx, first); err != nil {
		t.Fatal(err)
	}
	unknown := flights.LastKnownState{ICAO: "abc123", Timestamp: base.Add(time.Minute), AltitudeM: adsb.Float(900), UpdatedAt: base}
	if err := s.UpsertLastKnownState(ctx, unknown); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetLastKnownState(ctx, "abc123")
	if got.OnGround == nil || !*got.OnGround {
		t.Errorf("Expected on-ground kept, got %v", got.OnGround)
	}
	if !got.Timestamp.Equal(base.Add(time.Minute)) || *got.AltitudeM != 900 {
		t.Errorf("Expected other fields replaced, got %+v", got)
	}

	airborne := flights.LastKnownState{ICAO: "abc123", Timestamp: base.Add(2 * time.Minute), OnGround: adsb.Bool(false), UpdatedAt: base}
	s.UpsertLastKnownState(ctx, airborne)
	got, _ = s.GetLastKnownState(ctx, "abc123")
	if got.OnGround == nil || *got.OnGround {
		t.Errorf("Expected known flag to replace stored value, got %v", got.OnGround)
	}
}

func TestFlightLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateFlight(ctx, flights.NewFlight{
		ICAO:             "abc123",
		Callsign:         "ACA123",
		TakeoffTime:      base,
		TakeoffLat:       adsb.Float(43.6),
		TakeoffLon:       adsb.Float(-79.6),
		TakeoffAltitudeM: adsb.Float(120),
	})
	if err != nil {
		t.Fatalf("CreateFlight failed: %v", err)
	}

	open, err := s.GetOpenFlight(ctx, "abc123")
	if err != nil || open == nil || open.ID != id {
		t.Fatalf("Expected open flight %d, got %+v, %v", id, open, err)
	}
	if *open.MaxAltitudeM != 120 || open.DistanceKm != 0 || open.Synthesized || open.Callsign != "ACA123" {
		t.Errorf("Unexpected new flight: %+v", open)
	}

	alt := 3000.0
	dist := 25.0
	if err := s.UpdateFlight(ctx, id, flights.FlightPatch{MaxAltitudeM: &alt, DistanceKm: &dist}); err != nil {
		t.Fatalf("UpdateFlight failed: %v", err)
	}

	landing := base.Add(10 * time.Minute)
	dur := int64(600)
	final := 50.0
	patch := flights.FlightPatch{
		LandingTime:     &landing,
		LandingLat:      adsb.Float(44.0),
		LandingLon:      adsb.Float(-79.6),
		DistanceKm:      &final,
		DurationSeconds: &dur,
	}
	if err := s.UpdateFlight(ctx, id, patch); err != nil {
		t.Fatalf("Closing flight failed: %v", err)
	}

	f, err := s.GetFlight(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if f.IsOpen() || !f.LandingTime.Equal(landing) || *f.DurationSeconds != 600 {
		t.Errorf("Expected closed flight, got %+v", f)
	}
	if *f.MaxAltitudeM != 3000 || f.DistanceKm != 50 {
		t.Errorf("Expected patch fields applied and kept, got alt %v dist %v", *f.MaxAltitudeM, f.DistanceKm)
	}

	if open, _ := s.GetOpenFlight(ctx, "abc123"); open != nil {
		t.Errorf("Expected no open flight, got %+v", open)
	}
	if missing, err := s.GetFlight(ctx, 999); err != nil || missing != nil {
		t.Errorf("Expected nil for missing flight, got %+v, %v", missing, err)
	}
	if err := s.UpdateFlight(ctx, 999, patch); err == nil {
		t.Error("Expected error updating missing flight")
	}
}

func TestListFlights(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	closedID, _ := s.CreateFlight(ctx, flights.NewFlight{ICAO: "aaaaaa", TakeoffTime: base})
	landing := base.Add(time.Hour)
	s.UpdateFlight(ctx, closedID, flights.FlightPatch{LandingTime: &landing})
	s.CreateFlight(ctx, flights.NewFlight{ICAO: "aaaaaa", TakeoffTime: base.Add(2 * time.Hour)})
	s.CreateFlight(ctx, flights.NewFlight{ICAO: "bbbbbb", TakeoffTime: base.Add(time.Minute), Synthesized: true})

	open, err := s.ListOpenFlights(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 || open[0].ICAO != "bbbbbb" || !open[0].Synthesized {
		t.Errorf("Expected 2 open flights oldest first, got %+v", open)
	}

	hist, err := s.ListFlights(ctx, "aaaaaa", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 || hist[1].ID != closedID {
		t.Errorf("Expected aaaaaa history newest first, got %+v", hist)
	}

	all, _ := s.ListFlights(ctx, "", 2)
	if len(all) != 2 {
		t.Errorf("Expected limit applied, got %d", len(all))
	}
}

func TestPositionSamplesAndPruning(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.WritePositionSample(ctx, flights.PositionSample{
			ICAO:           "abc123",
			Timestamp:      base.Add(time.Duration(i) * time.Hour),
			Lat:            adsb.Float(43.6),
			Lon:            adsb.Float(-79.6),
			VerticalRateMS: adsb.Float(float64(i)),
			Source:         adsb.SourceOpenSky,
		})
		if err != nil {
			t.Fatalf("WritePositionSample failed: %v", err)
		}
	}

	hist, err := s.GetPositionHistory(ctx, "abc123", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 3 || *hist[0].VerticalRateMS != 4 || hist[0].OnGround != nil {
		t.Errorf("Expected newest 3 samples, got %+v", hist)
	}

	n, err := s.PrunePositions(ctx, base.Add(2*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Expected 2 pruned, got %d", n)
	}
	hist, _ = s.GetPositionHistory(ctx, "abc123", 0)
	if len(hist) != 3 {
		t.Errorf("Expected 3 samples left, got %d", len(hist))
	}
}

func TestUpsertAircraft(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.UpsertAircraft(ctx, flights.AircraftInfo{ICAO: "abc123", Callsign: "ACA123", Category: "A3", LastSource: adsb.SourceLocal, LastSeen: base})
	s.UpsertAircraft(ctx, flights.AircraftInfo{ICAO: "abc123", Origin: "Canada", LastSource: adsb.SourceOpenSky, LastSeen: base.Add(time.Minute)})

	a, err := s.GetAircraft(ctx, "abc123")
	if err != nil {
		t.Fatal(err)
	}
	if a.Callsign != "ACA123" || a.Category != "A3" || a.Origin != "Canada" {
		t.Errorf("Expected fields merged, got %+v", a)
	}
	if a.LastSource != adsb.SourceOpenSky || !a.LastSeen.Equal(base.Add(time.Minute)) {
		t.Errorf("Expected latest source and time, got %+v", a)
	}
}

func TestTrackerAgainstSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tracker := flights.NewTracker(s, flights.DefaultTrackerConfig(), logger.NewNop())

	lat2 := 43.6 + 50/111.19492664455873
	recs := []adsb.StateRecord{
		{ICAO: "abc123", Timestamp: base, Lat: adsb.Float(43.6), Lon: adsb.Float(-79.6), AltitudeM: adsb.Float(0), SpeedMS: adsb.Float(0), OnGround: adsb.Bool(true)},
		{ICAO: "abc123", Timestamp: base.Add(time.Minute), Lat: adsb.Float(43.6), Lon: adsb.Float(-79.6), AltitudeM: adsb.Float(150), SpeedMS: adsb.Float(70), OnGround: adsb.Bool(false)},
		{ICAO: "abc123", Timestamp: base.Add(11 * time.Minute), Lat: adsb.Float(lat2), Lon: adsb.Float(-79.6), AltitudeM: adsb.Float(5), SpeedMS: adsb.Float(2), OnGround: adsb.Bool(true)},
	}
	for _, r := range recs {
		if _, err := tracker.Process(ctx, r); err != nil {
			t.Fatalf("Process failed: %v", err)
		}
	}

	all, err := s.ListFlights(ctx, "abc123", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected one flight, got %d", len(all))
	}
	f := all[0]
	if f.IsOpen() || *f.DurationSeconds != 600 || math.Abs(f.DistanceKm-50) > 0.01 {
		t.Errorf("Expected closed 600s/50km flight, got %+v", f)
	}
}
