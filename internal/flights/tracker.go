package flights

import (
	"context"
	"fmt"
	"time"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/physics"
	"github.com/yegors/flighttrack/pkg/logger"
)

// Movements shorter than this are not added to a flight's distance
const minSegmentKm = 0.001

// TrackerConfig controls flight detection
type TrackerConfig struct {
	Thresholds  adsb.ThresholdSet
	RejectStale bool
}

// DefaultTrackerConfig returns default thresholds with stale rejection on
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{Thresholds: adsb.NewThresholdSet(), RejectStale: true}
}

// Outcome describes what Process did with one observation
type Outcome struct {
	ICAO       string
	Transition Transition
	// FlightID is the flight opened, updated or closed, 0 if none
	FlightID int64
	// ClosedStaleID is set when a takeoff closed a flight that never landed
	ClosedStaleID int64
	// Unmatched is set for a landing with no open flight to close
	Unmatched bool
}

// Tracker turns state records into flight records. Process must not be
// called concurrently; the poll cycle feeds it one record at a time.
type Tracker struct {
	store     Store
	index     *ActiveFlightIndex
	cfg       TrackerConfig
	publisher EventPublisher
	metrics   Metrics
	logger    *logger.Logger
	now       func() time.Time
}

// NewTracker creates a tracker with an empty active-flight index
func NewTracker(store Store, cfg TrackerConfig, log *logger.Logger) *Tracker {
	if cfg.Thresholds.ByCategory == nil && cfg.Thresholds.Default == (adsb.Thresholds{}) {
		cfg.Thresholds = adsb.NewThresholdSet()
	}
	return &Tracker{
		store:   store,
		index:   NewActiveFlightIndex(),
		cfg:     cfg,
		metrics: nopMetrics{},
		logger:  log.Named("tracker"),
		now:     time.Now,
	}
}

// SetPublisher sets where flight events are delivered
func (t *Tracker) SetPublisher(p EventPublisher) {
	t.publisher = p
}

// SetMetrics sets the metrics sink
func (t *Tracker) SetMetrics(m Metrics) {
	if m == nil {
		m = nopMetrics{}
	}
	t.metrics = m
}

// Index exposes the active-flight index for read-only use
func (t *Tracker) Index() *ActiveFlightIndex {
	return t.index
}

// Rehydrate loads open flights for the tracked fleet into the index
func (t *Tracker) Rehydrate(ctx context.Context, icaos []string) error {
	valid, _ := adsb.NormalizeICAOList(icaos)
	n, err := t.index.Rehydrate(ctx, t.store, valid)
	t.metrics.SetActiveFlights(t.index.Len())
	if err != nil {
		return fmt.Errorf("failed to rehydrate active flights: %w", err)
	}
	t.logger.Info("Rehydrated active flights",
		logger.Int("open_flights", n),
		logger.Int("tracked", len(valid)))
	return nil
}

// Process classifies one observation, applies the resulting flight change
// and records the observation as the new last known state
func (t *Tracker) Process(ctx context.Context, rec adsb.StateRecord) (Outcome, error) {
	icao, ok := adsb.NormalizeICAO(rec.ICAO)
	if !ok {
		t.metrics.ObserveDropped("invalid_icao")
		return Outcome{ICAO: rec.ICAO}, fmt.Errorf("%w: %q", ErrInvalidICAO, rec.ICAO)
	}
	rec.ICAO = icao
	out := Outcome{ICAO: icao}

	if !rec.HasAnyPosition() {
		t.metrics.ObserveDropped("no_position")
		return out, fmt.Errorf("%w: %s", ErrNoPosition, icao)
	}

	prev, err := t.store.GetLastKnownState(ctx, icao)
	if err != nil {
		return out, fmt.Errorf("failed to load last known state for %s: %w", icao, err)
	}
	if t.cfg.RejectStale && prev != nil && rec.Timestamp.Before(prev.Timestamp) {
		t.metrics.ObserveDropped("stale")
		return out, fmt.Errorf("%w: %s observed %s, last known %s", ErrStaleObservation, icao,
			rec.Timestamp.UTC().Format(time.RFC3339), prev.Timestamp.UTC().Format(time.RFC3339))
	}

	active, err := t.activeFlight(ctx, icao)
	if err != nil {
		return out, err
	}

	out.Transition = Classify(prev, rec, active != nil, t.cfg.Thresholds.For(rec.Category))

	switch {
	case out.Transition.OpensFlight():
		if active != nil {
			if err := t.closeStale(ctx, active, prev); err != nil {
				return out, err
			}
			out.ClosedStaleID = active.ID
		}
		id, err := t.openFlight(ctx, rec, out.Transition)
		if err != nil {
			return out, err
		}
		out.FlightID = id

	case out.Transition == TransitionLanding:
		if active == nil {
			out.Unmatched = true
			t.metrics.ObserveUnmatchedLanding()
			t.logger.Warn("Landing without an open flight",
				logger.String("icao", icao),
				logger.Time("timestamp", rec.Timestamp))
			break
		}
		if err := t.closeFlight(ctx, active, prev, rec); err != nil {
			return out, err
		}
		out.FlightID = active.ID

	case out.Transition == TransitionAirborne:
		if err := t.accumulate(ctx, active, prev, rec); err != nil {
			return out, err
		}
		out.FlightID = active.ID
	}

	t.metrics.ObserveTransition(out.Transition)

	if err := t.recordObservation(ctx, rec); err != nil {
		return out, err
	}
	return out, nil
}

// activeFlight resolves the open flight through the index, falling back to
// the store on a miss or a stale index entry. The row is loaded even on a
// hit since landing and accumulation need its distance and max altitude.
func (t *Tracker) activeFlight(ctx context.Context, icao string) (*Flight, error) {
	if id, ok := t.index.Get(icao); ok {
		f, err := t.store.GetFlight(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load flight %d: %w", id, err)
		}
		if f != nil && f.IsOpen() {
			return f, nil
		}
		t.index.Delete(icao)
	}

	f, err := t.store.GetOpenFlight(ctx, icao)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open flight for %s: %w", icao, err)
	}
	if f != nil {
		t.index.Set(icao, f.ID)
	}
	return f, nil
}

func (t *Tracker) openFlight(ctx context.Context, rec adsb.StateRecord, tr Transition) (int64, error) {
	nf := NewFlight{
		ICAO:             rec.ICAO,
		Callsign:         rec.Callsign,
		TakeoffTime:      rec.Timestamp,
		TakeoffLat:       rec.Lat,
		TakeoffLon:       rec.Lon,
		TakeoffAltitudeM: rec.AltitudeM,
		Synthesized:      tr != TransitionTakeoff,
	}
	id, err := t.store.CreateFlight(ctx, nf)
	if err != nil {
		return 0, fmt.Errorf("failed to create flight for %s: %w", rec.ICAO, err)
	}
	t.index.Set(rec.ICAO, id)
	t.metrics.SetActiveFlights(t.index.Len())

	if tr == TransitionTakeoff {
		t.logger.Info("TAKEOFF DETECTED",
			logger.String("icao", rec.ICAO),
			logger.String("callsign", rec.Callsign),
			logger.Int64("flight_id", id),
			logger.Any("altitude_m", rec.AltitudeM),
			logger.Any("speed_ms", rec.SpeedMS),
			logger.String("source", string(rec.Source)))
	} else {
		t.logger.Info("Airborne aircraft without open flight, flight synthesized",
			logger.String("icao", rec.ICAO),
			logger.String("transition", tr.String()),
			logger.Int64("flight_id", id))
	}

	t.publish(ctx, Event{
		Type:        eventForTransition(tr),
		ICAO:        rec.ICAO,
		Callsign:    rec.Callsign,
		FlightID:    id,
		Time:        rec.Timestamp,
		Lat:         rec.Lat,
		Lon:         rec.Lon,
		AltitudeM:   rec.AltitudeM,
		SpeedMS:     rec.SpeedMS,
		Synthesized: nf.Synthesized,
		Source:      rec.Source,
	})
	return id, nil
}

func (t *Tracker) closeFlight(ctx context.Context, f *Flight, prev *LastKnownState, rec adsb.StateRecord) error {
	landing := rec.Timestamp
	duration := durationSeconds(f.TakeoffTime, landing)
	distance := f.DistanceKm + segmentKm(prev, rec)

	patch := FlightPatch{
		LandingTime:     &landing,
		LandingLat:      rec.Lat,
		LandingLon:      rec.Lon,
		DistanceKm:      &distance,
		DurationSeconds: &duration,
	}
	if raisesMax(f.MaxAltitudeM, rec.AltitudeM) {
		patch.MaxAltitudeM = rec.AltitudeM
	}
	if err := t.store.UpdateFlight(ctx, f.ID, patch); err != nil {
		return fmt.Errorf("failed to close flight %d: %w", f.ID, err)
	}
	t.index.Delete(rec.ICAO)
	t.metrics.SetActiveFlights(t.index.Len())

	t.logger.Info("LANDING DETECTED",
		logger.String("icao", rec.ICAO),
		logger.Int64("flight_id", f.ID),
		logger.Int64("duration_s", duration),
		logger.Float64("distance_km", distance),
		logger.String("source", string(rec.Source)))

	t.publish(ctx, Event{
		Type:            EventLanding,
		ICAO:            rec.ICAO,
		Callsign:        firstNonEmpty(rec.Callsign, f.Callsign),
		FlightID:        f.ID,
		Time:            landing,
		Lat:             rec.Lat,
		Lon:             rec.Lon,
		AltitudeM:       rec.AltitudeM,
		SpeedMS:         rec.SpeedMS,
		DistanceKm:      distance,
		DurationSeconds: &duration,
		Synthesized:     f.Synthesized,
		Source:          rec.Source,
	})
	return nil
}

// closeStale closes a flight that was still open when the aircraft took off
// again. The landing is placed at the last ground observation.
func (t *Tracker) closeStale(ctx context.Context, f *Flight, prev *LastKnownState) error {
	landing := prev.Timestamp
	duration := durationSeconds(f.TakeoffTime, landing)
	patch := FlightPatch{
		LandingTime:     &landing,
		LandingLat:      prev.Lat,
		LandingLon:      prev.Lon,
		DurationSeconds: &duration,
	}
	if err := t.store.UpdateFlight(ctx, f.ID, patch); err != nil {
		return fmt.Errorf("failed to close stale flight %d: %w", f.ID, err)
	}
	t.index.Delete(f.ICAO)

	t.logger.Warn("Closed flight that never landed",
		logger.String("icao", f.ICAO),
		logger.Int64("flight_id", f.ID),
		logger.Time("closed_at", landing))

	t.publish(ctx, Event{
		Type:            EventStaleClosed,
		ICAO:            f.ICAO,
		Callsign:        f.Callsign,
		FlightID:        f.ID,
		Time:            landing,
		Lat:             prev.Lat,
		Lon:             prev.Lon,
		DistanceKm:      f.DistanceKm,
		DurationSeconds: &duration,
		Synthesized:     f.Synthesized,
	})
	return nil
}

// accumulate extends an open flight's distance and max altitude. Nothing is
// written when neither changed.
func (t *Tracker) accumulate(ctx context.Context, f *Flight, prev *LastKnownState, rec adsb.StateRecord) error {
	var patch FlightPatch
	if seg := segmentKm(prev, rec); seg >= minSegmentKm {
		d := f.DistanceKm + seg
		patch.DistanceKm = &d
	}
	if raisesMax(f.MaxAltitudeM, rec.AltitudeM) {
		patch.MaxAltitudeM = rec.AltitudeM
	}
	if patch.IsEmpty() {
		return nil
	}
	if err := t.store.UpdateFlight(ctx, f.ID, patch); err != nil {
		return fmt.Errorf("failed to update flight %d: %w", f.ID, err)
	}
	return nil
}

func (t *Tracker) recordObservation(ctx context.Context, rec adsb.StateRecord) error {
	sample := PositionSample{
		ICAO:           rec.ICAO,
		Timestamp:      rec.Timestamp,
		Lat:            rec.Lat,
		Lon:            rec.Lon,
		AltitudeM:      rec.AltitudeM,
		SpeedMS:        rec.SpeedMS,
		HeadingDeg:     rec.HeadingDeg,
		VerticalRateMS: rec.VerticalRateMS,
		OnGround:       rec.OnGround,
		Source:         rec.Source,
	}
	if err := t.store.WritePositionSample(ctx, sample); err != nil {
		return fmt.Errorf("failed to write position sample for %s: %w", rec.ICAO, err)
	}

	state := LastKnownState{
		ICAO:       rec.ICAO,
		Timestamp:  rec.Timestamp,
		Lat:        rec.Lat,
		Lon:        rec.Lon,
		AltitudeM:  rec.AltitudeM,
		SpeedMS:    rec.SpeedMS,
		HeadingDeg: rec.HeadingDeg,
		OnGround:   rec.OnGround,
		Source:     rec.Source,
		UpdatedAt:  t.now(),
	}
	if err := t.store.UpsertLastKnownState(ctx, state); err != nil {
		return fmt.Errorf("failed to update last known state for %s: %w", rec.ICAO, err)
	}

	info := AircraftInfo{
		ICAO:       rec.ICAO,
		Callsign:   rec.Callsign,
		Category:   rec.Category,
		Origin:     rec.Origin,
		Squawk:     rec.Squawk,
		LastSource: rec.Source,
		LastSeen:   rec.Timestamp,
	}
	if err := t.store.UpsertAircraft(ctx, info); err != nil {
		return fmt.Errorf("failed to update aircraft %s: %w", rec.ICAO, err)
	}
	return nil
}

func (t *Tracker) publish(ctx context.Context, ev Event) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishFlightEvent(ctx, ev); err != nil {
		t.logger.Warn("Failed to publish flight event",
			logger.String("type", string(ev.Type)),
			logger.String("icao", ev.ICAO),
			logger.Error(err))
	}
}

func eventForTransition(tr Transition) EventType {
	switch tr {
	case TransitionFirstAirborne:
		return EventFirstAirborne
	case TransitionRecovered:
		return EventRecovered
	case TransitionLanding:
		return EventLanding
	default:
		return EventTakeoff
	}
}

// segmentKm is the great-circle distance from the last known position to
// the record, 0 when either is incomplete
func segmentKm(prev *LastKnownState, rec adsb.StateRecord) float64 {
	if !prev.HasPosition() || !rec.HasPosition() {
		return 0
	}
	return physics.HaversineKm(*prev.Lat, *prev.Lon, *rec.Lat, *rec.Lon)
}

func raisesMax(current, alt *float64) bool {
	if alt == nil {
		return false
	}
	return current == nil || *alt > *current
}

func durationSeconds(from, to time.Time) int64 {
	d := to.Sub(from).Round(time.Second)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
