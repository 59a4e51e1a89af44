package flights

import (
	"context"
	"time"

	"github.com/yegors/flighttrack/internal/adsb"
)

// EventType names a flight lifecycle event
type EventType string

const (
	EventTakeoff       EventType = "takeoff"
	EventFirstAirborne EventType = "first_airborne"
	EventRecovered     EventType = "recovered"
	EventLanding       EventType = "landing"
	// EventStaleClosed is emitted when an open flight is closed because a new
	// takeoff was seen before its landing
	EventStaleClosed EventType = "stale_closed"
)

// Event is published whenever a flight is opened or closed
type Event struct {
	Type            EventType       `json:"type"`
	ICAO            string          `json:"icao"`
	Callsign        string          `json:"callsign,omitempty"`
	FlightID        int64           `json:"flight_id"`
	Time            time.Time       `json:"time"`
	Lat             *float64        `json:"lat,omitempty"`
	Lon             *float64        `json:"lon,omitempty"`
	AltitudeM       *float64        `json:"altitude_m,omitempty"`
	SpeedMS         *float64        `json:"speed_ms,omitempty"`
	DistanceKm      float64         `json:"distance_km"`
	DurationSeconds *int64          `json:"duration_seconds,omitempty"`
	Synthesized     bool            `json:"synthesized,omitempty"`
	Source          adsb.SourceName `json:"source,omitempty"`
}

// EventPublisher delivers flight events. Delivery failures are logged by the
// tracker and never affect flight state.
type EventPublisher interface {
	PublishFlightEvent(ctx context.Context, ev Event) error
}

// Metrics receives tracker and cycle measurements
type Metrics interface {
	ObserveTransition(t Transition)
	ObserveDropped(reason string)
	ObserveUnmatchedLanding()
	SetActiveFlights(n int)
	ObserveCycle(elapsed time.Duration, processed, failed int)
}

type nopMetrics struct{}

func (nopMetrics) ObserveTransition(Transition) {}
func (nopMetrics) ObserveDropped(string) {}
func (nopMetrics) ObserveUnmatchedLanding() {}
func (nopMetrics) SetActiveFlights(int) {}
func (nopMetrics) ObserveCycle(time.Duration, int, int) {}
