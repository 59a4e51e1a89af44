package flights

import (
	"context"
	"time"

	"github.com/yegors/flighttrack/internal/adsb"
)

// LastKnownState is the most recent accepted observation of an aircraft,
// the baseline every new observation is compared against
type LastKnownState struct {
	ICAO       string          `json:"icao"`
	Timestamp  time.Time       `json:"timestamp"`
	Lat        *float64        `json:"lat,omitempty"`
	Lon        *float64        `json:"lon,omitempty"`
	AltitudeM  *float64        `json:"altitude_m,omitempty"`
	SpeedMS    *float64        `json:"speed_ms,omitempty"`
	HeadingDeg *float64        `json:"heading_deg,omitempty"`
	OnGround   *bool           `json:"on_ground,omitempty"`
	Source     adsb.SourceName `json:"source"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// HasPosition reports whether both coordinates are known
func (s *LastKnownState) HasPosition() bool {
	return s != nil && s.Lat != nil && s.Lon != nil
}

// PositionSample is one row of the append-only position history
type PositionSample struct {
	ICAO           string
	Timestamp      time.Time
	Lat            *float64
	Lon            *float64
	AltitudeM      *float64
	SpeedMS        *float64
	HeadingDeg     *float64
	VerticalRateMS *float64
	OnGround       *bool
	Source         adsb.SourceName
}

// Flight is one takeoff-to-landing episode. Open while LandingTime is nil.
type Flight struct {
	ID               int64      `json:"id"`
	ICAO             string     `json:"icao"`
	Callsign         string     `json:"callsign,omitempty"`
	TakeoffTime      time.Time  `json:"takeoff_time"`
	TakeoffLat       *float64   `json:"takeoff_lat,omitempty"`
	TakeoffLon       *float64   `json:"takeoff_lon,omitempty"`
	TakeoffAltitudeM *float64   `json:"takeoff_altitude_m,omitempty"`
	LandingTime      *time.Time `json:"landing_time,omitempty"`
	LandingLat       *float64   `json:"landing_lat,omitempty"`
	LandingLon       *float64   `json:"landing_lon,omitempty"`
	MaxAltitudeM     *float64   `json:"max_altitude_m,omitempty"`
	DistanceKm       float64    `json:"distance_km"`
	DurationSeconds  *int64     `json:"duration_seconds,omitempty"`
	// Synthesized marks flights whose takeoff was not observed
	Synthesized bool `json:"synthesized"`
}

// IsOpen reports whether the flight has not landed yet
func (f *Flight) IsOpen() bool {
	return f.LandingTime == nil
}

// NewFlight holds the takeoff fields of a flight being opened
type NewFlight struct {
	ICAO             string
	Callsign         string
	TakeoffTime      time.Time
	TakeoffLat       *float64
	TakeoffLon       *float64
	TakeoffAltitudeM *float64
	Synthesized      bool
}

// FlightPatch is a partial flight update. Nil fields are left unchanged.
type FlightPatch struct {
	LandingTime     *time.Time
	LandingLat      *float64
	LandingLon      *float64
	MaxAltitudeM    *float64
	DistanceKm      *float64
	DurationSeconds *int64
}

// IsEmpty reports whether the patch changes nothing
func (p FlightPatch) IsEmpty() bool {
	return p.LandingTime == nil && p.LandingLat == nil && p.LandingLon == nil &&
		p.MaxAltitudeM == nil && p.DistanceKm == nil && p.DurationSeconds == nil
}

// AircraftInfo is the per-aircraft registry row
type AircraftInfo struct {
	ICAO       string          `json:"icao"`
	Callsign   string          `json:"callsign,omitempty"`
	Category   string          `json:"category,omitempty"`
	Origin     string          `json:"origin,omitempty"`
	Squawk     string          `json:"squawk,omitempty"`
	LastSource adsb.SourceName `json:"last_source"`
	LastSeen   time.Time       `json:"last_seen"`
}

// Store is the persistence the tracker depends on. Lookups return nil, nil
// when nothing matches.
type Store interface {
	GetLastKnownState(ctx context.Context, icao string) (*LastKnownState, error)
	WritePositionSample(ctx context.Context, sample PositionSample) error
	UpsertLastKnownState(ctx context.Context, state LastKnownState) error
	CreateFlight(ctx context.Context, flight NewFlight) (int64, error)
	UpdateFlight(ctx context.Context, id int64, patch FlightPatch) error
	GetFlight(ctx context.Context, id int64) (*Flight, error)
	GetOpenFlight(ctx context.Context, icao string) (*Flight, error)
	UpsertAircraft(ctx context.Context, info AircraftInfo) error
}

// FlightLister lists flights for the ops API
type FlightLister interface {
	ListOpenFlights(ctx context.Context) ([]Flight, error)
	ListFlights(ctx context.Context, icao string, limit int) ([]Flight, error)
}

// PositionPruner deletes position history older than a cutoff
type PositionPruner interface {
	PrunePositions(ctx context.Context, before time.Time) (int64, error)
}
