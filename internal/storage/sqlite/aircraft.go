package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/flights"
)

// UpsertAircraft records the latest identity of an aircraft. Empty fields
// keep their stored value; first_seen is set once.
func (s *Store) UpsertAircraft(ctx context.Context, a flights.AircraftInfo) error {
	seen := toMillis(a.LastSeen)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO aircraft (icao, callsign, category, origin, squawk, last_source, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(icao) DO UPDATE SET
			callsign = COALESCE(excluded.callsign, aircraft.callsign),
			category = COALESCE(excluded.category, aircraft.category),
			origin = COALESCE(excluded.origin, aircraft.origin),
			squawk = COALESCE(excluded.squawk, aircraft.squawk),
			last_source = excluded.last_source,
			last_seen = MAX(aircraft.last_seen, excluded.last_seen)
	`,
		a.ICAO, nullableString(a.Callsign), nullableString(a.Category), nullableString(a.Origin),
		nullableString(a.Squawk), string(a.LastSource), seen, seen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert aircraft: %w", err)
	}
	return nil
}

// GetAircraft returns the registry row for icao, or nil if never seen
func (s *Store) GetAircraft(ctx context.Context, icao string) (*flights.AircraftInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT icao, callsign, category, origin, squawk, last_source, last_seen
		FROM aircraft
		WHERE icao = ?
	`, icao)

	var (
		a                                           flights.AircraftInfo
		callsign, category, origin, squawk, lastSrc sql.NullString
		lastSeen                                    int64
	)
	err := row.Scan(&a.ICAO, &callsign, &category, &origin, &squawk, &lastSrc, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query aircraft: %w", err)
	}

	a.Callsign = callsign.String
	a.Category = category.String
	a.Origin = origin.String
	a.Squawk = squawk.String
	a.LastSource = adsb.SourceName(lastSrc.String)
	a.LastSeen = fromMillis(lastSeen)
	return &a, nil
}
