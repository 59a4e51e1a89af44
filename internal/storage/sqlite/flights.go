package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yegors/flighttrack/internal/flights"
)

const flightColumns = `id, icao, callsign, takeoff_time, takeoff_lat, takeoff_lon, takeoff_altitude_m,
	landing_time, landing_lat, landing_lon, max_altitude_m, distance_km, duration_s, synthesized`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlight(row rowScanner) (*flights.Flight, error) {
	var (
		f                                    flights.Flight
		callsign                             sql.NullString
		takeoff                              int64
		landing, duration                    sql.NullInt64
		tLat, tLon, tAlt, lLat, lLon, maxAlt sql.NullFloat64
		synthesized                          bool
	)
	err := row.Scan(&f.ID, &f.ICAO, &callsign, &takeoff, &tLat, &tLon, &tAlt,
		&landing, &lLat, &lLon, &maxAlt, &f.DistanceKm, &duration, &synthesized)
	if err != nil {
		return nil, err
	}

	f.Callsign = callsign.String
	f.TakeoffTime = fromMillis(takeoff)
	f.TakeoffLat = floatPtr(tLat)
	f.TakeoffLon = floatPtr(tLon)
	f.TakeoffAltitudeM = floatPtr(tAlt)
	if landing.Valid {
		lt := fromMillis(landing.Int64)
		f.LandingTime = &lt
	}
	f.LandingLat = floatPtr(lLat)
	f.LandingLon = floatPtr(lLon)
	f.MaxAltitudeM = floatPtr(maxAlt)
	if duration.Valid {
		d := duration.Int64
		f.DurationSeconds = &d
	}
	f.Synthesized = synthesized
	return &f, nil
}

// CreateFlight opens a flight. Max altitude starts at the takeoff altitude.
func (s *Store) CreateFlight(ctx context.Context, nf flights.NewFlight) (int64, error) {
	now := toMillis(s.now())
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO flights (icao, callsign, takeoff_time, takeoff_lat, takeoff_lon, takeoff_altitude_m,
			max_altitude_m, distance_km, synthesized, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
	`,
		nf.ICAO, nullableString(nf.Callsign), toMillis(nf.TakeoffTime), nf.TakeoffLat, nf.TakeoffLon,
		nf.TakeoffAltitudeM, nf.TakeoffAltitudeM, nf.Synthesized, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert flight: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get flight id: %w", err)
	}
	return id, nil
}

// UpdateFlight applies the non-nil fields of the patch
func (s *Store) UpdateFlight(ctx context.Context, id int64, p flights.FlightPatch) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE flights SET
			landing_time = COALESCE(?, landing_time),
			landing_lat = COALESCE(?, landing_lat),
			landing_lon = COALESCE(?, landing_lon),
			max_altitude_m = COALESCE(?, max_altitude_m),
			distance_km = COALESCE(?, distance_km),
			duration_s = COALESCE(?, duration_s),
			updated_at = ?
		WHERE id = ?
	`,
		nullableMillis(p.LandingTime), p.LandingLat, p.LandingLon, p.MaxAltitudeM,
		p.DistanceKm, p.DurationSeconds, toMillis(s.now()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update flight: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check updated flight: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("flight %d not found", id)
	}
	return nil
}

// GetFlight returns a flight by id, or nil if it does not exist
func (s *Store) GetFlight(ctx context.Context, id int64) (*flights.Flight, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+flightColumns+` FROM flights WHERE id = ?`, id)
	f, err := scanFlight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query flight: %w", err)
	}
	return f, nil
}

// GetOpenFlight returns the newest open flight for icao, or nil
func (s *Store) GetOpenFlight(ctx context.Context, icao string) (*flights.Flight, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE icao = ? AND landing_time IS NULL
		ORDER BY takeoff_time DESC
		LIMIT 1
	`, icao)
	f, err := scanFlight(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query open flight: %w", err)
	}
	return f, nil
}

// ListOpenFlights returns every open flight, oldest takeoff first
func (s *Store) ListOpenFlights(ctx context.Context) ([]flights.Flight, error) {
	return s.queryFlights(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE landing_time IS NULL
		ORDER BY takeoff_time ASC
	`)
}

// ListFlights returns the newest flights, optionally for one aircraft
func (s *Store) ListFlights(ctx context.Context, icao string, limit int) ([]flights.Flight, error) {
	if limit <= 0 {
		limit = 50
	}
	if icao == "" {
		return s.queryFlights(ctx, `
			SELECT `+flightColumns+`
			FROM flights
			ORDER BY takeoff_time DESC
			LIMIT ?
		`, limit)
	}
	return s.queryFlights(ctx, `
		SELECT `+flightColumns+`
		FROM flights
		WHERE icao = ?
		ORDER BY takeoff_time DESC
		LIMIT ?
	`, icao, limit)
}

func (s *Store) queryFlights(ctx context.Context, query string, args ...any) ([]flights.Flight, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flights: %w", err)
	}
	defer rows.Close()

	out := []flights.Flight{}
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight: %w", err)
		}
		out = append(out, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating flight rows: %w", err)
	}
	return out, nil
}
