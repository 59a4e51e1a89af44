package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/flights"
	"github.com/yegors/flighttrack/pkg/logger"
)

//go:embed schema.sql
var schemaSQL embed.FS

// Config holds PostgreSQL connection settings
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the PostgreSQL implementation of the flight store
type Store struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// Open connects through the pgx driver, pings, and ensures the schema exists
func Open(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	connCfg, err := pgx.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}

	db := stdlib.OpenDB(*connCfg)
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := New(db, log)
	s.logger.Info("Connected to PostgreSQL",
		logger.String("host", connCfg.Host),
		logger.String("database", connCfg.Database))

	if err := s.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection
func New(db *sql.DB, log *logger.Logger) *Store {
	return &Store{db: db, logger: log.Named("postgres"), now: time.Now}
}

// InitSchema creates the tables and indexes if they do not exist
func (s *Store) InitSchema(ctx context.Context) error {
	schema, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

const (
	queryLastKnownState = `SELECT icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, on_ground, source, updated_at FROM last_known_state WHERE icao = $1`

	upsertLastKnownState = `INSERT INTO last_known_state (icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, on_ground, source, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (icao) DO UPDATE SET
	ts = EXCLUDED.ts,
	lat = EXCLUDED.lat,
	lon = EXCLUDED.lon,
	altitude_m = EXCLUDED.altitude_m,
	speed_ms = EXCLUDED.speed_ms,
	heading_deg = EXCLUDED.heading_deg,
	on_ground = COALESCE(EXCLUDED.on_ground, last_known_state.on_ground),
	source = EXCLUDED.source,
	updated_at = EXCLUDED.updated_at`

	insertPositionSample = `INSERT INTO position_samples (icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, vertical_rate_ms, on_ground, source)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	deletePositionsBefore = `DELETE FROM position_samples WHERE ts < $1`

	queryPositionHistory = `SELECT icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, vertical_rate_ms, on_ground, source
FROM position_samples WHERE icao = $1 ORDER BY ts DESC LIMIT $2`

	insertFlight = `INSERT INTO flights (icao, callsign, takeoff_time, takeoff_lat, takeoff_lon, takeoff_altitude_m, max_altitude_m, synthesized, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6, $7, $8, $8)
RETURNING id`

	updateFlight = `UPDATE flights SET
	landing_time = COALESCE($1, landing_time),
	landing_lat = COALESCE($2, landing_lat),
	landing_lon = COALESCE($3, landing_lon),
	max_altitude_m = COALESCE($4, max_altitude_m),
	distance_km = COALESCE($5, distance_km),
	duration_s = COALESCE($6, duration_s),
	updated_at = $7
WHERE id = $8`

	flightColumns = `id, icao, callsign, takeoff_time, takeoff_lat, takeoff_lon, takeoff_altitude_m, landing_time, landing_lat, landing_lon, max_altitude_m, distance_km, duration_s, synthesized`

	queryFlightByID    = `SELECT ` + flightColumns + ` FROM flights WHERE id = $1`
	queryOpenFlight    = `SELECT ` + flightColumns + ` FROM flights WHERE icao = $1 AND landing_time IS NULL ORDER BY takeoff_time DESC LIMIT 1`
	queryOpenFlights   = `SELECT ` + flightColumns + ` FROM flights WHERE landing_time IS NULL ORDER BY takeoff_time ASC`
	queryRecentFlights = `SELECT ` + flightColumns + ` FROM flights ORDER BY takeoff_time DESC LIMIT $1`
	queryFlightsByICAO = `SELECT ` + flightColumns + ` FROM flights WHERE icao = $1 ORDER BY takeoff_time DESC LIMIT $2`

	upsertAircraft = `INSERT INTO aircraft (icao, callsign, category, origin, squawk, last_source, first_seen, last_seen)
VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
ON CONFLICT (icao) DO UPDATE SET
	callsign = COALESCE(EXCLUDED.callsign, aircraft.callsign),
	category = COALESCE(EXCLUDED.category, aircraft.category),
	origin = COALESCE(EXCLUDED.origin, aircraft.origin),
	squawk = COALESCE(EXCLUDED.squawk, aircraft.squawk),
	last_source = EXCLUDED.last_source,
	last_seen = GREATEST(aircraft.last_seen, EXCLUDED.last_seen)`

	queryAircraft = `SELECT icao, callsign, category, origin, squawk, last_source, last_seen FROM aircraft WHERE icao = $1`
)

// GetLastKnownState returns the baseline state for icao, or nil if never seen
func (s *Store) GetLastKnownState(ctx context.Context, icao string) (*flights.LastKnownState, error) {
	var (
		st                            flights.LastKnownState
		lat, lon, alt, speed, heading sql.NullFloat64
		onGround                      sql.NullBool
		source                        sql.NullString
	)
	err := s.db.QueryRowContext(ctx, queryLastKnownState, icao).
		Scan(&st.ICAO, &st.Timestamp, &lat, &lon, &alt, &speed, &heading, &onGround, &source, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last known state: %w", err)
	}
	st.Lat = floatPtr(lat)
	st.Lon = floatPtr(lon)
	st.AltitudeM = floatPtr(alt)
	st.SpeedMS = floatPtr(speed)
	st.HeadingDeg = floatPtr(heading)
	st.OnGround = boolPtr(onGround)
	st.Source = adsb.SourceName(source.String)
	return &st, nil
}

// UpsertLastKnownState replaces the baseline for the aircraft. An unknown
// on-ground flag keeps the stored value.
func (s *Store) UpsertLastKnownState(ctx context.Context, st flights.LastKnownState) error {
	_, err := s.db.ExecContext(ctx, upsertLastKnownState,
		st.ICAO, st.Timestamp, st.Lat, st.Lon, st.AltitudeM, st.SpeedMS, st.HeadingDeg,
		st.OnGround, string(st.Source), st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert last known state: %w", err)
	}
	return nil
}

// WritePositionSample appends one row to the position history
func (s *Store) WritePositionSample(ctx context.Context, p flights.PositionSample) error {
	_, err := s.db.ExecContext(ctx, insertPositionSample,
		p.ICAO, p.Timestamp, p.Lat, p.Lon, p.AltitudeM, p.SpeedMS, p.HeadingDeg,
		p.VerticalRateMS, p.OnGround, string(p.Source))
	if err != nil {
		return fmt.Errorf("failed to insert position sample: %w", err)
	}
	return nil
}

// PrunePositions deletes samples observed before the cutoff
func (s *Store) PrunePositions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, deletePositionsBefore, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune position samples: %w", err)
	}
	return res.RowsAffected()
}

// CreateFlight opens a flight. Max altitude starts at the takeoff altitude.
func (s *Store) CreateFlight(ctx context.Context, nf flights.NewFlight) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, insertFlight,
		nf.ICAO, nullableString(nf.Callsign), nf.TakeoffTime, nf.TakeoffLat, nf.TakeoffLon,
		nf.TakeoffAltitudeM, nf.Synthesized, s.now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert flight: %w", err)
	}
	return id, nil
}

// UpdateFlight applies the non-nil fields of the patch
func (s *Store) UpdateFlight(ctx context.Context, id int64, p flights.FlightPatch) error {
	res, err := s.db.ExecContext(ctx, updateFlight,
		p.LandingTime, p.LandingLat, p.LandingLon, p.MaxAltitudeM, p.DistanceKm, p.DurationSeconds,
		s.now(), id)
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
	f, err := scanFlight(s.db.QueryRowContext(ctx, queryFlightByID, id))
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
	f, err := scanFlight(s.db.QueryRowContext(ctx, queryOpenFlight, icao))
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
	return s.queryFlights(ctx, queryOpenFlights)
}

// ListFlights returns the newest flights, optionally for one aircraft
func (s *Store) ListFlights(ctx context.Context, icao string, limit int) ([]flights.Flight, error) {
	if limit <= 0 {
		limit = 50
	}
	if icao == "" {
		return s.queryFlights(ctx, queryRecentFlights, limit)
	}
	return s.queryFlights(ctx, queryFlightsByICAO, icao, limit)
}

// UpsertAircraft records the latest identity of an aircraft
func (s *Store) UpsertAircraft(ctx context.Context, a flights.AircraftInfo) error {
	_, err := s.db.ExecContext(ctx, upsertAircraft,
		a.ICAO, nullableString(a.Callsign), nullableString(a.Category), nullableString(a.Origin),
		nullableString(a.Squawk), string(a.LastSource), a.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert aircraft: %w", err)
	}
	return nil
}

// GetAircraft returns the registry row for icao, or nil if never seen
func (s *Store) GetAircraft(ctx context.Context, icao string) (*flights.AircraftInfo, error) {
	var (
		a                                           flights.AircraftInfo
		callsign, category, origin, squawk, lastSrc sql.NullString
	)
	err := s.db.QueryRowContext(ctx, queryAircraft, icao).
		Scan(&a.ICAO, &callsign, &category, &origin, &squawk, &lastSrc, &a.LastSeen)
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
	return &a, nil
}

// GetPositionHistory returns the newest samples for icao, newest first
func (s *Store) GetPositionHistory(ctx context.Context, icao string, limit int) ([]flights.PositionSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, queryPositionHistory, icao, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query position history: %w", err)
	}
	defer rows.Close()

	out := []flights.PositionSample{}
	for rows.Next() {
		var (
			p                                 flights.PositionSample
			lat, lon, alt, speed, heading, vr sql.NullFloat64
			onGround                          sql.NullBool
			source                            sql.NullString
		)
		if err := rows.Scan(&p.ICAO, &p.Timestamp, &lat, &lon, &alt, &speed, &heading, &vr, &onGround, &source); err != nil {
			return nil, fmt.Errorf("failed to scan position sample: %w", err)
		}
		p.Lat = floatPtr(lat)
		p.Lon = floatPtr(lon)
		p.AltitudeM = floatPtr(alt)
		p.SpeedMS = floatPtr(speed)
		p.HeadingDeg = floatPtr(heading)
		p.VerticalRateMS = floatPtr(vr)
		p.OnGround = boolPtr(onGround)
		p.Source = adsb.SourceName(source.String)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return out, nil
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlight(row rowScanner) (*flights.Flight, error) {
	var (
		f                                    flights.Flight
		callsign                             sql.NullString
		landing                              sql.NullTime
		duration                             sql.NullInt64
		tLat, tLon, tAlt, lLat, lLon, maxAlt sql.NullFloat64
	)
	err := row.Scan(&f.ID, &f.ICAO, &callsign, &f.TakeoffTime, &tLat, &tLon, &tAlt,
		&landing, &lLat, &lLon, &maxAlt, &f.DistanceKm, &duration, &f.Synthesized)
	if err != nil {
		return nil, err
	}
	f.Callsign = callsign.String
	f.TakeoffLat = floatPtr(tLat)
	f.TakeoffLon = floatPtr(tLon)
	f.TakeoffAltitudeM = floatPtr(tAlt)
	if landing.Valid {
		lt := landing.Time
		f.LandingTime = &lt
	}
	f.LandingLat = floatPtr(lLat)
	f.LandingLon = floatPtr(lLon)
	f.MaxAltitudeM = floatPtr(maxAlt)
	if duration.Valid {
		d := duration.Int64
		f.DurationSeconds = &d
	}
	return &f, nil
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func boolPtr(v sql.NullBool) *bool {
	if !v.Valid {
		return nil
	}
	b := v.Bool
	return &b
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
