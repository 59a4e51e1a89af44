package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/flights"
)

// GetLastKnownState returns the baseline state for icao, or nil if never seen
func (s *Store) GetLastKnownState(ctx context.Context, icao string) (*flights.LastKnownState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, on_ground, source, updated_at
		FROM last_known_state
		WHERE icao = ?
	`, icao)

	var (
		st                            flights.LastKnownState
		ts, updatedAt                 int64
		lat, lon, alt, speed, heading sql.NullFloat64
		onGround                      sql.NullBool
		source                        sql.NullString
	)
	err := row.Scan(&st.ICAO, &ts, &lat, &lon, &alt, &speed, &heading, &onGround, &source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last known state: %w", err)
	}

	st.Timestamp = fromMillis(ts)
	st.UpdatedAt = fromMillis(updatedAt)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO last_known_state (icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, on_ground, source, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(icao) DO UPDATE SET
			ts = excluded.ts,
			lat = excluded.lat,
			lon = excluded.lon,
			altitude_m = excluded.altitude_m,
			speed_ms = excluded.speed_ms,
			heading_deg = excluded.heading_deg,
			on_ground = COALESCE(excluded.on_ground, last_known_state.on_ground),
			source = excluded.source,
			updated_at = excluded.updated_at
	`,
		st.ICAO, toMillis(st.Timestamp), st.Lat, st.Lon, st.AltitudeM, st.SpeedMS, st.HeadingDeg,
		nullableBool(st.OnGround), string(st.Source), toMillis(st.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert last known state: %w", err)
	}
	return nil
}

// WritePositionSample appends one row to the position history
func (s *Store) WritePositionSample(ctx context.Context, p flights.PositionSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO position_samples (icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, vertical_rate_ms, on_ground, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		p.ICAO, toMillis(p.Timestamp), p.Lat, p.Lon, p.AltitudeM, p.SpeedMS, p.HeadingDeg,
		p.VerticalRateMS, nullableBool(p.OnGround), string(p.Source),
	)
	if err != nil {
		return fmt.Errorf("failed to insert position sample: %w", err)
	}
	return nil
}

// GetPositionHistory returns the newest samples for icao, newest first
func (s *Store) GetPositionHistory(ctx context.Context, icao string, limit int) ([]flights.PositionSample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT icao, ts, lat, lon, altitude_m, speed_ms, heading_deg, vertical_rate_ms, on_ground, source
		FROM position_samples
		WHERE icao = ?
		ORDER BY ts DESC
		LIMIT ?
	`, icao, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query position history: %w", err)
	}
	defer rows.Close()

	var out []flights.PositionSample
	for rows.Next() {
		var (
			p                                 flights.PositionSample
			ts                                int64
			lat, lon, alt, speed, heading, vr sql.NullFloat64
			onGround                          sql.NullBool
			source                            sql.NullString
		)
		if err := rows.Scan(&p.ICAO, &ts, &lat, &lon, &alt, &speed, &heading, &vr, &onGround, &source); err != nil {
			return nil, fmt.Errorf("failed to scan position sample: %w", err)
		}
		p.Timestamp = fromMillis(ts)
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

// PrunePositions deletes samples observed before the cutoff
func (s *Store) PrunePositions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM position_samples WHERE ts < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to prune position samples: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned samples: %w", err)
	}
	return n, nil
}
