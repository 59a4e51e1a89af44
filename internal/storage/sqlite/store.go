package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/flighttrack/pkg/logger"
	_ "modernc.org/sqlite"
)

// Store is the SQLite implementation of the flight store. Timestamps are
// stored as unix milliseconds.
type Store struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewStore opens (creating if needed) the database at dbPath
func NewStore(dbPath string, log *logger.Logger) (*Store, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, logger: storageLogger, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the database connection
func (s *Store) DB() *sql.DB {
	return s.db
}

func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	statements := []struct {
		name string
		sql  string
	}{
		{"aircraft table", `
			CREATE TABLE IF NOT EXISTS aircraft (
				icao TEXT PRIMARY KEY,
				callsign TEXT,
				category TEXT,
				origin TEXT,
				squawk TEXT,
				last_source TEXT,
				first_seen INTEGER NOT NULL,
				last_seen INTEGER NOT NULL
			)`},
		{"last_known_state table", `
			CREATE TABLE IF NOT EXISTS last_known_state (
				icao TEXT PRIMARY KEY,
				ts INTEGER NOT NULL,
				lat REAL,
				lon REAL,
				altitude_m REAL,
				speed_ms REAL,
				heading_deg REAL,
				on_ground INTEGER,      -- NULL when never known
				source TEXT,
				updated_at INTEGER NOT NULL
			)`},
		{"position_samples table", `
			CREATE TABLE IF NOT EXISTS position_samples (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				icao TEXT NOT NULL,
				ts INTEGER NOT NULL,
				lat REAL,
				lon REAL,
				altitude_m REAL,
				speed_ms REAL,
				heading_deg REAL,
				vertical_rate_ms REAL,
				on_ground INTEGER,
				source TEXT
			)`},
		{"flights table", `
			CREATE TABLE IF NOT EXISTS flights (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				icao TEXT NOT NULL,
				callsign TEXT,
				takeoff_time INTEGER NOT NULL,
				takeoff_lat REAL,
				takeoff_lon REAL,
				takeoff_altitude_m REAL,
				landing_time INTEGER,   -- NULL while the flight is open
				landing_lat REAL,
				landing_lon REAL,
				max_altitude_m REAL,
				distance_km REAL NOT NULL DEFAULT 0,
				duration_s INTEGER,
				synthesized INTEGER NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`},
		{"position samples index", `CREATE INDEX IF NOT EXISTS idx_position_samples_icao_ts ON position_samples(icao, ts DESC)`},
		{"position retention index", `CREATE INDEX IF NOT EXISTS idx_position_samples_ts ON position_samples(ts)`},
		{"open flights index", `CREATE INDEX IF NOT EXISTS idx_flights_open ON flights(icao) WHERE landing_time IS NULL`},
		{"flight history index", `CREATE INDEX IF NOT EXISTS idx_flights_icao_takeoff ON flights(icao, takeoff_time DESC)`},
	}

	for _, st := range statements {
		if _, err := db.Exec(st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.name, err)
		}
	}

	log.Info("Database schema initialized successfully")
	return nil
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
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

func nullableBool(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
