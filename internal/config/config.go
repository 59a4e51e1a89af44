package config

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/yegors/flighttrack/internal/adsb"
	"github.com/yegors/flighttrack/internal/flights"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server  ServerConfig  `toml:"server"`  // HTTP server settings
	Logging LoggingConfig `toml:"logging"` // Application logging settings
	Storage StorageConfig `toml:"storage"` // Data persistence settings
	Tracker TrackerConfig `toml:"tracker"` // Fleet and flight detection settings
	Sources SourcesConfig `toml:"sources"` // Telemetry source settings
	Events  EventsConfig  `toml:"events"`  // Flight event publication settings
	Metrics MetricsConfig `toml:"metrics"` // Prometheus settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the ops surface
	Host               string   `toml:"host"`                  // Host address to bind to (e.g., 127.0.0.1 for localhost only, 0.0.0.0 for all interfaces)
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // List of origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request (0 = no timeout)
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response (0 = no timeout, recommended for the event stream)
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum duration to wait for the next request when keep-alives are enabled
}

// LoggingConfig contains application logging configuration
type LoggingConfig struct {
	Level  string `toml:"level"`  // Log level: "debug", "info", "warn", or "error"
	Format string `toml:"format"` // Log format: "json" (structured) or "console" (human-readable)
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	Type                   string `toml:"type"`                      // Storage backend: "sqlite" or "postgres"
	SQLitePath             string `toml:"sqlite_path"`               // SQLite database file (type = "sqlite")
	PostgresDSN            string `toml:"postgres_dsn"`              // PostgreSQL connection string (type = "postgres")
	MaxOpenConns           int    `toml:"max_open_conns"`            // PostgreSQL pool size
	MaxIdleConns           int    `toml:"max_idle_conns"`            // PostgreSQL idle connections kept
	ConnMaxLifetimeMins    int    `toml:"conn_max_lifetime_minutes"` // PostgreSQL connection recycling (0 = never)
	PositionRetentionHours int    `toml:"position_retention_hours"`  // Position samples older than this are pruned (0 = keep forever)
	PruneIntervalMinutes   int    `toml:"prune_interval_minutes"`    // How often the pruner runs
}

// TrackerConfig contains fleet selection and flight event detection settings
type TrackerConfig struct {
	PollIntervalSecs int      `toml:"poll_interval_seconds"` // Seconds between poll cycles (default: 30)
	ICAOs            []string `toml:"icaos"`                 // Tracked 24-bit addresses, 6 hex characters each
	ICAOFile         string   `toml:"icao_file"`             // Optional CSV with the address in the first column; merged with icaos
	RejectStale      *bool    `toml:"reject_stale"`          // Drop observations older than the stored state (default: true)

	// Ground/air boundaries used by ground inference and transition detection
	TakeoffMinAltitudeM float64 `toml:"takeoff_min_altitude_m"` // Airborne requires altitude above this (default: 50)
	TakeoffMinSpeedMS   float64 `toml:"takeoff_min_speed_ms"`   // Airborne requires ground speed above this (default: 15)
	LandingMaxSpeedMS   float64 `toml:"landing_max_speed_ms"`   // Landing requires ground speed below this (default: 5)

	// Per emitter-category overrides keyed by category code, e.g. [tracker.categories.A7]
	Categories map[string]adsb.Thresholds `toml:"categories"`

	// Fleet is ICAOs plus ICAOFile, normalized and de-duplicated by Validate
	Fleet []string `toml:"-"`
}

// SourcesConfig contains the telemetry source settings
type SourcesConfig struct {
	// Priority lists enabled sources highest first. The last one is the fallback.
	// Allowed values: "local", "hex-api", "opensky"
	Priority []string `toml:"priority"`

	Local   LocalSourceConfig   `toml:"local"`
	HexAPI  HexAPISourceConfig  `toml:"hex_api"`
	OpenSky OpenSkySourceConfig `toml:"opensky"`

	MagneticVariation *bool `toml:"magnetic_variation"` // Correct magnetic-only headings to true with the WMM (default: true)
}

// LocalSourceConfig configures a dump1090 / tar1090 receiver
type LocalSourceConfig struct {
	Enabled     bool   `toml:"enabled"`
	URL         string `toml:"url"`             // e.g. http://192.168.1.10/tar1090/data/aircraft.json
	TimeoutSecs int    `toml:"timeout_seconds"` // Per fetch deadline (default: 2)
}

// HexAPISourceConfig configures a per-aircraft lookup aggregator
type HexAPISourceConfig struct {
	Enabled           bool    `toml:"enabled"`
	BaseURL           string  `toml:"base_url"`            // e.g. https://api.airplanes.live/v2
	TimeoutSecs       int     `toml:"timeout_seconds"`     // Per request deadline (default: 10)
	Concurrency       int     `toml:"concurrency"`         // Simultaneous lookups (default: 4)
	RequestsPerSecond float64 `toml:"requests_per_second"` // Pacing across all lookups (0 = unpaced)
}

// OpenSkySourceConfig configures the authenticated OpenSky state vector API.
// Credentials resolve in order: client id/secret, username/password, credentials file, anonymous.
type OpenSkySourceConfig struct {
	Enabled         bool   `toml:"enabled"`
	BaseURL         string `toml:"base_url"`         // Default: https://opensky-network.org/api
	TokenURL        string `toml:"token_url"`        // OAuth2 client-credentials endpoint
	ClientID        string `toml:"client_id"`        // Overridden by FLIGHTTRACK_OPENSKY_CLIENT_ID
	ClientSecret    string `toml:"client_secret"`    // Overridden by FLIGHTTRACK_OPENSKY_CLIENT_SECRET
	Username        string `toml:"username"`         // Overridden by FLIGHTTRACK_OPENSKY_USERNAME
	Password        string `toml:"password"`         // Overridden by FLIGHTTRACK_OPENSKY_PASSWORD
	CredentialsPath string `toml:"credentials_path"` // JSON file with access_token or client_id/client_secret
	TimeoutSecs     int    `toml:"timeout_seconds"`  // Per request deadline (default: 15)
	BatchSize       int    `toml:"batch_size"`       // Addresses per request (default: 100)
}

// EventsConfig contains flight event publication settings
type EventsConfig struct {
	WebSocket   bool   `toml:"websocket"`    // Stream events to /ws clients
	NATSURL     string `toml:"nats_url"`     // Publish events to NATS when set; overridden by FLIGHTTRACK_NATS_URL
	NATSSubject string `toml:"nats_subject"` // Subject prefix; the event type is appended (default: flighttrack.events)
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"` // Expose metrics over HTTP
	Path    string `toml:"path"`    // Metrics route (default: /metrics)
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	// Check if the file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.applyEnv()

	if config.Tracker.ICAOFile != "" {
		ids, err := loadFleetFromCSV(config.Tracker.ICAOFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load fleet from CSV: %w", err)
		}
		config.Tracker.ICAOs = append(config.Tracker.ICAOs, ids...)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,         // User-specified path (if provided)
		"configs/config.toml", // configs/ folder
		"config.toml",         // Root directory
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// applyEnv lets secrets stay out of the config file
func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"FLIGHTTRACK_OPENSKY_CLIENT_ID", &c.Sources.OpenSky.ClientID},
		{"FLIGHTTRACK_OPENSKY_CLIENT_SECRET", &c.Sources.OpenSky.ClientSecret},
		{"FLIGHTTRACK_OPENSKY_USERNAME", &c.Sources.OpenSky.Username},
		{"FLIGHTTRACK_OPENSKY_PASSWORD", &c.Sources.OpenSky.Password},
		{"FLIGHTTRACK_POSTGRES_DSN", &c.Storage.PostgresDSN},
		{"FLIGHTTRACK_NATS_URL", &c.Events.NATSURL},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && v != "" {
			*o.dst = v
		}
	}
}

// loadFleetFromCSV reads tracked addresses from the first column of a CSV file.
// Blank lines, '#' comments and an "icao" header are skipped.
func loadFleetFromCSV(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.Comment = '#'

	var ids []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) == 0 {
			continue
		}
		id := strings.TrimSpace(record[0])
		if id == "" || strings.EqualFold(id, "icao") || strings.EqualFold(id, "icao24") {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs < 0 || c.Server.WriteTimeoutSecs < 0 || c.Server.IdleTimeoutSecs < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}

	// Validate logging config
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}

	if err := c.ValidateStorage(); err != nil {
		return err
	}
	if err := c.ValidateTracker(); err != nil {
		return err
	}
	if err := c.ValidateSources(); err != nil {
		return err
	}

	// Validate events config
	if c.Events.NATSSubject == "" {
		c.Events.NATSSubject = "flighttrack.events"
	}

	// Validate metrics config
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/': %s", c.Metrics.Path)
	}

	return nil
}

// ValidateStorage validates the storage configuration
func (c *Config) ValidateStorage() error {
	switch c.Storage.Type {
	case "":
		c.Storage.Type = "sqlite"
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid storage type: %s (must be 'sqlite' or 'postgres')", c.Storage.Type)
	}

	if c.Storage.Type == "sqlite" && c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/flighttrack.db"
	}
	if c.Storage.Type == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required when storage type is 'postgres'")
	}
	if c.Storage.MaxOpenConns <= 0 {
		c.Storage.MaxOpenConns = 10
	}
	if c.Storage.MaxIdleConns <= 0 {
		c.Storage.MaxIdleConns = 5
	}
	if c.Storage.ConnMaxLifetimeMins < 0 {
		return fmt.Errorf("invalid conn_max_lifetime_minutes: %d (must be >= 0)", c.Storage.ConnMaxLifetimeMins)
	}
	if c.Storage.PositionRetentionHours < 0 {
		return fmt.Errorf("invalid position_retention_hours: %d (must be >= 0)", c.Storage.PositionRetentionHours)
	}
	if c.Storage.PruneIntervalMinutes <= 0 {
		c.Storage.PruneIntervalMinutes = 60
	}
	return nil
}

// ValidateTracker validates the fleet and threshold configuration
func (c *Config) ValidateTracker() error {
	t := &c.Tracker

	if t.PollIntervalSecs == 0 {
		t.PollIntervalSecs = 30
	}
	if t.PollIntervalSecs < 0 {
		return fmt.Errorf("invalid poll_interval_seconds: %d", t.PollIntervalSecs)
	}

	valid, invalid := adsb.NormalizeICAOList(t.ICAOs)
	if len(invalid) > 0 {
		return fmt.Errorf("invalid icao addresses: %s", strings.Join(invalid, ", "))
	}
	if len(valid) == 0 {
		return fmt.Errorf("no aircraft to track: set tracker.icaos or tracker.icao_file")
	}
	t.Fleet = valid

	if t.RejectStale == nil {
		reject := true
		t.RejectStale = &reject
	}

	def := adsb.DefaultThresholds()
	if t.TakeoffMinAltitudeM == 0 {
		t.TakeoffMinAltitudeM = def.TakeoffMinAltitudeM
	}
	if t.TakeoffMinSpeedMS == 0 {
		t.TakeoffMinSpeedMS = def.TakeoffMinSpeedMS
	}
	if t.LandingMaxSpeedMS == 0 {
		t.LandingMaxSpeedMS = def.LandingMaxSpeedMS
	}
	if err := checkThresholds("tracker", t.Thresholds().Default); err != nil {
		return err
	}

	for cat, th := range t.Categories {
		if strings.TrimSpace(cat) == "" {
			return fmt.Errorf("empty category key in tracker.categories")
		}
		if err := checkThresholds("tracker.categories."+cat, th); err != nil {
			return err
		}
	}
	return nil
}

func checkThresholds(section string, th adsb.Thresholds) error {
	if th.TakeoffMinAltitudeM < 0 || th.TakeoffMinSpeedMS <= 0 || th.LandingMaxSpeedMS <= 0 {
		return fmt.Errorf("invalid thresholds in %s: speeds must be > 0 and altitude >= 0", section)
	}
	if th.LandingMaxSpeedMS >= th.TakeoffMinSpeedMS {
		return fmt.Errorf("invalid thresholds in %s: landing_max_speed_ms (%.1f) must be below takeoff_min_speed_ms (%.1f)",
			section, th.LandingMaxSpeedMS, th.TakeoffMinSpeedMS)
	}
	return nil
}

// ValidateSources validates source selection and fills per-source defaults
func (c *Config) ValidateSources() error {
	s := &c.Sources

	if s.Local.Enabled {
		if s.Local.URL == "" {
			return fmt.Errorf("sources.local.url is required when the local source is enabled")
		}
		if s.Local.TimeoutSecs <= 0 {
			s.Local.TimeoutSecs = 2
		}
	}
	if s.HexAPI.Enabled {
		if s.HexAPI.BaseURL == "" {
			s.HexAPI.BaseURL = "https://api.airplanes.live/v2"
		}
		if s.HexAPI.TimeoutSecs <= 0 {
			s.HexAPI.TimeoutSecs = 10
		}
		if s.HexAPI.Concurrency <= 0 {
			s.HexAPI.Concurrency = 4
		}
		if s.HexAPI.RequestsPerSecond < 0 {
			return fmt.Errorf("invalid sources.hex_api.requests_per_second: %v", s.HexAPI.RequestsPerSecond)
		}
	}
	if s.OpenSky.Enabled {
		if s.OpenSky.BaseURL == "" {
			s.OpenSky.BaseURL = "https://opensky-network.org/api"
		}
		if s.OpenSky.TokenURL == "" {
			s.OpenSky.TokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"
		}
		if s.OpenSky.TimeoutSecs <= 0 {
			s.OpenSky.TimeoutSecs = 15
		}
		if s.OpenSky.BatchSize <= 0 {
			s.OpenSky.BatchSize = 100
		}
		if (s.OpenSky.ClientID == "") != (s.OpenSky.ClientSecret == "") {
			return fmt.Errorf("sources.opensky needs both client_id and client_secret")
		}
	}

	if len(s.Priority) == 0 {
		for _, name := range []adsb.SourceName{adsb.SourceLocal, adsb.SourceHexAPI, adsb.SourceOpenSky} {
			if s.Enabled(name) {
				s.Priority = append(s.Priority, string(name))
			}
		}
	}
	if len(s.Priority) == 0 {
		return fmt.Errorf("no telemetry source enabled")
	}

	seen := make(map[string]bool)
	for _, name := range s.Priority {
		switch adsb.SourceName(name) {
		case adsb.SourceLocal, adsb.SourceHexAPI, adsb.SourceOpenSky:
		default:
			return fmt.Errorf("unknown source in sources.priority: %s", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate source in sources.priority: %s", name)
		}
		seen[name] = true
		if !s.Enabled(adsb.SourceName(name)) {
			return fmt.Errorf("source %s is in sources.priority but not enabled", name)
		}
	}

	if s.MagneticVariation == nil {
		on := true
		s.MagneticVariation = &on
	}
	return nil
}

// Enabled reports whether the named source is switched on
func (s *SourcesConfig) Enabled(name adsb.SourceName) bool {
	switch name {
	case adsb.SourceLocal:
		return s.Local.Enabled
	case adsb.SourceHexAPI:
		return s.HexAPI.Enabled
	case adsb.SourceOpenSky:
		return s.OpenSky.Enabled
	}
	return false
}

// PriorityNames returns the priority list as source names
func (s *SourcesConfig) PriorityNames() []adsb.SourceName {
	names := make([]adsb.SourceName, len(s.Priority))
	for i, n := range s.Priority {
		names[i] = adsb.SourceName(n)
	}
	return names
}

// Thresholds returns the configured threshold set with category keys upper-cased
func (t *TrackerConfig) Thresholds() adsb.ThresholdSet {
	set := adsb.ThresholdSet{
		Default: adsb.Thresholds{
			TakeoffMinAltitudeM: t.TakeoffMinAltitudeM,
			TakeoffMinSpeedMS:   t.TakeoffMinSpeedMS,
			LandingMaxSpeedMS:   t.LandingMaxSpeedMS,
		},
	}
	if len(t.Categories) > 0 {
		set.ByCategory = make(map[string]adsb.Thresholds, len(t.Categories))
		for cat, th := range t.Categories {
			set.ByCategory[strings.ToUpper(strings.TrimSpace(cat))] = th
		}
	}
	return set
}

// TrackerSettings converts the tracker section for flights.NewTracker
func (c *Config) TrackerSettings() flights.TrackerConfig {
	return flights.TrackerConfig{
		Thresholds:  c.Tracker.Thresholds(),
		RejectStale: c.Tracker.RejectStale == nil || *c.Tracker.RejectStale,
	}
}

// ServiceSettings converts the tracker and storage sections for flights.NewService
func (c *Config) ServiceSettings() flights.ServiceConfig {
	return flights.ServiceConfig{
		PollInterval:      time.Duration(c.Tracker.PollIntervalSecs) * time.Second,
		Fleet:             c.Tracker.Fleet,
		PositionRetention: time.Duration(c.Storage.PositionRetentionHours) * time.Hour,
		PruneInterval:     time.Duration(c.Storage.PruneIntervalMinutes) * time.Minute,
	}
}

// OpenSkyClientSettings converts the opensky section for adsb.NewClient
func (c *Config) OpenSkyClientSettings() adsb.ClientConfig {
	o := c.Sources.OpenSky
	return adsb.ClientConfig{
		BaseURL:         o.BaseURL,
		TokenURL:        o.TokenURL,
		ClientID:        o.ClientID,
		ClientSecret:    o.ClientSecret,
		Username:        o.Username,
		Password:        o.Password,
		CredentialsPath: o.CredentialsPath,
		Timeout:         time.Duration(o.TimeoutSecs) * time.Second,
		BatchSize:       o.BatchSize,
	}
}

// HexSourceSettings converts the hex_api section for adsb.NewHexSource
func (c *Config) HexSourceSettings() adsb.HexSourceConfig {
	h := c.Sources.HexAPI
	return adsb.HexSourceConfig{
		BaseURL:           h.BaseURL,
		Timeout:           time.Duration(h.TimeoutSecs) * time.Second,
		Concurrency:       h.Concurrency,
		RequestsPerSecond: h.RequestsPerSecond,
	}
}
