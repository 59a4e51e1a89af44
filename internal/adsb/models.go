package adsb

import (
	"strings"
	"time"
)

// SourceName identifies which telemetry source produced a record
type SourceName string

const (
	SourceLocal   SourceName = "local"   // dump1090 / tar1090 receiver on the local network
	SourceHexAPI  SourceName = "hex-api" // public per-aircraft lookup (airplanes.live, adsb.fi)
	SourceOpenSky SourceName = "opensky" // OpenSky Network state vectors
)

// StateRecord is one normalized observation of one aircraft.
// Altitudes are meters, speeds m/s. A nil pointer means the source did not report the value.
type StateRecord struct {
	ICAO           string     `json:"icao"`
	Callsign       string     `json:"callsign,omitempty"`
	Origin         string     `json:"origin,omitempty"`
	Timestamp      time.Time  `json:"timestamp"`
	Lat            *float64   `json:"lat,omitempty"`
	Lon            *float64   `json:"lon,omitempty"`
	AltitudeM      *float64   `json:"altitude_m,omitempty"`
	OnGround       *bool      `json:"on_ground,omitempty"`
	SpeedMS        *float64   `json:"speed_ms,omitempty"`
	HeadingDeg     *float64   `json:"heading_deg,omitempty"`
	VerticalRateMS *float64   `json:"vertical_rate_ms,omitempty"`
	GeoAltitudeM   *float64   `json:"geo_altitude_m,omitempty"`
	Squawk         string     `json:"squawk,omitempty"`
	Category       string     `json:"category,omitempty"`
	Source         SourceName `json:"source"`
}

// HasPosition reports whether both latitude and longitude are known
func (r *StateRecord) HasPosition() bool {
	return r.Lat != nil && r.Lon != nil
}

// HasAnyPosition reports whether at least one coordinate is known
func (r *StateRecord) HasAnyPosition() bool {
	return r.Lat != nil || r.Lon != nil
}

// NormalizeICAO canonicalizes a 24-bit ICAO address to 6 lowercase hex characters.
// Returns false for anything else, including dump1090's "~" non-ICAO addresses.
func NormalizeICAO(s string) (string, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 6 {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", false
		}
	}
	return s, true
}

// NormalizeICAOList canonicalizes and de-duplicates a list of addresses, dropping invalid ones.
// Order of first appearance is kept.
func NormalizeICAOList(ids []string) (valid []string, invalid []string) {
	seen := make(map[string]bool, len(ids))
	valid = make([]string, 0, len(ids))
	for _, id := range ids {
		n, ok := NormalizeICAO(id)
		if !ok {
			invalid = append(invalid, id)
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		valid = append(valid, n)
	}
	return valid, invalid
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// Bool returns a pointer to v
func Bool(v bool) *bool {
	return &v
}
