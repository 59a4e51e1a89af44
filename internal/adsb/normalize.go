package adsb

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/yegors/flighttrack/internal/physics"
)

// Normalizer converts native source payloads into StateRecords.
// Every adapter goes through it so unit handling and ground inference live in one place.
type Normalizer struct {
	Thresholds ThresholdSet
	// MagneticVariation enables WMM correction when only a magnetic heading is reported
	MagneticVariation bool
}

// NewNormalizer returns a Normalizer with default thresholds and WMM correction on
func NewNormalizer(th ThresholdSet) Normalizer {
	return Normalizer{Thresholds: th, MagneticVariation: true}
}

// NormalizeTarget converts a readsb-style entry. sourceTime is the document's "now";
// seen_pos (or seen) is subtracted to get the observation instant.
func (n Normalizer) NormalizeTarget(t Target, sourceTime time.Time, source SourceName) (StateRecord, error) {
	icao, ok := NormalizeICAO(t.Hex)
	if !ok {
		return StateRecord{}, dataError(source, fmt.Sprintf("invalid icao %q", t.Hex), nil)
	}

	rec := StateRecord{
		ICAO:     icao,
		Callsign: strings.TrimSpace(t.Flight),
		Squawk:   strings.TrimSpace(t.Squawk),
		Category: strings.ToUpper(strings.TrimSpace(t.Category)),
		Source:   source,
		Lat:      t.Lat.Float64Ptr(),
		Lon:      t.Lon.Float64Ptr(),
	}
	if (t.Lat.IsSet() && rec.Lat == nil) || (t.Lon.IsSet() && rec.Lon == nil) {
		return StateRecord{}, dataError(source, fmt.Sprintf("malformed position for %s", icao), nil)
	}
	if err := checkPosition(source, rec); err != nil {
		return StateRecord{}, err
	}

	rec.Timestamp = sourceTime
	if age := t.SeenPos.Float64Ptr(); age != nil && *age >= 0 {
		rec.Timestamp = sourceTime.Add(-time.Duration(*age * float64(time.Second)))
	} else if age := t.Seen.Float64Ptr(); age != nil && *age >= 0 {
		rec.Timestamp = sourceTime.Add(-time.Duration(*age * float64(time.Second)))
	}

	if ft := t.AltBaro.Float64Ptr(); ft != nil {
		rec.AltitudeM = Float(physics.FeetToM(*ft))
	}
	if ft := t.AltGeom.Float64Ptr(); ft != nil {
		rec.GeoAltitudeM = Float(physics.FeetToM(*ft))
	}
	if kt := t.GS.Float64Ptr(); kt != nil {
		rec.SpeedMS = Float(physics.KnotsToMS(*kt))
	}

	rate := t.BaroRate.Float64Ptr()
	if rate == nil {
		rate = t.GeomRate.Float64Ptr()
	}
	if rate != nil {
		rec.VerticalRateMS = Float(physics.FpmToMS(*rate))
	}

	rec.HeadingDeg = n.heading(t, rec)

	// "ground" sentinel: altitude is the field elevation, treat as zero above ground
	groundSentinel := t.AltBaro.IsGround()
	if groundSentinel && rec.AltitudeM == nil {
		rec.AltitudeM = Float(0)
	}

	rec.OnGround = InferOnGround(t.Ground.BoolPtr(), groundSentinel, rec.AltitudeM, rec.SpeedMS, n.Thresholds.For(rec.Category))

	return rec, nil
}

// heading prefers true track, then true heading, then magnetic heading corrected to true
func (n Normalizer) heading(t Target, rec StateRecord) *float64 {
	if v := t.Track.Float64Ptr(); v != nil {
		return Float(physics.NormalizeHeading(*v))
	}
	if v := t.TrueHeading.Float64Ptr(); v != nil {
		return Float(physics.NormalizeHeading(*v))
	}
	v := t.MagHeading.Float64Ptr()
	if v == nil {
		return nil
	}
	if !n.MagneticVariation || !rec.HasPosition() {
		return Float(physics.NormalizeHeading(*v))
	}
	alt := 0.0
	if rec.AltitudeM != nil {
		alt = *rec.AltitudeM
	}
	return Float(physics.MagneticToTrue(*v, *rec.Lat, *rec.Lon, alt, rec.Timestamp))
}

// RawState is one OpenSky state vector, a positional JSON array
type RawState []any

// OpenSky state vector indices
const (
	osICAO24 = iota
	osCallsign
	osOriginCountry
	osTimePosition
	osLastContact
	osLongitude
	osLatitude
	osBaroAltitude
	osOnGround
	osVelocity
	osTrueTrack
	osVerticalRate
	osSensors
	osGeoAltitude
	osSquawk
	osSPI
	osPositionSource
	osCategory
)

// openSkyCategories maps OpenSky's numeric category to the ADS-B emitter category
var openSkyCategories = map[int]string{
	2: "A1", 3: "A2", 4: "A3", 5: "A4", 6: "A5", 7: "A6", 8: "A7",
	9: "B1", 10: "B2", 11: "B3", 12: "B4", 14: "B6", 15: "B7",
	16: "C1", 17: "C2", 18: "C3", 19: "C4", 20: "C5",
}

// NormalizeOpenSky converts one OpenSky state vector. OpenSky already reports
// meters and m/s, and carries an explicit on_ground flag.
func (n Normalizer) NormalizeOpenSky(s RawState, responseTime time.Time) (StateRecord, error) {
	hex, _ := s.str(osICAO24)
	icao, ok := NormalizeICAO(hex)
	if !ok {
		return StateRecord{}, dataError(SourceOpenSky, fmt.Sprintf("invalid icao24 %q", hex), nil)
	}

	callsign, _ := s.str(osCallsign)
	origin, _ := s.str(osOriginCountry)
	squawk, _ := s.str(osSquawk)

	rec := StateRecord{
		ICAO:           icao,
		Callsign:       strings.TrimSpace(callsign),
		Origin:         origin,
		Squawk:         squawk,
		Source:         SourceOpenSky,
		Lat:            s.num(osLatitude),
		Lon:            s.num(osLongitude),
		AltitudeM:      s.num(osBaroAltitude),
		SpeedMS:        s.num(osVelocity),
		VerticalRateMS: s.num(osVerticalRate),
		GeoAltitudeM:   s.num(osGeoAltitude),
		Timestamp:      responseTime,
	}
	if err := checkPosition(SourceOpenSky, rec); err != nil {
		return StateRecord{}, err
	}

	if ts := s.num(osTimePosition); ts != nil {
		rec.Timestamp = unixSeconds(*ts)
	} else if ts := s.num(osLastContact); ts != nil {
		rec.Timestamp = unixSeconds(*ts)
	}

	if v := s.num(osTrueTrack); v != nil {
		rec.HeadingDeg = Float(physics.NormalizeHeading(*v))
	}
	if c := s.num(osCategory); c != nil {
		rec.Category = openSkyCategories[int(*c)]
	}

	var explicit *bool
	if len(s) > osOnGround {
		if b, ok := s[osOnGround].(bool); ok {
			explicit = Bool(b)
		}
	}
	rec.OnGround = InferOnGround(explicit, false, rec.AltitudeM, rec.SpeedMS, n.Thresholds.For(rec.Category))

	return rec, nil
}

func (s RawState) num(i int) *float64 {
	if len(s) <= i {
		return nil
	}
	if v, ok := s[i].(float64); ok {
		return finite(v)
	}
	return nil
}

// checkPosition rejects coordinates outside the WGS84 range
func checkPosition(source SourceName, rec StateRecord) error {
	if rec.Lat != nil && (*rec.Lat < -90 || *rec.Lat > 90) {
		return dataError(source, fmt.Sprintf("latitude %v out of range for %s", *rec.Lat, rec.ICAO), nil)
	}
	if rec.Lon != nil && (*rec.Lon < -180 || *rec.Lon > 180) {
		return dataError(source, fmt.Sprintf("longitude %v out of range for %s", *rec.Lon, rec.ICAO), nil)
	}
	return nil
}

func (s RawState) str(i int) (string, bool) {
	if len(s) <= i {
		return "", false
	}
	v, ok := s[i].(string)
	return v, ok
}

func unixSeconds(v float64) time.Time {
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
