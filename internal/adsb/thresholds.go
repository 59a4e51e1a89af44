package adsb

import "strings"

// Thresholds are the ground/air boundaries shared by ground inference and
// flight event detection. Keeping one value for both stops them drifting apart.
type Thresholds struct {
	TakeoffMinAltitudeM float64 `toml:"takeoff_min_altitude_m"` // airborne requires altitude above this
	TakeoffMinSpeedMS   float64 `toml:"takeoff_min_speed_ms"`   // airborne requires speed above this
	LandingMaxSpeedMS   float64 `toml:"landing_max_speed_ms"`   // landing requires speed below this
}

// DefaultThresholds returns the fixed-wing defaults (50 m, 15 m/s, 5 m/s)
func DefaultThresholds() Thresholds {
	return Thresholds{
		TakeoffMinAltitudeM: 50,
		TakeoffMinSpeedMS:   15,
		LandingMaxSpeedMS:   5,
	}
}

// ClearsTakeoff reports whether altitude and speed are both known and above the takeoff limits
func (t Thresholds) ClearsTakeoff(altM, speedMS *float64) bool {
	return altM != nil && speedMS != nil &&
		*altM > t.TakeoffMinAltitudeM && *speedMS > t.TakeoffMinSpeedMS
}

// ThresholdSet holds the default thresholds plus per emitter-category overrides
// (e.g. "A7" rotorcraft, "B1" gliders).
type ThresholdSet struct {
	Default    Thresholds
	ByCategory map[string]Thresholds
}

// NewThresholdSet returns a set using the defaults for every category
func NewThresholdSet() ThresholdSet {
	return ThresholdSet{Default: DefaultThresholds()}
}

// For returns the thresholds that apply to an emitter category
func (s ThresholdSet) For(category string) Thresholds {
	if category != "" && s.ByCategory != nil {
		if t, ok := s.ByCategory[strings.ToUpper(category)]; ok {
			return t
		}
	}
	return s.Default
}

// InferOnGround derives the ground flag for a record.
// An explicit flag from the source wins, then the "ground" altitude sentinel.
// Otherwise, with both altitude and speed known, the aircraft is on the ground
// when it is below both takeoff limits. Anything else stays unknown.
func InferOnGround(explicit *bool, groundSentinel bool, altM, speedMS *float64, t Thresholds) *bool {
	if explicit != nil {
		return Bool(*explicit)
	}
	if groundSentinel {
		return Bool(true)
	}
	if altM == nil || speedMS == nil {
		return nil
	}
	return Bool(*altM < t.TakeoffMinAltitudeM && *speedMS < t.TakeoffMinSpeedMS)
}
