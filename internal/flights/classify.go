package flights

import "github.com/yegors/flighttrack/internal/adsb"

// Transition is the outcome of comparing an observation with the last known state
type Transition int

const (
	TransitionNone Transition = iota
	// TransitionTakeoff: seen on the ground, now airborne above the takeoff limits
	TransitionTakeoff
	// TransitionFirstAirborne: first ever observation, already airborne
	TransitionFirstAirborne
	// TransitionRecovered: known airborne with no open flight, e.g. a climb that
	// crossed the limits over two samples or a flight closed elsewhere
	TransitionRecovered
	// TransitionLanding: was airborne (or rolling out of an open flight), now on the ground and slow
	TransitionLanding
	// TransitionAirborne: steady state inside an open flight
	TransitionAirborne
)

func (t Transition) String() string {
	switch t {
	case TransitionTakeoff:
		return "takeoff"
	case TransitionFirstAirborne:
		return "first_airborne"
	case TransitionRecovered:
		return "recovered"
	case TransitionLanding:
		return "landing"
	case TransitionAirborne:
		return "airborne"
	default:
		return "none"
	}
}

// OpensFlight reports whether the transition creates a flight record
func (t Transition) OpensFlight() bool {
	return t == TransitionTakeoff || t == TransitionFirstAirborne || t == TransitionRecovered
}

// Classify decides what an observation means for the aircraft's flight state.
// prev is nil for a never-seen aircraft. hasActive says whether an open flight exists.
// An unknown ground flag never produces a transition.
func Classify(prev *LastKnownState, rec adsb.StateRecord, hasActive bool, th adsb.Thresholds) Transition {
	if rec.OnGround == nil {
		if hasActive {
			return TransitionAirborne
		}
		return TransitionNone
	}

	prevKnown := prev != nil && prev.OnGround != nil
	prevGround := prevKnown && *prev.OnGround
	prevAir := prevKnown && !*prev.OnGround

	if !*rec.OnGround {
		clears := th.ClearsTakeoff(rec.AltitudeM, rec.SpeedMS)
		switch {
		case prevGround && clears:
			return TransitionTakeoff
		case hasActive:
			return TransitionAirborne
		case prev == nil && clears:
			return TransitionFirstAirborne
		case !prevGround && clears:
			return TransitionRecovered
		}
		return TransitionNone
	}

	// On the ground now. Unknown speed suppresses landing.
	if rec.SpeedMS == nil || *rec.SpeedMS >= th.LandingMaxSpeedMS {
		return TransitionNone
	}
	if prevAir || hasActive {
		return TransitionLanding
	}
	return TransitionNone
}
