package physics

import (
	"math"
	"time"

	"github.com/westphae/geomag/pkg/egm96"
	"github.com/westphae/geomag/pkg/wmm"
)

// Constants
const (
	FeetToMeters    = 0.3048   // Conversion factor from feet to meters
	KnotsToMs       = 0.514444 // Conversion factor from knots to m/s
	FpmToMs         = 0.00508  // Conversion factor from feet/min to m/s
	EarthRadiusKm   = 6371.0   // Mean Earth radius used for great-circle distance
	degreesToRadian = math.Pi / 180
)

// FeetToM converts feet to meters
func FeetToM(ft float64) float64 {
	return ft * FeetToMeters
}

// KnotsToMS converts knots to m/s
func KnotsToMS(kt float64) float64 {
	return kt * KnotsToMs
}

// FpmToMS converts feet per minute to m/s
func FpmToMS(fpm float64) float64 {
	return fpm * FpmToMs
}

// HaversineKm returns the great-circle distance in kilometers between two points.
// Spherical earth, no ellipsoid correction.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * degreesToRadian
	dLon := (lon2 - lon1) * degreesToRadian
	rLat1 := lat1 * degreesToRadian
	rLat2 := lat2 * degreesToRadian

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// NormalizeHeading wraps a heading into [0, 360)
func NormalizeHeading(deg float64) float64 {
	h := math.Mod(deg, 360)
	if h < 0 {
		h += 360
	}
	return h
}

// CalculateMagneticVariation calculates the magnetic declination for a given position and time
// Returns declination in degrees (+East, -West)
func CalculateMagneticVariation(lat, lon, altM float64, date time.Time) float64 {
	loc := egm96.NewLocationGeodetic(lat, lon, altM)

	mag, err := wmm.CalculateWMMMagneticField(loc, date)
	if err != nil {
		// WMM coefficients only cover a bounded epoch
		return 0.0
	}

	return mag.D()
}

// MagneticToTrue converts a magnetic heading to a true heading at the given position
func MagneticToTrue(magHeading, lat, lon, altM float64, date time.Time) float64 {
	return NormalizeHeading(magHeading + CalculateMagneticVariation(lat, lon, altM, date))
}
