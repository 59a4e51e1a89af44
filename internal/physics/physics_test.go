package physics

import (
	"math"
	"testing"
	"time"
)

func TestUnitConversions(t *testing.T) {
	tests := []struct {
		name string
		fn   func(float64) float64
		in   float64
		want float64
	}{
		{"feet to meters", FeetToM, 1000, 304.8},
		{"knots to m/s", KnotsToMS, 100, 51.4444},
		{"fpm to m/s", FpmToMS, 1000, 5.08},
		{"zero feet", FeetToM, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.in)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %f, got %f", tt.want, got)
			}
		})
	}
}

func TestHaversineKm(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
		want, tolerance        float64
	}{
		{"same point", 43.6777, -79.6248, 43.6777, -79.6248, 0, 1e-9},
		{"one degree of latitude", 0, 0, 1, 0, 111.195, 0.01},
		{"one degree of longitude at equator", 0, 0, 0, 1, 111.195, 0.01},
		{"YYZ to YUL", 43.6777, -79.6248, 45.4706, -73.7408, 506.75, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("Expected %.3f km (±%.3f), got %.3f", tt.want, tt.tolerance, got)
			}
		})
	}
}

func TestHaversineSymmetric(t *testing.T) {
	a := HaversineKm(51.47, -0.4543, 40.6413, -73.7781)
	b := HaversineKm(40.6413, -73.7781, 51.47, -0.4543)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("Expected symmetric distance, got %f and %f", a, b)
	}
}

func TestNormalizeHeading(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		360:  0,
		-10:  350,
		725:  5,
		12.5: 12.5,
	}
	for in, want := range cases {
		if got := NormalizeHeading(in); math.Abs(got-want) > 1e-9 {
			t.Errorf("NormalizeHeading(%f): expected %f, got %f", in, want, got)
		}
	}
}

func TestMagneticToTrue(t *testing.T) {
	date := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	decl := CalculateMagneticVariation(43.6777, -79.6248, 0, date)
	// Toronto declination is westerly, roughly -10 degrees
	if decl < -15 || decl > 0 {
		t.Errorf("Expected westerly declination, got %f", decl)
	}

	got := MagneticToTrue(5, 43.6777, -79.6248, 0, date)
	want := NormalizeHeading(5 + decl)
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected %f, got %f", want, got)
	}
}
