package adsb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FlexibleField can hold a string, a number or a bool.
// readsb-derived feeds put "ground" in alt_baro and sometimes quote numbers.
type FlexibleField struct {
	value any
	set   bool
}

// UnmarshalJSON implements custom JSON unmarshaling for FlexibleField
func (f *FlexibleField) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		f.value, f.set = nil, false
		return nil
	}

	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		f.value, f.set = num, true
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		f.value, f.set = str, true
		return nil
	}

	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		f.value, f.set = b, true
		return nil
	}

	return fmt.Errorf("cannot unmarshal %s into FlexibleField", data)
}

// IsSet reports whether the field was present and non-null
func (f FlexibleField) IsSet() bool {
	return f.set
}

// IsGround reports whether the field holds the "ground" sentinel
func (f FlexibleField) IsGround() bool {
	s, ok := f.value.(string)
	return ok && strings.EqualFold(strings.TrimSpace(s), "ground")
}

// Float64Ptr returns the numeric value, or nil if absent, not a number or not finite
func (f FlexibleField) Float64Ptr() *float64 {
	switch v := f.value.(type) {
	case float64:
		return finite(v)
	case string:
		s := strings.TrimSpace(v)
		if s == "" || strings.EqualFold(s, "ground") {
			return nil
		}
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		return finite(n)
	default:
		return nil
	}
}

// ParseFloat accepts "NaN" and "Inf"
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return Float(v)
}

// BoolPtr returns the value as a bool, or nil if absent.
// Numbers are true when non-zero.
func (f FlexibleField) BoolPtr() *bool {
	switch v := f.value.(type) {
	case bool:
		return Bool(v)
	case float64:
		return Bool(v != 0)
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil
		}
		return Bool(b)
	default:
		return nil
	}
}

// String returns the value as a string
func (f FlexibleField) String() string {
	switch v := f.value.(type) {
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// Target is one aircraft entry in a readsb-style JSON document.
// dump1090/tar1090 aircraft.json and the airplanes.live / adsb.fi APIs share this shape.
// Units are the feed's native ones: feet, knots, feet/min.
type Target struct {
	Hex         string        `json:"hex"`
	Type        string        `json:"type"`
	Flight      string        `json:"flight"`
	AltBaro     FlexibleField `json:"alt_baro"`
	AltGeom     FlexibleField `json:"alt_geom"`
	GS          FlexibleField `json:"gs"`
	Track       FlexibleField `json:"track"`
	TrueHeading FlexibleField `json:"true_heading"`
	MagHeading  FlexibleField `json:"mag_heading"`
	BaroRate    FlexibleField `json:"baro_rate"`
	GeomRate    FlexibleField `json:"geom_rate"`
	Squawk      string        `json:"squawk"`
	Category    string        `json:"category"`
	Lat         FlexibleField `json:"lat"`
	Lon         FlexibleField `json:"lon"`
	Ground      FlexibleField `json:"ground"` // not in dump1090; some aggregators add it
	SeenPos     FlexibleField `json:"seen_pos"`
	Seen        FlexibleField `json:"seen"`
	Messages    FlexibleField `json:"messages"`
	RSSI        FlexibleField `json:"rssi"`
}

// localResponse is the dump1090 / tar1090 aircraft.json document
type localResponse struct {
	Now      float64  `json:"now"` // unix seconds
	Messages int      `json:"messages"`
	Aircraft []Target `json:"aircraft"`
}

// hexAPIResponse is the airplanes.live / adsb.fi v2 response
type hexAPIResponse struct {
	AC    []Target `json:"ac"`
	Msg   string   `json:"msg"`
	Now   float64  `json:"now"` // unix milliseconds
	Total int      `json:"total"`
	Ctime float64  `json:"ctime"`
}
