package pipeline

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Fix is one timestamped location sample for a device.
type Fix struct {
	DeviceID string   `json:"device_id,omitempty"`
	Lat      float64  `json:"lat"`
	Lon      float64  `json:"lon"`
	TS       int64    `json:"ts"` // epoch seconds, always produced by Normalize
	Speed    *float64 `json:"speed,omitempty"`
	Battery  *float64 `json:"battery,omitempty"`
	SOS      bool     `json:"sos,omitempty"`
}

// Trajectory is a time-ordered sequence of fixes for one device.
type Trajectory []Fix

// Last returns the newest fix, or false on an empty trajectory.
func (t Trajectory) Last() (Fix, bool) {
	if len(t) == 0 {
		return Fix{}, false
	}
	return t[len(t)-1], true
}

// RawSample is a location sample exactly as an external source delivered it.
// Coordinates and timestamps may be numbers, numeric strings or garbage.
type RawSample struct {
	DeviceID string
	Lat      any
	Lon      any
	TS       any
	Speed    any
	Battery  any
	SOS      any

	// ServerDate is the response Date header, used when TS is unusable.
	ServerDate string
}

// Fix converts the sample into a Fix. ok is false when no usable timestamp
// could be derived; coordinates are not validated here (see Clean).
func (r RawSample) Fix() (Fix, bool) {
	ts, ok := Normalize(r.TS)
	if !ok && r.ServerDate != "" {
		ts, ok = FromResponseHeader(r.ServerDate)
	}
	f := Fix{
		DeviceID: r.DeviceID,
		Lat:      ToFloat(r.Lat),
		Lon:      ToFloat(r.Lon),
		TS:       ts,
		Speed:    optFloat(r.Speed),
		Battery:  optFloat(r.Battery),
		SOS:      toBool(r.SOS),
	}
	return f, ok
}

// ToFloat coerces numbers and numeric strings to float64. Anything else is NaN.
func ToFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func optFloat(v any) *float64 {
	if v == nil {
		return nil
	}
	f := ToFloat(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func toBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		p, _ := strconv.ParseBool(strings.TrimSpace(b))
		return p
	}
	f := ToFloat(v)
	return !math.IsNaN(f) && f != 0
}

// CoordsValid reports whether lat/lon are finite and inside the WGS84 range.
func CoordsValid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return false
	}
	return true
}
