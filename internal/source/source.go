// Package source talks to the fix ingestion service. Two transports are
// provided, plain HTTP/JSON and gRPC; both return raw samples that still
// need normalizing and cleaning.
package source

import (
	"fmt"
	"strings"

	"trail-svr/internal/pipeline"
)

// TransportError is a failed request to the external service: network
// errors, non-success statuses and timeouts.
type TransportError struct {
	Op       string // "latest" or "history"
	DeviceID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// timestamp keys in the order they are tried
var tsKeys = []string{"ts", "timestamp", "time", "fixTime", "fix_time"}

// sampleFromMap picks the known fields out of a decoded JSON/struct payload.
func sampleFromMap(deviceID string, m map[string]any) pipeline.RawSample {
	r := pipeline.RawSample{DeviceID: deviceID}
	if id, ok := m["device_id"].(string); ok && id != "" {
		r.DeviceID = id
	} else if id, ok := m["deviceId"].(string); ok && id != "" {
		r.DeviceID = id
	}
	r.Lat = first(m, "lat", "latitude")
	r.Lon = first(m, "lon", "lng", "longitude")
	r.TS = first(m, tsKeys...)
	r.Speed = first(m, "speed")
	r.Battery = first(m, "battery")
	r.SOS = first(m, "sos")
	return r
}

func first(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	// case-insensitive second pass for loosely typed devices
	for k, v := range m {
		for _, want := range keys {
			if v != nil && strings.EqualFold(k, want) {
				return v
			}
		}
	}
	return nil
}
