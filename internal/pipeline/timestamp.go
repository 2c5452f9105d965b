package pipeline

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	millisThreshold = 1e12
	secondsFloor    = 1e9
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC1123Z,
	time.RFC1123,
}

// Normalize turns a timestamp candidate into epoch seconds.
//
// Numbers above 1e12 are read as milliseconds, numbers from 1e9 up as
// seconds; smaller magnitudes are rejected rather than guessed. Strings are
// tried as numbers first, then as calendar dates. Everything else is rejected.
func Normalize(candidate any) (int64, bool) {
	switch v := candidate.(type) {
	case nil:
		return 0, false
	case int:
		return fromNumber(float64(v))
	case int64:
		return fromNumber(float64(v))
	case int32:
		return fromNumber(float64(v))
	case uint64:
		return fromNumber(float64(v))
	case float64:
		return fromNumber(v)
	case float32:
		return fromNumber(float64(v))
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return fromNumber(f)
	case time.Time:
		if v.IsZero() {
			return 0, false
		}
		return v.Unix(), true
	case string:
		return fromString(v)
	}
	return 0, false
}

func fromNumber(n float64) (int64, bool) {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	if n > millisThreshold {
		n /= 1000
	} else if n < secondsFloor {
		return 0, false
	}
	n = math.Floor(n)
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold
	if n >= float64(math.MaxInt64) {
		return 0, false
	}
	return int64(n), true
}

func fromString(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromNumber(f)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// FromResponseHeader parses an HTTP Date header value into epoch seconds.
func FromResponseHeader(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	t, err := http.ParseTime(value)
	if err != nil {
		return 0, false
	}
	return t.Unix(), true
}

// FromHeader reads the Date header of a response.
func FromHeader(h http.Header) (int64, bool) {
	if h == nil {
		return 0, false
	}
	return FromResponseHeader(h.Get("Date"))
}
