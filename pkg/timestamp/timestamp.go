// Package timestamp provides standardized Unix timestamp handling.
//
// The canonical format is int64 milliseconds since the Unix epoch (UTC).
// A value of 0 means "not set"; functions handle zero values gracefully.
// Rover firmware is inconsistent about timestamp formats (RFC3339 strings,
// epoch seconds, epoch milliseconds), so Parse accepts all of them.
package timestamp

import (
	"strconv"
	"time"
)

// Now returns the current time as Unix milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}

// ToUnixMs converts a time.Time to Unix milliseconds.
func ToUnixMs(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMs converts Unix milliseconds to time.Time.
// Returns zero time if timestamp is 0.
func FromUnixMs(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Format converts Unix milliseconds to an RFC3339 string for display.
// Returns empty string if timestamp is 0.
func Format(ms int64) string {
	if ms == 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}

// Parse converts various timestamp formats to Unix milliseconds.
// Supports:
//   - int64 / int / float64 (assumed milliseconds if > 1e12, otherwise seconds)
//   - string (RFC3339, RFC3339Nano, or a Unix timestamp string)
//   - time.Time
//   - nil (returns 0)
//
// Returns 0 for invalid input or parsing errors.
func Parse(input any) int64 {
	if input == nil {
		return 0
	}

	switch v := input.(type) {
	case int64:
		return normalize(v)
	case int:
		return normalize(int64(v))
	case float64:
		if v == 0 {
			return 0
		}
		if v > 1e12 {
			return int64(v)
		}
		return int64(v * 1000)
	case time.Time:
		return ToUnixMs(v)
	case string:
		return parseString(v)
	default:
		return 0
	}
}

// normalize applies the seconds-vs-milliseconds heuristic: values above
// 1e12 (September 2001 in milliseconds) are already milliseconds.
func normalize(v int64) int64 {
	if v == 0 {
		return 0
	}
	if v > 1e12 {
		return v
	}
	return v * 1000
}

func parseString(s string) int64 {
	if s == "" {
		return 0
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UnixMilli()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli()
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return normalize(n)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Parse(f)
	}
	return 0
}
