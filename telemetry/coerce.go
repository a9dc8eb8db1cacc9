package telemetry

import (
	"encoding/json"
	"strconv"
	"strings"
)

// CoerceFloat converts a decoded JSON value to a float64. Rovers in the
// field report numbers inconsistently (raw numbers, quoted numbers,
// json.Number depending on firmware), so every numeric field passes through
// here. Returns false when the value cannot be read as a number; callers
// treat that as "use zero and log a warning", never as a dropped message.
func CoerceFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// CoerceField reads key from a decoded JSON object and coerces it to a
// float64. The second return reports whether the key was present; the third
// whether coercion succeeded. An absent field is a normal zero, a present
// but uncoercible field is a zero worth a warning.
func CoerceField(obj map[string]any, key string) (float64, bool, bool) {
	v, present := obj[key]
	if !present || v == nil {
		return 0, false, true
	}
	f, ok := CoerceFloat(v)
	return f, true, ok
}
