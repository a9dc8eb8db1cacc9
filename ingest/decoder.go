package ingest

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/pkg/timestamp"
	"github.com/gabrielabritta/argo/telemetry"
)

// previewLen bounds how much of a bad payload makes it into a log line.
const previewLen = 64

// payloadPreview renders a truncated, log-safe view of raw bytes.
func payloadPreview(payload []byte) string {
	if len(payload) > previewLen {
		return fmt.Sprintf("%q... (%d bytes)", payload[:previewLen], len(payload))
	}
	return fmt.Sprintf("%q", payload)
}

// Decoder turns raw payload bytes into typed records, one strategy per
// message kind. The clock is injectable so tests control the stamped
// timestamps.
type Decoder struct {
	now func() time.Time
}

// NewDecoder creates a Decoder using the system clock.
func NewDecoder() *Decoder {
	return &Decoder{now: time.Now}
}

// decodeJSONObject parses payload into a JSON object, rejecting invalid
// UTF-8 and non-object shapes.
func decodeJSONObject(payload []byte, op string) (map[string]any, error) {
	if !utf8.Valid(payload) {
		return nil, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Ingest", op, "payload is not valid UTF-8: "+payloadPreview(payload))
	}
	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Ingest", op, "invalid JSON "+payloadPreview(payload)+": "+err.Error())
	}
	return obj, nil
}

// FieldWarning reports a present but uncoercible numeric field. The field
// decoded to zero and its derived sensor reading is skipped.
type FieldWarning struct {
	Field string
	Value any
}

// DecodeTelemetry decodes a telemetry JSON payload. All numeric fields are
// optional, coerced from numbers or numeric strings, and default to zero;
// a field that fails coercion produces a warning, never a dropped message.
// The returned record always carries a timestamp: the rover's when sent,
// the server's otherwise.
func (d *Decoder) DecodeTelemetry(payload []byte) (telemetry.Record, []FieldWarning, error) {
	obj, err := decodeJSONObject(payload, "DecodeTelemetry")
	if err != nil {
		return telemetry.Record{}, nil, err
	}

	rec := telemetry.Record{Fields: make(map[string]telemetry.FieldStatus, 3)}
	var warnings []FieldWarning

	coerce := func(field string) float64 {
		v, present, ok := telemetry.CoerceField(obj, field)
		rec.Fields[field] = telemetry.FieldStatus{Present: present, Valid: ok}
		if present && !ok {
			warnings = append(warnings, FieldWarning{Field: field, Value: obj[field]})
		}
		return v
	}
	rec.Battery = coerce(telemetry.FieldBattery)
	rec.Temperature = coerce(telemetry.FieldTemperature)
	rec.Speed = coerce(telemetry.FieldSpeed)

	if loc, ok := obj["location"].(map[string]any); ok {
		lat, latPresent, latOK := telemetry.CoerceField(loc, "lat")
		lng, lngPresent, lngOK := telemetry.CoerceField(loc, "lng")
		if latPresent && lngPresent && latOK && lngOK {
			rec.Latitude, rec.Longitude = lat, lng
			rec.HasLocation = true
		} else if (latPresent && !latOK) || (lngPresent && !lngOK) {
			warnings = append(warnings, FieldWarning{Field: "location", Value: obj["location"]})
		}
	}

	if status, ok := obj["status"].(string); ok {
		rec.Status = status
	} else {
		rec.Status = "unknown"
	}

	rec.Timestamp = d.stamp(obj["timestamp"])

	return rec, warnings, nil
}

// stamp normalizes a rover-sent timestamp to RFC3339, falling back to
// server time. Firmware is inconsistent here: RFC3339 strings, epoch
// seconds, and epoch milliseconds all occur in the field.
func (d *Decoder) stamp(sent any) string {
	if ms := timestamp.Parse(sent); ms != 0 {
		return timestamp.Format(ms)
	}
	return d.now().UTC().Format(time.RFC3339)
}

// DecodeImage wraps raw camera bytes in a transport-safe frame. Any byte
// sequence is a valid image payload; no further validation applies.
func (d *Decoder) DecodeImage(payload []byte) telemetry.ImageFrame {
	return telemetry.ImageFrame{
		Data:      base64.StdEncoding.EncodeToString(payload),
		Timestamp: d.now().UTC().Format(time.RFC3339),
	}
}

// DecodeBoxes validates a detection payload as JSON and passes it through.
// The detection schema belongs to the vision model.
func (d *Decoder) DecodeBoxes(payload []byte) (telemetry.DetectionSet, error) {
	if !utf8.Valid(payload) {
		return telemetry.DetectionSet{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Ingest", "DecodeBoxes", "payload is not valid UTF-8: "+payloadPreview(payload))
	}
	if !json.Valid(payload) {
		return telemetry.DetectionSet{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Ingest", "DecodeBoxes", "invalid JSON "+payloadPreview(payload))
	}
	return telemetry.DetectionSet{
		Detections: json.RawMessage(payload),
		Timestamp:  d.now().UTC().Format(time.RFC3339),
	}, nil
}

// DecodeCommand decodes a command payload. The command name is required;
// dispatching unknown names is the caller's decision (they are logged and
// ignored for firmware forward-compatibility).
func (d *Decoder) DecodeCommand(payload []byte) (telemetry.Command, error) {
	obj, err := decodeJSONObject(payload, "DecodeCommand")
	if err != nil {
		return telemetry.Command{}, err
	}
	name, ok := obj["command"].(string)
	if !ok || name == "" {
		return telemetry.Command{}, errors.WrapInvalid(errors.ErrDecodeFailed,
			"Ingest", "DecodeCommand", "missing command field: "+payloadPreview(payload))
	}
	cmd := telemetry.Command{Name: name}
	if params, ok := obj["params"]; ok {
		raw, err := json.Marshal(params)
		if err == nil {
			cmd.Params = raw
		}
	}
	return cmd, nil
}
