package telemetry

import (
	"encoding/json"
	"time"
)

// Kind identifies the message category carried by the last topic segment.
type Kind string

const (
	KindTelemetry Kind = "telemetry"
	KindImage     Kind = "image"
	KindBoxes     Kind = "boxes"
	KindCommands  Kind = "commands"
)

// ParseKind returns the Kind for a topic segment and whether it is one the
// pipeline recognizes. Unrecognized kinds are skipped, not failed, so newer
// rover firmware can introduce kinds ahead of the server.
func ParseKind(segment string) (Kind, bool) {
	switch k := Kind(segment); k {
	case KindTelemetry, KindImage, KindBoxes, KindCommands:
		return k, true
	default:
		return Kind(segment), false
	}
}

// String implements fmt.Stringer.
func (k Kind) String() string { return string(k) }

// Fixed sensor field names a telemetry payload may carry. Snapshot writes
// fan these out into per-sensor reading rows.
const (
	FieldBattery     = "battery"
	FieldTemperature = "temperature"
	FieldSpeed       = "speed"
)

// FieldStatus records how one fixed sensor field decoded: whether the rover
// sent it at all, and whether its value survived numeric coercion. An
// absent field is a quiet zero; a present but invalid one is a zero worth a
// warning and is skipped when readings fan out.
type FieldStatus struct {
	Present bool
	Valid   bool
}

// Record is a decoded telemetry payload. All numeric fields are optional on
// the wire and default to zero after coercion; Timestamp is always populated
// by the decoder (server time when the rover omitted it).
type Record struct {
	Battery     float64 `json:"battery"`
	Temperature float64 `json:"temperature"`
	Speed       float64 `json:"speed"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	HasLocation bool    `json:"-"`
	Status      string  `json:"status"`
	Timestamp   string  `json:"timestamp"`

	// Fields tracks decode status per fixed sensor field, keyed by the
	// Field* constants. Not serialized; consumed by the durable store.
	Fields map[string]FieldStatus `json:"-"`
}

// FieldValue returns the decoded value for a fixed sensor field.
func (r Record) FieldValue(name string) float64 {
	switch name {
	case FieldBattery:
		return r.Battery
	case FieldTemperature:
		return r.Temperature
	case FieldSpeed:
		return r.Speed
	default:
		return 0
	}
}

// ImageFrame is a decoded image payload: raw camera bytes re-encoded to
// base64 so the frame survives JSON cache storage and WebSocket delivery.
type ImageFrame struct {
	Data      string `json:"data"`
	Timestamp string `json:"timestamp"`
}

// DetectionSet is a decoded boxes payload. The detection schema belongs to
// the vision model, so the pipeline validates JSON and passes it through.
type DetectionSet struct {
	Detections json.RawMessage `json:"detections"`
	Timestamp  string          `json:"timestamp"`
}

// Command is a decoded command payload.
type Command struct {
	Name   string          `json:"command"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Snapshot is one durable telemetry row. Append-only; the latest state for a
// rover is the row with the greatest timestamp.
type Snapshot struct {
	ID          int64
	RoverID     int64
	Timestamp   time.Time
	Battery     float64
	Temperature float64
	Latitude    *float64
	Longitude   *float64
	Speed       *float64
	Status      string
}

// SensorReading is one derived per-sensor row fanned out from a Snapshot.
type SensorReading struct {
	ID         int64
	RoverID    int64
	Timestamp  time.Time
	SensorType string
	Value      float64
	Unit       string
}

// Units for the fixed sensor fields a Snapshot fans out into.
const (
	UnitPercent = "%"
	UnitCelsius = "C"
	UnitMPS     = "m/s"
)
