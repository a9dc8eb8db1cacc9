package telemetry

import "encoding/json"

// Envelope is the message frame pushed to every WebSocket subscriber of a
// rover group: {"type": "<kind>_update", "data": ...}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewEnvelope wraps an already-marshaled payload in the per-kind envelope.
func NewEnvelope(kind Kind, data json.RawMessage) Envelope {
	return Envelope{Type: string(kind) + "_update", Data: data}
}

// MarshalEnvelope marshals data and wraps it. Marshal failure is a
// programming error in the caller's payload type, surfaced as an error
// rather than a panic so the pipeline can drop the single message.
func MarshalEnvelope(kind Kind, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(NewEnvelope(kind, raw))
}

// GroupName returns the broadcast group for a rover identifier.
func GroupName(roverID string) string {
	return "rover_" + roverID
}
