package ingest

import (
	"strings"

	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/telemetry"
)

// Route identifies where a message came from and what it carries.
type Route struct {
	SubstationID string
	RoverID      string
	Kind         telemetry.Kind
}

// ParseTopic extracts the route from a topic of the form
// substations/{substation}/rovers/{rover}/{kind}[/...] by fixed positional
// split. Fewer than five segments is a malformed topic; an unrecognized
// kind segment is reported as ErrUnknownKind so the caller can skip it
// quietly (newer firmware may publish kinds this server predates).
func ParseTopic(topic string) (Route, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 5 {
		return Route{}, errors.WrapInvalid(errors.ErrMalformedTopic,
			"Ingest", "ParseTopic", "topic "+topic+" has fewer than 5 segments")
	}

	route := Route{SubstationID: parts[1], RoverID: parts[3]}
	kind, known := telemetry.ParseKind(parts[4])
	if !known {
		return Route{}, errors.WrapInvalid(errors.ErrUnknownKind,
			"Ingest", "ParseTopic", "kind "+parts[4]+" not recognized")
	}
	route.Kind = kind
	return route, nil
}
