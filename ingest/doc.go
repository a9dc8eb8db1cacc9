// Package ingest is the core of the pipeline: it subscribes to the rover
// topic tree, routes each message by its topic segments, decodes the
// payload for its kind, refreshes the ephemeral cache, persists telemetry
// through the durable store, and fans successful updates out to viewers.
//
// Every failure is contained to the single message being processed. A
// malformed topic, an unknown kind, a decode error, an unknown rover, or
// an unreachable backend drops that message with a log line and the
// subscription lives on.
package ingest
