// Package argo is a telemetry platform for rover fleets operating in
// electrical substations.
//
// Rovers publish telemetry, camera frames, detection results, and command
// echoes over MQTT under the topic tree
// substations/{substation}/rovers/{rover}/{kind}. The ingest pipeline
// decodes each kind, writes telemetry durably to Postgres inside a
// per-rover serialized transaction, mirrors the latest state into a
// TTL cache, and fans validated updates out to dashboard viewers over
// WebSocket. An HTTP API serves registry CRUD, cached reads with durable
// fallback, and control endpoints that publish commands back to rovers.
//
// The binary lives in cmd/argo; the packages compose as:
//
//	mqttclient -> ingest -> store (Postgres)
//	                     -> statecache (Redis)
//	                     -> broadcast (WebSocket hub)
//	api -> directory / store / statecache / mqttclient
package argo
