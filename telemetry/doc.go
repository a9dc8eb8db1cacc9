// Package telemetry defines the domain types shared across the ingestion
// pipeline: message kinds, decoded payload records, durable row types, and
// the WebSocket envelope delivered to viewers.
package telemetry
