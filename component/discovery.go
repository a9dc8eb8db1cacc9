// Package component defines the Discoverable interface and lifecycle
// contracts shared by the pipeline's components.
package component

import (
	"time"
)

// Discoverable is implemented by components that can be inspected by the
// management layer: ingest pipeline, state cache, durable store, broadcast
// hub, API server.
type Discoverable interface {
	// Meta returns basic component information
	Meta() Metadata

	// InputPorts returns the ports this component consumes data on
	InputPorts() []Port

	// OutputPorts returns the ports this component produces data on
	OutputPorts() []Port

	// Health returns current health status
	Health() HealthStatus

	// DataFlow returns current data flow metrics
	DataFlow() FlowMetrics
}

// Metadata describes what a component is
type Metadata struct {
	Name        string `json:"name"`
	Type        string `json:"type"` // "input", "processor", "output", "storage"
	Description string `json:"description"`
	Version     string `json:"version"`
}

// Direction indicates whether a port consumes or produces data
type Direction string

const (
	// DirectionInput marks a port that consumes data
	DirectionInput Direction = "input"
	// DirectionOutput marks a port that produces data
	DirectionOutput Direction = "output"
)

// Port describes a data connection point of a component. Topic carries an
// MQTT topic filter for broker-facing ports and a URL path for HTTP or
// WebSocket ports.
type Port struct {
	Name        string    `json:"name"`
	Direction   Direction `json:"direction"`
	Topic       string    `json:"topic,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
}

// HealthStatus describes the current health state of a component
type HealthStatus struct {
	Healthy    bool          `json:"healthy"`
	LastCheck  time.Time     `json:"last_check"`
	ErrorCount int           `json:"error_count"`
	LastError  string        `json:"last_error,omitempty"`
	Uptime     time.Duration `json:"uptime"`
}

// FlowMetrics describes the current data flow through a component
type FlowMetrics struct {
	MessagesPerSecond float64   `json:"messages_per_second"`
	ErrorRate         float64   `json:"error_rate"`
	LastActivity      time.Time `json:"last_activity"`
}
