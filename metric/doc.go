// Package metric provides Prometheus-based metrics collection for the
// telemetry pipeline.
//
// A centralized MetricsRegistry manages core platform metrics (component
// status, message flow, MQTT and WebSocket health) alongside
// component-specific metrics registered through the MetricsRegistrar
// interface. Server exposes everything in Prometheus format over HTTP.
//
// Core metrics use the "argo" namespace:
//   - argo_component_status{component="..."}
//   - argo_messages_processed_total{component="...",kind="...",status="..."}
//   - argo_mqtt_connected
package metric
