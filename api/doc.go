// Package api serves the HTTP query and control surface: registry CRUD for
// substations and rovers, read endpoints that answer from the live cache
// and fall back to the durable store, and control endpoints that publish
// commands back to rovers over MQTT.
package api
