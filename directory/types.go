package directory

import (
	"encoding/json"
	"time"
)

// Default coordinates for a substation created without a location
// (São Paulo, matching field deployments to date).
const (
	DefaultLatitude  = -23.550520
	DefaultLongitude = -46.633308
	DefaultVoltage   = "500kV"
)

// DefaultBatteryLevel is assumed for a freshly provisioned rover until its
// first telemetry message arrives.
const DefaultBatteryLevel = 100

// Substation is a monitored site owning zero or more rovers.
type Substation struct {
	ID          int64     `json:"id"`
	Identifier  string    `json:"identifier"`
	Name        string    `json:"name"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	IsActive    bool      `json:"is_active"`
	Description string    `json:"description"`
	Voltage     string    `json:"voltage"`
	CreatedAt   time.Time `json:"created_at"`
}

// Coordinates returns [latitude, longitude] for map rendering.
func (s Substation) Coordinates() [2]float64 {
	return [2]float64{s.Latitude, s.Longitude}
}

// Rover is a registered field unit. Sensors and Alerts are free-form JSON
// refreshed opportunistically by telemetry ingestion; their schema belongs
// to the rover firmware.
type Rover struct {
	ID           int64           `json:"id"`
	SubstationID int64           `json:"substation_id"`
	Identifier   string          `json:"identifier"`
	Name         string          `json:"name"`
	Model        string          `json:"model"`
	IsActive     bool            `json:"is_active"`
	BatteryLevel float64         `json:"battery_level"`
	Sensors      json.RawMessage `json:"sensors"`
	Alerts       json.RawMessage `json:"alerts"`
	CreatedAt    time.Time       `json:"created_at"`
}
