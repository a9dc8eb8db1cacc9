package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gabrielabritta/argo/errors"
)

type directionRequest struct {
	Direction string `json:"direction"`
}

// moveCommand is the wire shape published to the rover's command topic.
type moveCommand struct {
	Command   string `json:"command"`
	Direction string `json:"direction"`
	Timestamp string `json:"timestamp"`
}

// handleDirection publishes a movement command to the rover over MQTT.
func (s *Server) handleDirection(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		s.writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"status": "error", "message": "command channel unavailable"})
		return
	}

	var req directionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Direction == "" {
		req.Direction = "unknown"
	}

	roverID := r.URL.Query().Get("rover")
	if roverID == "" {
		roverID = DefaultRover
	}
	substationID := r.URL.Query().Get("substation")
	if substationID == "" {
		s.writeError(w, errors.WrapInvalid(errors.ErrInvalidConfig,
			"APIServer", "handleDirection", "substation is required"))
		return
	}

	topic := fmt.Sprintf("substations/%s/rovers/%s/commands", substationID, roverID)
	payload, err := json.Marshal(moveCommand{
		Command:   "move",
		Direction: req.Direction,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Broker.Publish(r.Context(), topic, s.cfg.CommandQoS, false, payload); err != nil {
		s.errs.Add(1)
		s.logger.Error("command publish failed", "topic", topic, "error", err)
		s.writeJSON(w, http.StatusInternalServerError,
			map[string]string{"status": "error", "message": "command publish failed"})
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordMessagePublished("api", topic)
	}

	s.logger.Info("movement command sent", "rover", roverID, "direction", req.Direction)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "success",
		"direction": req.Direction,
		"rover":     roverID,
	})
}

type missionRequest struct {
	Mission string `json:"mission"`
}

// startMissionCommand is the wire shape published to the rover's mission
// topic. Status starts pending; the rover reports progress back through
// telemetry.
type startMissionCommand struct {
	Command   string `json:"command"`
	Mission   string `json:"mission"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status"`
}

// handleMission publishes a mission-start command to the rover over MQTT.
func (s *Server) handleMission(w http.ResponseWriter, r *http.Request) {
	if s.deps.Broker == nil {
		s.writeJSON(w, http.StatusServiceUnavailable,
			map[string]string{"status": "error", "message": "command channel unavailable"})
		return
	}

	var req missionRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Mission == "" {
		req.Mission = "unknown"
	}

	roverID := r.URL.Query().Get("rover")
	if roverID == "" {
		roverID = DefaultRover
	}
	substationID := r.URL.Query().Get("substation")
	if substationID == "" {
		s.writeError(w, errors.WrapInvalid(errors.ErrInvalidConfig,
			"APIServer", "handleMission", "substation is required"))
		return
	}

	topic := fmt.Sprintf("substations/%s/rovers/%s/mission", substationID, roverID)
	payload, err := json.Marshal(startMissionCommand{
		Command:   "start_mission",
		Mission:   req.Mission,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    "pending",
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.deps.Broker.Publish(r.Context(), topic, s.cfg.CommandQoS, false, payload); err != nil {
		s.errs.Add(1)
		s.logger.Error("mission publish failed", "topic", topic, "error", err)
		s.writeJSON(w, http.StatusInternalServerError,
			map[string]string{"status": "error", "message": "mission publish failed"})
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordMessagePublished("api", topic)
	}

	s.logger.Info("mission command sent", "rover", roverID, "mission", req.Mission)
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"mission": req.Mission,
		"rover":   roverID,
	})
}

// handleHealth reports the aggregated system health: 200 when every
// registered component is healthy, 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	status := s.deps.Health.AggregateHealth("argo")
	code := http.StatusOK
	if !status.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}
