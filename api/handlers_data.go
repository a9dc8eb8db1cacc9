package api

import (
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/telemetry"
)

// cachedRecord reads the live telemetry record for a rover from the cache.
// A miss and a cache outage both come back as !found: the caller falls
// through to the durable store either way.
func (s *Server) cachedRecord(r *http.Request, substationID, roverID string) (telemetry.Record, bool) {
	payload, found, err := s.deps.Cache.Get(r.Context(), telemetry.KindTelemetry, substationID, roverID)
	if err != nil {
		s.logger.Warn("cache read failed, falling back to store", "rover", roverID, "error", err)
		return telemetry.Record{}, false
	}
	if !found {
		return telemetry.Record{}, false
	}
	var rec telemetry.Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		s.logger.Warn("cached telemetry undecodable, falling back to store", "rover", roverID, "error", err)
		return telemetry.Record{}, false
	}
	return rec, true
}

type sensorDataResponse struct {
	Battery     float64 `json:"battery"`
	Temperature float64 `json:"temperature"`
	Speed       float64 `json:"speed"`
}

// handleSensorData answers with the rover's current sensor values: cache
// first, durable store second, zeros when nothing is known. Always 200 so
// dashboards render gauges instead of errors.
func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	roverID := r.URL.Query().Get("rover")
	if roverID == "" {
		roverID = DefaultRover
	}
	substationID := r.URL.Query().Get("substation")

	if rec, ok := s.cachedRecord(r, substationID, roverID); ok {
		s.writeJSON(w, http.StatusOK, sensorDataResponse{
			Battery:     rec.Battery,
			Temperature: rec.Temperature,
			Speed:       rec.Speed,
		})
		return
	}

	snap, err := s.deps.Telemetry.LatestTelemetry(r.Context(), roverID)
	if err != nil {
		if !errors.Is(err, errors.ErrNoTelemetry) && !errors.Is(err, errors.ErrRoverNotFound) {
			s.logger.Warn("store read failed for sensor data", "rover", roverID, "error", err)
		}
		s.writeJSON(w, http.StatusOK, sensorDataResponse{})
		return
	}
	resp := sensorDataResponse{
		Battery:     snap.Battery,
		Temperature: snap.Temperature,
	}
	if snap.Speed != nil {
		resp.Speed = *snap.Speed
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type gpsResponse struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Status    string   `json:"status"`
}

// handleGPS answers with the rover's last known position, 404 when no
// position was ever recorded.
func (s *Server) handleGPS(w http.ResponseWriter, r *http.Request) {
	roverID := r.URL.Query().Get("rover")
	substationID := r.URL.Query().Get("substation")
	if roverID == "" || substationID == "" {
		s.writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "rover and substation are required"})
		return
	}

	if rec, ok := s.cachedRecord(r, substationID, roverID); ok {
		resp := gpsResponse{Status: rec.Status}
		lat, lng := rec.Latitude, rec.Longitude
		resp.Latitude, resp.Longitude = &lat, &lng
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	snap, err := s.deps.Telemetry.LatestTelemetry(r.Context(), roverID)
	if err != nil {
		if errors.Is(err, errors.ErrNoTelemetry) || errors.Is(err, errors.ErrRoverNotFound) {
			s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "no data available"})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, gpsResponse{
		Latitude:  snap.Latitude,
		Longitude: snap.Longitude,
		Status:    snap.Status,
	})
}

type activeRoverResponse struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Battery     float64 `json:"battery"`
	Temperature float64 `json:"temperature"`
	Status      string  `json:"status"`
	LastSeen    string  `json:"last_seen"`
}

// handleActiveRovers lists a substation's active rovers with their latest
// data, merged per rover: cache hits are "now", store hits carry their
// snapshot timestamp, rovers with no telemetry at all are skipped.
func (s *Server) handleActiveRovers(w http.ResponseWriter, r *http.Request) {
	substationID := r.URL.Query().Get("substation")
	if substationID == "" {
		s.writeJSON(w, http.StatusBadRequest,
			map[string]string{"error": "substation is required"})
		return
	}

	rovers, err := s.deps.Registry.ListRovers(r.Context(), substationID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	// One lookup per rover, bounded so a large fleet cannot exhaust the
	// store's connection pool. Rovers with no telemetry stay nil.
	results := make([]*activeRoverResponse, len(rovers))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(8)
	for i, rover := range rovers {
		if !rover.IsActive {
			continue
		}
		g.Go(func() error {
			if rec, ok := s.cachedRecord(r, substationID, rover.Identifier); ok {
				results[i] = &activeRoverResponse{
					ID:          rover.Identifier,
					Name:        rover.Name,
					Battery:     rec.Battery,
					Temperature: rec.Temperature,
					Status:      rec.Status,
					LastSeen:    "now",
				}
				return nil
			}
			snap, err := s.deps.Telemetry.LatestTelemetry(ctx, rover.Identifier)
			if err != nil {
				return nil
			}
			results[i] = &activeRoverResponse{
				ID:          rover.Identifier,
				Name:        rover.Name,
				Battery:     snap.Battery,
				Temperature: snap.Temperature,
				Status:      snap.Status,
				LastSeen:    snap.Timestamp.UTC().Format(time.RFC3339),
			}
			return nil
		})
	}
	_ = g.Wait()

	out := []activeRoverResponse{}
	for _, res := range results {
		if res != nil {
			out = append(out, *res)
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}
