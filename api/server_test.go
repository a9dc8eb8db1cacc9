package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielabritta/argo/directory"
	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/mqttclient"
	"github.com/gabrielabritta/argo/statecache"
	"github.com/gabrielabritta/argo/telemetry"
)

// fakeRegistry is an in-memory Registry for handler tests.
type fakeRegistry struct {
	substations map[string]directory.Substation
	rovers      map[string]directory.Rover
	nextID      int64
}

var _ Registry = (*fakeRegistry)(nil)

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		substations: make(map[string]directory.Substation),
		rovers:      make(map[string]directory.Rover),
	}
}

func (f *fakeRegistry) CreateSubstation(_ context.Context, p directory.SubstationParams) (directory.Substation, error) {
	if p.Identifier == "" {
		return directory.Substation{}, errors.WrapInvalid(errors.ErrInvalidConfig, "Directory", "CreateSubstation", "identifier required")
	}
	f.nextID++
	sub := directory.Substation{ID: f.nextID, Identifier: p.Identifier, Name: p.Name, IsActive: true, Voltage: p.Voltage}
	if p.Latitude != nil {
		sub.Latitude = *p.Latitude
	}
	if p.Longitude != nil {
		sub.Longitude = *p.Longitude
	}
	f.substations[p.Identifier] = sub
	return sub, nil
}

func (f *fakeRegistry) GetSubstationByIdentifier(_ context.Context, identifier string) (directory.Substation, error) {
	sub, ok := f.substations[identifier]
	if !ok {
		return directory.Substation{}, errors.WrapInvalid(errors.ErrNotFound, "Directory", "GetSubstationByIdentifier", identifier)
	}
	return sub, nil
}

func (f *fakeRegistry) ListSubstations(context.Context) ([]directory.Substation, error) {
	var out []directory.Substation
	for _, sub := range f.substations {
		out = append(out, sub)
	}
	return out, nil
}

func (f *fakeRegistry) UpdateSubstation(_ context.Context, s directory.Substation) (directory.Substation, error) {
	f.substations[s.Identifier] = s
	return s, nil
}

func (f *fakeRegistry) DeleteSubstation(_ context.Context, identifier string) error {
	if _, ok := f.substations[identifier]; !ok {
		return errors.WrapInvalid(errors.ErrNotFound, "Directory", "DeleteSubstation", identifier)
	}
	delete(f.substations, identifier)
	return nil
}

func (f *fakeRegistry) CreateRover(_ context.Context, p directory.RoverParams) (directory.Rover, error) {
	f.nextID++
	rover := directory.Rover{ID: f.nextID, SubstationID: p.SubstationID, Identifier: p.Identifier, Name: p.Name, Model: p.Model, IsActive: true, BatteryLevel: 100}
	f.rovers[p.Identifier] = rover
	return rover, nil
}

func (f *fakeRegistry) GetRoverByIdentifier(_ context.Context, identifier string) (directory.Rover, error) {
	rover, ok := f.rovers[identifier]
	if !ok {
		return directory.Rover{}, errors.WrapInvalid(errors.ErrRoverNotFound, "Directory", "GetRoverByIdentifier", identifier)
	}
	return rover, nil
}

func (f *fakeRegistry) ListRovers(_ context.Context, substationIdentifier string) ([]directory.Rover, error) {
	var out []directory.Rover
	for _, rover := range f.rovers {
		if substationIdentifier != "" {
			sub, ok := f.substations[substationIdentifier]
			if !ok || rover.SubstationID != sub.ID {
				continue
			}
		}
		out = append(out, rover)
	}
	return out, nil
}

func (f *fakeRegistry) UpdateRover(_ context.Context, r directory.Rover) (directory.Rover, error) {
	f.rovers[r.Identifier] = r
	return r, nil
}

func (f *fakeRegistry) AssignSubstation(_ context.Context, roverIdentifier, substationIdentifier string) (directory.Rover, error) {
	rover, ok := f.rovers[roverIdentifier]
	if !ok {
		return directory.Rover{}, errors.WrapInvalid(errors.ErrRoverNotFound, "Directory", "AssignSubstation", roverIdentifier)
	}
	sub, ok := f.substations[substationIdentifier]
	if !ok {
		return directory.Rover{}, errors.WrapInvalid(errors.ErrNotFound, "Directory", "AssignSubstation", substationIdentifier)
	}
	rover.SubstationID = sub.ID
	f.rovers[roverIdentifier] = rover
	return rover, nil
}

func (f *fakeRegistry) DeleteRover(_ context.Context, identifier string) error {
	if _, ok := f.rovers[identifier]; !ok {
		return errors.WrapInvalid(errors.ErrRoverNotFound, "Directory", "DeleteRover", identifier)
	}
	delete(f.rovers, identifier)
	return nil
}

// fakeTelemetry serves canned snapshots keyed by rover identifier.
type fakeTelemetry struct {
	snapshots map[string]telemetry.Snapshot
}

func (f *fakeTelemetry) LatestTelemetry(_ context.Context, roverID string) (telemetry.Snapshot, error) {
	snap, ok := f.snapshots[roverID]
	if !ok {
		return telemetry.Snapshot{}, errors.WrapInvalid(errors.ErrNoTelemetry, "Store", "LatestTelemetry", roverID)
	}
	return snap, nil
}

type apiHarness struct {
	registry *fakeRegistry
	telem    *fakeTelemetry
	cache    *statecache.MemoryCache
	broker   *mqttclient.TestBroker
	handler  http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := &apiHarness{
		registry: newFakeRegistry(),
		telem:    &fakeTelemetry{snapshots: make(map[string]telemetry.Snapshot)},
		cache:    statecache.NewMemory(ctx, statecache.DefaultTTL),
		broker:   mqttclient.NewTestBroker(),
	}
	srv := NewServer(ServerConfig{}, Deps{
		Registry:  h.registry,
		Telemetry: h.telem,
		Cache:     h.cache,
		Broker:    h.broker,
	})
	require.NoError(t, srv.Initialize())
	h.handler = srv.routes()
	return h
}

func (h *apiHarness) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	rr := httptest.NewRecorder()
	h.handler.ServeHTTP(rr, req)
	return rr
}

func decodeResp[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestSubstationCRUD(t *testing.T) {
	h := newAPIHarness(t)

	rr := h.do(t, http.MethodPost, "/api/substations",
		map[string]any{"identifier": "SUB001", "name": "North Yard", "voltage": "500kV"})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeResp[directory.Substation](t, rr)
	assert.Equal(t, "SUB001", created.Identifier)

	rr = h.do(t, http.MethodGet, "/api/substations/SUB001", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = h.do(t, http.MethodPut, "/api/substations/SUB001", map[string]any{"name": "North Yard B"})
	require.Equal(t, http.StatusOK, rr.Code)
	updated := decodeResp[directory.Substation](t, rr)
	assert.Equal(t, "North Yard B", updated.Name)
	assert.Equal(t, "500kV", updated.Voltage)

	rr = h.do(t, http.MethodGet, "/api/substations", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeResp[[]directory.Substation](t, rr), 1)

	rr = h.do(t, http.MethodDelete, "/api/substations/SUB001", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = h.do(t, http.MethodGet, "/api/substations/SUB001", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRoverCRUD(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/substations", map[string]any{"identifier": "SUB001", "name": "North"})
	h.do(t, http.MethodPost, "/api/substations", map[string]any{"identifier": "SUB002", "name": "South"})

	rr := h.do(t, http.MethodPost, "/api/rovers",
		map[string]any{"identifier": "R-1", "name": "Argo", "model": "N", "substation": "SUB001"})
	require.Equal(t, http.StatusCreated, rr.Code)
	created := decodeResp[directory.Rover](t, rr)
	assert.Equal(t, 100.0, created.BatteryLevel)

	rr = h.do(t, http.MethodPost, "/api/rovers", map[string]any{"identifier": "R-2", "name": "X"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "substation is required")

	rr = h.do(t, http.MethodPost, "/api/rovers",
		map[string]any{"identifier": "R-3", "substation": "SUB-MISSING"})
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = h.do(t, http.MethodPut, "/api/rovers/R-1", map[string]any{"is_active": false})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeResp[directory.Rover](t, rr).IsActive)

	rr = h.do(t, http.MethodPost, "/api/rovers/R-1/assign-substation", map[string]any{"substation": "SUB002"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, h.registry.substations["SUB002"].ID, decodeResp[directory.Rover](t, rr).SubstationID)

	rr = h.do(t, http.MethodDelete, "/api/rovers/R-1", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	rr = h.do(t, http.MethodGet, "/api/rovers/R-1", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func putTelemetry(t *testing.T, h *apiHarness, sub, rover string, rec telemetry.Record) {
	t.Helper()
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, h.cache.Put(context.Background(), telemetry.KindTelemetry, sub, rover, payload))
}

func TestSensorData(t *testing.T) {
	h := newAPIHarness(t)

	t.Run("cache hit", func(t *testing.T) {
		putTelemetry(t, h, "SUB001", "R-1", telemetry.Record{Battery: 87.5, Temperature: 31.2, Speed: 1.4})
		rr := h.do(t, http.MethodGet, "/api/sensor-data?rover=R-1&substation=SUB001", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"battery": 87.5, "temperature": 31.2, "speed": 1.4}`, rr.Body.String())
	})

	t.Run("store fallback", func(t *testing.T) {
		speed := 0.8
		h.telem.snapshots["R-2"] = telemetry.Snapshot{Battery: 64, Temperature: 28, Speed: &speed}
		rr := h.do(t, http.MethodGet, "/api/sensor-data?rover=R-2&substation=SUB001", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"battery": 64, "temperature": 28, "speed": 0.8}`, rr.Body.String())
	})

	t.Run("nothing known yields zeros", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/sensor-data?rover=R-none&substation=SUB001", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"battery": 0, "temperature": 0, "speed": 0}`, rr.Body.String())
	})
}

func TestGPS(t *testing.T) {
	h := newAPIHarness(t)

	t.Run("missing params rejected", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/gps?rover=R-1", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("cache hit", func(t *testing.T) {
		putTelemetry(t, h, "SUB001", "R-1", telemetry.Record{Latitude: -23.5, Longitude: -46.6, Status: "operational"})
		rr := h.do(t, http.MethodGet, "/api/gps?rover=R-1&substation=SUB001", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"latitude": -23.5, "longitude": -46.6, "status": "operational"}`, rr.Body.String())
	})

	t.Run("store fallback with null position", func(t *testing.T) {
		h.telem.snapshots["R-2"] = telemetry.Snapshot{Status: "idle"}
		rr := h.do(t, http.MethodGet, "/api/gps?rover=R-2&substation=SUB001", nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"latitude": null, "longitude": null, "status": "idle"}`, rr.Body.String())
	})

	t.Run("no data at all is 404", func(t *testing.T) {
		rr := h.do(t, http.MethodGet, "/api/gps?rover=R-none&substation=SUB001", nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestActiveRovers(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/api/substations", map[string]any{"identifier": "SUB001", "name": "North"})
	h.do(t, http.MethodPost, "/api/rovers", map[string]any{"identifier": "R-live", "name": "Live", "substation": "SUB001"})
	h.do(t, http.MethodPost, "/api/rovers", map[string]any{"identifier": "R-stored", "name": "Stored", "substation": "SUB001"})
	h.do(t, http.MethodPost, "/api/rovers", map[string]any{"identifier": "R-silent", "name": "Silent", "substation": "SUB001"})
	h.do(t, http.MethodPost, "/api/rovers", map[string]any{"identifier": "R-off", "name": "Off", "substation": "SUB001"})
	h.do(t, http.MethodPut, "/api/rovers/R-off", map[string]any{"is_active": false})

	putTelemetry(t, h, "SUB001", "R-live", telemetry.Record{Battery: 90, Status: "operational"})
	stamp := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	h.telem.snapshots["R-stored"] = telemetry.Snapshot{Battery: 41, Status: "idle", Timestamp: stamp}

	rr := h.do(t, http.MethodGet, "/api/rovers/active?substation=SUB001", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rovers := decodeResp[[]activeRoverResponse](t, rr)

	byID := make(map[string]activeRoverResponse, len(rovers))
	for _, r := range rovers {
		byID[r.ID] = r
	}
	require.Len(t, byID, 2, "silent and inactive rovers are skipped")
	assert.Equal(t, "now", byID["R-live"].LastSeen)
	assert.Equal(t, "2025-03-14T09:00:00Z", byID["R-stored"].LastSeen)

	rr = h.do(t, http.MethodGet, "/api/rovers/active", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestControlDirection(t *testing.T) {
	h := newAPIHarness(t)

	rr := h.do(t, http.MethodPost, "/api/control/direction?rover=R-1&substation=SUB001",
		map[string]any{"direction": "forward"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status": "success", "direction": "forward", "rover": "R-1"}`, rr.Body.String())

	published := h.broker.PublishedTo("substations/SUB001/rovers/R-1/commands")
	require.Len(t, published, 1)

	var cmd moveCommand
	require.NoError(t, json.Unmarshal(published[0].Payload, &cmd))
	assert.Equal(t, "move", cmd.Command)
	assert.Equal(t, "forward", cmd.Direction)
	assert.NotEmpty(t, cmd.Timestamp)
}

func TestControlDirectionDefaults(t *testing.T) {
	h := newAPIHarness(t)

	rr := h.do(t, http.MethodPost, "/api/control/direction?substation=SUB001", map[string]any{})
	require.Equal(t, http.StatusOK, rr.Code)

	published := h.broker.PublishedTo("substations/SUB001/rovers/" + DefaultRover + "/commands")
	require.Len(t, published, 1)
	var cmd moveCommand
	require.NoError(t, json.Unmarshal(published[0].Payload, &cmd))
	assert.Equal(t, "unknown", cmd.Direction)

	rr = h.do(t, http.MethodPost, "/api/control/direction", map[string]any{"direction": "left"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "substation is required")
}

func TestControlMission(t *testing.T) {
	h := newAPIHarness(t)

	rr := h.do(t, http.MethodPost, "/api/control/mission?rover=R-1&substation=SUB001",
		map[string]any{"mission": "thermal-scan"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status": "success", "mission": "thermal-scan", "rover": "R-1"}`, rr.Body.String())

	published := h.broker.PublishedTo("substations/SUB001/rovers/R-1/mission")
	require.Len(t, published, 1)

	var cmd startMissionCommand
	require.NoError(t, json.Unmarshal(published[0].Payload, &cmd))
	assert.Equal(t, "start_mission", cmd.Command)
	assert.Equal(t, "thermal-scan", cmd.Mission)
	assert.Equal(t, "pending", cmd.Status)
}

func TestHealthEndpoint(t *testing.T) {
	h := newAPIHarness(t)
	rr := h.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestInitializeValidation(t *testing.T) {
	srv := NewServer(ServerConfig{}, Deps{})
	err := srv.Initialize()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}
