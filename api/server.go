package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabrielabritta/argo/component"
	"github.com/gabrielabritta/argo/directory"
	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/health"
	"github.com/gabrielabritta/argo/metric"
	"github.com/gabrielabritta/argo/mqttclient"
	"github.com/gabrielabritta/argo/statecache"
	"github.com/gabrielabritta/argo/telemetry"
)

// DefaultRover is the rover the read and control endpoints assume when the
// caller names none.
const DefaultRover = "Rover-Argo-N-0"

// Registry is the slice of the rover/substation directory the API consumes.
// *directory.Directory satisfies it.
type Registry interface {
	CreateSubstation(ctx context.Context, p directory.SubstationParams) (directory.Substation, error)
	GetSubstationByIdentifier(ctx context.Context, identifier string) (directory.Substation, error)
	ListSubstations(ctx context.Context) ([]directory.Substation, error)
	UpdateSubstation(ctx context.Context, s directory.Substation) (directory.Substation, error)
	DeleteSubstation(ctx context.Context, identifier string) error

	CreateRover(ctx context.Context, p directory.RoverParams) (directory.Rover, error)
	GetRoverByIdentifier(ctx context.Context, identifier string) (directory.Rover, error)
	ListRovers(ctx context.Context, substationIdentifier string) ([]directory.Rover, error)
	UpdateRover(ctx context.Context, r directory.Rover) (directory.Rover, error)
	AssignSubstation(ctx context.Context, roverIdentifier, substationIdentifier string) (directory.Rover, error)
	DeleteRover(ctx context.Context, identifier string) error
}

// TelemetryReader is the durable-store slice behind the cache fallback.
type TelemetryReader interface {
	LatestTelemetry(ctx context.Context, roverID string) (telemetry.Snapshot, error)
}

// Deps carries the server's collaborators. Registry, Telemetry, and Cache
// are required; Broker is required for the control endpoints.
type Deps struct {
	Registry  Registry
	Telemetry TelemetryReader
	Cache     statecache.Cache
	Broker    mqttclient.Broker
	Health    *health.Monitor

	Logger         *slog.Logger
	Metrics        *metric.Metrics
	MetricsHandler http.Handler
}

// ServerConfig holds construction parameters for the API server.
type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CommandQoS   byte
}

// Server is the HTTP API component.
type Server struct {
	deps   Deps
	cfg    ServerConfig
	logger *slog.Logger

	server      *http.Server
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          *sync.WaitGroup

	served atomic.Int64
	errs   atomic.Int64
	lastAt atomic.Value // time.Time
}

var _ component.Discoverable = (*Server)(nil)
var _ component.LifecycleComponent = (*Server)(nil)

// NewServer builds the API server.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.With("component", "APIServer"),
	}
}

// Meta returns the component metadata.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "api-server",
		Type:        "output",
		Description: fmt.Sprintf("HTTP API on :%d for registry CRUD, telemetry reads, and rover control", s.cfg.Port),
		Version:     "1.0.0",
	}
}

// InputPorts returns the ports this component consumes data on.
func (s *Server) InputPorts() []component.Port {
	return []component.Port{{
		Name:        "http",
		Direction:   component.DirectionInput,
		Topic:       "/api",
		Required:    true,
		Description: fmt.Sprintf("HTTP requests on :%d", s.cfg.Port),
	}}
}

// OutputPorts returns the ports this component produces data on.
func (s *Server) OutputPorts() []component.Port {
	return []component.Port{{
		Name:        "mqtt_commands",
		Direction:   component.DirectionOutput,
		Topic:       "substations/{sub}/rovers/{rover}/commands",
		Description: "rover command and mission publishes",
	}}
}

// Health reports whether the server is accepting requests.
func (s *Server) Health() component.HealthStatus {
	s.mu.RLock()
	running := s.running
	started := s.startTime
	s.mu.RUnlock()

	var uptime time.Duration
	if running {
		uptime = time.Since(started)
	}
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(s.errs.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns throughput metrics for discovery.
func (s *Server) DataFlow() component.FlowMetrics {
	s.mu.RLock()
	started := s.startTime
	s.mu.RUnlock()

	served := s.served.Load()
	var perSecond, errorRate float64
	if uptime := time.Since(started).Seconds(); uptime > 0 {
		perSecond = float64(served) / uptime
	}
	if served > 0 {
		errorRate = float64(s.errs.Load()) / float64(served)
	}
	last, _ := s.lastAt.Load().(time.Time)
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Initialize validates configuration and dependencies.
func (s *Server) Initialize() error {
	if s.deps.Registry == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "APIServer", "Initialize", "registry cannot be nil")
	}
	if s.deps.Telemetry == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "APIServer", "Initialize", "telemetry reader cannot be nil")
	}
	if s.deps.Cache == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "APIServer", "Initialize", "cache cannot be nil")
	}
	if s.cfg.Port < 1 || s.cfg.Port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "APIServer", "Initialize",
			fmt.Sprintf("invalid port %d", s.cfg.Port))
	}
	return nil
}

// routes builds the request mux. Registry CRUD, cache-backed reads, rover
// control, and operational endpoints all hang off the same mux.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/substations", s.handleListSubstations)
	mux.HandleFunc("POST /api/substations", s.handleCreateSubstation)
	mux.HandleFunc("GET /api/substations/{id}", s.handleGetSubstation)
	mux.HandleFunc("PUT /api/substations/{id}", s.handleUpdateSubstation)
	mux.HandleFunc("DELETE /api/substations/{id}", s.handleDeleteSubstation)

	mux.HandleFunc("GET /api/rovers", s.handleListRovers)
	mux.HandleFunc("POST /api/rovers", s.handleCreateRover)
	mux.HandleFunc("GET /api/rovers/active", s.handleActiveRovers)
	mux.HandleFunc("GET /api/rovers/{id}", s.handleGetRover)
	mux.HandleFunc("PUT /api/rovers/{id}", s.handleUpdateRover)
	mux.HandleFunc("DELETE /api/rovers/{id}", s.handleDeleteRover)
	mux.HandleFunc("POST /api/rovers/{id}/assign-substation", s.handleAssignSubstation)

	mux.HandleFunc("GET /api/sensor-data", s.handleSensorData)
	mux.HandleFunc("GET /api/gps", s.handleGPS)

	mux.HandleFunc("POST /api/control/direction", s.handleDirection)
	mux.HandleFunc("POST /api/control/mission", s.handleMission)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	if s.deps.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.deps.MetricsHandler)
	}
	return s.counting(mux)
}

// counting wraps the mux with request accounting.
func (s *Server) counting(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.served.Add(1)
		s.lastAt.Store(time.Now())
		next.ServeHTTP(w, r)
	})
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "APIServer", "Start", "context already cancelled")
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.routes(),
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.running = true
	s.startTime = time.Now()
	s.wg = &sync.WaitGroup{}

	s.wg.Add(1)
	go s.runServer()

	s.logger.Info("api server listening", "port", s.cfg.Port)
	return nil
}

func (s *Server) runServer() {
	defer s.wg.Done()

	s.mu.RLock()
	server := s.server
	s.mu.RUnlock()
	if server == nil {
		return
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.errs.Add(1)
		s.logger.Error("api server failed", "error", err)
	}
}

// Stop drains in-flight requests and closes the listener.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	server := s.server
	wg := s.wg
	s.server = nil
	s.wg = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown error", "error", err)
		}
	}
	if wg != nil {
		wg.Wait()
	}
	return nil
}

// writeJSON serializes v with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("response encode failed", "error", err)
	}
}

// writeError maps a domain error onto an HTTP status and error body.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.errs.Add(1)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrNotFound) || errors.Is(err, errors.ErrRoverNotFound):
		status = http.StatusNotFound
	case errors.IsInvalid(err):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeBody reads a JSON request body into dst.
func decodeBody(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.WrapInvalid(errors.ErrDecodeFailed, "APIServer", "decodeBody", "invalid request body")
	}
	return nil
}
