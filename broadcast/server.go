package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gabrielabritta/argo/component"
	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/metric"
	"github.com/gabrielabritta/argo/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxInboundSize = 1024
)

// ServerConfig holds construction parameters for the WebSocket server.
type ServerConfig struct {
	Port            int
	QueueSize       int
	Logger          *slog.Logger
	Metrics         *metric.Metrics
	MetricsRegistry *metric.MetricsRegistry
}

// Server exposes the hub over WebSocket at /ws/rovers/{id}. A connection
// joins the rover's group on upgrade and leaves when the socket dies.
type Server struct {
	hub      *Hub
	port     int
	queue    int
	logger   *slog.Logger
	metrics  *metric.Metrics
	upgrader websocket.Upgrader

	server      *http.Server
	running     bool
	startTime   time.Time
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	shutdown    chan struct{}
	wg          *sync.WaitGroup

	sent         atomic.Int64
	errs         atomic.Int64
	lastActivity atomic.Value // time.Time
}

var _ component.Discoverable = (*Server)(nil)
var _ component.LifecycleComponent = (*Server)(nil)

// NewServer builds a Server over an existing hub.
func NewServer(hub *Hub, cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	port := cfg.Port
	if port == 0 {
		port = 8001
	}
	return &Server{
		hub:     hub,
		port:    port,
		queue:   cfg.QueueSize,
		logger:  logger.With("component", "BroadcastServer"),
		metrics: cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewers connect from dashboards on other origins.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
	}
}

// Meta returns the component metadata.
func (s *Server) Meta() component.Metadata {
	return component.Metadata{
		Name:        "broadcast-server",
		Type:        "output",
		Description: fmt.Sprintf("WebSocket fan-out server on :%d serving per-rover viewer groups", s.port),
		Version:     "1.0.0",
	}
}

// InputPorts returns the ports this component consumes data on.
func (s *Server) InputPorts() []component.Port {
	return []component.Port{{
		Name:        "hub",
		Direction:   component.DirectionInput,
		Description: "in-process hub publish calls from the ingestion pipeline",
	}}
}

// OutputPorts returns the ports this component produces data on.
func (s *Server) OutputPorts() []component.Port {
	return []component.Port{{
		Name:        "websocket",
		Direction:   component.DirectionOutput,
		Topic:       "/ws/rovers/{id}",
		Description: fmt.Sprintf("WebSocket endpoint at ws://0.0.0.0:%d/ws/rovers/{id}", s.port),
	}}
}

// Health reports whether the server is accepting connections.
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

	sent := s.sent.Load()
	var perSecond, errorRate float64
	if uptime := time.Since(started).Seconds(); uptime > 0 {
		perSecond = float64(sent) / uptime
	}
	if sent > 0 {
		errorRate = float64(s.errs.Load()) / float64(sent)
	}
	last, _ := s.lastActivity.Load().(time.Time)
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Initialize validates configuration.
func (s *Server) Initialize() error {
	if s.hub == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "BroadcastServer", "Initialize", "hub cannot be nil")
	}
	if s.port < 1 || s.port > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "BroadcastServer", "Initialize",
			fmt.Sprintf("invalid port %d", s.port))
	}
	return nil
}

// Start begins serving WebSocket upgrades.
func (s *Server) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, "BroadcastServer", "Start", "context already cancelled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws/rovers/{id}", s.handleViewer)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.shutdown = make(chan struct{})
	s.wg = &sync.WaitGroup{}
	s.running = true
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.runServer()

	s.logger.Info("broadcast server listening", "port", s.port)
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
		s.logger.Error("broadcast server failed", "error", err)
	}
}

// Stop closes the listener and every viewer connection.
func (s *Server) Stop(timeout time.Duration) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.shutdown)
	server := s.server
	wg := s.wg
	s.server = nil
	s.wg = nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("broadcast server shutdown error", "error", err)
		}
	}

	if wg != nil {
		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			s.logger.Warn("viewer goroutines did not exit before timeout")
		}
	}
	return nil
}

// handleViewer upgrades the connection and pumps group messages to it.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	roverID := r.PathValue("id")
	if roverID == "" {
		http.Error(w, "missing rover id", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.errs.Add(1)
		s.logger.Warn("websocket upgrade failed", "rover", roverID, "error", err)
		return
	}

	group := telemetry.GroupName(roverID)
	sub := NewSubscriber(s.queue)
	s.hub.Join(group, sub)
	s.recordConnections()
	s.logger.Info("viewer joined", "group", group, "subscriber", sub.ID())

	s.mu.RLock()
	wg := s.wg
	s.mu.RUnlock()
	if wg == nil {
		// Raced with Stop.
		sub.Close()
		s.hub.Leave(group, sub)
		_ = conn.Close()
		return
	}

	wg.Add(2)
	go s.writePump(wg, conn, sub)
	go s.readPump(wg, conn, sub, group)
}

// writePump moves messages from the subscriber queue to the socket and
// keeps the connection alive with pings.
func (s *Server) writePump(wg *sync.WaitGroup, conn *websocket.Conn, sub *Subscriber) {
	defer wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case data := <-sub.Out():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.errs.Add(1)
				return
			}
			s.sent.Add(1)
			s.lastActivity.Store(time.Now())
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-sub.Done():
			return
		case <-s.shutdownChan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}

// readPump drains inbound frames to detect disconnect; viewers are
// read-only, anything they send is ignored.
func (s *Server) readPump(wg *sync.WaitGroup, conn *websocket.Conn, sub *Subscriber, group string) {
	defer wg.Done()
	defer func() {
		sub.Close()
		s.hub.Leave(group, sub)
		s.recordConnections()
		_ = conn.Close()
		s.logger.Info("viewer left", "group", group, "subscriber", sub.ID())
	}()

	conn.SetReadLimit(maxInboundSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) shutdownChan() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.shutdown
}

func (s *Server) recordConnections() {
	if s.metrics != nil {
		s.metrics.RecordWSConnections(s.hub.SubscriberCount())
	}
}
