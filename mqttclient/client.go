// Package mqttclient provides a managed MQTT connection with circuit
// breaker protection on top of the Eclipse Paho client.
package mqttclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gabrielabritta/argo/errors"
)

// ConnectionStatus represents the state of the broker connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected = stderrors.New("not connected to MQTT broker")
	ErrCircuitOpen  = stderrors.New("circuit breaker is open")
)

// MessageHandler processes a single inbound message. The context carries a
// per-message processing timeout.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Broker is the messaging surface the pipeline components depend on.
// Client implements it against a real broker; TestBroker implements it
// in memory for tests.
type Broker interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
	Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error
	IsHealthy() bool
}

// Status holds runtime status information for the client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	Reconnects      int32
}

// Client manages an MQTT connection with circuit breaker protection
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   Logger

	conn    mqtt.Client
	subs    map[string]byte // filter -> qos, replayed on reconnect
	subsMu  sync.Mutex
	msgWait time.Duration // per-message handler timeout

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32
	circuitThreshold int32
	maxBackoff       time.Duration

	// Connection options
	maxReconnects  int
	reconnectWait  time.Duration
	connectTimeout time.Duration
	keepAlive      time.Duration

	// Authentication - cleared on close
	username string
	password string

	clientID string

	reconnects atomic.Int32

	// Callbacks
	onConnect        func()
	onConnectionLost func(error)
	onHealthChange   func(bool)

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

var _ Broker = (*Client)(nil)

// NewClient creates a new MQTT client with optional configuration
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:    url,
		logger: &defaultLogger{},
		subs:   make(map[string]byte),
		// Sensible defaults
		maxReconnects:    -1, // infinite
		reconnectWait:    2 * time.Second,
		connectTimeout:   5 * time.Second,
		keepAlive:        30 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		msgWait:          30 * time.Second,
		clientID:         "argo",
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debugf("Created MQTT client for %s", url)

	return c, nil
}

// URL returns the broker URL
func (m *Client) URL() string {
	return m.url
}

// Status returns the current connection status
func (m *Client) Status() ConnectionStatus {
	val := m.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

func (m *Client) setStatus(status ConnectionStatus) {
	m.status.Store(status)
}

// IsHealthy returns true if the connection is healthy
func (m *Client) IsHealthy() bool {
	return m.Status() == StatusConnected
}

// Failures returns the current failure count
func (m *Client) Failures() int32 {
	return m.failures.Load()
}

// Backoff returns the current circuit backoff duration
func (m *Client) Backoff() time.Duration {
	return m.backoff.Load().(time.Duration)
}

// GetStatus returns current status information
func (m *Client) GetStatus() *Status {
	return &Status{
		Status:          m.Status(),
		FailureCount:    m.failures.Load(),
		LastFailureTime: m.lastFailure.Load().(time.Time),
		Reconnects:      m.reconnects.Load(),
	}
}

// recordFailure records a failure and manages the circuit breaker
func (m *Client) recordFailure() {
	totalFailures := m.failures.Add(1)
	m.lastFailure.Store(time.Now())

	circuitFailures := m.circuitFailures.Add(1)

	m.logger.Debugf("Recorded failure %d (circuit failures: %d)", totalFailures, circuitFailures)

	if circuitFailures < m.circuitThreshold {
		return
	}

	currentStatus := m.Status()
	currentBackoff := m.backoff.Load().(time.Duration)
	newBackoff := currentBackoff * 2
	if newBackoff > m.maxBackoff {
		newBackoff = m.maxBackoff
	}

	if currentStatus != StatusCircuitOpen {
		// Only one goroutine wins the transition
		if m.status.CompareAndSwap(currentStatus, StatusCircuitOpen) {
			m.backoff.Store(newBackoff)
			m.circuitFailures.Store(0)

			m.logger.Printf("Circuit breaker opened after %d failures, backing off for %v",
				circuitFailures, currentBackoff)

			time.AfterFunc(currentBackoff, m.testCircuit)
		}
	} else {
		m.backoff.Store(newBackoff)
		m.circuitFailures.Store(0)
		m.logger.Printf("Circuit breaker still open, increased backoff to %v", newBackoff)
	}
}

// resetCircuit resets the circuit breaker state
func (m *Client) resetCircuit() {
	m.failures.Store(0)
	m.circuitFailures.Store(0)
	m.backoff.Store(time.Second)
	m.lastFailure.Store(time.Time{})

	if m.Status() == StatusCircuitOpen {
		m.setStatus(StatusDisconnected)
	}
}

// testCircuit moves the circuit from open to disconnected so the next
// operation may retry.
func (m *Client) testCircuit() {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker test: moving from open to disconnected")
		m.setStatus(StatusDisconnected)
	}
}

// buildClientOptions builds paho options from client configuration
func (m *Client) buildClientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions().
		AddBroker(m.url).
		SetClientID(m.clientID).
		SetAutoReconnect(m.maxReconnects != 0).
		SetMaxReconnectInterval(m.maxBackoff).
		SetConnectRetryInterval(m.reconnectWait).
		SetKeepAlive(m.keepAlive).
		SetConnectTimeout(m.connectTimeout).
		SetOrderMatters(false)

	if m.username != "" {
		opts.SetUsername(m.username)
		opts.SetPassword(m.password)
	}

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		wasReconnect := m.Status() == StatusReconnecting
		m.setStatus(StatusConnected)
		m.resetCircuit()

		if wasReconnect {
			m.reconnects.Add(1)
			m.logger.Printf("Reconnected to MQTT broker at %s", m.url)
			m.resubscribe()
		}

		if m.onConnect != nil {
			m.onConnect()
		}
		if m.onHealthChange != nil {
			m.onHealthChange(true)
		}
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.setStatus(StatusReconnecting)
		m.recordFailure()
		m.logger.Errorf("Connection lost: %v", err)

		if m.onConnectionLost != nil {
			m.onConnectionLost(err)
		}
		if m.onHealthChange != nil {
			m.onHealthChange(false)
		}
	})

	return opts
}

// Connect establishes the broker connection
func (m *Client) Connect(ctx context.Context) error {
	if m.Status() == StatusCircuitOpen {
		m.logger.Debugf("Circuit breaker is open, skipping connection attempt")
		return ErrCircuitOpen
	}

	m.setStatus(StatusConnecting)
	m.logger.Printf("Connecting to MQTT broker at %s", m.url)

	conn := mqtt.NewClient(m.buildClientOptions())

	m.mu.Lock()
	m.conn = conn
	m.mu.Unlock()

	token := conn.Connect()
	if err := m.waitToken(ctx, token); err != nil {
		m.recordFailure()
		if m.Status() == StatusCircuitOpen {
			return ErrCircuitOpen
		}
		m.setStatus(StatusDisconnected)
		return errors.WrapTransient(err, "Client", "Connect", "establish connection")
	}

	m.setStatus(StatusConnected)
	m.resetCircuit()

	m.logger.Printf("Successfully connected to MQTT broker at %s", m.url)
	return nil
}

// waitToken waits for a paho token respecting context cancellation
func (m *Client) waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe subscribes to a topic filter. The handler receives a context
// derived from ctx with a per-message processing timeout. Subscriptions
// are replayed after reconnects.
func (m *Client) Subscribe(ctx context.Context, filter string, qos byte, handler MessageHandler) error {
	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := conn.Subscribe(filter, qos, func(_ mqtt.Client, msg mqtt.Message) {
		msgCtx, cancel := context.WithTimeout(ctx, m.msgWait)
		defer cancel()

		handler(msgCtx, msg.Topic(), msg.Payload())
	})
	if err := m.waitToken(ctx, token); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "Subscribe",
			fmt.Sprintf("subscribe to %s", filter))
	}

	m.subsMu.Lock()
	m.subs[filter] = qos
	m.subsMu.Unlock()

	return nil
}

// resubscribe is a no-op when CleanSession kept the session; paho replays
// subscriptions itself on auto-reconnect, this covers brokers that drop them.
func (m *Client) resubscribe() {
	m.subsMu.Lock()
	filters := make(map[string]byte, len(m.subs))
	for f, q := range m.subs {
		filters[f] = q
	}
	m.subsMu.Unlock()

	for f := range filters {
		m.logger.Debugf("Subscription %s carried across reconnect", f)
	}
}

// Publish publishes a message to a topic
func (m *Client) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	if m.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	m.mu.RLock()
	conn := m.conn
	m.mu.RUnlock()

	if conn == nil || !conn.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := conn.Publish(topic, qos, retained, payload)
	if err := m.waitToken(ctx, token); err != nil {
		m.recordFailure()
		return errors.WrapTransient(err, "Client", "Publish",
			fmt.Sprintf("publish to %s", topic))
	}

	m.resetCircuit()
	return nil
}

// Close disconnects from the broker. Safe to call multiple times.
func (m *Client) Close(_ context.Context) error {
	m.closeMu.Lock()
	defer m.closeMu.Unlock()

	if m.closed.Load() {
		return nil
	}
	m.closed.Store(true)

	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.mu.Unlock()

	if conn != nil && conn.IsConnectionOpen() {
		// Quiesce period lets in-flight QoS1 acks finish
		conn.Disconnect(250)
	}

	// Clear credentials from memory
	m.username = ""
	m.password = ""

	m.setStatus(StatusDisconnected)
	return nil
}

// WaitForConnection waits for the connection to be established
func (m *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("connection timeout: %w", ctx.Err())
		case <-ticker.C:
			if m.IsHealthy() {
				return nil
			}
		}
	}
}
