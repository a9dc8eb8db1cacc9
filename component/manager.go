package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gabrielabritta/argo/errors"
)

// managedComponent tracks a component and its lifecycle state
type managedComponent struct {
	component  LifecycleComponent
	state      State
	cancel     context.CancelFunc
	startOrder int
	lastError  error
}

// Manager owns component lifecycle: initialization and start in
// registration order, shutdown in reverse order. Each component gets its
// own child context so it can be cancelled individually.
type Manager struct {
	mu         sync.Mutex
	components []*managedComponent
	byName     map[string]*managedComponent
	logger     *slog.Logger
}

// NewManager creates a lifecycle manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		byName: make(map[string]*managedComponent),
		logger: logger.With("component", "manager"),
	}
}

// Register adds a component. Registration order determines start order.
func (m *Manager) Register(comp LifecycleComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := comp.Meta().Name
	if name == "" {
		return errors.WrapInvalid(
			fmt.Errorf("component has empty name"),
			"Manager", "Register", "metadata validation failed")
	}
	if _, exists := m.byName[name]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("component %q already registered", name),
			"Manager", "Register", "duplicate registration")
	}

	mc := &managedComponent{
		component:  comp,
		state:      StateCreated,
		startOrder: len(m.components),
	}
	m.components = append(m.components, mc)
	m.byName[name] = mc
	return nil
}

// StartAll initializes and starts every registered component in
// registration order. The first failure aborts the sequence and stops
// already-started components in reverse order.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, mc := range m.components {
		name := mc.component.Meta().Name

		if err := mc.component.Initialize(); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			m.stopStartedLocked(i, 10*time.Second)
			return errors.Wrap(err, "Manager", "StartAll",
				fmt.Sprintf("initialize component %s", name))
		}
		mc.state = StateInitialized

		childCtx, cancel := context.WithCancel(ctx)
		mc.cancel = cancel

		if err := mc.component.Start(childCtx); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			cancel()
			m.stopStartedLocked(i, 10*time.Second)
			return errors.Wrap(err, "Manager", "StartAll",
				fmt.Sprintf("start component %s", name))
		}
		mc.state = StateStarted
		m.logger.Info("component started", "name", name)
	}

	return nil
}

// StopAll stops all started components in reverse start order. All
// components get a stop attempt; the first error is returned.
func (m *Manager) StopAll(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopStartedLocked(len(m.components), timeout)
}

func (m *Manager) stopStartedLocked(upTo int, timeout time.Duration) error {
	var firstErr error
	for i := upTo - 1; i >= 0; i-- {
		mc := m.components[i]
		if mc.state != StateStarted {
			continue
		}

		name := mc.component.Meta().Name
		if err := mc.component.Stop(timeout); err != nil {
			mc.state = StateFailed
			mc.lastError = err
			m.logger.Error("component stop failed", "name", name, "error", err)
			if firstErr == nil {
				firstErr = errors.Wrap(err, "Manager", "StopAll",
					fmt.Sprintf("stop component %s", name))
			}
		} else {
			mc.state = StateStopped
			m.logger.Info("component stopped", "name", name)
		}
		if mc.cancel != nil {
			mc.cancel()
		}
	}
	return firstErr
}

// States returns the lifecycle state of every registered component by name.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	states := make(map[string]State, len(m.byName))
	for name, mc := range m.byName {
		states[name] = mc.state
	}
	return states
}

// Components returns the registered components in registration order.
func (m *Manager) Components() []Discoverable {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Discoverable, len(m.components))
	for i, mc := range m.components {
		out[i] = mc.component
	}
	return out
}
