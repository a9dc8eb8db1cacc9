package component

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeComponent records lifecycle calls into a shared log.
type fakeComponent struct {
	name    string
	log     *[]string
	initErr error
	start   error
	stopErr error
}

func (f *fakeComponent) Meta() Metadata {
	return Metadata{Name: f.name, Type: "processor", Version: "test"}
}
func (f *fakeComponent) InputPorts() []Port  { return nil }
func (f *fakeComponent) OutputPorts() []Port { return nil }
func (f *fakeComponent) Health() HealthStatus {
	return HealthStatus{Healthy: true, LastCheck: time.Now()}
}
func (f *fakeComponent) DataFlow() FlowMetrics { return FlowMetrics{} }

func (f *fakeComponent) Initialize() error {
	*f.log = append(*f.log, "init:"+f.name)
	return f.initErr
}

func (f *fakeComponent) Start(_ context.Context) error {
	*f.log = append(*f.log, "start:"+f.name)
	return f.start
}

func (f *fakeComponent) Stop(_ time.Duration) error {
	*f.log = append(*f.log, "stop:"+f.name)
	return f.stopErr
}

func TestManager_StartStopOrder(t *testing.T) {
	var log []string
	m := NewManager(nil)

	for _, name := range []string{"store", "ingest", "api"} {
		if err := m.Register(&fakeComponent{name: name, log: &log}); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if err := m.StopAll(time.Second); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}

	want := []string{
		"init:store", "start:store",
		"init:ingest", "start:ingest",
		"init:api", "start:api",
		"stop:api", "stop:ingest", "stop:store",
	}
	if len(log) != len(want) {
		t.Fatalf("lifecycle log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("lifecycle log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestManager_StartFailureRollsBack(t *testing.T) {
	var log []string
	m := NewManager(nil)

	if err := m.Register(&fakeComponent{name: "store", log: &log}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(&fakeComponent{name: "ingest", log: &log, start: errors.New("broker down")}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(&fakeComponent{name: "api", log: &log}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := m.StartAll(context.Background())
	if err == nil {
		t.Fatal("StartAll() error = nil, want start failure")
	}

	// api must never start; store must have been stopped again.
	for _, entry := range log {
		if entry == "start:api" || entry == "init:api" {
			t.Errorf("component after the failure was touched: %q", entry)
		}
	}
	sawStoreStop := false
	for _, entry := range log {
		if entry == "stop:store" {
			sawStoreStop = true
		}
	}
	if !sawStoreStop {
		t.Error("started component was not stopped after failure")
	}

	states := m.States()
	if states["ingest"] != StateFailed {
		t.Errorf("failed component state = %v, want StateFailed", states["ingest"])
	}
}

func TestManager_DuplicateRegistration(t *testing.T) {
	var log []string
	m := NewManager(nil)

	if err := m.Register(&fakeComponent{name: "ingest", log: &log}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := m.Register(&fakeComponent{name: "ingest", log: &log}); err == nil {
		t.Error("Register() with duplicate name error = nil, want error")
	}
}

func TestManager_EmptyName(t *testing.T) {
	var log []string
	m := NewManager(nil)

	if err := m.Register(&fakeComponent{name: "", log: &log}); err == nil {
		t.Error("Register() with empty name error = nil, want error")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateInitialized, "initialized"},
		{StateStarted, "started"},
		{StateStopped, "stopped"},
		{StateFailed, "failed"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestAsLifecycleComponent(t *testing.T) {
	var log []string
	comp := &fakeComponent{name: "x", log: &log}

	lc, ok := AsLifecycleComponent(comp)
	if !ok || lc == nil {
		t.Error("AsLifecycleComponent() failed for a lifecycle-capable component")
	}
}
