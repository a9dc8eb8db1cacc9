package health

import (
	"strings"
	"testing"
	"time"

	"github.com/gabrielabritta/argo/component"
)

func componentHealthWithError(lastErr string) component.HealthStatus {
	return component.HealthStatus{
		Healthy:    false,
		LastCheck:  time.Now(),
		ErrorCount: 1,
		LastError:  lastErr,
		Uptime:     time.Minute,
	}
}

func containsString(haystack, needle string) bool {
	return strings.Contains(haystack, needle)
}

func TestStatus_Predicates(t *testing.T) {
	if !NewHealthy("a", "ok").IsHealthy() {
		t.Error("NewHealthy().IsHealthy() = false")
	}
	if !NewDegraded("a", "slow").IsDegraded() {
		t.Error("NewDegraded().IsDegraded() = false")
	}
	if !NewUnhealthy("a", "down").IsUnhealthy() {
		t.Error("NewUnhealthy().IsUnhealthy() = false")
	}
	if NewDegraded("a", "slow").Healthy {
		t.Error("degraded status must not report Healthy = true")
	}
}

func TestStatus_WithMetrics(t *testing.T) {
	metrics := &Metrics{Uptime: time.Hour, MessagesProcessed: 42}
	status := NewHealthy("ingest", "ok").WithMetrics(metrics)

	if status.Metrics == nil || status.Metrics.MessagesProcessed != 42 {
		t.Errorf("WithMetrics() metrics = %+v", status.Metrics)
	}
}

func TestSanitizeErrorMessage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		notWant []string
		want    []string
	}{
		{
			name:    "empty",
			input:   "",
			notWant: nil,
			want:    nil,
		},
		{
			name:    "http url",
			input:   "post to http://internal.example.com/hook failed",
			notWant: []string{"internal.example.com"},
			want:    []string{"[URL]"},
		},
		{
			name:    "mqtt url",
			input:   "dial tcp://broker:1883: refused",
			notWant: []string{"broker:1883"},
			want:    []string{"[URL]"},
		},
		{
			name:    "websocket url",
			input:   "upgrade ws://host/ws/rovers/1 failed",
			notWant: []string{"host/ws"},
			want:    []string{"[URL]"},
		},
		{
			name:    "unix path",
			input:   "open /etc/argo/config.json: permission denied",
			notWant: []string{"/etc/argo/config.json"},
			want:    []string{"[PATH]"},
		},
		{
			name:    "ip and port",
			input:   "connect 10.0.0.7:5432 refused",
			notWant: []string{"10.0.0.7", "5432"},
			want:    []string{"[IP]"},
		},
		{
			name:    "credentials",
			input:   "auth failed password=supersecret",
			notWant: []string{"supersecret"},
			want:    []string{"[REDACTED]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sanitizeErrorMessage(tt.input)
			for _, bad := range tt.notWant {
				if strings.Contains(got, bad) {
					t.Errorf("sanitizeErrorMessage(%q) = %q, leaks %q", tt.input, got, bad)
				}
			}
			for _, marker := range tt.want {
				if !strings.Contains(got, marker) {
					t.Errorf("sanitizeErrorMessage(%q) = %q, missing marker %q", tt.input, got, marker)
				}
			}
		})
	}
}

func TestFromComponentHealth_Healthy(t *testing.T) {
	ch := component.HealthStatus{
		Healthy:   true,
		LastCheck: time.Now(),
		Uptime:    2 * time.Hour,
	}

	status := FromComponentHealth("broadcast", ch)
	if !status.IsHealthy() {
		t.Error("healthy component health should map to healthy status")
	}
	if status.Message != "Component healthy" {
		t.Errorf("Message = %q", status.Message)
	}
	if status.Metrics == nil || status.Metrics.Uptime != 2*time.Hour {
		t.Errorf("Metrics = %+v", status.Metrics)
	}
}
