package statecache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gabrielabritta/argo/config"
	"github.com/gabrielabritta/argo/telemetry"
)

func startRedisContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable, skipping redis integration test: %v", err)
	}

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return container, fmt.Sprintf("%s:%s", host, port.Port())
}

func TestIntegration_RedisCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := startRedisContainer(ctx, t)
	defer container.Terminate(ctx)

	c, err := NewRedis(ctx, config.RedisConfig{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	require.True(t, c.Healthy(ctx))

	payload := []byte(`{"battery":80,"status":"moving"}`)
	require.NoError(t, c.Put(ctx, telemetry.KindTelemetry, "SUB001", "R-1", payload))

	got, ok, err := c.Get(ctx, telemetry.KindTelemetry, "SUB001", "R-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, payload, got)

	_, ok, err = c.Get(ctx, telemetry.KindTelemetry, "SUB001", "no-such-rover")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIntegration_RedisCache_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := startRedisContainer(ctx, t)
	defer container.Terminate(ctx)

	c, err := NewRedis(ctx, config.RedisConfig{Addr: addr, TTL: time.Second})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ctx, telemetry.KindImage, "SUB001", "R-1", []byte("frame")))
	time.Sleep(1500 * time.Millisecond)

	_, ok, err := c.Get(ctx, telemetry.KindImage, "SUB001", "R-1")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire server-side")
}

func TestIntegration_RedisCache_PurgeRover(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := startRedisContainer(ctx, t)
	defer container.Terminate(ctx)

	c, err := NewRedis(ctx, config.RedisConfig{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Put(ctx, telemetry.KindTelemetry, "SUB001", "R-1", []byte("a")))
	require.NoError(t, c.Put(ctx, telemetry.KindBoxes, "SUB001", "R-1", []byte("b")))
	require.NoError(t, c.Put(ctx, telemetry.KindTelemetry, "SUB001", "R-10", []byte("c")))

	require.NoError(t, c.PurgeRover(ctx, "R-1"))

	_, ok, _ := c.Get(ctx, telemetry.KindTelemetry, "SUB001", "R-1")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, telemetry.KindBoxes, "SUB001", "R-1")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, telemetry.KindTelemetry, "SUB001", "R-10")
	assert.True(t, ok)
}
