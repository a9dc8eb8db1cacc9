package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/statecache"
	"github.com/gabrielabritta/argo/telemetry"
)

func startPostgres(ctx context.Context, t *testing.T) *pgxpool.Pool {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "argo",
			"POSTGRES_PASSWORD": "argo",
			"POSTGRES_DB":       "argo",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("docker unavailable, skipping postgres integration test: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	url := fmt.Sprintf("postgres://argo:argo@%s:%s/argo", host, port.Port())
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, EnsureSchema(ctx, pool))
	// Idempotent on a populated database.
	require.NoError(t, EnsureSchema(ctx, pool))
	return pool
}

func TestIntegration_Directory(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pool := startPostgres(ctx, t)

	cache := statecache.NewMemory(ctx, time.Minute)
	t.Cleanup(func() { _ = cache.Close() })
	dir := New(pool, WithCache(cache))

	t.Run("substation defaults", func(t *testing.T) {
		s, err := dir.CreateSubstation(ctx, SubstationParams{Identifier: "SUB001", Name: "North Yard"})
		require.NoError(t, err)
		assert.Equal(t, DefaultLatitude, s.Latitude)
		assert.Equal(t, DefaultLongitude, s.Longitude)
		assert.Equal(t, DefaultVoltage, s.Voltage)
		assert.True(t, s.IsActive)
		assert.False(t, s.CreatedAt.IsZero())
	})

	t.Run("substation explicit coordinates", func(t *testing.T) {
		lat, lng := -3.1, -41.7
		s, err := dir.CreateSubstation(ctx, SubstationParams{
			Identifier: "SUB002", Name: "Coast", Latitude: &lat, Longitude: &lng, Voltage: "230kV",
		})
		require.NoError(t, err)
		assert.Equal(t, [2]float64{-3.1, -41.7}, s.Coordinates())
		assert.Equal(t, "230kV", s.Voltage)
	})

	t.Run("substation missing identifier rejected", func(t *testing.T) {
		_, err := dir.CreateSubstation(ctx, SubstationParams{Name: "anonymous"})
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	var sub Substation
	t.Run("lookup by identifier", func(t *testing.T) {
		var err error
		sub, err = dir.GetSubstationByIdentifier(ctx, "SUB001")
		require.NoError(t, err)

		_, err = dir.GetSubstationByIdentifier(ctx, "SUB999")
		require.ErrorIs(t, err, errors.ErrNotFound)
	})

	t.Run("rover defaults", func(t *testing.T) {
		r, err := dir.CreateRover(ctx, RoverParams{
			SubstationID: sub.ID, Identifier: "Rover-Argo-N-0", Name: "Argo N0", Model: "argo-n",
		})
		require.NoError(t, err)
		assert.Equal(t, float64(DefaultBatteryLevel), r.BatteryLevel)
		assert.True(t, r.IsActive)
		assert.JSONEq(t, `{}`, string(r.Sensors))
		assert.JSONEq(t, `[]`, string(r.Alerts))
	})

	t.Run("rover lookup and list", func(t *testing.T) {
		r, err := dir.GetRoverByIdentifier(ctx, "Rover-Argo-N-0")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, r.SubstationID)

		_, err = dir.GetRoverByIdentifier(ctx, "ghost")
		require.ErrorIs(t, err, errors.ErrRoverNotFound)

		scoped, err := dir.ListRovers(ctx, "SUB001")
		require.NoError(t, err)
		require.Len(t, scoped, 1)

		empty, err := dir.ListRovers(ctx, "SUB002")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("assign substation", func(t *testing.T) {
		r, err := dir.AssignSubstation(ctx, "Rover-Argo-N-0", "SUB002")
		require.NoError(t, err)

		coast, err := dir.GetSubstationByIdentifier(ctx, "SUB002")
		require.NoError(t, err)
		assert.Equal(t, coast.ID, r.SubstationID)

		_, err = dir.AssignSubstation(ctx, "Rover-Argo-N-0", "SUB001")
		require.NoError(t, err)
	})

	t.Run("refresh state from telemetry", func(t *testing.T) {
		sensors := json.RawMessage(`{"lidar":"ok"}`)
		alerts := json.RawMessage(`["low_battery"]`)
		require.NoError(t, dir.RefreshRoverState(ctx, "Rover-Argo-N-0", 42.5, sensors, alerts))

		r, err := dir.GetRoverByIdentifier(ctx, "Rover-Argo-N-0")
		require.NoError(t, err)
		assert.Equal(t, 42.5, r.BatteryLevel)
		assert.JSONEq(t, `{"lidar":"ok"}`, string(r.Sensors))
		assert.JSONEq(t, `["low_battery"]`, string(r.Alerts))

		// Unknown rover is a no-op, not an error.
		require.NoError(t, dir.RefreshRoverState(ctx, "ghost", 1, nil, nil))
	})

	t.Run("rover delete purges cache", func(t *testing.T) {
		require.NoError(t, cache.Put(ctx, telemetry.KindTelemetry, "SUB001", "Rover-Argo-N-0", []byte("x")))

		require.NoError(t, dir.DeleteRover(ctx, "Rover-Argo-N-0"))

		_, ok, _ := cache.Get(ctx, telemetry.KindTelemetry, "SUB001", "Rover-Argo-N-0")
		assert.False(t, ok, "cache must not reference a deleted rover")

		err := dir.DeleteRover(ctx, "Rover-Argo-N-0")
		require.ErrorIs(t, err, errors.ErrRoverNotFound)
	})

	t.Run("substation delete cascades and purges", func(t *testing.T) {
		r, err := dir.CreateRover(ctx, RoverParams{
			SubstationID: sub.ID, Identifier: "Rover-Argo-N-1", Name: "Argo N1", Model: "argo-n",
		})
		require.NoError(t, err)
		require.NoError(t, cache.Put(ctx, telemetry.KindImage, "SUB001", r.Identifier, []byte("frame")))

		require.NoError(t, dir.DeleteSubstation(ctx, "SUB001"))

		_, err = dir.GetRoverByIdentifier(ctx, "Rover-Argo-N-1")
		require.ErrorIs(t, err, errors.ErrRoverNotFound)
		_, ok, _ := cache.Get(ctx, telemetry.KindImage, "SUB001", r.Identifier)
		assert.False(t, ok)

		err = dir.DeleteSubstation(ctx, "SUB001")
		require.ErrorIs(t, err, errors.ErrNotFound)
	})
}
