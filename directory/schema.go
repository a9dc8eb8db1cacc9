package directory

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabrielabritta/argo/errors"
)

// Schema statements, applied in order. Telemetry tables live here with the
// registry tables because they share the rover foreign keys; ON DELETE
// CASCADE keeps history consistent with registry deletions.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS substations (
		id          BIGSERIAL PRIMARY KEY,
		identifier  TEXT NOT NULL UNIQUE,
		name        TEXT NOT NULL,
		latitude    DOUBLE PRECISION NOT NULL,
		longitude   DOUBLE PRECISION NOT NULL,
		is_active   BOOLEAN NOT NULL DEFAULT TRUE,
		description TEXT NOT NULL DEFAULT '',
		voltage     TEXT NOT NULL DEFAULT '500kV',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS rovers (
		id            BIGSERIAL PRIMARY KEY,
		substation_id BIGINT NOT NULL REFERENCES substations(id) ON DELETE CASCADE,
		identifier    TEXT NOT NULL UNIQUE,
		name          TEXT NOT NULL,
		model         TEXT NOT NULL DEFAULT '',
		is_active     BOOLEAN NOT NULL DEFAULT TRUE,
		battery_level DOUBLE PRECISION NOT NULL DEFAULT 100,
		sensors       JSONB NOT NULL DEFAULT '{}',
		alerts        JSONB NOT NULL DEFAULT '[]',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS telemetry_snapshots (
		id            BIGSERIAL PRIMARY KEY,
		rover_id      BIGINT NOT NULL REFERENCES rovers(id) ON DELETE CASCADE,
		timestamp     TIMESTAMPTZ NOT NULL DEFAULT now(),
		battery_level DOUBLE PRECISION NOT NULL,
		temperature   DOUBLE PRECISION NOT NULL,
		latitude      DOUBLE PRECISION,
		longitude     DOUBLE PRECISION,
		speed         DOUBLE PRECISION,
		status        TEXT NOT NULL DEFAULT 'unknown'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_telemetry_rover_ts
		ON telemetry_snapshots (rover_id, timestamp DESC)`,
	`CREATE TABLE IF NOT EXISTS sensor_readings (
		id          BIGSERIAL PRIMARY KEY,
		rover_id    BIGINT NOT NULL REFERENCES rovers(id) ON DELETE CASCADE,
		timestamp   TIMESTAMPTZ NOT NULL DEFAULT now(),
		sensor_type TEXT NOT NULL,
		value       DOUBLE PRECISION NOT NULL,
		unit        TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_rover_ts
		ON sensor_readings (rover_id, timestamp DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_readings_type_ts
		ON sensor_readings (sensor_type, timestamp DESC)`,
}

// EnsureSchema creates the tables and indexes if they do not exist.
// Idempotent; called once at startup.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return errors.WrapFatal(err, "Directory", "EnsureSchema", "schema statement failed")
		}
	}
	return nil
}
