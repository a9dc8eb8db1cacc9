package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/telemetry"
)

// Recorder is the durable write/read contract the ingestion pipeline and
// the HTTP query path depend on.
type Recorder interface {
	RecordTelemetry(ctx context.Context, roverID string, rec telemetry.Record) (telemetry.Snapshot, error)
	LatestTelemetry(ctx context.Context, roverID string) (telemetry.Snapshot, error)
}

// sensorUnits maps each fixed sensor field to its reading unit.
var sensorUnits = map[string]string{
	telemetry.FieldBattery:     telemetry.UnitPercent,
	telemetry.FieldTemperature: telemetry.UnitCelsius,
	telemetry.FieldSpeed:       telemetry.UnitMPS,
}

// fixedSensorFields in fan-out order.
var fixedSensorFields = []string{
	telemetry.FieldBattery,
	telemetry.FieldTemperature,
	telemetry.FieldSpeed,
}

// Store is the pgx-backed Recorder.
type Store struct {
	pool         *pgxpool.Pool
	writeTimeout time.Duration
	logger       *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithWriteTimeout bounds each transaction. A write that cannot finish in
// time is dropped to keep the pipeline live.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger.With("component", "Store")
		}
	}
}

// New builds a Store over an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:         pool,
		writeTimeout: 5 * time.Second,
		logger:       slog.Default().With("component", "Store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordTelemetry persists one decoded telemetry record as a single atomic
// transaction:
//
//  1. Lock the rover row by identifier. The row lock serializes concurrent
//     writes for the same rover so derived readings stay consistent with
//     their parent snapshot; unrelated rovers proceed in parallel.
//  2. Insert the snapshot with a server-assigned timestamp.
//  3. Queue one reading per fixed sensor field the rover sent; a field
//     that failed coercion is logged and skipped, not fatal.
//  4. Bulk-insert the readings and commit.
//
// Any database error aborts the whole group. The caller must not fan the
// update out to viewers when an error is returned.
func (s *Store) RecordTelemetry(ctx context.Context, roverID string, rec telemetry.Record) (telemetry.Snapshot, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()

	tx, err := s.pool.Begin(opCtx)
	if err != nil {
		return telemetry.Snapshot{}, errors.WrapTransient(errors.ErrStoreUnavailable,
			"Store", "RecordTelemetry", "begin failed: "+err.Error())
	}
	defer tx.Rollback(opCtx)

	var roverPK int64
	err = tx.QueryRow(opCtx,
		`SELECT id FROM rovers WHERE identifier = $1 FOR UPDATE`, roverID).Scan(&roverPK)
	if err == pgx.ErrNoRows {
		return telemetry.Snapshot{}, errors.WrapInvalid(errors.ErrRoverNotFound,
			"Store", "RecordTelemetry", "rover "+roverID+" not registered")
	}
	if err != nil {
		return telemetry.Snapshot{}, errors.WrapTransient(errors.ErrStoreUnavailable,
			"Store", "RecordTelemetry", "rover lock failed: "+err.Error())
	}

	snap := telemetry.Snapshot{
		RoverID:     roverPK,
		Battery:     rec.Battery,
		Temperature: rec.Temperature,
		Status:      rec.Status,
	}
	var lat, lng, speed *float64
	if rec.HasLocation {
		lat, lng = &rec.Latitude, &rec.Longitude
		snap.Latitude, snap.Longitude = lat, lng
	}
	if st, ok := rec.Fields[telemetry.FieldSpeed]; ok && st.Present {
		v := rec.Speed
		speed = &v
		snap.Speed = speed
	}
	if snap.Status == "" {
		snap.Status = "unknown"
	}

	// clock_timestamp() advances within the transaction, so snapshots for
	// one rover get strictly increasing timestamps under the row lock.
	err = tx.QueryRow(opCtx, `
		INSERT INTO telemetry_snapshots
			(rover_id, timestamp, battery_level, temperature, latitude, longitude, speed, status)
		VALUES ($1, clock_timestamp(), $2, $3, $4, $5, $6, $7)
		RETURNING id, timestamp`,
		roverPK, snap.Battery, snap.Temperature, lat, lng, speed, snap.Status).
		Scan(&snap.ID, &snap.Timestamp)
	if err != nil {
		return telemetry.Snapshot{}, errors.WrapTransient(errors.ErrStoreUnavailable,
			"Store", "RecordTelemetry", "snapshot insert failed: "+err.Error())
	}

	readings := s.queueReadings(roverID, roverPK, snap.Timestamp, rec)
	if len(readings) > 0 {
		rows := make([][]any, 0, len(readings))
		for _, r := range readings {
			rows = append(rows, []any{r.RoverID, r.Timestamp, r.SensorType, r.Value, r.Unit})
		}
		_, err = tx.CopyFrom(opCtx,
			pgx.Identifier{"sensor_readings"},
			[]string{"rover_id", "timestamp", "sensor_type", "value", "unit"},
			pgx.CopyFromRows(rows))
		if err != nil {
			return telemetry.Snapshot{}, errors.WrapTransient(errors.ErrStoreUnavailable,
				"Store", "RecordTelemetry", "readings insert failed: "+err.Error())
		}
	}

	if err := tx.Commit(opCtx); err != nil {
		return telemetry.Snapshot{}, errors.WrapTransient(errors.ErrStoreUnavailable,
			"Store", "RecordTelemetry", "commit failed: "+err.Error())
	}
	return snap, nil
}

// queueReadings builds the derived rows for the fixed sensor fields the
// rover actually sent. Uncoercible fields are skipped with a warning;
// partial success keeps the snapshot.
func (s *Store) queueReadings(roverID string, roverPK int64, ts time.Time, rec telemetry.Record) []telemetry.SensorReading {
	var out []telemetry.SensorReading
	for _, field := range fixedSensorFields {
		st, ok := rec.Fields[field]
		if !ok || !st.Present {
			continue
		}
		if !st.Valid {
			s.logger.Warn("skipping unreadable sensor field",
				"rover", roverID, "sensor", field)
			continue
		}
		out = append(out, telemetry.SensorReading{
			RoverID:    roverPK,
			Timestamp:  ts,
			SensorType: field,
			Value:      rec.FieldValue(field),
			Unit:       sensorUnits[field],
		})
	}
	return out
}

// LatestTelemetry returns the most recent snapshot for a rover identifier.
// Returns ErrNoTelemetry when the rover exists but has never reported, and
// ErrRoverNotFound when the identifier is unknown.
func (s *Store) LatestTelemetry(ctx context.Context, roverID string) (telemetry.Snapshot, error) {
	var snap telemetry.Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT t.id, t.rover_id, t.timestamp, t.battery_level, t.temperature,
		       t.latitude, t.longitude, t.speed, t.status
		FROM telemetry_snapshots t
		JOIN rovers r ON r.id = t.rover_id
		WHERE r.identifier = $1
		ORDER BY t.timestamp DESC
		LIMIT 1`, roverID).
		Scan(&snap.ID, &snap.RoverID, &snap.Timestamp, &snap.Battery, &snap.Temperature,
			&snap.Latitude, &snap.Longitude, &snap.Speed, &snap.Status)
	if err == pgx.ErrNoRows {
		var exists bool
		if lookErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM rovers WHERE identifier = $1)`, roverID).
			Scan(&exists); lookErr != nil {
			return telemetry.Snapshot{}, errors.WrapTransient(errors.ErrStoreUnavailable,
				"Store", "LatestTelemetry", "rover existence check failed: "+lookErr.Error())
		}
		if !exists {
			return telemetry.Snapshot{}, errors.WrapInvalid(errors.ErrRoverNotFound,
				"Store", "LatestTelemetry", "rover "+roverID+" not registered")
		}
		return telemetry.Snapshot{}, errors.WrapInvalid(errors.ErrNoTelemetry,
			"Store", "LatestTelemetry", "rover "+roverID+" has no recorded telemetry")
	}
	if err != nil {
		return telemetry.Snapshot{}, errors.WrapTransient(errors.ErrStoreUnavailable,
			"Store", "LatestTelemetry", "query failed: "+err.Error())
	}
	return snap, nil
}

// SensorHistory returns readings for one rover and sensor type since a
// cutoff, newest first.
func (s *Store) SensorHistory(ctx context.Context, roverID, sensorType string, since time.Time, limit int) ([]telemetry.SensorReading, error) {
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, `
		SELECT sr.id, sr.rover_id, sr.timestamp, sr.sensor_type, sr.value, sr.unit
		FROM sensor_readings sr
		JOIN rovers r ON r.id = sr.rover_id
		WHERE r.identifier = $1 AND sr.sensor_type = $2 AND sr.timestamp >= $3
		ORDER BY sr.timestamp DESC
		LIMIT $4`, roverID, sensorType, since, limit)
	if err != nil {
		return nil, errors.WrapTransient(errors.ErrStoreUnavailable,
			"Store", "SensorHistory", "query failed: "+err.Error())
	}
	defer rows.Close()

	var out []telemetry.SensorReading
	for rows.Next() {
		var r telemetry.SensorReading
		if err := rows.Scan(&r.ID, &r.RoverID, &r.Timestamp, &r.SensorType, &r.Value, &r.Unit); err != nil {
			return nil, errors.WrapTransient(errors.ErrStoreUnavailable,
				"Store", "SensorHistory", "scan failed: "+err.Error())
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Healthy reports whether the database answers.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}
