package directory

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/statecache"
)

// Directory provides registry CRUD over a shared pgx pool. When a cache is
// attached, rover deletion purges that rover's ephemeral entries in the
// same call.
type Directory struct {
	pool   *pgxpool.Pool
	cache  statecache.Cache
	logger *slog.Logger
}

// Option configures a Directory.
type Option func(*Directory)

// WithCache attaches the ephemeral cache purged on rover deletion.
func WithCache(c statecache.Cache) Option {
	return func(d *Directory) { d.cache = c }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger.With("component", "Directory")
		}
	}
}

// New builds a Directory over an existing pool.
func New(pool *pgxpool.Pool, opts ...Option) *Directory {
	d := &Directory{
		pool:   pool,
		logger: slog.Default().With("component", "Directory"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SubstationParams carries the caller-supplied fields for a new substation.
// Nil coordinates fall back to the site defaults.
type SubstationParams struct {
	Identifier  string   `json:"identifier"`
	Name        string   `json:"name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Description string   `json:"description"`
	Voltage     string   `json:"voltage"`
}

// RoverParams carries the caller-supplied fields for a new rover.
type RoverParams struct {
	SubstationID int64  `json:"substation_id"`
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Model        string `json:"model"`
}

const substationColumns = `id, identifier, name, latitude, longitude, is_active, description, voltage, created_at`

const roverColumns = `id, substation_id, identifier, name, model, is_active, battery_level, sensors, alerts, created_at`

func scanSubstation(row pgx.Row) (Substation, error) {
	var s Substation
	err := row.Scan(&s.ID, &s.Identifier, &s.Name, &s.Latitude, &s.Longitude,
		&s.IsActive, &s.Description, &s.Voltage, &s.CreatedAt)
	return s, err
}

func scanRover(row pgx.Row) (Rover, error) {
	var r Rover
	err := row.Scan(&r.ID, &r.SubstationID, &r.Identifier, &r.Name, &r.Model,
		&r.IsActive, &r.BatteryLevel, &r.Sensors, &r.Alerts, &r.CreatedAt)
	return r, err
}

// CreateSubstation registers a substation, applying site defaults for any
// field the caller left unset.
func (d *Directory) CreateSubstation(ctx context.Context, p SubstationParams) (Substation, error) {
	if p.Identifier == "" {
		return Substation{}, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Directory", "CreateSubstation", "identifier is required")
	}
	lat, lng := DefaultLatitude, DefaultLongitude
	if p.Latitude != nil {
		lat = *p.Latitude
	}
	if p.Longitude != nil {
		lng = *p.Longitude
	}
	voltage := p.Voltage
	if voltage == "" {
		voltage = DefaultVoltage
	}

	row := d.pool.QueryRow(ctx, `
		INSERT INTO substations (identifier, name, latitude, longitude, description, voltage)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+substationColumns,
		p.Identifier, p.Name, lat, lng, p.Description, voltage)
	s, err := scanSubstation(row)
	if err != nil {
		return Substation{}, errors.WrapTransient(err, "Directory", "CreateSubstation", "insert failed")
	}
	d.logger.Info("substation registered", "identifier", s.Identifier, "id", s.ID)
	return s, nil
}

// GetSubstationByIdentifier looks a substation up by its stable identifier.
func (d *Directory) GetSubstationByIdentifier(ctx context.Context, identifier string) (Substation, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+substationColumns+` FROM substations WHERE identifier = $1`, identifier)
	s, err := scanSubstation(row)
	if err == pgx.ErrNoRows {
		return Substation{}, errors.WrapInvalid(errors.ErrNotFound,
			"Directory", "GetSubstationByIdentifier", "substation "+identifier+" not found")
	}
	if err != nil {
		return Substation{}, errors.WrapTransient(err, "Directory", "GetSubstationByIdentifier", "query failed")
	}
	return s, nil
}

// ListSubstations returns all substations ordered by identifier.
func (d *Directory) ListSubstations(ctx context.Context) ([]Substation, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT `+substationColumns+` FROM substations ORDER BY identifier`)
	if err != nil {
		return nil, errors.WrapTransient(err, "Directory", "ListSubstations", "query failed")
	}
	defer rows.Close()

	var out []Substation
	for rows.Next() {
		s, err := scanSubstation(rows)
		if err != nil {
			return nil, errors.WrapTransient(err, "Directory", "ListSubstations", "scan failed")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UpdateSubstation persists mutable substation fields by identifier.
func (d *Directory) UpdateSubstation(ctx context.Context, s Substation) (Substation, error) {
	row := d.pool.QueryRow(ctx, `
		UPDATE substations
		SET name = $2, latitude = $3, longitude = $4, is_active = $5,
		    description = $6, voltage = $7
		WHERE identifier = $1
		RETURNING `+substationColumns,
		s.Identifier, s.Name, s.Latitude, s.Longitude, s.IsActive, s.Description, s.Voltage)
	updated, err := scanSubstation(row)
	if err == pgx.ErrNoRows {
		return Substation{}, errors.WrapInvalid(errors.ErrNotFound,
			"Directory", "UpdateSubstation", "substation "+s.Identifier+" not found")
	}
	if err != nil {
		return Substation{}, errors.WrapTransient(err, "Directory", "UpdateSubstation", "update failed")
	}
	return updated, nil
}

// DeleteSubstation removes a substation and, via cascade, its rovers.
// Every removed rover's cache entries are purged so no ephemeral key
// outlives its registry row.
func (d *Directory) DeleteSubstation(ctx context.Context, identifier string) error {
	rows, err := d.pool.Query(ctx, `
		SELECT r.identifier FROM rovers r
		JOIN substations s ON s.id = r.substation_id
		WHERE s.identifier = $1`, identifier)
	if err != nil {
		return errors.WrapTransient(err, "Directory", "DeleteSubstation", "rover listing failed")
	}
	var roverIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return errors.WrapTransient(err, "Directory", "DeleteSubstation", "scan failed")
		}
		roverIDs = append(roverIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.WrapTransient(err, "Directory", "DeleteSubstation", "rover listing failed")
	}

	tag, err := d.pool.Exec(ctx, `DELETE FROM substations WHERE identifier = $1`, identifier)
	if err != nil {
		return errors.WrapTransient(err, "Directory", "DeleteSubstation", "delete failed")
	}
	if tag.RowsAffected() == 0 {
		return errors.WrapInvalid(errors.ErrNotFound,
			"Directory", "DeleteSubstation", "substation "+identifier+" not found")
	}

	d.purgeRovers(ctx, roverIDs)
	d.logger.Info("substation deleted", "identifier", identifier, "rovers_removed", len(roverIDs))
	return nil
}

// CreateRover registers a rover under an existing substation.
func (d *Directory) CreateRover(ctx context.Context, p RoverParams) (Rover, error) {
	if p.Identifier == "" {
		return Rover{}, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Directory", "CreateRover", "identifier is required")
	}
	row := d.pool.QueryRow(ctx, `
		INSERT INTO rovers (substation_id, identifier, name, model)
		VALUES ($1, $2, $3, $4)
		RETURNING `+roverColumns,
		p.SubstationID, p.Identifier, p.Name, p.Model)
	r, err := scanRover(row)
	if err != nil {
		return Rover{}, errors.WrapTransient(err, "Directory", "CreateRover", "insert failed")
	}
	d.logger.Info("rover registered", "identifier", r.Identifier, "id", r.ID)
	return r, nil
}

// GetRoverByIdentifier looks a rover up by its stable identifier.
func (d *Directory) GetRoverByIdentifier(ctx context.Context, identifier string) (Rover, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT `+roverColumns+` FROM rovers WHERE identifier = $1`, identifier)
	r, err := scanRover(row)
	if err == pgx.ErrNoRows {
		return Rover{}, errors.WrapInvalid(errors.ErrRoverNotFound,
			"Directory", "GetRoverByIdentifier", "rover "+identifier+" not found")
	}
	if err != nil {
		return Rover{}, errors.WrapTransient(err, "Directory", "GetRoverByIdentifier", "query failed")
	}
	return r, nil
}

// ListRovers returns rovers, optionally scoped to one substation
// identifier. Pass "" for the whole fleet.
func (d *Directory) ListRovers(ctx context.Context, substationIdentifier string) ([]Rover, error) {
	query := `SELECT ` + roverColumns + ` FROM rovers ORDER BY identifier`
	args := []any{}
	if substationIdentifier != "" {
		query = `SELECT ` + roverColumns + ` FROM rovers
			WHERE substation_id = (SELECT id FROM substations WHERE identifier = $1)
			ORDER BY identifier`
		args = append(args, substationIdentifier)
	}
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapTransient(err, "Directory", "ListRovers", "query failed")
	}
	defer rows.Close()

	var out []Rover
	for rows.Next() {
		r, err := scanRover(rows)
		if err != nil {
			return nil, errors.WrapTransient(err, "Directory", "ListRovers", "scan failed")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpdateRover persists mutable rover fields by identifier.
func (d *Directory) UpdateRover(ctx context.Context, r Rover) (Rover, error) {
	row := d.pool.QueryRow(ctx, `
		UPDATE rovers
		SET name = $2, model = $3, is_active = $4, battery_level = $5
		WHERE identifier = $1
		RETURNING `+roverColumns,
		r.Identifier, r.Name, r.Model, r.IsActive, r.BatteryLevel)
	updated, err := scanRover(row)
	if err == pgx.ErrNoRows {
		return Rover{}, errors.WrapInvalid(errors.ErrRoverNotFound,
			"Directory", "UpdateRover", "rover "+r.Identifier+" not found")
	}
	if err != nil {
		return Rover{}, errors.WrapTransient(err, "Directory", "UpdateRover", "update failed")
	}
	return updated, nil
}

// AssignSubstation moves a rover to another substation.
func (d *Directory) AssignSubstation(ctx context.Context, roverIdentifier, substationIdentifier string) (Rover, error) {
	row := d.pool.QueryRow(ctx, `
		UPDATE rovers
		SET substation_id = (SELECT id FROM substations WHERE identifier = $2)
		WHERE identifier = $1
		RETURNING `+roverColumns,
		roverIdentifier, substationIdentifier)
	r, err := scanRover(row)
	if err == pgx.ErrNoRows {
		return Rover{}, errors.WrapInvalid(errors.ErrRoverNotFound,
			"Directory", "AssignSubstation", "rover "+roverIdentifier+" not found")
	}
	if err != nil {
		return Rover{}, errors.WrapTransient(err, "Directory", "AssignSubstation", "update failed")
	}
	return r, nil
}

// RefreshRoverState opportunistically updates the registry's snapshot of a
// rover's battery, sensors, and alerts from ingested telemetry. A miss is
// not an error here; the durable write path already rejected unknown
// rovers.
func (d *Directory) RefreshRoverState(ctx context.Context, identifier string, battery float64, sensors, alerts json.RawMessage) error {
	if sensors == nil {
		sensors = json.RawMessage(`{}`)
	}
	if alerts == nil {
		alerts = json.RawMessage(`[]`)
	}
	_, err := d.pool.Exec(ctx, `
		UPDATE rovers
		SET battery_level = $2, sensors = $3, alerts = $4
		WHERE identifier = $1`,
		identifier, battery, sensors, alerts)
	if err != nil {
		return errors.WrapTransient(err, "Directory", "RefreshRoverState", "update failed")
	}
	return nil
}

// DeleteRover removes a rover and purges its cache entries.
func (d *Directory) DeleteRover(ctx context.Context, identifier string) error {
	tag, err := d.pool.Exec(ctx, `DELETE FROM rovers WHERE identifier = $1`, identifier)
	if err != nil {
		return errors.WrapTransient(err, "Directory", "DeleteRover", "delete failed")
	}
	if tag.RowsAffected() == 0 {
		return errors.WrapInvalid(errors.ErrRoverNotFound,
			"Directory", "DeleteRover", "rover "+identifier+" not found")
	}
	d.purgeRovers(ctx, []string{identifier})
	d.logger.Info("rover deleted", "identifier", identifier)
	return nil
}

// purgeRovers is best-effort: a cache purge failure is logged, never
// surfaced, because the registry delete already committed.
func (d *Directory) purgeRovers(ctx context.Context, roverIDs []string) {
	if d.cache == nil {
		return
	}
	for _, id := range roverIDs {
		if err := d.cache.PurgeRover(ctx, id); err != nil {
			d.logger.Warn("cache purge failed after rover deletion", "rover", id, "error", err)
		}
	}
}

// Healthy reports whether the database answers.
func (d *Directory) Healthy(ctx context.Context) bool {
	return d.pool.Ping(ctx) == nil
}
