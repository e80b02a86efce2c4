package avail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the part of *pgxpool.Pool the registry uses. pgxmock pools
// satisfy it too.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRegistry stores locations in Postgres. Each SaveLocation runs in
// one transaction, so concurrent writers never see half-written rows.
type PostgresRegistry struct {
	pool Pool
}

func NewPostgresRegistry(pool Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

// ConnectPostgresRegistry opens a pool for databaseUrl and makes sure the
// tables exist.
func ConnectPostgresRegistry(ctx context.Context, databaseUrl string) (*PostgresRegistry, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseUrl)
	if err != nil {
		return nil, nil, eris.Wrap(err, "registry: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, eris.Wrap(err, "registry: ping")
	}

	registry := NewPostgresRegistry(pool)
	if err := registry.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return registry, pool, nil
}

var registrySchema = []string{
	`CREATE TABLE IF NOT EXISTS provider_locations (
		id uuid PRIMARY KEY,
		provider text NOT NULL DEFAULT '',
		location_type text NOT NULL DEFAULT '',
		name text NOT NULL DEFAULT '',
		address_lines text[],
		city text NOT NULL DEFAULT '',
		state text NOT NULL DEFAULT '',
		postal_code text NOT NULL DEFAULT '',
		county text NOT NULL DEFAULT '',
		position jsonb,
		info_phone text NOT NULL DEFAULT '',
		info_url text NOT NULL DEFAULT '',
		booking_phone text NOT NULL DEFAULT '',
		booking_url text NOT NULL DEFAULT '',
		description text NOT NULL DEFAULT '',
		is_public boolean NOT NULL DEFAULT true,
		meta jsonb,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS provider_locations_provider_state ON provider_locations (provider, state)`,
	`CREATE TABLE IF NOT EXISTS external_ids (
		location_id uuid NOT NULL REFERENCES provider_locations (id) ON DELETE CASCADE,
		system text NOT NULL,
		value text NOT NULL,
		ordinal integer NOT NULL,
		PRIMARY KEY (location_id, system, value)
	)`,
	`CREATE INDEX IF NOT EXISTS external_ids_system_value ON external_ids (system, value)`,
	`CREATE TABLE IF NOT EXISTS availability_log (
		id bigserial PRIMARY KEY,
		location_id uuid NOT NULL REFERENCES provider_locations (id) ON DELETE CASCADE,
		source text NOT NULL,
		valid_at timestamptz,
		checked_at timestamptz,
		available text NOT NULL,
		available_count integer,
		products jsonb,
		doses jsonb,
		slots jsonb,
		is_public boolean NOT NULL DEFAULT true,
		meta jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS availability_log_location ON availability_log (location_id, id DESC)`,
}

// Migrate creates any missing tables.
func (r *PostgresRegistry) Migrate(ctx context.Context) error {
	for _, statement := range registrySchema {
		if _, err := r.pool.Exec(ctx, statement); err != nil {
			return eris.Wrap(err, "registry: migrate")
		}
	}
	return nil
}

const selectLocationSql = `SELECT l.id::text, l.provider, l.location_type, l.name,
	COALESCE(l.address_lines, '{}'), l.city, l.state, l.postal_code, l.county,
	COALESCE(l.position, 'null'::jsonb), l.info_phone, l.info_url, l.booking_phone,
	l.booking_url, l.description, l.is_public, COALESCE(l.meta, 'null'::jsonb),
	l.created_at, l.updated_at,
	COALESCE((SELECT jsonb_agg(jsonb_build_array(e.system, e.value) ORDER BY e.ordinal)
		FROM external_ids e WHERE e.location_id = l.id), '[]'::jsonb)
	FROM provider_locations l`

func scanLocation(row pgx.Row) (*Location, error) {
	location := new(Location)
	var locationType string
	var position, meta, externalIds []byte
	var createdAt, updatedAt time.Time

	err := row.Scan(
		&location.Id, &location.Provider, &locationType, &location.Name,
		&location.AddressLines, &location.City, &location.State, &location.PostalCode, &location.County,
		&position, &location.InfoPhone, &location.InfoUrl, &location.BookingPhone,
		&location.BookingUrl, &location.Description, &location.IsPublic, &meta,
		&createdAt, &updatedAt,
		&externalIds,
	)
	if err != nil {
		return nil, err
	}

	location.LocationType = LocationType(locationType)
	location.CreatedAt = timePtr(createdAt)
	location.UpdatedAt = timePtr(updatedAt)
	if len(location.AddressLines) == 0 {
		location.AddressLines = nil
	}

	if err := json.Unmarshal(position, &location.Position); err != nil {
		return nil, eris.Wrapf(err, "registry: bad position for %s", location.Id)
	}
	if err := json.Unmarshal(meta, &location.Meta); err != nil {
		return nil, eris.Wrapf(err, "registry: bad meta for %s", location.Id)
	}
	if err := json.Unmarshal(externalIds, &location.ExternalIds); err != nil {
		return nil, eris.Wrapf(err, "registry: bad external ids for %s", location.Id)
	}

	return location, nil
}

func (r *PostgresRegistry) queryLocations(ctx context.Context, sql string, args ...any) ([]*Location, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]*Location, 0)
	for rows.Next() {
		location, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, location)
	}
	return locations, rows.Err()
}

func (r *PostgresRegistry) ListLocations(ctx context.Context, filter LocationFilter) ([]*Location, error) {
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 2)
	if len(filter.Provider) > 0 {
		args = append(args, filter.Provider)
		conditions = append(conditions, "l.provider = $1")
	}
	if len(filter.State) > 0 {
		args = append(args, filter.State)
		conditions = append(conditions, fmt.Sprintf("l.state = $%d", len(args)))
	}
	if !filter.IncludePrivate {
		conditions = append(conditions, "l.is_public")
	}

	sql := selectLocationSql
	if len(conditions) > 0 {
		sql += " WHERE " + strings.Join(conditions, " AND ")
	}
	sql += " ORDER BY l.created_at, l.id"

	locations, err := r.queryLocations(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: list locations for %s/%s", filter.Provider, filter.State)
	}
	return locations, nil
}

func (r *PostgresRegistry) GetLocation(ctx context.Context, id string) (*Location, error) {
	if !IsLocationId(id) {
		return nil, ErrLocationNotFound
	}

	location, err := scanLocation(r.pool.QueryRow(ctx, selectLocationSql+" WHERE l.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLocationNotFound
	} else if err != nil {
		return nil, eris.Wrapf(err, "registry: get location %s", id)
	}

	location.Availability, err = r.latestAvailability(ctx, location.Id)
	if err != nil {
		return nil, err
	}
	return location, nil
}

func (r *PostgresRegistry) latestAvailability(ctx context.Context, id string) (*Availability, error) {
	var availability Availability
	var available string
	var availableCount *int
	var products, doses, slots, meta []byte

	err := r.pool.QueryRow(ctx, `SELECT source, valid_at, checked_at, available, available_count,
		COALESCE(products, 'null'::jsonb), COALESCE(doses, 'null'::jsonb),
		COALESCE(slots, 'null'::jsonb), is_public, COALESCE(meta, 'null'::jsonb)
		FROM availability_log WHERE location_id = $1 ORDER BY id DESC LIMIT 1`, id,
	).Scan(&availability.Source, &availability.ValidAt, &availability.CheckedAt, &available,
		&availableCount, &products, &doses, &slots, &availability.IsPublic, &meta)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, eris.Wrapf(err, "registry: availability for %s", id)
	}

	availability.Available = Available(available)
	availability.AvailableCount = availableCount
	for _, field := range []struct {
		data   []byte
		target interface{}
	}{
		{products, &availability.Products},
		{doses, &availability.Doses},
		{slots, &availability.Slots},
		{meta, &availability.Meta},
	} {
		if err := json.Unmarshal(field.data, field.target); err != nil {
			return nil, eris.Wrapf(err, "registry: bad availability for %s", id)
		}
	}

	return &availability, nil
}

func (r *PostgresRegistry) FindLocationsByExternalIds(ctx context.Context, ids ExternalIdList) ([]*Location, error) {
	if len(ids) == 0 {
		return []*Location{}, nil
	}

	systems := make([]string, len(ids))
	values := make([]string, len(ids))
	for i, id := range ids {
		systems[i] = id.System
		values[i] = id.Value
	}

	locations, err := r.queryLocations(ctx, selectLocationSql+` WHERE l.id IN (
		SELECT e.location_id FROM external_ids e
		JOIN unnest($1::text[], $2::text[]) AS wanted(system, value)
		ON e.system = wanted.system AND e.value = wanted.value
	) ORDER BY l.created_at, l.id`, systems, values)
	if err != nil {
		return nil, eris.Wrap(err, "registry: find by external ids")
	}
	return locations, nil
}

func jsonOrNil(value interface{}) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil || string(data) == "null" {
		return nil, err
	}
	return data, nil
}

func (r *PostgresRegistry) SaveLocation(ctx context.Context, location *Location, availability *Availability) (*Location, error) {
	saved := location.Clone()
	saved.Availability = nil
	saved.ExternalIds = saved.ExternalIds.Unique()
	if len(saved.Id) == 0 {
		saved.Id = newLocationId()
	}

	position, err := jsonOrNil(saved.Position)
	if err != nil {
		return nil, eris.Wrap(err, "registry: encode position")
	}
	meta, err := jsonOrNil(saved.Meta)
	if err != nil {
		return nil, eris.Wrap(err, "registry: encode meta")
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "registry: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	var createdAt, updatedAt time.Time
	err = tx.QueryRow(ctx, `INSERT INTO provider_locations (id, provider, location_type, name,
		address_lines, city, state, postal_code, county, position, info_phone, info_url,
		booking_phone, booking_url, description, is_public, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (id) DO UPDATE SET provider = EXCLUDED.provider,
		location_type = EXCLUDED.location_type, name = EXCLUDED.name,
		address_lines = EXCLUDED.address_lines, city = EXCLUDED.city, state = EXCLUDED.state,
		postal_code = EXCLUDED.postal_code, county = EXCLUDED.county,
		position = EXCLUDED.position, info_phone = EXCLUDED.info_phone,
		info_url = EXCLUDED.info_url, booking_phone = EXCLUDED.booking_phone,
		booking_url = EXCLUDED.booking_url, description = EXCLUDED.description,
		is_public = EXCLUDED.is_public, meta = EXCLUDED.meta, updated_at = now()
		RETURNING created_at, updated_at`,
		saved.Id, saved.Provider, string(saved.LocationType), saved.Name,
		saved.AddressLines, saved.City, saved.State, saved.PostalCode, saved.County,
		position, saved.InfoPhone, saved.InfoUrl, saved.BookingPhone,
		saved.BookingUrl, saved.Description, saved.IsPublic, meta,
	).Scan(&createdAt, &updatedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: save location %s", saved.Id)
	}
	saved.CreatedAt = timePtr(createdAt)
	saved.UpdatedAt = timePtr(updatedAt)

	if _, err := tx.Exec(ctx, `DELETE FROM external_ids WHERE location_id = $1`, saved.Id); err != nil {
		return nil, eris.Wrapf(err, "registry: clear external ids for %s", saved.Id)
	}

	if len(saved.ExternalIds) > 0 {
		systems := make([]string, len(saved.ExternalIds))
		values := make([]string, len(saved.ExternalIds))
		ordinals := make([]int32, len(saved.ExternalIds))
		for i, id := range saved.ExternalIds {
			systems[i] = id.System
			values[i] = id.Value
			ordinals[i] = int32(i)
		}

		if _, err := tx.Exec(ctx, `INSERT INTO external_ids (location_id, system, value, ordinal)
			SELECT $1, system, value, ordinal
			FROM unnest($2::text[], $3::text[], $4::int[]) AS ids(system, value, ordinal)`,
			saved.Id, systems, values, ordinals,
		); err != nil {
			return nil, eris.Wrapf(err, "registry: save external ids for %s", saved.Id)
		}
	}

	if availability != nil {
		encoded := make([][]byte, 4)
		for i, value := range []interface{}{availability.Products, availability.Doses, availability.Slots, availability.Meta} {
			if encoded[i], err = jsonOrNil(value); err != nil {
				return nil, eris.Wrap(err, "registry: encode availability")
			}
		}

		if _, err := tx.Exec(ctx, `INSERT INTO availability_log (location_id, source, valid_at,
			checked_at, available, available_count, products, doses, slots, is_public, meta)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			saved.Id, availability.Source, availability.ValidAt, availability.CheckedAt,
			string(availability.Available), availability.AvailableCount,
			encoded[0], encoded[1], encoded[2], availability.IsPublic, encoded[3],
		); err != nil {
			return nil, eris.Wrapf(err, "registry: save availability for %s", saved.Id)
		}

		copied := *availability
		saved.Availability = &copied
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "registry: commit")
	}
	committed = true

	return saved, nil
}
