package avail

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLocationId = "5b9f3a0e-2c47-4d8a-9d0e-6a1f0c2b7e11"

var locationColumns = []string{
	"id", "provider", "location_type", "name", "address_lines", "city", "state",
	"postal_code", "county", "position", "info_phone", "info_url", "booking_phone",
	"booking_url", "description", "is_public", "meta", "created_at", "updated_at", "external_ids",
}

func locationRow(rows *pgxmock.Rows, id string, name string) *pgxmock.Rows {
	created := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	return rows.AddRow(
		id, "prepmod", "CLINIC", name, []string{"123 Main St"}, "Juneau", "AK",
		"99801", "Juneau", []byte(`{"latitude": 58.3, "longitude": -134.4}`), "", "", "",
		"", "", true, []byte("null"), created, created, []byte(`[["npi_usa", "1"], ["vtrcks", "VT1"]]`),
	)
}

func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresRegistry_Migrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for range registrySchema {
		mock.ExpectExec("CREATE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}

	assert.NoError(t, NewPostgresRegistry(mock).Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_MigrateError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS provider_locations").WillReturnError(errors.New("permission denied"))

	err = NewPostgresRegistry(mock).Migrate(context.Background())
	assert.ErrorContains(t, err, "permission denied")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_GetLocation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM provider_locations l WHERE l.id = $1")).
		WithArgs(testLocationId).
		WillReturnRows(locationRow(pgxmock.NewRows(locationColumns), testLocationId, "Clinic One"))

	checked := time.Date(2021, 5, 1, 17, 0, 0, 0, time.UTC)
	count := 4
	mock.ExpectQuery("FROM availability_log WHERE location_id = \\$1").
		WithArgs(testLocationId).
		WillReturnRows(pgxmock.NewRows([]string{
			"source", "valid_at", "checked_at", "available", "available_count",
			"products", "doses", "slots", "is_public", "meta",
		}).AddRow(
			"univaf-prepmod", &checked, &checked, "YES", &count,
			[]byte(`["pfizer"]`), []byte("null"), []byte("null"), true, []byte("null"),
		))

	location, err := NewPostgresRegistry(mock).GetLocation(context.Background(), testLocationId)
	require.NoError(t, err)

	assert.Equal(t, testLocationId, location.Id)
	assert.Equal(t, "Clinic One", location.Name)
	assert.Equal(t, LocationTypeClinic, location.LocationType)
	assert.Equal(t, []string{"123 Main St"}, location.AddressLines)
	assert.Equal(t, &Position{Latitude: 58.3, Longitude: -134.4}, location.Position)
	assert.Nil(t, location.Meta)
	assert.Equal(t, ExternalIdList{{SystemNpi, "1"}, {SystemVtrcks, "VT1"}}, location.ExternalIds)
	require.NotNil(t, location.CreatedAt)

	require.NotNil(t, location.Availability)
	assert.Equal(t, AvailableYes, location.Availability.Available)
	assert.Equal(t, intPtr(4), location.Availability.AvailableCount)
	assert.Equal(t, []VaccineProduct{ProductPfizer}, location.Availability.Products)
	assert.Nil(t, location.Availability.Slots)
	assert.True(t, location.Availability.CheckedAt.Equal(checked))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_GetLocationNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("WHERE l.id = $1")).
		WithArgs(testLocationId).
		WillReturnRows(pgxmock.NewRows(locationColumns))

	registry := NewPostgresRegistry(mock)
	_, err = registry.GetLocation(context.Background(), testLocationId)
	assert.ErrorIs(t, err, ErrLocationNotFound)

	// ids that aren't UUIDs never reach the database
	_, err = registry.GetLocation(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrLocationNotFound)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_ListLocations(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(locationColumns)
	locationRow(rows, testLocationId, "Clinic One")
	locationRow(rows, "0d8c1c8e-9b0a-4f55-8d62-3c7d1b2a4f90", "Clinic Two")
	mock.ExpectQuery(regexp.QuoteMeta("WHERE l.provider = $1 AND l.state = $2 AND l.is_public ORDER BY l.created_at, l.id")).
		WithArgs("prepmod", "AK").
		WillReturnRows(rows)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE l.state = $1 ORDER BY")).
		WithArgs("WA").
		WillReturnRows(pgxmock.NewRows(locationColumns))

	registry := NewPostgresRegistry(mock)
	locations, err := registry.ListLocations(context.Background(), LocationFilter{Provider: "prepmod", State: "AK"})
	require.NoError(t, err)
	require.Len(t, locations, 2)
	assert.Equal(t, "Clinic One", locations[0].Name)
	assert.Equal(t, "Clinic Two", locations[1].Name)

	locations, err = registry.ListLocations(context.Background(), LocationFilter{State: "WA", IncludePrivate: true})
	require.NoError(t, err)
	assert.Empty(t, locations)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_FindLocationsByExternalIds(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("JOIN unnest($1::text[], $2::text[])")).
		WithArgs([]string{SystemNpi, SystemVtrcks}, []string{"1", "VT1"}).
		WillReturnRows(locationRow(pgxmock.NewRows(locationColumns), testLocationId, "Clinic One"))

	registry := NewPostgresRegistry(mock)
	locations, err := registry.FindLocationsByExternalIds(context.Background(), ExternalIdList{{SystemNpi, "1"}, {SystemVtrcks, "VT1"}})
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, testLocationId, locations[0].Id)

	locations, err = registry.FindLocationsByExternalIds(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, locations)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_SaveLocation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	created := time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC)
	updated := time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO provider_locations").
		WithArgs(anyArgs(17)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(created, updated))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM external_ids WHERE location_id = $1")).
		WithArgs(testLocationId).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec("INSERT INTO external_ids").
		WithArgs(testLocationId, []string{SystemNpi, SystemVtrcks}, []string{"1", "VT1"}, []int32{0, 1}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectExec("INSERT INTO availability_log").
		WithArgs(anyArgs(11)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	location := &Location{
		Id:          testLocationId,
		Name:        "Clinic One",
		IsPublic:    true,
		ExternalIds: ExternalIdList{{SystemNpi, "1"}, {SystemVtrcks, "VT1"}, {SystemNpi, "1"}},
	}
	availability := &Availability{Source: "univaf-prepmod", Available: AvailableNo, IsPublic: true}

	saved, err := NewPostgresRegistry(mock).SaveLocation(context.Background(), location, availability)
	require.NoError(t, err)

	assert.Equal(t, testLocationId, saved.Id)
	assert.Equal(t, ExternalIdList{{SystemNpi, "1"}, {SystemVtrcks, "VT1"}}, saved.ExternalIds)
	assert.True(t, saved.CreatedAt.Equal(created))
	assert.True(t, saved.UpdatedAt.Equal(updated))
	require.NotNil(t, saved.Availability)
	assert.Equal(t, AvailableNo, saved.Availability.Available)
	assert.Nil(t, location.Availability)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRegistry_SaveLocationRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO provider_locations").
		WithArgs(anyArgs(17)...).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(time.Now(), time.Now()))
	mock.ExpectExec("DELETE FROM external_ids").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	saved, err := NewPostgresRegistry(mock).SaveLocation(context.Background(), &Location{Name: "New"}, nil)
	assert.Nil(t, saved)
	assert.ErrorContains(t, err, "connection reset")

	assert.NoError(t, mock.ExpectationsWereMet())
}
