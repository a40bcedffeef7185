package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Sarang2401/Precursor-Main/internal/geo"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *RouteRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo, err := NewRouteRepository(db, "expected_route", zap.NewNop())
	require.NoError(t, err)

	return db, mock, repo
}

func TestLoadWaypoints_Success(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"lat", "lon"}).
		AddRow(19.0760, 72.8777).
		AddRow(nil, 72.9).
		AddRow(19.0800, 72.8800)

	mock.ExpectQuery(`SELECT lat, lon FROM expected_route ORDER BY seq`).
		WillReturnRows(rows)

	waypoints, err := repo.LoadWaypoints(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []geo.Waypoint{
		{Lat: 19.0760, Lon: 72.8777},
		{Lat: 19.0800, Lon: 72.8800},
	}, waypoints)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadWaypoints_QueryError(t *testing.T) {
	db, mock, repo := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("relation does not exist"))

	_, err := repo.LoadWaypoints(context.Background())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query route waypoints")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRouteRepository_RejectsBadTableName(t *testing.T) {
	_, err := NewRouteRepository(nil, "expected_route; DROP TABLE x", zap.NewNop())
	assert.Error(t, err)

	_, err = NewRouteRepository(nil, "logistics.expected_route", zap.NewNop())
	assert.NoError(t, err)
}

func TestParseRouteCSV(t *testing.T) {
	input := "seq,lon,lat\n" +
		"1,72.8777,19.0760\n" +
		"2,abc,19.1\n" +
		"3,72.88\n" +
		"4, 72.8800, 19.0800\n"

	waypoints, err := parseRouteCSV(strings.NewReader(input), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []geo.Waypoint{
		{Lat: 19.0760, Lon: 72.8777},
		{Lat: 19.0800, Lon: 72.8800},
	}, waypoints)
}

func TestParseRouteCSV_MissingColumns(t *testing.T) {
	_, err := parseRouteCSV(strings.NewReader("x,y\n1,2\n"), zap.NewNop())
	assert.Error(t, err)

	waypoints, err := parseRouteCSV(strings.NewReader(""), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, waypoints)
}

func TestLoadRouteCSV_MissingFileIsEmptyRoute(t *testing.T) {
	waypoints, err := LoadRouteCSV(filepath.Join(t.TempDir(), "nope.csv"), zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, waypoints)
}

func TestLoadRouteCSV_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "route.csv")
	require.NoError(t, os.WriteFile(path, []byte("lat,lon\n0,0\n0,0.001\n"), 0o600))

	waypoints, err := LoadRouteCSV(path, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, waypoints, 2)
	assert.Equal(t, 0.001, waypoints[1].Lon)
}
