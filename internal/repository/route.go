package repository

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sarang2401/Precursor-Main/internal/geo"

	"go.uber.org/zap"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// RouteRepository 预期路线航点（PostgreSQL）
// 表结构：expected_route(seq INT, lat DOUBLE PRECISION, lon DOUBLE PRECISION)
type RouteRepository struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
}

// NewRouteRepository 创建路线仓库
func NewRouteRepository(db *sql.DB, table string, logger *zap.Logger) (*RouteRepository, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid route table name %q", table)
	}
	return &RouteRepository{
		db:     db,
		table:  table,
		logger: logger,
	}, nil
}

// LoadWaypoints 按 seq 顺序读取全部航点；lat/lon 为 NULL 的行跳过
func (r *RouteRepository) LoadWaypoints(ctx context.Context) ([]geo.Waypoint, error) {
	query := fmt.Sprintf(`SELECT lat, lon FROM %s ORDER BY seq`, r.table)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query route waypoints: %w", err)
	}
	defer rows.Close()

	var waypoints []geo.Waypoint
	skipped := 0
	for rows.Next() {
		var lat, lon sql.NullFloat64
		if err := rows.Scan(&lat, &lon); err != nil {
			return nil, fmt.Errorf("failed to scan route waypoint: %w", err)
		}
		if !lat.Valid || !lon.Valid {
			skipped++
			continue
		}
		waypoints = append(waypoints, geo.Waypoint{Lat: lat.Float64, Lon: lon.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate route waypoints: %w", err)
	}

	r.logger.Info("Route waypoints loaded from database",
		zap.String("table", r.table),
		zap.Int("waypoints", len(waypoints)),
		zap.Int("skipped", skipped),
	)
	return waypoints, nil
}

// LoadRouteCSV 从带表头（至少包含 lat、lon 两列）的 CSV 读取航点
// 文件不存在时返回空路线（路线检查不触发）；无法解析的行跳过
func LoadRouteCSV(path string, logger *zap.Logger) ([]geo.Waypoint, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Route CSV not found, route checks disabled",
				zap.String("path", path),
			)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open route CSV %s: %w", path, err)
	}
	defer f.Close()

	return parseRouteCSV(f, logger)
}

func parseRouteCSV(r io.Reader, logger *zap.Logger) ([]geo.Waypoint, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read route CSV header: %w", err)
	}

	latIdx, lonIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "lat":
			latIdx = i
		case "lon":
			lonIdx = i
		}
	}
	if latIdx < 0 || lonIdx < 0 {
		return nil, fmt.Errorf("route CSV header must contain lat and lon columns, got %v", header)
	}

	var waypoints []geo.Waypoint
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			logger.Warn("Skipping malformed route CSV row", zap.Int("line", line), zap.Error(err))
			continue
		}
		if latIdx >= len(record) || lonIdx >= len(record) {
			logger.Warn("Skipping short route CSV row", zap.Int("line", line))
			continue
		}

		lat, errLat := strconv.ParseFloat(strings.TrimSpace(record[latIdx]), 64)
		lon, errLon := strconv.ParseFloat(strings.TrimSpace(record[lonIdx]), 64)
		if errLat != nil || errLon != nil {
			logger.Warn("Skipping non-numeric route CSV row", zap.Int("line", line))
			continue
		}
		waypoints = append(waypoints, geo.Waypoint{Lat: lat, Lon: lon})
	}

	logger.Info("Route waypoints loaded from CSV", zap.Int("waypoints", len(waypoints)))
	return waypoints, nil
}
