package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sarang2401/Precursor-Main/internal/common/database"
	"github.com/Sarang2401/Precursor-Main/internal/config"
	"github.com/Sarang2401/Precursor-Main/internal/geo"
	"github.com/Sarang2401/Precursor-Main/internal/repository"

	"go.uber.org/zap"
)

// 检查预期路线是否可加载，并可选地计算某个坐标到路线的距离
// 用法: check-route [lat lon]
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger := zap.NewNop()

	var waypoints []geo.Waypoint
	switch cfg.Route.Source {
	case "postgres":
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		repo, err := repository.NewRouteRepository(db, cfg.Route.Table, logger)
		if err != nil {
			log.Fatalf("Invalid route table: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		waypoints, err = repo.LoadWaypoints(ctx)
		if err != nil {
			log.Fatalf("Failed to load waypoints: %v", err)
		}
	case "csv":
		waypoints, err = repository.LoadRouteCSV(cfg.Route.CSVPath, logger)
		if err != nil {
			log.Fatalf("Failed to load route csv: %v", err)
		}
	default:
		fmt.Println("ROUTE_SOURCE=none, route checks disabled")
		return
	}

	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Route source: %s, waypoints: %d, tolerance: %.1f m\n",
		cfg.Route.Source, len(waypoints), cfg.Detection.RouteToleranceM)
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("%-6s %-14s %-14s %-12s\n", "seq", "lat", "lon", "segment_m")
	fmt.Println(strings.Repeat("-", 60))
	for i, w := range waypoints {
		segment := 0.0
		if i > 0 {
			prev := waypoints[i-1]
			segment = geo.HaversineMeters(prev.Lat, prev.Lon, w.Lat, w.Lon)
		}
		fmt.Printf("%-6d %-14.6f %-14.6f %-12.1f\n", i, w.Lat, w.Lon, segment)
	}

	if len(os.Args) < 3 {
		return
	}
	lat, err := strconv.ParseFloat(os.Args[1], 64)
	if err != nil {
		log.Fatalf("Invalid lat %q: %v", os.Args[1], err)
	}
	lon, err := strconv.ParseFloat(os.Args[2], 64)
	if err != nil {
		log.Fatalf("Invalid lon %q: %v", os.Args[2], err)
	}

	nearest, dist, ok := geo.NewReference(waypoints).Nearest(lat, lon)
	if !ok {
		fmt.Println("\nRoute is empty, deviation check never fires")
		return
	}
	fmt.Printf("\nNearest waypoint: (%.6f, %.6f), distance %.1f m, deviation: %v\n",
		nearest.Lat, nearest.Lon, dist, dist > cfg.Detection.RouteToleranceM)
}
