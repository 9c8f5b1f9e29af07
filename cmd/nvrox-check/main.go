package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/overdrivethinker/NVROX/common/database"
	rediscommon "github.com/overdrivethinker/NVROX/common/redis"
	"github.com/overdrivethinker/NVROX/internal/cache"
	"github.com/overdrivethinker/NVROX/internal/config"
	"github.com/overdrivethinker/NVROX/internal/models"
	"github.com/overdrivethinker/NVROX/internal/repository"

	"go.uber.org/zap"
)

// nvrox-check prints what the ingest service would see for each MAC address
// given on the command line: registration, thresholds, cache entries and
// the latest stored rows.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s MAC [MAC...]\n", os.Args[0])
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	var kv cache.KVStore
	if cfg.Cache.Backend == "redis" {
		client := rediscommon.NewRedisClient(&cfg.Redis)
		defer client.Close()
		if err := rediscommon.Ping(context.Background(), client); err != nil {
			log.Printf("Redis unavailable, skipping cache checks: %v", err)
		} else {
			kv = cache.NewRedisKVStore(client)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, arg := range os.Args[1:] {
		mac, ok := models.CanonicalMAC(arg)
		if !ok {
			fmt.Printf("%s: not a MAC address (want XX:XX:XX:XX:XX:XX)\n\n", arg)
			continue
		}
		checkDevice(ctx, db, kv, cfg, mac)
	}
}

func checkDevice(ctx context.Context, db *sql.DB, kv cache.KVStore, cfg *config.Config, mac string) {
	fmt.Printf("=== %s ===\n", mac)

	// 1. Registration, regardless of status
	var name, status string
	var location sql.NullString
	err := db.QueryRowContext(ctx,
		`SELECT device_name, location, status FROM devices WHERE mac_address = $1`, mac,
	).Scan(&name, &location, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		fmt.Println("  registration: NOT registered, telemetry is ignored")
	case err != nil:
		fmt.Printf("  registration: query failed: %v\n", err)
	default:
		fmt.Printf("  registration: %s (%s) status=%s\n", name, location.String, status)
		if status != models.DeviceStatusActive {
			fmt.Println("  registration: not Active, telemetry is ignored")
		}
	}

	// 2. Thresholds
	thresholds, err := repository.NewThresholdRepository(db, zap.NewNop()).FindThresholds(ctx, mac)
	if err != nil {
		fmt.Printf("  thresholds: query failed: %v\n", err)
	} else if len(thresholds) == 0 {
		fmt.Println("  thresholds: none, no alerts will be raised")
	}
	for _, t := range thresholds {
		fmt.Printf("  thresholds: %-11s [%s, %s]\n", t.Parameter, t.LowerLimit.StringFixed(2), t.UpperLimit.StringFixed(2))
	}

	// 3. Cache entries
	if kv != nil {
		for _, key := range []string{cfg.Cache.DevicePrefix + mac, cfg.Cache.ThresholdPrefix + mac} {
			v, err := kv.Get(ctx, key)
			switch {
			case errors.Is(err, cache.ErrCacheMiss):
				fmt.Printf("  cache %s: miss\n", key)
			case err != nil:
				fmt.Printf("  cache %s: read failed: %v\n", key, err)
			default:
				fmt.Printf("  cache %s: %s\n", key, v)
			}
		}
	}

	// 4. Latest rows
	var readings int
	var lastReading sql.NullTime
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), MAX(recorded_at) FROM sensor_readings WHERE mac_address = $1`, mac,
	).Scan(&readings, &lastReading); err != nil {
		fmt.Printf("  readings: query failed: %v\n", err)
	} else {
		fmt.Printf("  readings: %d", readings)
		if lastReading.Valid {
			fmt.Printf(", last at %s", models.FormatRecordedAt(lastReading.Time))
		}
		fmt.Println()
	}

	var alerts int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alerts WHERE mac_address = $1`, mac,
	).Scan(&alerts); err != nil {
		fmt.Printf("  alerts: query failed: %v\n", err)
	} else {
		fmt.Printf("  alerts: %d\n", alerts)
	}

	fmt.Println()
}
