// gwctl is an operational helper for inspecting and repairing the
// gatewaylink database: row counts, devices with event rows but no metadata,
// and retention pruning. It connects with DATABASE_URL directly and is safe
// to run against a live instance.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL must be set")
		os.Exit(1)
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	ctx := context.Background()

	if len(os.Args) > 1 && os.Args[1] == "orphans" {
		findOrphans(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "stale" {
		findStaleDevices(ctx, pool)
		return
	}

	if len(os.Args) > 1 && os.Args[1] == "prune" {
		days := 30
		if len(os.Args) > 2 {
			if n, err := strconv.Atoi(os.Args[2]); err == nil {
				days = n
			}
		}
		dryRun := !(len(os.Args) > 3 && os.Args[3] == "apply")
		prune(ctx, pool, days, dryRun)
		return
	}

	// Default: table counts
	tables := []string{
		"iot_meta_data", "iot_heartbeat",
		"iot_temp_hum", "iot_noise_level",
		"iot_rfid_snapshot", "iot_rfid_event",
		"iot_door_event", "iot_cmd_result", "iot_topchange_event",
	}
	for _, table := range tables {
		var count int64
		if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+table).Scan(&count); err != nil {
			fmt.Printf("%-22s error: %v\n", table, err)
			continue
		}
		fmt.Printf("%-22s %d\n", table, count)
	}
}

// findOrphans lists device ids that have event rows but no metadata row —
// usually a device that never answered its info query before the process
// restarted.
func findOrphans(ctx context.Context, pool *pgxpool.Pool) {
	eventTables := []string{
		"iot_heartbeat", "iot_temp_hum", "iot_noise_level",
		"iot_rfid_snapshot", "iot_rfid_event", "iot_door_event",
	}
	for _, table := range eventTables {
		rows, err := pool.Query(ctx, `
			SELECT DISTINCT e.device_id FROM `+table+` e
			LEFT JOIN iot_meta_data m ON m.device_id = e.device_id
			WHERE m.device_id IS NULL`)
		if err != nil {
			fmt.Printf("%s: %v\n", table, err)
			continue
		}
		var orphans []string
		for rows.Next() {
			var id string
			if rows.Scan(&id) == nil {
				orphans = append(orphans, id)
			}
		}
		rows.Close()
		if len(orphans) > 0 {
			fmt.Printf("%-20s %d orphaned device(s): %v\n", table, len(orphans), orphans)
		}
	}
}

// findStaleDevices lists metadata rows that stopped receiving events.
func findStaleDevices(ctx context.Context, pool *pgxpool.Pool) {
	rows, err := pool.Query(ctx, `
		SELECT device_id, device_type, update_at FROM iot_meta_data
		WHERE update_at < now() - interval '24 hours'
		ORDER BY update_at`)
	if err != nil {
		fmt.Fprintf(os.Stderr, "query: %v\n", err)
		return
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var id, typ string
		var updateAt any
		if rows.Scan(&id, &typ, &updateAt) == nil {
			fmt.Printf("%s (%s) last update %v\n", id, typ, updateAt)
			n++
		}
	}
	if n == 0 {
		fmt.Println("no stale devices")
	}
}

// prune deletes event rows older than the retention window. Metadata rows
// are never pruned.
func prune(ctx context.Context, pool *pgxpool.Pool, days int, dryRun bool) {
	eventTables := []string{
		"iot_heartbeat", "iot_temp_hum", "iot_noise_level",
		"iot_rfid_snapshot", "iot_rfid_event", "iot_door_event",
		"iot_cmd_result", "iot_topchange_event",
	}
	for _, table := range eventTables {
		if dryRun {
			var count int64
			err := pool.QueryRow(ctx,
				"SELECT count(*) FROM "+table+" WHERE parse_at < now() - make_interval(days => $1)",
				days).Scan(&count)
			if err != nil {
				fmt.Printf("%s: %v\n", table, err)
				continue
			}
			fmt.Printf("%-22s would delete %d row(s)\n", table, count)
			continue
		}
		tag, err := pool.Exec(ctx,
			"DELETE FROM "+table+" WHERE parse_at < now() - make_interval(days => $1)", days)
		if err != nil {
			fmt.Printf("%s: %v\n", table, err)
			continue
		}
		fmt.Printf("%-22s deleted %d row(s)\n", table, tag.RowsAffected())
	}
	if dryRun {
		fmt.Printf("\ndry run — re-run with: gwctl prune %d apply\n", days)
	}
}
