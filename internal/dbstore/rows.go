package dbstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// tableColumns fixes the column order for every batched destination table.
// The storage writer builds rows as column→value maps; InsertRows projects
// them into this order for CopyFrom. update_at is DB-side (default now())
// and deliberately absent here.
var tableColumns = map[string][]string{
	"iot_heartbeat": {
		"device_id", "device_type", "message_id", "active_modules", "parse_at",
	},
	"iot_temp_hum": {
		"device_id", "device_type", "module_index", "module_id", "message_id",
		"temp_index10", "temp_index11", "temp_index12", "temp_index13", "temp_index14", "temp_index15",
		"hum_index10", "hum_index11", "hum_index12", "hum_index13", "hum_index14", "hum_index15",
		"parse_at",
	},
	"iot_noise_level": {
		"device_id", "device_type", "module_index", "module_id", "message_id",
		"noise_index16", "noise_index17", "noise_index18",
		"parse_at",
	},
	"iot_rfid_snapshot": {
		"device_id", "device_type", "module_index", "module_id", "message_id", "snapshot", "parse_at",
	},
	"iot_rfid_event": {
		"device_id", "device_type", "module_index", "module_id", "message_id",
		"slot_index", "tag_id", "action", "alarm", "parse_at",
	},
	"iot_door_event": {
		"device_id", "device_type", "module_index", "module_id", "message_id",
		"door_state", "door1_state", "door2_state", "parse_at",
	},
	"iot_cmd_result": {
		"device_id", "device_type", "module_index", "message_id", "message_type", "result", "parse_at",
	},
	"iot_topchange_event": {
		"device_id", "device_type", "message_id",
		"description", "kind", "before_value", "after_value", "target", "parse_at",
	},
}

// Columns returns the fixed column order for table, or nil for an unknown
// destination.
func Columns(table string) []string {
	return tableColumns[table]
}

// InsertRows batch-inserts rows into table using CopyFrom. Absent map keys
// insert as NULL, never zero.
func (db *DB) InsertRows(ctx context.Context, table string, rows []map[string]any) (int64, error) {
	cols, ok := tableColumns[table]
	if !ok {
		return 0, fmt.Errorf("dbstore: unknown destination table %q", table)
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, len(cols))
		for j, c := range cols {
			vals[j] = r[c] // nil for absent keys
		}
		copyRows[i] = vals
	}

	return db.Pool.CopyFrom(ctx,
		pgx.Identifier{table},
		cols,
		pgx.CopyFromRows(copyRows),
	)
}

// DeviceMetadataRow is the upsert input for iot_meta_data.
type DeviceMetadataRow struct {
	DeviceID      string
	DeviceType    string
	IP            string
	MAC           string
	FwVer         string
	Mask          string
	Gateway       string
	Model         string
	ActiveModules []byte // JSON array of module records
	MessageID     string
}

// UpsertDeviceMetadata writes the device's authoritative metadata row,
// keeping existing values for fields the update carries empty.
func (db *DB) UpsertDeviceMetadata(ctx context.Context, row DeviceMetadataRow) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO iot_meta_data (device_id, device_type, ip, mac, fw_ver, mask, gateway, model, active_modules, message_id, parse_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (device_id) DO UPDATE SET
			device_type    = COALESCE(NULLIF($2, ''), iot_meta_data.device_type),
			ip             = COALESCE(NULLIF($3, ''), iot_meta_data.ip),
			mac            = COALESCE(NULLIF($4, ''), iot_meta_data.mac),
			fw_ver         = COALESCE(NULLIF($5, ''), iot_meta_data.fw_ver),
			mask           = COALESCE(NULLIF($6, ''), iot_meta_data.mask),
			gateway        = COALESCE(NULLIF($7, ''), iot_meta_data.gateway),
			model          = COALESCE(NULLIF($8, ''), iot_meta_data.model),
			active_modules = $9,
			message_id     = $10,
			update_at      = now()
	`, row.DeviceID, row.DeviceType, row.IP, row.MAC, row.FwVer, row.Mask, row.Gateway, row.Model, row.ActiveModules, row.MessageID)
	return err
}
