package dbstore

import (
	"context"
	"fmt"
	"strings"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

// migrations is the ordered list of schema migrations to apply.
// Each must be idempotent (use IF NOT EXISTS, IF EXISTS, etc.).
var migrations = []migration{
	{
		name:  "add iot_rfid_event.alarm",
		sql:   `ALTER TABLE iot_rfid_event ADD COLUMN IF NOT EXISTS alarm boolean`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'iot_rfid_event' AND column_name = 'alarm')`,
	},
	{
		name:  "add iot_meta_data.model",
		sql:   `ALTER TABLE iot_meta_data ADD COLUMN IF NOT EXISTS model text`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.columns WHERE table_name = 'iot_meta_data' AND column_name = 'model')`,
	},
	{
		name:  "add iot_cmd_result parse_at index",
		sql:   `CREATE INDEX IF NOT EXISTS idx_iot_cmd_result_parse_at ON iot_cmd_result (parse_at DESC)`,
		check: `SELECT EXISTS (SELECT 1 FROM pg_indexes WHERE indexname = 'idx_iot_cmd_result_parse_at')`,
	},
}

// Migrate runs all pending schema migrations.
// For each migration, it first checks whether the change is already present.
// If not, it attempts to apply it. If the apply fails (e.g. insufficient
// privileges), the error is returned — the caller should treat this as fatal
// since the writer's inserts depend on these columns existing.
func (db *DB) Migrate(ctx context.Context) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" {
			var exists bool
			if err := db.Pool.QueryRow(ctx, m.check).Scan(&exists); err == nil && exists {
				continue
			}
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		db.log.Debug().Msg("schema up to date")
		return nil
	}

	var applied []string
	for _, m := range pending {
		if _, err := db.Pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("migration %q: %w", m.name, err)
		}
		applied = append(applied, m.name)
	}

	db.log.Info().Str("applied", strings.Join(applied, ", ")).Msg("schema migrations applied")
	return nil
}
