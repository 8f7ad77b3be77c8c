package db

import "database/sql"

func init() {
	RegisterMigration(Migration{
		Version:     1,
		Description: "usage ledger",
		Up:          migrateUsageLedger,
	})
}

// usage_events holds one row per terminal agent result. Aggregation by
// session, day or week happens at query time.
func migrateUsageLedger(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS usage_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			tool_uses INTEGER NOT NULL DEFAULT 0,
			files_changed INTEGER NOT NULL DEFAULT 0,
			recorded_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_usage_events_session
			ON usage_events(session_id);
		CREATE INDEX IF NOT EXISTS idx_usage_events_recorded_at
			ON usage_events(recorded_at);
	`)
	return err
}
