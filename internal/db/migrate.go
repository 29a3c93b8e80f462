// Package db provides database schema migration management.
package db

import (
	"database/sql"
	"fmt"
	"time"
)

// Migration is one versioned schema step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered schema history. Append only; never edit an
// applied migration.
var migrations = []Migration{
	{
		Version:     1,
		Description: "create records table",
		SQL: `
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			record_type TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			is_synced INTEGER NOT NULL DEFAULT 0,
			sync_timestamp INTEGER,
			sync_error TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			synced_version INTEGER NOT NULL DEFAULT 0,
			base_payload TEXT,
			payload TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_records_unsynced
			ON records (record_type, is_synced, created_at);`,
	},
	{
		Version:     2,
		Description: "create sync_queue table",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_queue (
			id TEXT PRIMARY KEY,
			operation TEXT NOT NULL,
			collection_ref TEXT NOT NULL,
			document_id TEXT NOT NULL,
			data TEXT,
			version INTEGER NOT NULL DEFAULT 0,
			sync_timestamp INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			last_attempt INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_sync_queue_created ON sync_queue (created_at);`,
	},
	{
		Version:     3,
		Description: "create sync_checkpoints table",
		SQL: `
		CREATE TABLE IF NOT EXISTS sync_checkpoints (
			id TEXT PRIMARY KEY,
			sync_type TEXT NOT NULL,
			total_records INTEGER NOT NULL DEFAULT 0,
			processed_records INTEGER NOT NULL DEFAULT 0,
			current_batch_number INTEGER NOT NULL DEFAULT 0,
			processed_batches TEXT NOT NULL DEFAULT '[]',
			failed_records TEXT NOT NULL DEFAULT '[]',
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			is_complete INTEGER NOT NULL DEFAULT 0,
			completed_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS idx_checkpoints_incomplete
			ON sync_checkpoints (sync_type, is_complete, created_at);`,
	},
}

// Migrator applies pending schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a Migrator for the given database.
func NewMigrator(db *DB) *Migrator {
	return &Migrator{db: db.DB}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL,
		description TEXT NOT NULL CHECK(length(description) > 0)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the latest applied schema version, 0 when none.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// Migrate applies all pending migrations in order, each inside a transaction.
func (m *Migrator) Migrate() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	current, err := m.CurrentVersion()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.Version <= current {
			continue
		}

		tx, err := m.db.Begin()
		if err != nil {
			return fmt.Errorf("migration %d: begin: %w", mig.Version, err)
		}

		if _, err := tx.Exec(mig.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", mig.Version, mig.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			mig.Version, time.Now().Unix(), mig.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: record: %w", mig.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d: commit: %w", mig.Version, err)
		}
	}

	return nil
}
