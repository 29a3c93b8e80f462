// Package db tests for database migration management.
package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMigrated(t *testing.T) *DB {
	t.Helper()
	db, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, NewMigrator(db).Migrate())
	return db
}

func TestMigrate_AppliesAll(t *testing.T) {
	db := openMigrated(t)

	version, err := NewMigrator(db).CurrentVersion()
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	for _, table := range []string{"records", "sync_queue", "sync_checkpoints"} {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := openMigrated(t)

	m := NewMigrator(db)
	require.NoError(t, m.Migrate())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, len(migrations), count)
}
