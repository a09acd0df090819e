package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", cfg.DSN())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ApplySQLiteOptimizations(db))
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "./data/classroom.db", cfg.DatabasePath)
	assert.Equal(t, 10, cfg.MaxConnections)
	assert.Equal(t, time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, cfg.ConnMaxIdleTime)
	assert.Empty(t, cfg.MigrationsPath)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_DSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DatabasePath = "/tmp/x.db"
	assert.Equal(t, "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on", cfg.DSN())

	cfg.BusyTimeout = 250 * time.Millisecond
	assert.Contains(t, cfg.DSN(), "_busy_timeout=250&")

	cfg.BusyTimeout = 0
	assert.Contains(t, cfg.DSN(), "_busy_timeout=5000&", "zero falls back to the default")
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }},
		{"negative idle time", func(c *Config) { c.ConnMaxIdleTime = -time.Second }},
		{"negative busy timeout", func(c *Config) { c.BusyTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestMigrationManager_EmbeddedSchema(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db, "")

	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, mm.ValidateSchema())

	v := NewSchemaValidator(db)
	assert.NoError(t, v.ValidateTableStructure())
	assert.NoError(t, v.ValidateConstraints())

	// Constraint probes must not leave rows behind
	var users int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM users").Scan(&users))
	assert.Zero(t, users)
}

func TestMigrationManager_Idempotent(t *testing.T) {
	db := openTestDB(t)
	mm := NewMigrationManager(db, "")

	require.NoError(t, mm.ApplyMigrations())
	require.NoError(t, mm.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestMigrationManager_DirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "002_second.sql"),
		[]byte("CREATE TABLE second (id TEXT PRIMARY KEY);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_first.sql"),
		[]byte("CREATE TABLE first (id TEXT PRIMARY KEY);"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	db := openTestDB(t)
	mm := NewMigrationManager(db, dir)

	migrations, err := mm.loadMigrations()
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "001", migrations[0].Version)
	assert.Equal(t, "first", migrations[0].Description)

	require.NoError(t, mm.ApplyMigrations())
	assert.Error(t, mm.ValidateSchema(), "classroom tables are absent from the override set")
}

func TestMigrationManager_FailedMigrationRollsBack(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "001_broken.sql"),
		[]byte("CREATE TABLE ok (id TEXT); THIS IS NOT SQL;"), 0o644))

	db := openTestDB(t)
	err := NewMigrationManager(db, dir).ApplyMigrations()
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Zero(t, count)
}
