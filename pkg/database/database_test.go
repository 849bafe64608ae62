package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// Functional Validation Tests - Config

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)

	assert.Equal(t, "./securechat.db", config.DatabasePath)
	assert.Equal(t, 10, config.MaxConnections)
	assert.Equal(t, time.Hour, config.ConnMaxLifetime)
	assert.Equal(t, 10*time.Minute, config.ConnMaxIdleTime)
	assert.Equal(t, 5*time.Second, config.RetryDelay)
	assert.NoError(t, config.Validate())
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"zero max connections", func(c *Config) { c.MaxConnections = 0 }, true},
		{"zero lifetime", func(c *Config) { c.ConnMaxLifetime = 0 }, true},
		{"zero idle time", func(c *Config) { c.ConnMaxIdleTime = 0 }, true},
		{"zero write timeout", func(c *Config) { c.WriteTimeout = 0 }, true},
		{"negative retry delay", func(c *Config) { c.RetryDelay = -time.Second }, true},
		{"zero retry delay allowed", func(c *Config) { c.RetryDelay = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DSNCarriesDurabilityPragmas(t *testing.T) {
	dsn := DefaultConfig().DSN()
	assert.Contains(t, dsn, "_journal_mode=WAL")
	assert.Contains(t, dsn, "_synchronous=FULL")
}

// Functional Validation Tests - Migration System

func TestMigrationManager_EmbeddedMigrations(t *testing.T) {
	db := openTestDB(t)

	mgr := NewEmbeddedMigrationManager(db)
	require.NoError(t, mgr.ApplyMigrations())

	versions, err := mgr.AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)

	require.NoError(t, NewSchemaValidator(db).Validate())
}

func TestMigrationManager_Idempotent(t *testing.T) {
	db := openTestDB(t)

	mgr := NewEmbeddedMigrationManager(db)
	require.NoError(t, mgr.ApplyMigrations())
	require.NoError(t, mgr.ApplyMigrations())

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count))
	assert.Equal(t, 2, count)
}

func TestMigrationManager_OrderAndFailure(t *testing.T) {
	db := openTestDB(t)

	fsys := fstest.MapFS{
		"m/002_second.sql": {Data: []byte(`INSERT INTO first_table (id) VALUES ('x');`)},
		"m/001_first.sql":  {Data: []byte(`CREATE TABLE first_table (id TEXT PRIMARY KEY);`)},
		"m/003_broken.sql": {Data: []byte(`THIS IS NOT SQL;`)},
		"m/README.md":      {Data: []byte(`ignored`)},
	}

	err := NewMigrationManager(db, fsys, "m").ApplyMigrations()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "003")

	// 001 and 002 committed in order before the broken file
	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM first_table").Scan(&count))
	assert.Equal(t, 1, count)

	versions, err := NewMigrationManager(db, fsys, "m").AppliedVersions()
	require.NoError(t, err)
	assert.Equal(t, []string{"001", "002"}, versions)
}

func TestMigrationManager_MissingDirectory(t *testing.T) {
	db := openTestDB(t)
	err := NewMigrationManager(db, fstest.MapFS{}, "nowhere").ApplyMigrations()
	assert.Error(t, err)
}
