package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config describes the SQLite store backing the coordinator
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	// BusyTimeout is how long a connection waits on a locked database
	BusyTimeout time.Duration `json:"busy_timeout"`
	// MigrationsPath overrides the embedded migration set when non-empty
	MigrationsPath string `json:"migrations_path"`
}

// DefaultConfig suits one process serving a few dozen classrooms
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/classroom.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		BusyTimeout:     5 * time.Second,
	}
}

func (c *Config) Validate() error {
	switch {
	case c.DatabasePath == "":
		return errors.New("database path cannot be empty")
	case c.MaxConnections <= 0:
		return errors.New("max connections must be greater than 0")
	case c.ConnMaxLifetime <= 0:
		return errors.New("connection max lifetime must be greater than 0")
	case c.ConnMaxIdleTime <= 0:
		return errors.New("connection max idle time must be greater than 0")
	case c.BusyTimeout < 0:
		return errors.New("busy timeout cannot be negative")
	}
	return nil
}

func (c *Config) busyTimeoutMillis() int64 {
	if c.BusyTimeout <= 0 {
		return DefaultConfig().BusyTimeout.Milliseconds()
	}
	return c.BusyTimeout.Milliseconds()
}

// DSN builds the go-sqlite3 connection string
// TECHNICAL DISCOVERY: busy_timeout and foreign_keys are connection-scoped in SQLite,
// so they travel in the DSN and reach every pooled connection
func (c *Config) DSN() string {
	return fmt.Sprintf("%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on", c.DatabasePath, c.busyTimeoutMillis())
}

// ApplySQLiteOptimizations sets database-wide pragmas once after opening.
// WAL keeps dashboard reads from blocking the single writer.
func ApplySQLiteOptimizations(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}
