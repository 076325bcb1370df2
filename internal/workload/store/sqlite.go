package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Ensure the SQL store implements the Store interface
var _ Store = (*sqlStore)(nil)

// NewSQLite opens a SQLite-backed store at the given path, creating the
// schema when missing.
func NewSQLite(dbPath string) (Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &sqlStore{db: db, driver: driverSQLite}
	if err := initSQLiteSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func initSQLiteSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workloads (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		tenant_id TEXT NOT NULL UNIQUE,
		tenant_label TEXT NOT NULL,
		name TEXT NOT NULL,
		port INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_active_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workload_operators (
		workload_id INTEGER NOT NULL,
		identity TEXT NOT NULL,
		PRIMARY KEY (workload_id, identity),
		FOREIGN KEY (workload_id) REFERENCES workloads(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS workload_extensions (
		workload_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		PRIMARY KEY (workload_id, name),
		FOREIGN KEY (workload_id) REFERENCES workloads(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS workload_settings (
		workload_id INTEGER NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (workload_id, key),
		FOREIGN KEY (workload_id) REFERENCES workloads(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_workloads_tenant_id ON workloads(tenant_id);
	`

	_, err := db.Exec(schema)
	return err
}
