package store

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// NewPostgres opens a PostgreSQL-backed store using the pgx stdlib driver,
// creating the schema when missing. The connection is verified with a ping
// so a dead database fails fast at startup.
func NewPostgres(dsn string, maxConns int) (Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	if maxConns <= 0 {
		maxConns = 25
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns / 5)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	s := &sqlStore{db: db, driver: driverPostgres}
	if err := initPostgresSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func initPostgresSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS workloads (
		id BIGSERIAL PRIMARY KEY,
		tenant_id TEXT NOT NULL UNIQUE,
		tenant_label TEXT NOT NULL,
		name TEXT NOT NULL,
		port INTEGER NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		last_active_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS workload_operators (
		workload_id BIGINT NOT NULL REFERENCES workloads(id) ON DELETE CASCADE,
		identity TEXT NOT NULL,
		PRIMARY KEY (workload_id, identity)
	);

	CREATE TABLE IF NOT EXISTS workload_extensions (
		workload_id BIGINT NOT NULL REFERENCES workloads(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		PRIMARY KEY (workload_id, name)
	);

	CREATE TABLE IF NOT EXISTS workload_settings (
		workload_id BIGINT NOT NULL REFERENCES workloads(id) ON DELETE CASCADE,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		PRIMARY KEY (workload_id, key)
	);
	`

	_, err := db.Exec(schema)
	return err
}
