package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hostclub/serverpool/internal/common/errors"
	"github.com/hostclub/serverpool/internal/workload/models"
	v1 "github.com/hostclub/serverpool/pkg/api/v1"
)

// Driver names as registered with database/sql.
const (
	driverSQLite   = "sqlite3"
	driverPostgres = "pgx"
)

// sqlStore implements Store on database/sql. The SQL is written with ?
// placeholders and rebound for postgres.
type sqlStore struct {
	db     *sql.DB
	driver string
}

// q rebinds ? placeholders to $1..$n for postgres.
func (s *sqlStore) q(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// CreateWorkload inserts the workload row plus its operators and settings
// in one transaction and assigns the generated ID.
func (s *sqlStore) CreateWorkload(ctx context.Context, w *models.Workload) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.StoreFailure("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insert = `
		INSERT INTO workloads (tenant_id, tenant_label, name, port, status, created_at, last_active_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	var id int64
	if s.driver == driverPostgres {
		err = tx.QueryRowContext(ctx, s.q(insert+" RETURNING id"),
			w.TenantID, w.TenantLabel, w.Name, w.Port, string(w.Status), w.CreatedAt, w.LastActiveAt,
		).Scan(&id)
		if err != nil {
			return errors.StoreFailure("failed to insert workload", err)
		}
	} else {
		res, execErr := tx.ExecContext(ctx, insert,
			w.TenantID, w.TenantLabel, w.Name, w.Port, string(w.Status), w.CreatedAt, w.LastActiveAt)
		if execErr != nil {
			return errors.StoreFailure("failed to insert workload", execErr)
		}
		id, err = res.LastInsertId()
		if err != nil {
			return errors.StoreFailure("failed to read workload id", err)
		}
	}

	for identity := range w.Operators {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO workload_operators (workload_id, identity) VALUES (?, ?)`),
			id, identity); err != nil {
			return errors.StoreFailure("failed to insert operator", err)
		}
	}
	for key, value := range w.Settings {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO workload_settings (workload_id, key, value) VALUES (?, ?, ?)`),
			id, key, value); err != nil {
			return errors.StoreFailure("failed to insert setting", err)
		}
	}
	for name := range w.Extensions {
		if _, err := tx.ExecContext(ctx,
			s.q(`INSERT INTO workload_extensions (workload_id, name) VALUES (?, ?)`),
			id, name); err != nil {
			return errors.StoreFailure("failed to insert extension", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.StoreFailure("failed to commit workload", err)
	}
	w.ID = id
	return nil
}

// GetByTenant returns a tenant's workload with all associations loaded.
func (s *sqlStore) GetByTenant(ctx context.Context, tenantID string) (*models.Workload, error) {
	w := &models.Workload{}
	var status string
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT id, tenant_id, tenant_label, name, port, status, created_at, last_active_at
		FROM workloads WHERE tenant_id = ?`), tenantID,
	).Scan(&w.ID, &w.TenantID, &w.TenantLabel, &w.Name, &w.Port, &status, &w.CreatedAt, &w.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound("workload", tenantID)
	}
	if err != nil {
		return nil, errors.StoreFailure("failed to query workload", err)
	}
	w.Status = v1.WorkloadStatus(status)

	if err := s.loadAssociations(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// List returns every workload with associations loaded.
func (s *sqlStore) List(ctx context.Context) ([]*models.Workload, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, tenant_label, name, port, status, created_at, last_active_at
		FROM workloads ORDER BY id`)
	if err != nil {
		return nil, errors.StoreFailure("failed to list workloads", err)
	}
	defer rows.Close()

	var result []*models.Workload
	for rows.Next() {
		w := &models.Workload{}
		var status string
		if err := rows.Scan(&w.ID, &w.TenantID, &w.TenantLabel, &w.Name, &w.Port,
			&status, &w.CreatedAt, &w.LastActiveAt); err != nil {
			return nil, errors.StoreFailure("failed to scan workload", err)
		}
		w.Status = v1.WorkloadStatus(status)
		result = append(result, w)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreFailure("failed to iterate workloads", err)
	}

	for _, w := range result {
		if err := s.loadAssociations(ctx, w); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *sqlStore) loadAssociations(ctx context.Context, w *models.Workload) error {
	w.Operators = make(map[string]struct{})
	w.Extensions = make(map[string]struct{})
	w.Settings = make(map[string]string)

	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT identity FROM workload_operators WHERE workload_id = ?`), w.ID)
	if err != nil {
		return errors.StoreFailure("failed to query operators", err)
	}
	for rows.Next() {
		var identity string
		if err := rows.Scan(&identity); err != nil {
			rows.Close()
			return errors.StoreFailure("failed to scan operator", err)
		}
		w.Operators[identity] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.StoreFailure("failed to iterate operators", err)
	}

	rows, err = s.db.QueryContext(ctx,
		s.q(`SELECT name FROM workload_extensions WHERE workload_id = ?`), w.ID)
	if err != nil {
		return errors.StoreFailure("failed to query extensions", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return errors.StoreFailure("failed to scan extension", err)
		}
		w.Extensions[name] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return errors.StoreFailure("failed to iterate extensions", err)
	}

	rows, err = s.db.QueryContext(ctx,
		s.q(`SELECT key, value FROM workload_settings WHERE workload_id = ?`), w.ID)
	if err != nil {
		return errors.StoreFailure("failed to query settings", err)
	}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			rows.Close()
			return errors.StoreFailure("failed to scan setting", err)
		}
		w.Settings[key] = value
	}
	rows.Close()
	return rows.Err()
}

// Delete removes the workload row; operators, extensions and settings
// cascade.
func (s *sqlStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM workloads WHERE id = ?`), id)
	if err != nil {
		return errors.StoreFailure("failed to delete workload", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("workload", fmt.Sprintf("%d", id))
	}
	return nil
}

// UpdateStatus persists a status transition.
func (s *sqlStore) UpdateStatus(ctx context.Context, id int64, status v1.WorkloadStatus) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE workloads SET status = ? WHERE id = ?`), string(status), id)
	if err != nil {
		return errors.StoreFailure("failed to update status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("workload", fmt.Sprintf("%d", id))
	}
	return nil
}

// TouchLastActive persists a new last-active timestamp.
func (s *sqlStore) TouchLastActive(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE workloads SET last_active_at = ? WHERE id = ?`), at, id)
	if err != nil {
		return errors.StoreFailure("failed to update last active", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFound("workload", fmt.Sprintf("%d", id))
	}
	return nil
}

// AddOperator records an operator grant. Granting twice is a no-op.
func (s *sqlStore) AddOperator(ctx context.Context, id int64, identity string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO workload_operators (workload_id, identity) VALUES (?, ?)
		ON CONFLICT (workload_id, identity) DO NOTHING`), id, identity)
	if err != nil {
		return errors.StoreFailure("failed to add operator", err)
	}
	return nil
}

// RemoveOperator removes an operator grant.
func (s *sqlStore) RemoveOperator(ctx context.Context, id int64, identity string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM workload_operators WHERE workload_id = ? AND identity = ?`), id, identity)
	if err != nil {
		return errors.StoreFailure("failed to remove operator", err)
	}
	return nil
}

// AddExtension records an installed extension. Recording twice is a no-op.
func (s *sqlStore) AddExtension(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO workload_extensions (workload_id, name) VALUES (?, ?)
		ON CONFLICT (workload_id, name) DO NOTHING`), id, name)
	if err != nil {
		return errors.StoreFailure("failed to add extension", err)
	}
	return nil
}

// RemoveExtension removes an installed extension record.
func (s *sqlStore) RemoveExtension(ctx context.Context, id int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM workload_extensions WHERE workload_id = ? AND name = ?`), id, name)
	if err != nil {
		return errors.StoreFailure("failed to remove extension", err)
	}
	return nil
}

// UpsertSetting inserts or replaces a setting value.
func (s *sqlStore) UpsertSetting(ctx context.Context, id int64, key, value string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		INSERT INTO workload_settings (workload_id, key, value) VALUES (?, ?, ?)
		ON CONFLICT (workload_id, key) DO UPDATE SET value = excluded.value`), id, key, value)
	if err != nil {
		return errors.StoreFailure("failed to upsert setting", err)
	}
	return nil
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	return s.db.Close()
}
