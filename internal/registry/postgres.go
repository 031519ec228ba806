// Package registry persists tenant metadata in the central registry database.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"strata/internal/sentinel"
	"strata/internal/tenant/models"
)

// PostgresStore persists tenant records in the central registry database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed registry store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert persists a tenant record. A duplicate id maps to ErrAlreadyExists.
func (s *PostgresStore) Insert(ctx context.Context, rec *models.TenantRecord) error {
	if rec == nil {
		return fmt.Errorf("tenant record is required")
	}
	query := `
		INSERT INTO tenants (id, name, db_name, db_user, encrypted_password, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.Name,
		rec.DBName,
		rec.DBUser,
		rec.EncryptedPassword,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("tenant %s: %w", rec.ID, sentinel.ErrAlreadyExists)
		}
		return fmt.Errorf("insert tenant: %w", err)
	}
	return nil
}

// FindByID retrieves one tenant record.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID string) (*models.TenantRecord, error) {
	query := `
		SELECT id, name, db_name, db_user, encrypted_password, created_at
		FROM tenants
		WHERE id = $1
	`
	rec, err := scanTenant(s.db.QueryRowContext(ctx, query, tenantID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
		}
		return nil, fmt.Errorf("find tenant by id: %w", err)
	}
	return rec, nil
}

// List returns all tenant records, newest first.
func (s *PostgresStore) List(ctx context.Context) ([]*models.TenantRecord, error) {
	query := `
		SELECT id, name, db_name, db_user, encrypted_password, created_at
		FROM tenants
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var records []*models.TenantRecord
	for rows.Next() {
		rec, err := scanTenant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	return records, nil
}

// UpdateName renames a tenant. Database and role identifiers are immutable
// once assigned, so the name is the only mutable column.
func (s *PostgresStore) UpdateName(ctx context.Context, tenantID, name string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tenants SET name = $2 WHERE id = $1`, tenantID, name)
	if err != nil {
		return fmt.Errorf("rename tenant: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rename tenant rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
	}
	return nil
}

// UpdatePassword replaces the stored encrypted password. Called when
// re-provisioning resets the live role password, so the row never drifts from
// the credential the role actually has.
func (s *PostgresStore) UpdatePassword(ctx context.Context, tenantID, encryptedPassword string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET encrypted_password = $2 WHERE id = $1`, tenantID, encryptedPassword)
	if err != nil {
		return fmt.Errorf("update tenant password: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update tenant password rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
	}
	return nil
}

// Delete removes the registry row for a tenant.
func (s *PostgresStore) Delete(ctx context.Context, tenantID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE id = $1`, tenantID)
	if err != nil {
		return fmt.Errorf("delete tenant row: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete tenant rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, sentinel.ErrTenantNotFound)
	}
	return nil
}

type tenantRow interface {
	Scan(dest ...any) error
}

func scanTenant(row tenantRow) (*models.TenantRecord, error) {
	var rec models.TenantRecord
	if err := row.Scan(&rec.ID, &rec.Name, &rec.DBName, &rec.DBUser, &rec.EncryptedPassword, &rec.CreatedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
