package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"pulseboard/internal/association/models"
	"pulseboard/internal/sentinel"
)

// Postgres persists associations and tenants in PostgreSQL.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed association/tenant store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ListByUser returns all associations for a user, oldest first.
func (s *Postgres) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.TenantAssociation, error) {
	query := `
		SELECT a.id, a.user_id, a.tenant_id, a.role, a.is_admin, a.kpi_enabled,
		       a.is_primary, COALESCE(t.name, ''), a.created_at
		FROM tenant_associations a
		LEFT JOIN tenants t ON t.id = a.tenant_id
		WHERE a.user_id = $1
		ORDER BY a.created_at
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	defer rows.Close()

	var out []*models.TenantAssociation
	for rows.Next() {
		a := &models.TenantAssociation{}
		if err := rows.Scan(&a.ID, &a.UserID, &a.TenantID, &a.Role, &a.IsAdmin,
			&a.KPIEnabled, &a.IsPrimary, &a.TenantName, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan association: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Create inserts a new association. The unique index on (user_id, tenant_id)
// is the final guard against two repair attempts racing.
func (s *Postgres) Create(ctx context.Context, assoc *models.TenantAssociation) error {
	if !assoc.Role.Valid() {
		return fmt.Errorf("invalid role %q", assoc.Role)
	}
	if assoc.ID == uuid.Nil {
		assoc.ID = uuid.New()
	}
	query := `
		INSERT INTO tenant_associations
			(id, user_id, tenant_id, role, is_admin, kpi_enabled, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`
	_, err := s.db.ExecContext(ctx, query,
		assoc.ID,
		assoc.UserID,
		assoc.TenantID,
		string(assoc.Role),
		assoc.IsAdmin,
		assoc.KPIEnabled,
		assoc.IsPrimary,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("association already exists: %w", sentinel.ErrAlreadyUsed)
		}
		return fmt.Errorf("create association: %w", err)
	}
	return nil
}

// Oldest returns the oldest-created tenant, the auto-association target.
func (s *Postgres) Oldest(ctx context.Context) (*models.Tenant, error) {
	query := `
		SELECT id, name, created_at
		FROM tenants
		ORDER BY created_at
		LIMIT 1
	`
	t := &models.Tenant{}
	err := s.db.QueryRowContext(ctx, query).Scan(&t.ID, &t.Name, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find oldest tenant: %w", err)
	}
	return t, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
