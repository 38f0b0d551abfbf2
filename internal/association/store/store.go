package store

import (
	"context"

	"github.com/google/uuid"

	"pulseboard/internal/association/models"
)

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks

// AssociationStore persists user-tenant association records.
type AssociationStore interface {
	// ListByUser returns all associations for a user, oldest first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.TenantAssociation, error)

	// Create inserts a new association. Returns sentinel.ErrAlreadyUsed
	// (wrapped) when the (user, tenant) pair already exists.
	Create(ctx context.Context, assoc *models.TenantAssociation) error
}

// TenantStore reads tenant records needed by the repair flow.
type TenantStore interface {
	// Oldest returns the oldest-created tenant, or sentinel.ErrNotFound when
	// no tenant exists.
	Oldest(ctx context.Context) (*models.Tenant, error)
}
