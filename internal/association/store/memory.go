package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulseboard/internal/association/models"
	"pulseboard/internal/sentinel"
)

// InMemory stores associations and tenants in memory for tests and the demo
// environment.
type InMemory struct {
	mu           sync.RWMutex
	associations map[uuid.UUID]*models.TenantAssociation
	pairIdx      map[string]uuid.UUID
	tenants      map[uuid.UUID]*models.Tenant
}

// NewInMemory creates an in-memory association/tenant store.
func NewInMemory() *InMemory {
	return &InMemory{
		associations: make(map[uuid.UUID]*models.TenantAssociation),
		pairIdx:      make(map[string]uuid.UUID),
		tenants:      make(map[uuid.UUID]*models.Tenant),
	}
}

func pairKey(userID, tenantID uuid.UUID) string {
	return userID.String() + ":" + tenantID.String()
}

// ListByUser returns all associations for a user, oldest first.
func (s *InMemory) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.TenantAssociation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TenantAssociation
	for _, a := range s.associations {
		if a.UserID == userID {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Create atomically inserts the association if the (user, tenant) pair is not
// already present.
func (s *InMemory) Create(_ context.Context, assoc *models.TenantAssociation) error {
	if !assoc.Role.Valid() {
		return fmt.Errorf("invalid role %q", assoc.Role)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(assoc.UserID, assoc.TenantID)
	if _, exists := s.pairIdx[key]; exists {
		return fmt.Errorf("association already exists: %w", sentinel.ErrAlreadyUsed)
	}
	if assoc.ID == uuid.Nil {
		assoc.ID = uuid.New()
	}
	if assoc.CreatedAt.IsZero() {
		assoc.CreatedAt = time.Now().UTC()
	}
	copied := *assoc
	s.associations[assoc.ID] = &copied
	s.pairIdx[key] = assoc.ID
	return nil
}

// AddTenant seeds a tenant record.
func (s *InMemory) AddTenant(t *models.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *t
	s.tenants[t.ID] = &copied
}

// Oldest returns the oldest-created tenant.
func (s *InMemory) Oldest(_ context.Context) (*models.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var oldest *models.Tenant
	for _, t := range s.tenants {
		if oldest == nil || t.CreatedAt.Before(oldest.CreatedAt) {
			oldest = t
		}
	}
	if oldest == nil {
		return nil, sentinel.ErrNotFound
	}
	copied := *oldest
	return &copied, nil
}
