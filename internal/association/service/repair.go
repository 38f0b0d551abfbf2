// Package service implements the self-healing association repair flow: when a
// user has no usable tenant association, a default one is created against the
// oldest tenant so the dashboard can proceed.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pulseboard/internal/association/models"
	"pulseboard/internal/association/resolver"
	"pulseboard/internal/association/store"
	"pulseboard/internal/sentinel"
	dErrors "pulseboard/pkg/domain-errors"
	platformsync "pulseboard/pkg/platform/sync"
)

// RepairService idempotently creates a default association for users with no
// usable one. Safe under retry and under concurrent attempts for the same
// user: a per-user critical section plus the store's uniqueness guarantee
// ensure this service never produces a duplicate association.
type RepairService struct {
	associations store.AssociationStore
	tenants      store.TenantStore

	userLocks *platformsync.ShardedMutex

	mu       sync.RWMutex
	outcomes map[uuid.UUID]models.RepairOutcome

	logger  *slog.Logger
	metrics Recorder
}

// Recorder receives repair outcome observations.
type Recorder interface {
	ObserveRepair(outcome string)
}

// Option configures the RepairService.
type Option func(*RepairService)

func WithLogger(logger *slog.Logger) Option {
	return func(s *RepairService) { s.logger = logger }
}

func WithMetrics(m Recorder) Option {
	return func(s *RepairService) { s.metrics = m }
}

// NewRepairService creates a repair service over the given stores.
func NewRepairService(associations store.AssociationStore, tenants store.TenantStore, opts ...Option) *RepairService {
	s := &RepairService{
		associations: associations,
		tenants:      tenants,
		userLocks:    platformsync.NewShardedMutex(),
		outcomes:     make(map[uuid.UUID]models.RepairOutcome),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Outcome returns the last observed repair outcome for a user. Users with no
// recorded attempt report RepairIdle.
func (s *RepairService) Outcome(userID uuid.UUID) models.RepairOutcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if outcome, ok := s.outcomes[userID]; ok {
		return outcome
	}
	return models.RepairOutcome{State: models.RepairIdle}
}

// Repair creates a default manager association for the user against the
// oldest tenant in the system. The attempt runs inside a per-user critical
// section with a fresh existence check, so invoking Repair when a usable
// association already exists is a no-op reporting success with the existing
// association. Failures are reported in the returned outcome, never thrown
// past the service boundary.
func (s *RepairService) Repair(ctx context.Context, userID uuid.UUID, userEmail string) models.RepairOutcome {
	s.setOutcome(userID, models.RepairOutcome{State: models.RepairRepairing})

	s.userLocks.Lock(userID.String())
	defer s.userLocks.Unlock(userID.String())

	// Precondition: re-check existence inside the critical section. A
	// concurrent attempt (another tab, a retried request) may have already
	// repaired this user.
	if existing, err := s.usableAssociation(ctx, userID); err == nil && existing != nil {
		return s.finish(userID, models.RepairOutcome{
			State:       models.RepairSuccess,
			Association: existing,
			CompletedAt: time.Now().UTC(),
		})
	}

	tenant, err := s.tenants.Oldest(ctx)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.finish(userID, models.RepairOutcome{
				State:       models.RepairFailed,
				Reason:      "no tenant available for auto-association",
				CompletedAt: time.Now().UTC(),
			})
		}
		return s.finish(userID, models.RepairOutcome{
			State:       models.RepairFailed,
			Reason:      err.Error(),
			CompletedAt: time.Now().UTC(),
		})
	}

	assoc := &models.TenantAssociation{
		ID:         uuid.New(),
		UserID:     userID,
		TenantID:   tenant.ID,
		Role:       models.RoleManager,
		KPIEnabled: true,
		IsPrimary:  true,
		TenantName: tenant.Name,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.associations.Create(ctx, assoc); err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			// Lost a race against an external writer. The association now
			// exists, which is exactly the state repair wanted.
			if existing, lookupErr := s.usableAssociation(ctx, userID); lookupErr == nil && existing != nil {
				return s.finish(userID, models.RepairOutcome{
					State:       models.RepairSuccess,
					Association: existing,
					CompletedAt: time.Now().UTC(),
				})
			}
		}
		// Surface the store's message verbatim for diagnostics.
		return s.finish(userID, models.RepairOutcome{
			State:       models.RepairFailed,
			Reason:      err.Error(),
			CompletedAt: time.Now().UTC(),
		})
	}

	s.logger.Info("repaired tenant association",
		"user_id", userID,
		"user_email", userEmail,
		"tenant_id", tenant.ID,
	)

	return s.finish(userID, models.RepairOutcome{
		State:       models.RepairSuccess,
		Association: assoc,
		CompletedAt: time.Now().UTC(),
	})
}

// usableAssociation resolves the user's current associations and returns the
// selected one when it already grants access.
func (s *RepairService) usableAssociation(ctx context.Context, userID uuid.UUID) (*models.TenantAssociation, error) {
	associations, err := s.associations.ListByUser(ctx, userID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list associations")
	}
	if res := resolver.Resolve(associations); res.Granted() {
		return res.Selected, nil
	}
	return nil, nil
}

func (s *RepairService) finish(userID uuid.UUID, outcome models.RepairOutcome) models.RepairOutcome {
	s.setOutcome(userID, outcome)
	if s.metrics != nil {
		s.metrics.ObserveRepair(string(outcome.State))
	}
	if outcome.State == models.RepairFailed {
		s.logger.Warn("association repair failed", "user_id", userID, "reason", outcome.Reason)
	}
	return outcome
}

func (s *RepairService) setOutcome(userID uuid.UUID, outcome models.RepairOutcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[userID] = outcome
}
