// Package service ties the dashboard flow together: resolve the user's
// operating tenant, repair a missing association on request, and hand the
// resolved scope to the fetch orchestrator.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	assocmetrics "pulseboard/internal/association/metrics"
	assocmodels "pulseboard/internal/association/models"
	"pulseboard/internal/association/resolver"
	assocservice "pulseboard/internal/association/service"
	"pulseboard/internal/association/store"
	"pulseboard/internal/dashboard/models"
	"pulseboard/internal/dashboard/orchestrator"
	dErrors "pulseboard/pkg/domain-errors"
)

// Service resolves scopes and drives the orchestrator on behalf of one
// dashboard per user.
type Service struct {
	associations store.AssociationStore
	repair       *assocservice.RepairService
	orch         *orchestrator.Orchestrator
	metrics      *assocmetrics.Metrics
	logger       *slog.Logger

	mu     sync.Mutex
	scopes map[uuid.UUID]models.Scope // active scope per user
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithMetrics(m *assocmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New creates a dashboard service.
func New(associations store.AssociationStore, repair *assocservice.RepairService, orch *orchestrator.Orchestrator, opts ...Option) *Service {
	s := &Service{
		associations: associations,
		repair:       repair,
		orch:         orch,
		logger:       slog.Default(),
		scopes:       make(map[uuid.UUID]models.Scope),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Activate resolves the user's operating tenant and opens the fetch scope.
// Denied access surfaces as a classified domain error so the caller can
// offer the right remedy (repair, contact admin, or retry).
func (s *Service) Activate(ctx context.Context, userID uuid.UUID) (models.Scope, error) {
	associations, err := s.associations.ListByUser(ctx, userID)
	if err != nil {
		return models.Scope{}, dErrors.Wrap(err, dErrors.CodeTransient, "list associations")
	}

	res := resolver.Resolve(associations)
	if s.metrics != nil {
		s.metrics.ObserveResolution(string(res.Classification))
	}

	switch {
	case res.Selected == nil:
		return models.Scope{}, dErrors.New(dErrors.CodeNoTenant, "user has no tenant association")
	case res.Classification == dErrors.CodeNotAuthorized:
		return models.Scope{}, dErrors.New(dErrors.CodeNotAuthorized, "user role does not grant KPI access")
	case res.Classification == dErrors.CodeFeatureDisabled:
		return models.Scope{}, dErrors.New(dErrors.CodeFeatureDisabled, "KPI dashboard is disabled for this tenant")
	}

	scope := models.Scope{TenantID: res.Selected.TenantID, UserID: userID}
	if err := s.orch.Open(ctx, scope); err != nil {
		return models.Scope{}, err
	}

	s.mu.Lock()
	prior, had := s.scopes[userID]
	s.scopes[userID] = scope
	s.mu.Unlock()

	// A changed resolution (tenant switch, repaired association) abandons
	// the prior scope.
	if had && prior != scope {
		s.orch.Close(prior)
	}
	return scope, nil
}

// State returns the observable fetch state for the user's active scope,
// activating it first if needed.
func (s *Service) State(ctx context.Context, userID uuid.UUID) (models.State, error) {
	scope, err := s.Activate(ctx, userID)
	if err != nil {
		return models.State{}, err
	}
	state, ok := s.orch.State(scope)
	if !ok {
		return models.State{}, dErrors.New(dErrors.CodeInternal, "scope not open")
	}
	return state, nil
}

// Refresh manually re-triggers the user's active scope, resetting the retry
// budget.
func (s *Service) Refresh(ctx context.Context, userID uuid.UUID) error {
	scope, err := s.Activate(ctx, userID)
	if err != nil {
		return err
	}
	s.orch.Refresh(scope)
	return nil
}

// Repair runs the self-healing association flow and, on success, activates
// the repaired scope so the very next state read can serve data.
func (s *Service) Repair(ctx context.Context, userID uuid.UUID, userEmail string) assocmodels.RepairOutcome {
	outcome := s.repair.Repair(ctx, userID, userEmail)
	if outcome.State == assocmodels.RepairSuccess {
		if _, err := s.Activate(ctx, userID); err != nil {
			s.logger.Warn("activation after repair failed", "user_id", userID, "error", err)
		}
	}
	return outcome
}

// RepairOutcome exposes the user's last repair outcome observable.
func (s *Service) RepairOutcome(userID uuid.UUID) assocmodels.RepairOutcome {
	return s.repair.Outcome(userID)
}

// Deactivate closes the user's active scope, cancelling any in-flight fetch
// and releasing the timer and event subscription.
func (s *Service) Deactivate(userID uuid.UUID) {
	s.mu.Lock()
	scope, ok := s.scopes[userID]
	delete(s.scopes, userID)
	s.mu.Unlock()
	if ok {
		s.orch.Close(scope)
	}
}
