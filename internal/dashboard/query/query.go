// Package query defines the aggregate query capability consumed by the
// dashboard fetch orchestrator, plus its PostgreSQL implementation.
package query

import (
	"context"

	"pulseboard/internal/dashboard/models"
)

//go:generate mockgen -source=query.go -destination=mocks/mocks.go -package=mocks

// MetricsQuery executes an aggregate query for a scope. Implementations must
// classify failures with domain error codes (CodeTransient for transport
// problems, CodeNotAuthorized for authorization failures) so the orchestrator
// can decide retry behavior without inspecting messages.
type MetricsQuery interface {
	Aggregates(ctx context.Context, scope models.Scope) (*models.MetricsSnapshot, error)
}
