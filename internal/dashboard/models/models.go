package models

import (
	"time"

	"github.com/google/uuid"

	dErrors "pulseboard/pkg/domain-errors"
)

// Scope is the resolved tenant context a fetch operates against.
type Scope struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
}

// String renders the scope as a stable cache/log key.
func (s Scope) String() string {
	return s.TenantID.String() + "/" + s.UserID.String()
}

// UserKPI is one per-user row inside a snapshot.
type UserKPI struct {
	UserID         uuid.UUID `json:"user_id"`
	DisplayName    string    `json:"display_name"`
	LeadsAssigned  int       `json:"leads_assigned"`
	LeadsConverted int       `json:"leads_converted"`
	OpenTasks      int       `json:"open_tasks"`
}

// SystemHealth summarizes backend health indicators shown on the dashboard.
type SystemHealth struct {
	Status       string `json:"status"`
	FailedJobs   int    `json:"failed_jobs"`
	StaleRecords int    `json:"stale_records"`
}

// MetricsSnapshot is an immutable point-in-time aggregate result for a scope.
// A new fetch produces a new snapshot; prior ones are never mutated, so a
// snapshot is safe to hand out to concurrent readers.
type MetricsSnapshot struct {
	LeadsCount        int          `json:"leads_count"`
	ActiveProjects    int          `json:"active_projects"`
	CompletedProjects int          `json:"completed_projects"`
	UsersCount        int          `json:"users_count"`
	UserKPIs          []UserKPI    `json:"user_kpis,omitempty"`
	SystemHealth      SystemHealth `json:"system_health"`
	CapturedAt        time.Time    `json:"captured_at"`
}

// State is the observable fetch state for one scope, exposed to the UI layer.
type State struct {
	Data           *MetricsSnapshot `json:"data,omitempty"`
	Loading        bool             `json:"loading"`
	Error          string           `json:"error,omitempty"`
	Classification dErrors.Code     `json:"error_classification,omitempty"`
	LastUpdated    time.Time        `json:"last_updated,omitzero"`
}
