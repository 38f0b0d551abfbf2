package models

import (
	"time"

	"github.com/google/uuid"
)

// Role describes a user's role inside a tenant.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleMember:
		return true
	}
	return false
}

// Tenant represents one organization boundary. All KPI data is scoped to a
// tenant.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// TenantAssociation represents one user's membership in one tenant.
//
// A user may have zero, one, or many associations. Conceptually at most one
// carries IsPrimary, but storage enforces no uniqueness, so consumers must
// tolerate zero or several primaries and resolve deterministically.
type TenantAssociation struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Role       Role      `json:"role"`
	IsAdmin    bool      `json:"is_admin"` // legacy flag, overlaps Role
	KPIEnabled bool      `json:"kpi_enabled"`
	IsPrimary  bool      `json:"is_primary"`
	TenantName string    `json:"tenant_name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Usable reports whether this association grants KPI dashboard access
// without any further remedy.
func (a *TenantAssociation) Usable() bool {
	return a.KPIEnabled
}

// RepairState tracks progress of one repair attempt.
type RepairState string

const (
	RepairIdle      RepairState = "idle"
	RepairRepairing RepairState = "repairing"
	RepairSuccess   RepairState = "success"
	RepairFailed    RepairState = "failed"
)

// RepairOutcome is the result of a repair attempt. Transitions are
// one-directional per attempt; a new attempt may start from any terminal
// state.
type RepairOutcome struct {
	State       RepairState        `json:"state"`
	Association *TenantAssociation `json:"association,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	CompletedAt time.Time          `json:"completed_at,omitzero"`
}
