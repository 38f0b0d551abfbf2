// Package events delivers row-level change notifications for the tables the
// dashboard depends on. The orchestrator subscribes per scope and re-fetches
// when a relevant change arrives.
package events

import (
	"context"

	"github.com/google/uuid"
)

// ChangeEvent describes one row-level change in a watched table.
type ChangeEvent struct {
	Table    string    `json:"table"`
	TenantID uuid.UUID `json:"tenant_id"`
	Op       string    `json:"op"` // insert, update, delete
}

// Filter restricts delivery to relevant changes. Empty Tables means all
// watched tables; a zero TenantID means all tenants.
type Filter struct {
	Tables   []string
	TenantID uuid.UUID
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e ChangeEvent) bool {
	if f.TenantID != uuid.Nil && e.TenantID != uuid.Nil && e.TenantID != f.TenantID {
		return false
	}
	if len(f.Tables) == 0 {
		return true
	}
	for _, t := range f.Tables {
		if t == e.Table {
			return true
		}
	}
	return false
}

// Handler receives matching change events. Handlers must not block; slow
// work belongs on the subscriber's side.
type Handler func(ChangeEvent)

// Subscription is an active registration with a ChangeEventSource.
type Subscription interface {
	// Close unsubscribes. Safe to call more than once.
	Close() error
}

// ChangeEventSource notifies subscribers of row-level changes. Implementations
// must support repeated subscribe/unsubscribe cycles without leaking.
type ChangeEventSource interface {
	Subscribe(ctx context.Context, filter Filter, handler Handler) (Subscription, error)
}
