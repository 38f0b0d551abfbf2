// Package resolver picks the operating tenant association for a user and
// classifies why dashboard access might be denied.
package resolver

import (
	"pulseboard/internal/association/models"
	dErrors "pulseboard/pkg/domain-errors"
)

// Resolution is the outcome of resolving a user's raw association set.
// Classification is empty when access is granted.
type Resolution struct {
	Selected       *models.TenantAssociation
	Classification dErrors.Code
}

// Granted reports whether the resolution permits a dashboard fetch.
func (r Resolution) Granted() bool {
	return r.Selected != nil && r.Classification == ""
}

// Resolve deterministically selects the "operating" association from a user's
// raw set. The priority chain is evaluated in order, first match wins:
//
//  1. role == manager with KPI enabled
//  2. any association with KPI enabled
//  3. role == manager
//  4. role == admin or the legacy admin flag
//  5. the first association in the input (stable fallback)
//
// The chain is total over any finite input, including duplicates and
// contradictory flags; malformed input degrades to the fallback rule rather
// than failing. Resolve is a pure function: it never mutates its input and
// the same input always yields the same result.
func Resolve(associations []*models.TenantAssociation) Resolution {
	if len(associations) == 0 {
		return Resolution{Classification: dErrors.CodeNoTenant}
	}

	selected := firstMatch(associations, func(a *models.TenantAssociation) bool {
		return a.Role == models.RoleManager && a.KPIEnabled
	})
	if selected == nil {
		selected = firstMatch(associations, func(a *models.TenantAssociation) bool {
			return a.KPIEnabled
		})
	}
	if selected == nil {
		selected = firstMatch(associations, func(a *models.TenantAssociation) bool {
			return a.Role == models.RoleManager
		})
	}
	if selected == nil {
		selected = firstMatch(associations, func(a *models.TenantAssociation) bool {
			return a.Role == models.RoleAdmin || a.IsAdmin
		})
	}
	if selected == nil {
		selected = firstMatch(associations, func(*models.TenantAssociation) bool { return true })
	}
	if selected == nil {
		// Every entry was nil; treat as an empty input.
		return Resolution{Classification: dErrors.CodeNoTenant}
	}

	return Resolution{Selected: selected, Classification: classify(selected)}
}

// classify runs the post-selection access check. The legacy admin flag is
// admin-equivalent here, the same as in selection rule 4: a plain member
// without KPI access is not_authorized, while anyone with a managing role
// (or the legacy flag) is merely feature_disabled until KPI is switched on.
func classify(a *models.TenantAssociation) dErrors.Code {
	if a.Usable() {
		return ""
	}
	if a.Role != models.RoleManager && a.Role != models.RoleAdmin && !a.IsAdmin {
		return dErrors.CodeNotAuthorized
	}
	return dErrors.CodeFeatureDisabled
}

func firstMatch(associations []*models.TenantAssociation, pred func(*models.TenantAssociation) bool) *models.TenantAssociation {
	for _, a := range associations {
		if a != nil && pred(a) {
			return a
		}
	}
	return nil
}
