package authz

import (
	"errors"
	"time"
)

// ErrNoRecord indicates that no permission record is stored for the
// requested role or user. Callers fall back to defaults; this is the
// documented non-exceptional path, not a failure.
var ErrNoRecord = errors.New("authz: no record")

// RolePermissions is the persisted, role-keyed permission record.
type RolePermissions struct {
	Role        Role
	Permissions *Set
	UpdatedAt   time.Time
	UpdatedBy   string
}

// UserOverride is the per-user permission record. When present and
// non-empty it supersedes the user's role-derived permissions.
type UserOverride struct {
	UserID      string
	Permissions *Set
	UpdatedAt   time.Time
	UpdatedBy   string
}

// InitMode selects how Initialize treats roles that already have a
// stored record. The distinction is always explicit.
type InitMode int

const (
	// InitMissingOnly writes defaults only for roles with no record.
	// Re-running it is a no-op once every role is covered.
	InitMissingOnly InitMode = iota
	// InitOverwrite rewrites every role record from defaults.
	InitOverwrite
)

// BulkReport is the outcome of a bulk role save. A save counts as
// successful only when Failed is empty.
type BulkReport struct {
	Saved  []Role
	Failed map[Role]error
}

// OK reports whether every role write succeeded.
func (r BulkReport) OK() bool {
	return len(r.Failed) == 0
}

// FailedRoles lists the roles whose writes failed.
func (r BulkReport) FailedRoles() []Role {
	out := make([]Role, 0, len(r.Failed))
	for _, role := range Roles() {
		if _, ok := r.Failed[role]; ok {
			out = append(out, role)
		}
	}
	return out
}

// RoleDrift describes how one stored record diverges from the compiled
// defaults and the current catalog.
type RoleDrift struct {
	Role    Role
	Added   []Feature
	Removed []Feature
	Unknown []Feature
}

// Drifted reports whether the record differs from defaults or carries
// ids outside the catalog.
func (d RoleDrift) Drifted() bool {
	return len(d.Added) > 0 || len(d.Removed) > 0 || len(d.Unknown) > 0
}
