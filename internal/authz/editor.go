package authz

import (
	"context"
	"errors"
)

// GridEditor holds the in-memory roles-by-features matrix the bulk
// editor works on. Edits stay local until Save; a failed save leaves
// the matrix untouched so the operator can retry without losing work.
type GridEditor struct {
	store  *PermissionStore
	matrix map[Role]*Set
	dirty  bool
}

// NewGridEditor seeds the matrix from the stored record per role,
// falling back to compiled defaults for roles without one.
func NewGridEditor(ctx context.Context, store *PermissionStore) (*GridEditor, error) {
	matrix := make(map[Role]*Set, len(Roles()))
	for _, role := range Roles() {
		rec, err := store.RolePermissions(ctx, role)
		switch {
		case err == nil:
			matrix[role] = rec.Permissions.Clone()
		case errors.Is(err, ErrNoRecord):
			matrix[role] = DefaultsFor(role)
		default:
			return nil, err
		}
	}
	return &GridEditor{store: store, matrix: matrix}, nil
}

// Grant adds a feature to a role's working set.
func (e *GridEditor) Grant(role Role, f Feature) {
	if set, ok := e.matrix[role]; ok && !set.Has(f) {
		set.Add(f)
		e.dirty = true
	}
}

// Revoke removes a feature from a role's working set.
func (e *GridEditor) Revoke(role Role, f Feature) {
	if set, ok := e.matrix[role]; ok {
		set.Remove(f)
		e.dirty = true
	}
}

// Replace swaps one role's entire working set.
func (e *GridEditor) Replace(role Role, perms *Set) {
	if _, ok := e.matrix[role]; !ok {
		return
	}
	if !e.matrix[role].Equal(perms) {
		e.matrix[role] = perms.Clone()
		e.dirty = true
	}
}

// Permissions returns a snapshot of one role's working set.
func (e *GridEditor) Permissions(role Role) *Set {
	if set, ok := e.matrix[role]; ok {
		return set.Clone()
	}
	return NewSet()
}

// Dirty reports whether unsaved edits exist.
func (e *GridEditor) Dirty() bool {
	return e.dirty
}

// ResetToDefaults replaces the working matrix from the compiled
// defaults. Local only: nothing persists until Save.
func (e *GridEditor) ResetToDefaults() {
	for _, role := range Roles() {
		e.matrix[role] = DefaultsFor(role)
	}
	e.dirty = true
}

// Save writes the entire matrix through the bulk path. The dirty flag
// clears only on full success; on partial failure the working matrix is
// untouched and the report names the failed roles.
func (e *GridEditor) Save(ctx context.Context, updatedBy string) BulkReport {
	proposed := make(map[Role]*Set, len(e.matrix))
	for role, set := range e.matrix {
		proposed[role] = set.Clone()
	}
	report := e.store.SaveAll(ctx, proposed, updatedBy)
	if report.OK() {
		e.dirty = false
	}
	return report
}

// UserEditor edits a single user's permission list. Seeded from the
// stored override when present, else the role's defaults. Edits are
// local until Save.
type UserEditor struct {
	store  *PermissionStore
	userID string
	role   Role
	perms  *Set
	dirty  bool
}

// NewUserEditor loads the user's current effective editing baseline.
func NewUserEditor(ctx context.Context, store *PermissionStore, userID string, role Role) (*UserEditor, error) {
	override, err := store.UserOverride(ctx, userID)
	switch {
	case err == nil && override.Permissions.Len() > 0:
		return &UserEditor{store: store, userID: userID, role: role, perms: override.Permissions.Clone()}, nil
	case err == nil || errors.Is(err, ErrNoRecord):
		return &UserEditor{store: store, userID: userID, role: role, perms: DefaultsFor(role)}, nil
	default:
		return nil, err
	}
}

// Grant adds one feature locally.
func (e *UserEditor) Grant(f Feature) {
	if !e.perms.Has(f) {
		e.perms.Add(f)
		e.dirty = true
	}
}

// Revoke removes one feature locally.
func (e *UserEditor) Revoke(f Feature) {
	e.perms.Remove(f)
	e.dirty = true
}

// Replace swaps the entire working list.
func (e *UserEditor) Replace(perms *Set) {
	if !e.perms.Equal(perms) {
		e.perms = perms.Clone()
		e.dirty = true
	}
}

// Permissions returns a snapshot of the working list.
func (e *UserEditor) Permissions() *Set {
	return e.perms.Clone()
}

// Dirty reports whether unsaved edits exist.
func (e *UserEditor) Dirty() bool {
	return e.dirty
}

// ResetToDefaults returns the working list to the role defaults without
// persisting.
func (e *UserEditor) ResetToDefaults() {
	e.perms = DefaultsFor(e.role)
	e.dirty = true
}

// Save overwrites the stored override. Local state survives a failed
// save so the operator can retry.
func (e *UserEditor) Save(ctx context.Context, updatedBy string) error {
	if err := e.store.SaveUserOverride(ctx, e.userID, e.perms, updatedBy); err != nil {
		return err
	}
	e.dirty = false
	return nil
}
