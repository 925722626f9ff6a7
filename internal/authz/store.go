package authz

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/fleetdesk/fleetdesk/internal/docstore"
)

const (
	// CollectionRolePermissions holds one document per role.
	CollectionRolePermissions = "rolePermissions"
	// CollectionUserPermissions holds per-user override documents.
	CollectionUserPermissions = "userPermissions"

	permissionsField = "permissions"
)

// PermissionStore reads and writes permission records through the
// document store and exposes live role watches.
type PermissionStore struct {
	docs docstore.Store
}

// NewPermissionStore constructs a PermissionStore.
func NewPermissionStore(docs docstore.Store) *PermissionStore {
	return &PermissionStore{docs: docs}
}

// RolePermissions fetches the stored record for a role. A missing
// record yields ErrNoRecord; callers fall back to DefaultsFor.
func (s *PermissionStore) RolePermissions(ctx context.Context, role Role) (RolePermissions, error) {
	doc, err := s.docs.Get(ctx, CollectionRolePermissions, string(role))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return RolePermissions{}, ErrNoRecord
		}
		return RolePermissions{}, fmt.Errorf("authz: fetch role %s: %w", role, err)
	}
	return RolePermissions{
		Role:        role,
		Permissions: setFromDocument(doc),
		UpdatedAt:   doc.UpdatedAt,
		UpdatedBy:   doc.UpdatedBy,
	}, nil
}

// RoleChangeFunc receives every update of a watched role record. exists
// is false when the record is (or becomes) absent.
type RoleChangeFunc func(rec RolePermissions, exists bool)

// WatchRole subscribes to live updates of a role's record. The current
// state is delivered once immediately.
func (s *PermissionStore) WatchRole(ctx context.Context, role Role, onChange RoleChangeFunc, onError docstore.ErrorFunc) (docstore.CancelFunc, error) {
	return s.docs.Watch(ctx, CollectionRolePermissions, string(role), func(doc docstore.Document, exists bool) {
		if !exists {
			onChange(RolePermissions{Role: role}, false)
			return
		}
		onChange(RolePermissions{
			Role:        role,
			Permissions: setFromDocument(doc),
			UpdatedAt:   doc.UpdatedAt,
			UpdatedBy:   doc.UpdatedBy,
		}, true)
	}, onError)
}

// SaveRole persists one role record.
func (s *PermissionStore) SaveRole(ctx context.Context, role Role, perms *Set, updatedBy string) error {
	data := map[string]any{permissionsField: perms.Strings()}
	if err := s.docs.Set(ctx, CollectionRolePermissions, string(role), data, updatedBy); err != nil {
		return fmt.Errorf("authz: save role %s: %w", role, err)
	}
	return nil
}

// SaveAll writes every proposed role record, fanning the writes out
// concurrently. The report names exactly which roles succeeded and
// which failed; partial failure is never silently absorbed. No
// ordering between the individual writes is guaranteed.
func (s *PermissionStore) SaveAll(ctx context.Context, proposed map[Role]*Set, updatedBy string) BulkReport {
	var (
		mu     sync.Mutex
		report = BulkReport{Failed: make(map[Role]error)}
	)
	g, gctx := errgroup.WithContext(ctx)
	for role, perms := range proposed {
		role, perms := role, perms
		g.Go(func() error {
			err := s.SaveRole(gctx, role, perms, updatedBy)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[role] = err
			} else {
				report.Saved = append(report.Saved, role)
			}
			// Errors are carried in the report; never cancel the
			// sibling writes over one failed role.
			return nil
		})
	}
	_ = g.Wait()
	return report
}

// UserOverride fetches a user's stored override, ErrNoRecord when none.
func (s *PermissionStore) UserOverride(ctx context.Context, userID string) (UserOverride, error) {
	doc, err := s.docs.Get(ctx, CollectionUserPermissions, userID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return UserOverride{}, ErrNoRecord
		}
		return UserOverride{}, fmt.Errorf("authz: fetch user override %s: %w", userID, err)
	}
	return UserOverride{
		UserID:      userID,
		Permissions: setFromDocument(doc),
		UpdatedAt:   doc.UpdatedAt,
		UpdatedBy:   doc.UpdatedBy,
	}, nil
}

// SaveUserOverride overwrites a user's override record atomically.
func (s *PermissionStore) SaveUserOverride(ctx context.Context, userID string, perms *Set, updatedBy string) error {
	data := map[string]any{permissionsField: perms.Strings()}
	if err := s.docs.Set(ctx, CollectionUserPermissions, userID, data, updatedBy); err != nil {
		return fmt.Errorf("authz: save user override %s: %w", userID, err)
	}
	return nil
}

// Initialize seeds role records from the compiled defaults. In
// InitMissingOnly mode only absent roles are written, which makes the
// operation idempotent; InitOverwrite rewrites every role.
func (s *PermissionStore) Initialize(ctx context.Context, mode InitMode, updatedBy string) (BulkReport, error) {
	proposed := make(map[Role]*Set)
	for _, role := range Roles() {
		if mode == InitMissingOnly {
			if _, err := s.RolePermissions(ctx, role); err == nil {
				continue
			} else if !errors.Is(err, ErrNoRecord) {
				return BulkReport{}, err
			}
		}
		proposed[role] = DefaultsFor(role)
	}
	return s.SaveAll(ctx, proposed, updatedBy), nil
}

// DetectDrift compares every stored record against the compiled
// defaults and the catalog. Roles without a record are skipped: absence
// is the fallback case, not drift.
func (s *PermissionStore) DetectDrift(ctx context.Context) ([]RoleDrift, error) {
	var drifts []RoleDrift
	for _, role := range Roles() {
		rec, err := s.RolePermissions(ctx, role)
		if err != nil {
			if errors.Is(err, ErrNoRecord) {
				continue
			}
			return nil, err
		}
		drift := diffAgainstDefaults(role, rec.Permissions)
		if drift.Drifted() {
			drifts = append(drifts, drift)
		}
	}
	return drifts, nil
}

func diffAgainstDefaults(role Role, stored *Set) RoleDrift {
	defaults := DefaultsFor(role)
	drift := RoleDrift{Role: role}
	for _, f := range stored.Features() {
		if !IsValidFeature(f) {
			drift.Unknown = append(drift.Unknown, f)
			continue
		}
		if !defaults.Has(f) {
			drift.Added = append(drift.Added, f)
		}
	}
	for _, f := range defaults.Features() {
		if !stored.Has(f) {
			drift.Removed = append(drift.Removed, f)
		}
	}
	return drift
}

func setFromDocument(doc docstore.Document) *Set {
	raw, ok := doc.Data[permissionsField]
	if !ok {
		return NewSet()
	}
	switch tokens := raw.(type) {
	case []string:
		return SetFromStrings(tokens)
	case []any:
		out := make([]string, 0, len(tokens))
		for _, t := range tokens {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return SetFromStrings(out)
	default:
		return NewSet()
	}
}
