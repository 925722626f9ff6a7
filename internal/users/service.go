package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetdesk/fleetdesk/internal/authz"
	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Service handles user management business logic.
type Service struct {
	repo  RepositoryPort
	store *authz.PermissionStore
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, store *authz.PermissionStore) *Service {
	return &Service{repo: repo, store: store}
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Get fetches one user and reports whether a permission override exists
// for it.
func (s *Service) Get(ctx context.Context, id string) (User, bool, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return User{}, false, err
	}
	hasOverride := false
	if override, oerr := s.store.UserOverride(ctx, id); oerr == nil && override.Permissions.Len() > 0 {
		hasOverride = true
	}
	return user, hasOverride, nil
}

// UpdateRole changes a user's role. The new role takes effect for
// permission resolution at the user's next login.
func (s *Service) UpdateRole(ctx context.Context, id string, role authz.Role) (User, error) {
	if !authz.IsValidRole(role) {
		return User{}, fmt.Errorf("%w: unknown role %q", httpx.ErrValidation, role)
	}
	return s.repo.UpdateRole(ctx, id, string(role))
}

// RoleOf resolves a user's role; used by the permission admin surface.
func (s *Service) RoleOf(ctx context.Context, id string) (authz.Role, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", fmt.Errorf("%w: user %s", httpx.ErrNotFound, id)
		}
		return "", err
	}
	return user.Role, nil
}
