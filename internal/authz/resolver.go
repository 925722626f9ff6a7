package authz

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/fleetdesk/fleetdesk/internal/docstore"
)

// State describes where a resolver is in its session lifecycle. Every
// state except Resolved and Degraded fails closed: checks return false.
type State int

const (
	// StateUnauthenticated means no session; checks always fail.
	StateUnauthenticated State = iota
	// StateAuthenticating is the transient window during login.
	StateAuthenticating
	// StateResolving means the role is known and the watch has been
	// requested but no data has arrived yet.
	StateResolving
	// StateResolved means the effective set is meaningful, coming from
	// the stored record, the user override, or the defaults fallback.
	StateResolved
	// StateDegraded means the watch failed; the effective set fell
	// back to compiled defaults and the session stays alive.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateResolving:
		return "resolving"
	case StateResolved:
		return "resolved"
	case StateDegraded:
		return "degraded"
	default:
		return "unauthenticated"
	}
}

// Resolver owns the effective permission set for one authenticated
// session. It holds at most one live watch on the session role's
// record, replaces the effective set wholesale on every update, and
// answers Can/CanAll synchronously from memory.
type Resolver struct {
	store  *PermissionStore
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	role      Role
	userID    string
	override  *Set
	effective *Set
	cancel    docstore.CancelFunc
	gen       uint64
}

// NewResolver constructs a Resolver in the unauthenticated state.
func NewResolver(store *PermissionStore, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:     store,
		logger:    logger,
		state:     StateUnauthenticated,
		effective: NewSet(),
	}
}

// BeginAuthentication marks the transient login window. Checks keep
// failing closed until the role resolves.
func (r *Resolver) BeginAuthentication() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
	r.state = StateAuthenticating
}

// SetRole binds the resolver to an authenticated identity. Any previous
// watch is cancelled first; exactly one watch is live per session. The
// user's stored override, when present and non-empty, supersedes the
// role record for the whole session.
func (r *Resolver) SetRole(ctx context.Context, userID string, role Role) error {
	r.mu.Lock()
	r.teardownLocked()
	r.state = StateResolving
	r.role = role
	r.userID = userID
	r.override = nil
	r.effective = NewSet()
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	if userID != "" {
		override, err := r.store.UserOverride(ctx, userID)
		if err == nil && override.Permissions.Len() > 0 {
			r.mu.Lock()
			if r.gen == gen {
				r.override = override.Permissions
			}
			r.mu.Unlock()
		} else if err != nil && !errors.Is(err, ErrNoRecord) {
			if r.logger != nil {
				r.logger.Warn("fetch user override", slog.String("user", userID), slog.Any("error", err))
			}
		}
	}

	cancel, err := r.store.WatchRole(ctx, role,
		func(rec RolePermissions, exists bool) { r.applyUpdate(gen, rec, exists) },
		func(err error) { r.degrade(gen, err) },
	)
	if err != nil {
		// Watch setup failed outright: degrade to defaults rather
		// than locking the user out, and report the error upward.
		r.degrade(gen, err)
		return err
	}

	r.mu.Lock()
	if r.gen != gen {
		r.mu.Unlock()
		cancel()
		return nil
	}
	r.cancel = cancel
	r.mu.Unlock()
	return nil
}

// Clear drops the session's permissions synchronously: by the time it
// returns, every check fails and no watch is live.
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.teardownLocked()
	r.state = StateUnauthenticated
	r.role = ""
	r.userID = ""
	r.override = nil
	r.effective = NewSet()
}

// Can reports whether the feature is granted. Synchronous: it consults
// only the already-resolved in-memory set and never fetches. Unknown
// features return false.
func (r *Resolver) Can(f Feature) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateResolved && r.state != StateDegraded {
		return false
	}
	return r.effective.Has(f)
}

// CanAll reports whether every feature is granted.
func (r *Resolver) CanAll(features ...Feature) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.state != StateResolved && r.state != StateDegraded {
		return false
	}
	return r.effective.HasAll(features...)
}

// State returns the current lifecycle state.
func (r *Resolver) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Role returns the bound role, empty when unauthenticated.
func (r *Resolver) Role() Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

// Effective returns a snapshot of the granted features.
func (r *Resolver) Effective() []Feature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effective.Features()
}

// applyUpdate installs a new effective set. The set is replaced
// wholesale so no stale grant survives a role change or a remote edit.
func (r *Resolver) applyUpdate(gen uint64, rec RolePermissions, exists bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	switch {
	case r.override != nil:
		r.effective = r.override.Clone()
	case exists:
		r.effective = rec.Permissions.Clone()
	default:
		r.effective = DefaultsFor(r.role)
	}
	r.state = StateResolved
}

func (r *Resolver) degrade(gen uint64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	if r.override != nil {
		r.effective = r.override.Clone()
	} else {
		r.effective = DefaultsFor(r.role)
	}
	r.state = StateDegraded
	if r.logger != nil {
		r.logger.Error("permission watch degraded", slog.String("role", string(r.role)), slog.Any("error", err))
	}
}

func (r *Resolver) teardownLocked() {
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}
