package authz

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

type resolverContextKey struct{}

// ContextWithResolver stores the resolver in context.
func ContextWithResolver(ctx context.Context, r *Resolver) context.Context {
	return context.WithValue(ctx, resolverContextKey{}, r)
}

// ResolverFromContext extracts the resolver, nil when absent.
func ResolverFromContext(ctx context.Context) *Resolver {
	r, _ := ctx.Value(resolverContextKey{}).(*Resolver)
	return r
}

// pruneInterval bounds how often the middleware sweeps idle entries.
const pruneInterval = time.Minute

type registryEntry struct {
	resolver *Resolver
	lastSeen time.Time
}

// Registry keeps one resolver per live session. Resolvers are created at
// login, looked up per request, and destroyed when the session ends:
// explicitly at logout, or by the idle sweep once a session has been
// silent past its TTL, so no watch outlives its session.
type Registry struct {
	store  *PermissionStore
	logger *slog.Logger
	ttl    time.Duration

	mu        sync.Mutex
	entries   map[string]*registryEntry
	lastPrune time.Time
}

// NewRegistry constructs an empty Registry. ttl is the session lifetime;
// entries idle longer than that are swept. A non-positive ttl disables
// the sweep.
func NewRegistry(store *PermissionStore, logger *slog.Logger, ttl time.Duration) *Registry {
	return &Registry{
		store:   store,
		logger:  logger,
		ttl:     ttl,
		entries: make(map[string]*registryEntry),
	}
}

// Resolve creates (or rebinds) the resolver for a session and starts
// its role watch.
func (reg *Registry) Resolve(ctx context.Context, sessionID, userID string, role Role) *Resolver {
	now := time.Now()
	reg.mu.Lock()
	entry, ok := reg.entries[sessionID]
	if !ok {
		entry = &registryEntry{resolver: NewResolver(reg.store, reg.logger)}
		reg.entries[sessionID] = entry
	}
	entry.lastSeen = now
	reg.mu.Unlock()

	if err := entry.resolver.SetRole(ctx, userID, role); err != nil && reg.logger != nil {
		reg.logger.Warn("resolver set role", slog.String("session", sessionID), slog.Any("error", err))
	}
	return entry.resolver
}

// Lookup returns the session's resolver, nil when none exists. A hit
// counts as session activity for the idle sweep.
func (reg *Registry) Lookup(sessionID string) *Resolver {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	entry, ok := reg.entries[sessionID]
	if !ok {
		return nil
	}
	entry.lastSeen = time.Now()
	return entry.resolver
}

// Drop clears and removes the session's resolver. The clear happens
// synchronously before Drop returns, so a logged-out session can never
// pass another permission check.
func (reg *Registry) Drop(sessionID string) {
	reg.mu.Lock()
	entry, ok := reg.entries[sessionID]
	delete(reg.entries, sessionID)
	reg.mu.Unlock()
	if ok {
		entry.resolver.Clear()
	}
}

// PruneIdle removes every entry whose last activity predates cutoff,
// clearing each resolver so its watch is cancelled. Returns the number
// of entries removed.
func (reg *Registry) PruneIdle(cutoff time.Time) int {
	var stale []*Resolver
	reg.mu.Lock()
	for id, entry := range reg.entries {
		if entry.lastSeen.Before(cutoff) {
			stale = append(stale, entry.resolver)
			delete(reg.entries, id)
		}
	}
	reg.mu.Unlock()

	for _, r := range stale {
		r.Clear()
	}
	if len(stale) > 0 && reg.logger != nil {
		reg.logger.Info("pruned idle session resolvers", slog.Int("count", len(stale)))
	}
	return len(stale)
}

// Middleware attaches the session's resolver to the request context.
// Sessions that are authenticated but have no resolver yet (for
// example after a server restart) are resolved lazily from the role
// recorded in the session. A cookie whose stored session has expired
// loads as unauthenticated; any resolver still registered under that
// id belongs to the ended session and is dropped here.
func (reg *Registry) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reg.maybePrune()
		sess := shared.SessionFromContext(r.Context())
		if sess == nil {
			next.ServeHTTP(w, r)
			return
		}
		if sess.User() == "" {
			reg.Drop(sess.ID)
			next.ServeHTTP(w, r)
			return
		}
		resolver := reg.Lookup(sess.ID)
		if resolver == nil && sess.Role() != "" {
			resolver = reg.Resolve(r.Context(), sess.ID, sess.User(), Role(sess.Role()))
		}
		if resolver != nil {
			r = r.WithContext(ContextWithResolver(r.Context(), resolver))
		}
		next.ServeHTTP(w, r)
	})
}

func (reg *Registry) maybePrune() {
	if reg.ttl <= 0 {
		return
	}
	now := time.Now()
	reg.mu.Lock()
	due := now.Sub(reg.lastPrune) >= pruneInterval
	if due {
		reg.lastPrune = now
	}
	reg.mu.Unlock()
	if due {
		reg.PruneIdle(now.Add(-reg.ttl))
	}
}
