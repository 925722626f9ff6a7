package authz

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/docstore"
	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
)

type countingRecorder struct {
	allowed int
	denied  int
}

func (c *countingRecorder) RecordPermissionCheck(decision string) {
	switch decision {
	case "allow":
		c.allowed++
	case "deny":
		c.denied++
	}
}

func resolvedResolver(t *testing.T, role Role) *Resolver {
	t.Helper()
	store := NewPermissionStore(docstore.NewMemStore())
	r := NewResolver(store, slog.Default())
	require.NoError(t, r.SetRole(context.Background(), "user-1", role))
	return r
}

func gateRequest(t *testing.T, resolver *Resolver) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if resolver != nil {
		req = req.WithContext(ContextWithResolver(req.Context(), resolver))
	}
	return req
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestGateRequireAdmitsGrantedSession(t *testing.T) {
	rec := &countingRecorder{}
	gate := Gate{Logger: slog.Default(), Recorder: rec}
	handler := gate.Require(FeatureOrdersView)(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gateRequest(t, resolvedResolver(t, RoleManager)))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rec.allowed)
	assert.Zero(t, rec.denied)
}

func TestGateRequireIsAllOf(t *testing.T) {
	gate := Gate{Logger: slog.Default()}
	// Manager holds orders view but not the admin panel.
	handler := gate.Require(FeatureOrdersView, FeatureAdminPanel)(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gateRequest(t, resolvedResolver(t, RoleManager)))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestGateDeniesWithoutResolver(t *testing.T) {
	rec := &countingRecorder{}
	gate := Gate{Recorder: rec}
	handler := gate.Require(FeatureDashboardView)(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gateRequest(t, nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, 1, rec.denied)
}

func TestGateDeniesUnresolvedSession(t *testing.T) {
	store := NewPermissionStore(docstore.NewMemStore())
	r := NewResolver(store, slog.Default())
	r.BeginAuthentication()

	gate := Gate{}
	handler := gate.Require(FeatureDashboardView)(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gateRequest(t, r))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGateFallbackHandlerRendersOnDeny(t *testing.T) {
	gate := Gate{}
	fallback := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
	})
	handler := gate.RequireWithFallback(fallback, FeatureAdminPanel)(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gateRequest(t, resolvedResolver(t, RoleDriver)))

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "/dashboard", w.Header().Get("Location"))
}

func TestGatesNestAsIntersection(t *testing.T) {
	gate := Gate{}
	inner := gate.Require(FeatureAdminPermissionsEdit)(okHandler)
	outer := gate.Require(FeatureAdminPanel)(inner)

	w := httptest.NewRecorder()
	outer.ServeHTTP(w, gateRequest(t, resolvedResolver(t, RoleAdmin)))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	outer.ServeHTTP(w, gateRequest(t, resolvedResolver(t, RoleManager)))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGateCheck(t *testing.T) {
	gate := Gate{}
	ctx := ContextWithResolver(context.Background(), resolvedResolver(t, RoleAccountant))

	assert.NoError(t, gate.Check(ctx, FeatureWalletsManage))

	err := gate.Check(ctx, FeatureOrdersDelete)
	require.Error(t, err)
	assert.ErrorIs(t, err, httpx.ErrForbidden)

	assert.Error(t, gate.Check(context.Background(), FeatureDashboardView))
}

func TestGateReactsToLiveRevocation(t *testing.T) {
	docs := docstore.NewMemStore()
	store := NewPermissionStore(docs)
	resolver := NewResolver(store, slog.Default())
	ctx := context.Background()
	require.NoError(t, store.SaveRole(ctx, RoleManager, NewSet(FeatureOrdersView, FeatureOrdersEdit), "admin-1"))
	require.NoError(t, resolver.SetRole(ctx, "user-1", RoleManager))

	gate := Gate{}
	handler := gate.Require(FeatureOrdersEdit)(okHandler)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, gateRequest(t, resolver))
	require.Equal(t, http.StatusOK, w.Code)

	// Revoke mid-session; the very next request is refused.
	require.NoError(t, store.SaveRole(ctx, RoleManager, NewSet(FeatureOrdersView), "admin-1"))

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, gateRequest(t, resolver))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
