package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/docstore"
	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

type adminFixture struct {
	store  *PermissionStore
	docs   *docstore.MemStore
	router chi.Router
}

func newAdminFixture(t *testing.T, role Role) *adminFixture {
	t.Helper()

	docs := docstore.NewMemStore()
	store := NewPermissionStore(docs)

	lookup := func(ctx context.Context, userID string) (Role, error) {
		if userID == "missing" {
			return "", httpx.ErrNotFound
		}
		return RoleDriver, nil
	}
	handler := NewAdminHandler(slog.Default(), store, Gate{Logger: slog.Default()}, nil, lookup)

	resolver := NewResolver(store, slog.Default())
	require.NoError(t, resolver.SetRole(context.Background(), "admin-1", role))

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := &shared.Session{ID: "sess-admin"}
			sess.SetUser("admin-1", string(role))
			ctx := shared.ContextWithSession(r.Context(), sess)
			ctx = ContextWithResolver(ctx, resolver)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Route("/admin/permissions", handler.MountRoutes)

	return &adminFixture{store: store, docs: docs, router: router}
}

func (f *adminFixture) do(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAdminRoutesRequireBothAdminFeatures(t *testing.T) {
	f := newAdminFixture(t, RoleManager)

	w := f.do(t, http.MethodGet, "/admin/permissions/", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetGridReturnsMatrixAndDomains(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)

	w := f.do(t, http.MethodGet, "/admin/permissions/", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Roles   []string `json:"roles"`
		Domains []struct {
			Key      string   `json:"key"`
			Label    string   `json:"label"`
			Features []string `json:"features"`
		} `json:"domains"`
		Matrix map[string][]string `json:"matrix"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.ElementsMatch(t, []string{"admin", "manager", "accountant", "driver"}, resp.Roles)
	assert.Len(t, resp.Matrix["admin"], len(Catalog()))
	assert.Equal(t, DefaultsFor(RoleDriver).Strings(), resp.Matrix["driver"])

	var ordersGroup bool
	for _, d := range resp.Domains {
		if d.Key == "orders" {
			ordersGroup = true
			assert.Equal(t, "Orders", d.Label)
			assert.Contains(t, d.Features, string(FeatureOrdersView))
		}
	}
	assert.True(t, ordersGroup)
}

func TestSaveGridPersistsMatrix(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)

	w := f.do(t, http.MethodPut, "/admin/permissions/", map[string]any{
		"matrix": map[string][]string{
			"driver": {string(FeatureDashboardView), string(FeatureTrucksView)},
		},
	})
	require.Equal(t, http.StatusOK, w.Code)

	rec, err := f.store.RolePermissions(context.Background(), RoleDriver)
	require.NoError(t, err)
	assert.True(t, rec.Permissions.Has(FeatureTrucksView))
	assert.Equal(t, "admin-1", rec.UpdatedBy)
}

func TestSaveGridRejectsUnknownRole(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)

	w := f.do(t, http.MethodPut, "/admin/permissions/", map[string]any{
		"matrix": map[string][]string{"superuser": {string(FeatureAdminPanel)}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := f.store.RolePermissions(context.Background(), RoleAdmin)
	assert.ErrorIs(t, err, ErrNoRecord, "nothing persisted on validation failure")
}

func TestSaveGridReportsPartialFailure(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)
	backendDown := errors.New("backend unavailable")
	f.docs.FailSet = func(collection, id string) error {
		if id == string(RoleAccountant) {
			return backendDown
		}
		return nil
	}

	w := f.do(t, http.MethodPut, "/admin/permissions/", map[string]any{
		"matrix": map[string][]string{
			"accountant": {string(FeatureWalletsView)},
			"driver":     {string(FeatureDashboardView)},
		},
	})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp struct {
		Saved  []string          `json:"saved"`
		Failed map[string]string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp.Failed, "accountant")
	assert.NotContains(t, resp.Saved, "accountant")
}

func TestInitializeEndpoint(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)

	w := f.do(t, http.MethodPost, "/admin/permissions/initialize", map[string]string{"mode": "missing_only"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Saved []string `json:"saved"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Saved, len(Roles()))

	// Second run in missing_only mode touches nothing.
	w = f.do(t, http.MethodPost, "/admin/permissions/initialize", map[string]string{"mode": "missing_only"})
	require.Equal(t, http.StatusOK, w.Code)
	resp.Saved = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Saved)

	w = f.do(t, http.MethodPost, "/admin/permissions/initialize", map[string]string{"mode": "wipe_everything"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDriftEndpoint(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)
	ctx := context.Background()

	edited := DefaultsFor(RoleManager)
	edited.Add(FeatureAdminPanel)
	require.NoError(t, f.store.SaveRole(ctx, RoleManager, edited, "admin-1"))

	w := f.do(t, http.MethodGet, "/admin/permissions/drift", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Drift []struct {
			Role  string   `json:"role"`
			Added []string `json:"added"`
		} `json:"drift"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Drift, 1)
	assert.Equal(t, "manager", resp.Drift[0].Role)
	assert.Equal(t, []string{string(FeatureAdminPanel)}, resp.Drift[0].Added)
}

func TestUserOverrideEndpoints(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)

	// Without an override the driver defaults are the editing baseline.
	w := f.do(t, http.MethodGet, "/admin/permissions/users/driver-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		UserID      string   `json:"userId"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
		HasOverride bool     `json:"hasOverride"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "driver", resp.Role)
	assert.False(t, resp.HasOverride)
	assert.Equal(t, DefaultsFor(RoleDriver).Strings(), resp.Permissions)

	w = f.do(t, http.MethodPut, "/admin/permissions/users/driver-1", map[string]any{
		"permissions": []string{string(FeatureDashboardView), string(FeatureTyresView)},
	})
	require.Equal(t, http.StatusOK, w.Code)

	override, err := f.store.UserOverride(context.Background(), "driver-1")
	require.NoError(t, err)
	assert.True(t, override.Permissions.Has(FeatureTyresView))

	w = f.do(t, http.MethodGet, "/admin/permissions/users/driver-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	resp.HasOverride = false
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.HasOverride)
}

func TestUserOverrideUnknownUser(t *testing.T) {
	f := newAdminFixture(t, RoleAdmin)

	w := f.do(t, http.MethodGet, "/admin/permissions/users/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
