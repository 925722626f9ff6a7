package authz

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetdesk/fleetdesk/internal/docstore"
)

func newTestStore() (*PermissionStore, *docstore.MemStore) {
	docs := docstore.NewMemStore()
	return NewPermissionStore(docs), docs
}

func TestRolePermissionsAbsentIsNoRecord(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.RolePermissions(context.Background(), RoleManager)
	require.ErrorIs(t, err, ErrNoRecord)
}

func TestSaveRoleRoundTrip(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	perms := NewSet(FeatureOrdersView, FeatureTripsView)
	require.NoError(t, store.SaveRole(ctx, RoleManager, perms, "admin-1"))

	rec, err := store.RolePermissions(ctx, RoleManager)
	require.NoError(t, err)
	assert.Equal(t, RoleManager, rec.Role)
	assert.True(t, rec.Permissions.Equal(perms))
	assert.Equal(t, "admin-1", rec.UpdatedBy)
	assert.False(t, rec.UpdatedAt.IsZero())
}

func TestInitializeMissingOnlyIsIdempotent(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	first, err := store.Initialize(ctx, InitMissingOnly, "admin-1")
	require.NoError(t, err)
	require.True(t, first.OK())
	assert.Len(t, first.Saved, len(Roles()))

	snapshot := make(map[Role][]Feature)
	for _, role := range Roles() {
		rec, err := store.RolePermissions(ctx, role)
		require.NoError(t, err)
		snapshot[role] = rec.Permissions.Features()
	}

	second, err := store.Initialize(ctx, InitMissingOnly, "admin-2")
	require.NoError(t, err)
	require.True(t, second.OK())
	assert.Empty(t, second.Saved, "second run must not rewrite anything")

	for _, role := range Roles() {
		rec, err := store.RolePermissions(ctx, role)
		require.NoError(t, err)
		assert.Equal(t, snapshot[role], rec.Permissions.Features())
		assert.Equal(t, "admin-1", rec.UpdatedBy)
	}
}

func TestInitializeOverwriteResetsEditedRoles(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	require.NoError(t, store.SaveRole(ctx, RoleDriver, NewSet(FeatureAdminPanel), "rogue"))

	report, err := store.Initialize(ctx, InitOverwrite, "admin-1")
	require.NoError(t, err)
	require.True(t, report.OK())

	rec, err := store.RolePermissions(ctx, RoleDriver)
	require.NoError(t, err)
	assert.True(t, rec.Permissions.Equal(DefaultsFor(RoleDriver)))
}

func TestSaveAllReportsPartialFailure(t *testing.T) {
	store, docs := newTestStore()
	ctx := context.Background()

	backendDown := errors.New("backend unavailable")
	docs.FailSet = func(collection, id string) error {
		if id == string(RoleAccountant) {
			return backendDown
		}
		return nil
	}

	proposed := map[Role]*Set{
		RoleAdmin:      DefaultsFor(RoleAdmin),
		RoleManager:    NewSet(FeatureOrdersView),
		RoleAccountant: NewSet(FeatureWalletsView),
	}
	report := store.SaveAll(ctx, proposed, "admin-1")

	assert.False(t, report.OK())
	assert.ElementsMatch(t, []Role{RoleAdmin, RoleManager}, report.Saved)
	require.Contains(t, report.Failed, RoleAccountant)
	assert.ErrorIs(t, report.Failed[RoleAccountant], backendDown)
	assert.Equal(t, []Role{RoleAccountant}, report.FailedRoles())

	// The failed role must not have been committed.
	_, err := store.RolePermissions(ctx, RoleAccountant)
	assert.ErrorIs(t, err, ErrNoRecord)
}

func TestUserOverrideRoundTrip(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	_, err := store.UserOverride(ctx, "user-9")
	require.ErrorIs(t, err, ErrNoRecord)

	perms := NewSet(FeatureDashboardView, FeatureWalletsView)
	require.NoError(t, store.SaveUserOverride(ctx, "user-9", perms, "admin-1"))

	override, err := store.UserOverride(ctx, "user-9")
	require.NoError(t, err)
	assert.True(t, override.Permissions.Equal(perms))
}

func TestDetectDrift(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	// No records at all: absence is fallback, not drift.
	drifts, err := store.DetectDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	edited := DefaultsFor(RoleAccountant)
	edited.Remove(FeatureWalletsManage)
	edited.Add(FeatureOrdersCreate)
	edited.Add("FEATURE_LEGACY_THING")
	require.NoError(t, store.SaveRole(ctx, RoleAccountant, edited, "admin-1"))
	require.NoError(t, store.SaveRole(ctx, RoleDriver, DefaultsFor(RoleDriver), "admin-1"))

	drifts, err = store.DetectDrift(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)

	d := drifts[0]
	assert.Equal(t, RoleAccountant, d.Role)
	assert.Equal(t, []Feature{FeatureOrdersCreate}, d.Added)
	assert.Equal(t, []Feature{FeatureWalletsManage}, d.Removed)
	assert.Equal(t, []Feature{"FEATURE_LEGACY_THING"}, d.Unknown)
	assert.True(t, d.Drifted())
}

func TestWatchRoleDeliversUpdates(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()

	type delivery struct {
		rec    RolePermissions
		exists bool
	}
	var got []delivery
	cancel, err := store.WatchRole(ctx, RoleDriver, func(rec RolePermissions, exists bool) {
		got = append(got, delivery{rec, exists})
	}, nil)
	require.NoError(t, err)
	defer cancel()

	require.Len(t, got, 1, "initial state delivered immediately")
	assert.False(t, got[0].exists)

	require.NoError(t, store.SaveRole(ctx, RoleDriver, NewSet(FeatureDashboardView), "admin-1"))
	require.Len(t, got, 2)
	assert.True(t, got[1].exists)
	assert.True(t, got[1].rec.Permissions.Equal(NewSet(FeatureDashboardView)))

	cancel()
	require.NoError(t, store.SaveRole(ctx, RoleDriver, NewSet(FeatureTripsView), "admin-1"))
	assert.Len(t, got, 2, "no delivery after cancel")
}
