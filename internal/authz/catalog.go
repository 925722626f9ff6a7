// Package authz implements the feature permission model: a closed
// catalog of gatable features, compiled-in role defaults, the persisted
// permission store with live updates, the per-session resolver, and the
// authorization gate used by every protected route.
package authz

import (
	"sort"
	"strings"
)

// Feature identifies one gatable capability. The set of valid values is
// closed: everything the application gates on is enumerated below.
type Feature string

// Feature catalog. Tokens follow FEATURE_<DOMAIN>_<ACTION>; the domain
// segment is the grouping key used by the admin grid.
const (
	FeatureDashboardView Feature = "FEATURE_DASHBOARD_VIEW"

	FeatureOrdersView   Feature = "FEATURE_ORDERS_VIEW"
	FeatureOrdersCreate Feature = "FEATURE_ORDERS_CREATE"
	FeatureOrdersEdit   Feature = "FEATURE_ORDERS_EDIT"
	FeatureOrdersDelete Feature = "FEATURE_ORDERS_DELETE"

	FeatureTripsView   Feature = "FEATURE_TRIPS_VIEW"
	FeatureTripsManage Feature = "FEATURE_TRIPS_MANAGE"

	FeatureTrucksView Feature = "FEATURE_TRUCKS_VIEW"
	FeatureTrucksEdit Feature = "FEATURE_TRUCKS_EDIT"

	FeatureDriversView Feature = "FEATURE_DRIVERS_VIEW"
	FeatureDriversEdit Feature = "FEATURE_DRIVERS_EDIT"

	FeatureTyresView Feature = "FEATURE_TYRES_VIEW"
	FeatureTyresEdit Feature = "FEATURE_TYRES_EDIT"

	FeatureWalletsView   Feature = "FEATURE_WALLETS_VIEW"
	FeatureWalletsManage Feature = "FEATURE_WALLETS_MANAGE"

	FeatureCentersView Feature = "FEATURE_CENTERS_VIEW"
	FeatureCentersEdit Feature = "FEATURE_CENTERS_EDIT"

	FeatureAttendanceView Feature = "FEATURE_ATTENDANCE_VIEW"
	FeatureAttendanceMark Feature = "FEATURE_ATTENDANCE_MARK"

	FeatureUsersView Feature = "FEATURE_USERS_VIEW"
	FeatureUsersEdit Feature = "FEATURE_USERS_EDIT"

	FeatureAdminPanel           Feature = "FEATURE_ADMIN_PANEL"
	FeatureAdminPermissionsEdit Feature = "FEATURE_ADMIN_PERMISSIONS_EDIT"
)

// catalog is the single source of truth for what can be gated. Adding a
// feature means appending here and to the role defaults table.
var catalog = []Feature{
	FeatureDashboardView,
	FeatureOrdersView,
	FeatureOrdersCreate,
	FeatureOrdersEdit,
	FeatureOrdersDelete,
	FeatureTripsView,
	FeatureTripsManage,
	FeatureTrucksView,
	FeatureTrucksEdit,
	FeatureDriversView,
	FeatureDriversEdit,
	FeatureTyresView,
	FeatureTyresEdit,
	FeatureWalletsView,
	FeatureWalletsManage,
	FeatureCentersView,
	FeatureCentersEdit,
	FeatureAttendanceView,
	FeatureAttendanceMark,
	FeatureUsersView,
	FeatureUsersEdit,
	FeatureAdminPanel,
	FeatureAdminPermissionsEdit,
}

var catalogIndex = func() map[Feature]struct{} {
	idx := make(map[Feature]struct{}, len(catalog))
	for _, f := range catalog {
		idx[f] = struct{}{}
	}
	return idx
}()

// Catalog returns the full ordered list of valid features.
func Catalog() []Feature {
	out := make([]Feature, len(catalog))
	copy(out, catalog)
	return out
}

// IsValidFeature reports whether f belongs to the catalog. Consumers
// treat unknown ids as "no permission", never as an error.
func IsValidFeature(f Feature) bool {
	_, ok := catalogIndex[f]
	return ok
}

// Domain extracts the grouping key embedded in the token, e.g.
// FEATURE_ORDERS_VIEW -> "orders". Unknown shapes yield "other".
func (f Feature) Domain() string {
	parts := strings.Split(string(f), "_")
	if len(parts) < 3 || parts[0] != "FEATURE" {
		return "other"
	}
	return strings.ToLower(parts[1])
}

// CatalogByDomain groups the catalog by domain segment, preserving
// catalog order within each group.
func CatalogByDomain() map[string][]Feature {
	grouped := make(map[string][]Feature)
	for _, f := range catalog {
		d := f.Domain()
		grouped[d] = append(grouped[d], f)
	}
	return grouped
}

// Domains lists the group keys in sorted order.
func Domains() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, f := range catalog {
		d := f.Domain()
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}
