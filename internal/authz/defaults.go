package authz

// Role is one of the fixed operator classes.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleManager    Role = "manager"
	RoleAccountant Role = "accountant"
	RoleDriver     Role = "driver"
)

var roles = []Role{RoleAdmin, RoleManager, RoleAccountant, RoleDriver}

// Roles enumerates every known role.
func Roles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// IsValidRole reports whether r is a known role.
func IsValidRole(r Role) bool {
	for _, known := range roles {
		if known == r {
			return true
		}
	}
	return false
}

// roleDefaults is the compiled-in fallback of last resort. It lives in
// application code, not in the store, so authorization bootstraps even
// before any remote record exists.
var roleDefaults = map[Role][]Feature{
	RoleAdmin: catalog,
	RoleManager: {
		FeatureDashboardView,
		FeatureOrdersView,
		FeatureOrdersCreate,
		FeatureOrdersEdit,
		FeatureTripsView,
		FeatureTripsManage,
		FeatureTrucksView,
		FeatureTrucksEdit,
		FeatureDriversView,
		FeatureDriversEdit,
		FeatureTyresView,
		FeatureCentersView,
		FeatureAttendanceView,
		FeatureAttendanceMark,
	},
	RoleAccountant: {
		FeatureDashboardView,
		FeatureOrdersView,
		FeatureWalletsView,
		FeatureWalletsManage,
		FeatureCentersView,
		FeatureAttendanceView,
	},
	RoleDriver: {
		FeatureDashboardView,
		FeatureTripsView,
		FeatureAttendanceMark,
	},
}

// DefaultsFor returns the default permission set for a role. Unknown
// roles get an empty set, never an error or nil.
func DefaultsFor(role Role) *Set {
	features, ok := roleDefaults[role]
	if !ok {
		return NewSet()
	}
	return NewSet(features...)
}
