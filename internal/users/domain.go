package users

import (
	"time"

	"github.com/fleetdesk/fleetdesk/internal/authz"
)

// User is the management view of an operator account.
type User struct {
	ID        string
	Email     string
	Name      string
	Role      authz.Role
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}
