package auth

import (
	"time"

	"github.com/fleetdesk/fleetdesk/internal/authz"
)

// User represents an operator account.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         authz.Role
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
