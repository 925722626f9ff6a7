package orders

import (
	"errors"
	"time"
)

// Status tracks an order through its lifecycle.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusConfirmed Status = "confirmed"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

var (
	// ErrDuplicateReference indicates the order reference is taken.
	ErrDuplicateReference = errors.New("orders: duplicate reference")
	// ErrInvalidTransition indicates a status change the lifecycle
	// does not allow.
	ErrInvalidTransition = errors.New("orders: invalid status transition")
)

// Order is one transport order.
type Order struct {
	ID          string
	Reference   string
	Customer    string
	Origin      string
	Destination string
	Status      Status
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// validTransitions maps each status to the statuses it may move to.
var validTransitions = map[Status][]Status{
	StatusDraft:     {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusInTransit, StatusCancelled},
	StatusInTransit: {StatusDelivered},
}

// CanTransition reports whether from may move to target.
func CanTransition(from, target Status) bool {
	for _, s := range validTransitions[from] {
		if s == target {
			return true
		}
	}
	return false
}

// IsValidStatus reports whether s is a known lifecycle status.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusDraft, StatusConfirmed, StatusInTransit, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}
