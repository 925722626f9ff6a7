package orders

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// AuditRecorder abstracts the audit trail so tests can fake it.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles order business logic.
type Service struct {
	repo   RepositoryPort
	audit  AuditRecorder
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, audit AuditRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, audit: audit, logger: logger}
}

// List returns all orders.
func (s *Service) List(ctx context.Context) ([]Order, error) {
	return s.repo.List(ctx)
}

// Get fetches one order.
func (s *Service) Get(ctx context.Context, id string) (Order, error) {
	return s.repo.Get(ctx, id)
}

// Create validates and inserts a new order in draft status.
func (s *Service) Create(ctx context.Context, o Order) (Order, error) {
	o.Reference = strings.TrimSpace(o.Reference)
	if o.Reference == "" {
		return Order{}, fmt.Errorf("orders: reference required")
	}
	if strings.TrimSpace(o.Customer) == "" {
		return Order{}, fmt.Errorf("orders: customer required")
	}
	o.Status = StatusDraft
	created, err := s.repo.Create(ctx, o)
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, o.CreatedBy, "orders.create", created.ID, map[string]any{"reference": created.Reference})
	return created, nil
}

// UpdateStatus applies a lifecycle transition.
func (s *Service) UpdateStatus(ctx context.Context, id string, target Status, actor string) (Order, error) {
	if !IsValidStatus(target) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if !CanTransition(current.Status, target) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
	}
	updated, err := s.repo.UpdateStatus(ctx, id, target)
	if err != nil {
		return Order{}, err
	}
	s.recordAudit(ctx, actor, "orders.update_status", id, map[string]any{"from": string(current.Status), "to": string(target)})
	return updated, nil
}

func (s *Service) recordAudit(ctx context.Context, actor, action, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: "order", EntityID: entityID, Meta: meta}); err != nil && s.logger != nil {
		s.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}
