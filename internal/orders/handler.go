package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fleetdesk/fleetdesk/internal/authz"
	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// Handler exposes order endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	gate     authz.Gate
	validate *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, gate authz.Gate) *Handler {
	return &Handler{logger: logger, service: service, gate: gate, validate: validator.New()}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.FeatureOrdersView))
		r.Get("/", h.list)
		r.Get("/{orderID}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.FeatureOrdersCreate))
		r.Post("/", h.create)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(authz.FeatureOrdersEdit))
		r.Put("/{orderID}/status", h.updateStatus)
	})
}

type orderResponse struct {
	ID          string    `json:"id"`
	Reference   string    `json:"reference"`
	Customer    string    `json:"customer"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	Status      string    `json:"status"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := make([]orderResponse, len(list))
	for i, o := range list {
		out[i] = toResponse(o)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"orders": out})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	o, err := h.service.Get(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			httpx.RespondError(w, httpx.ErrNotFound)
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(o))
}

type createOrderRequest struct {
	Reference   string `json:"reference" validate:"required"`
	Customer    string `json:"customer" validate:"required"`
	Origin      string `json:"origin" validate:"required"`
	Destination string `json:"destination" validate:"required"`
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	// Gating is defense-in-depth: the route middleware already checked,
	// the mutation checks again in case permissions changed mid-flight.
	if err := h.gate.Check(r.Context(), authz.FeatureOrdersCreate); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	actor := ""
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		actor = sess.User()
	}
	created, err := h.service.Create(r.Context(), Order{
		Reference:   req.Reference,
		Customer:    req.Customer,
		Origin:      req.Origin,
		Destination: req.Destination,
		CreatedBy:   actor,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			httpx.RespondError(w, httpx.ErrDuplicate)
			return
		}
		h.logger.Error("create order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toResponse(created))
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Check(r.Context(), authz.FeatureOrdersEdit); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	actor := ""
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		actor = sess.User()
	}
	updated, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "orderID"), Status(req.Status), actor)
	if err != nil {
		switch {
		case errors.Is(err, shared.ErrNotFound):
			httpx.RespondError(w, httpx.ErrNotFound)
		case errors.Is(err, ErrInvalidTransition):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Transition", err.Error())
		default:
			h.logger.Error("update order status", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(updated))
}

func toResponse(o Order) orderResponse {
	return orderResponse{
		ID:          o.ID,
		Reference:   o.Reference,
		Customer:    o.Customer,
		Origin:      o.Origin,
		Destination: o.Destination,
		Status:      string(o.Status),
		CreatedBy:   o.CreatedBy,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}
