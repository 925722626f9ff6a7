package authz

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fleetdesk/fleetdesk/internal/platform/httpx"
	"github.com/fleetdesk/fleetdesk/internal/shared"
)

// UserRoleLookup resolves a user's role for the per-user editor.
type UserRoleLookup func(ctx context.Context, userID string) (Role, error)

// AdminHandler exposes the permission editors over HTTP: the bulk
// role grid and the per-user override editor.
type AdminHandler struct {
	logger     *slog.Logger
	store      *PermissionStore
	gate       Gate
	audit      *shared.AuditLogger
	lookupRole UserRoleLookup
	validate   *validator.Validate
	titler     cases.Caser
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(logger *slog.Logger, store *PermissionStore, gate Gate, audit *shared.AuditLogger, lookupRole UserRoleLookup) *AdminHandler {
	return &AdminHandler{
		logger:     logger,
		store:      store,
		gate:       gate,
		audit:      audit,
		lookupRole: lookupRole,
		validate:   validator.New(),
		titler:     cases.Title(language.English),
	}
}

// MountRoutes registers the admin permission routes.
func (h *AdminHandler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.gate.Require(FeatureAdminPanel, FeatureAdminPermissionsEdit))
		r.Get("/", h.getGrid)
		r.Put("/", h.saveGrid)
		r.Get("/defaults", h.getDefaults)
		r.Post("/initialize", h.initialize)
		r.Get("/drift", h.getDrift)
		r.Get("/users/{userID}", h.getUserOverride)
		r.Put("/users/{userID}", h.saveUserOverride)
	})
}

type domainGroup struct {
	Key      string   `json:"key"`
	Label    string   `json:"label"`
	Features []string `json:"features"`
}

type gridResponse struct {
	Roles   []string            `json:"roles"`
	Domains []domainGroup       `json:"domains"`
	Matrix  map[string][]string `json:"matrix"`
}

func (h *AdminHandler) getGrid(w http.ResponseWriter, r *http.Request) {
	editor, err := NewGridEditor(r.Context(), h.store)
	if err != nil {
		h.logger.Error("load permission grid", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Store Unavailable", "could not load permission records")
		return
	}
	httpx.JSON(w, http.StatusOK, h.gridPayload(editor))
}

// getDefaults returns the compiled defaults matrix. Reset-to-defaults
// is a client-side replace: nothing persists until an explicit save.
func (h *AdminHandler) getDefaults(w http.ResponseWriter, r *http.Request) {
	matrix := make(map[string][]string, len(Roles()))
	for _, role := range Roles() {
		matrix[string(role)] = DefaultsFor(role).Strings()
	}
	httpx.JSON(w, http.StatusOK, gridResponse{Roles: roleNames(), Domains: h.domainGroups(), Matrix: matrix})
}

type saveGridRequest struct {
	Matrix map[string][]string `json:"matrix" validate:"required,min=1"`
}

type bulkReportResponse struct {
	Saved  []string          `json:"saved"`
	Failed map[string]string `json:"failed,omitempty"`
}

func (h *AdminHandler) saveGrid(w http.ResponseWriter, r *http.Request) {
	// The grid rewrites every role record: re-check inside the handler
	// so a permission revoked mid-session still blocks the write.
	if err := h.gate.Check(r.Context(), FeatureAdminPermissionsEdit); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req saveGridRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	for name := range req.Matrix {
		if !IsValidRole(Role(name)) {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown role: "+name)
			return
		}
	}

	editor, err := NewGridEditor(r.Context(), h.store)
	if err != nil {
		h.logger.Error("load permission grid", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Store Unavailable", "could not load permission records")
		return
	}
	for name, tokens := range req.Matrix {
		editor.Replace(Role(name), SetFromStrings(tokens))
	}

	actor := actorID(r)
	report := editor.Save(r.Context(), actor)
	h.recordAudit(r.Context(), actor, "permissions.save_grid", "role_permissions", "grid", map[string]any{
		"saved":  len(report.Saved),
		"failed": len(report.Failed),
	})

	body := bulkReportResponse{Saved: roleStrings(report.Saved)}
	if !report.OK() {
		body.Failed = make(map[string]string, len(report.Failed))
		for role, ferr := range report.Failed {
			body.Failed[string(role)] = ferr.Error()
		}
		h.logger.Error("bulk permission save partial failure", slog.Any("roles", report.FailedRoles()))
		httpx.JSON(w, http.StatusBadGateway, body)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

type initializeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=missing_only overwrite"`
}

func (h *AdminHandler) initialize(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Check(r.Context(), FeatureAdminPermissionsEdit); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req initializeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	mode := InitMissingOnly
	if req.Mode == "overwrite" {
		mode = InitOverwrite
	}

	actor := actorID(r)
	report, err := h.store.Initialize(r.Context(), mode, actor)
	if err != nil {
		h.logger.Error("initialize permissions", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Store Unavailable", "could not read existing records")
		return
	}
	h.recordAudit(r.Context(), actor, "permissions.initialize", "role_permissions", req.Mode, map[string]any{
		"saved":  len(report.Saved),
		"failed": len(report.Failed),
	})

	body := bulkReportResponse{Saved: roleStrings(report.Saved)}
	if !report.OK() {
		body.Failed = make(map[string]string, len(report.Failed))
		for role, ferr := range report.Failed {
			body.Failed[string(role)] = ferr.Error()
		}
		httpx.JSON(w, http.StatusBadGateway, body)
		return
	}
	httpx.JSON(w, http.StatusOK, body)
}

type driftEntry struct {
	Role    string   `json:"role"`
	Added   []string `json:"added,omitempty"`
	Removed []string `json:"removed,omitempty"`
	Unknown []string `json:"unknown,omitempty"`
}

func (h *AdminHandler) getDrift(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.store.DetectDrift(r.Context())
	if err != nil {
		h.logger.Error("detect drift", slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Store Unavailable", "could not read permission records")
		return
	}
	entries := make([]driftEntry, 0, len(drifts))
	for _, d := range drifts {
		entries = append(entries, driftEntry{
			Role:    string(d.Role),
			Added:   featureStrings(d.Added),
			Removed: featureStrings(d.Removed),
			Unknown: featureStrings(d.Unknown),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"drift": entries})
}

type userOverrideResponse struct {
	UserID      string   `json:"userId"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	HasOverride bool     `json:"hasOverride"`
}

func (h *AdminHandler) getUserOverride(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	role, err := h.lookupRole(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	editor, err := NewUserEditor(r.Context(), h.store, userID, role)
	if err != nil {
		h.logger.Error("load user override", slog.String("user", userID), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Store Unavailable", "could not load user permissions")
		return
	}
	hasOverride := false
	if override, oerr := h.store.UserOverride(r.Context(), userID); oerr == nil && override.Permissions.Len() > 0 {
		hasOverride = true
	}
	httpx.JSON(w, http.StatusOK, userOverrideResponse{
		UserID:      userID,
		Role:        string(role),
		Permissions: editor.Permissions().Strings(),
		HasOverride: hasOverride,
	})
}

type saveUserOverrideRequest struct {
	Permissions []string `json:"permissions" validate:"required"`
}

func (h *AdminHandler) saveUserOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.gate.Check(r.Context(), FeatureAdminPermissionsEdit); err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	role, err := h.lookupRole(r.Context(), userID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req saveUserOverrideRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Payload", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	editor, err := NewUserEditor(r.Context(), h.store, userID, role)
	if err != nil {
		httpx.Problem(w, http.StatusBadGateway, "Store Unavailable", "could not load user permissions")
		return
	}
	editor.Replace(SetFromStrings(req.Permissions))

	actor := actorID(r)
	if err := editor.Save(r.Context(), actor); err != nil {
		h.logger.Error("save user override", slog.String("user", userID), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Save Failed", "user permissions were not saved; retry")
		return
	}
	h.recordAudit(r.Context(), actor, "permissions.save_user", "user_permissions", userID, map[string]any{
		"count": editor.Permissions().Len(),
	})
	httpx.JSON(w, http.StatusOK, userOverrideResponse{
		UserID:      userID,
		Role:        string(role),
		Permissions: editor.Permissions().Strings(),
		HasOverride: editor.Permissions().Len() > 0,
	})
}

func (h *AdminHandler) gridPayload(editor *GridEditor) gridResponse {
	matrix := make(map[string][]string, len(Roles()))
	for _, role := range Roles() {
		matrix[string(role)] = editor.Permissions(role).Strings()
	}
	return gridResponse{Roles: roleNames(), Domains: h.domainGroups(), Matrix: matrix}
}

func (h *AdminHandler) domainGroups() []domainGroup {
	grouped := CatalogByDomain()
	groups := make([]domainGroup, 0, len(grouped))
	for _, key := range Domains() {
		groups = append(groups, domainGroup{
			Key:      key,
			Label:    h.titler.String(key),
			Features: featureStrings(grouped[key]),
		})
	}
	return groups
}

func (h *AdminHandler) recordAudit(ctx context.Context, actor, action, entity, entityID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	if err := h.audit.Record(ctx, shared.AuditLog{ActorID: actor, Action: action, Entity: entity, EntityID: entityID, Meta: meta}); err != nil {
		h.logger.Warn("audit record", slog.String("action", action), slog.Any("error", err))
	}
}

func actorID(r *http.Request) string {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		return sess.User()
	}
	return ""
}

func roleNames() []string {
	return roleStrings(Roles())
}

func roleStrings(in []Role) []string {
	out := make([]string, len(in))
	for i, r := range in {
		out[i] = string(r)
	}
	return out
}

func featureStrings(in []Feature) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, f := range in {
		out[i] = string(f)
	}
	return out
}
