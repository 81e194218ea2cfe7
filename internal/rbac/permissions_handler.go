package rbac

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/platform/httpx"
	"github.com/stvsoc/internal-site/internal/shared"
	"github.com/stvsoc/internal-site/internal/view"
)

// PermissionsHandler manages the stored permission screens.
type PermissionsHandler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      Middleware
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac Middleware) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers permission routes.
func (h *PermissionsHandler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(permissions.AdminPermissions))
	r.Get("/", h.listPermissions)
	r.Post("/", h.createPermission)
	r.Post("/sync", h.syncCatalog)
	r.Get("/{id}/edit", h.editPermission)
	r.Post("/{id}", h.updatePermission)
	r.Post("/{id}/delete", h.deletePermission)
}

// MountSessionAPI registers the JSON view of the caller's effective permissions.
func (h *PermissionsHandler) MountSessionAPI(r chi.Router) {
	r.With(h.rbac.Authenticated()).Get("/permissions", h.sessionPermissions)
}

type formErrors map[string]string

type permissionListData struct {
	Permissions []PermissionRecord
	// Unstored lists catalog entries that have no row yet.
	Unstored []permissions.Definition
	Errors   formErrors
}

type sessionPermissionsResponse struct {
	UserID      int64    `json:"user_id"`
	Name        string   `json:"name"`
	SuperUser   bool     `json:"super_user"`
	Permissions []string `json:"permissions"`
}

func (h *PermissionsHandler) listPermissions(w http.ResponseWriter, r *http.Request) {
	data, err := h.listData(r)
	if err != nil {
		h.logger.Error("list permissions", slog.Any("error", err))
		data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
		h.render(w, r, "pages/permissions/list.html", data, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/permissions/list.html", data, http.StatusOK)
}

func (h *PermissionsHandler) listData(r *http.Request) (permissionListData, error) {
	stored, err := h.service.ListPermissions(r.Context())
	if err != nil {
		return permissionListData{}, err
	}
	have := make(map[permissions.Permission]struct{}, len(stored))
	for _, p := range stored {
		have[p.Name] = struct{}{}
	}
	var unstored []permissions.Definition
	for _, def := range h.service.Catalog().Definitions() {
		if _, ok := have[def.Name]; !ok {
			unstored = append(unstored, def)
		}
	}
	return permissionListData{Permissions: stored, Unstored: unstored}, nil
}

func (h *PermissionsHandler) createPermission(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	rec, err := h.service.CreatePermission(r.Context(), principal.UserID, r.PostFormValue("name"), r.PostFormValue("description"))
	if err != nil {
		data, listErr := h.listData(r)
		if listErr != nil {
			h.logger.Error("list permissions", slog.Any("error", listErr))
		}
		data.Errors = formErrors{"name": formMessage(err)}
		h.render(w, r, "pages/permissions/list.html", data, httpx.StatusFor(err))
		return
	}
	RedirectWithFlash(w, r, "/permissions", "success", "Permission "+string(rec.Name)+" created")
}

func (h *PermissionsHandler) syncCatalog(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.SyncCatalog(r.Context())
	if err != nil {
		h.logger.Error("sync permission catalog", slog.Any("error", err))
		RedirectWithFlash(w, r, "/permissions", "error", shared.UserSafeMessage(err))
		return
	}
	RedirectWithFlash(w, r, "/permissions", "success", strconv.Itoa(n)+" catalog permissions present")
}

func (h *PermissionsHandler) editPermission(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetPermission(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/permissions/form.html", map[string]any{"Permission": rec, "Errors": formErrors{}}, http.StatusOK)
}

func (h *PermissionsHandler) updatePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	if _, err := h.service.UpdatePermission(r.Context(), principal.UserID, id, r.PostFormValue("description")); err != nil {
		h.fail(w, r, err)
		return
	}
	RedirectWithFlash(w, r, "/permissions", "success", "Permission updated")
}

func (h *PermissionsHandler) deletePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	principal, _ := PrincipalFromContext(r.Context())
	if err := h.service.DeletePermission(r.Context(), principal.UserID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	RedirectWithFlash(w, r, "/permissions", "success", "Permission deleted")
}

func (h *PermissionsHandler) sessionPermissions(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrNotAuthenticated)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.JSON(w, http.StatusOK, sessionPermissionsResponse{
		UserID:      principal.UserID,
		Name:        principal.Name,
		SuperUser:   principal.Permissions.IsSuperUser(),
		Permissions: principal.Permissions.Names(),
	})
}

func (h *PermissionsHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("permissions handler", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	if status == http.StatusNotFound {
		http.NotFound(w, r)
		return
	}
	RedirectWithFlash(w, r, "/permissions", "error", formMessage(err))
}

func (h *PermissionsHandler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	if err := h.templates.RenderStatus(w, status, template, PageData(r, h.csrf, "Permissions", data)); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}

// formMessage turns a validation error into text for the form.
func formMessage(err error) string {
	switch {
	case errors.Is(err, permissions.ErrUnknownPermission):
		return "Not a known permission name"
	case errors.Is(err, ErrDuplicate):
		return "That name is already in use"
	case errors.Is(err, ErrInvalidInput):
		return err.Error()
	default:
		return shared.UserSafeMessage(err)
	}
}
