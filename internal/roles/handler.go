package roles

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/platform/httpx"
	"github.com/stvsoc/internal-site/internal/rbac"
	"github.com/stvsoc/internal-site/internal/shared"
	"github.com/stvsoc/internal-site/internal/view"
)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, rbac: rbac}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Use(h.rbac.RequireAny(permissions.AdminRoles))
	r.Get("/", h.listRoles)
	r.Get("/new", h.showCreateRoleForm)
	r.Post("/", h.createRole)
	r.Get("/{id}", h.showRole)
	r.Get("/{id}/edit", h.showEditRoleForm)
	r.Post("/{id}", h.updateRole)
	r.Post("/{id}/delete", h.deleteRole)
	r.Post("/{id}/permissions", h.setPermissions)
	r.Post("/{id}/members", h.addMember)
	r.Post("/{id}/members/{userID}/delete", h.removeMember)
}

type formErrors map[string]string

type formData struct {
	Role        rbac.Role
	Name        string
	Description string
	Errors      formErrors
	IsNew       bool
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		h.render(w, r, "pages/roles/list.html", map[string]any{"Errors": formErrors{"general": shared.UserSafeMessage(err)}}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/roles/list.html", map[string]any{"Roles": roles}, http.StatusOK)
}

func (h *Handler) showCreateRoleForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/roles/form.html", formData{Errors: formErrors{}, IsNew: true}, http.StatusOK)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	name, description := r.PostFormValue("name"), r.PostFormValue("description")
	role, err := h.service.Create(r.Context(), principal.UserID, name, description)
	if err != nil {
		h.formError(w, r, formData{Name: name, Description: description, IsNew: true}, err)
		return
	}
	rbac.RedirectWithFlash(w, r, roleURL(role.ID), "success", "Role created")
}

func (h *Handler) showRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/roles/show.html", detail, http.StatusOK)
}

func (h *Handler) showEditRoleForm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	role := detail.Role
	h.render(w, r, "pages/roles/form.html", formData{Role: role, Name: role.Name, Description: role.Description, Errors: formErrors{}}, http.StatusOK)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	name, description := r.PostFormValue("name"), r.PostFormValue("description")
	if _, err := h.service.Update(r.Context(), principal.UserID, id, name, description); err != nil {
		h.formError(w, r, formData{Role: rbac.Role{ID: id}, Name: name, Description: description}, err)
		return
	}
	rbac.RedirectWithFlash(w, r, roleURL(id), "success", "Role updated")
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), principal.UserID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	rbac.RedirectWithFlash(w, r, "/roles", "success", "Role deleted")
}

func (h *Handler) setPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.SetPermissions(r.Context(), principal.UserID, id, r.PostForm["permissions"]); err != nil {
		if errors.Is(err, permissions.ErrUnknownPermission) {
			rbac.RedirectWithFlash(w, r, roleURL(id), "error", "Unknown permission submitted; nothing was changed")
			return
		}
		h.fail(w, r, err)
		return
	}
	rbac.RedirectWithFlash(w, r, roleURL(id), "success", "Permissions saved")
}

func (h *Handler) addMember(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.AddMemberByEmail(r.Context(), principal.UserID, id, r.PostFormValue("email")); err != nil {
		if errors.Is(err, ErrUnknownMember) {
			rbac.RedirectWithFlash(w, r, roleURL(id), "error", "No account uses that email")
			return
		}
		h.fail(w, r, err)
		return
	}
	rbac.RedirectWithFlash(w, r, roleURL(id), "success", "Member added")
}

func (h *Handler) removeMember(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	userID, ok := idParam(w, r, "userID")
	if !ok {
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.RemoveMember(r.Context(), principal.UserID, id, userID); err != nil {
		h.fail(w, r, err)
		return
	}
	rbac.RedirectWithFlash(w, r, roleURL(id), "success", "Member removed")
}

func (h *Handler) formError(w http.ResponseWriter, r *http.Request, data formData, err error) {
	switch {
	case errors.Is(err, rbac.ErrInvalidInput):
		data.Errors = formErrors{"Name": "is required and at most 64 characters"}
	case errors.Is(err, rbac.ErrDuplicate):
		data.Errors = formErrors{"Name": "is already used by another role"}
	case errors.Is(err, shared.ErrNotFound):
		http.NotFound(w, r)
		return
	default:
		h.logger.Error("save role", slog.Any("error", err))
		data.Errors = formErrors{"general": shared.UserSafeMessage(err)}
	}
	h.render(w, r, "pages/roles/form.html", data, httpx.StatusFor(err))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch status := httpx.StatusFor(err); status {
	case http.StatusNotFound:
		http.NotFound(w, r)
	case http.StatusInternalServerError:
		h.logger.Error("roles handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(w, http.StatusText(status), status)
	default:
		rbac.RedirectWithFlash(w, r, "/roles", "error", shared.UserSafeMessage(err))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	if err := h.templates.RenderStatus(w, status, template, rbac.PageData(r, h.csrf, "Roles", data)); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
	}
}

func roleURL(id int64) string {
	return "/roles/" + strconv.FormatInt(id, 10)
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}
