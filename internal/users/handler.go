package users

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

// Handler manages user management endpoints.
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

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(permissions.AdminUsers))
		r.Get("/", h.listUsers)
		r.Get("/new", h.showCreateUserForm)
		r.Post("/", h.createUser)
		r.Get("/{id}", h.showUser)
		r.Get("/{id}/edit", h.showEditUserForm)
		r.Post("/{id}", h.updateUser)
		r.Post("/{id}/delete", h.deleteUser)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(permissions.AdminRoles))
		r.Post("/{id}/roles", h.assignRole)
		r.Post("/{id}/roles/{roleID}/delete", h.unassignRole)
	})
}

type formData struct {
	User   User
	Input  Input
	Errors ValidationErrors
	IsNew  bool
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.List(r.Context(), ListFilter{
		Query: r.URL.Query().Get("q"),
		Page:  shared.PageFromRequest(r),
	})
	if err != nil {
		h.logger.Error("list users failed", slog.Any("error", err))
		h.render(w, r, "pages/users/list.html", Page{Errors: map[string]string{"general": shared.UserSafeMessage(err)}}, http.StatusInternalServerError)
		return
	}
	h.render(w, r, "pages/users/list.html", page, http.StatusOK)
}

func (h *Handler) showCreateUserForm(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/users/form.html", formData{Input: Input{IsActive: true}, Errors: ValidationErrors{}, IsNew: true}, http.StatusOK)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	in, ok := parseInput(w, r)
	if !ok {
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	user, err := h.service.Create(r.Context(), principal.UserID, in)
	if err != nil {
		in.Password = ""
		h.formError(w, r, formData{Input: in, IsNew: true}, err)
		return
	}
	rbac.RedirectWithFlash(w, r, "/users/"+strconv.FormatInt(user.ID, 10), "success", "User created")
}

func (h *Handler) showUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/users/show.html", detail, http.StatusOK)
}

func (h *Handler) showEditUserForm(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	u := detail.User
	h.render(w, r, "pages/users/form.html", formData{
		User:   u,
		Input:  Input{Email: u.Email, Name: u.Name, IsActive: u.IsActive},
		Errors: ValidationErrors{},
	}, http.StatusOK)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	in, ok := parseInput(w, r)
	if !ok {
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if _, err := h.service.Update(r.Context(), principal.UserID, id, in); err != nil {
		in.Password = ""
		h.formError(w, r, formData{User: User{ID: id}, Input: in}, err)
		return
	}
	rbac.RedirectWithFlash(w, r, "/users/"+strconv.FormatInt(id, 10), "success", "User updated")
}

func (h *Handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.Delete(r.Context(), principal.UserID, id); err != nil {
		if errors.Is(err, ErrSelfDelete) {
			rbac.RedirectWithFlash(w, r, "/users/"+strconv.FormatInt(id, 10), "error", "You cannot delete your own account")
			return
		}
		h.fail(w, r, err)
		return
	}
	rbac.RedirectWithFlash(w, r, "/users", "success", "User deleted")
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	roleID, err := strconv.ParseInt(r.PostFormValue("role_id"), 10, 64)
	back := "/users/" + strconv.FormatInt(id, 10)
	if err != nil || roleID <= 0 {
		rbac.RedirectWithFlash(w, r, back, "error", "Choose a role")
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.AssignRole(r.Context(), principal.UserID, id, roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	rbac.RedirectWithFlash(w, r, back, "success", "Role assigned")
}

func (h *Handler) unassignRole(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r, "id")
	if !ok {
		return
	}
	roleID, ok := idParam(w, r, "roleID")
	if !ok {
		return
	}
	principal, _ := rbac.PrincipalFromContext(r.Context())
	if err := h.service.UnassignRole(r.Context(), principal.UserID, id, roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	rbac.RedirectWithFlash(w, r, "/users/"+strconv.FormatInt(id, 10), "success", "Role removed")
}

func (h *Handler) formError(w http.ResponseWriter, r *http.Request, data formData, err error) {
	var verrs ValidationErrors
	switch {
	case errors.As(err, &verrs):
		data.Errors = verrs
	case errors.Is(err, ErrEmailTaken):
		data.Errors = ValidationErrors{"Email": "is already registered"}
	case errors.Is(err, shared.ErrNotFound):
		http.NotFound(w, r)
		return
	default:
		h.logger.Error("save user", slog.Any("error", err))
		data.Errors = ValidationErrors{"general": shared.UserSafeMessage(err)}
	}
	h.render(w, r, "pages/users/form.html", data, httpx.StatusFor(err))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch status := httpx.StatusFor(err); status {
	case http.StatusNotFound:
		http.NotFound(w, r)
	case http.StatusInternalServerError:
		h.logger.Error("users handler", slog.String("path", r.URL.Path), slog.Any("error", err))
		http.Error(w, http.StatusText(status), status)
	default:
		rbac.RedirectWithFlash(w, r, "/users", "error", shared.UserSafeMessage(err))
	}
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, template string, data any, status int) {
	if err := h.templates.RenderStatus(w, status, template, rbac.PageData(r, h.csrf, "Users", data)); err != nil {
		h.logger.Error("render template", slog.String("template", template), slog.Any("error", err))
	}
}

func parseInput(w http.ResponseWriter, r *http.Request) (Input, bool) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return Input{}, false
	}
	return Input{
		Email:    r.PostFormValue("email"),
		Name:     r.PostFormValue("name"),
		Password: r.PostFormValue("password"),
		IsActive: r.PostFormValue("is_active") == "on",
	}, true
}

func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		http.NotFound(w, r)
		return 0, false
	}
	return id, true
}
