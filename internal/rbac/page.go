package rbac

import (
	"net/http"

	"github.com/stvsoc/internal-site/internal/shared"
	"github.com/stvsoc/internal-site/internal/view"
)

// PageData builds the template data for the current request. The permission
// set comes from the principal stored by the middleware; anonymous pages get
// an empty set.
func PageData(r *http.Request, csrf *shared.CSRFManager, title string, data any) view.TemplateData {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	var csrfToken string
	if csrf != nil {
		csrfToken, _ = csrf.EnsureToken(ctx, sess)
	}
	td := view.TemplateData{
		Title:       title,
		CSRFToken:   csrfToken,
		Flash:       sess.PopFlash(),
		CurrentPath: r.URL.Path,
		Data:        data,
	}
	if principal, ok := PrincipalFromContext(ctx); ok {
		td.UserName = principal.Name
		td.Permissions = principal.Permissions
	}
	return td
}

// RedirectWithFlash queues a flash message and redirects with 303.
func RedirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
