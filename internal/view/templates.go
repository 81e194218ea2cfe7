package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/stvsoc/internal-site/internal/permissions"
	"github.com/stvsoc/internal-site/internal/shared"
	"github.com/stvsoc/internal-site/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
	catalog   *permissions.Catalog
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	// UserName is empty for anonymous pages.
	UserName string
	// Permissions drives the template gates. It is only used to hide UI.
	Permissions permissions.Set
	Data        any
}

// Gate is the value produced by the gate template function.
type Gate struct {
	Allowed  bool
	Fallback string
}

// NewEngine parses the embedded templates. Template gates validate names
// against catalog; the built-in catalog is used when catalog is nil.
func NewEngine(catalog *permissions.Catalog) (*Engine, error) {
	if catalog == nil {
		c, err := permissions.NewCatalog()
		if err != nil {
			return nil, err
		}
		catalog = c
	}
	e := &Engine{catalog: catalog}
	tpl, err := template.New("root").Funcs(e.funcMap()).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html", "templates/pages/*/*.html")
	if err != nil {
		return nil, err
	}
	e.templates = tpl
	return e, nil
}

func (e *Engine) funcMap() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
		"add":       func(a, b int) int { return a + b },
		"hasPrefix": strings.HasPrefix,
		"list":      func(items ...string) []string { return items },
		"can": func(set permissions.Set, name string) (bool, error) {
			return e.allowed(set, name)
		},
		"canAny": func(set permissions.Set, names ...string) (bool, error) {
			return e.allowed(set, names...)
		},
		"gate": func(set permissions.Set, fallback string, names ...string) (Gate, error) {
			ok, err := e.allowed(set, names...)
			if err != nil {
				return Gate{}, err
			}
			if ok {
				return Gate{Allowed: true}, nil
			}
			return Gate{Fallback: fallback}, nil
		},
	}
}

func (e *Engine) allowed(set permissions.Set, names ...string) (bool, error) {
	required, err := e.catalog.ParseAll(names)
	if err != nil {
		return false, err
	}
	return set.Has(required...), nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus renders into a buffer first so a template error never leaves a
// half-written page behind.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
