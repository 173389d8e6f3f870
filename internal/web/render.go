package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/ops"
	"github.com/hpungsan/kapy/internal/search"
)

// PageData contains common fields used across all page templates.
type PageData struct {
	Title   string
	Version string
	Nav     string // active nav item: "records", "search", "preferences"
}

// ListPageData is the template data for the record list page.
type ListPageData struct {
	PageData
	Channel     string
	Items       []ops.ScanItem
	Diagnostics int
}

// DetailPageData is the template data for the record detail page.
type DetailPageData struct {
	PageData
	Record     *ops.FetchOutput
	InputHTML  template.HTML
	OutputHTML template.HTML
	Batches    []string
}

// SearchPageData is the template data for the search page.
type SearchPageData struct {
	PageData
	Channel  string
	Actor    string
	Keyword  string
	Summary  *search.Summary
	HasQuery bool
}

// PreferencesPageData is the template data for the preferences page.
type PreferencesPageData struct {
	PageData
	Channel   string
	Actor     string
	Documents []PreferenceDoc
}

// ErrorPageData is the template data for the error page.
type ErrorPageData struct {
	PageData
	StatusCode int
	Message    string
}

// Renderer manages template parsing and rendering.
type Renderer struct {
	templates map[string]*template.Template
	version   string
	logger    *zap.Logger
}

// NewRenderer parses the layout and every page template from templateFS.
func NewRenderer(templateFS fs.FS, version string, logger *zap.Logger) (*Renderer, error) {
	funcMap := template.FuncMap{
		"formatTime": formatTime,
		"join":       strings.Join,
		"metadata":   func(raw json.RawMessage) string { return string(raw) },
	}

	layout, err := template.New("layout").Funcs(funcMap).ParseFS(templateFS, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	pages := map[string]string{
		"list":        "list.html",
		"detail":      "detail.html",
		"search":      "search.html",
		"preferences": "preferences.html",
		"error":       "error.html",
	}

	templates := make(map[string]*template.Template, len(pages))
	for name, file := range pages {
		t, err := layout.Clone()
		if err != nil {
			return nil, err
		}
		if _, err := t.ParseFS(templateFS, file); err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		templates[name] = t
	}

	return &Renderer{templates: templates, version: version, logger: logger}, nil
}

// renderPage renders a named page template with HTTP 200.
func (r *Renderer) renderPage(w http.ResponseWriter, req *http.Request, name string, data any) {
	r.renderPageStatus(w, req, http.StatusOK, name, data)
}

// renderPageStatus renders a named page. htmx requests get only the
// "content" block.
func (r *Renderer) renderPageStatus(w http.ResponseWriter, req *http.Request, status int, name string, data any) {
	block := "layout"
	if req != nil && req.Header.Get("HX-Request") == "true" {
		block = "content"
	}
	r.renderBlock(w, status, name, block, data)
}

// renderBlock renders a specific named block from a page template.
func (r *Renderer) renderBlock(w http.ResponseWriter, status int, page, block string, data any) {
	t, ok := r.templates[page]
	if !ok {
		r.logger.Error("template not found", zap.String("page", page))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, block, data); err != nil {
		r.logger.Error("template execution failed", zap.String("page", page), zap.String("block", block), zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// renderError renders an error response with content negotiation.
func (r *Renderer) renderError(w http.ResponseWriter, req *http.Request, err error) {
	kErr, ok := errors.As(err)
	if !ok {
		kErr = errors.NewInternal(err)
	}

	status := kErr.Status
	message := kErr.Message
	if kErr.Code == errors.ErrInternal {
		r.logger.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
		message = "an internal error occurred"
	}

	if req.Header.Get("HX-Request") == "true" {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, `<div class="error-message">%s</div>`, template.HTMLEscapeString(message))
		return
	}

	if strings.Contains(req.Header.Get("Accept"), "application/json") {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{
				"code":    string(kErr.Code),
				"message": message,
				"status":  status,
			},
		})
		return
	}

	r.renderPageStatus(w, req, status, "error", ErrorPageData{
		PageData: PageData{
			Title:   fmt.Sprintf("Error %d", status),
			Version: r.version,
		},
		StatusCode: status,
		Message:    message,
	})
}

// renderMarkdown converts markdown text to HTML using goldmark. Raw HTML in
// the source is omitted by goldmark's default renderer.
func renderMarkdown(md string) template.HTML {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(buf.String())
}

// formatTime formats t as "2006-01-02 15:04:05" UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}
