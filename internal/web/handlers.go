package web

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hpungsan/kapy/internal/errors"
	"github.com/hpungsan/kapy/internal/ops"
)

// Handlers contains HTTP route handlers for the web UI.
type Handlers struct {
	env      *ops.Env
	renderer *Renderer
	logger   *zap.Logger
}

// HandleList handles GET /records: recent records under a channel.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	ch := strings.TrimSpace(r.URL.Query().Get("channel"))
	data := ListPageData{
		PageData: h.page("Records", "records"),
		Channel:  ch,
	}
	if ch == "" {
		h.renderer.renderPage(w, r, "list", data)
		return
	}

	result, err := ops.Scan(r.Context(), h.env, ops.ScanInput{
		Channel: ch,
		Limit:   parseIntParam(r, "limit", ops.DefaultScanLimit),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	data.Items = result.Items
	data.Diagnostics = len(result.Diagnostics)
	h.renderer.renderPage(w, r, "list", data)
}

// HandleDetail handles GET /records/{id}: one record with its detail log.
func (h *Handlers) HandleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		h.renderer.renderError(w, r, errors.NewInvalidRequest("record id is required"))
		return
	}

	includeDetail := true
	rec, err := ops.Fetch(r.Context(), h.env, ops.FetchInput{
		ID:            id,
		IncludeDetail: &includeDetail,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	lines, err := rec.DetailLines()
	if err != nil {
		h.renderer.renderError(w, r, errors.NewInternal(err))
		return
	}
	var batches []string
	if len(lines) > 2 {
		batches = lines[2:]
	}

	h.renderer.renderPage(w, r, "detail", DetailPageData{
		PageData:   h.page(rec.ID, "records"),
		Record:     rec,
		InputHTML:  renderMarkdown(rec.Input),
		OutputHTML: renderMarkdown(rec.Output),
		Batches:    batches,
	})
}

// HandleSearch handles GET /search: the search routes without an output file.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := SearchPageData{
		PageData: h.page("Search", "search"),
		Channel:  strings.TrimSpace(q.Get("channel")),
		Actor:    strings.TrimSpace(q.Get("actor")),
		Keyword:  q.Get("keyword"),
	}
	if data.Channel == "" {
		h.renderer.renderPage(w, r, "search", data)
		return
	}

	sum, err := ops.Preview(r.Context(), h.env, ops.SearchInput{
		InChannel:     data.Channel,
		ActorID:       data.Actor,
		Keyword:       data.Keyword,
		PerRouteLimit: parseIntParam(r, "limit", 0),
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}
	data.Summary = sum
	data.HasQuery = true

	// htmx swaps only the results section.
	if r.Header.Get("HX-Target") == "results" {
		h.renderer.renderBlock(w, http.StatusOK, "search", "search-results", data)
		return
	}
	h.renderer.renderPage(w, r, "search", data)
}

// HandlePreferences handles GET /preferences: the documents that apply to
// a channel and actor, rendered from markdown.
func (h *Handlers) HandlePreferences(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	data := PreferencesPageData{
		PageData: h.page("Preferences", "preferences"),
		Channel:  strings.TrimSpace(q.Get("channel")),
		Actor:    strings.TrimSpace(q.Get("actor")),
	}
	if data.Channel == "" {
		h.renderer.renderPage(w, r, "preferences", data)
		return
	}

	result, err := ops.Preferences(h.env, ops.PreferencesInput{
		InChannel: data.Channel,
		ActorID:   data.Actor,
	})
	if err != nil {
		h.renderer.renderError(w, r, err)
		return
	}

	for _, d := range result.Documents {
		data.Documents = append(data.Documents, PreferenceDoc{
			Path:   d.Path,
			Source: string(d.Source),
			HTML:   renderMarkdown(d.Content),
		})
	}
	h.renderer.renderPage(w, r, "preferences", data)
}

func (h *Handlers) page(title, nav string) PageData {
	return PageData{Title: title, Version: h.renderer.version, Nav: nav}
}

// parseIntParam parses an integer query parameter with a default value.
func parseIntParam(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}

// PreferenceDoc is one rendered preference document.
type PreferenceDoc struct {
	Path   string
	Source string
	HTML   template.HTML
}
