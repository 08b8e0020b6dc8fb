// Package server provides the dashboard HTTP server and handlers.
package server

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbaylor/intelboard/internal/client"
	"github.com/mbaylor/intelboard/internal/feed"
	"github.com/mbaylor/intelboard/internal/model"
	"github.com/mbaylor/intelboard/internal/search"
	"github.com/mbaylor/intelboard/internal/sources"
	"github.com/mbaylor/intelboard/internal/stream"
	"github.com/yuin/goldmark"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Server is the dashboard HTTP server.
type Server struct {
	api       *client.Client
	feed      *feed.Controller
	overlay   *search.Overlay
	registry  *sources.Registry
	router    chi.Router
	templates *template.Template
	markdown  goldmark.Markdown
	stop      chan struct{}
}

// New creates a new server over an already-wired feed controller.
func New(api *client.Client, ctrl *feed.Controller, overlay *search.Overlay, registry *sources.Registry) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"timeAgo": timeAgo,
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		api:       api,
		feed:      ctrl,
		overlay:   overlay,
		registry:  registry,
		templates: tmpl,
		markdown:  goldmark.New(),
		stop:      make(chan struct{}),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// Serve static files.
	staticSub, _ := fs.Sub(staticFS, "static")
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages.
	r.Get("/", s.handleHome)
	r.Get("/item/{id}", s.handleItem)
	r.Get("/sources", s.handleSources)
	r.Get("/sources/{domain}", s.handleSourceDetail)

	// API.
	r.Route("/api", func(r chi.Router) {
		r.Get("/feed", s.handleFeedSnapshot)
		r.Post("/search", s.handleSearch)
		r.Post("/favorite", s.handleFavorite)
		r.Post("/reconnect", s.handleReconnect)
		r.Post("/stream", s.handleStreamToggle)
		r.Get("/sources", s.handleSourcesAPI)
		r.Post("/export", s.handleExport)
	})

	s.router = r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start opens the live stream, begins feeding the source registry and
// search overlay from it, and serves HTTP until the process exits.
func (s *Server) Start(addr string) error {
	s.feed.Enable()
	go s.watch()
	log.Printf("Dashboard listening on %s", addr)
	return http.ListenAndServe(addr, s.router)
}

// Stop closes the stream and the snapshot watcher.
func (s *Server) Stop() {
	close(s.stop)
	s.feed.Disable()
}

// watch pushes every new feed snapshot into the source registry and the
// active search overlay.
func (s *Server) watch() {
	updates := s.feed.Subscribe()
	for {
		select {
		case <-updates:
			items := s.feed.Items()
			s.registry.Add(items)
			s.overlay.Observe(items)
		case <-s.stop:
			return
		}
	}
}

// visibleItems is the feed the user currently sees: the search overlay
// when a term is set, the live feed otherwise.
func (s *Server) visibleItems() []model.IntelItem {
	if s.overlay.Active() {
		return s.overlay.Items()
	}
	return s.feed.Items()
}

// --- Page Handlers ---

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"Items":      s.visibleItems(),
		"Status":     s.feed.Status(),
		"SearchTerm": s.overlay.Term(),
	}
	s.render(w, "feed.html", data)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var item *model.IntelItem
	for _, it := range s.feed.Items() {
		if it.ID == id {
			item = &it
			break
		}
	}
	if item == nil {
		http.Error(w, "Item not found", http.StatusNotFound)
		return
	}

	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(item.Content), &buf); err != nil {
		log.Printf("Markdown error for %s: %v", id, err)
		buf.Reset()
		buf.WriteString(template.HTMLEscapeString(item.Content))
	}

	data := map[string]interface{}{
		"Item":    item,
		"Content": template.HTML(buf.String()),
	}
	s.render(w, "item.html", data)
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	order := sources.ByCount
	if r.URL.Query().Get("sort") == "recency" {
		order = sources.ByRecency
	}
	data := map[string]interface{}{
		"Groups": s.registry.Groups(order),
		"Sort":   r.URL.Query().Get("sort"),
	}
	s.render(w, "sources.html", data)
}

func (s *Server) handleSourceDetail(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	items, totalPages := s.registry.Page(domain, page)
	if totalPages == 0 {
		http.Error(w, "Unknown source", http.StatusNotFound)
		return
	}
	if page > totalPages {
		page = totalPages
	}

	data := map[string]interface{}{
		"Domain":     domain,
		"Items":      items,
		"Page":       page,
		"TotalPages": totalPages,
		"PrevPage":   page - 1,
		"NextPage":   page + 1,
	}
	s.render(w, "source.html", data)
}

// --- API Handlers ---

func (s *Server) handleFeedSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"items":       s.visibleItems(),
		"status":      s.feed.Status(),
		"search_term": s.overlay.Term(),
		"searching":   s.overlay.Active(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term string `json:"term"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	// The historical fetch outlives this request; the overlay cancels it
	// itself when the term changes.
	s.overlay.SetTerm(context.Background(), req.Term)
	// Seed the overlay with what the live feed already holds so matches
	// appear before the historical fetch lands.
	s.overlay.Observe(s.feed.Items())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"term":   s.overlay.Term(),
	})
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID        string `json:"id"`
		Favorited bool   `json:"favorited"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	// The flag flips locally first; a backend failure is reported but
	// the local state is kept so a retry starts from what the user sees.
	var err error
	if s.overlay.Active() {
		err = s.overlay.ToggleFavorite(r.Context(), req.ID, req.Favorited)
	} else {
		err = s.feed.ToggleFavorite(r.Context(), req.ID, req.Favorited)
	}
	if err != nil {
		log.Printf("Favorite sync failed for %s: %v", req.ID, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":    "local-only",
			"favorited": !req.Favorited,
			"error":     err.Error(),
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"favorited": !req.Favorited,
	})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if s.feed.Status() != stream.StatusError {
		http.Error(w, "Stream is not in an error state", http.StatusConflict)
		return
	}
	s.feed.Reconnect()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStreamToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}
	if req.Enabled {
		s.feed.Enable()
	} else {
		s.feed.Disable()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"status": "ok", "enabled": req.Enabled})
}

func (s *Server) handleSourcesAPI(w http.ResponseWriter, r *http.Request) {
	order := sources.ByCount
	if r.URL.Query().Get("sort") == "recency" {
		order = sources.ByRecency
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"groups": s.registry.Groups(order),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req client.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request", http.StatusBadRequest)
		return
	}

	data, err := s.api.Export(r.Context(), req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Export failed: %v", err), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename=intel-export.docx")
	w.Write(data)
}

// --- Helpers ---

func (s *Server) render(w http.ResponseWriter, name string, data interface{}) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("Template error: %v", err)
		http.Error(w, "Render error", http.StatusInternalServerError)
	}
}

func timeAgo(ts float64) string {
	d := time.Since(time.Unix(int64(ts), 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
