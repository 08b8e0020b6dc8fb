// Package relay is a built-in development backend implementing the
// intel API contract: paginated queries, favorite toggles and a
// resumable global event stream fed by an RSS poller.
package relay

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mbaylor/intelboard/internal/model"
)

// CacheLimit bounds the in-memory item window served to new stream
// subscribers.
const CacheLimit = 1000

// initialBatchChunk is how many items one initial_batch event carries.
const initialBatchChunk = 50

// keepAliveInterval paces SSE comment lines on idle streams.
const keepAliveInterval = 25 * time.Second

// Relay holds the item cache and the set of live stream subscribers.
type Relay struct {
	mu        sync.Mutex
	cache     []model.IntelItem // oldest first, capped at CacheLimit
	seen      map[string]bool
	listeners map[chan string]struct{}

	router chi.Router
}

// New creates an empty relay.
func New() *Relay {
	r := &Relay{
		seen:      make(map[string]bool),
		listeners: make(map[chan string]struct{}),
	}
	r.setupRoutes()
	return r
}

func (rl *Relay) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/intel", func(r chi.Router) {
		r.Get("/", rl.handleQuery)
		r.Get("/favorites", rl.handleFavorites)
		r.Post("/export", rl.handleExport)
		r.Get("/{id}", rl.handleDetail)
		r.Post("/{id}/favorite", rl.handleToggleFavorite)
	})
	r.Get("/agent/stream/global", rl.handleStream)

	rl.router = r
}

// Handler returns the relay's HTTP handler.
func (rl *Relay) Handler() http.Handler { return rl.router }

// Seen reports whether an item id has already been published.
func (rl *Relay) Seen(id string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.seen[id]
}

// Publish adds an item to the cache and pushes it to every subscriber.
// Items already seen (by id) are dropped, so re-polled feed entries do
// not echo.
func (rl *Relay) Publish(item model.IntelItem) {
	data, err := json.Marshal(item)
	if err != nil {
		log.Printf("relay: marshal item %s: %v", item.ID, err)
		return
	}
	msg := "event: new_intel\ndata: " + string(data) + "\n\n"

	rl.mu.Lock()
	if rl.seen[item.ID] {
		rl.mu.Unlock()
		return
	}
	rl.seen[item.ID] = true
	rl.cache = append(rl.cache, item)
	if len(rl.cache) > CacheLimit {
		rl.cache = rl.cache[len(rl.cache)-CacheLimit:]
	}
	for q := range rl.listeners {
		select {
		case q <- msg:
		default:
			// Slow subscriber: drop the message rather than the relay.
		}
	}
	rl.mu.Unlock()
}

// --- API handlers ---

func (rl *Relay) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	rng := model.TimeRange(r.URL.Query().Get("range"))
	limit := intParam(r, "limit", 20)
	offset := intParam(r, "offset", 0)

	items := rl.filtered(q, rng, nil)
	writeJSON(w, paginate(items, limit, offset))
}

func (rl *Relay) handleFavorites(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	limit := intParam(r, "limit", 20)
	offset := intParam(r, "offset", 0)

	fav := true
	items := rl.filtered(q, model.RangeAll, &fav)
	writeJSON(w, paginate(items, limit, offset))
}

func (rl *Relay) handleDetail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for i := len(rl.cache) - 1; i >= 0; i-- {
		if rl.cache[i].ID == id {
			writeJSON(w, rl.cache[i])
			return
		}
	}
	http.Error(w, "not found", http.StatusNotFound)
}

func (rl *Relay) handleToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req struct {
		Favorited bool `json:"favorited"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	rl.mu.Lock()
	found := false
	for i := range rl.cache {
		if rl.cache[i].ID == id {
			rl.cache[i].Favorited = req.Favorited
			found = true
			break
		}
	}
	rl.mu.Unlock()

	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"status": "ok", "favorited": req.Favorited})
}

// handleExport renders the selected items as a plain-text document. The
// production backend produces a word-processor file; for development the
// content is what matters.
func (rl *Relay) handleExport(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs   []string `json:"ids"`
		Query string   `json:"q"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	wanted := make(map[string]bool, len(req.IDs))
	for _, id := range req.IDs {
		wanted[id] = true
	}

	rl.mu.Lock()
	var out strings.Builder
	for i := len(rl.cache) - 1; i >= 0; i-- {
		item := rl.cache[i]
		if len(wanted) > 0 && !wanted[item.ID] {
			continue
		}
		if len(wanted) == 0 && req.Query != "" && !containsFold(item, req.Query) {
			continue
		}
		fmt.Fprintf(&out, "%s\n%s\n\n%s\n\n---\n\n", item.Title, item.Time, item.Summary)
	}
	rl.mu.Unlock()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=intel-export.txt")
	w.Write([]byte(out.String()))
}

// handleStream serves the resumable global SSE stream. Catch-up history
// is delivered as chunked initial_batch events filtered by the cursor
// parameters, followed by live new_intel pushes.
func (rl *Relay) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	afterTS := floatParam(r, "after_ts")
	afterID := r.URL.Query().Get("after_id")

	q := make(chan string, 64)
	rl.mu.Lock()
	snapshot := make([]model.IntelItem, len(rl.cache))
	copy(snapshot, rl.cache)
	rl.listeners[q] = struct{}{}
	rl.mu.Unlock()
	defer func() {
		rl.mu.Lock()
		delete(rl.listeners, q)
		rl.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	initial := resumeWindow(snapshot, afterTS, afterID)
	for i := 0; i < len(initial); i += initialBatchChunk {
		end := i + initialBatchChunk
		if end > len(initial) {
			end = len(initial)
		}
		data, err := json.Marshal(initial[i:end])
		if err != nil {
			log.Printf("relay: marshal initial batch: %v", err)
			return
		}
		fmt.Fprintf(w, "event: initial_batch\ndata: %s\n\n", data)
	}
	flusher.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-q:
			fmt.Fprint(w, msg)
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

// resumeWindow applies the cursor rules: with both parameters, items
// after the id position whose timestamp is >= after_ts; with only
// after_ts, items strictly newer; with only after_id, everything after
// the id; otherwise the whole cache.
func resumeWindow(cache []model.IntelItem, afterTS float64, afterID string) []model.IntelItem {
	start := 0
	if afterID != "" {
		for i, item := range cache {
			if item.ID == afterID {
				start = i + 1
				break
			}
		}
	}

	switch {
	case afterTS > 0 && afterID != "":
		var out []model.IntelItem
		for _, item := range cache[start:] {
			if item.Timestamp >= afterTS {
				out = append(out, item)
			}
		}
		return out
	case afterTS > 0:
		var out []model.IntelItem
		for _, item := range cache {
			if item.Timestamp > afterTS {
				out = append(out, item)
			}
		}
		return out
	case afterID != "":
		return cache[start:]
	default:
		return cache
	}
}

// --- Filtering helpers ---

func (rl *Relay) filtered(q string, rng model.TimeRange, favorited *bool) []model.IntelItem {
	cutoff := rangeCutoff(rng, time.Now())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	var out []model.IntelItem
	// Newest first.
	for i := len(rl.cache) - 1; i >= 0; i-- {
		item := rl.cache[i]
		if favorited != nil && item.Favorited != *favorited {
			continue
		}
		if cutoff > 0 && item.Timestamp <= cutoff {
			continue
		}
		if q != "" && !containsFold(item, q) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func rangeCutoff(rng model.TimeRange, now time.Time) float64 {
	var window time.Duration
	switch rng {
	case model.Range3h:
		window = 3 * time.Hour
	case model.Range6h:
		window = 6 * time.Hour
	case model.Range12h:
		window = 12 * time.Hour
	default:
		return 0
	}
	return float64(now.Add(-window).Unix())
}

func containsFold(item model.IntelItem, q string) bool {
	needle := strings.ToLower(q)
	for _, hay := range []string{item.Title, item.Summary, item.Content, item.Source} {
		if strings.Contains(strings.ToLower(hay), needle) {
			return true
		}
	}
	for _, tag := range item.Tags {
		if strings.Contains(strings.ToLower(tag.Label), needle) {
			return true
		}
	}
	return false
}

func paginate(items []model.IntelItem, limit, offset int) model.ListResponse {
	total := len(items)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return model.ListResponse{Items: items[offset:end], Total: total}
}

func intParam(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil || n < 0 {
		return fallback
	}
	return n
}

func floatParam(r *http.Request, name string) float64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	var f float64
	if _, err := fmt.Sscanf(raw, "%g", &f); err != nil {
		return 0
	}
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("relay: encode response: %v", err)
	}
}
