package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbaylor/intelboard/internal/client"
	"github.com/mbaylor/intelboard/internal/favorites"
	"github.com/mbaylor/intelboard/internal/feed"
	"github.com/mbaylor/intelboard/internal/model"
	"github.com/mbaylor/intelboard/internal/search"
	"github.com/mbaylor/intelboard/internal/sources"
	"github.com/stretchr/testify/require"
)

type memKV struct {
	mu sync.Mutex
	m  map[string]string
}

func newMemKV() *memKV { return &memKV{m: make(map[string]string)} }

func (k *memKV) Get(key string) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.m[key], nil
}

func (k *memKV) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.m[key] = value
	return nil
}

// fixture wires a server whose stream source is a one-batch SSE backend.
type fixture struct {
	srv  *Server
	ctrl *feed.Controller
}

func newFixture(t *testing.T, items []model.IntelItem) *fixture {
	t.Helper()

	payload, err := json.Marshal(items)
	require.NoError(t, err)

	streamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "event: initial_batch\ndata: %s\n\n", payload)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
	t.Cleanup(streamSrv.Close)

	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/favorite"):
			json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
		case strings.Contains(r.URL.Path, "/intel/export"):
			w.Write([]byte("exported-document"))
		default:
			json.NewEncoder(w).Encode(model.ListResponse{})
		}
	}))
	t.Cleanup(backendSrv.Close)

	api := client.New(backendSrv.URL)
	favs := favorites.NewStore(newMemKV(), "tester")
	ctrl := feed.NewController(feed.Options{
		StreamURL: streamSrv.URL,
		Favorites: favs,
		API:       api,
	})
	overlay := search.NewOverlay(api, favs)
	registry := sources.NewRegistry()

	s, err := New(api, ctrl, overlay, registry)
	require.NoError(t, err)

	if len(items) > 0 {
		ctrl.Enable()
		t.Cleanup(ctrl.Disable)
		deadline := time.Now().Add(5 * time.Second)
		for len(ctrl.Items()) < len(items) {
			if time.Now().After(deadline) {
				t.Fatal("controller never received the batch")
			}
			time.Sleep(5 * time.Millisecond)
		}
		registry.Add(ctrl.Items())
	}

	return &fixture{srv: s, ctrl: ctrl}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func sampleItems() []model.IntelItem {
	return []model.IntelItem{
		{ID: "a", Title: "Pipeline outage", Summary: "A summary", Source: "BBC News",
			URL: "https://www.bbc.co.uk/news/1", Content: "# Heading\n\nBody text.", Timestamp: 30},
		{ID: "b", Title: "Quiet day", Summary: "Nothing", Source: "Reuters",
			URL: "https://www.reuters.com/world/2", Timestamp: 20},
	}
}

func TestHomePage(t *testing.T) {
	f := newFixture(t, sampleItems())
	rec := f.get(t, "/")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Pipeline outage")
	require.Contains(t, rec.Body.String(), "Quiet day")
}

func TestItemPageRendersMarkdown(t *testing.T) {
	f := newFixture(t, sampleItems())
	rec := f.get(t, "/item/a")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<h1>Heading</h1>")

	rec = f.get(t, "/item/missing")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSourcesPageGroupsByDomain(t *testing.T) {
	f := newFixture(t, sampleItems())
	rec := f.get(t, "/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "BBC News")
	require.Contains(t, rec.Body.String(), "bbc.co.uk")
	require.Contains(t, rec.Body.String(), "reuters.com")

	rec = f.get(t, "/sources/bbc.co.uk")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Pipeline outage")

	rec = f.get(t, "/sources/nope.example")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFeedSnapshotAPI(t *testing.T) {
	f := newFixture(t, sampleItems())
	rec := f.get(t, "/api/feed")
	require.Equal(t, http.StatusOK, rec.Code)

	var snap struct {
		Items     []model.IntelItem `json:"items"`
		Status    string            `json:"status"`
		Searching bool              `json:"searching"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Items, 2)
	require.Equal(t, "a", snap.Items[0].ID, "newest first")
	require.False(t, snap.Searching)
}

func TestSearchNarrowsTheFeed(t *testing.T) {
	f := newFixture(t, sampleItems())

	rec := f.post(t, "/api/search", map[string]string{"term": "pipeline"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.get(t, "/api/feed")
	var snap struct {
		Items     []model.IntelItem `json:"items"`
		Searching bool              `json:"searching"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.True(t, snap.Searching)
	require.Len(t, snap.Items, 1)
	require.Equal(t, "a", snap.Items[0].ID)

	// Clearing the term restores the live feed.
	f.post(t, "/api/search", map[string]string{"term": ""})
	rec = f.get(t, "/api/feed")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.False(t, snap.Searching)
	require.Len(t, snap.Items, 2)
}

func TestFavoriteAPI(t *testing.T) {
	f := newFixture(t, sampleItems())

	rec := f.post(t, "/api/favorite", map[string]any{"id": "a", "favorited": false})
	require.Equal(t, http.StatusOK, rec.Code)

	var res struct {
		Favorited bool `json:"favorited"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.True(t, res.Favorited)

	items := f.ctrl.Items()
	require.Equal(t, "a", items[0].ID)
	require.True(t, items[0].Favorited)

	rec = f.post(t, "/api/favorite", map[string]any{"favorited": true})
	require.Equal(t, http.StatusBadRequest, rec.Code, "missing id")
}

func TestReconnectRequiresErrorState(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "/api/reconnect", map[string]string{})
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestExportProxiesBackend(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.post(t, "/api/export", client.ExportRequest{IDs: []string{"a"}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "exported-document", rec.Body.String())
}
