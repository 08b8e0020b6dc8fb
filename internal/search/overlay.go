// Package search implements the hot-feed search overlay: a hybrid view
// combining one historical backend query with continuously arriving live
// matches, without disrupting the underlying live subscription.
package search

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/mbaylor/intelboard/internal/favorites"
	"github.com/mbaylor/intelboard/internal/feed"
	"github.com/mbaylor/intelboard/internal/model"
)

// HistoryFetchLimit caps the one-shot historical query issued when a
// term becomes active.
const HistoryFetchLimit = 50

// Backend is the slice of the API client the overlay needs.
type Backend interface {
	GetIntel(ctx context.Context, typ model.SearchType, q string, rng model.TimeRange, limit, offset int) (*model.ListResponse, error)
	ToggleFavorite(ctx context.Context, id string, favorited bool) error
}

// Overlay narrows the live feed to entries matching a search term.
type Overlay struct {
	api  Backend
	favs *favorites.Store

	mu     sync.Mutex
	term   string
	gen    int
	cancel context.CancelFunc
	items  []model.IntelItem
}

// NewOverlay creates an inactive overlay.
func NewOverlay(api Backend, favs *favorites.Store) *Overlay {
	return &Overlay{api: api, favs: favs}
}

// SetTerm activates the overlay for term (or deactivates it for "").
// Changing the term discards the accumulated result set and cancels any
// in-flight historical fetch, so a stale response can never clobber a
// newer search. The historical query runs asynchronously; live matches
// keep folding in via Observe meanwhile.
func (o *Overlay) SetTerm(ctx context.Context, term string) {
	term = strings.TrimSpace(term)

	o.mu.Lock()
	o.gen++
	gen := o.gen
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.term = term
	o.items = nil
	if term == "" {
		o.mu.Unlock()
		return
	}
	fetchCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.mu.Unlock()

	go o.fetchHistory(fetchCtx, gen, term)
}

// fetchHistory runs the one-shot paginated backend query covering
// historical matches outside the current live window.
func (o *Overlay) fetchHistory(ctx context.Context, gen int, term string) {
	res, err := o.api.GetIntel(ctx, model.SearchHot, term, model.RangeAll, HistoryFetchLimit, 0)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("search: historical fetch for %q: %v", term, err)
		}
		return
	}
	overlaid := o.favs.ApplyTo(res.Items)

	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		// A newer term took over while the fetch was outstanding.
		return
	}
	o.items = feed.Merge(o.items, overlaid)
}

// Observe folds newly arriving live items into the result set, keeping
// only those matching the active term. Safe to call whether or not the
// overlay is active.
func (o *Overlay) Observe(items []model.IntelItem) {
	o.mu.Lock()
	term := o.term
	o.mu.Unlock()
	if term == "" {
		return
	}

	var matches []model.IntelItem
	for _, item := range items {
		if Matches(item, term) {
			matches = append(matches, item)
		}
	}
	if len(matches) == 0 {
		return
	}
	overlaid := o.favs.ApplyTo(matches)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.term != term {
		return
	}
	o.items = feed.Merge(o.items, overlaid)
}

// Active reports whether a term is set.
func (o *Overlay) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.term != ""
}

// Term returns the active term, "" when inactive.
func (o *Overlay) Term() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.term
}

// Items returns a snapshot of the overlay result set, newest first.
func (o *Overlay) Items() []model.IntelItem {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]model.IntelItem, len(o.items))
	copy(out, o.items)
	return out
}

// ToggleFavorite flips the flag on the overlay's local copy and the
// favorite store so leaving the overlay shows consistent state, then
// issues the backend mutation. Failure handling mirrors the live feed:
// the optimistic state stays, the error is the caller's to act on.
func (o *Overlay) ToggleFavorite(ctx context.Context, id string, current bool) error {
	next := !current
	o.favs.SetLocal(id, next)
	o.mu.Lock()
	for i := range o.items {
		if o.items[i].ID == id {
			o.items[i].Favorited = next
			break
		}
	}
	o.mu.Unlock()
	return o.api.ToggleFavorite(ctx, id, next)
}

// Matches reports whether item matches term with a case-insensitive
// substring check over title, summary, content, source, display time and
// tag labels.
func Matches(item model.IntelItem, term string) bool {
	needle := strings.ToLower(term)
	if needle == "" {
		return false
	}
	for _, hay := range []string{
		item.Title, item.Summary, item.Content, item.Source, item.Time,
	} {
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
