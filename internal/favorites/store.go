// Package favorites tracks which intel ids the user has favorited,
// independent of whether those items are currently loaded.
package favorites

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/mbaylor/intelboard/internal/model"
)

// Full-scan load limits.
const (
	LoadPageSize   = 200
	LoadMaxRecords = 5000
)

// KV is the injected persistence capability. Any implementation that
// survives process restart satisfies the contract.
type KV interface {
	Get(key string) (string, error)
	Set(key, value string) error
}

// Lister is the slice of the backend client the full reconciliation
// load needs.
type Lister interface {
	GetFavorites(ctx context.Context, q string, limit, offset int) (*model.ListResponse, error)
}

// Store is the process-wide favorite id set, persisted per user identity.
type Store struct {
	kv   KV
	user string

	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewStore creates a store scoped to the given user identity and primes
// it from persisted state. An empty user falls back to "anon". Switching
// identity means constructing a new store; keys never leak across users.
func NewStore(kv KV, user string) *Store {
	if user == "" {
		user = "anon"
	}
	s := &Store{kv: kv, user: user, ids: make(map[string]struct{})}
	s.restore()
	return s
}

func (s *Store) key() string {
	return "favorites:intel_ids:" + s.user
}

func (s *Store) restore() {
	raw, err := s.kv.Get(s.key())
	if err != nil {
		log.Printf("favorites: restore %s: %v", s.key(), err)
		return
	}
	if raw == "" {
		return
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		log.Printf("favorites: corrupt persisted set for %s: %v", s.user, err)
		return
	}
	for _, id := range ids {
		if id != "" {
			s.ids[id] = struct{}{}
		}
	}
}

func (s *Store) persistLocked() {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		log.Printf("favorites: marshal set: %v", err)
		return
	}
	if err := s.kv.Set(s.key(), string(raw)); err != nil {
		log.Printf("favorites: persist %s: %v", s.key(), err)
	}
}

// Load replaces the set with a full paginated scan of the backend's
// favorites listing (the authoritative source at startup) and persists
// the result.
func (s *Store) Load(ctx context.Context, lister Lister) error {
	ids := make(map[string]struct{})
	offset := 0
	total := -1
	for offset < LoadMaxRecords && (total < 0 || offset < total) {
		res, err := lister.GetFavorites(ctx, "", LoadPageSize, offset)
		if err != nil {
			return fmt.Errorf("load favorites page at %d: %w", offset, err)
		}
		for _, item := range res.Items {
			if item.ID != "" {
				ids[item.ID] = struct{}{}
			}
		}
		total = res.Total
		if len(res.Items) < LoadPageSize {
			break
		}
		offset += LoadPageSize
	}

	s.mu.Lock()
	s.ids = ids
	s.persistLocked()
	s.mu.Unlock()
	return nil
}

// IsFavorited reports whether id is in the set.
func (s *Store) IsFavorited(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// SetLocal updates the in-memory set and persists immediately. Called by
// the optimistic toggle path and by reconciliation.
func (s *Store) SetLocal(id string, favorited bool) {
	s.mu.Lock()
	if favorited {
		s.ids[id] = struct{}{}
	} else {
		delete(s.ids, id)
	}
	s.persistLocked()
	s.mu.Unlock()
}

// ApplyTo overlays favorited=true onto any item whose id is in the set.
// It never clears the flag on items outside the set; clearing only
// happens through an explicit toggle.
func (s *Store) ApplyTo(items []model.IntelItem) []model.IntelItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(items) == 0 || len(s.ids) == 0 {
		return items
	}
	out := make([]model.IntelItem, len(items))
	copy(out, items)
	for i := range out {
		if _, ok := s.ids[out[i].ID]; ok {
			out[i].Favorited = true
		}
	}
	return out
}

// Len returns the number of favorited ids.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
