// Package feed maintains the live merged intel view.
package feed

import (
	"sort"

	"github.com/mbaylor/intelboard/internal/model"
)

// Merge reconciles an incoming item batch against the existing merged set
// and returns the union sorted by timestamp descending.
//
// Incoming items are authoritative for every field except Favorited: a
// retransmission may carry fresher content but must never silently revert
// favorite state the client already knows about. Merging the same batch
// twice is a no-op, which is what makes interleaving a paginated result
// with live events safe without locking.
func Merge(existing, incoming []model.IntelItem) []model.IntelItem {
	// First-seen slice order is preserved for equal timestamps, so the
	// stable sort below keeps ties exactly where the caller last saw them.
	index := make(map[string]int, len(existing)+len(incoming))
	merged := make([]model.IntelItem, 0, len(existing)+len(incoming))

	for _, item := range incoming {
		if i, ok := index[item.ID]; ok {
			merged[i] = item
			continue
		}
		index[item.ID] = len(merged)
		merged = append(merged, item)
	}
	for _, item := range existing {
		i, ok := index[item.ID]
		if !ok {
			index[item.ID] = len(merged)
			merged = append(merged, item)
			continue
		}
		// Overlay only the locally-known favorite flag onto the fresh copy.
		merged[i].Favorited = item.Favorited
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})
	return merged
}
