// Package model defines shared data structures.
package model

// Tag is a display label attached to an intel item.
type Tag struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

// IntelItem is a single aggregated intelligence record.
//
// ID is the dedup key: two arrivals with the same ID describe the same
// record. Every field except Favorited is treated as immutable once the
// item has been observed.
type IntelItem struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Summary   string  `json:"summary"`
	Content   string  `json:"content,omitempty"`
	Source    string  `json:"source"`
	URL       string  `json:"url,omitempty"`
	Time      string  `json:"time"` // display string, e.g. "2026-01-07"
	Timestamp float64 `json:"timestamp"`
	Tags      []Tag   `json:"tags"`
	Favorited bool    `json:"favorited"`
}

// ListResponse is the paginated shape returned by the backend's
// /intel/ and /intel/favorites queries.
type ListResponse struct {
	Items []IntelItem `json:"items"`
	Total int         `json:"total"`
}

// Cursor is the {timestamp, id} high-water mark of the newest merged item,
// sent back on stream reconnect so the server can skip already-delivered
// records.
type Cursor struct {
	Timestamp float64
	ID        string
}

// SearchType selects which corpus a backend query runs against.
type SearchType string

const (
	SearchHot     SearchType = "hot"
	SearchHistory SearchType = "history"
	SearchAll     SearchType = "all"
)

// TimeRange restricts a backend query to a recency window.
type TimeRange string

const (
	RangeAll TimeRange = "all"
	Range3h  TimeRange = "3h"
	Range6h  TimeRange = "6h"
	Range12h TimeRange = "12h"
)
