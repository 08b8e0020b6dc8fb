// Package sources aggregates every item ever seen into groups keyed by
// normalized source domain, for the sources dashboard.
package sources

import (
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/mbaylor/intelboard/internal/model"
)

// PageSize is the drill-down pagination size within a group.
const PageSize = 10

// UnknownKey is the sentinel group for items with neither a parseable
// URL nor a usable source label.
const UnknownKey = "unknown"

// twoPartSuffixes are known multi-label public suffixes: a host ending
// in one of these keeps three labels instead of two.
var twoPartSuffixes = map[string]bool{
	"co.jp": true, "or.jp": true, "ne.jp": true, "ac.jp": true, "go.jp": true,
	"co.uk": true,
	"com.cn": true, "net.cn": true, "org.cn": true, "gov.cn": true,
	"com.hk": true,
	"com.tw": true,
	"com.au": true,
}

// displayNames maps a registrable domain to a human-readable publisher
// name. Misses fall back to the item's source label, then to the domain.
var displayNames = map[string]string{
	"ntv.co.jp":           "日テレNEWS / NTV",
	"reuters.com":         "Reuters",
	"bbc.co.uk":           "BBC",
	"apnews.com":          "AP News",
	"news.un.org":         "联合国新闻",
	"thehackernews.com":   "The Hacker News",
	"krebsonsecurity.com": "KrebsOnSecurity",
}

// Group is one aggregated source: all items whose URLs share a
// registrable domain (or a slug fallback), newest first.
type Group struct {
	Domain    string
	Host      string
	OriginURL string
	Name      string
	Items     []model.IntelItem
}

// SortOrder ranks groups in Groups output.
type SortOrder int

const (
	// ByCount ranks by item count, most-recent timestamp as tiebreak.
	ByCount SortOrder = iota
	// ByRecency ranks by most-recent timestamp alone.
	ByRecency
)

// Registry classifies items into source groups. Classification happens
// exactly once per item id regardless of which feed surfaced it.
type Registry struct {
	mu     sync.RWMutex
	seen   map[string]bool
	groups map[string]*Group
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		seen:   make(map[string]bool),
		groups: make(map[string]*Group),
	}
}

// Add classifies any not-yet-seen items. Items within a group stay
// sorted by timestamp descending.
func (r *Registry) Add(items []model.IntelItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		if item.ID == "" || r.seen[item.ID] {
			continue
		}
		r.seen[item.ID] = true
		r.classifyLocked(item)
	}
}

func (r *Registry) classifyLocked(item model.IntelItem) {
	var key, host, origin string
	if u, err := url.Parse(item.URL); err == nil && item.URL != "" && u.Hostname() != "" {
		host = strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		key = RegistrableDomain(host)
		origin = u.Scheme + "://" + u.Host
	} else {
		key = Slugify(item.Source)
		if key == "" {
			key = UnknownKey
		}
	}

	g, ok := r.groups[key]
	if !ok {
		g = &Group{
			Domain:    key,
			Host:      host,
			OriginURL: origin,
			Name:      resolveName(host, key, item.Source),
		}
		r.groups[key] = g
	}
	if g.Host == "" {
		g.Host = host
	}
	if g.OriginURL == "" {
		g.OriginURL = origin
	}

	// Insert keeping timestamp-descending order.
	idx := sort.Search(len(g.Items), func(i int) bool {
		return g.Items[i].Timestamp < item.Timestamp
	})
	g.Items = append(g.Items, model.IntelItem{})
	copy(g.Items[idx+1:], g.Items[idx:])
	g.Items[idx] = item
}

// resolveName prefers an exact host override (some publishers live on a
// subdomain of a shared parent, e.g. news.un.org), then the registrable
// domain, then the item's own source label.
func resolveName(host, domain, sourceLabel string) string {
	if name, ok := displayNames[host]; ok {
		return name
	}
	if name, ok := displayNames[domain]; ok {
		return name
	}
	if sourceLabel != "" {
		return sourceLabel
	}
	return domain
}

// Groups returns the ranked group list. Each returned group carries a
// copied item slice, so callers may not mutate registry state.
func (r *Registry) Groups(order SortOrder) []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		cp := *g
		cp.Items = make([]model.IntelItem, len(g.Items))
		copy(cp.Items, g.Items)
		out = append(out, cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		switch order {
		case ByRecency:
			return newest(out[i]) > newest(out[j])
		default:
			if len(out[i].Items) != len(out[j].Items) {
				return len(out[i].Items) > len(out[j].Items)
			}
			return newest(out[i]) > newest(out[j])
		}
	})
	return out
}

// Page returns one drill-down page of a group's items plus the total
// page count. Pages are 1-based.
func (r *Registry) Page(domain string, page int) ([]model.IntelItem, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[domain]
	if !ok {
		return nil, 0
	}
	totalPages := (len(g.Items) + PageSize - 1) / PageSize
	if totalPages == 0 {
		totalPages = 1
	}
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	start := (page - 1) * PageSize
	end := start + PageSize
	if end > len(g.Items) {
		end = len(g.Items)
	}
	out := make([]model.IntelItem, end-start)
	copy(out, g.Items[start:end])
	return out, totalPages
}

func newest(g Group) float64 {
	if len(g.Items) == 0 {
		return 0
	}
	return g.Items[0].Timestamp
}

// RegistrableDomain reduces a hostname to its aggregation key: the last
// two DNS labels, or three when the last two form a known multi-part
// public suffix (bbc.co.uk, not co.uk).
func RegistrableDomain(hostname string) string {
	host := strings.ToLower(hostname)
	host = strings.TrimSuffix(host, ".")
	host = strings.TrimPrefix(host, "www.")

	parts := make([]string, 0, 4)
	for _, p := range strings.Split(host, ".") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) <= 2 {
		return strings.Join(parts, ".")
	}
	last2 := strings.Join(parts[len(parts)-2:], ".")
	if twoPartSuffixes[last2] {
		return strings.Join(parts[len(parts)-3:], ".")
	}
	return last2
}

// Slugify derives a stable fallback key from a source label: lowercase,
// spaces to hyphens, everything else non-alphanumeric stripped.
func Slugify(label string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
