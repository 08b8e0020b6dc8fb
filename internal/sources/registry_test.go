package sources

import (
	"fmt"
	"testing"

	"github.com/mbaylor/intelboard/internal/model"
)

func TestRegistrableDomain(t *testing.T) {
	cases := []struct {
		host string
		want string
	}{
		{"www.news.bbc.co.uk", "bbc.co.uk"},
		{"example.com", "example.com"},
		{"sub.example.com", "example.com"},
		{"www.example.com", "example.com"},
		{"edition.cnn.com", "cnn.com"},
		{"news.ntv.co.jp", "ntv.co.jp"},
		{"a.b.gov.cn", "b.gov.cn"},
		{"localhost", "localhost"},
		{"Example.COM.", "example.com"},
	}
	for _, tc := range cases {
		if got := RegistrableDomain(tc.host); got != tc.want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", tc.host, got, tc.want)
		}
	}
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		label string
		want  string
	}{
		{"Example Wire", "example-wire"},
		{"  Reuters  ", "reuters"},
		{"AP/News (wire)", "apnews-wire"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := Slugify(tc.label); got != tc.want {
			t.Errorf("Slugify(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

func TestRegistry_GroupsByDomainAndSlug(t *testing.T) {
	r := NewRegistry()
	r.Add([]model.IntelItem{
		{ID: "1", URL: "https://www.news.bbc.co.uk/a/story", Source: "BBC News", Timestamp: 10},
		{ID: "2", URL: "https://example.com/x", Timestamp: 20},
		{ID: "3", Source: "Example Wire", Timestamp: 30},
		{ID: "4", Timestamp: 40},
	})

	groups := r.Groups(ByCount)
	byDomain := map[string]Group{}
	for _, g := range groups {
		byDomain[g.Domain] = g
	}

	if _, ok := byDomain["bbc.co.uk"]; !ok {
		t.Error("bbc story should group under bbc.co.uk")
	}
	if byDomain["bbc.co.uk"].Name != "BBC" {
		t.Errorf("display name = %q, want override BBC", byDomain["bbc.co.uk"].Name)
	}
	if byDomain["bbc.co.uk"].Host != "news.bbc.co.uk" {
		t.Errorf("host = %q", byDomain["bbc.co.uk"].Host)
	}
	if _, ok := byDomain["example.com"]; !ok {
		t.Error("plain URL should group under example.com")
	}
	if _, ok := byDomain["example-wire"]; !ok {
		t.Error("URL-less item should group under its source slug")
	}
	if _, ok := byDomain[UnknownKey]; !ok {
		t.Error("item with neither URL nor source goes to the unknown group")
	}
}

func TestRegistry_ClassifiesEachIDOnce(t *testing.T) {
	r := NewRegistry()
	item := model.IntelItem{ID: "dup", URL: "https://example.com/x", Timestamp: 1}
	r.Add([]model.IntelItem{item})
	r.Add([]model.IntelItem{item}) // second sighting from another feed
	r.Add([]model.IntelItem{item})

	groups := r.Groups(ByCount)
	if len(groups) != 1 || len(groups[0].Items) != 1 {
		t.Fatalf("item classified more than once: %+v", groups)
	}
}

func TestRegistry_GroupItemsSortedNewestFirst(t *testing.T) {
	r := NewRegistry()
	r.Add([]model.IntelItem{
		{ID: "a", URL: "https://example.com/1", Timestamp: 5},
		{ID: "b", URL: "https://example.com/2", Timestamp: 50},
		{ID: "c", URL: "https://example.com/3", Timestamp: 25},
	})
	g := r.Groups(ByCount)[0]
	for i := 1; i < len(g.Items); i++ {
		if g.Items[i-1].Timestamp < g.Items[i].Timestamp {
			t.Fatalf("group items not sorted: %v before %v",
				g.Items[i-1].Timestamp, g.Items[i].Timestamp)
		}
	}
}

func TestRegistry_RankByCountThenRecency(t *testing.T) {
	r := NewRegistry()
	r.Add([]model.IntelItem{
		{ID: "a1", URL: "https://alpha.com/1", Timestamp: 1},
		{ID: "a2", URL: "https://alpha.com/2", Timestamp: 2},
		{ID: "b1", URL: "https://beta.com/1", Timestamp: 100},
	})

	byCount := r.Groups(ByCount)
	if byCount[0].Domain != "alpha.com" {
		t.Errorf("ByCount rank = %q first, want alpha.com", byCount[0].Domain)
	}
	byRecency := r.Groups(ByRecency)
	if byRecency[0].Domain != "beta.com" {
		t.Errorf("ByRecency rank = %q first, want beta.com", byRecency[0].Domain)
	}
}

func TestRegistry_Pagination(t *testing.T) {
	r := NewRegistry()
	var items []model.IntelItem
	for i := 0; i < 23; i++ {
		items = append(items, model.IntelItem{
			ID:        fmt.Sprintf("i%d", i),
			URL:       "https://example.com/" + fmt.Sprint(i),
			Timestamp: float64(i),
		})
	}
	r.Add(items)

	page1, total := r.Page("example.com", 1)
	if total != 3 {
		t.Errorf("total pages = %d, want 3", total)
	}
	if len(page1) != PageSize {
		t.Errorf("page 1 size = %d, want %d", len(page1), PageSize)
	}
	if page1[0].ID != "i22" {
		t.Errorf("page 1 starts at %q, want newest i22", page1[0].ID)
	}
	page3, _ := r.Page("example.com", 3)
	if len(page3) != 3 {
		t.Errorf("page 3 size = %d, want 3", len(page3))
	}
	// Out-of-range pages clamp.
	clamped, _ := r.Page("example.com", 99)
	if len(clamped) != 3 {
		t.Errorf("clamped page size = %d, want 3", len(clamped))
	}
	if missing, total := r.Page("nope.com", 1); missing != nil || total != 0 {
		t.Error("unknown domain should return nothing")
	}
}
