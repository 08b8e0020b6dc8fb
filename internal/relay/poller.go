package relay

import (
	"context"
	"log"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"

	"github.com/mbaylor/intelboard/internal/model"
	"github.com/mbaylor/intelboard/internal/opml"
)

// delayBetweenFetches is the politeness pause between source requests.
const delayBetweenFetches = 500 * time.Millisecond

// fetchTimeout bounds one full polling round.
const fetchTimeout = 5 * time.Minute

// summaryLimit truncates oversized RSS descriptions.
const summaryLimit = 500

// Poller periodically ingests the configured RSS sources into the relay.
type Poller struct {
	relay    *Relay
	sources  []opml.Source
	parser   *gofeed.Parser
	interval time.Duration
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPoller creates a poller over the given OPML source list.
func NewPoller(relay *Relay, sources []opml.Source, interval time.Duration) *Poller {
	return &Poller{
		relay:    relay,
		sources:  sources,
		parser:   gofeed.NewParser(),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop.
func (p *Poller) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for {
			ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
			n := p.fetchAll(ctx)
			cancel()
			log.Printf("relay: poll round done, %d new items from %d sources", n, len(p.sources))

			select {
			case <-p.stopChan:
				return
			case <-time.After(p.interval):
			}
		}
	}()
}

// Stop stops the poller gracefully.
func (p *Poller) Stop() {
	close(p.stopChan)
	p.wg.Wait()
}

// fetchAll polls every source sequentially with a politeness delay,
// publishing any entries the relay has not seen yet.
func (p *Poller) fetchAll(ctx context.Context) int {
	published := 0
	for i, src := range p.sources {
		select {
		case <-ctx.Done():
			log.Printf("relay: poll cancelled after %d/%d sources", i, len(p.sources))
			return published
		default:
		}
		if i > 0 {
			select {
			case <-time.After(delayBetweenFetches):
			case <-ctx.Done():
				return published
			}
		}

		feed, err := p.parser.ParseURLWithContext(src.URL, ctx)
		if err != nil {
			log.Printf("relay: fetch %s: %v", src.URL, err)
			continue
		}
		for _, entry := range feed.Items {
			item, ok := convertEntry(src, entry)
			if !ok {
				continue
			}
			before := p.relay.Seen(item.ID)
			p.relay.Publish(item)
			if !before {
				published++
			}
		}
	}
	return published
}

// convertEntry maps one RSS entry onto the intel item shape. The id is
// derived deterministically from the entry's GUID (or link) so a
// re-polled entry keeps its identity across rounds.
func convertEntry(src opml.Source, entry *gofeed.Item) (model.IntelItem, bool) {
	guid := entry.GUID
	if guid == "" {
		guid = entry.Link
	}
	if guid == "" {
		return model.IntelItem{}, false
	}

	published := time.Now()
	if entry.PublishedParsed != nil {
		published = *entry.PublishedParsed
	}

	summary := entry.Description
	if len(summary) > summaryLimit {
		// Cut on a rune boundary; a byte-boundary cut can split a
		// multi-byte character and emit invalid UTF-8.
		cut := summaryLimit
		for cut > 0 && !utf8.RuneStart(summary[cut]) {
			cut--
		}
		summary = summary[:cut]
	}

	var tags []model.Tag
	if src.Category != "" {
		tags = append(tags, model.Tag{Label: src.Category, Color: "blue"})
	}

	return model.IntelItem{
		ID:        uuid.NewSHA1(uuid.NameSpaceURL, []byte(guid)).String(),
		Title:     entry.Title,
		Summary:   summary,
		Content:   entry.Content,
		Source:    src.Title,
		URL:       entry.Link,
		Time:      published.Format("2006-01-02"),
		Timestamp: float64(published.Unix()),
		Tags:      tags,
	}, true
}
