package feed

import (
	"context"
	"net/http"
	"sync"

	"github.com/mbaylor/intelboard/internal/favorites"
	"github.com/mbaylor/intelboard/internal/model"
	"github.com/mbaylor/intelboard/internal/stream"
)

// Toggler is the favorite-mutation slice of the backend client.
type Toggler interface {
	ToggleFavorite(ctx context.Context, id string, favorited bool) error
}

// Options configures a Controller.
type Options struct {
	// StreamURL is the backend's global stream endpoint.
	StreamURL string
	// Token is attached to the stream request when set.
	Token string
	// HTTPClient used for the stream transport. Optional.
	HTTPClient *http.Client
	// Favorites overlays persisted favorite flags onto arriving items.
	Favorites *favorites.Store
	// API issues the favorite-toggle mutation.
	API Toggler
}

// Controller composes the stream connection, the favorite store and the
// merge function into the reactive hot feed consumed by views. It owns
// the merged item set and the resumption cursor; consumers read
// snapshots and invoke the documented mutations only.
type Controller struct {
	opts Options

	mu        sync.RWMutex
	conn      *stream.Connection
	items     []model.IntelItem
	cursor    model.Cursor
	hasCursor bool
	status    stream.Status
	enabled   bool
	done      chan struct{}
	wg        sync.WaitGroup
	subs      []chan struct{}
}

// NewController creates a disabled controller. Call Enable to connect.
func NewController(opts Options) *Controller {
	return &Controller{
		opts:   opts,
		status: stream.StatusConnecting,
	}
}

// Enable opens the live subscription. The accumulated items and cursor
// from a previous enable are retained, so a re-enable resumes from the
// last high-water mark instead of replaying the whole window.
func (c *Controller) Enable() {
	c.mu.Lock()
	if c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = true
	c.status = stream.StatusConnecting
	c.done = make(chan struct{})
	c.conn = stream.New(stream.Config{
		URL:    c.opts.StreamURL,
		Token:  c.opts.Token,
		Client: c.opts.HTTPClient,
		Cursor: c.Cursor,
	})
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	conn.Start()
	c.wg.Add(1)
	go c.run(conn, done)
}

// Disable fully tears down the stream connection; no background
// subscription lingers. Items and cursor are kept for the next Enable.
func (c *Controller) Disable() {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.enabled = false
	conn := c.conn
	done := c.done
	c.mu.Unlock()

	conn.Stop()
	close(done)
	c.wg.Wait()
}

// Reconnect forces a fresh connection attempt, the required recovery
// action once the status reports error.
func (c *Controller) Reconnect() {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		conn.Reconnect()
	}
}

func (c *Controller) run(conn *stream.Connection, done chan struct{}) {
	defer c.wg.Done()
	for {
		select {
		case e := <-conn.Events():
			c.handle(e)
			// Status events are dropped rather than queued when the event
			// buffer is full, so reconcile against the connection's own
			// state after every drain.
			c.syncStatus(conn.Status())
		case <-done:
			return
		}
	}
}

func (c *Controller) syncStatus(s stream.Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.notify()
}

// handle folds one stream event into the running state. Events are
// processed strictly in arrival order; merge correctness depends on it.
func (c *Controller) handle(e stream.Event) {
	switch e.Type {
	case stream.EventBatch:
		if len(e.Items) == 0 {
			return
		}
		overlaid := c.opts.Favorites.ApplyTo(e.Items)
		c.mu.Lock()
		c.items = Merge(c.items, overlaid)
		if len(c.items) > 0 {
			top := c.items[0]
			c.cursor = model.Cursor{Timestamp: top.Timestamp, ID: top.ID}
			c.hasCursor = true
		}
		c.mu.Unlock()
		c.notify()
	case stream.EventItem:
		overlaid := c.opts.Favorites.ApplyTo([]model.IntelItem{e.Item})
		c.mu.Lock()
		c.cursor = model.Cursor{Timestamp: e.Item.Timestamp, ID: e.Item.ID}
		c.hasCursor = true
		c.items = Merge(c.items, overlaid)
		c.mu.Unlock()
		c.notify()
	case stream.EventStatus:
		c.mu.Lock()
		c.status = e.Status
		c.mu.Unlock()
		c.notify()
	}
}

// Items returns a snapshot of the merged set, newest first.
func (c *Controller) Items() []model.IntelItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]model.IntelItem, len(c.items))
	copy(out, c.items)
	return out
}

// Status mirrors the stream connection's state machine. Consumers must
// treat StatusError as requiring a user-initiated Reconnect.
func (c *Controller) Status() stream.Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// Cursor returns the current resumption high-water mark.
func (c *Controller) Cursor() (model.Cursor, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cursor, c.hasCursor
}

// ToggleFavorite optimistically flips the favorite flag in the merged
// set and the favorite store, then issues the backend mutation. The
// optimistic state is left in place on failure; the returned error tells
// the caller a rollback decision is theirs (SetFavoriteLocal reverts).
func (c *Controller) ToggleFavorite(ctx context.Context, id string, current bool) error {
	next := !current
	c.SetFavoriteLocal(id, next)
	if err := c.opts.API.ToggleFavorite(ctx, id, next); err != nil {
		return err
	}
	return nil
}

// SetFavoriteLocal updates the favorite flag in the merged set and the
// store without touching the backend. Used for reconciliation and for
// caller-driven rollback of a failed toggle.
func (c *Controller) SetFavoriteLocal(id string, favorited bool) {
	c.opts.Favorites.SetLocal(id, favorited)
	c.mu.Lock()
	for i := range c.items {
		if c.items[i].ID == id {
			c.items[i].Favorited = favorited
			break
		}
	}
	c.mu.Unlock()
	c.notify()
}

// Subscribe returns a coalescing change signal: a receive means the
// snapshot may have changed since the last read.
func (c *Controller) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	c.mu.Lock()
	c.subs = append(c.subs, ch)
	c.mu.Unlock()
	return ch
}

func (c *Controller) notify() {
	c.mu.RLock()
	subs := c.subs
	c.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
