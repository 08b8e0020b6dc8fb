package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mbaylor/intelboard/internal/model"
)

// Status is the connection lifecycle state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	// StatusError is reached after exhausting automatic retries and only
	// cleared by an explicit Reconnect.
	StatusError Status = "error"
	// StatusClosed is the intentional terminal state set by Stop.
	StatusClosed Status = "closed"
)

// MaxRetries is the number of automatic reconnect attempts scheduled
// before the connection gives up and reports StatusError.
const MaxRetries = 5

// Backoff returns the reconnect delay for the n-th consecutive failure
// (n starting at 1): 1s, 2s, 4s, ... capped at 30s.
func Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := time.Second << uint(n-1)
	if d > 30*time.Second || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// EventType discriminates Connection events.
type EventType int

const (
	// EventOpened fires once per successful (re)connection.
	EventOpened EventType = iota
	// EventBatch carries the catch-up history delivered on (re)connect.
	EventBatch
	// EventItem carries a single live item.
	EventItem
	// EventStatus reports a lifecycle state change.
	EventStatus
)

// Event is one typed occurrence on the live subscription, drained in
// arrival order by the feed controller.
type Event struct {
	Type   EventType
	Items  []model.IntelItem
	Item   model.IntelItem
	Status Status
}

// CursorFunc supplies the resumption cursor for the next connection
// attempt. ok=false means connect from scratch.
type CursorFunc func() (model.Cursor, bool)

// Config configures a Connection.
type Config struct {
	// URL of the global stream endpoint.
	URL string
	// Token, when set, is attached as a bearer Authorization header.
	Token string
	// Cursor supplies the resumption high-water mark. Optional.
	Cursor CursorFunc
	// Client is the HTTP client to use. Defaults to a client with no
	// overall timeout (the stream is long-lived).
	Client *http.Client
}

// Connection maintains one logical live-event subscription with
// exponential-backoff reconnection. At most one transport and one pending
// backoff timer exist at a time.
type Connection struct {
	cfg     Config
	events  chan Event
	done    chan struct{}
	backoff func(int) time.Duration

	mu       sync.Mutex
	status   Status
	retries  int
	closing  bool
	gen      int
	timer    *time.Timer
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a connection. Start must be called to open it.
func New(cfg Config) *Connection {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	return &Connection{
		cfg:     cfg,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		backoff: Backoff,
		status:  StatusConnecting,
	}
}

// Events returns the ordered event channel. It is never closed; consumers
// stop on an EventStatus carrying StatusClosed.
func (c *Connection) Events() <-chan Event { return c.events }

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Start opens the stream. Calling Start while a connection is live closes
// the previous transport first, so no subscription is leaked.
func (c *Connection) Start() {
	c.mu.Lock()
	c.closing = false
	c.retries = 0
	c.mu.Unlock()
	go c.connect()
}

// Stop marks the shutdown intentional, cancels any pending backoff timer
// and closes the transport.
func (c *Connection) Stop() {
	c.mu.Lock()
	c.closing = true
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.setStatusLocked(StatusClosed)
	c.mu.Unlock()
	c.stopOnce.Do(func() { close(c.done) })
}

// Reconnect resets the retry counter and forces an immediate new attempt,
// reusing the last known cursor. It is the required recovery path out of
// StatusError.
func (c *Connection) Reconnect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.retries = 0
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	go c.connect()
}

func (c *Connection) connect() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	// Tear down any prior transport or pending timer before opening.
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if c.retries > 0 {
		c.setStatusLocked(StatusReconnecting)
	} else {
		c.setStatusLocked(StatusConnecting)
	}
	c.mu.Unlock()

	req, err := c.newRequest(ctx)
	if err != nil {
		log.Printf("stream: build request: %v", err)
		c.onDisconnect(gen)
		return
	}

	resp, err := c.cfg.Client.Do(req)
	if err != nil {
		c.onDisconnect(gen)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("stream: connect failed: status %d", resp.StatusCode)
		c.onDisconnect(gen)
		return
	}

	c.mu.Lock()
	if c.closing || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.retries = 0
	c.setStatusLocked(StatusConnected)
	c.mu.Unlock()
	c.emit(Event{Type: EventOpened})

	dec := NewDecoder(resp.Body)
	for {
		evt, err := dec.Next()
		if err != nil {
			c.onDisconnect(gen)
			return
		}
		c.dispatch(evt)
	}
}

func (c *Connection) newRequest(ctx context.Context) (*http.Request, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	if c.cfg.Cursor != nil {
		if cur, ok := c.cfg.Cursor(); ok {
			q := u.Query()
			q.Set("after_ts", strconv.FormatFloat(cur.Timestamp, 'f', -1, 64))
			q.Set("after_id", cur.ID)
			u.RawQuery = q.Encode()
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	return req, nil
}

// dispatch decodes one wire event. A malformed payload drops that single
// event; the connection stays up.
func (c *Connection) dispatch(evt WireEvent) {
	switch evt.Name {
	case "initial_batch":
		var items []model.IntelItem
		if err := json.Unmarshal([]byte(evt.Data), &items); err != nil {
			log.Printf("stream: bad initial_batch payload: %v", err)
			return
		}
		c.emit(Event{Type: EventBatch, Items: items})
	case "new_intel":
		var item model.IntelItem
		if err := json.Unmarshal([]byte(evt.Data), &item); err != nil {
			log.Printf("stream: bad new_intel payload: %v", err)
			return
		}
		c.emit(Event{Type: EventItem, Item: item})
	default:
		// Unknown named events are ignored.
	}
}

func (c *Connection) onDisconnect(gen int) {
	c.mu.Lock()
	if c.closing || gen != c.gen {
		// Intentional shutdown, or a newer attempt already took over.
		c.mu.Unlock()
		return
	}
	if c.retries >= MaxRetries {
		c.setStatusLocked(StatusError)
		c.mu.Unlock()
		return
	}
	c.retries++
	retry := c.retries
	delay := c.backoff(retry)
	c.setStatusLocked(StatusReconnecting)
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(delay, c.connect)
	c.mu.Unlock()
	log.Printf("stream: disconnected, retry %d/%d in %s", retry, MaxRetries, delay)
}

// setStatusLocked changes the state and queues a status event. Callers
// hold c.mu.
func (c *Connection) setStatusLocked(s Status) {
	if c.status == s {
		return
	}
	c.status = s
	// Status events must not block under the lock; the buffer is large
	// relative to the handful of transitions a lifecycle produces.
	select {
	case c.events <- Event{Type: EventStatus, Status: s}:
	default:
	}
}

func (c *Connection) emit(e Event) {
	select {
	case c.events <- e:
	case <-c.done:
	}
}
