// Package browser abstracts the browser automation provider behind a small
// Driver/Page surface. The chromedp driver is the default; a playwright-go
// driver is available for comparison runs.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrNoElement is returned by element actions when the query matches
	// nothing at the requested index.
	ErrNoElement = errors.New("no element matches query")
	// ErrClosed is returned by pages whose session was closed.
	ErrClosed = errors.New("session closed")
)

// Query locates elements in the current document. Selector is a CSS
// selector. HasText, when set, is a regular expression matched
// case-insensitively against each element's text content. Nth picks the
// match in document order.
type Query struct {
	Selector string
	HasText  string
	Nth      int
}

func (q Query) String() string {
	s := q.Selector
	if q.HasText != "" {
		s += fmt.Sprintf(" /%s/i", q.HasText)
	}
	if q.Nth > 0 {
		s += fmt.Sprintf(" [%d]", q.Nth)
	}
	return s
}

// At returns a copy of q pointing at the n-th match.
func (q Query) At(n int) Query {
	q.Nth = n
	return q
}

// Match is the result of probing a query: how many elements match, and
// whether the selected one (Nth) is visible.
type Match struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

// Response is the main document response of a navigation.
type Response struct {
	URL    string
	Status int
}

// ElementInfo is a snapshot of one matched element.
type ElementInfo struct {
	Index   int               `json:"index"`
	Tag     string            `json:"tag"`
	Text    string            `json:"text"`
	Attrs   map[string]string `json:"attrs"`
	Visible bool              `json:"visible"`
}

// Cookie is a driver-neutral browser cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	Secure   bool    `json:"secure"`
	HTTPOnly bool    `json:"http_only"`
}

type EventKind int

const (
	// ConsoleEvent covers console API calls, uncaught exceptions and
	// browser log entries.
	ConsoleEvent EventKind = iota
	// ResponseEvent is any network response, including subresources.
	ResponseEvent
)

func (k EventKind) String() string {
	if k == ResponseEvent {
		return "response"
	}
	return "console"
}

// Event is a page-level console or network event.
type Event struct {
	Kind   EventKind
	Level  string
	Text   string
	URL    string
	Status int
	Time   time.Time
}

// Page is one isolated browser tab. Every call blocks until the browser
// answers or ctx is done.
type Page interface {
	Navigate(ctx context.Context, url string) (Response, error)
	Probe(ctx context.Context, q Query) (Match, error)
	Elements(ctx context.Context, q Query, limit int) ([]ElementInfo, error)
	Text(ctx context.Context, q Query) (string, error)
	Attr(ctx context.Context, q Query, name string) (string, bool, error)
	Click(ctx context.Context, q Query) error
	Fill(ctx context.Context, q Query, value string) error
	Press(ctx context.Context, q Query, key string) error
	Hover(ctx context.Context, q Query) error
	Evaluate(ctx context.Context, expr string, res any) error
	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	Back(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	// Subscribe registers fn for page events until the returned func is
	// called. fn runs on the driver's event goroutine and must not block.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Session is a Page owning an isolated browser context (cookies, storage).
type Session interface {
	Page
	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	Close() error
}

// Driver creates isolated sessions on one browser process.
type Driver interface {
	Name() string
	NewSession(ctx context.Context, device Device) (Session, error)
	Close() error
}

// Hub fans page events out to subscribers. The zero value is ready to use.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Event)
}

// Subscribe implements Page.Subscribe.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(Event))
	}
	id := h.next
	h.next++
	h.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.Lock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Element is a handle on the first element (in document order, or Nth)
// matched by a query on a page. It is only meaningful until the page
// navigates.
type Element struct {
	page  Page
	query Query
}

func NewElement(p Page, q Query) Element {
	return Element{page: p, query: q}
}

func (e Element) Query() Query { return e.query }

func (e Element) Valid() bool { return e.page != nil }

func (e Element) Visible(ctx context.Context) (bool, error) {
	m, err := e.page.Probe(ctx, e.query)
	if err != nil {
		return false, err
	}
	return m.Count > e.query.Nth && m.Visible, nil
}

func (e Element) Text(ctx context.Context) (string, error) {
	return e.page.Text(ctx, e.query)
}

func (e Element) Attr(ctx context.Context, name string) (string, bool, error) {
	return e.page.Attr(ctx, e.query, name)
}

func (e Element) Click(ctx context.Context) error {
	return e.page.Click(ctx, e.query)
}

func (e Element) Fill(ctx context.Context, value string) error {
	return e.page.Fill(ctx, e.query, value)
}

func (e Element) Press(ctx context.Context, key string) error {
	return e.page.Press(ctx, e.query, key)
}

func (e Element) Hover(ctx context.Context) error {
	return e.page.Hover(ctx, e.query)
}

func (e Element) String() string { return e.query.String() }

// Options selects and configures a driver.
type Options struct {
	Driver    string
	Headless  bool
	UserAgent string
	ExecPath  string
}

// New starts the driver named in opts.
func New(ctx context.Context, opts Options) (Driver, error) {
	switch opts.Driver {
	case "", "chromedp":
		return NewChrome(ctx, opts)
	case "playwright":
		return NewPlaywright(ctx, opts)
	default:
		return nil, fmt.Errorf("unknown browser driver %q", opts.Driver)
	}
}
