// Package capture collects console errors and failed network responses
// from a page for the lifetime of a scoped handle.
package capture

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ibeckermayer/docprobe/internal/browser"
)

type Source string

const (
	Console Source = "console"
	Network Source = "network"
)

type Class string

const (
	Critical  Class = "critical"
	Ignorable Class = "ignorable"
)

// Entry is one observed error.
type Entry struct {
	Source  Source    `json:"source"`
	Message string    `json:"message"`
	URL     string    `json:"url,omitempty"`
	Status  int       `json:"status,omitempty"`
	Time    time.Time `json:"time"`
	Class   Class     `json:"class"`
}

func (e Entry) String() string {
	if e.Source == Network {
		return fmt.Sprintf("%d %s", e.Status, e.URL)
	}
	return e.Message
}

type Entries []Entry

// Critical returns the entries not classified as ignorable.
func (es Entries) Critical() Entries {
	var out Entries
	for _, e := range es {
		if e.Class != Ignorable {
			out = append(out, e)
		}
	}
	return out
}

// BySource filters by source.
func (es Entries) BySource(src Source) Entries {
	var out Entries
	for _, e := range es {
		if e.Source == src {
			out = append(out, e)
		}
	}
	return out
}

// Messages renders entries for failure reasons.
func (es Entries) Messages() []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.String()
	}
	return out
}

// Classifier reports whether an entry can be ignored.
type Classifier func(Entry) bool

// IgnoreMessages ignores entries whose message contains any of subs,
// case-insensitively.
func IgnoreMessages(subs ...string) Classifier {
	return ignoreContaining(subs, func(e Entry) string { return e.Message })
}

// IgnoreURLs ignores entries whose URL contains any of subs.
func IgnoreURLs(subs ...string) Classifier {
	return ignoreContaining(subs, func(e Entry) string { return e.URL })
}

func ignoreContaining(subs []string, field func(Entry) string) Classifier {
	lowered := make([]string, 0, len(subs))
	for _, s := range subs {
		if s != "" {
			lowered = append(lowered, strings.ToLower(s))
		}
	}
	return func(e Entry) bool {
		v := strings.ToLower(field(e))
		if v == "" {
			return false
		}
		for _, s := range lowered {
			if strings.Contains(v, s) {
				return true
			}
		}
		return false
	}
}

// Any ignores an entry if any of cs does. Nil classifiers are skipped.
func Any(cs ...Classifier) Classifier {
	return func(e Entry) bool {
		for _, c := range cs {
			if c != nil && c(e) {
				return true
			}
		}
		return false
	}
}

// DefaultClassifier ignores noise a documentation site emits that says
// nothing about its health.
var DefaultClassifier = Any(
	IgnoreMessages(
		"ResizeObserver loop",
		"Non-Error promise rejection",
		"favicon",
	),
	IgnoreURLs(
		"google-analytics.com",
		"googletagmanager.com",
		"analytics",
		"telemetry",
		"doubleclick.net",
		"/favicon",
	),
)

// Capture records errors from one page. Create it with Start and end it
// with Stop.
type Capture struct {
	mu      sync.Mutex
	entries Entries
	unsub   func()
	stopped bool
	result  Entries
}

// Start subscribes to page events. Console events of level "error" and
// responses with status >= 400 are recorded.
func Start(page browser.Page) *Capture {
	c := &Capture{}
	c.unsub = page.Subscribe(c.observe)
	return c
}

func (c *Capture) observe(ev browser.Event) {
	var e Entry
	switch ev.Kind {
	case browser.ConsoleEvent:
		if !strings.EqualFold(ev.Level, "error") {
			return
		}
		e = Entry{Source: Console, Message: ev.Text, URL: ev.URL, Time: ev.Time}
	case browser.ResponseEvent:
		if ev.Status < 400 {
			return
		}
		e = Entry{
			Source:  Network,
			Message: fmt.Sprintf("HTTP %d", ev.Status),
			URL:     ev.URL,
			Status:  ev.Status,
			Time:    ev.Time,
		}
	default:
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.stopped {
		c.entries = append(c.entries, e)
	}
}

// Snapshot returns the entries recorded so far, unclassified.
func (c *Capture) Snapshot() Entries {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append(Entries(nil), c.entries...)
}

// Stop unsubscribes and returns every entry with its class set. A nil
// classifier marks everything critical. Later calls return the first
// result.
func (c *Capture) Stop(classify Classifier) Entries {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return c.result
	}
	c.stopped = true
	c.unsub()

	c.result = make(Entries, len(c.entries))
	for i, e := range c.entries {
		e.Class = Critical
		if classify != nil && classify(e) {
			e.Class = Ignorable
		}
		c.result[i] = e
	}
	c.entries = nil
	return c.result
}

// Stopped reports whether Stop has been called.
func (c *Capture) Stopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
