// Package soft records check outcomes without stopping the caller and
// turns the failures into one error at the end.
package soft

import (
	"fmt"
	"strings"
	"sync"
)

type Outcome string

const (
	Pass Outcome = "pass"
	Fail Outcome = "fail"
	Skip Outcome = "skip"
)

type Entry struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
}

// AggregateFailure lists every failed check, in record order.
type AggregateFailure struct {
	Failures []Entry
}

func (e *AggregateFailure) Error() string {
	if len(e.Failures) == 1 {
		f := e.Failures[0]
		return fmt.Sprintf("check %q failed: %s", f.Name, f.Reason)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d checks failed:", len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  - %s: %s", f.Name, f.Reason)
	}
	return b.String()
}

// Collector accumulates entries. The zero value is ready to use and it is
// safe for concurrent use.
type Collector struct {
	mu      sync.Mutex
	entries []Entry
}

func (c *Collector) Record(name string, outcome Outcome, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, Entry{Name: name, Outcome: outcome, Reason: reason})
}

func (c *Collector) Pass(name string) { c.Record(name, Pass, "") }

func (c *Collector) Fail(name, reason string) { c.Record(name, Fail, reason) }

func (c *Collector) Skip(name, reason string) { c.Record(name, Skip, reason) }

// Check records Pass when ok, otherwise Fail with the formatted reason.
// It returns ok.
func (c *Collector) Check(name string, ok bool, format string, args ...any) bool {
	if ok {
		c.Pass(name)
	} else {
		c.Fail(name, fmt.Sprintf(format, args...))
	}
	return ok
}

// Entries returns a copy of everything recorded.
func (c *Collector) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Entry(nil), c.entries...)
}

// Count returns how many entries have outcome o.
func (c *Collector) Count(o Outcome) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Outcome == o {
			n++
		}
	}
	return n
}

// Finalize returns nil unless something failed, in which case it returns
// an *AggregateFailure. Skips never fail.
func (c *Collector) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var failed []Entry
	for _, e := range c.entries {
		if e.Outcome == Fail {
			failed = append(failed, e)
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return &AggregateFailure{Failures: failed}
}
