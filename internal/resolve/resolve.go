// Package resolve finds the element standing for a logical UI concept on
// a live page by trying an ordered list of selector strategies.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/wait"
)

// DefaultInterval is the poll interval between rounds of strategies.
const DefaultInterval = 100 * time.Millisecond

// ErrNoStrategies is returned when Resolve is given an empty list.
var ErrNoStrategies = errors.New("no selector strategies")

// Strategy is one way of locating a concept: a CSS selector and an
// optional case-insensitive text pattern.
type Strategy struct {
	Description string `yaml:"description"`
	Selector    string `yaml:"selector"`
	HasText     string `yaml:"has_text,omitempty"`
}

// Query converts s into a browser query for the first match.
func (s Strategy) Query() browser.Query {
	return browser.Query{Selector: s.Selector, HasText: s.HasText}
}

func (s Strategy) String() string {
	if s.Description != "" {
		return s.Description
	}
	return s.Query().String()
}

// Result is the outcome of a resolution. The zero value is NotFound.
// Element is only valid until the page navigates.
type Result struct {
	Element  browser.Element
	Strategy Strategy
	// Index of the winning strategy in the list.
	Index int
	Found bool
}

// NotFound reports whether no strategy matched.
func (r Result) NotFound() bool { return !r.Found }

func (r Result) String() string {
	if !r.Found {
		return "not found"
	}
	return fmt.Sprintf("found via #%d %s", r.Index, r.Strategy)
}

// Options tune Resolve. Zero values take defaults.
type Options struct {
	Interval time.Duration
}

// Resolve returns the first strategy, in declaration order, whose first
// match is visible. Strategies are retried every interval until timeout;
// if none ever matches the result is NotFound with a nil error. Browser
// failures are returned as errors.
func Resolve(ctx context.Context, page browser.Page, strategies []Strategy, timeout time.Duration) (Result, error) {
	return ResolveWith(ctx, page, strategies, timeout, Options{})
}

func ResolveWith(ctx context.Context, page browser.Page, strategies []Strategy, timeout time.Duration, opts Options) (Result, error) {
	if len(strategies) == 0 {
		return Result{}, ErrNoStrategies
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	var res Result
	_, err := wait.Until(ctx, timeout, interval, func(ctx context.Context) (bool, error) {
		r, err := attempt(ctx, page, strategies)
		if err != nil {
			return false, err
		}
		res = r
		return r.Found, nil
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// attempt makes one pass over strategies.
func attempt(ctx context.Context, page browser.Page, strategies []Strategy) (Result, error) {
	for i, s := range strategies {
		q := s.Query()
		m, err := page.Probe(ctx, q)
		if err != nil {
			return Result{}, fmt.Errorf("failed to probe strategy %q: %w", s, err)
		}
		if m.Count > 0 && m.Visible {
			return Result{
				Element:  browser.NewElement(page, q),
				Strategy: s,
				Index:    i,
				Found:    true,
			}, nil
		}
	}
	return Result{}, nil
}

// Once makes a single pass without waiting.
func Once(ctx context.Context, page browser.Page, strategies []Strategy) (Result, error) {
	if len(strategies) == 0 {
		return Result{}, ErrNoStrategies
	}
	return attempt(ctx, page, strategies)
}

// Single wraps one selector as a strategy list.
func Single(selector string) []Strategy {
	return []Strategy{{Selector: selector}}
}

// Source maps concept names to strategy lists.
type Source interface {
	Get(name string) ([]Strategy, error)
}

// Lookup resolves a named concept from src.
func Lookup(ctx context.Context, page browser.Page, src Source, concept string, timeout time.Duration) (Result, error) {
	strategies, err := src.Get(concept)
	if err != nil {
		return Result{}, err
	}
	return Resolve(ctx, page, strategies, timeout)
}
