package resolve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ibeckermayer/docprobe/internal/browser"
)

// fakePage answers Probe from a selector table. Like the real drivers it
// fails on a done context before looking anything up. Every other method
// panics through the nil embedded Page.
type fakePage struct {
	browser.Page

	mu      sync.Mutex
	matches map[string]browser.Match
	err     error
	probes  []string
}

func (p *fakePage) Probe(ctx context.Context, q browser.Query) (browser.Match, error) {
	if err := ctx.Err(); err != nil {
		return browser.Match{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes = append(p.probes, q.Selector)
	if p.err != nil {
		return browser.Match{}, p.err
	}
	return p.matches[q.Selector], nil
}

func (p *fakePage) set(selector string, m browser.Match) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.matches[selector] = m
}

func strategies(n int) []Strategy {
	out := make([]Strategy, n)
	for i := range out {
		out[i] = Strategy{Description: fmt.Sprintf("s%d", i), Selector: fmt.Sprintf("#s%d", i)}
	}
	return out
}

func TestResolvePicksEarliestVisibleProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "n")
		page := &fakePage{matches: map[string]browser.Match{}}
		want := -1
		for i := range n {
			count := rapid.IntRange(0, 3).Draw(t, fmt.Sprintf("count%d", i))
			visible := rapid.Bool().Draw(t, fmt.Sprintf("visible%d", i))
			page.matches[fmt.Sprintf("#s%d", i)] = browser.Match{Count: count, Visible: visible}
			if want < 0 && count > 0 && visible {
				want = i
			}
		}

		res, err := Resolve(context.Background(), page, strategies(n), 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if want < 0 {
			if res.Found {
				t.Fatalf("expected NotFound, got %s", res)
			}
			return
		}
		if !res.Found || res.Index != want {
			t.Fatalf("expected strategy %d, got %s", want, res)
		}
		if res.Element.Query().Nth != 0 {
			t.Fatalf("expected first match, got nth %d", res.Element.Query().Nth)
		}
	})
}

func TestResolveZeroTimeoutFindsVisibleElement(t *testing.T) {
	page := &fakePage{matches: map[string]browser.Match{
		"#s1": {Count: 1, Visible: true},
	}}
	res, err := ResolveWith(context.Background(), page, strategies(2), 0, Options{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, 1, res.Index)

	once, err := Once(context.Background(), page, strategies(2))
	require.NoError(t, err)
	assert.Equal(t, once.Index, res.Index)
}

func TestResolveNotFoundAfterTimeout(t *testing.T) {
	page := &fakePage{matches: map[string]browser.Match{
		"#s0": {Count: 2, Visible: false},
	}}
	start := time.Now()
	res, err := ResolveWith(context.Background(), page, strategies(2), 60*time.Millisecond, Options{Interval: 10 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.NotFound())
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
}

func TestResolveWaitsForLateElement(t *testing.T) {
	page := &fakePage{matches: map[string]browser.Match{}}
	go func() {
		time.Sleep(30 * time.Millisecond)
		page.set("#s1", browser.Match{Count: 1, Visible: true})
	}()

	res, err := ResolveWith(context.Background(), page, strategies(2), time.Second, Options{Interval: 5 * time.Millisecond})
	require.NoError(t, err)
	require.True(t, res.Found)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, "s1", res.Strategy.Description)
}

func TestResolveSurfacesBrowserErrors(t *testing.T) {
	page := &fakePage{err: browser.ErrClosed}
	_, err := Resolve(context.Background(), page, strategies(1), time.Second)
	assert.ErrorIs(t, err, browser.ErrClosed)
}

func TestResolveRejectsEmptyList(t *testing.T) {
	_, err := Resolve(context.Background(), &fakePage{}, nil, time.Second)
	assert.ErrorIs(t, err, ErrNoStrategies)
}

type mapSource map[string][]Strategy

var errUnknown = errors.New("unknown")

func (m mapSource) Get(name string) ([]Strategy, error) {
	s, ok := m[name]
	if !ok {
		return nil, errUnknown
	}
	return s, nil
}

func TestLookup(t *testing.T) {
	page := &fakePage{matches: map[string]browser.Match{"h1": {Count: 1, Visible: true}}}
	src := mapSource{"main-heading": {{Selector: "h1"}}}

	res, err := Lookup(context.Background(), page, src, "main-heading", time.Second)
	require.NoError(t, err)
	assert.True(t, res.Found)

	_, err = Lookup(context.Background(), page, src, "logo", time.Second)
	assert.ErrorIs(t, err, errUnknown)
}
