package capture

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/ibeckermayer/docprobe/internal/browser"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type hubPage struct {
	browser.Page
	browser.Hub
}

func (p *hubPage) Subscribe(fn func(browser.Event)) func() { return p.Hub.Subscribe(fn) }

func TestResizeObserverIsIgnorable(t *testing.T) {
	page := &hubPage{}
	c := Start(page)

	page.Publish(browser.Event{Kind: browser.ConsoleEvent, Level: "error", Text: "ResizeObserver loop limit exceeded"})
	page.Publish(browser.Event{Kind: browser.ConsoleEvent, Level: "error", Text: "TypeError: x is undefined"})
	page.Publish(browser.Event{Kind: browser.ConsoleEvent, Level: "warning", Text: "deprecated API"})

	entries := c.Stop(IgnoreMessages("ResizeObserver loop limit exceeded"))
	require.Len(t, entries, 2)

	critical := entries.Critical()
	require.Len(t, critical, 1)
	assert.Equal(t, "TypeError: x is undefined", critical[0].Message)
	assert.Equal(t, Ignorable, entries[0].Class)
}

func TestNetworkFailuresRecorded(t *testing.T) {
	page := &hubPage{}
	c := Start(page)

	page.Publish(browser.Event{Kind: browser.ResponseEvent, URL: "https://example.com/ok.js", Status: 200})
	page.Publish(browser.Event{Kind: browser.ResponseEvent, URL: "https://example.com/missing.png", Status: 404})
	page.Publish(browser.Event{Kind: browser.ResponseEvent, URL: "https://www.google-analytics.com/collect", Status: 503})

	entries := c.Stop(DefaultClassifier)
	require.Len(t, entries, 2)
	assert.Equal(t, Network, entries[0].Source)
	assert.Equal(t, 404, entries[0].Status)
	assert.Equal(t, Entries{entries[0]}, entries.Critical())
}

func TestStopIsIdempotentAndUnsubscribes(t *testing.T) {
	page := &hubPage{}
	c := Start(page)
	assert.Equal(t, 1, page.Len())

	page.Publish(browser.Event{Kind: browser.ConsoleEvent, Level: "error", Text: "boom"})
	first := c.Stop(nil)
	assert.Zero(t, page.Len())
	assert.True(t, c.Stopped())

	page.Publish(browser.Event{Kind: browser.ConsoleEvent, Level: "error", Text: "after stop"})
	second := c.Stop(DefaultClassifier)
	assert.Equal(t, first, second)
	require.Len(t, second, 1)
	assert.Equal(t, Critical, second[0].Class)
}

func TestConcurrentPublish(t *testing.T) {
	page := &hubPage{}
	c := Start(page)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 25 {
				page.Publish(browser.Event{Kind: browser.ConsoleEvent, Level: "error", Text: "e"})
			}
		}()
	}
	wg.Wait()
	assert.Len(t, c.Stop(nil), 200)
}

func TestAnyComposesProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		msg := rapid.StringMatching(`[a-z ]{0,20}`).Draw(t, "msg")
		url := rapid.StringMatching(`[a-z./]{0,20}`).Draw(t, "url")
		m := rapid.StringMatching(`[a-z]{1,3}`).Draw(t, "m")
		u := rapid.StringMatching(`[a-z]{1,3}`).Draw(t, "u")

		e := Entry{Message: msg, URL: url}
		got := Any(IgnoreMessages(m), IgnoreURLs(u))(e)
		want := IgnoreMessages(m)(e) || IgnoreURLs(u)(e)
		if got != want {
			t.Fatalf("Any = %v, want %v", got, want)
		}
	})
}

func TestEmptyPatternsIgnoreNothing(t *testing.T) {
	assert.False(t, IgnoreMessages("")(Entry{Message: "anything"}))
	assert.False(t, Any()(Entry{Message: "anything"}))
}
