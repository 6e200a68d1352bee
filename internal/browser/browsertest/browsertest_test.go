package browsertest

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/docprobe/internal/browser"
)

func site(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Home</title></head><body>
<h1>Welcome</h1>
<div style="display: none"><a class="nav" href="/hidden">Hidden</a></div>
<a class="nav" href="/docs">Docs</a>
<input id="q" />
</body></html>`)
	})
	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head><title>Docs</title></head><body><main>docs</main></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPageQueriesMarkup(t *testing.T) {
	srv := site(t)
	ctx := context.Background()
	d := NewDriver()

	s, err := d.NewSession(ctx, browser.Desktop)
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Navigate(ctx, srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	m, err := s.Probe(ctx, browser.Query{Selector: "a.nav"})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Count)
	assert.False(t, m.Visible, "first nav link sits in a hidden container")

	m, err = s.Probe(ctx, browser.Query{Selector: "a.nav", HasText: "^docs$"})
	require.NoError(t, err)
	assert.Equal(t, browser.Match{Count: 1, Visible: true}, m)

	title, err := s.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Home", title)

	_, err = s.Text(ctx, browser.Query{Selector: "h2"})
	assert.ErrorIs(t, err, browser.ErrNoElement)
}

func TestClickFollowsLinksAndBackReturns(t *testing.T) {
	srv := site(t)
	ctx := context.Background()
	d := NewDriver()

	s, err := d.NewSession(ctx, browser.Desktop)
	require.NoError(t, err)
	_, err = s.Navigate(ctx, srv.URL)
	require.NoError(t, err)

	require.NoError(t, s.Click(ctx, browser.Query{Selector: "a.nav", HasText: "docs"}))
	u, err := s.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/docs", u)

	require.NoError(t, s.Evaluate(ctx, "history.back()", nil))
	u, err = s.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL, u)

	require.NoError(t, s.Close())
	assert.Zero(t, d.Active())
	_, err = s.URL(ctx)
	assert.ErrorIs(t, err, browser.ErrClosed)
}

func TestNavigatePublishesResponses(t *testing.T) {
	srv := site(t)
	ctx := context.Background()
	d := NewDriver()
	s, err := d.NewSession(ctx, browser.Desktop)
	require.NoError(t, err)

	var statuses []int
	s.Subscribe(func(ev browser.Event) {
		if ev.Kind == browser.ResponseEvent {
			statuses = append(statuses, ev.Status)
		}
	})
	resp, err := s.Navigate(ctx, srv.URL+"/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, []int{http.StatusNotFound}, statuses)
}

func TestEvaluateUsesHook(t *testing.T) {
	srv := site(t)
	ctx := context.Background()
	d := NewDriver()
	s, err := d.NewSession(ctx, browser.Desktop)
	require.NoError(t, err)
	_, err = s.Navigate(ctx, srv.URL)
	require.NoError(t, err)

	var n int
	assert.ErrorIs(t, s.Evaluate(ctx, "1+1", &n), ErrNoScript)

	d.Eval = func(*Page, string) (any, error) { return 2, nil }
	require.NoError(t, s.Evaluate(ctx, "1+1", &n))
	assert.Equal(t, 2, n)
}
