package cookies

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/browser/browsertest"
	"github.com/ibeckermayer/docprobe/internal/catalog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "docprobe", "cookies.json"))
}

func expiresIn(d time.Duration) float64 {
	return float64(time.Now().Add(d).Unix())
}

func TestSaveLoad(t *testing.T) {
	s := newStore(t)

	_, err := s.Load()
	require.ErrorIs(t, err, ErrNoCookies)
	assert.False(t, s.Valid())

	soon := expiresIn(time.Hour)
	require.NoError(t, s.Save("https://playwright.dev", []browser.Cookie{
		{Name: "session", Value: "1", Domain: "playwright.dev"},
		{Name: "consent", Value: "yes", Domain: ".playwright.dev", Expires: expiresIn(24 * time.Hour)},
		{Name: "ab", Value: "b", Domain: "playwright.dev", Expires: soon},
	}))

	stored, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, "https://playwright.dev", stored.Site)
	assert.Len(t, stored.Cookies, 3)
	assert.Equal(t, int64(soon), stored.ExpiresAt.Unix())
	assert.True(t, s.Valid())

	require.NoError(t, s.Clear())
	require.NoError(t, s.Clear())
	assert.False(t, s.Valid())
}

func TestValidRejectsExpired(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("https://playwright.dev", []browser.Cookie{
		{Name: "consent", Value: "yes", Domain: "playwright.dev", Expires: expiresIn(-time.Minute)},
	}))
	assert.False(t, s.Valid())
}

func TestForHost(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save("https://playwright.dev", []browser.Cookie{
		{Name: "a", Domain: ".playwright.dev"},
		{Name: "b", Domain: "playwright.dev", Expires: expiresIn(time.Hour)},
		{Name: "c", Domain: "github.com"},
		{Name: "d", Domain: "playwright.dev", Expires: expiresIn(-time.Hour)},
	}))

	got, err := s.ForHost("www.playwright.dev")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)

	got, err = s.ForHost("example.com")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDomainMatches(t *testing.T) {
	cases := []struct {
		domain, host string
		want         bool
	}{
		{"playwright.dev", "playwright.dev", true},
		{".playwright.dev", "playwright.dev", true},
		{"playwright.dev", "docs.playwright.dev", true},
		{"playwright.dev", "PLAYWRIGHT.DEV:443", true},
		{"playwright.dev", "notplaywright.dev", false},
		{"docs.playwright.dev", "playwright.dev", false},
		{"", "playwright.dev", false},
		{"127.0.0.1", "127.0.0.1:8080", true},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, domainMatches(c.domain, c.host), "%s vs %s", c.domain, c.host)
	}
}

func TestSeeder(t *testing.T) {
	s := newStore(t)

	seed, n, err := s.Seeder("https://playwright.dev")
	require.NoError(t, err)
	assert.Nil(t, seed)
	assert.Zero(t, n)

	require.NoError(t, s.Save("https://playwright.dev", []browser.Cookie{
		{Name: "consent", Value: "yes", Domain: "playwright.dev"},
	}))
	seed, n, err = s.Seeder("https://playwright.dev/docs/intro")
	require.NoError(t, err)
	require.NotNil(t, seed)
	assert.Equal(t, 1, n)

	d := browsertest.NewDriver()
	sess, err := d.NewSession(context.Background(), browser.Desktop)
	require.NoError(t, err)
	defer sess.Close()
	require.NoError(t, seed(context.Background(), sess))

	got, err := sess.Cookies(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "consent", got[0].Name)
}

const bannerPage = `<html><body>
<div id="cookie-consent">We use cookies <button>Accept</button></div>
<main><h1>Docs</h1></main></body></html>`

const plainPage = `<html><body><main><h1>Docs</h1></main></body></html>`

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, bannerPage) })
	mux.HandleFunc("/accepted", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, plainPage) })
	mux.HandleFunc("/plain", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, plainPage) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func fastOptions() CaptureOptions {
	return CaptureOptions{
		Timeout:  2 * time.Second,
		Interval: 10 * time.Millisecond,
		Grace:    50 * time.Millisecond,
		Banner:   catalog.Default().MustGet("consent-banner"),
	}
}

func TestCaptureAfterBannerDismissed(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	d.Client = srv.Client()

	accepted := make(chan struct{})
	d.OnNavigate = func(p *browsertest.Page, resp browser.Response) {
		if resp.URL == srv.URL+"/accepted" {
			close(accepted)
			return
		}
		// The user clicks accept a moment after the page shows up.
		go func() {
			time.Sleep(30 * time.Millisecond)
			_ = p.SetCookies(context.Background(), []browser.Cookie{{Name: "consent", Value: "yes", Domain: "127.0.0.1"}})
			_, _ = p.Navigate(context.Background(), srv.URL+"/accepted")
		}()
	}

	s := newStore(t)
	n, err := Capture(context.Background(), d, s, srv.URL+"/", fastOptions())
	require.NoError(t, err)
	<-accepted
	assert.Equal(t, 1, n)
	assert.True(t, s.Valid())
	assert.True(t, d.Last().Closed())
}

func TestCaptureWithoutBanner(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	d.Client = srv.Client()

	s := newStore(t)
	start := time.Now()
	n, err := Capture(context.Background(), d, s, srv.URL+"/plain", fastOptions())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Less(t, time.Since(start), time.Second)

	stored, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/plain", stored.Site)
}

func TestCaptureTimesOutAndStillSaves(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	d.Client = srv.Client()

	opts := fastOptions()
	opts.Timeout = 80 * time.Millisecond
	s := newStore(t)
	_, err := Capture(context.Background(), d, s, srv.URL+"/", opts)
	require.NoError(t, err)

	_, err = s.Load()
	require.NoError(t, err)
	assert.Zero(t, d.Active())
}

func TestCaptureNeedsBanner(t *testing.T) {
	_, err := Capture(context.Background(), browsertest.NewDriver(), newStore(t), "http://127.0.0.1", CaptureOptions{})
	assert.ErrorContains(t, err, "no consent banner strategies")
}
