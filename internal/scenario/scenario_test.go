package scenario

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	hard "github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/browser/browsertest"
	"github.com/ibeckermayer/docprobe/internal/soft"
	"github.com/ibeckermayer/docprobe/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `<html><head><title>Docs Home</title></head>
<body><header><img src="/logo.svg" alt="logo"></header>
<main><h1>Reliable end-to-end testing</h1></main></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newRunner(srv *httptest.Server, d *browsertest.Driver) *Runner {
	settings := DefaultSettings()
	settings.BaseURL = srv.URL
	settings.ResolveTimeout = 200 * time.Millisecond
	settings.WaitTimeout = 200 * time.Millisecond
	settings.PollInterval = 10 * time.Millisecond
	d.Client = srv.Client()
	return &Runner{Driver: d, Settings: settings, Parallelism: 2, Timeout: 5 * time.Second}
}

func headingScenario(path string) Scenario {
	return Scenario{
		Name: "heading",
		Run: func(ctx context.Context, env *Env) error {
			if _, err := env.Open(ctx, path); err != nil {
				return err
			}
			el, err := env.Expect(ctx, "main-heading")
			if err != nil {
				return err
			}
			text, err := env.TextOf(ctx, el)
			if err != nil {
				return err
			}
			return hard.NonEmpty("heading", text)
		},
	}
}

func TestHeadingVisibleOn200Page(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	r := newRunner(srv, d)
	r.Settings.WaitTimeout = 5 * time.Second

	start := time.Now()
	res := r.RunOne(context.Background(), headingScenario("/"))
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.Equal(t, types.StatusPass, res.Status, res.Reason)
	assert.Equal(t, browser.Desktop.Name, res.Device)
	assert.Zero(t, d.Active(), "session must be closed")
}

func TestNotFoundPageFailsStatusAssertion(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	r := newRunner(srv, d)

	var got error
	sc := Scenario{
		Name: "missing",
		Run: func(ctx context.Context, env *Env) error {
			_, err := env.Open(ctx, "/nope")
			got = err
			return err
		},
	}
	res := r.RunOne(context.Background(), sc)

	var ae *hard.AssertionError
	require.True(t, errors.As(got, &ae))
	assert.Equal(t, 200, ae.Expected)
	assert.Equal(t, 404, ae.Actual)

	assert.Equal(t, types.StatusFail, res.Status)
	assert.Equal(t, types.KindAssertion, res.Kind)
	require.Len(t, res.Errors, 1, "failed document response is captured")
	assert.Equal(t, 404, res.Errors[0].Status)
}

func TestMissingPreconditionSkips(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	r := newRunner(srv, d)

	res := r.RunOne(context.Background(), Scenario{
		Name: "search",
		Run: func(ctx context.Context, env *Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			_, err := env.Require(ctx, "toc")
			return err
		},
	})
	assert.Equal(t, types.StatusSkip, res.Status)
	assert.Contains(t, res.Reason, "toc not found")
}

func TestSoftFailuresAggregate(t *testing.T) {
	srv := newSite(t)
	r := newRunner(srv, browsertest.NewDriver())

	res := r.RunOne(context.Background(), Scenario{
		Name: "soft",
		Run: func(ctx context.Context, env *Env) error {
			env.Soft.Pass("a")
			env.Soft.Fail("b", "404")
			env.Soft.Skip("c", "absent")
			return nil
		},
	})
	assert.Equal(t, types.StatusFail, res.Status)
	assert.Equal(t, types.KindAssertion, res.Kind)
	assert.Len(t, res.Checks, 3)
}

func TestScenarioTimeoutTearsDown(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	r := newRunner(srv, d)
	r.Timeout = 50 * time.Millisecond

	res := r.RunOne(context.Background(), Scenario{
		Name: "slow",
		Run: func(ctx context.Context, env *Env) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	assert.Equal(t, types.StatusFail, res.Status)
	assert.Equal(t, types.KindTimeout, res.Kind)
	assert.Zero(t, d.Active())
}

func TestPanicIsFailure(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	r := newRunner(srv, d)

	res := r.RunOne(context.Background(), Scenario{
		Name: "panics",
		Run:  func(context.Context, *Env) error { panic("boom") },
	})
	assert.Equal(t, types.StatusFail, res.Status)
	assert.Contains(t, res.Reason, "boom")
	assert.Zero(t, d.Active())
}

func TestRunKeepsInputOrderAndIsolatesSessions(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	r := newRunner(srv, d)

	scenarios := []Scenario{headingScenario("/"), headingScenario("/gone"), headingScenario("/")}
	scenarios[1].Name = "gone"

	results, err := r.Run(context.Background(), scenarios)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, types.StatusPass, results[0].Status)
	assert.Equal(t, "gone", results[1].Scenario)
	assert.Equal(t, types.StatusFail, results[1].Status)
	assert.Equal(t, 3, d.Opened())
	assert.Zero(t, d.Active())
}

func TestNewSessionFailureIsInfra(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &Runner{Driver: browsertest.NewDriver(), Settings: DefaultSettings()}
	res := r.RunOne(ctx, headingScenario("/"))
	assert.Equal(t, types.StatusFail, res.Status)
	assert.Equal(t, types.KindInfra, res.Kind)
}

func TestPrepareRunsOnEverySession(t *testing.T) {
	srv := newSite(t)
	d := browsertest.NewDriver()
	r := newRunner(srv, d)
	var seeded []browser.Cookie
	r.Prepare = func(ctx context.Context, s browser.Session) error {
		if err := s.SetCookies(ctx, []browser.Cookie{{Name: "consent", Value: "yes", Domain: "127.0.0.1"}}); err != nil {
			return err
		}
		var err error
		seeded, err = s.Cookies(ctx)
		return err
	}

	res := r.RunOne(context.Background(), headingScenario("/"))
	assert.Equal(t, types.StatusPass, res.Status)
	require.Len(t, seeded, 1)
	assert.Equal(t, "consent", seeded[0].Name)

	r.Prepare = func(context.Context, browser.Session) error { return errors.New("cookie store unreadable") }
	res = r.RunOne(context.Background(), headingScenario("/"))
	assert.Equal(t, types.StatusFail, res.Status)
	assert.Equal(t, types.KindInfra, res.Kind)
	assert.Contains(t, res.Reason, "cookie store unreadable")
	assert.Zero(t, d.Active())
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status types.Status
		kind   types.FailureKind
	}{
		{nil, types.StatusPass, types.KindNone},
		{hard.Skip("no search"), types.StatusSkip, types.KindNone},
		{fmt.Errorf("step: %w", hard.Status(200, 500)), types.StatusFail, types.KindAssertion},
		{&soft.AggregateFailure{Failures: []soft.Entry{{Name: "x", Outcome: soft.Fail}}}, types.StatusFail, types.KindAssertion},
		{&hard.TimeoutError{Op: "load", Elapsed: 6 * time.Second, Budget: 5 * time.Second}, types.StatusFail, types.KindTimeout},
		{hard.Infra("start", errors.New("no chrome")), types.StatusFail, types.KindInfra},
		{context.DeadlineExceeded, types.StatusFail, types.KindTimeout},
		{errors.New("weird"), types.StatusFail, types.KindError},
	}
	for _, c := range cases {
		status, kind, _ := Classify(c.err)
		assert.Equal(t, c.status, status, "%v", c.err)
		assert.Equal(t, c.kind, kind, "%v", c.err)
	}
}

func TestMachineTransitions(t *testing.T) {
	var m Machine
	require.ErrorIs(t, m.To(Probing), ErrInvalidTransition)
	require.NoError(t, m.To(Navigating))
	require.NoError(t, m.To(Probing))
	require.NoError(t, m.To(Probing))
	require.NoError(t, m.To(Verifying))
	require.ErrorIs(t, m.To(Init), ErrInvalidTransition)
	require.ErrorIs(t, m.To(Finalized), ErrInvalidTransition)
	require.ErrorIs(t, m.Finalize("weird"), ErrInvalidTransition)
	require.NoError(t, m.Finalize(types.StatusPass))
	assert.Equal(t, Finalized, m.Phase())
	assert.Equal(t, types.StatusPass, m.Status())
	require.ErrorIs(t, m.Finalize(types.StatusFail), ErrInvalidTransition)
	require.ErrorIs(t, m.To(Navigating), ErrInvalidTransition)
}

func TestEnvURL(t *testing.T) {
	env := &Env{Settings: Settings{BaseURL: "https://playwright.dev/"}}
	assert.Equal(t, "https://playwright.dev/docs/intro", env.URL("/docs/intro"))
	assert.Equal(t, "https://example.com/x", env.URL("https://example.com/x"))
}
