package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/capture"
	"github.com/ibeckermayer/docprobe/internal/catalog"
	"github.com/ibeckermayer/docprobe/internal/linkprobe"
	"github.com/ibeckermayer/docprobe/internal/resolve"
	"github.com/ibeckermayer/docprobe/internal/soft"
	"github.com/ibeckermayer/docprobe/internal/wait"
)

// Settings are the knobs scenario bodies read.
type Settings struct {
	BaseURL        string
	DocPaths       []string
	ResolveTimeout time.Duration
	WaitTimeout    time.Duration
	PollInterval   time.Duration
	LoadBudget     time.Duration
	SubpageBudget  time.Duration
	LinkSample     int
	TitlePattern   string
	Repository     string
}

// DefaultSettings match the built-in config defaults.
func DefaultSettings() Settings {
	return Settings{
		BaseURL:        "https://playwright.dev",
		DocPaths:       []string{"/docs/intro", "/docs/locators", "/docs/actions"},
		ResolveTimeout: 5 * time.Second,
		WaitTimeout:    5 * time.Second,
		PollInterval:   100 * time.Millisecond,
		LoadBudget:     5 * time.Second,
		SubpageBudget:  3 * time.Second,
		LinkSample:     5,
		TitlePattern:   "Playwright",
		Repository:     "microsoft/playwright",
	}
}

// Env is what a scenario body works with. It is created fresh for each
// scenario and must not be shared.
type Env struct {
	Page     browser.Page
	Catalog  *catalog.Catalog
	Settings Settings
	Soft     *soft.Collector
	Logger   *slog.Logger
	Prober   *linkprobe.Prober

	machine    *Machine
	capture    *capture.Capture
	classifier capture.Classifier

	mu    sync.Mutex
	links []linkprobe.Result
}

// Phase is the scenario's current phase.
func (e *Env) Phase() Phase { return e.machine.Phase() }

func (e *Env) enter(p Phase) error {
	if e.machine.Phase() == p {
		return nil
	}
	return e.machine.To(p)
}

// URL resolves path against the base URL. Absolute URLs pass through.
func (e *Env) URL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	base, err := url.Parse(e.Settings.BaseURL)
	if err != nil {
		return strings.TrimSuffix(e.Settings.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	ref, err := url.Parse(path)
	if err != nil {
		return e.Settings.BaseURL
	}
	return base.ResolveReference(ref).String()
}

// Goto navigates to path and returns the response and how long the load
// took.
func (e *Env) Goto(ctx context.Context, path string) (browser.Response, time.Duration, error) {
	if err := e.enter(Navigating); err != nil {
		return browser.Response{}, 0, err
	}
	target := e.URL(path)
	e.Logger.Debug("navigating", "url", target)

	start := time.Now()
	resp, err := e.Page.Navigate(ctx, target)
	elapsed := time.Since(start)
	if err != nil {
		return resp, elapsed, err
	}
	e.Logger.Debug("loaded", "url", resp.URL, "status", resp.Status, "elapsed", elapsed)
	return resp, elapsed, nil
}

// Open navigates to path and requires a 200 response.
func (e *Env) Open(ctx context.Context, path string) (time.Duration, error) {
	resp, elapsed, err := e.Goto(ctx, path)
	if err != nil {
		return elapsed, err
	}
	return elapsed, assert.Status(200, resp.Status)
}

// Find resolves a catalog concept, waiting up to the resolve timeout.
func (e *Env) Find(ctx context.Context, concept string) (resolve.Result, error) {
	return e.FindWithin(ctx, concept, e.Settings.ResolveTimeout)
}

// FindWithin resolves a catalog concept, waiting up to timeout.
func (e *Env) FindWithin(ctx context.Context, concept string, timeout time.Duration) (resolve.Result, error) {
	if err := e.enter(Probing); err != nil {
		return resolve.Result{}, err
	}
	strategies, err := e.Catalog.Get(concept)
	if err != nil {
		return resolve.Result{}, err
	}
	res, err := resolve.ResolveWith(ctx, e.Page, strategies, timeout, resolve.Options{Interval: e.Settings.PollInterval})
	if err != nil {
		return resolve.Result{}, fmt.Errorf("failed to resolve %s: %w", concept, err)
	}
	e.Logger.Debug("resolved", "concept", concept, "result", res.String())
	return res, nil
}

// Require resolves a concept that is a precondition of the scenario. An
// absent element skips the scenario.
func (e *Env) Require(ctx context.Context, concept string) (browser.Element, error) {
	res, err := e.Find(ctx, concept)
	if err != nil {
		return browser.Element{}, err
	}
	if res.NotFound() {
		return browser.Element{}, assert.Skip("%s not found on %s", concept, e.currentURL(ctx))
	}
	return res.Element, nil
}

// Expect resolves a concept that must be present. An absent element is
// an assertion failure.
func (e *Env) Expect(ctx context.Context, concept string) (browser.Element, error) {
	res, err := e.Find(ctx, concept)
	if err != nil {
		return browser.Element{}, err
	}
	if res.NotFound() {
		return browser.Element{}, &assert.AssertionError{
			Check:    concept + " visible",
			Expected: "visible element",
			Actual:   "none within " + e.Settings.ResolveTimeout.String(),
		}
	}
	return res.Element, nil
}

// Optional resolves a concept without waiting. It is for soft checks on
// elements already known to have had time to render.
func (e *Env) Optional(ctx context.Context, concept string) (resolve.Result, error) {
	return e.FindWithin(ctx, concept, 0)
}

func (e *Env) currentURL(ctx context.Context) string {
	u, err := e.Page.URL(ctx)
	if err != nil {
		return "page"
	}
	return u
}

// Verify marks the start of the verification phase.
func (e *Env) Verify() error {
	return e.enter(Verifying)
}

// WaitFor polls cond up to the wait timeout and turns a timeout into an
// *assert.TimeoutError.
func (e *Env) WaitFor(ctx context.Context, op string, cond wait.Condition) error {
	out, err := wait.Until(ctx, e.Settings.WaitTimeout, e.Settings.PollInterval, cond)
	if err != nil {
		return err
	}
	return assert.Waited(op, out, e.Settings.WaitTimeout)
}

// Poll is WaitFor without the error: it reports whether cond held in time.
func (e *Env) Poll(ctx context.Context, timeout time.Duration, cond wait.Condition) (bool, error) {
	out, err := wait.Until(ctx, timeout, e.Settings.PollInterval, cond)
	return out.Satisfied, err
}

// TextOf waits for el to have non-empty, stable text.
func (e *Env) TextOf(ctx context.Context, el browser.Element) (string, error) {
	text, out, err := wait.Stable(ctx, e.Settings.WaitTimeout, e.Settings.PollInterval,
		func(ctx context.Context) (string, error) { return el.Text(ctx) },
		func(s string) bool { return strings.TrimSpace(s) != "" })
	if err != nil {
		return "", err
	}
	if out.TimedOut() {
		return text, assert.NonEmpty(el.String()+" text", text)
	}
	return text, nil
}

// WaitURL waits until the page URL satisfies match and returns it. Read
// errors while a navigation is in flight count as not yet matching.
func (e *Env) WaitURL(ctx context.Context, op string, match func(string) bool) (string, error) {
	get := func(ctx context.Context) (string, error) {
		u, err := e.Page.URL(ctx)
		if err != nil && ctx.Err() == nil && !errors.Is(err, browser.ErrClosed) {
			return "", nil
		}
		return u, err
	}
	u, out, err := wait.Value(ctx, e.Settings.WaitTimeout, e.Settings.PollInterval, get, match)
	if err != nil {
		return u, err
	}
	return u, assert.Waited(op, out, e.Settings.WaitTimeout)
}

// All lists up to limit elements of the first strategy of concept that
// matches anything, with the query that matched them.
func (e *Env) All(ctx context.Context, concept string, limit int) ([]browser.ElementInfo, browser.Query, error) {
	if err := e.enter(Probing); err != nil {
		return nil, browser.Query{}, err
	}
	strategies, err := e.Catalog.Get(concept)
	if err != nil {
		return nil, browser.Query{}, err
	}
	for _, s := range strategies {
		q := s.Query()
		els, err := e.Page.Elements(ctx, q, limit)
		if err != nil {
			return nil, q, fmt.Errorf("failed to list %s: %w", concept, err)
		}
		if len(els) > 0 {
			return els, q, nil
		}
	}
	return nil, browser.Query{}, nil
}

// Settle waits until no new errors have been captured for one poll
// interval, so late failing requests are counted.
func (e *Env) Settle(ctx context.Context) error {
	_, _, err := wait.Stable(ctx, e.Settings.WaitTimeout, e.Settings.PollInterval,
		func(context.Context) (int, error) { return len(e.capture.Snapshot()), nil }, nil)
	return err
}

// Errors returns the errors captured so far, classified. Capture keeps
// running.
func (e *Env) Errors() capture.Entries {
	snap := e.capture.Snapshot()
	for i := range snap {
		snap[i].Class = capture.Critical
		if e.classifier != nil && e.classifier(snap[i]) {
			snap[i].Class = capture.Ignorable
		}
	}
	return snap
}

// NoCriticalErrors fails when any critical console or network error was
// captured so far.
func (e *Env) NoCriticalErrors() error {
	critical := e.Errors().Critical()
	if len(critical) == 0 {
		return nil
	}
	return &assert.AssertionError{
		Check:    "critical errors",
		Expected: 0,
		Actual:   fmt.Sprintf("%d (%s)", len(critical), strings.Join(critical.Messages(), "; ")),
	}
}

// RecordLinks attaches link probe results to the scenario result.
func (e *Env) RecordLinks(results []linkprobe.Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.links = append(e.links, results...)
}

func (e *Env) recordedLinks() []linkprobe.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]linkprobe.Result(nil), e.links...)
}
