package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	cdplog "github.com/chromedp/cdproto/log"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/ibeckermayer/docprobe/internal/logging"
)

// ChromeDriver runs sessions as isolated browser contexts of one Chrome
// process started through chromedp.
type ChromeDriver struct {
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	userAgent     string
}

// NewChrome starts Chrome. The browser lives until Close is called or ctx
// is done.
func NewChrome(ctx context.Context, opts Options) (*ChromeDriver, error) {
	logger := logging.FromContext(ctx).With("component", "chromedp")

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, ChromeOptions(opts)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	// The first Run allocates the browser; it must not carry a timeout.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	return &ChromeDriver{
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		userAgent:     opts.UserAgent,
	}, nil
}

func (d *ChromeDriver) Name() string { return "chromedp" }

// NewSession opens a tab in a fresh browser context and applies device.
func (d *ChromeDriver) NewSession(ctx context.Context, device Device) (Session, error) {
	tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())
	s := &chromeSession{ctx: tabCtx, cancel: cancel}
	chromedp.ListenTarget(tabCtx, s.dispatch)

	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	if err := s.run(ctx, emulate(device)...); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to emulate %s: %w", device.Name, err)
	}
	return s, nil
}

// Close shuts the browser down.
func (d *ChromeDriver) Close() error {
	err := chromedp.Cancel(d.browserCtx)
	d.browserCancel()
	d.allocCancel()
	return err
}

func emulate(d Device) []chromedp.Action {
	if d.IsZero() {
		return nil
	}
	scale := d.Scale
	if scale <= 0 {
		scale = 1
	}
	opts := []chromedp.EmulateViewportOption{chromedp.EmulateScale(scale)}
	if d.Mobile {
		opts = append(opts, chromedp.EmulateMobile)
	}
	if d.Touch {
		opts = append(opts, chromedp.EmulateTouch)
	}
	actions := []chromedp.Action{chromedp.EmulateViewport(d.Width, d.Height, opts...)}
	if d.UserAgent != "" {
		actions = append(actions, emulation.SetUserAgentOverride(d.UserAgent))
	}
	return actions
}

type chromeSession struct {
	Hub

	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
}

// bind derives a context on the tab that also ends when the caller's ctx
// ends. Deriving from the caller's ctx directly would lose the chromedp
// target.
func (s *chromeSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.ctx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		parent := cancel
		cancel = func() {
			cancelDeadline()
			parent()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	if s.closed.Load() {
		return ErrClosed
	}
	runCtx, done := s.bind(ctx)
	defer done()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if s.closed.Load() {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (s *chromeSession) dispatch(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventConsoleAPICalled:
		s.Publish(Event{
			Kind:  ConsoleEvent,
			Level: string(ev.Type),
			Text:  consoleText(ev.Args),
			Time:  timestamp(ev.Timestamp),
		})
	case *runtime.EventExceptionThrown:
		s.Publish(Event{
			Kind:  ConsoleEvent,
			Level: "error",
			Text:  exceptionText(ev.ExceptionDetails),
			Time:  timestamp(ev.Timestamp),
		})
	case *cdplog.EventEntryAdded:
		if ev.Entry == nil {
			return
		}
		s.Publish(Event{
			Kind:  ConsoleEvent,
			Level: string(ev.Entry.Level),
			Text:  ev.Entry.Text,
			URL:   ev.Entry.URL,
			Time:  timestamp(ev.Entry.Timestamp),
		})
	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		s.Publish(Event{
			Kind:   ResponseEvent,
			URL:    ev.Response.URL,
			Status: int(ev.Response.Status),
		})
	}
}

func timestamp(ts *runtime.Timestamp) time.Time {
	if ts == nil {
		return time.Now()
	}
	return ts.Time()
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		if arg == nil {
			continue
		}
		switch {
		case len(arg.Value) > 0:
			var s string
			if err := json.Unmarshal(arg.Value, &s); err == nil {
				parts = append(parts, s)
			} else {
				parts = append(parts, string(arg.Value))
			}
		case arg.Description != "":
			parts = append(parts, arg.Description)
		case arg.UnserializableValue != "":
			parts = append(parts, string(arg.UnserializableValue))
		}
	}
	return strings.Join(parts, " ")
}

func exceptionText(d *runtime.ExceptionDetails) string {
	if d == nil {
		return ""
	}
	if d.Exception != nil && d.Exception.Description != "" {
		return d.Text + " " + d.Exception.Description
	}
	return d.Text
}

func (s *chromeSession) Navigate(ctx context.Context, url string) (Response, error) {
	if s.closed.Load() {
		return Response{}, ErrClosed
	}
	runCtx, done := s.bind(ctx)
	defer done()

	resp, err := chromedp.RunResponse(runCtx, chromedp.Navigate(url))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp == nil {
		return Response{URL: url}, nil
	}
	return Response{URL: resp.URL, Status: int(resp.Status)}, nil
}

func (s *chromeSession) Probe(ctx context.Context, q Query) (Match, error) {
	var m Match
	if err := s.run(ctx, chromedp.Evaluate(buildScript(argsFor(q), probeOp), &m)); err != nil {
		return Match{}, fmt.Errorf("failed to probe %s: %w", q, err)
	}
	return m, nil
}

func (s *chromeSession) Elements(ctx context.Context, q Query, limit int) ([]ElementInfo, error) {
	args := argsFor(q)
	args.Limit = limit
	var out []ElementInfo
	if err := s.run(ctx, chromedp.Evaluate(buildScript(args, elementsOp), &out)); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q, err)
	}
	return out, nil
}

func (s *chromeSession) Text(ctx context.Context, q Query) (string, error) {
	var res textResult
	if err := s.run(ctx, chromedp.Evaluate(buildScript(argsFor(q), textOp), &res)); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", q, err)
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrNoElement, q)
	}
	return res.Text, nil
}

func (s *chromeSession) Attr(ctx context.Context, q Query, name string) (string, bool, error) {
	args := argsFor(q)
	args.Attr = name
	var res attrResult
	if err := s.run(ctx, chromedp.Evaluate(buildScript(args, attrOp), &res)); err != nil {
		return "", false, fmt.Errorf("failed to read %s of %s: %w", name, q, err)
	}
	if !res.Found {
		return "", false, fmt.Errorf("%w: %s", ErrNoElement, q)
	}
	return res.Value, res.Present, nil
}

func (s *chromeSession) point(ctx context.Context, q Query) (pointResult, error) {
	var p pointResult
	if err := s.run(ctx, chromedp.Evaluate(buildScript(argsFor(q), pointOp), &p)); err != nil {
		return p, fmt.Errorf("failed to locate %s: %w", q, err)
	}
	if !p.Found {
		return p, fmt.Errorf("%w: %s", ErrNoElement, q)
	}
	return p, nil
}

func (s *chromeSession) Click(ctx context.Context, q Query) error {
	p, err := s.point(ctx, q)
	if err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.MouseClickXY(p.X, p.Y)); err != nil {
		return fmt.Errorf("failed to click %s: %w", q, err)
	}
	return nil
}

func (s *chromeSession) Hover(ctx context.Context, q Query) error {
	p, err := s.point(ctx, q)
	if err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.MouseEvent(input.MouseMoved, p.X, p.Y)); err != nil {
		return fmt.Errorf("failed to hover %s: %w", q, err)
	}
	return nil
}

func (s *chromeSession) focus(ctx context.Context, q Query, clear bool) error {
	args := argsFor(q)
	args.Clear = clear
	var res foundResult
	if err := s.run(ctx, chromedp.Evaluate(buildScript(args, focusOp), &res)); err != nil {
		return fmt.Errorf("failed to focus %s: %w", q, err)
	}
	if !res.Found {
		return fmt.Errorf("%w: %s", ErrNoElement, q)
	}
	return nil
}

func (s *chromeSession) Fill(ctx context.Context, q Query, value string) error {
	if err := s.focus(ctx, q, true); err != nil {
		return err
	}
	if err := s.run(ctx, chromedp.KeyEvent(value)); err != nil {
		return fmt.Errorf("failed to type into %s: %w", q, err)
	}
	return nil
}

// Press sends a named key (Enter, Tab, Escape) or literal text. An empty
// selector sends it to whatever has focus.
func (s *chromeSession) Press(ctx context.Context, q Query, key string) error {
	if q.Selector != "" {
		if err := s.focus(ctx, q, false); err != nil {
			return err
		}
	}
	if err := s.run(ctx, chromedp.KeyEvent(keyName(key))); err != nil {
		return fmt.Errorf("failed to press %s: %w", key, err)
	}
	return nil
}

func keyName(key string) string {
	switch strings.ToLower(key) {
	case "enter":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "arrowdown":
		return kb.ArrowDown
	}
	return key
}

func (s *chromeSession) Evaluate(ctx context.Context, expr string, res any) error {
	if err := s.run(ctx, chromedp.Evaluate(expr, res)); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	var u string
	if err := s.run(ctx, chromedp.Location(&u)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return u, nil
}

func (s *chromeSession) Title(ctx context.Context) (string, error) {
	var t string
	if err := s.run(ctx, chromedp.Title(&t)); err != nil {
		return "", fmt.Errorf("failed to read title: %w", err)
	}
	return t, nil
}

// Back goes one history entry back. It returns without waiting for the
// navigation; callers poll the URL.
func (s *chromeSession) Back(ctx context.Context) error {
	if err := s.run(ctx, chromedp.Evaluate(`history.back()`, nil)); err != nil {
		return fmt.Errorf("failed to go back: %w", err)
	}
	return nil
}

func (s *chromeSession) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.Evaluate(`document.documentElement.outerHTML`, &html)); err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []*network.Cookie
	err := s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make([]Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}
	return out, nil
}

func (s *chromeSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	return s.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			p := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithSecure(c.Secure).
				WithHTTPOnly(c.HTTPOnly)
			if c.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				p = p.WithExpires(&exp)
			}
			if err := p.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	}))
}

// Close disposes of the tab and its browser context. Later calls on the
// session return ErrClosed.
func (s *chromeSession) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
	})
	return nil
}
