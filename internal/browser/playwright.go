package browser

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ibeckermayer/docprobe/internal/logging"
)

// PlaywrightDriver runs sessions as browser contexts of one Chromium
// launched through playwright-go. The playwright driver and browsers must
// be installed beforehand (playwright install chromium).
type PlaywrightDriver struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	ua      string
}

func NewPlaywright(ctx context.Context, opts Options) (*PlaywrightDriver, error) {
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args:     []string{"--disable-blink-features=AutomationControlled"},
	}
	if opts.ExecPath != "" {
		launch.ExecutablePath = playwright.String(opts.ExecPath)
	}
	b, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	logging.FromContext(ctx).Debug("playwright browser started", "version", b.Version())
	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &PlaywrightDriver{pw: pw, browser: b, ua: ua}, nil
}

func (d *PlaywrightDriver) Name() string { return "playwright" }

func (d *PlaywrightDriver) NewSession(ctx context.Context, device Device) (Session, error) {
	if device.IsZero() {
		device = Desktop
	}
	ua := device.UserAgent
	if ua == "" {
		ua = d.ua
	}
	scale := device.Scale
	if scale <= 0 {
		scale = 1
	}

	bctx, err := d.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport:          &playwright.Size{Width: int(device.Width), Height: int(device.Height)},
		UserAgent:         playwright.String(ua),
		DeviceScaleFactor: playwright.Float(scale),
		IsMobile:          playwright.Bool(device.Mobile),
		HasTouch:          playwright.Bool(device.Touch),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	s := &playwrightSession{bctx: bctx, page: page}
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		ev := Event{Kind: ConsoleEvent, Level: msg.Type(), Text: msg.Text()}
		if loc := msg.Location(); loc != nil {
			ev.URL = loc.URL
		}
		s.Publish(ev)
	})
	page.OnPageError(func(err error) {
		s.Publish(Event{Kind: ConsoleEvent, Level: "error", Text: err.Error()})
	})
	page.OnResponse(func(resp playwright.Response) {
		s.Publish(Event{Kind: ResponseEvent, URL: resp.URL(), Status: resp.Status()})
	})
	return s, nil
}

func (d *PlaywrightDriver) Close() error {
	if err := d.browser.Close(); err != nil {
		_ = d.pw.Stop()
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return d.pw.Stop()
}

type playwrightSession struct {
	Hub

	bctx playwright.BrowserContext
	page playwright.Page

	mu     sync.Mutex
	closed bool
}

// timeoutMs converts the time left on ctx into a playwright timeout.
// Playwright calls are not cancellable, so the deadline is the only bound.
func timeoutMs(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return playwright.Float(0)
	}
	left := time.Until(deadline)
	if left < time.Millisecond {
		left = time.Millisecond
	}
	return playwright.Float(float64(left.Milliseconds()))
}

func (s *playwrightSession) check(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return ctx.Err()
}

func (s *playwrightSession) locator(q Query) playwright.Locator {
	loc := s.page.Locator(q.Selector)
	if q.HasText != "" {
		if re, err := regexp.Compile("(?i)" + q.HasText); err == nil {
			loc = loc.Filter(playwright.LocatorFilterOptions{HasText: re})
		} else {
			loc = loc.Filter(playwright.LocatorFilterOptions{HasText: q.HasText})
		}
	}
	return loc
}

func (s *playwrightSession) evaluate(ctx context.Context, script string, res any) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	v, err := s.page.Evaluate(script)
	if err != nil {
		return err
	}
	return Reshape(v, res)
}

func (s *playwrightSession) Navigate(ctx context.Context, url string) (Response, error) {
	if err := s.check(ctx); err != nil {
		return Response{}, err
	}
	resp, err := s.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   timeoutMs(ctx),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Response{}, ctxErr
		}
		return Response{}, fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp == nil {
		return Response{URL: url}, nil
	}
	return Response{URL: resp.URL(), Status: resp.Status()}, nil
}

func (s *playwrightSession) Probe(ctx context.Context, q Query) (Match, error) {
	if err := s.check(ctx); err != nil {
		return Match{}, err
	}
	loc := s.locator(q)
	n, err := loc.Count()
	if err != nil {
		return Match{}, fmt.Errorf("failed to probe %s: %w", q, err)
	}
	m := Match{Count: n}
	if n > q.Nth {
		m.Visible, err = loc.Nth(q.Nth).IsVisible()
		if err != nil {
			return Match{}, fmt.Errorf("failed to probe %s: %w", q, err)
		}
	}
	return m, nil
}

func (s *playwrightSession) Elements(ctx context.Context, q Query, limit int) ([]ElementInfo, error) {
	args := argsFor(q)
	args.Limit = limit
	var out []ElementInfo
	if err := s.evaluate(ctx, buildScript(args, elementsOp), &out); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", q, err)
	}
	return out, nil
}

func (s *playwrightSession) Text(ctx context.Context, q Query) (string, error) {
	var res textResult
	if err := s.evaluate(ctx, buildScript(argsFor(q), textOp), &res); err != nil {
		return "", fmt.Errorf("failed to read text of %s: %w", q, err)
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrNoElement, q)
	}
	return res.Text, nil
}

func (s *playwrightSession) Attr(ctx context.Context, q Query, name string) (string, bool, error) {
	args := argsFor(q)
	args.Attr = name
	var res attrResult
	if err := s.evaluate(ctx, buildScript(args, attrOp), &res); err != nil {
		return "", false, fmt.Errorf("failed to read %s of %s: %w", name, q, err)
	}
	if !res.Found {
		return "", false, fmt.Errorf("%w: %s", ErrNoElement, q)
	}
	return res.Value, res.Present, nil
}

// nth returns the locator for q's element, or ErrNoElement.
func (s *playwrightSession) nth(ctx context.Context, q Query) (playwright.Locator, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	loc := s.locator(q)
	n, err := loc.Count()
	if err != nil {
		return nil, err
	}
	if n <= q.Nth {
		return nil, fmt.Errorf("%w: %s", ErrNoElement, q)
	}
	return loc.Nth(q.Nth), nil
}

func (s *playwrightSession) Click(ctx context.Context, q Query) error {
	loc, err := s.nth(ctx, q)
	if err != nil {
		return err
	}
	if err := loc.Click(playwright.LocatorClickOptions{Timeout: timeoutMs(ctx)}); err != nil {
		return fmt.Errorf("failed to click %s: %w", q, err)
	}
	return nil
}

func (s *playwrightSession) Fill(ctx context.Context, q Query, value string) error {
	loc, err := s.nth(ctx, q)
	if err != nil {
		return err
	}
	if err := loc.Fill(value, playwright.LocatorFillOptions{Timeout: timeoutMs(ctx)}); err != nil {
		return fmt.Errorf("failed to fill %s: %w", q, err)
	}
	return nil
}

func (s *playwrightSession) Press(ctx context.Context, q Query, key string) error {
	if q.Selector == "" {
		if err := s.check(ctx); err != nil {
			return err
		}
		if err := s.page.Keyboard().Press(key); err != nil {
			return fmt.Errorf("failed to press %s: %w", key, err)
		}
		return nil
	}
	loc, err := s.nth(ctx, q)
	if err != nil {
		return err
	}
	if err := loc.Press(key, playwright.LocatorPressOptions{Timeout: timeoutMs(ctx)}); err != nil {
		return fmt.Errorf("failed to press %s on %s: %w", key, q, err)
	}
	return nil
}

func (s *playwrightSession) Hover(ctx context.Context, q Query) error {
	loc, err := s.nth(ctx, q)
	if err != nil {
		return err
	}
	if err := loc.Hover(playwright.LocatorHoverOptions{Timeout: timeoutMs(ctx)}); err != nil {
		return fmt.Errorf("failed to hover %s: %w", q, err)
	}
	return nil
}

func (s *playwrightSession) Evaluate(ctx context.Context, expr string, res any) error {
	if err := s.evaluate(ctx, expr, res); err != nil {
		return fmt.Errorf("failed to evaluate script: %w", err)
	}
	return nil
}

func (s *playwrightSession) URL(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	return s.page.URL(), nil
}

func (s *playwrightSession) Title(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	return s.page.Title()
}

func (s *playwrightSession) Back(ctx context.Context) error {
	return s.Evaluate(ctx, `history.back()`, nil)
}

func (s *playwrightSession) HTML(ctx context.Context) (string, error) {
	if err := s.check(ctx); err != nil {
		return "", err
	}
	html, err := s.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read document: %w", err)
	}
	return html, nil
}

func (s *playwrightSession) Cookies(ctx context.Context) ([]Cookie, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}
	cookies, err := s.bctx.Cookies()
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
			HTTPOnly: c.HttpOnly,
		})
	}
	return out, nil
}

func (s *playwrightSession) SetCookies(ctx context.Context, cookies []Cookie) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	in := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
			SameSite: playwright.SameSiteAttributeLax,
		}
		if c.Expires > 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		in = append(in, oc)
	}
	if err := s.bctx.AddCookies(in); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (s *playwrightSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.bctx.Close()
}
