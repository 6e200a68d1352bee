// Package browsertest provides an in-memory browser.Driver that fetches
// pages over HTTP and answers queries from the static markup with goquery.
// Scripts do not run; Evaluate is answered by a hook.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/docprobe/internal/browser"
)

// ErrNoScript is returned by Evaluate when no EvalFunc is set.
var ErrNoScript = errors.New("browsertest: scripts are not supported")

// EvalFunc answers Page.Evaluate. The returned value is copied into the
// caller's result through JSON.
type EvalFunc func(p *Page, expr string) (any, error)

// Driver is a fake browser.Driver. Configure it before opening sessions.
type Driver struct {
	Client *http.Client
	Eval   EvalFunc
	// OnNavigate runs after every successful navigation, e.g. to publish
	// console events the real page would emit.
	OnNavigate func(p *Page, resp browser.Response)

	opened atomic.Int64
	closed atomic.Int64
	mu     sync.Mutex
	last   *Page
}

func NewDriver() *Driver {
	return &Driver{Client: http.DefaultClient}
}

func (d *Driver) Name() string { return "browsertest" }

func (d *Driver) NewSession(ctx context.Context, device browser.Device) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.opened.Add(1)
	p := &Page{driver: d, Device: device}
	d.mu.Lock()
	d.last = p
	d.mu.Unlock()
	return p, nil
}

func (d *Driver) Close() error { return nil }

// Opened is the number of sessions created.
func (d *Driver) Opened() int { return int(d.opened.Load()) }

// Active is the number of sessions not yet closed.
func (d *Driver) Active() int { return int(d.opened.Load() - d.closed.Load()) }

// Last returns the most recently opened page.
func (d *Driver) Last() *Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Page is a fake browser.Session.
type Page struct {
	browser.Hub

	Device browser.Device

	driver  *Driver
	mu      sync.Mutex
	doc     *goquery.Document
	url     string
	history []string
	cookies []browser.Cookie
	closed  bool
	clicks  []string
	keys    []string
}

func (p *Page) check(ctx context.Context) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return browser.ErrClosed
	}
	return ctx.Err()
}

func (p *Page) Navigate(ctx context.Context, rawURL string) (browser.Response, error) {
	resp, err := p.load(ctx, rawURL)
	if err != nil {
		return browser.Response{}, err
	}
	p.mu.Lock()
	if p.url != "" {
		p.history = append(p.history, p.url)
	}
	p.url = resp.URL
	p.mu.Unlock()

	if p.driver.OnNavigate != nil {
		p.driver.OnNavigate(p, resp)
	}
	return resp, nil
}

func (p *Page) load(ctx context.Context, rawURL string) (browser.Response, error) {
	if err := p.check(ctx); err != nil {
		return browser.Response{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return browser.Response{}, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	res, err := p.driver.Client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return browser.Response{}, ctxErr
		}
		return browser.Response{}, fmt.Errorf("failed to navigate to %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	doc, err := goquery.NewDocumentFromReader(res.Body)
	if err != nil {
		return browser.Response{}, fmt.Errorf("failed to parse %s: %w", rawURL, err)
	}
	resp := browser.Response{URL: res.Request.URL.String(), Status: res.StatusCode}

	p.mu.Lock()
	p.doc = doc
	p.mu.Unlock()

	p.Publish(browser.Event{Kind: browser.ResponseEvent, URL: resp.URL, Status: resp.Status})
	return resp, nil
}

// selection returns all matches for q in the current document.
func (p *Page) selection(q browser.Query) (*goquery.Selection, error) {
	p.mu.Lock()
	doc := p.doc
	p.mu.Unlock()
	if doc == nil {
		return nil, fmt.Errorf("no document loaded")
	}
	sel := doc.Find(q.Selector)
	if q.HasText != "" {
		re, err := regexp.Compile("(?i)" + q.HasText)
		if err != nil {
			return nil, fmt.Errorf("invalid text pattern %q: %w", q.HasText, err)
		}
		sel = sel.FilterFunction(func(_ int, s *goquery.Selection) bool {
			return re.MatchString(s.Text())
		})
	}
	return sel, nil
}

func (p *Page) element(ctx context.Context, q browser.Query) (*goquery.Selection, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	sel, err := p.selection(q)
	if err != nil {
		return nil, err
	}
	if sel.Length() <= q.Nth {
		return nil, fmt.Errorf("%w: %s", browser.ErrNoElement, q)
	}
	return sel.Eq(q.Nth), nil
}

var hiddenStyle = regexp.MustCompile(`(?i)(display\s*:\s*none|visibility\s*:\s*hidden|opacity\s*:\s*0(\.0*)?\s*(;|$))`)

// Visible approximates layout visibility from markup: the element and its
// ancestors carry no hidden attribute or hiding inline style.
func Visible(s *goquery.Selection) bool {
	if s.Length() == 0 {
		return false
	}
	for n := s.First(); n.Length() > 0; n = n.Parent() {
		if _, ok := n.Attr("hidden"); ok {
			return false
		}
		if style, ok := n.Attr("style"); ok && hiddenStyle.MatchString(style) {
			return false
		}
		if goquery.NodeName(n) == "template" {
			return false
		}
	}
	return true
}

func (p *Page) Probe(ctx context.Context, q browser.Query) (browser.Match, error) {
	if err := p.check(ctx); err != nil {
		return browser.Match{}, err
	}
	sel, err := p.selection(q)
	if err != nil {
		return browser.Match{}, err
	}
	m := browser.Match{Count: sel.Length()}
	if m.Count > q.Nth {
		m.Visible = Visible(sel.Eq(q.Nth))
	}
	return m, nil
}

func (p *Page) Elements(ctx context.Context, q browser.Query, limit int) ([]browser.ElementInfo, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	sel, err := p.selection(q)
	if err != nil {
		return nil, err
	}
	var out []browser.ElementInfo
	sel.EachWithBreak(func(i int, s *goquery.Selection) bool {
		if limit > 0 && i >= limit {
			return false
		}
		attrs := make(map[string]string)
		for _, a := range s.Nodes[0].Attr {
			attrs[a.Key] = a.Val
		}
		out = append(out, browser.ElementInfo{
			Index:   i,
			Tag:     goquery.NodeName(s),
			Text:    strings.TrimSpace(s.Text()),
			Attrs:   attrs,
			Visible: Visible(s),
		})
		return true
	})
	return out, nil
}

func (p *Page) Text(ctx context.Context, q browser.Query) (string, error) {
	el, err := p.element(ctx, q)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(el.Text()), nil
}

func (p *Page) Attr(ctx context.Context, q browser.Query, name string) (string, bool, error) {
	el, err := p.element(ctx, q)
	if err != nil {
		return "", false, err
	}
	v, ok := el.Attr(name)
	return v, ok, nil
}

// Click follows links; any other element is only recorded.
func (p *Page) Click(ctx context.Context, q browser.Query) error {
	el, err := p.element(ctx, q)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, q.String())
	base := p.url
	p.mu.Unlock()

	href, ok := el.Attr("href")
	if !ok || goquery.NodeName(el) != "a" || strings.HasPrefix(href, "#") {
		return nil
	}
	target, err := resolveURL(base, href)
	if err != nil {
		return err
	}
	_, err = p.Navigate(ctx, target)
	return err
}

func resolveURL(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

func (p *Page) Fill(ctx context.Context, q browser.Query, value string) error {
	el, err := p.element(ctx, q)
	if err != nil {
		return err
	}
	p.mu.Lock()
	el.SetAttr("value", value)
	p.mu.Unlock()
	return nil
}

func (p *Page) Press(ctx context.Context, q browser.Query, key string) error {
	if q.Selector != "" {
		if _, err := p.element(ctx, q); err != nil {
			return err
		}
	} else if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	p.keys = append(p.keys, key)
	p.mu.Unlock()
	return nil
}

func (p *Page) Hover(ctx context.Context, q browser.Query) error {
	_, err := p.element(ctx, q)
	return err
}

func (p *Page) Evaluate(ctx context.Context, expr string, res any) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(expr) == "history.back()" {
		return p.Back(ctx)
	}
	if p.driver.Eval == nil {
		return ErrNoScript
	}
	v, err := p.driver.Eval(p, expr)
	if err != nil {
		return err
	}
	return browser.Reshape(v, res)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) Title(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return "", nil
	}
	return strings.TrimSpace(p.doc.Find("title").First().Text()), nil
}

func (p *Page) Back(ctx context.Context) error {
	p.mu.Lock()
	if len(p.history) == 0 {
		p.mu.Unlock()
		return nil
	}
	prev := p.history[len(p.history)-1]
	p.history = p.history[:len(p.history)-1]
	p.mu.Unlock()

	resp, err := p.load(ctx, prev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.url = resp.URL
	p.mu.Unlock()
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := p.check(ctx); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.doc == nil {
		return "", nil
	}
	return p.doc.Html()
}

func (p *Page) Cookies(ctx context.Context) ([]browser.Cookie, error) {
	if err := p.check(ctx); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...), nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []browser.Cookie) error {
	if err := p.check(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append(p.cookies, cookies...)
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		p.driver.closed.Add(1)
	}
	return nil
}

// Closed reports whether Close was called.
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Clicks lists the queries clicked so far.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Keys lists the keys pressed so far.
func (p *Page) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

// Location is the current URL. Unlike URL it works after Close.
func (p *Page) Location() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}
