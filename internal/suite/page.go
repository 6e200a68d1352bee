package suite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/scenario"
)

// In-page measurements. Each evaluates to a number or a string.
const (
	overflowScript = `document.body.scrollWidth - window.innerWidth`

	fontSizeScript = `(() => {
	const el = document.querySelector('p, h1, h2, h3, li, a');
	return el ? parseFloat(window.getComputedStyle(el).fontSize) || 0 : 0;
})()`

	fcpScript = `(() => {
	const e = performance.getEntriesByType('paint').find((p) => p.name === 'first-contentful-paint');
	return e ? e.startTime : 0;
})()`

	focusScript = `(() => {
	const el = document.activeElement;
	return el && el !== document.body ? el.tagName.toLowerCase() : '';
})()`
)

// snapshot parses the current DOM.
func snapshot(ctx context.Context, env *scenario.Env) (*goquery.Document, error) {
	html, err := env.Page.HTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse page html: %w", err)
	}
	return doc, nil
}

func evalNumber(ctx context.Context, env *scenario.Env, script string) (float64, error) {
	var v float64
	if err := env.Page.Evaluate(ctx, script, &v); err != nil {
		return 0, err
	}
	return v, nil
}

func siteHost(env *scenario.Env) string {
	u, err := url.Parse(env.Settings.BaseURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func onSite(env *scenario.Env, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Host == siteHost(env)
}

func titlePattern(env *scenario.Env) *regexp.Regexp {
	re, err := regexp.Compile(env.Settings.TitlePattern)
	if err != nil {
		return regexp.MustCompile(regexp.QuoteMeta(env.Settings.TitlePattern))
	}
	return re
}

// firstDocPath is the page used by scenarios that need any docs page.
func firstDocPath(env *scenario.Env) string {
	if len(env.Settings.DocPaths) == 0 {
		return "/docs/intro"
	}
	return env.Settings.DocPaths[0]
}

// navigable picks the first visible link that leads to a different page
// of the site than current.
func navigable(env *scenario.Env, current string, links []browser.ElementInfo) (browser.ElementInfo, string, bool) {
	cur, _ := url.Parse(current)
	for _, l := range links {
		href := strings.TrimSpace(l.Attrs["href"])
		if !l.Visible || href == "" || strings.HasPrefix(href, "#") {
			continue
		}
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		target := ref
		if cur != nil {
			target = cur.ResolveReference(ref)
		}
		target.Fragment = ""
		if !onSite(env, target.String()) {
			continue
		}
		if cur != nil && target.Path == cur.Path {
			continue
		}
		return l, target.String(), true
	}
	return browser.ElementInfo{}, "", false
}

func changedFrom(start string) func(string) bool {
	return func(u string) bool { return u != "" && u != start }
}

// checkText waits for el to show text and records the outcome as a soft
// check. Only errors that end the scenario are returned.
func checkText(ctx context.Context, env *scenario.Env, name string, el browser.Element) (string, error) {
	text, err := env.TextOf(ctx, el)
	var ae *assert.AssertionError
	switch {
	case errors.As(err, &ae):
		env.Soft.Fail(name, ae.Error())
	case err != nil:
		return "", err
	default:
		env.Soft.Pass(name)
	}
	return text, nil
}

func visibleOnly(els []browser.ElementInfo) []browser.ElementInfo {
	var out []browser.ElementInfo
	for _, e := range els {
		if e.Visible {
			out = append(out, e)
		}
	}
	return out
}
