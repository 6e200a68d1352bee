package suite

import (
	"context"
	"fmt"
	"strings"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/scenario"
)

func sidebar() scenario.Scenario {
	return scenario.Scenario{
		Name:        "sidebar",
		Description: "Docs sidebar lists pages, marks the current one and navigates",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, firstDocPath(env)); err != nil {
				return err
			}
			if _, err := env.Require(ctx, "sidebar"); err != nil {
				return err
			}
			links, q, err := env.All(ctx, "sidebar-links", 20)
			if err != nil {
				return err
			}
			if err := assert.True("sidebar has links", len(links) > 0); err != nil {
				return err
			}
			active, err := env.Optional(ctx, "sidebar-active")
			if err != nil {
				return err
			}
			expandable, err := env.Optional(ctx, "sidebar-expandable")
			if err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			env.Soft.Check("current page marked", active.Found, "no active sidebar link")
			if expandable.Found {
				if err := expandable.Element.Click(ctx); err != nil {
					env.Soft.Fail("expand section", err.Error())
				} else {
					env.Soft.Pass("expand section")
				}
			}

			start, err := env.Page.URL(ctx)
			if err != nil {
				return err
			}
			target, href, ok := navigable(env, start, links)
			if !ok {
				env.Soft.Skip("sidebar navigation", "no sidebar link leads to another page")
				return nil
			}
			if err := browser.NewElement(env.Page, q.At(target.Index)).Click(ctx); err != nil {
				return fmt.Errorf("failed to click %q: %w", target.Text, err)
			}
			if _, err := env.WaitURL(ctx, "sidebar navigation to "+href, changedFrom(start)); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-content"); err != nil {
				return err
			}
			_, err = env.Expect(ctx, "sidebar")
			return err
		},
	}
}

func toc() scenario.Scenario {
	return scenario.Scenario{
		Name:        "toc",
		Description: "Table of contents links jump within the page",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, firstDocPath(env)); err != nil {
				return err
			}
			if _, err := env.Require(ctx, "toc"); err != nil {
				return err
			}
			links, q, err := env.All(ctx, "toc-links", 10)
			if err != nil {
				return err
			}
			if err := assert.True("table of contents has links", len(links) > 0); err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			jumped := 0
			for _, l := range links {
				if jumped == 2 {
					break
				}
				href := l.Attrs["href"]
				if !l.Visible || !strings.HasPrefix(href, "#") {
					continue
				}
				if err := browser.NewElement(env.Page, q.At(l.Index)).Click(ctx); err != nil {
					return fmt.Errorf("failed to click %s: %w", href, err)
				}
				jumped++
				target := browser.Query{Selector: fmt.Sprintf(`[id=%q]`, strings.TrimPrefix(href, "#"))}
				m, err := env.Page.Probe(ctx, target)
				if err != nil {
					return err
				}
				env.Soft.Check("anchor "+href, m.Count > 0, "no element with id %s", href)
			}
			if jumped == 0 {
				env.Soft.Skip("anchor links", "no visible in-page links")
			}
			_, err = env.Expect(ctx, "main-content")
			return err
		},
	}
}
