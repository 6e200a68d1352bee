package suite

import (
	"context"
	"fmt"
	"regexp"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/scenario"
)

var docsURL = regexp.MustCompile(`(?i)docs|install|getting-started`)

func homepage() scenario.Scenario {
	return scenario.Scenario{
		Name:        "homepage",
		Description: "Homepage loads with title, heading and logo inside the load budget",
		Run: func(ctx context.Context, env *scenario.Env) error {
			elapsed, err := env.Open(ctx, "/")
			if err != nil {
				return err
			}
			heading, err := env.Expect(ctx, "main-heading")
			if err != nil {
				return err
			}
			text, err := env.TextOf(ctx, heading)
			if err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "logo"); err != nil {
				return err
			}
			title, err := env.Page.Title(ctx)
			if err != nil {
				return err
			}
			if err := env.Settle(ctx); err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			env.Logger.Debug("homepage", "title", title, "heading", text, "load", elapsed)
			if err := assert.Matches("title", titlePattern(env), title); err != nil {
				return err
			}
			if err := assert.Within("homepage load", elapsed, env.Settings.LoadBudget); err != nil {
				return err
			}
			return env.NoCriticalErrors()
		},
	}
}

func getStarted() scenario.Scenario {
	return scenario.Scenario{
		Name:        "get-started",
		Description: "Get started link leads to the installation docs",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			start, err := env.Page.URL(ctx)
			if err != nil {
				return err
			}
			link, err := env.Expect(ctx, "get-started")
			if err != nil {
				return err
			}
			if err := link.Click(ctx); err != nil {
				return fmt.Errorf("failed to click get started: %w", err)
			}
			u, err := env.WaitURL(ctx, "get started navigation", changedFrom(start))
			if err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			if err := assert.Matches("get started url", docsURL, u); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "installation-heading"); err != nil {
				return err
			}
			_, err = env.Expect(ctx, "code-block")
			return err
		},
	}
}

func mainMenu() scenario.Scenario {
	return scenario.Scenario{
		Name:        "main-menu",
		Description: "Navigation links have text, lead somewhere and Back returns",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "nav"); err != nil {
				return err
			}
			links, q, err := env.All(ctx, "nav-links", 5)
			if err != nil {
				return err
			}
			named := 0
			for _, l := range links {
				if l.Text != "" {
					named++
				}
			}
			if err := assert.True("navigation links with text", named > 0); err != nil {
				return err
			}

			start, err := env.Page.URL(ctx)
			if err != nil {
				return err
			}
			target, href, ok := navigable(env, start, links)
			if !ok {
				return assert.Skip("no navigation link leads to another page")
			}
			if err := browser.NewElement(env.Page, q.At(target.Index)).Click(ctx); err != nil {
				return fmt.Errorf("failed to click %q: %w", target.Text, err)
			}
			moved, err := env.WaitURL(ctx, "menu navigation", changedFrom(start))
			if err != nil {
				return err
			}
			env.Logger.Debug("menu navigation", "link", target.Text, "href", href, "url", moved)

			if err := env.Verify(); err != nil {
				return err
			}
			if err := assert.True("menu link stays on site", onSite(env, moved)); err != nil {
				return err
			}
			if err := env.Page.Back(ctx); err != nil {
				return fmt.Errorf("failed to go back: %w", err)
			}
			_, err = env.WaitURL(ctx, "back navigation", func(u string) bool { return u == start })
			return err
		},
	}
}

// consistency runs the driver-agnostic subset used to compare chromedp and
// playwright runs.
func consistency() scenario.Scenario {
	return scenario.Scenario{
		Name:        "consistency",
		Description: "Heading, site links and code render the same on every driver",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-heading"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "internal-link"); err != nil {
				return err
			}
			code, err := env.Optional(ctx, "code-block")
			if err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			if code.Found {
				text, err := code.Element.Text(ctx)
				if err != nil {
					return err
				}
				env.Soft.Check("code block has text", text != "", "first code block is empty")
			} else {
				env.Soft.Skip("code block has text", "no code block on page")
			}
			if err := env.Settle(ctx); err != nil {
				return err
			}
			return env.NoCriticalErrors()
		},
	}
}
