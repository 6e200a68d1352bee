package suite

import (
	"context"
	"fmt"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/scenario"
)

const (
	maxOverflowPx = 50
	minFontPx     = 12
)

func mobile() scenario.Scenario {
	return scenario.Scenario{
		Name:        "mobile",
		Description: "Phone viewport keeps content readable and navigation reachable",
		Device:      browser.IPhoneSE,
		Run: func(ctx context.Context, env *scenario.Env) error {
			if err := openOnSite(ctx, env, "/"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-content"); err != nil {
				return err
			}
			reachable, err := navigationReachable(ctx, env)
			if err != nil {
				return err
			}
			font, err := evalNumber(ctx, env, fontSizeScript)
			if err != nil {
				return fmt.Errorf("failed to read font size: %w", err)
			}
			overflow, err := evalNumber(ctx, env, overflowScript)
			if err != nil {
				return fmt.Errorf("failed to read overflow: %w", err)
			}

			if err := env.Verify(); err != nil {
				return err
			}
			if err := assert.True("navigation reachable", reachable); err != nil {
				return err
			}
			if font < minFontPx {
				return &assert.AssertionError{Check: "font size", Expected: fmt.Sprintf(">= %dpx", minFontPx), Actual: font}
			}
			if err := assert.Less("horizontal overflow", overflow, maxOverflowPx); err != nil {
				return err
			}

			link, err := env.Optional(ctx, "doc-link")
			if err != nil {
				return err
			}
			if link.Found {
				start, err := env.Page.URL(ctx)
				if err != nil {
					return err
				}
				if err := link.Element.Click(ctx); err != nil {
					return fmt.Errorf("failed to open docs link: %w", err)
				}
				moved, err := env.Poll(ctx, env.Settings.WaitTimeout, func(ctx context.Context) (bool, error) {
					u, err := env.Page.URL(ctx)
					return err == nil && changedFrom(start)(u), nil
				})
				if err != nil {
					return err
				}
				if moved {
					if _, err := env.Expect(ctx, "main-content"); err != nil {
						return err
					}
				}
				env.Soft.Check("docs link navigates", moved, "url stayed at %s", start)
			}
			if err := env.Settle(ctx); err != nil {
				return err
			}
			return env.NoCriticalErrors()
		},
	}
}

func tablet() scenario.Scenario {
	return scenario.Scenario{
		Name:        "tablet",
		Description: "Tablet viewport fits without horizontal scrolling",
		Device:      browser.IPad,
		Run: func(ctx context.Context, env *scenario.Env) error {
			if err := openOnSite(ctx, env, "/"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-content"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "nav"); err != nil {
				return err
			}
			overflow, err := evalNumber(ctx, env, overflowScript)
			if err != nil {
				return fmt.Errorf("failed to read overflow: %w", err)
			}

			if err := env.Verify(); err != nil {
				return err
			}
			if err := assert.Less("horizontal overflow", overflow, maxOverflowPx); err != nil {
				return err
			}
			button := browser.NewElement(env.Page, browser.Query{Selector: "button"})
			visible, err := button.Visible(ctx)
			if err != nil {
				return err
			}
			if !visible {
				env.Soft.Skip("tap button", "no visible button")
				return nil
			}
			if err := button.Click(ctx); err != nil {
				env.Soft.Fail("tap button", err.Error())
				return nil
			}
			env.Soft.Pass("tap button")
			return nil
		},
	}
}

func openOnSite(ctx context.Context, env *scenario.Env, path string) error {
	if _, err := env.Open(ctx, path); err != nil {
		return err
	}
	u, err := env.Page.URL(ctx)
	if err != nil {
		return err
	}
	return assert.True("page on "+siteHost(env), onSite(env, u))
}

// navigationReachable reports whether navigation is visible directly or
// after opening the menu toggle.
func navigationReachable(ctx context.Context, env *scenario.Env) (bool, error) {
	nav, err := env.Find(ctx, "nav")
	if err != nil || nav.Found {
		return nav.Found, err
	}
	menu, err := env.Optional(ctx, "mobile-menu")
	if err != nil || !menu.Found {
		return false, err
	}
	if err := menu.Element.Click(ctx); err != nil {
		return false, fmt.Errorf("failed to open menu: %w", err)
	}
	return true, nil
}
