package suite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/capture"
	"github.com/ibeckermayer/docprobe/internal/scenario"
	"github.com/ibeckermayer/docprobe/internal/soft"
)

const fcpBudget = 2 * time.Second

func performance() scenario.Scenario {
	return scenario.Scenario{
		Name:        "performance",
		Description: "Homepage loads within budget with a fast first paint and no failed requests",
		Run: func(ctx context.Context, env *scenario.Env) error {
			elapsed, err := env.Open(ctx, "/")
			if err != nil {
				return err
			}
			fcpMs, fcpErr := evalNumber(ctx, env, fcpScript)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := env.Settle(ctx); err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			env.Logger.Debug("performance", "load", elapsed, "fcp_ms", fcpMs)
			if err := assert.Within("homepage load", elapsed, env.Settings.LoadBudget); err != nil {
				return err
			}
			switch {
			case fcpErr != nil:
				env.Soft.Skip("first contentful paint", fcpErr.Error())
			case fcpMs <= 0:
				env.Soft.Skip("first contentful paint", "not reported")
			default:
				fcp := time.Duration(fcpMs * float64(time.Millisecond))
				if err := assert.Less("first contentful paint", fcp, fcpBudget); err != nil {
					return err
				}
			}

			failed := env.Errors().Critical().BySource(capture.Network)
			if len(failed) > 0 {
				return &assert.AssertionError{
					Check:    "failed requests",
					Expected: 0,
					Actual:   fmt.Sprintf("%d (%s)", len(failed), strings.Join(failed.Messages(), "; ")),
				}
			}
			return env.NoCriticalErrors()
		},
	}
}

func subpagePerformance() scenario.Scenario {
	return scenario.Scenario{
		Name:        "subpage-performance",
		Description: "A docs page loads within the tighter subpage budget",
		Run: func(ctx context.Context, env *scenario.Env) error {
			path := firstDocPath(env)
			elapsed, err := env.Open(ctx, path)
			if err != nil {
				return err
			}
			if err := env.Verify(); err != nil {
				return err
			}
			return assert.Within("load "+path, elapsed, env.Settings.SubpageBudget)
		},
	}
}

func accessibility() scenario.Scenario {
	return scenario.Scenario{
		Name:        "accessibility",
		Description: "Buttons, images, headings and inputs carry accessible names",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-content"); err != nil {
				return err
			}
			doc, err := snapshot(ctx, env)
			if err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			auditAccessibility(doc, env.Soft)

			if err := env.Page.Press(ctx, browser.Query{}, "Tab"); err != nil {
				return fmt.Errorf("failed to press tab: %w", err)
			}
			var focused string
			if err := env.Page.Evaluate(ctx, focusScript, &focused); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				env.Soft.Skip("keyboard focus", err.Error())
				return nil
			}
			env.Soft.Check("keyboard focus", focused != "", "tab did not move focus")
			return nil
		},
	}
}

// auditAccessibility records soft checks over a DOM snapshot: the first
// buttons have names, the first images have alt text or are decorative,
// the first heading is h1 or h2, and inputs with ids are labelled.
func auditAccessibility(doc *goquery.Document, c *soft.Collector) {
	buttons := doc.Find("button")
	buttons.Slice(0, min(5, buttons.Length())).Each(func(i int, b *goquery.Selection) {
		name := strings.TrimSpace(b.AttrOr("aria-label", ""))
		if name == "" {
			name = strings.TrimSpace(b.Text())
		}
		if name == "" {
			name = strings.TrimSpace(b.AttrOr("title", ""))
		}
		c.Check(fmt.Sprintf("button %d name", i+1), name != "", "button has no accessible name")
	})

	imgs := doc.Find("img")
	imgs.Slice(0, min(10, imgs.Length())).Each(func(i int, img *goquery.Selection) {
		_, hasAlt := img.Attr("alt")
		decorative := img.AttrOr("role", "") == "presentation"
		c.Check(fmt.Sprintf("image %d alt", i+1), hasAlt || decorative, "image %q has no alt", img.AttrOr("src", ""))
	})

	if first := doc.Find("h1, h2, h3, h4, h5, h6").First(); first.Length() > 0 {
		tag := goquery.NodeName(first)
		c.Check("heading hierarchy", tag == "h1" || tag == "h2", "first heading is %s", tag)
	}

	doc.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
		id, ok := in.Attr("id")
		if !ok || id == "" {
			return
		}
		labelled := doc.Find(fmt.Sprintf(`label[for=%q]`, id)).Length() > 0 ||
			strings.TrimSpace(in.AttrOr("aria-label", "")) != ""
		c.Check("label for #"+id, labelled, "input #%s has no label", id)
	})
}
