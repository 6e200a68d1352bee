package suite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/browser"
	"github.com/ibeckermayer/docprobe/internal/resolve"
	"github.com/ibeckermayer/docprobe/internal/scenario"
	"github.com/ibeckermayer/docprobe/internal/soft"
)

const searchQuery = "locators"

var docSectionNames = []string{"Intro", "Getting Started", "Guides", "API", "Community"}

func search() scenario.Scenario {
	return scenario.Scenario{
		Name:        "search",
		Description: "Search for a term shows results that lead into the docs",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			start, err := env.Page.URL(ctx)
			if err != nil {
				return err
			}
			input, err := env.Require(ctx, "search-input")
			if err != nil {
				return err
			}
			if err := input.Click(ctx); err != nil {
				return fmt.Errorf("failed to focus search: %w", err)
			}
			// Some sites open a modal with the real input on click.
			field, err := env.Find(ctx, "search-input")
			if err != nil {
				return err
			}
			if field.Found {
				input = field.Element
			}
			if err := input.Fill(ctx, searchQuery); err != nil {
				return fmt.Errorf("failed to type query: %w", err)
			}

			shown, err := env.Poll(ctx, env.Settings.WaitTimeout, func(ctx context.Context) (bool, error) {
				res, err := env.Optional(ctx, "search-results")
				return res.Found, err
			})
			if err != nil {
				return err
			}
			if !shown {
				if err := input.Press(ctx, "Enter"); err != nil {
					return fmt.Errorf("failed to submit search: %w", err)
				}
				shown, err = env.Poll(ctx, env.Settings.WaitTimeout, func(ctx context.Context) (bool, error) {
					u, err := env.Page.URL(ctx)
					if err == nil && strings.Contains(u, "search") {
						return true, nil
					}
					res, err := env.Optional(ctx, "search-result-item")
					return res.Found, err
				})
				if err != nil {
					return err
				}
			}
			if !shown {
				return assert.Skip("search results could not be verified")
			}

			if err := env.Verify(); err != nil {
				return err
			}
			item, err := env.Optional(ctx, "search-result-item")
			if err != nil {
				return err
			}
			if !item.Found {
				env.Soft.Skip("open result", "no result mentions the query")
				return nil
			}
			env.Soft.Pass("results mention query")
			if err := item.Element.Click(ctx); err != nil {
				return fmt.Errorf("failed to open result: %w", err)
			}
			u, err := env.WaitURL(ctx, "open search result", changedFrom(start))
			if err != nil {
				return err
			}
			env.Soft.Check("result stays on site", onSite(env, u), "result opened %s", u)
			return nil
		},
	}
}

func docsContent() scenario.Scenario {
	return scenario.Scenario{
		Name:        "docs-content",
		Description: "Key documentation pages render headings, content, code and images",
		Run: func(ctx context.Context, env *scenario.Env) error {
			for _, path := range env.Settings.DocPaths {
				if _, err := env.Open(ctx, path); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				heading, err := env.Expect(ctx, "main-heading")
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				text, err := env.TextOf(ctx, heading)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				if _, err := env.Expect(ctx, "main-content"); err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				doc, err := snapshot(ctx, env)
				if err != nil {
					return err
				}

				if err := env.Verify(); err != nil {
					return err
				}
				env.Logger.Debug("docs page", "path", path, "heading", text)
				auditDocument(doc, siteHost(env), path, env.Soft)
			}
			if err := env.Settle(ctx); err != nil {
				return err
			}
			return env.NoCriticalErrors()
		},
	}
}

var internalHref = regexp.MustCompile(`^/|^https?://`)

// auditDocument records soft checks on a docs page's static structure.
func auditDocument(doc *goquery.Document, host, page string, c *soft.Collector) {
	name := func(check string) string { return page + ": " + check }

	code := doc.Find(`pre, code[class*="language"]`).Length()
	c.Check(name("code examples"), code > 0, "no code blocks")

	var missing []string
	doc.Find("img").Each(func(i int, img *goquery.Selection) {
		if src, _ := img.Attr("src"); strings.TrimSpace(src) == "" {
			alt, _ := img.Attr("alt")
			missing = append(missing, fmt.Sprintf("img[%d] %q", i, alt))
		}
	})
	c.Check(name("images have src"), len(missing) == 0, "%s", strings.Join(missing, ", "))

	c.Check(name("headings"), doc.Find("h1, h2, h3, h4, h5, h6").Length() > 0, "no headings")
	c.Check(name("links"), doc.Find("a[href]").Length() > 0, "no links")

	if host != "" {
		if link := doc.Find(fmt.Sprintf(`a[href*=%q]`, host)).First(); link.Length() > 0 {
			href, _ := link.Attr("href")
			c.Check(name("internal link form"), internalHref.MatchString(href), "unexpected href %q", href)
		}
	}

	body := strings.TrimSpace(doc.Find("body").Text())
	c.Check(name("readable text"), len(body) > 100, "body has %d characters", len(body))
}

func features() scenario.Scenario {
	return scenario.Scenario{
		Name:        "features",
		Description: "Feature highlights show readable cards with icons",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			section, err := env.Find(ctx, "features")
			if err != nil {
				return err
			}
			if section.NotFound() {
				return assert.Skip("features section not found on homepage")
			}
			cards, _, err := env.All(ctx, "feature-card", 5)
			if err != nil {
				return err
			}
			if err := assert.True("feature cards present", len(cards) > 0); err != nil {
				return err
			}
			doc, err := snapshot(ctx, env)
			if err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			for i, card := range cards {
				label := fmt.Sprintf("feature card %d", i+1)
				env.Soft.Check(label+" visible", card.Visible, "card %q is hidden", card.Text)
				env.Soft.Check(label+" text", len(card.Text) > 5, "card text %q too short", card.Text)
			}
			icons := within(doc, section.Strategy).Find(`img, svg, [class*="icon"]`).Length()
			env.Soft.Check("feature icons", icons > 0, "no images or icons in %s", section.Strategy)
			return nil
		},
	}
}

// within selects what s matches in doc, applying its text filter.
func within(doc *goquery.Document, s resolve.Strategy) *goquery.Selection {
	sel := doc.Find(s.Selector)
	if s.HasText == "" {
		return sel
	}
	re, err := regexp.Compile("(?i)" + s.HasText)
	if err != nil {
		return sel
	}
	return sel.FilterFunction(func(_ int, el *goquery.Selection) bool {
		return re.MatchString(el.Text())
	})
}

func docSections() scenario.Scenario {
	return scenario.Scenario{
		Name:        "doc-sections",
		Description: "Major documentation sections are linked and enabled",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, firstDocPath(env)); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-content"); err != nil {
				return err
			}

			if err := env.Verify(); err != nil {
				return err
			}
			for _, section := range docSectionNames {
				q := browser.Query{Selector: "a", HasText: regexp.QuoteMeta(section)}
				m, err := env.Page.Probe(ctx, q)
				if err != nil {
					return err
				}
				if !m.Visible {
					env.Soft.Skip(section, "no visible link")
					continue
				}
				disabled, err := linkDisabled(ctx, env.Page, q)
				if err != nil {
					return err
				}
				env.Soft.Check(section, !disabled, "link %s is disabled", q)
			}
			return nil
		},
	}
}

func linkDisabled(ctx context.Context, page browser.Page, q browser.Query) (bool, error) {
	if _, present, err := page.Attr(ctx, q, "disabled"); err != nil || present {
		return present, err
	}
	v, _, err := page.Attr(ctx, q, "aria-disabled")
	return strings.EqualFold(v, "true"), err
}
