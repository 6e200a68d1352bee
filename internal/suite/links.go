package suite

import (
	"context"
	"fmt"
	"strings"

	"github.com/ibeckermayer/docprobe/internal/assert"
	"github.com/ibeckermayer/docprobe/internal/linkprobe"
	"github.com/ibeckermayer/docprobe/internal/scenario"
)

func externalLinks() scenario.Scenario {
	return scenario.Scenario{
		Name:        "external-links",
		Description: "A sample of absolute links answers without 404 or server errors",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-content"); err != nil {
				return err
			}
			html, err := env.Page.HTML(ctx)
			if err != nil {
				return err
			}
			base, err := env.Page.URL(ctx)
			if err != nil {
				return err
			}
			selector := linkprobe.ExternalSelector
			if strategies, err := env.Catalog.Get("external-links"); err == nil && len(strategies) > 0 {
				selector = strategies[0].Selector
			}
			links, err := linkprobe.ExtractLinks(html, base, selector)
			if err != nil {
				return err
			}
			sample := linkprobe.Sample(links, env.Settings.LinkSample)
			if len(sample) == 0 {
				return assert.Skip("no external links on %s", base)
			}

			if err := env.Verify(); err != nil {
				return err
			}
			prober := env.Prober
			if prober == nil {
				prober = linkprobe.New(linkprobe.Options{})
			}
			results, err := prober.Probe(ctx, sample)
			if err != nil {
				return err
			}
			env.RecordLinks(results)
			env.Logger.Debug("probed links", "found", len(links), "probed", len(results))

			for _, r := range results {
				switch {
				case r.Broken():
					env.Soft.Fail(r.URL, fmt.Sprintf("status %d", r.Status))
				case r.Outcome == linkprobe.Status:
					env.Soft.Pass(r.URL)
				default:
					env.Soft.Skip(r.URL, r.String())
				}
			}
			return nil
		},
	}
}

func communityLinks() scenario.Scenario {
	return scenario.Scenario{
		Name:        "community-links",
		Description: "GitHub and community links point where they should",
		Run: func(ctx context.Context, env *scenario.Env) error {
			if _, err := env.Open(ctx, "/"); err != nil {
				return err
			}
			if _, err := env.Expect(ctx, "main-heading"); err != nil {
				return err
			}
			github, err := env.Optional(ctx, "github-link")
			if err != nil {
				return err
			}
			community, err := env.Optional(ctx, "community-link")
			if err != nil {
				return err
			}
			if !github.Found && !community.Found {
				return assert.Skip("no github or community link visible")
			}

			if err := env.Verify(); err != nil {
				return err
			}
			if github.Found {
				href, _, err := github.Element.Attr(ctx, "href")
				if err != nil {
					return err
				}
				if err := assert.True("github link points at github.com", strings.Contains(href, "github.com")); err != nil {
					return err
				}
				if repo := env.Settings.Repository; repo != "" {
					env.Soft.Check("github link names "+repo, strings.Contains(href, repo), "href is %s", href)
				}
			}
			if community.Found {
				href, _, err := community.Element.Attr(ctx, "href")
				if err != nil {
					return err
				}
				if err := assert.NonEmpty("community link href", href); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
