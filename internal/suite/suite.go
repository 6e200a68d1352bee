// Package suite holds the built-in scenarios run against a documentation
// site. Every scenario reads the site through catalog concepts, so a
// different site only needs a different catalog.
package suite

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ibeckermayer/docprobe/internal/scenario"
)

var ErrUnknownScenario = errors.New("unknown scenario")

// All returns the built-in scenarios in their default run order.
func All() []scenario.Scenario {
	return []scenario.Scenario{
		homepage(),
		getStarted(),
		mainMenu(),
		languageSelector(),
		copyButton(),
		search(),
		docsContent(),
		features(),
		packageManagers(),
		mobile(),
		tablet(),
		consistency(),
		performance(),
		subpagePerformance(),
		accessibility(),
		externalLinks(),
		communityLinks(),
		sidebar(),
		toc(),
		docSections(),
	}
}

// Names lists the built-in scenario names in run order.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, sc := range all {
		names[i] = sc.Name
	}
	return names
}

// Select returns the named scenarios in the order given. No names selects
// everything.
func Select(names []string) ([]scenario.Scenario, error) {
	all := All()
	if len(names) == 0 {
		return all, nil
	}
	byName := make(map[string]scenario.Scenario, len(all))
	for _, sc := range all {
		byName[sc.Name] = sc
	}

	var (
		out     []scenario.Scenario
		unknown []string
		seen    = make(map[string]bool)
	)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		sc, ok := byName[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, sc)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScenario, strings.Join(unknown, ", "))
	}
	return out, nil
}
