package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasSuiteConcepts(t *testing.T) {
	c := Default()
	for _, name := range []string{
		"main-heading", "logo", "nav", "nav-links", "get-started",
		"search-input", "search-results", "main-content", "code-block",
		"copy-button", "language-selector", "language-tab",
		"package-manager-tab", "sidebar", "sidebar-active",
		"sidebar-expandable", "toc", "mobile-menu", "features",
		"feature-card", "github-link", "community-link", "external-links",
	} {
		s, err := c.Get(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, s, name)
	}
}

func TestStrategyOrderIsPreserved(t *testing.T) {
	s := Default().MustGet("main-heading")
	require.Len(t, s, 2)
	assert.Equal(t, "h1", s[0].Selector)
	assert.Equal(t, `[role="heading"][aria-level="1"]`, s[1].Selector)

	gs := Default().MustGet("get-started")
	assert.Equal(t, "get started", gs[0].HasText)
}

func TestGetReturnsCopy(t *testing.T) {
	c := Default()
	s, err := c.Get("nav")
	require.NoError(t, err)
	s[0].Selector = "mutated"
	assert.Equal(t, "nav", c.MustGet("nav")[0].Selector)
}

func TestUnknownConcept(t *testing.T) {
	_, err := Default().Get("does-not-exist")
	assert.ErrorIs(t, err, ErrUnknownConcept)
}

func TestLoadMergesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logo:
  - description: site brand
    selector: img.brand
custom-banner:
  - selector: .banner
    has_text: new release
`), 0600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "img.brand", c.MustGet("logo")[0].Selector)
	assert.Len(t, c.MustGet("logo"), 1)
	assert.Equal(t, "new release", c.MustGet("custom-banner")[0].HasText)
	assert.Equal(t, "h1", c.MustGet("main-heading")[0].Selector)
	assert.Contains(t, c.Names(), "custom-banner")
}

func TestLoadMissingFileUsesDefault(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Names(), c.Names())
}

func TestParseRejectsBadEntries(t *testing.T) {
	_, err := Parse([]byte("empty: []\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("bad:\n  - description: no selector\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("bad:\n  - selector: a\n    has_text: '('\n"))
	assert.Error(t, err)
}
