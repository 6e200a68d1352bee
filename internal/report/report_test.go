package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibeckermayer/docprobe/internal/capture"
	"github.com/ibeckermayer/docprobe/internal/linkprobe"
	"github.com/ibeckermayer/docprobe/internal/soft"
	"github.com/ibeckermayer/docprobe/internal/types"
)

func failingRun() *types.Run {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return &types.Run{
		ID:         7,
		StartedAt:  start,
		FinishedAt: start.Add(30 * time.Second),
		BaseURL:    "https://playwright.dev",
		Driver:     "chromedp",
		Results: []types.ScenarioResult{
			{Scenario: "homepage", Device: "Desktop", Status: types.StatusPass, Duration: time.Second},
			{Scenario: "search", Device: "Desktop", Status: types.StatusSkip, Reason: "search-input not found"},
			{
				Scenario: "external-links",
				Device:   "Desktop",
				Status:   types.StatusFail,
				Kind:     types.KindAssertion,
				Reason:   "<script>alert(1)</script>",
				Checks:   []soft.Entry{{Name: "https://example.com/gone", Outcome: soft.Fail, Reason: "status 404"}},
				Errors: capture.Entries{
					{Source: capture.Console, Message: "Uncaught TypeError", Class: capture.Critical},
					{Source: capture.Console, Message: "ResizeObserver loop limit exceeded", Class: capture.Ignorable},
				},
				Links: []linkprobe.Result{
					{URL: "https://example.com/gone", Outcome: linkprobe.Status, Status: 404},
					{URL: "https://example.com/ok", Outcome: linkprobe.Status, Status: 200},
				},
			},
		},
	}
}

func TestBuild(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	r, err := b.Build(failingRun())
	require.NoError(t, err)
	assert.True(t, r.Failed)
	assert.EqualValues(t, 7, r.RunID)
	assert.Contains(t, r.Subject, "1 failed")

	assert.Contains(t, r.HTMLBody, "1 passed")
	assert.Contains(t, r.HTMLBody, "Uncaught TypeError")
	assert.NotContains(t, r.HTMLBody, "ResizeObserver")
	assert.NotContains(t, r.HTMLBody, "<script>alert(1)</script>")
	assert.Contains(t, r.HTMLBody, "https://example.com/gone -&gt; 404")

	// failures come first
	assert.Less(t, strings.Index(r.PlainBody, "external-links"), strings.Index(r.PlainBody, "search"))
	assert.Less(t, strings.Index(r.PlainBody, "search"), strings.Index(r.PlainBody, "homepage"))
	assert.Contains(t, r.PlainBody, "check https://example.com/gone: status 404")
	assert.Contains(t, r.PlainBody, "broken: https://example.com/gone -> 404")
	assert.NotContains(t, r.PlainBody, "example.com/ok")
}

func TestBuildPassingSubject(t *testing.T) {
	b, err := New()
	require.NoError(t, err)

	run := failingRun()
	run.Results = run.Results[:1]
	r, err := b.Build(run)
	require.NoError(t, err)
	assert.False(t, r.Failed)
	assert.Contains(t, r.Subject, "passed")
}

func TestBuildEmpty(t *testing.T) {
	b, err := New()
	require.NoError(t, err)
	_, err = b.Build(&types.Run{})
	assert.Error(t, err)
}

func TestWriteAndLatest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")

	_, err := Latest(dir)
	require.ErrorIs(t, err, ErrNoReport)

	older := &Report{HTMLBody: "<p>old</p>", PlainBody: "old", CreatedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	newer := &Report{HTMLBody: "<p>new</p>", PlainBody: "new", CreatedAt: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)}

	newerPath, err := Write(dir, newer)
	require.NoError(t, err)
	_, err = Write(dir, older)
	require.NoError(t, err)

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, newerPath, latest)

	body, err := os.ReadFile(latest)
	require.NoError(t, err)
	assert.Equal(t, "<p>new</p>", string(body))

	text, err := os.ReadFile(strings.TrimSuffix(latest, ".html") + ".txt")
	require.NoError(t, err)
	assert.Equal(t, "new", string(text))
}

func TestTable(t *testing.T) {
	var buf bytes.Buffer
	Table(&buf, failingRun(), false)
	out := buf.String()

	assert.Contains(t, out, "Scenario")
	assert.Contains(t, out, "external-links")
	assert.Contains(t, out, "1/1/1")
	assert.NotContains(t, out, "\x1b[")

	buf.Reset()
	Table(&buf, failingRun(), true)
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestHistory(t *testing.T) {
	var buf bytes.Buffer
	History(&buf, []types.RunSummary{
		{ID: 12, StartedAt: time.Now(), BaseURL: "https://playwright.dev", Driver: "playwright", Passed: 19, Failed: 1},
	})
	assert.Contains(t, buf.String(), "12")
	assert.Contains(t, buf.String(), "playwright")
}
