package types

import (
	"time"

	"github.com/ibeckermayer/docprobe/internal/capture"
	"github.com/ibeckermayer/docprobe/internal/linkprobe"
	"github.com/ibeckermayer/docprobe/internal/soft"
)

// Status is the terminal state of a scenario.
type Status string

const (
	StatusPass Status = "pass"
	StatusFail Status = "fail"
	StatusSkip Status = "skip"
)

// FailureKind says why a failed scenario failed.
type FailureKind string

const (
	KindNone      FailureKind = ""
	KindAssertion FailureKind = "assertion"
	KindTimeout   FailureKind = "timeout"
	KindInfra     FailureKind = "infra"
	KindError     FailureKind = "error"
)

// ScenarioResult is the outcome of one scenario on one device
type ScenarioResult struct {
	Scenario string        `json:"scenario"`
	Device   string        `json:"device"`
	Status   Status        `json:"status"`
	Kind     FailureKind   `json:"kind,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`

	Checks []soft.Entry       `json:"checks,omitempty"`
	Errors capture.Entries    `json:"errors,omitempty"`
	Links  []linkprobe.Result `json:"links,omitempty"`
}

// Run is one execution of a set of scenarios against a site
type Run struct {
	ID         int64            `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	BaseURL    string           `json:"base_url"`
	Driver     string           `json:"driver"`
	Results    []ScenarioResult `json:"results"`
}

// Counts tallies results by status.
func (r *Run) Counts() (passed, failed, skipped int) {
	for _, res := range r.Results {
		switch res.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusSkip:
			skipped++
		}
	}
	return passed, failed, skipped
}

// Failed reports whether any scenario failed.
func (r *Run) Failed() bool {
	_, failed, _ := r.Counts()
	return failed > 0
}

func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// CriticalErrors returns the critical observed errors of all scenarios.
func (r *Run) CriticalErrors() capture.Entries {
	var out capture.Entries
	for _, res := range r.Results {
		out = append(out, res.Errors.Critical()...)
	}
	return out
}

// RunSummary is a run without per-scenario detail, as listed in history.
type RunSummary struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	BaseURL    string    `json:"base_url"`
	Driver     string    `json:"driver"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
}

// Summary collapses r into a RunSummary.
func (r *Run) Summary() RunSummary {
	p, f, s := r.Counts()
	return RunSummary{
		ID:         r.ID,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		BaseURL:    r.BaseURL,
		Driver:     r.Driver,
		Passed:     p,
		Failed:     f,
		Skipped:    s,
	}
}
