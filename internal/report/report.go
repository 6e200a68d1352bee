// Package report renders run results as HTML and plain text documents and
// as terminal tables.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ibeckermayer/docprobe/internal/soft"
	"github.com/ibeckermayer/docprobe/internal/types"
)

// ErrNoReport is returned by Latest when the directory holds no report.
var ErrNoReport = errors.New("no report found")

const fileTimeFormat = "2006-01-02T15-04-05.000"

// Builder creates reports from finished runs
type Builder struct {
	template *template.Template
}

// New creates a new report builder
func New() (*Builder, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"statusClass": func(s types.Status) string { return string(s) },
	}).Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	return &Builder{template: tmpl}, nil
}

// Report is a rendered run report
type Report struct {
	RunID     int64
	Subject   string
	HTMLBody  string
	PlainBody string
	Failed    bool
	CreatedAt time.Time
}

// ReportData is the template data structure
type ReportData struct {
	Title     string
	Date      string
	BaseURL   string
	Driver    string
	Duration  string
	Stats     StatsData
	Scenarios []ScenarioData
}

type StatsData struct {
	Passed  int
	Failed  int
	Skipped int
	Total   int
}

// ScenarioData is one row of the report
type ScenarioData struct {
	Name     string
	Device   string
	Status   types.Status
	Kind     types.FailureKind
	Reason   string
	Duration string
	Checks   []soft.Entry
	Critical []string
	Broken   []string
}

// Build renders run. Failed scenarios are listed first, then skips, then
// passes, each group in run order.
func (b *Builder) Build(run *types.Run) (*Report, error) {
	if run == nil || len(run.Results) == 0 {
		return nil, fmt.Errorf("no results to report")
	}

	passed, failed, skipped := run.Counts()
	now := time.Now()
	data := ReportData{
		Title:    fmt.Sprintf("docprobe run #%d", run.ID),
		Date:     run.StartedAt.Local().Format("Monday, January 2 15:04"),
		BaseURL:  run.BaseURL,
		Driver:   run.Driver,
		Duration: run.Duration().Round(time.Millisecond).String(),
		Stats: StatsData{
			Passed:  passed,
			Failed:  failed,
			Skipped: skipped,
			Total:   len(run.Results),
		},
		Scenarios: make([]ScenarioData, len(run.Results)),
	}

	for i, r := range run.Results {
		sd := ScenarioData{
			Name:     r.Scenario,
			Device:   r.Device,
			Status:   r.Status,
			Kind:     r.Kind,
			Reason:   truncate(r.Reason, 500),
			Duration: r.Duration.Round(time.Millisecond).String(),
			Checks:   r.Checks,
			Critical: r.Errors.Critical().Messages(),
		}
		for _, l := range r.Links {
			if l.Broken() {
				sd.Broken = append(sd.Broken, l.String())
			}
		}
		data.Scenarios[i] = sd
	}
	sort.SliceStable(data.Scenarios, func(i, j int) bool {
		return statusRank(data.Scenarios[i].Status) < statusRank(data.Scenarios[j].Status)
	})

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	verdict := "passed"
	if failed > 0 {
		verdict = fmt.Sprintf("%d failed", failed)
	}
	return &Report{
		RunID:     run.ID,
		Subject:   fmt.Sprintf("docprobe: %s %s (%s)", run.BaseURL, verdict, run.StartedAt.Local().Format("Jan 2 15:04")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		Failed:    failed > 0,
		CreatedAt: now,
	}, nil
}

// Write stores r as <dir>/<timestamp>.html with a .txt sibling and returns
// the HTML path.
func Write(dir string, r *Report) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	base := filepath.Join(dir, r.CreatedAt.UTC().Format(fileTimeFormat))
	if err := os.WriteFile(base+".html", []byte(r.HTMLBody), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.WriteFile(base+".txt", []byte(r.PlainBody), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return base + ".html", nil
}

// Latest returns the path of the newest HTML report in dir.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoReport, dir)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func statusRank(s types.Status) int {
	switch s {
	case types.StatusFail:
		return 0
	case types.StatusSkip:
		return 1
	default:
		return 2
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func buildPlainText(data ReportData) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s\n%s\n%s (%s, %s)\n\n", data.Title, data.Date, data.BaseURL, data.Driver, data.Duration)
	fmt.Fprintf(&buf, "%d passed, %d failed, %d skipped\n\n", data.Stats.Passed, data.Stats.Failed, data.Stats.Skipped)

	for _, s := range data.Scenarios {
		fmt.Fprintf(&buf, "[%s] %s (%s, %s)\n", strings.ToUpper(string(s.Status)), s.Name, s.Device, s.Duration)
		if s.Reason != "" {
			fmt.Fprintf(&buf, "    %s\n", s.Reason)
		}
		for _, c := range s.Checks {
			if c.Outcome == soft.Fail {
				fmt.Fprintf(&buf, "    check %s: %s\n", c.Name, c.Reason)
			}
		}
		for _, m := range s.Critical {
			fmt.Fprintf(&buf, "    error: %s\n", m)
		}
		for _, l := range s.Broken {
			fmt.Fprintf(&buf, "    broken: %s\n", l)
		}
	}
	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 760px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #2d4552; margin-bottom: 5px; }
        .meta { color: #666; margin-bottom: 20px; }
        .stats span { margin-right: 12px; font-weight: bold; }
        .scenario { border-bottom: 1px solid #eee; padding: 12px 0; }
        .scenario:last-child { border-bottom: none; }
        .badge { padding: 2px 8px; border-radius: 12px; font-size: 12px; text-transform: uppercase; margin-right: 6px; }
        .pass { background: #e6f4ea; color: #1e7e34; }
        .fail { background: #fdecea; color: #c62828; }
        .skip { background: #fff8e1; color: #8d6e00; }
        .name { font-weight: bold; color: #333; }
        .detail { color: #666; font-size: 13px; }
        .reason { margin: 8px 0; font-family: monospace; white-space: pre-wrap; }
        ul { margin: 4px 0; padding-left: 20px; font-size: 13px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="meta">{{.Date}} · <a href="{{.BaseURL}}">{{.BaseURL}}</a> · {{.Driver}} · {{.Duration}}</div>
        <div class="stats">
            <span class="pass">{{.Stats.Passed}} passed</span>
            <span class="fail">{{.Stats.Failed}} failed</span>
            <span class="skip">{{.Stats.Skipped}} skipped</span>
        </div>

        {{range .Scenarios}}
        <div class="scenario">
            <span class="badge {{statusClass .Status}}">{{.Status}}</span>
            <span class="name">{{.Name}}</span>
            <span class="detail">{{.Device}} · {{.Duration}}{{if .Kind}} · {{.Kind}}{{end}}</span>
            {{if .Reason}}<div class="reason">{{.Reason}}</div>{{end}}
            {{if .Checks}}
            <ul>
                {{range .Checks}}<li class="{{.Outcome}}">{{.Name}}{{if .Reason}}: {{.Reason}}{{end}}</li>{{end}}
            </ul>
            {{end}}
            {{if .Critical}}
            <div class="detail">Critical errors</div>
            <ul>{{range .Critical}}<li>{{.}}</li>{{end}}</ul>
            {{end}}
            {{if .Broken}}
            <div class="detail">Broken links</div>
            <ul>{{range .Broken}}<li>{{.}}</li>{{end}}</ul>
            {{end}}
        </div>
        {{end}}

        <div class="footer">
            {{.Stats.Total}} scenarios · Generated by docprobe
        </div>
    </div>
</body>
</html>`
