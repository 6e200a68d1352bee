package report

import (
	"io"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ibeckermayer/docprobe/internal/types"
)

// Table prints one row per scenario result with a totals footer. Failed
// rows are red and skipped rows yellow when color is set.
func Table(w io.Writer, run *types.Run, color bool) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Scenario", "Device", "Status", "Duration", "Reason"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)

	for _, r := range run.Results {
		row := []string{
			r.Scenario,
			r.Device,
			string(r.Status),
			r.Duration.Round(time.Millisecond).String(),
			truncate(r.Reason, 80),
		}
		switch {
		case color && r.Status == types.StatusFail:
			table.Rich(row, rowColors(len(row), tablewriter.FgRedColor))
		case color && r.Status == types.StatusSkip:
			table.Rich(row, rowColors(len(row), tablewriter.FgYellowColor))
		default:
			table.Append(row)
		}
	}

	passed, failed, skipped := run.Counts()
	table.SetFooter([]string{
		"total",
		"",
		strconv.Itoa(passed) + "/" + strconv.Itoa(failed) + "/" + strconv.Itoa(skipped),
		run.Duration().Round(time.Millisecond).String(),
		"",
	})
	table.SetBorder(false)
	table.Render()
}

// History prints run summaries, newest first as given.
func History(w io.Writer, runs []types.RunSummary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"ID", "Started", "Target", "Driver", "Passed", "Failed", "Skipped"})
	for _, r := range runs {
		table.Append([]string{
			strconv.FormatInt(r.ID, 10),
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.BaseURL,
			r.Driver,
			strconv.Itoa(r.Passed),
			strconv.Itoa(r.Failed),
			strconv.Itoa(r.Skipped),
		})
	}
	table.SetColumnAlignment([]int{
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT,
		tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT, tablewriter.ALIGN_RIGHT,
	})
	table.SetBorder(false)
	table.Render()
}

func rowColors(n, fg int) []tablewriter.Colors {
	colors := make([]tablewriter.Colors, n)
	for i := range colors {
		colors[i] = tablewriter.Colors{tablewriter.Normal, fg}
	}
	return colors
}
