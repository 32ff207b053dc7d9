package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/ignatij/flowmetrics/pkg/metrics"
	"github.com/ignatij/flowmetrics/pkg/models"
	"github.com/ignatij/flowmetrics/pkg/service"
	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

func renderWorkflows(w io.Writer, workflows []models.Workflow) {
	if len(workflows) == 0 {
		fmt.Fprintln(w, "No workflows found.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Name", "User", "Active", "Created", "Last sync"})
	for _, wf := range workflows {
		lastSync := "never"
		if wf.LastSyncedAt != nil {
			lastSync = wf.LastSyncedAt.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{wf.ID, wf.Name, wf.UserID, wf.Active, wf.CreatedAt.Format(time.RFC3339), lastSync})
	}
	t.Render()
}

func renderReport(w io.Writer, r models.MetricsReport) {
	fmt.Fprintf(w, "Workflow %s, %s to %s\n\n", r.WorkflowID, r.WindowStart, r.WindowEnd)

	ov := r.Overview
	t := newTable(w)
	t.SetTitle("Overview")
	t.AppendRows([]table.Row{
		{"Total executions", ov.TotalExecutions},
		{"Successful", ov.SuccessfulExecutions},
		{"Failed", ov.FailedExecutions},
		{"Running", ov.RunningExecutions},
		{"Canceled", ov.CanceledExecutions},
		{"Waiting", ov.WaitingExecutions},
		{"New", ov.NewExecutions},
		{"Crashed", ov.CrashedExecutions},
		{"Unknown", ov.UnknownExecutions},
		{"Success rate", percent(ov.SuccessRate)},
		{"Failure rate", percent(ov.FailureRate)},
		{"Average duration", metrics.FormatDuration(ov.AverageDuration)},
	})
	t.Render()
	fmt.Fprintln(w)

	t = newTable(w)
	t.SetTitle("Timeline")
	t.AppendHeader(table.Row{"Date", "Executions", "Successful", "Success rate"})
	for _, b := range r.Timeline {
		t.AppendRow(table.Row{b.Date, b.Executions, b.Successful, percent(b.SuccessRate)})
	}
	t.Render()
	fmt.Fprintln(w)

	p := r.Performance
	t = newTable(w)
	t.SetTitle("Performance")
	t.AppendRows([]table.Row{
		{"Timed executions", p.TimedExecutions},
		{"Fastest", metrics.FormatDuration(float64(p.Fastest))},
		{"Slowest", metrics.FormatDuration(float64(p.Slowest))},
		{"Median", metrics.FormatDuration(p.Median)},
		{"Average", metrics.FormatDuration(p.Average)},
		{"Total", metrics.FormatDuration(float64(p.Total))},
	})
	t.Render()
}

func renderSnapshots(w io.Writer, snaps []models.Snapshot) {
	if len(snaps) == 0 {
		fmt.Fprintln(w, "No snapshots found.")
		return
	}
	t := newTable(w)
	t.AppendHeader(table.Row{"ID", "Taken", "Window", "Executions", "Success rate", "Avg duration"})
	for _, s := range snaps {
		t.AppendRow(table.Row{
			s.ID,
			s.CreatedAt.Format(time.RFC3339),
			s.Report.WindowStart + ".." + s.Report.WindowEnd,
			s.Report.Overview.TotalExecutions,
			percent(s.Report.Overview.SuccessRate),
			metrics.FormatDuration(s.Report.Overview.AverageDuration),
		})
	}
	t.Render()
}

func renderSyncResults(w io.Writer, results []service.SyncResult, errs map[string]error) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Workflow", "Since", "Fetched", "Saved", "Error"})
	for _, r := range results {
		msg := ""
		if err, ok := errs[r.WorkflowID]; ok {
			msg = err.Error()
		}
		since := ""
		if !r.Since.IsZero() {
			since = r.Since.Format(time.RFC3339)
		}
		t.AppendRow(table.Row{r.WorkflowID, since, r.Fetched, r.Saved, msg})
	}
	// errors for workflows without a result row, e.g. cancelled runs
	var missing []string
	for id := range errs {
		found := false
		for _, r := range results {
			if r.WorkflowID == id {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	for _, id := range missing {
		t.AppendRow(table.Row{id, "", 0, 0, errs[id].Error()})
	}
	t.Render()
}
