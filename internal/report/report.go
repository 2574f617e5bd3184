// Package report renders runs and compatibility checks for the terminal.
package report

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	appI18n "github.com/pavelanni/exambench/internal/i18n"
	"github.com/pavelanni/exambench/internal/model"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// maxNotes bounds the notes column so tables stay readable.
const maxNotes = 60

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// Run writes the summary of a run. With verbose set, every attempt is listed.
func Run(ctx context.Context, w io.Writer, run *model.BenchmarkRun, verbose bool) error {
	tr := appI18n.T
	m := run.Metrics

	var b strings.Builder
	b.WriteString(titleStyle.Render(appI18n.Td(ctx, "RunTitle", map[string]any{"RunID": run.ID})))
	b.WriteString("\n")

	summary := newTable(tr(ctx, "Summary"), "").
		Row(tr(ctx, "Profile"), run.ProfileName+" ("+run.ProfileID+")").
		Row(tr(ctx, "Model"), run.Model).
		Row(tr(ctx, "Status"), status(ctx, run.Status)).
		Row(tr(ctx, "Started"), run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		summary.Row(tr(ctx, "Duration"), run.CompletedAt.Sub(run.StartedAt).Round(time.Millisecond).String())
	}
	summary.
		Row(tr(ctx, "Questions"), strconv.Itoa(m.Total)).
		Row(tr(ctx, "Passed"), strconv.Itoa(m.Passed)).
		Row(tr(ctx, "Failed"), strconv.Itoa(m.Failed)).
		Row(tr(ctx, "Errored"), strconv.Itoa(m.Errored)).
		Row(tr(ctx, "Accuracy"), percent(m.Accuracy)).
		Row(tr(ctx, "AvgLatency"), fmt.Sprintf("%.0f ms", m.AverageLatencyMs)).
		Row(tr(ctx, "Tokens"), strconv.Itoa(m.TotalTokens)).
		Row(tr(ctx, "AvgConfidence"), fmt.Sprintf("%.2f", m.AverageConfidence))
	b.WriteString(summary.String())
	b.WriteString("\n")

	if topo := topologyTable(ctx, m.Topology); topo != nil {
		b.WriteString(titleStyle.Render(tr(ctx, "Topology")))
		b.WriteString("\n")
		b.WriteString(topo.String())
		b.WriteString("\n")
	}

	if verbose && len(run.Attempts) > 0 {
		b.WriteString(attemptsTable(ctx, run.Attempts).String())
		b.WriteString("\n")
	}
	if run.Error != "" {
		b.WriteString(errStyle.Render(run.Error))
		b.WriteString("\n")
	}
	failures := m.Failed + m.Errored
	if failures > 0 {
		b.WriteString(mutedStyle.Render(appI18n.Tp(ctx, "Failures", failures)))
		b.WriteString("\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func topologyTable(ctx context.Context, tm model.TopologyMetrics) *table.Table {
	levels := []struct {
		label string
		stats model.LevelStats
	}{
		{"LevelSubject", tm.Subject},
		{"LevelTopic", tm.Topic},
		{"LevelSubtopic", tm.Subtopic},
	}
	var tbl *table.Table
	for _, l := range levels {
		if l.stats.Comparisons == 0 {
			continue
		}
		if tbl == nil {
			tbl = newTable(appI18n.T(ctx, "Level"), appI18n.T(ctx, "Comparisons"),
				appI18n.T(ctx, "Matches"), appI18n.T(ctx, "Accuracy"))
		}
		tbl.Row(appI18n.T(ctx, l.label), strconv.Itoa(l.stats.Comparisons),
			strconv.Itoa(l.stats.Matches), percent(l.stats.Accuracy))
	}
	return tbl
}

func attemptsTable(ctx context.Context, attempts []model.Attempt) *table.Table {
	tbl := newTable(appI18n.T(ctx, "Question"), appI18n.T(ctx, "Result"), appI18n.T(ctx, "Expected"),
		appI18n.T(ctx, "Received"), appI18n.T(ctx, "Latency"), appI18n.T(ctx, "Notes"))
	for _, a := range attempts {
		var expected, received, notes string
		if a.Evaluation != nil {
			expected, received, notes = a.Evaluation.Expected, a.Evaluation.Received, a.Evaluation.Notes
		}
		result := okStyle.Render(appI18n.T(ctx, "ResultPass"))
		switch {
		case a.Error != "":
			result = errStyle.Render(appI18n.T(ctx, "ResultError"))
			notes = a.Error
		case !a.Passed():
			result = errStyle.Render(appI18n.T(ctx, "ResultFail"))
		}
		tbl.Row(a.QuestionID, result, expected, received,
			strconv.FormatInt(a.LatencyMs, 10)+" ms", truncate(notes, maxNotes))
	}
	return tbl
}

// Runs writes one line per stored run.
func Runs(ctx context.Context, w io.Writer, runs []model.BenchmarkRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, mutedStyle.Render(appI18n.T(ctx, "NoRuns")))
		return err
	}
	tbl := newTable("ID", appI18n.T(ctx, "Profile"), appI18n.T(ctx, "Model"), appI18n.T(ctx, "Status"),
		appI18n.T(ctx, "Started"), appI18n.T(ctx, "Questions"), appI18n.T(ctx, "Accuracy"))
	for _, r := range runs {
		tbl.Row(r.ID, r.ProfileID, r.Model, status(ctx, r.Status),
			r.StartedAt.Local().Format(time.DateTime), strconv.Itoa(r.Metrics.Total), percent(r.Metrics.Accuracy))
	}
	_, err := fmt.Fprintln(w, tbl.String())
	return err
}

// Check writes a diagnostics or compatibility report.
func Check(ctx context.Context, w io.Writer, rep model.CheckReport) error {
	titleID := "CheckTitle"
	if rep.Kind == model.ReportDiagnostics {
		titleID = "DiagnosticsTitle"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(appI18n.Td(ctx, titleID, map[string]any{"Model": rep.Model})))
	b.WriteString("\n")

	tbl := newTable(appI18n.T(ctx, "Check"), appI18n.T(ctx, "Status"), appI18n.T(ctx, "Latency"), appI18n.T(ctx, "Summary"))
	for _, c := range rep.Checks {
		summary := c.Summary
		if len(c.Details) > 0 {
			summary += "\n" + mutedStyle.Render(strings.Join(c.Details, "\n"))
		}
		tbl.Row(checkLabel(ctx, c.Name), checkStatus(ctx, c.Status),
			strconv.FormatInt(c.LatencyMs, 10)+" ms", summary)
	}
	b.WriteString(tbl.String())
	b.WriteString("\n")

	if rep.Compatible {
		b.WriteString(okStyle.Render(appI18n.T(ctx, "Compatible")))
	} else {
		b.WriteString(errStyle.Render(appI18n.Td(ctx, "Incompatible",
			map[string]any{"Check": checkLabel(ctx, rep.FailedAt)})))
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func checkLabel(ctx context.Context, name model.CheckName) string {
	switch name {
	case model.CheckConnectivity:
		return appI18n.T(ctx, "CheckConnectivity")
	case model.CheckJSONMode:
		return appI18n.T(ctx, "CheckJSONMode")
	case model.CheckProtocol:
		return appI18n.T(ctx, "CheckProtocol")
	case model.CheckVision:
		return appI18n.T(ctx, "CheckVision")
	}
	return string(name)
}

func checkStatus(ctx context.Context, s model.CheckStatus) string {
	switch s {
	case model.CheckPassed:
		return okStyle.Render(appI18n.T(ctx, "CheckPassed"))
	case model.CheckFailed:
		return errStyle.Render(appI18n.T(ctx, "CheckFailed"))
	case model.CheckSkipped:
		return mutedStyle.Render(appI18n.T(ctx, "CheckSkipped"))
	}
	return string(s)
}

func status(ctx context.Context, s model.RunStatus) string {
	switch s {
	case model.RunRunning:
		return appI18n.T(ctx, "StatusRunning")
	case model.RunCompleted:
		return okStyle.Render(appI18n.T(ctx, "StatusCompleted"))
	case model.RunCancelled:
		return mutedStyle.Render(appI18n.T(ctx, "StatusCancelled"))
	case model.RunFailed:
		return errStyle.Render(appI18n.T(ctx, "StatusFailed"))
	}
	return string(s)
}

func percent(v float64) string {
	return strconv.FormatFloat(v*100, 'f', 1, 64) + "%"
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
