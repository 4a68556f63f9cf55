// Package report renders healing reports for the terminal.
package report

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"mend/internal/store"
	"mend/internal/types"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	healthyStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	stuckStyle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214"))
	exhaustedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))

	artifactStyle = lipgloss.NewStyle().Bold(true)
	detailStyle   = lipgloss.NewStyle().PaddingLeft(2)
)

func statusBadge(s types.FinalStatus) string {
	switch s {
	case types.StatusHealthy:
		return healthyStyle.Render("HEALTHY")
	case types.StatusStuck:
		return stuckStyle.Render("STUCK")
	case types.StatusExhausted:
		return exhaustedStyle.Render("EXHAUSTED")
	default:
		return dimStyle.Render(strings.ToUpper(string(s)))
	}
}

// Render formats a full run report.
func Render(r types.HealingReport) string {
	var sb strings.Builder

	verdict := healthyStyle.Render("all artifacts healthy")
	if !r.OverallSuccess {
		verdict = exhaustedStyle.Render("unhealed artifacts remain")
	}
	sb.WriteString(titleStyle.Render("mend run "+r.RunID) + "\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("%s, %d artifacts, %d rounds",
		r.Finished.Sub(r.Started).Round(1e6), len(r.Results), r.RoundsRun)) + "\n")
	sb.WriteString(verdict + "\n\n")

	for _, res := range r.Results {
		sb.WriteString(renderResult(res))
	}
	return sb.String()
}

func renderResult(res types.HealingResult) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s  %s", statusBadge(res.FinalStatus), artifactStyle.Render(res.ArtifactID)))
	if res.InfraFailure {
		sb.WriteString("  " + exhaustedStyle.Render("(gate infrastructure failure)"))
	}
	sb.WriteString(dimStyle.Render(fmt.Sprintf("  %d rounds", res.RoundsTaken)) + "\n")

	for _, a := range res.Attempts {
		sb.WriteString(detailStyle.Render(fmt.Sprintf(
			"round %d: %d fixes, v%d -> v%d, %s",
			a.Round, len(a.FixesApplied), a.VersionBefore, a.VersionAfter, a.Classification)) + "\n")
	}
	for _, d := range res.RemainingDiagnostics {
		sb.WriteString(detailStyle.Render(fmt.Sprintf("remaining: %s %s", d.Kind, d.Message)) + "\n")
	}
	for _, u := range res.Unresolved {
		sb.WriteString(detailStyle.Render(fmt.Sprintf(
			"unresolved: %s at %s (confidence %.2f below floor)", u.Kind, u.Location, u.Confidence)) + "\n")
	}
	sb.WriteString("\n")
	return sb.String()
}

// RenderList formats run summaries for `mend report --list`.
func RenderList(runs []store.RunSummary) string {
	if len(runs) == 0 {
		return dimStyle.Render("no runs recorded") + "\n"
	}
	var sb strings.Builder
	for _, r := range runs {
		badge := healthyStyle.Render("ok")
		if !r.OverallSuccess {
			badge = exhaustedStyle.Render("failed")
		}
		sb.WriteString(fmt.Sprintf("%s  %s  %s  %s\n",
			r.Started.Format("2006-01-02 15:04:05"),
			artifactStyle.Render(r.RunID),
			dimStyle.Render(fmt.Sprintf("%d artifacts", r.Artifacts)),
			badge))
	}
	return sb.String()
}
