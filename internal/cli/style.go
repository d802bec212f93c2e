package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/renholm/stagehand/internal/engine"
	"github.com/renholm/stagehand/pkg/schema"
)

var (
	styleTitle   = lipgloss.NewStyle().Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleFaint   = lipgloss.NewStyle().Faint(true)
)

func statusStyle(status schema.RunStatus) lipgloss.Style {
	switch status {
	case schema.RunStatusCompleted:
		return styleSuccess
	case schema.RunStatusAborted:
		return styleWarn
	case schema.RunStatusFailed:
		return styleFail
	default:
		return styleFaint
	}
}

// renderRunSummary renders the terminal summary of a run: status line plus
// one row per executed action.
func renderRunSummary(result *engine.RunResult) string {
	var b strings.Builder

	b.WriteString(styleTitle.Render(result.Workflow))
	b.WriteString("  ")
	b.WriteString(statusStyle(result.Status).Render(string(result.Status)))
	b.WriteString("  ")
	b.WriteString(styleFaint.Render(result.RunID))
	b.WriteByte('\n')

	for _, entry := range result.Log {
		mark := styleSuccess.Render("ok")
		if entry.Error != nil {
			mark = styleFail.Render("failed")
		}
		b.WriteString(fmt.Sprintf("  %-20s %-16s %-8s %s\n",
			entry.State,
			string(entry.Kind),
			mark,
			styleFaint.Render(entry.EndedAt.Sub(entry.StartedAt).Round(time.Millisecond).String()),
		))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderError(chain string) string {
	return styleFail.Render("error: ") + chain
}

// renderValidation renders a validation result with per-issue severity.
func renderValidation(workflow string, result *schema.ValidationResult) string {
	var b strings.Builder
	b.WriteString(styleTitle.Render(workflow))
	b.WriteString("  ")
	if result.Valid() {
		b.WriteString(styleSuccess.Render("valid"))
	} else {
		b.WriteString(styleFail.Render("invalid"))
	}
	b.WriteByte('\n')

	for _, issue := range result.Errors {
		b.WriteString("  " + styleFail.Render("error") + "   " + issueText(issue) + "\n")
	}
	for _, issue := range result.Warnings {
		b.WriteString("  " + styleWarn.Render("warning") + " " + issueText(issue) + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func issueText(issue schema.ValidationIssue) string {
	if issue.State != "" {
		return fmt.Sprintf("%s: %s", issue.State, issue.Message)
	}
	return issue.Message
}
