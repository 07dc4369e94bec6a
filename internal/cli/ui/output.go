package ui

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aki/agentd/internal/core/execution"
	"github.com/aki/agentd/internal/core/session"
	"github.com/aki/agentd/internal/core/workspace"
)

var (
	// Out receives regular output
	Out io.Writer = os.Stdout
	// ErrOut receives error output
	ErrOut io.Writer = os.Stderr
)

// Print functions for consistent output

func Error(format string, args ...interface{}) {
	fmt.Fprintf(ErrOut, "%s %s\n", ErrorIcon, ErrorStyle.Render(fmt.Sprintf(format, args...)))
}

func Success(format string, args ...interface{}) {
	fmt.Fprintf(Out, "%s %s\n", SuccessIcon, SuccessStyle.Render(fmt.Sprintf(format, args...)))
}

func Info(format string, args ...interface{}) {
	fmt.Fprintf(Out, "%s %s\n", InfoIcon, InfoStyle.Render(fmt.Sprintf(format, args...)))
}

func Warning(format string, args ...interface{}) {
	fmt.Fprintf(Out, "%s %s\n", WarningIcon, WarningStyle.Render(fmt.Sprintf(format, args...)))
}

// FormatSize formats a byte count, e.g. "1.5 MiB"
func FormatSize(bytes int64) string {
	if bytes < 0 {
		bytes = 0
	}
	return humanize.IBytes(uint64(bytes))
}

// FormatDuration formats a duration into a short human-readable string
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "< 1m"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// FormatTime formats a time relative to now
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

// FormatCost formats a USD amount
func FormatCost(usd float64) string {
	return fmt.Sprintf("$%.4f", usd)
}

// PrintWorkspaceList displays workspace directories as a table.
// live reports whether a directory belongs to a running session.
func PrintWorkspaceList(entries []workspace.Entry, live func(id string) bool) {
	if len(entries) == 0 {
		Info("No workspaces found")
		return
	}

	tbl := NewTable("ID", "OWNER", "SIZE", "FILES", "TASKS", "COST", "LAST ACTIVE", "STATE")
	for _, e := range entries {
		owner, tasks, cost := "-", "-", "-"
		if e.Manifest != nil {
			owner = e.Manifest.OwnerKey
			tasks = fmt.Sprintf("%d", e.Manifest.TaskCount)
			cost = FormatCost(e.Manifest.CumulativeCostUSD)
		}
		state := DimStyle.Render("orphaned")
		if live != nil && live(e.ID) {
			state = SuccessStyle.Render("live")
		}
		tbl.AddRow(e.ID, owner, FormatSize(e.Usage.Bytes), e.Usage.Files, tasks, cost, FormatTime(e.LastActive()), state)
	}

	PrintSectionHeader(WorkspaceIcon, "Workspaces", len(entries))
	tbl.Print()
	fmt.Fprintln(Out)
}

// PrintStatus displays one session's status
func PrintStatus(st session.Status) {
	levelStyle := SuccessStyle
	switch st.Level() {
	case session.UsageWarning:
		levelStyle = WarningStyle
	case session.UsageCritical:
		levelStyle = ErrorStyle
	}

	OutputLine("%s %s %s", SessionIcon, BoldStyle.Render("Session"), DimStyle.Render(st.ID))
	OutputLine("   %s %s", DimStyle.Render("Owner:"), st.OwnerKey)
	OutputLine("   %s %s", DimStyle.Render("Workspace:"), st.WorkspacePath)
	if st.Quota > 0 {
		OutputLine("   %s %s / %s (%.1f%%) %s", DimStyle.Render("Usage:"),
			FormatSize(st.WorkspaceSize), FormatSize(st.Quota), st.UsagePercent(), levelStyle.Render(string(st.Level())))
	} else {
		OutputLine("   %s %s", DimStyle.Render("Usage:"), FormatSize(st.WorkspaceSize))
	}
	OutputLine("   %s %d", DimStyle.Render("Files:"), st.FileCount)
	OutputLine("   %s %d", DimStyle.Render("Tasks:"), st.TaskCount)
	OutputLine("   %s %s", DimStyle.Render("Cost:"), FormatCost(st.CumulativeCost))
	OutputLine("   %s %s", DimStyle.Render("Created:"), FormatTime(st.CreatedAt))
	OutputLine("   %s %s", DimStyle.Render("Last active:"), FormatTime(st.LastActiveAt))
	if st.ExpiresIn > 0 {
		OutputLine("   %s in %s", DimStyle.Render("Expires:"), FormatDuration(st.ExpiresIn))
	}
	OutputLine("   %s %t", DimStyle.Render("Connected:"), st.Connected)
}

// PrintResult displays execution statistics
func PrintResult(res execution.Result) {
	if res.OK() {
		Success("Execution completed")
	} else {
		Error("Execution %s: %v", res.Outcome, res.Err)
	}
	if !res.Dispatched {
		return
	}

	OutputLine("   %s %d", DimStyle.Render("Turns:"), res.Turns)
	OutputLine("   %s %.2fs", DimStyle.Render("Duration:"), res.Duration.Seconds())
	OutputLine("   %s %.2fs", DimStyle.Render("API time:"), res.APIDuration.Seconds())
	OutputLine("   %s %s", DimStyle.Render("Cost:"), FormatCost(res.Cost))
	OutputLine("   %s %d", DimStyle.Render("Tools used:"), res.ToolCalls())
	for _, name := range res.ToolNames() {
		OutputLine("     - %s: %d", name, res.Tools[name])
	}
}
