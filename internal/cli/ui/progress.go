package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aki/agentd/internal/core/execution"
)

// ProgressPrinter renders execution updates as they arrive.
type ProgressPrinter struct {
	mu sync.Mutex
	w  io.Writer
}

var _ execution.Sink = (*ProgressPrinter)(nil)

// NewProgressPrinter creates a printer writing to w, or Out when w is nil.
func NewProgressPrinter(w io.Writer) *ProgressPrinter {
	if w == nil {
		w = Out
	}
	return &ProgressPrinter{w: w}
}

// Send implements execution.Sink. Terminal updates are left to PrintResult.
func (p *ProgressPrinter) Send(u execution.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch u.Kind {
	case execution.UpdateLifecycle:
		if u.Text != "init" {
			fmt.Fprintf(p.w, "%s\n", DimStyle.Render("system: "+u.Text))
		}
	case execution.UpdateText:
		if text := strings.TrimSpace(u.Text); text != "" {
			fmt.Fprintf(p.w, "%s\n\n", AgentStyle.Render(text))
		}
	case execution.UpdateTool:
		fmt.Fprintf(p.w, "%s %s\n", ToolIcon, BoldStyle.Render(u.Text))
	case execution.UpdateToolResult:
		style := DimStyle
		if u.IsError {
			style = ErrorStyle
		}
		if u.Text != "" {
			fmt.Fprintf(p.w, "   └─ %s\n", style.Render(u.Text))
		}
	}
}
