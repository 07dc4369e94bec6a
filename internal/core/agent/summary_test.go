package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	longCmd := strings.Repeat("a", 120)

	tests := []struct {
		name string
		inv  ToolInvocation
		want string
	}{
		{"bash", ToolInvocation{Name: "Bash", Input: map[string]any{"command": "ls -la"}}, "Bash(ls -la)"},
		{"bash truncated", ToolInvocation{Name: "Bash", Input: map[string]any{"command": longCmd}}, "Bash(" + strings.Repeat("a", 100) + "...)"},
		{"read", ToolInvocation{Name: "Read", Input: map[string]any{"file_path": "/w/main.go"}}, "Read(/w/main.go)"},
		{"edit", ToolInvocation{Name: "Edit", Input: map[string]any{"file_path": "x.txt"}}, "Edit(x.txt)"},
		{"search", ToolInvocation{Name: "WebSearch", Input: map[string]any{"query": "golang"}}, "WebSearch(golang)"},
		{"fetch", ToolInvocation{Name: "WebFetch", Input: map[string]any{"url": "https://go.dev"}}, "WebFetch(https://go.dev)"},
		{"task", ToolInvocation{Name: "Task", Input: map[string]any{"subagent_type": "explorer", "description": "find tests"}}, "Task(explorer: find tests)"},
		{"unknown tool", ToolInvocation{Name: "TodoWrite", Input: map[string]any{"todos": []any{}}}, `TodoWrite({"todos":[]})`},
		{"unknown tool without input", ToolInvocation{Name: "TodoWrite"}, "TodoWrite"},
		{"missing input", ToolInvocation{Name: "Bash"}, "Bash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.inv))
		})
	}
}

func TestSummarize_BoundsEveryInput(t *testing.T) {
	huge := strings.Repeat("x", 100000)
	cut := strings.Repeat("x", DetailLimit) + "..."

	tests := []struct {
		name string
		inv  ToolInvocation
		want string
	}{
		{"read", ToolInvocation{Name: "Read", Input: map[string]any{"file_path": huge}}, "Read(" + cut + ")"},
		{"write", ToolInvocation{Name: "Write", Input: map[string]any{"file_path": huge}}, "Write(" + cut + ")"},
		{"edit", ToolInvocation{Name: "Edit", Input: map[string]any{"file_path": huge}}, "Edit(" + cut + ")"},
		{"glob", ToolInvocation{Name: "Glob", Input: map[string]any{"pattern": huge}}, "Glob(" + cut + ")"},
		{"grep", ToolInvocation{Name: "Grep", Input: map[string]any{"pattern": huge}}, "Grep(" + cut + ")"},
		{"search", ToolInvocation{Name: "WebSearch", Input: map[string]any{"query": huge}}, "WebSearch(" + cut + ")"},
		{"fetch", ToolInvocation{Name: "WebFetch", Input: map[string]any{"url": huge}}, "WebFetch(" + cut + ")"},
		{"task", ToolInvocation{Name: "Task", Input: map[string]any{"subagent_type": "explorer", "description": huge}}, "Task(explorer: " + strings.Repeat("x", DetailLimit-len("explorer: ")) + "...)"},
		{"unknown", ToolInvocation{Name: "NotebookEdit", Input: map[string]any{"a": huge}}, `NotebookEdit({"a":"` + strings.Repeat("x", DetailLimit-len(`{"a":"`)) + "...)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.inv)
			assert.Equal(t, tt.want, got)
			assert.LessOrEqual(t, len([]rune(got)), len(tt.inv.Name)+DetailLimit+len("(...)"))
		})
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "ok", Preview("  ok\n"))

	long := strings.Repeat("é", 200)
	got := Preview(long)
	assert.Equal(t, strings.Repeat("é", 150)+"...", got)
}

func TestTerminalCostOrZero(t *testing.T) {
	assert.Equal(t, 0.0, Terminal{}.CostOrZero())
	assert.Equal(t, 0.02, Terminal{Cost: Cost(0.02)}.CostOrZero())
}
