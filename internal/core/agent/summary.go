package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// PreviewLimit bounds tool result previews, in runes
	PreviewLimit = 150
	// CommandLimit bounds shell command summaries, in runes
	CommandLimit = 100
	// DetailLimit bounds every other tool input summary, in runes
	DetailLimit = 100
)

// Truncate shortens s to at most n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Preview returns the bounded preview of a tool result.
func Preview(content string) string {
	return Truncate(strings.TrimSpace(content), PreviewLimit)
}

// Summarize renders a tool invocation as its name and the salient part of
// its input. The rendered input never exceeds CommandLimit or DetailLimit runes.
func Summarize(inv ToolInvocation) string {
	if inv.Name == "Bash" {
		return withDetail(inv.Name, Truncate(inputString(inv.Input, "command"), CommandLimit))
	}
	return withDetail(inv.Name, Truncate(summaryDetail(inv), DetailLimit))
}

func summaryDetail(inv ToolInvocation) string {
	detail := ""
	switch inv.Name {
	case "Read", "Write", "Edit":
		detail = inputString(inv.Input, "file_path")
	case "Glob", "Grep":
		detail = inputString(inv.Input, "pattern")
	case "WebSearch":
		detail = inputString(inv.Input, "query")
	case "WebFetch":
		detail = inputString(inv.Input, "url")
	case "Task":
		subagent := inputString(inv.Input, "subagent_type")
		desc := inputString(inv.Input, "description")
		switch {
		case subagent != "" && desc != "":
			detail = fmt.Sprintf("%s: %s", subagent, desc)
		case subagent != "":
			detail = subagent
		default:
			detail = desc
		}
	default:
		detail = compactInput(inv.Input)
	}
	return detail
}

func withDetail(name, detail string) string {
	if detail == "" {
		return name
	}
	return fmt.Sprintf("%s(%s)", name, detail)
}

// compactInput renders an arbitrary tool input as one-line JSON with sorted keys.
func compactInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	data, err := json.Marshal(input)
	if err != nil {
		return fmt.Sprint(input)
	}
	return string(data)
}

func inputString(input map[string]any, key string) string {
	v, ok := input[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
