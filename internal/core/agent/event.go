package agent

import "time"

// Kind names an event variant.
type Kind string

const (
	KindLifecycle      Kind = "lifecycle"
	KindText           Kind = "text"
	KindToolInvocation Kind = "tool_invocation"
	KindToolResult     Kind = "tool_result"
	KindTerminal       Kind = "terminal"
)

// Event is one item of an agent stream. The set of implementations is closed:
// Lifecycle, Text, ToolInvocation, ToolResult and Terminal.
type Event interface {
	Kind() Kind
	isEvent()
}

// Lifecycle is a system notice such as "init".
type Lifecycle struct {
	Subtype string
}

// Text is assistant prose.
type Text struct {
	Text string
}

// ToolInvocation is the agent calling a tool.
type ToolInvocation struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResult is the output of a tool call.
type ToolResult struct {
	ToolUseID string
	Content   string
	IsError   bool
}

// Terminal ends a submission and carries its statistics.
type Terminal struct {
	Subtype     string
	IsError     bool
	Cost        *float64 // nil when the agent did not report a cost
	Turns       int
	Duration    time.Duration
	APIDuration time.Duration
	Result      string
}

func (Lifecycle) Kind() Kind      { return KindLifecycle }
func (Text) Kind() Kind           { return KindText }
func (ToolInvocation) Kind() Kind { return KindToolInvocation }
func (ToolResult) Kind() Kind     { return KindToolResult }
func (Terminal) Kind() Kind       { return KindTerminal }

func (Lifecycle) isEvent()      {}
func (Text) isEvent()           {}
func (ToolInvocation) isEvent() {}
func (ToolResult) isEvent()     {}
func (Terminal) isEvent()       {}

// CostOrZero returns the reported cost, or zero when none was reported.
func (t Terminal) CostOrZero() float64 {
	if t.Cost == nil {
		return 0
	}
	return *t.Cost
}

// Cost is a helper for building a Terminal with a reported cost.
func Cost(usd float64) *float64 {
	return &usd
}
