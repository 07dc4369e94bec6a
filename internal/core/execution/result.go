package execution

import (
	"sort"
	"time"
)

// Outcome classifies how an execution ended.
type Outcome string

const (
	OutcomeSucceeded     Outcome = "succeeded"
	OutcomeFailed        Outcome = "failed"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeQuotaExceeded Outcome = "quota_exceeded"
	OutcomeNotFound      Outcome = "not_found"
	OutcomeWorkspaceIO   Outcome = "workspace_io_error"
)

// Result summarizes one execution.
type Result struct {
	SessionID string
	Outcome   Outcome
	// Cost is the cost reported for this execution, zero when unreported
	Cost        float64
	Duration    time.Duration
	APIDuration time.Duration
	Turns       int
	// Tools counts invocations per tool name
	Tools map[string]int
	// Text is the agent's final answer, when it reported one
	Text string
	// Dispatched is set once the prompt reached the agent
	Dispatched bool
	Err        error
}

// OK reports whether the execution succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSucceeded
}

// ToolCalls returns the total number of tool invocations.
func (r Result) ToolCalls() int {
	n := 0
	for _, c := range r.Tools {
		n += c
	}
	return n
}

// ToolNames returns the invoked tool names in sorted order.
func (r Result) ToolNames() []string {
	names := make([]string, 0, len(r.Tools))
	for name := range r.Tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
