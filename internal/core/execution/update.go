package execution

// UpdateKind names a progress update variant.
type UpdateKind string

const (
	UpdateLifecycle  UpdateKind = "lifecycle"
	UpdateText       UpdateKind = "text"
	UpdateTool       UpdateKind = "tool"
	UpdateToolResult UpdateKind = "tool_result"
	UpdateTerminal   UpdateKind = "terminal"
)

// Update is one progress item relayed to the caller.
type Update struct {
	Kind      UpdateKind
	SessionID string
	// Text is the prose, tool summary, result preview or lifecycle subtype
	Text string
	// Tool is the tool name of UpdateTool
	Tool    string
	IsError bool
	// Result is set on the single UpdateTerminal of an execution
	Result *Result
}

// Sink receives the updates of an execution in order. Send is called from
// the executing goroutine and should not block for long.
type Sink interface {
	Send(Update)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Update)

// Send implements Sink.
func (f SinkFunc) Send(u Update) {
	f(u)
}

// Discard drops every update.
var Discard Sink = SinkFunc(func(Update) {})
