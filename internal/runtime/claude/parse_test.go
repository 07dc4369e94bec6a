package claude

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aki/agentd/internal/core/agent"
)

func TestParseLine(t *testing.T) {
	t.Run("system init", func(t *testing.T) {
		events, err := parseLine([]byte(`{"type":"system","subtype":"init","session_id":"x"}`))
		require.NoError(t, err)
		assert.Equal(t, []agent.Event{agent.Lifecycle{Subtype: "init"}}, events)
	})

	t.Run("assistant blocks keep order", func(t *testing.T) {
		line := `{"type":"assistant","message":{"content":[` +
			`{"type":"text","text":"Listing files"},` +
			`{"type":"tool_use","id":"tu_1","name":"Bash","input":{"command":"ls"}},` +
			`{"type":"text","text":"  "}]}}`
		events, err := parseLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, agent.Text{Text: "Listing files"}, events[0])
		assert.Equal(t, agent.ToolInvocation{ID: "tu_1", Name: "Bash", Input: map[string]any{"command": "ls"}}, events[1])
	})

	t.Run("tool result string", func(t *testing.T) {
		line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_1","content":"a.txt\nb.txt"}]}}`
		events, err := parseLine([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, []agent.Event{agent.ToolResult{ToolUseID: "tu_1", Content: "a.txt\nb.txt"}}, events)
	})

	t.Run("tool result blocks", func(t *testing.T) {
		line := `{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"tu_2","is_error":true,` +
			`"content":[{"type":"text","text":"permission denied"},{"type":"image"}]}]}}`
		events, err := parseLine([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, []agent.Event{agent.ToolResult{ToolUseID: "tu_2", Content: "permission denied", IsError: true}}, events)
	})

	t.Run("user prompt echo is dropped", func(t *testing.T) {
		events, err := parseLine([]byte(`{"type":"user","message":{"content":"hello"}}`))
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("result", func(t *testing.T) {
		line := `{"type":"result","subtype":"success","is_error":false,"duration_ms":1500,` +
			`"duration_api_ms":900,"num_turns":3,"result":"done","total_cost_usd":0.02}`
		events, err := parseLine([]byte(line))
		require.NoError(t, err)
		require.Len(t, events, 1)
		term, ok := events[0].(agent.Terminal)
		require.True(t, ok)
		assert.Equal(t, "success", term.Subtype)
		assert.Equal(t, 3, term.Turns)
		assert.Equal(t, 1500*time.Millisecond, term.Duration)
		assert.Equal(t, 900*time.Millisecond, term.APIDuration)
		assert.Equal(t, 0.02, term.CostOrZero())
		assert.Equal(t, "done", term.Result)
	})

	t.Run("result without cost", func(t *testing.T) {
		events, err := parseLine([]byte(`{"type":"result","subtype":"error_max_turns","is_error":true}`))
		require.NoError(t, err)
		term := events[0].(agent.Terminal)
		assert.Nil(t, term.Cost)
		assert.True(t, term.IsError)
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		events, err := parseLine([]byte(`{"type":"stream_event"}`))
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := parseLine([]byte(`{"type":`))
		var streamErr agent.ErrAgentStream
		assert.True(t, errors.As(err, &streamErr))
	})
}
