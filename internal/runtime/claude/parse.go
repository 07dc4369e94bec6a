package claude

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aki/agentd/internal/core/agent"
)

// message is one line of the CLI's stream-json output.
type message struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
	Message *struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`

	// result fields
	IsError       bool     `json:"is_error"`
	DurationMS    int64    `json:"duration_ms"`
	DurationAPIMS int64    `json:"duration_api_ms"`
	NumTurns      int      `json:"num_turns"`
	Result        string   `json:"result"`
	TotalCostUSD  *float64 `json:"total_cost_usd"`
}

type contentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

// parseLine converts one stream-json line into zero or more events.
// Message types the core has no use for yield no events.
func parseLine(line []byte) ([]agent.Event, error) {
	var msg message
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, agent.ErrAgentStream{Message: fmt.Sprintf("malformed stream line: %v", err)}
	}

	switch msg.Type {
	case "system":
		return []agent.Event{agent.Lifecycle{Subtype: msg.Subtype}}, nil
	case "assistant", "user":
		if msg.Message == nil {
			return nil, nil
		}
		return parseContent(msg.Type, msg.Message.Content)
	case "result":
		return []agent.Event{agent.Terminal{
			Subtype:     msg.Subtype,
			IsError:     msg.IsError,
			Cost:        msg.TotalCostUSD,
			Turns:       msg.NumTurns,
			Duration:    time.Duration(msg.DurationMS) * time.Millisecond,
			APIDuration: time.Duration(msg.DurationAPIMS) * time.Millisecond,
			Result:      msg.Result,
		}}, nil
	default:
		return nil, nil
	}
}

func parseContent(role string, raw json.RawMessage) ([]agent.Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	// Plain string content carries no blocks. Only assistant prose is relayed.
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, agent.ErrAgentStream{Message: fmt.Sprintf("malformed content: %v", err)}
		}
		if role == "assistant" && strings.TrimSpace(s) != "" {
			return []agent.Event{agent.Text{Text: s}}, nil
		}
		return nil, nil
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, agent.ErrAgentStream{Message: fmt.Sprintf("malformed content: %v", err)}
	}

	var events []agent.Event
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if strings.TrimSpace(b.Text) == "" {
				continue
			}
			events = append(events, agent.Text{Text: b.Text})
		case "tool_use":
			events = append(events, agent.ToolInvocation{ID: b.ID, Name: b.Name, Input: b.Input})
		case "tool_result":
			events = append(events, agent.ToolResult{
				ToolUseID: b.ToolUseID,
				Content:   resultText(b.Content),
				IsError:   b.IsError,
			})
		}
	}
	return events, nil
}

// resultText flattens tool result content, which is either a string or a
// list of text blocks.
func resultText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}
