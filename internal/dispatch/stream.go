package dispatch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// PermissionDenial is a tool call the agent's permission system refused.
type PermissionDenial struct {
	Tool  string
	Input string
}

func (d PermissionDenial) String() string {
	if d.Input != "" {
		return fmt.Sprintf("%s(%s)", d.Tool, d.Input)
	}
	return d.Tool
}

// StreamResult is what a stream-json agent run produced.
type StreamResult struct {
	Text              string
	PermissionDenials []PermissionDenial
	CostUSD           float64
	SessionID         string
}

// ToolFunc observes completed tool calls as they stream.
type ToolFunc func(name, summary string)

type streamEvent struct {
	Type      string          `json:"type"`
	Event     json.RawMessage `json:"event"`
	Message   json.RawMessage `json:"message"`
	SessionID string          `json:"session_id"`
	Result    json.RawMessage `json:"result"`
	CostUSD   float64         `json:"total_cost_usd"`
	Denials   []denialEntry   `json:"permission_denials"`
}

type denialEntry struct {
	ToolName  string          `json:"tool_name"`
	ToolInput json.RawMessage `json:"tool_input"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

type nestedEvent struct {
	Type         string        `json:"type"`
	ContentBlock *contentBlock `json:"content_block"`
	Delta        *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
	} `json:"delta"`
}

// streamState accumulates text from the three places it can appear:
// partial deltas, whole assistant messages and the final result.
type streamState struct {
	deltas    strings.Builder
	messages  strings.Builder
	final     string
	toolName  string
	toolInput strings.Builder
}

func (s *streamState) text() string {
	switch {
	case s.deltas.Len() > 0:
		return s.deltas.String()
	case s.messages.Len() > 0:
		return s.messages.String()
	}
	return s.final
}

// processStream reads stream-json lines, copies text to log and returns the
// collected response. Malformed lines are skipped.
func processStream(ctx context.Context, stdout io.Reader, log io.Writer, onTool ToolFunc) (*StreamResult, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	var (
		result StreamResult
		ss     streamState
	)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return &result, ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal(line, &ev); err != nil {
			continue
		}
		if ev.SessionID != "" {
			result.SessionID = ev.SessionID
		}
		switch ev.Type {
		case "stream_event":
			ss.handleNested(ev.Event, log, onTool)
		case "assistant":
			ss.handleMessage(ev.Message)
		case "result":
			ss.handleResult(&ev, &result)
		}
	}
	if err := scanner.Err(); err != nil {
		return &result, fmt.Errorf("reading stream: %w", err)
	}
	result.Text = ss.text()
	if ss.deltas.Len() == 0 && log != nil {
		io.WriteString(log, result.Text)
	}
	return &result, nil
}

func (s *streamState) handleNested(raw json.RawMessage, log io.Writer, onTool ToolFunc) {
	if raw == nil {
		return
	}
	var n nestedEvent
	if err := json.Unmarshal(raw, &n); err != nil {
		return
	}
	switch n.Type {
	case "content_block_start":
		if n.ContentBlock != nil && n.ContentBlock.Type == "tool_use" {
			s.toolName = n.ContentBlock.Name
			s.toolInput.Reset()
		}
	case "content_block_delta":
		if n.Delta == nil {
			return
		}
		switch n.Delta.Type {
		case "text_delta":
			s.deltas.WriteString(n.Delta.Text)
			if log != nil {
				io.WriteString(log, n.Delta.Text)
			}
		case "input_json_delta":
			s.toolInput.WriteString(n.Delta.PartialJSON)
		}
	case "content_block_stop":
		if s.toolName != "" {
			if onTool != nil {
				onTool(s.toolName, toolUseSummary(s.toolName, s.toolInput.String()))
			}
			s.toolName = ""
			s.toolInput.Reset()
		}
	}
}

func (s *streamState) handleMessage(raw json.RawMessage) {
	var msg struct {
		Content []contentBlock `json:"content"`
	}
	if raw == nil || json.Unmarshal(raw, &msg) != nil {
		return
	}
	for _, b := range msg.Content {
		if b.Type == "text" {
			s.messages.WriteString(b.Text)
		}
	}
}

func (s *streamState) handleResult(ev *streamEvent, result *StreamResult) {
	var text string
	if ev.Result != nil && json.Unmarshal(ev.Result, &text) == nil {
		s.final = text
	}
	result.CostUSD = ev.CostUSD
	for _, d := range ev.Denials {
		result.PermissionDenials = append(result.PermissionDenials, PermissionDenial{
			Tool:  d.ToolName,
			Input: toolUseSummary(d.ToolName, string(d.ToolInput)),
		})
	}
}

// toolUseSummary picks the most informative field of a tool's input.
func toolUseSummary(toolName, rawJSON string) string {
	if rawJSON == "" {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(rawJSON), &obj); err != nil {
		return rawJSON
	}
	key := map[string]string{
		"Bash":  "command",
		"Read":  "file_path",
		"Write": "file_path",
		"Edit":  "file_path",
		"Grep":  "pattern",
		"Glob":  "pattern",
		"Task":  "description",
	}[toolName]
	if s, ok := obj[key].(string); ok && key != "" {
		return s
	}
	if key == "" {
		for _, v := range obj {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return rawJSON
}
