package consensus

import (
	"encoding/json"
	"strings"
)

// Extraction names the method that produced an agent's structured data.
type Extraction string

const (
	ExtractFenced Extraction = "fenced"
	ExtractBoxed  Extraction = "boxed"
	ExtractBraces Extraction = "braces"
	ExtractText   Extraction = "text"
)

// Fragment is one agent's response after extraction. Unstructured responses
// carry the raw text under "content" with "format": "text".
type Fragment struct {
	Agent  string
	Method Extraction
	Data   map[string]any
}

// Extract tries each structured extraction in priority order and stops at
// the first that yields a parseable JSON object.
func Extract(agent, text string) Fragment {
	for _, try := range []struct {
		method Extraction
		fn     func(string) (string, bool)
	}{
		{ExtractFenced, fencedJSON},
		{ExtractBoxed, boxedJSON},
		{ExtractBraces, braceScan},
	} {
		raw, ok := try.fn(text)
		if !ok {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			return Fragment{Agent: agent, Method: try.method, Data: data}
		}
	}
	return Fragment{
		Agent:  agent,
		Method: ExtractText,
		Data: map[string]any{
			"agent":   agent,
			"content": text,
			"format":  "text",
		},
	}
}

// fencedJSON returns the body of the first ```json fence.
func fencedJSON(text string) (string, bool) {
	lines := strings.Split(text, "\n")
	inside := false
	var buf strings.Builder
	for _, line := range lines {
		if inside {
			if strings.TrimSpace(line) == "```" {
				return buf.String(), true
			}
			if buf.Len() > 0 {
				buf.WriteByte('\n')
			}
			buf.WriteString(line)
			continue
		}
		if strings.TrimSpace(line) == "```json" {
			inside = true
			buf.Reset()
		}
	}
	return "", false
}

// boxedJSON handles tool output where each line is prefixed with a box
// drawing bar, e.g. "│ {" ... "│ }" followed by a "│ Ran for" footer.
func boxedJSON(text string) (string, bool) {
	start := strings.Index(text, "│ {\n│   \"stage\"")
	if start < 0 {
		return "", false
	}
	from := text[start:]
	end := strings.Index(from, "\n│\n│ Ran for")
	if end < 0 {
		return "", false
	}
	lines := strings.Split(from[:end], "\n")
	for i, line := range lines {
		if s, ok := strings.CutPrefix(line, "│   "); ok {
			lines[i] = s
		} else if s, ok := strings.CutPrefix(line, "│ "); ok {
			lines[i] = s
		}
	}
	return strings.Join(lines, "\n"), true
}

// braceScan finds a top-level object starting with a "stage" key and
// returns it up to the matching closing brace.
func braceScan(text string) (string, bool) {
	for _, pattern := range []string{"{\n  \"stage\":", "{\n\"stage\":"} {
		start := strings.Index(text, pattern)
		if start < 0 {
			continue
		}
		from := text[start:]
		depth := 0
		for i, ch := range from {
			switch ch {
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return from[:i+1], true
				}
			}
		}
	}
	return "", false
}
