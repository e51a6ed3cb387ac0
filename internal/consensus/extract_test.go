package consensus

import (
	"testing"
)

func TestExtract_FencedBlock(t *testing.T) {
	text := "Here is my plan:\n\n```json\n{\"stage\": \"plan\", \"work_breakdown\": [{\"step\": \"a\"}]}\n```\n\nDone."
	f := Extract("claude", text)
	if f.Method != ExtractFenced {
		t.Fatalf("method = %s", f.Method)
	}
	if f.Data["stage"] != "plan" {
		t.Fatalf("data = %v", f.Data)
	}
}

func TestExtract_FirstFenceWins(t *testing.T) {
	text := "```json\n{\"n\": 1}\n```\n```json\n{\"n\": 2}\n```\n"
	f := Extract("a", text)
	if f.Data["n"] != float64(1) {
		t.Fatalf("data = %v", f.Data)
	}
}

func TestExtract_BoxedBlock(t *testing.T) {
	text := "tool output\n" +
		"│ {\n" +
		"│   \"stage\": \"tasks\",\n" +
		"│   \"tasks\": [\"one\"]\n" +
		"│ }\n" +
		"│\n" +
		"│ Ran for 3s\n"
	f := Extract("gemini", text)
	if f.Method != ExtractBoxed {
		t.Fatalf("method = %s, data = %v", f.Method, f.Data)
	}
	if f.Data["stage"] != "tasks" {
		t.Fatalf("data = %v", f.Data)
	}
}

func TestExtract_BraceScan(t *testing.T) {
	text := "prefix noise {not json}\n{\n  \"stage\": \"implement\",\n  \"risks\": [{\"risk\": \"x\"}]\n}\ntrailing"
	f := Extract("code", text)
	if f.Method != ExtractBraces {
		t.Fatalf("method = %s", f.Method)
	}
	if f.Data["stage"] != "implement" {
		t.Fatalf("data = %v", f.Data)
	}
}

func TestExtract_InvalidFenceFallsThrough(t *testing.T) {
	text := "```json\n{broken\n```\n{\n\"stage\": \"plan\"\n}"
	f := Extract("a", text)
	if f.Method != ExtractBraces {
		t.Fatalf("method = %s", f.Method)
	}
}

func TestExtract_PlainText(t *testing.T) {
	f := Extract("a", "just some prose")
	if f.Method != ExtractText {
		t.Fatalf("method = %s", f.Method)
	}
	if f.Data["format"] != "text" || f.Data["content"] != "just some prose" || f.Data["agent"] != "a" {
		t.Fatalf("data = %v", f.Data)
	}
}
