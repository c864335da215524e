package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseJSONLFlat(t *testing.T) {
	lines := `{"role":"user","content":"Hello, how was your day?"}
{"role":"assistant","content":"Busy! I finished the garden."}
{"role":"user","content":"Nice, what did you plant?"}`

	turns, err := Parse(lines)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Text != "Hello, how was your day?" {
		t.Errorf("turn[0] = %+v", turns[0])
	}
	if turns[1].Role != "assistant" {
		t.Errorf("turn[1].Role = %q, want assistant", turns[1].Role)
	}
}

func TestParseJSONLNested(t *testing.T) {
	lines := `{"type":"user","message":{"role":"user","content":"Help me plan a trip"}}
{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"Where to?"},{"type":"tool_use","id":"tu_1"}]}}`

	turns, err := Parse(lines)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(turns) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(turns))
	}
	if turns[1].Text != "Where to?" {
		t.Errorf("text = %q, want 'Where to?'", turns[1].Text)
	}
}

func TestParseJSONLMalformed(t *testing.T) {
	lines := `{"role":"user","content":"first message"}
not json at all
{"role":"user","content":""}
{"role":"assistant","content":"second message"}`

	turns, err := Parse(lines)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(turns) != 2 {
		t.Errorf("expected 2 turns, got %d", len(turns))
	}
}

func TestParsePlainText(t *testing.T) {
	text := `User: I adopted a cat today.
Assistant: Congratulations! What is its name?
User: Miso.
She is orange.
Human: (roles are normalized)`

	turns, err := Parse(text)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(turns) != 4 {
		t.Fatalf("expected 4 turns, got %d: %+v", len(turns), turns)
	}
	if turns[2].Text != "Miso.\nShe is orange." {
		t.Errorf("continuation = %q", turns[2].Text)
	}
	if turns[3].Role != "user" {
		t.Errorf("human role = %q, want user", turns[3].Role)
	}
}

func TestParsePlainNoSpeakers(t *testing.T) {
	turns, _ := Parse("just a note\nwith two lines")
	if len(turns) != 1 || turns[0].Role != "" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.jsonl")
	os.WriteFile(path, []byte(`{"role":"user","content":"from a file"}`+"\n"), 0o644)

	turns, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "from a file" {
		t.Errorf("turns = %+v", turns)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestCountRole(t *testing.T) {
	turns := []Turn{{Role: "user"}, {Role: "assistant"}, {Role: "user"}}
	if n := CountRole(turns, "user"); n != 2 {
		t.Errorf("CountRole = %d, want 2", n)
	}
}

func TestCondenseKeepsOrder(t *testing.T) {
	turns := []Turn{
		{Role: "system", Text: "You are Aoi."},
		{Role: "user", Text: "Good morning"},
		{Role: "assistant", Text: "Morning!"},
		{Role: "Mika", Text: "Hi both"},
	}
	got := Condense(turns)
	want := "[USER] Good morning\n\n[ASSISTANT] Morning!\n\n[MIKA] Hi both"
	if got != want {
		t.Errorf("Condense = %q, want %q", got, want)
	}
}

func TestCondenseTruncation(t *testing.T) {
	long := strings.Repeat("あ", 1500)
	turns := []Turn{
		{Role: "assistant", Text: long},
		{Role: "assistant", Text: long},
		{Role: "assistant", Text: long},
	}
	parts := strings.Split(Condense(turns), "\n\n")
	if len(parts) != 3 {
		t.Fatalf("expected 3 parts, got %d", len(parts))
	}
	wantLens := []int{1000, 200, 1000}
	for i, p := range parts {
		body := strings.TrimSuffix(strings.TrimPrefix(p, "[ASSISTANT] "), "...")
		if n := len([]rune(body)); n != wantLens[i] {
			t.Errorf("part %d has %d runes, want %d", i, n, wantLens[i])
		}
	}
}

func TestCondenseEmpty(t *testing.T) {
	if got := Condense(nil); got != "" {
		t.Errorf("Condense(nil) = %q, want empty", got)
	}
}
