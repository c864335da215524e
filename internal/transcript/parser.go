package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Turn is one utterance in a conversation.
type Turn struct {
	Role string // "user", "assistant", or a speaker name
	Text string
}

// line is a single JSONL record. Both the flat {"role","content"} form and the
// nested {"type","message":{"role","content"}} form are accepted.
type line struct {
	Type    string          `json:"type"`
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// contentItem is a single block of an array-valued content field.
type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

var speakerRe = regexp.MustCompile(`^([A-Za-z][\w .'-]{0,31}):\s*(.*)$`)

// ParseFile reads a transcript file. See Parse for accepted formats.
func ParseFile(path string) ([]Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return Parse(string(data))
}

// Parse reads a conversation either as JSONL (one message object per line)
// or as plain text with optional "Speaker: text" prefixes. Input is treated as
// JSONL when its first non-blank line is a JSON object.
func Parse(content string) ([]Turn, error) {
	if isJSONL(content) {
		return parseJSONL(content)
	}
	return parsePlain(content), nil
}

func isJSONL(content string) bool {
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		return strings.HasPrefix(l, "{") && json.Valid([]byte(l))
	}
	return false
}

func parseJSONL(content string) ([]Turn, error) {
	var turns []Turn
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024) // 1MB line buffer

	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var l line
		if err := json.Unmarshal([]byte(raw), &l); err != nil {
			continue // skip malformed lines
		}

		role, body := l.Role, l.Content
		if l.Message != nil {
			role, body = l.Message.Role, l.Message.Content
		}
		if role == "" {
			role = l.Type
		}
		text := strings.TrimSpace(extractText(body))
		if text == "" {
			continue
		}
		turns = append(turns, Turn{Role: normalizeRole(role), Text: text})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return turns, nil
}

func parsePlain(content string) []Turn {
	var turns []Turn
	for _, l := range strings.Split(content, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if m := speakerRe.FindStringSubmatch(l); m != nil && m[2] != "" {
			turns = append(turns, Turn{Role: normalizeRole(m[1]), Text: m[2]})
			continue
		}
		// Continuation of the previous speaker.
		if n := len(turns); n > 0 {
			turns[n-1].Text += "\n" + l
			continue
		}
		turns = append(turns, Turn{Text: l})
	}
	return turns
}

func normalizeRole(role string) string {
	r := strings.ToLower(strings.TrimSpace(role))
	switch r {
	case "human", "me":
		return "user"
	case "ai", "bot", "character", "model":
		return "assistant"
	case "":
		return ""
	}
	if r == "user" || r == "assistant" || r == "system" {
		return r
	}
	return strings.TrimSpace(role)
}

// extractText handles the polymorphic content field.
// It may be a plain string or an array of content blocks.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var items []contentItem
	if err := json.Unmarshal(raw, &items); err == nil {
		var texts []string
		for _, item := range items {
			if item.Type == "text" && item.Text != "" {
				texts = append(texts, item.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return ""
}

// CountRole returns the number of turns spoken by role.
func CountRole(turns []Turn, role string) int {
	count := 0
	for _, t := range turns {
		if t.Role == role {
			count++
		}
	}
	return count
}
