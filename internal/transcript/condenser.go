package transcript

import (
	"strings"
)

const (
	firstLastAssistantMax = 1000
	midAssistantMax       = 200
)

// Condense reduces a conversation to what a diary entry needs, in speaking
// order:
//   - user and other named speakers are kept whole
//   - first and last assistant turns are cut to 1000 runes
//   - assistant turns in between are cut to 200 runes
//   - system turns are dropped
func Condense(turns []Turn) string {
	if len(turns) == 0 {
		return ""
	}

	first, last := -1, -1
	for i, t := range turns {
		if t.Role == "assistant" {
			if first < 0 {
				first = i
			}
			last = i
		}
	}

	var b strings.Builder
	for i, t := range turns {
		switch t.Role {
		case "system":
			continue
		case "assistant":
			b.WriteString("[ASSISTANT] ")
			if i == first || i == last {
				b.WriteString(truncate(t.Text, firstLastAssistantMax))
			} else {
				b.WriteString(truncate(t.Text, midAssistantMax))
			}
		case "":
			b.WriteString(t.Text)
		default:
			b.WriteString("[" + strings.ToUpper(t.Role) + "] ")
			b.WriteString(t.Text)
		}
		b.WriteString("\n\n")
	}

	return strings.TrimSpace(b.String())
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
