package engine

import (
	"fmt"
	"strings"
)

// NoMemoryData is returned by FormatContext for an empty context.
const NoMemoryData = "No memory data."

// FormatContext renders entries in order under a "[memory]" header.
func FormatContext(entries []Entry) string {
	if len(entries) == 0 {
		return NoMemoryData
	}
	var b strings.Builder
	b.WriteString("[memory]\n")
	for _, en := range entries {
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", en.Label, en.Record.Content)
	}
	return b.String()
}
