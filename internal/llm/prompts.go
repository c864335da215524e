package llm

import "fmt"

// DailyRawPrompt turns a condensed conversation into a first-person diary entry
// for a single day.
func DailyRawPrompt(conversation string) string {
	return fmt.Sprintf(`You are keeping a memory journal for a conversational character.
Rewrite the conversation below as a short diary entry for today, written from the
character's point of view.

Keep:
- what was talked about and what was decided
- facts learned about the other person
- how the character felt about it

Skip greetings, filler and anything not worth remembering tomorrow.
Return only the diary entry.

CONVERSATION:
%s`, conversation)
}

// DailySummaryPrompt condenses all raw entries of one day.
func DailySummaryPrompt(raw string) string {
	return fmt.Sprintf(`Summarize the following memories from a single day into one concise paragraph.
Preserve names, commitments and emotionally significant moments. Drop repetition.
Return only the summary.

MEMORIES:
%s`, raw)
}

// HierarchicalSummaryPrompt condenses a run of lower-tier summaries, each
// prefixed with its day range, into one summary for the whole period.
func HierarchicalSummaryPrompt(inputs string) string {
	return fmt.Sprintf(`Below are summaries of consecutive periods, each labeled with its day range.
Write a single summary of the whole period. Keep long-lived facts, relationships and
turning points; let routine detail fade. Mention day ranges only where order matters.
Return only the summary.

SUMMARIES:
%s`, inputs)
}
