package engine

import (
	"strings"

	"github.com/opencontext/ocagent/pkg/models"
)

// defaultContextWindow bounds how many trailing text messages feed the
// prompt.
const defaultContextWindow = 12

// systemPreamble opens every prompt so each provider turn carries the
// engine's ground rules even though the underlying CLIs keep their own
// history.
const systemPreamble = "You are a coding agent working inside the OpenContext workspace. " +
	"Answer the user directly. When a follow-up workspace command is needed, " +
	"finish your reply with a single trailing line of the form " +
	"`OC_ACTION: <subcommand> <args>`."

// buildPrompt renders the conversation context for a generation request: the
// system preamble plus the most recent window of top-level user/assistant
// text messages, each as "ROLE: content", joined by blank lines. Blank
// messages (including the fresh assistant placeholder) are skipped.
func buildPrompt(messages []*models.Message, window int) string {
	if window <= 0 {
		window = defaultContextWindow
	}

	var texts []*models.Message
	for _, m := range messages {
		if m.IsTimelineText() && strings.TrimSpace(m.Content) != "" {
			texts = append(texts, m)
		}
	}
	if len(texts) > window {
		texts = texts[len(texts)-window:]
	}

	lines := make([]string, 0, len(texts)+1)
	lines = append(lines, "SYSTEM: "+systemPreamble)
	for _, m := range texts {
		lines = append(lines, strings.ToUpper(string(m.Role))+": "+strings.TrimSpace(m.Content))
	}
	return strings.Join(lines, "\n\n")
}
