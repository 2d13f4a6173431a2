package engine

import "strings"

// actionMarker introduces a trailing action directive in finished assistant
// text.
const actionMarker = "OC_ACTION:"

// extractActionDirective scans finished assistant text for a single trailing
// directive line. It returns the display text with the directive stripped,
// the directive's argument vector, and whether a directive was found.
// Directives anywhere but the last non-empty line are left alone.
func extractActionDirective(content string) (string, []string, bool) {
	trimmed := strings.TrimRight(content, " \t\n")
	if trimmed == "" {
		return content, nil, false
	}

	idx := strings.LastIndex(trimmed, "\n")
	lastLine := strings.TrimSpace(trimmed[idx+1:])
	if !strings.HasPrefix(lastLine, actionMarker) {
		return content, nil, false
	}

	args := strings.Fields(strings.TrimPrefix(lastLine, actionMarker))
	if len(args) == 0 {
		return content, nil, false
	}

	display := ""
	if idx >= 0 {
		display = strings.TrimRight(trimmed[:idx], " \t\n")
	}
	return display, args, true
}
