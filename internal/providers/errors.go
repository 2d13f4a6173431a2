package providers

import (
	"errors"
	"io/fs"
	"os/exec"
	"strings"

	"github.com/opencontext/ocagent/pkg/models"
)

// StripANSI removes CSI escape sequences from CLI output so error text can
// be matched and displayed.
func StripANSI(input string) string {
	var out strings.Builder
	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		if runes[i] == 0x1b && i+1 < len(runes) && runes[i+1] == '[' {
			i += 2
			for i < len(runes) && !isASCIILetter(runes[i]) {
				i++
			}
			continue
		}
		out.WriteRune(runes[i])
	}
	return out.String()
}

func isASCIILetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// extractErrorDetail pulls the interesting tail out of noisy CLI error lines.
func extractErrorDetail(message string) string {
	cleaned := StripANSI(message)
	lower := strings.ToLower(cleaned)
	if pos := strings.Index(lower, "error="); pos >= 0 {
		return strings.TrimSpace(cleaned[pos+6:])
	}
	if pos := strings.Index(lower, "error:"); pos >= 0 {
		return strings.TrimSpace(cleaned[pos+6:])
	}
	return strings.TrimSpace(cleaned)
}

// classifyHTTPError recognizes quota/rate-limit/HTTP failures in provider
// output and produces a labelled message, or "" when the line is not one.
func classifyHTTPError(message, label string) string {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "error=http"),
		strings.Contains(lower, "http 4"),
		strings.Contains(lower, "http 5"),
		strings.Contains(lower, "too many requests"),
		strings.Contains(lower, "rate limit"),
		strings.Contains(lower, "usage_not_included"),
		strings.Contains(lower, "quota"):
		return label + " request failed: " + extractErrorDetail(message)
	}
	return ""
}

// ClassifyCodexError maps raw codex CLI output to a user-facing message, or
// "" when the line carries no recognizable failure.
func ClassifyCodexError(message string) string {
	cleaned := StripANSI(message)
	lower := strings.ToLower(cleaned)
	switch {
	case strings.Contains(lower, "command not found"), strings.Contains(lower, "not recognized"):
		return "Codex CLI not found. Please ensure 'codex' is installed and in PATH."
	case strings.Contains(lower, "permission denied"):
		return "Permission denied when starting Codex: " + cleaned
	case strings.Contains(lower, "authentication"), strings.Contains(lower, "login"):
		return "Codex authentication required. Please run 'codex auth' first."
	case strings.Contains(lower, "unknown flag"),
		strings.Contains(lower, "invalid option"),
		strings.Contains(lower, "unrecognized"):
		return "Invalid Codex CLI arguments: " + cleaned
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return "Codex initialization timed out. Please check Codex auth status and network."
	}
	return classifyHTTPError(cleaned, "Codex")
}

// ClassifyACPError maps raw ACP agent output to a user-facing message, or ""
// when the line carries no recognizable failure.
func ClassifyACPError(message string, provider models.ProviderID) string {
	label := "ACP"
	hint := ""
	switch provider {
	case models.ProviderClaude:
		label = "Claude"
		hint = " Please run `claude /login`."
	case models.ProviderOpenCode:
		label = "OpenCode"
		hint = " Please run `opencode auth login`."
	}
	cleaned := StripANSI(message)
	lower := strings.ToLower(cleaned)
	switch {
	case strings.Contains(lower, "command not found"), strings.Contains(lower, "not recognized"):
		return label + " CLI not found. Please ensure the CLI is installed and in PATH."
	case strings.Contains(lower, "permission denied"):
		return "Permission denied when starting " + label + "."
	case strings.Contains(lower, "authentication"),
		strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "login"):
		return label + " authentication required." + hint
	case strings.Contains(lower, "timed out"), strings.Contains(lower, "timeout"):
		return label + " request timed out. Please check network and auth."
	}
	return classifyHTTPError(cleaned, label)
}

// classifySpawnError renders process start failures with install guidance.
func classifySpawnError(err error, provider models.ProviderID) error {
	if err == nil {
		return nil
	}
	notFound := errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist)
	denied := errors.Is(err, fs.ErrPermission)
	switch provider {
	case models.ProviderCodex:
		if notFound {
			return errors.New("Codex CLI not found. Please ensure 'codex' is installed and in PATH.")
		}
		if denied {
			return errors.New("Permission denied when starting Codex.")
		}
	case models.ProviderClaude:
		if notFound {
			return errors.New("npx not found. Please install Node.js/npm to run Claude ACP.")
		}
		if denied {
			return errors.New("Permission denied when starting Claude ACP.")
		}
	case models.ProviderOpenCode:
		if notFound {
			return errors.New("OpenCode CLI not found. Please ensure 'opencode' is installed and in PATH.")
		}
		if denied {
			return errors.New("Permission denied when starting OpenCode ACP.")
		}
	}
	return err
}

// isIgnorableMethodError reports whether an RPC error just means the agent
// does not implement an optional method.
func isIgnorableMethodError(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "unknown method") ||
		strings.Contains(lower, "no such method") ||
		strings.Contains(lower, "not implemented")
}
