package expect

import (
	"regexp"
	"strings"
)

var ansiPattern = regexp.MustCompile(`\x1B\[\?[\d;]*[^\d;]|\x1B\[[\d;]*[^\d;]|\x1B[^\d;]|\x1B[\d;]|\x1B\[[^\d;]`)

// StripANSI removes terminal escape and CSI sequences.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// PromptFrom extracts the device prompt from the text captured after a bare
// line terminator: escapes are stripped and only the last non-empty line is
// kept, since a prompt never spans lines.
func PromptFrom(buf, echoed string) string {
	if echoed = strings.TrimSpace(echoed); echoed != "" {
		buf = strings.ReplaceAll(buf, echoed, "")
	}
	buf = strings.TrimSpace(StripANSI(buf))
	if i := strings.LastIndexAny(buf, "\r\n"); i >= 0 {
		buf = buf[i+1:]
	}
	return strings.TrimSpace(buf)
}

// CleanOutput turns a raw command capture into the stored value: the echoed
// command goes, escapes go and, when stripPrompt is set, the prompt goes.
func CleanOutput(buf, command, prompt string, stripPrompt bool) string {
	if command = strings.TrimSpace(command); command != "" {
		buf = strings.ReplaceAll(buf, command, "")
	}
	out := strings.TrimSpace(StripANSI(strings.TrimSpace(buf)))
	if stripPrompt && prompt != "" {
		out = strings.TrimSpace(strings.ReplaceAll(out, prompt, ""))
	}
	return out
}
