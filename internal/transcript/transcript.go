// Package transcript formats the running command history shown to a
// session: one entry per command, each a prompt line followed by the
// command's output, entries separated by exactly one blank line.
package transcript

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// NoOutputPlaceholder is the body of an entry whose command printed
	// nothing on either stream.
	NoOutputPlaceholder = "[no output or error from command]\n"

	// TruncationMarker starts a transcript whose oldest lines were dropped
	// by Bound.
	TruncationMarker = "[... earlier output truncated ...]\n"
)

// Prompt renders the prompt line of an entry.
func Prompt(target, command string) string {
	return target + "> " + command + "\n"
}

// Append adds an entry for a completed command. stdout and stderr are
// concatenated in that order.
func Append(existing, target, command, stdout, stderr string) string {
	body := stdout + stderr
	if body == "" {
		body = NoOutputPlaceholder
	}
	return appendEntry(existing, Prompt(target, command)+body)
}

// AppendError adds an entry for a command that failed to execute.
func AppendError(existing, target, command string, err error) string {
	body := fmt.Sprintf("Error executing command '%s': %v\n", command, err)
	return appendEntry(existing, Prompt(target, command)+body)
}

func appendEntry(existing, entry string) string {
	if !strings.HasSuffix(entry, "\n") {
		entry += "\n"
	}
	if strings.TrimSpace(existing) == "" {
		return entry
	}
	if !strings.HasSuffix(existing, "\n") {
		existing += "\n"
	}
	return existing + "\n" + entry
}

// Bound keeps text within maxBytes by dropping whole leading lines and
// prefixing TruncationMarker. maxBytes <= 0 means unbounded. A single line
// longer than the budget is cut on a rune boundary.
func Bound(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}

	budget := maxBytes - len(TruncationMarker)
	if budget <= 0 {
		return TruncationMarker
	}

	start := len(text) - budget
	if text[start-1] != '\n' {
		if i := strings.IndexByte(text[start:], '\n'); i >= 0 && start+i+1 < len(text) {
			start += i + 1
		} else {
			for start < len(text) && !utf8.RuneStart(text[start]) {
				start++
			}
		}
	}
	return TruncationMarker + text[start:]
}
