package logutil

import "strings"

// maxLogField bounds how much of a user-provided value reaches a log line.
const maxLogField = 200

// SanitizeForLog removes newlines and control characters from user-provided
// strings (commands, hostnames) so they cannot forge extra log entries, and
// truncates overly long values.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	n := 0
	for _, r := range s {
		if n >= maxLogField {
			result.WriteString("...")
			break
		}
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteRune(' ')
		case r < 32 || r == 127:
			continue
		default:
			result.WriteRune(r)
		}
		n++
	}
	return result.String()
}

// ShortID returns a prefix of a session identifier that is long enough to
// correlate log lines but useless as a cookie value.
func ShortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
