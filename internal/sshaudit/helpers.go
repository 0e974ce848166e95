package sshaudit

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// LogConnection logs an SSH connection establishment.
func LogConnection(sessionID, target, sourceIP string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID: sessionID,
			Target:    target,
			EventType: EventConnectionEstablished,
			SourceIP:  sourceIP,
		})
	}
}

// LogDisconnection logs an SSH connection termination.
func LogDisconnection(sessionID, target, reason string, durationMs int64) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID:  sessionID,
			Target:     target,
			EventType:  EventConnectionTerminated,
			Details:    reason,
			DurationMs: durationMs,
		})
	}
}

// LogConnectionFailed logs a failed SSH connection attempt.
func LogConnectionFailed(sessionID, target, sourceIP, reason string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID: sessionID,
			Target:    target,
			EventType: EventConnectionFailed,
			SourceIP:  sourceIP,
			Details:   reason,
		})
	}
}

// LogCommand logs a command execution. execID ties the record to the
// matching log lines.
func LogCommand(sessionID, target, sourceIP, execID, command, result string, durationMs int64) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID:  sessionID,
			Target:     target,
			EventType:  EventCommandExecution,
			SourceIP:   sourceIP,
			Details:    fmt.Sprintf("exec=%s cmd=%s result=%s", execID, command, result),
			DurationMs: durationMs,
		})
	}
}

// LogKeyLoadFailed logs a private key that could not be parsed.
func LogKeyLoadFailed(sessionID, target, sourceIP, reason string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID: sessionID,
			Target:    target,
			EventType: EventKeyLoadFailed,
			SourceIP:  sourceIP,
			Details:   reason,
		})
	}
}

// LogFingerprintMismatch logs a host key that does not match the recorded
// one, which may indicate a man-in-the-middle.
func LogFingerprintMismatch(sessionID, target, sourceIP, details string) {
	if a := GetAuditor(); a != nil {
		a.Log(AuditEntry{
			SessionID: sessionID,
			Target:    target,
			EventType: EventFingerprintMismatch,
			SourceIP:  sourceIP,
			Details:   details,
		})
	}
}

// ExtractSourceIP extracts the client IP from an HTTP request,
// preferring X-Forwarded-For and X-Real-IP headers.
func ExtractSourceIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.SplitN(xff, ",", 2)
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
