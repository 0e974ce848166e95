// Package sshaudit records a durable audit trail of SSH activity performed
// through the web client.
//
// Every connection opened, refused or closed and every command executed is
// written to the ssh_audit_logs table and echoed to the standard logger
// with the [ssh-audit] prefix. Records are keyed by a one-way reference to
// the browser session (SessionRef), never by the session cookie itself, so
// read access to the audit table does not grant access to sessions.
//
// A process-wide Auditor is installed with InitGlobal at startup. The
// package-level helpers (LogConnection, LogCommand, ...) are no-ops while
// no Auditor is installed.
//
// Records older than the retention period are removed by PurgeOlderThan,
// scheduled daily from main.
package sshaudit
