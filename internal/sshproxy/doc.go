// Package sshproxy owns the SSH connections opened on behalf of browser
// sessions.
//
// It consolidates the connection lifecycle into a single package:
//   - Transport (conn.go): the Conn and Dialer abstractions and their
//     golang.org/x/crypto/ssh implementation.
//   - Registry (registry.go): at most one live connection per session id,
//     plus the per-session lock that serializes whole command sequences.
//   - Lifecycle (manager.go): EnsureConnection decides on every command
//     whether the session's connection is reused, replaced or created.
//   - Execution (exec.go): Run executes one command on a connection with a
//     timeout and decodes its output.
//
// Supporting pieces are the per-target connect rate limiter (ratelimit.go)
// and a per-session ring buffer of connection events (events.go).
//
// Session ids are opaque lookup keys here. Credentials pass through
// EnsureConnection for a single connect attempt and are never retained.
package sshproxy
