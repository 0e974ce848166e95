package sshproxy

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingCredential means neither a key nor a password was supplied on
	// a path that has to open a new connection.
	ErrMissingCredential = errors.New("missing credential: provide a private key or a password")

	// ErrAuthFailed means the server rejected every offered credential.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrConnectFailed covers network, handshake, host key and rate limit
	// failures while opening a connection.
	ErrConnectFailed = errors.New("connection failed")

	// ErrUnexpected is any other failure while opening a connection.
	ErrUnexpected = errors.New("unexpected connection error")

	// ErrExecFailed means a command could not run to completion on an
	// established connection, including a timeout.
	ErrExecFailed = errors.New("command execution failed")
)

// ConnectError is returned by EnsureConnection when a new connection could
// not be opened. Kind is one of ErrAuthFailed, ErrConnectFailed or
// ErrUnexpected.
type ConnectError struct {
	Target Target
	Kind   error
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %v: %v", e.Target, e.Kind, e.Err)
}

func (e *ConnectError) Is(target error) bool {
	return target == e.Kind
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ExecError is returned by Run when the command did not complete.
type ExecError struct {
	Command  string
	TimedOut bool
	Err      error
}

func (e *ExecError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("exec %q: timed out: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("exec %q: %v", e.Command, e.Err)
}

func (e *ExecError) Is(target error) bool {
	return target == ErrExecFailed
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
