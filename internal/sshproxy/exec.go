package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// ExecResult holds the decoded output of one command.
type ExecResult struct {
	Stdout string
	Stderr string
}

// Run executes command on conn and waits up to timeout for it to finish.
// A non-zero exit status is a normal result. Transport failures and
// timeouts return an *ExecError; after one the connection must be treated
// as unusable.
func Run(ctx context.Context, conn Conn, command string, timeout time.Duration) (result ExecResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecError{Command: command, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	stdout, stderr, err := conn.Exec(ctx, command)
	if err != nil {
		return ExecResult{}, &ExecError{
			Command:  command,
			TimedOut: errors.Is(err, context.DeadlineExceeded),
			Err:      err,
		}
	}

	return ExecResult{Stdout: decodeOutput(stdout), Stderr: decodeOutput(stderr)}, nil
}

// decodeOutput decodes raw command output as UTF-8, replacing invalid
// sequences with U+FFFD.
func decodeOutput(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	decoded, err := unicode.UTF8.NewDecoder().Bytes(raw)
	if err != nil {
		return strings.ToValidUTF8(string(raw), "�")
	}
	return string(decoded)
}
