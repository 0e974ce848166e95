package sshproxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/webssh/internal/sshkeys"
)

const (
	// probeTimeout bounds a single keepalive round trip in Alive.
	probeTimeout = 5 * time.Second

	// defaultConnectTimeout applies when SSHDialer.Timeout is zero.
	defaultConnectTimeout = 10 * time.Second
)

// Conn is a live connection bound to one target.
type Conn interface {
	// Alive reports whether the transport still answers.
	Alive() bool
	// Exec runs command in a new channel and returns its raw stdout and
	// stderr. A non-zero exit status is not an error. It returns when the
	// command exits or ctx is done.
	Exec(ctx context.Context, command string) (stdout, stderr []byte, err error)
	Close() error
}

// Dialer opens connections. Implementations should return a *ConnectError
// so the failure can be classified.
type Dialer interface {
	Dial(ctx context.Context, target Target, cred Credential) (Conn, error)
}

// SSHDialer dials real SSH servers.
type SSHDialer struct {
	HostKeyCallback ssh.HostKeyCallback
	Timeout         time.Duration
}

// Dial connects to target and authenticates with cred. The whole exchange
// (TCP connect and SSH handshake) is bounded by d.Timeout.
func (d *SSHDialer) Dial(ctx context.Context, target Target, cred Credential) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	hostKeyCallback := d.HostKeyCallback
	if hostKeyCallback == nil {
		return nil, &ConnectError{Target: target, Kind: ErrUnexpected, Err: errors.New("no host key callback configured")}
	}

	cfg := &ssh.ClientConfig{
		User:            target.Username,
		Auth:            cred.authMethods(),
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}

	addr := target.Addr()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := net.Dialer{Timeout: timeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectError{Target: target, Kind: ErrConnectFailed, Err: fmt.Errorf("dial %s: %w", addr, err)}
	}

	// The handshake does not observe ctx, so bound it with a deadline.
	deadline, _ := ctx.Deadline()
	_ = netConn.SetDeadline(deadline)

	clientConn, chans, reqs, err := ssh.NewClientConn(netConn, addr, cfg)
	if err != nil {
		netConn.Close()
		return nil, &ConnectError{Target: target, Kind: classifyHandshakeError(err), Err: fmt.Errorf("ssh handshake with %s: %w", addr, err)}
	}
	_ = netConn.SetDeadline(time.Time{})

	return &sshConn{client: ssh.NewClient(clientConn, chans, reqs)}, nil
}

func classifyHandshakeError(err error) error {
	var mismatch *sshkeys.FingerprintMismatchError
	switch {
	case errors.Is(err, sshkeys.ErrUnknownHost), errors.As(err, &mismatch):
		return ErrConnectFailed
	case strings.Contains(err.Error(), "unable to authenticate"):
		return ErrAuthFailed
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.EOF) || strings.Contains(err.Error(), "handshake failed") {
		return ErrConnectFailed
	}
	return ErrUnexpected
}

// sshConn adapts *ssh.Client to Conn.
type sshConn struct {
	client *ssh.Client
}

func (c *sshConn) Alive() bool {
	result := make(chan error, 1)
	go func() {
		_, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil)
		result <- err
	}()

	timer := time.NewTimer(probeTimeout)
	defer timer.Stop()

	select {
	case err := <-result:
		return err == nil
	case <-timer.C:
		return false
	}
}

func (c *sshConn) Exec(ctx context.Context, command string) ([]byte, []byte, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	if err := session.Start(command); err != nil {
		return nil, nil, fmt.Errorf("start command: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		if err != nil && !errors.As(err, &exitErr) && !errors.As(err, &missingErr) {
			return nil, nil, fmt.Errorf("wait for command: %w", err)
		}
		return stdout.Bytes(), stderr.Bytes(), nil
	case <-ctx.Done():
		session.Close()
		return nil, nil, ctx.Err()
	}
}

func (c *sshConn) Close() error {
	return c.client.Close()
}
