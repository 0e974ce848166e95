package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/webssh/internal/sshkeys"
)

const (
	testUser     = "u"
	testPassword = "p"
)

// testServer tracks an in-process SSH server.
type testServer struct {
	addr    string
	host    string
	port    int
	hostKey ssh.PublicKey
	cleanup func()

	mu       sync.Mutex
	netConns []net.Conn
	execs    []string
}

func (ts *testServer) closeAllConns() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for _, c := range ts.netConns {
		c.Close()
	}
	ts.netConns = nil
}

func (ts *testServer) connCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.netConns)
}

func (ts *testServer) target() Target {
	return Target{Username: testUser, Host: ts.host, Port: ts.port}
}

func newTestSigner(t *testing.T) (ssh.Signer, []byte) {
	t.Helper()
	_, privPEM, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("generate key pair: %v", err)
	}
	signer, err := ssh.ParsePrivateKey(privPEM)
	if err != nil {
		t.Fatalf("parse key: %v", err)
	}
	return signer, privPEM
}

// testSSHServer starts a server accepting user "u" with password "p" or
// with authorizedKey (when non-nil).
func testSSHServer(t *testing.T, authorizedKey ssh.PublicKey) *testServer {
	t.Helper()

	hostSigner, _ := newTestSigner(t)

	config := &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == testUser && string(password) == testPassword {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("bad password")
		},
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if authorizedKey != nil && ssh.FingerprintSHA256(key) == ssh.FingerprintSHA256(authorizedKey) {
				return &ssh.Permissions{}, nil
			}
			return nil, fmt.Errorf("unknown public key")
		},
	}
	config.AddHostKey(hostSigner)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ts := &testServer{
		addr:    listener.Addr().String(),
		host:    host,
		port:    port,
		hostKey: hostSigner.PublicKey(),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			netConn, err := listener.Accept()
			if err != nil {
				return
			}
			ts.mu.Lock()
			ts.netConns = append(ts.netConns, netConn)
			ts.mu.Unlock()
			go ts.handleConnection(netConn, config)
		}
	}()

	ts.cleanup = func() {
		listener.Close()
		ts.closeAllConns()
		<-done
	}
	t.Cleanup(ts.cleanup)

	return ts
}

func (ts *testServer) handleConnection(netConn net.Conn, config *ssh.ServerConfig) {
	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, config)
	if err != nil {
		netConn.Close()
		return
	}
	defer sshConn.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	for newChan := range chans {
		if newChan.ChannelType() != "session" {
			newChan.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChan.Accept()
		if err != nil {
			continue
		}
		go ts.handleSession(ch, requests)
	}
}

// handleSession understands a few canned commands:
//
//	hang      never finishes
//	fail      writes to stderr, exits 1
//	silent    no output, exits 0
//	nostatus  writes output, closes without an exit status
//	binary    writes invalid UTF-8
//
// Anything else echoes "ran: <command>".
func (ts *testServer) handleSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	defer ch.Close()
	for req := range requests {
		if req.Type != "exec" {
			if req.WantReply {
				req.Reply(true, nil)
			}
			continue
		}

		var payload struct{ Command string }
		if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
			req.Reply(false, nil)
			return
		}
		ts.mu.Lock()
		ts.execs = append(ts.execs, payload.Command)
		ts.mu.Unlock()
		if req.WantReply {
			req.Reply(true, nil)
		}

		status := []byte{0, 0, 0, 0}
		switch payload.Command {
		case "hang":
			continue
		case "fail":
			ch.Stderr().Write([]byte("boom\n"))
			status = []byte{0, 0, 0, 1}
		case "silent":
		case "nostatus":
			ch.Write([]byte("partial\n"))
			return
		case "binary":
			ch.Write([]byte{'o', 'k', 0xff, 0xfe, '\n'})
		default:
			ch.Write([]byte("ran: " + payload.Command + "\n"))
		}
		ch.SendRequest("exit-status", false, status)
		return
	}
}

// fakeConn is a scriptable Conn.
type fakeConn struct {
	mu     sync.Mutex
	id     int
	alive  bool
	closed bool
	execFn func(ctx context.Context, command string) ([]byte, []byte, error)
}

func newFakeConn(id int) *fakeConn {
	return &fakeConn{id: id, alive: true}
}

func (c *fakeConn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive && !c.closed
}

func (c *fakeConn) setAlive(alive bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = alive
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Exec(ctx context.Context, command string) ([]byte, []byte, error) {
	if c.execFn != nil {
		return c.execFn(ctx, command)
	}
	return []byte("out: " + command + "\n"), nil, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("already closed")
	}
	c.closed = true
	return nil
}

// fakeDialer records every dial and hands out fakeConns.
type fakeDialer struct {
	mu      sync.Mutex
	err     error
	panic   bool
	targets []Target
	creds   []Credential
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, target Target, cred Credential) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.panic {
		panic("dialer exploded")
	}
	d.targets = append(d.targets, target)
	d.creds = append(d.creds, cred)
	if d.err != nil {
		return nil, d.err
	}
	c := newFakeConn(len(d.conns) + 1)
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}
