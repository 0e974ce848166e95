package sshproxy

import (
	"context"
	"errors"
	"fmt"
	"log"

	"golang.org/x/crypto/ssh"

	"github.com/gluk-w/webssh/internal/logutil"
	"github.com/gluk-w/webssh/internal/sshkeys"
)

// Action reports what EnsureConnection did with the session's connection.
type Action int

const (
	// ActionCreated means no connection existed and a new one was opened.
	ActionCreated Action = iota
	// ActionReused means the registered connection was alive and bound to
	// the requested target.
	ActionReused
	// ActionReplaced means the registered connection was closed because the
	// target changed or the transport was dead. It is reported even when
	// the following connect fails.
	ActionReplaced
)

func (a Action) String() string {
	switch a {
	case ActionCreated:
		return "created"
	case ActionReused:
		return "reused"
	case ActionReplaced:
		return "replaced"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Manager decides, on every command, whether a session's connection is
// reused, replaced or created.
type Manager struct {
	registry    *Registry
	dialer      Dialer
	limiter     *RateLimiter
	maxKeyBytes int64

	// loadKey is sshkeys.LoadKey; tests swap it to observe key handling.
	loadKey func(raw []byte, passphrase string) (ssh.Signer, error)
}

// NewManager wires a Manager. limiter may be nil to disable connect rate
// limiting; maxKeyBytes <= 0 disables the key size check.
func NewManager(registry *Registry, dialer Dialer, limiter *RateLimiter, maxKeyBytes int64) *Manager {
	return &Manager{
		registry:    registry,
		dialer:      dialer,
		limiter:     limiter,
		maxKeyBytes: maxKeyBytes,
		loadKey:     sshkeys.LoadKey,
	}
}

// Registry returns the registry the manager works on.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Forget closes the session's connection and drops everything kept for
// it. Used when the session itself is gone.
func (m *Manager) Forget(sessionID string) {
	m.registry.Forget(sessionID)
	if m.limiter != nil {
		m.limiter.Forget(sessionID)
	}
}

// EnsureConnection returns a live connection to target for the session.
// The caller must hold the session lock (Registry.Lock) for the whole
// command sequence.
//
// Credentials are used only when a new connection has to be opened. On
// failure the error is ErrMissingCredential, an sshkeys.ErrKeyLoad error,
// or a *ConnectError; nothing is registered in that case.
func (m *Manager) EnsureConnection(ctx context.Context, sessionID string, target Target, creds Credentials) (conn Conn, action Action, err error) {
	action = ActionCreated
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[sshproxy] panic while connecting session %s to %s: %v", logutil.ShortID(sessionID), target, r)
			conn = nil
			err = &ConnectError{Target: target, Kind: ErrUnexpected, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if existing, current, ok := m.registry.Get(sessionID); ok {
		reason := ""
		switch {
		case current != target:
			reason = fmt.Sprintf("target changed from %s", current)
		case !existing.Alive():
			reason = "connection is no longer alive"
		default:
			m.registry.RecordEvent(sessionID, EventReused, target, "")
			return existing, ActionReused, nil
		}

		log.Printf("[sshproxy] replacing connection for session %s: %s", logutil.ShortID(sessionID), reason)
		m.registry.RemoveAndClose(sessionID)
		m.registry.RecordEvent(sessionID, EventReplaced, target, reason)
		action = ActionReplaced
	}

	conn, err = m.connect(ctx, sessionID, target, creds)
	if err != nil {
		m.registry.RecordEvent(sessionID, EventConnectFailed, target, err.Error())
		return nil, action, err
	}

	m.registry.Put(sessionID, conn, target)
	m.registry.RecordEvent(sessionID, EventConnected, target, "")
	log.Printf("[sshproxy] session %s connected to %s", logutil.ShortID(sessionID), target)
	return conn, action, nil
}

func (m *Manager) connect(ctx context.Context, sessionID string, target Target, creds Credentials) (Conn, error) {
	if creds.Empty() {
		return nil, fmt.Errorf("connect to %s: %w", target, ErrMissingCredential)
	}

	cred := Credential{Password: creds.Password}
	if len(creds.KeyPEM) > 0 {
		if m.maxKeyBytes > 0 && int64(len(creds.KeyPEM)) > m.maxKeyBytes {
			return nil, fmt.Errorf("%w: key file is %d bytes, limit is %d", sshkeys.ErrKeyLoad, len(creds.KeyPEM), m.maxKeyBytes)
		}
		signer, err := m.loadKey(creds.KeyPEM, creds.Passphrase)
		if err != nil {
			log.Printf("[sshproxy] key load failed for session %s: %v", logutil.ShortID(sessionID), err)
			return nil, fmt.Errorf("load private key: %w", err)
		}
		// The key wins; the password is not offered for this attempt.
		cred = Credential{Signer: signer}
	}

	if m.limiter != nil {
		if err := m.limiter.Allow(sessionID, target); err != nil {
			return nil, &ConnectError{Target: target, Kind: ErrConnectFailed, Err: err}
		}
	}

	conn, err := m.dialer.Dial(ctx, target, cred)
	if err != nil {
		if m.limiter != nil {
			m.limiter.RecordFailure(sessionID, target)
		}
		var ce *ConnectError
		if !errors.As(err, &ce) {
			ce = &ConnectError{Target: target, Kind: ErrUnexpected, Err: err}
		}
		log.Printf("[sshproxy] connect failed for session %s to %s: %v", logutil.ShortID(sessionID), target, err)
		return nil, ce
	}
	if conn == nil {
		return nil, &ConnectError{Target: target, Kind: ErrUnexpected, Err: errors.New("dialer returned no connection")}
	}

	if m.limiter != nil {
		m.limiter.RecordSuccess(sessionID, target)
	}
	return conn, nil
}
