// Package webshell is the command surface of the web client. It runs one
// command for a browser session from start to finish: make sure the
// session has a connection to the requested target, execute the command,
// and fold the result into the session's transcript and notices.
package webshell

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gluk-w/webssh/internal/logutil"
	"github.com/gluk-w/webssh/internal/session"
	"github.com/gluk-w/webssh/internal/sshaudit"
	"github.com/gluk-w/webssh/internal/sshkeys"
	"github.com/gluk-w/webssh/internal/sshproxy"
	"github.com/gluk-w/webssh/internal/transcript"
)

const (
	DefaultPort    = "22"
	DefaultCommand = "ls -lha"
)

// Request is one submitted command with the credentials that came with it.
// Credentials live only as long as the request.
type Request struct {
	Host     string
	Port     string
	Username string
	Command  string

	KeyPEM     []byte
	Passphrase string
	Password   string

	SourceIP string
}

func (r Request) credentials() sshproxy.Credentials {
	return sshproxy.Credentials{KeyPEM: r.KeyPEM, Passphrase: r.Passphrase, Password: r.Password}
}

// View is what a session shows: the form values, connection status,
// transcript and the one-shot notices.
type View struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	Username     string `json:"username"`
	Command      string `json:"command"`
	ActiveTarget string `json:"active_target"`
	Connected    bool   `json:"connected"`
	Transcript   string `json:"transcript"`
	Error        string `json:"error,omitempty"`
	Message      string `json:"message,omitempty"`
	SSHError     string `json:"ssh_error,omitempty"`
}

type Options struct {
	ExecTimeout        time.Duration
	TranscriptMaxBytes int
}

type Service struct {
	store    *session.Store
	manager  *sshproxy.Manager
	registry *sshproxy.Registry
	opts     Options
}

func NewService(store *session.Store, manager *sshproxy.Manager, opts Options) *Service {
	return &Service{
		store:    store,
		manager:  manager,
		registry: manager.Registry(),
		opts:     opts,
	}
}

// Execute runs req for the session. Problems the user can act on (bad
// input, connect failures, command failures) end up in the session's
// notices and transcript; the returned error is reserved for failures of
// the session store itself.
//
// The whole sequence holds the session lock, so concurrent requests for
// one session run one after another.
func (s *Service) Execute(ctx context.Context, sessionID string, req Request) error {
	// A browser giving up on the request must not abort a command midway;
	// the exec timeout is the only cancellation.
	ctx = context.WithoutCancel(ctx)

	unlock := s.registry.Lock(sessionID)
	defer unlock()

	// Target fields are used exactly as given; " h" and "h" are different
	// targets.
	host := req.Host
	username := req.Username
	command := req.Command

	if err := s.setFields(sessionID, map[string]string{
		session.FieldHost:     host,
		session.FieldUsername: username,
		session.FieldCommand:  command,
	}); err != nil {
		return err
	}

	portStr := strings.TrimSpace(req.Port)
	if portStr == "" {
		portStr = DefaultPort
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return s.store.Set(sessionID, session.FieldError, fmt.Sprintf(msgInvalidPort, req.Port))
	}
	if err := s.store.Set(sessionID, session.FieldPort, strconv.Itoa(port)); err != nil {
		return err
	}

	if host == "" || username == "" || strings.TrimSpace(command) == "" {
		return s.store.Set(sessionID, session.FieldError, msgMissingFields)
	}

	target := sshproxy.Target{Username: username, Host: host, Port: port}
	prev, hadPrev := s.registry.Info(sessionID)

	conn, action, err := s.manager.EnsureConnection(ctx, sessionID, target, req.credentials())

	if action != sshproxy.ActionReused {
		// A fresh connect starts a fresh transcript, even when it fails.
		if derr := s.store.Delete(sessionID, session.FieldTranscript, session.FieldActiveTarget); derr != nil {
			return derr
		}
		if action == sshproxy.ActionReplaced && hadPrev {
			sshaudit.LogDisconnection(sessionID, prev.Target.String(), "replaced", time.Since(prev.ConnectedAt).Milliseconds())
		}
	}
	if err != nil {
		return s.connectFailed(sessionID, target, req.SourceIP, err)
	}

	if action != sshproxy.ActionReused {
		sshaudit.LogConnection(sessionID, target.String(), req.SourceIP)
		if err := s.setFields(sessionID, map[string]string{
			session.FieldActiveTarget: target.String(),
			session.FieldMessage:      fmt.Sprintf(msgConnected, target),
		}); err != nil {
			return err
		}
	}

	return s.run(ctx, sessionID, target, conn, command, req.SourceIP)
}

func (s *Service) run(ctx context.Context, sessionID string, target sshproxy.Target, conn sshproxy.Conn, command, sourceIP string) error {
	execID := uuid.NewString()
	log.Printf("[webshell] session %s exec %s on %s: %s",
		logutil.ShortID(sessionID), execID, target, logutil.SanitizeForLog(command))

	existing, err := s.store.Get(sessionID, session.FieldTranscript)
	if err != nil {
		return err
	}

	start := time.Now()
	res, execErr := sshproxy.Run(ctx, conn, command, s.opts.ExecTimeout)
	elapsed := time.Since(start).Milliseconds()

	var updated string
	if execErr != nil {
		log.Printf("[webshell] session %s exec %s failed: %v", logutil.ShortID(sessionID), execID, execErr)
		updated = transcript.AppendError(existing, target.String(), command, execErr)

		// The connection may be half-broken; drop it so the next command
		// connects fresh.
		s.registry.RemoveAndClose(sessionID)
		s.registry.RecordEvent(sessionID, sshproxy.EventExecFailed, target, execErr.Error())
		sshaudit.LogCommand(sessionID, target.String(), sourceIP, execID, command, "error: "+execErr.Error(), elapsed)
		sshaudit.LogDisconnection(sessionID, target.String(), "exec failure", 0)

		if err := s.store.Delete(sessionID, session.FieldActiveTarget); err != nil {
			return err
		}
		if err := s.store.Set(sessionID, session.FieldSSHError, msgExecFailed); err != nil {
			return err
		}
	} else {
		updated = transcript.Append(existing, target.String(), command, res.Stdout, res.Stderr)
		sshaudit.LogCommand(sessionID, target.String(), sourceIP, execID, command, "ok", elapsed)
	}

	updated = transcript.Bound(updated, s.opts.TranscriptMaxBytes)
	return s.store.Set(sessionID, session.FieldTranscript, updated)
}

func (s *Service) connectFailed(sessionID string, target sshproxy.Target, sourceIP string, err error) error {
	log.Printf("[webshell] session %s could not connect to %s: %v", logutil.ShortID(sessionID), target, err)

	field, notice := session.FieldSSHError, ""
	var mismatch *sshkeys.FingerprintMismatchError
	switch {
	case errors.Is(err, sshproxy.ErrMissingCredential):
		field, notice = session.FieldError, msgMissingCredential
	case errors.Is(err, sshkeys.ErrKeyLoad):
		notice = msgKeyLoadFailed
		sshaudit.LogKeyLoadFailed(sessionID, target.String(), sourceIP, err.Error())
	case errors.Is(err, sshproxy.ErrAuthFailed):
		notice = msgAuthFailed
		sshaudit.LogConnectionFailed(sessionID, target.String(), sourceIP, err.Error())
	case errors.Is(err, sshproxy.ErrConnectFailed):
		notice = fmt.Sprintf(msgConnectFailed, connectCause(err))
		if errors.As(err, &mismatch) {
			sshaudit.LogFingerprintMismatch(sessionID, target.String(), sourceIP, mismatch.Error())
		} else {
			sshaudit.LogConnectionFailed(sessionID, target.String(), sourceIP, err.Error())
		}
	default:
		notice = fmt.Sprintf(msgUnexpectedConnect, connectCause(err))
		sshaudit.LogConnectionFailed(sessionID, target.String(), sourceIP, err.Error())
	}
	return s.store.Set(sessionID, field, notice)
}

// connectCause strips the ConnectError wrapper so notices show the
// underlying reason once.
func connectCause(err error) error {
	var ce *sshproxy.ConnectError
	if errors.As(err, &ce) && ce.Err != nil {
		return ce.Err
	}
	return err
}

// Disconnect closes the session's connection, clears its transcript and
// leaves a notice.
func (s *Service) Disconnect(sessionID, sourceIP string) error {
	unlock := s.registry.Lock(sessionID)
	defer unlock()

	if info, ok := s.registry.Info(sessionID); ok {
		s.registry.RemoveAndClose(sessionID)
		sshaudit.LogDisconnection(sessionID, info.Target.String(), "user disconnect", time.Since(info.ConnectedAt).Milliseconds())
		log.Printf("[webshell] session %s disconnected from %s", logutil.ShortID(sessionID), info.Target)
	}

	if err := s.store.Delete(sessionID, session.FieldActiveTarget, session.FieldTranscript); err != nil {
		return err
	}
	return s.store.Set(sessionID, session.FieldMessage, msgDisconnected)
}

// View returns what the session should show and consumes its one-shot
// notices.
func (s *Service) View(sessionID string) (View, error) {
	values, err := s.store.Values(sessionID)
	if err != nil {
		return View{}, err
	}

	v := View{
		Host:         values[session.FieldHost],
		Port:         values[session.FieldPort],
		Username:     values[session.FieldUsername],
		Command:      values[session.FieldCommand],
		ActiveTarget: values[session.FieldActiveTarget],
		Transcript:   values[session.FieldTranscript],
	}
	if v.Port == "" {
		v.Port = DefaultPort
	}
	if v.Command == "" {
		v.Command = DefaultCommand
	}

	if v.ActiveTarget != "" {
		if _, ok := s.registry.Info(sessionID); ok {
			v.Connected = true
		} else {
			// Closed behind the session's back (idle sweep, restart).
			v.ActiveTarget = ""
			if err := s.store.Delete(sessionID, session.FieldActiveTarget); err != nil {
				return View{}, err
			}
		}
	}

	for field, dst := range map[string]*string{
		session.FieldError:    &v.Error,
		session.FieldMessage:  &v.Message,
		session.FieldSSHError: &v.SSHError,
	} {
		if *dst, err = s.store.Pop(sessionID, field); err != nil {
			return View{}, err
		}
	}
	return v, nil
}

// Events returns the session's recent connection events.
func (s *Service) Events(sessionID string) []sshproxy.ConnectionEvent {
	return s.registry.Events(sessionID)
}

// CleanupExpired removes expired sessions and closes their connections.
func (s *Service) CleanupExpired() (int, error) {
	ids, err := s.store.Cleanup()
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		unlock := s.registry.Lock(id)
		if info, ok := s.registry.Info(id); ok {
			sshaudit.LogDisconnection(id, info.Target.String(), "session expired", time.Since(info.ConnectedAt).Milliseconds())
		}
		s.manager.Forget(id)
		unlock()
	}
	if len(ids) > 0 {
		log.Printf("[webshell] removed %d expired sessions", len(ids))
	}
	return len(ids), nil
}

// SweepIdle closes connections unused for longer than maxIdle.
func (s *Service) SweepIdle(maxIdle time.Duration) int {
	return s.registry.CloseIdle(maxIdle)
}

func (s *Service) setFields(sessionID string, fields map[string]string) error {
	for name, value := range fields {
		if err := s.store.Set(sessionID, name, value); err != nil {
			return err
		}
	}
	return nil
}
