package sshproxy

import (
	"log"
	"sync"
	"time"

	"github.com/im7mortal/kmutex"

	"github.com/gluk-w/webssh/internal/logutil"
)

// Registry maps session ids to their single live connection. It is built
// once at startup and shared by every request handler.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*managedConn

	locks  *kmutex.Kmutex
	events *eventLog

	nowFunc func() time.Time
}

type managedConn struct {
	conn        Conn
	target      Target
	connectedAt time.Time
	lastUsed    time.Time
}

// ConnInfo describes a registered connection.
type ConnInfo struct {
	Target      Target
	ConnectedAt time.Time
	LastUsed    time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns:   make(map[string]*managedConn),
		locks:   kmutex.New(),
		events:  newEventLog(),
		nowFunc: time.Now,
	}
}

// Lock serializes work for one session. Requests for the same session queue
// behind each other; different sessions do not contend.
func (r *Registry) Lock(sessionID string) (unlock func()) {
	r.locks.Lock(sessionID)
	var once sync.Once
	return func() {
		once.Do(func() { r.locks.Unlock(sessionID) })
	}
}

// Get returns the session's connection and the target it was opened for,
// and marks it used.
func (r *Registry) Get(sessionID string) (Conn, Target, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mc, ok := r.conns[sessionID]
	if !ok {
		return nil, Target{}, false
	}
	mc.lastUsed = r.nowFunc()
	return mc.conn, mc.target, true
}

// Info returns details about the session's connection without marking it
// used.
func (r *Registry) Info(sessionID string) (ConnInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mc, ok := r.conns[sessionID]
	if !ok {
		return ConnInfo{}, false
	}
	return ConnInfo{Target: mc.target, ConnectedAt: mc.connectedAt, LastUsed: mc.lastUsed}, true
}

// Put registers conn for the session. A different connection already
// registered for the session is closed.
func (r *Registry) Put(sessionID string, conn Conn, target Target) {
	now := r.nowFunc()

	r.mu.Lock()
	old, existed := r.conns[sessionID]
	r.conns[sessionID] = &managedConn{
		conn:        conn,
		target:      target,
		connectedAt: now,
		lastUsed:    now,
	}
	r.mu.Unlock()

	if existed && old.conn != conn {
		closeConn(sessionID, old)
	}
}

// RemoveAndClose deregisters and closes the session's connection. It is a
// no-op when none is registered.
func (r *Registry) RemoveAndClose(sessionID string) {
	if mc := r.remove(sessionID); mc != nil {
		closeConn(sessionID, mc)
		r.events.record(sessionID, EventDisconnected, mc.target.String(), "connection closed")
	}
}

// Forget closes the session's connection and drops its event history. Used
// when the session itself is gone.
func (r *Registry) Forget(sessionID string) {
	if mc := r.remove(sessionID); mc != nil {
		closeConn(sessionID, mc)
	}
	r.events.remove(sessionID)
}

func (r *Registry) remove(sessionID string) *managedConn {
	r.mu.Lock()
	defer r.mu.Unlock()

	mc, ok := r.conns[sessionID]
	if !ok {
		return nil
	}
	delete(r.conns, sessionID)
	return mc
}

// CloseIdle closes connections unused for longer than maxIdle and returns
// how many were closed. It takes each candidate's session lock, so a
// connection is never closed under a running command.
func (r *Registry) CloseIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}

	r.mu.RLock()
	var candidates []string
	cutoff := r.nowFunc().Add(-maxIdle)
	for id, mc := range r.conns {
		if mc.lastUsed.Before(cutoff) {
			candidates = append(candidates, id)
		}
	}
	r.mu.RUnlock()

	closed := 0
	for _, id := range candidates {
		unlock := r.Lock(id)

		r.mu.Lock()
		mc, ok := r.conns[id]
		// Recheck: the session may have run a command while we waited.
		if ok && mc.lastUsed.Before(r.nowFunc().Add(-maxIdle)) {
			delete(r.conns, id)
		} else {
			mc = nil
		}
		r.mu.Unlock()

		if mc != nil {
			closeConn(id, mc)
			r.events.record(id, EventIdleClosed, mc.target.String(), "idle for more than "+maxIdle.String())
			log.Printf("[sshproxy] closed idle connection for session %s (%s)", logutil.ShortID(id), mc.target)
			closed++
		}
		unlock()
	}
	return closed
}

// CloseAll closes every registered connection. Used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	conns := r.conns
	r.conns = make(map[string]*managedConn)
	r.mu.Unlock()

	for id, mc := range conns {
		closeConn(id, mc)
	}
	log.Printf("[sshproxy] all SSH connections closed (%d total)", len(conns))
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// RecordEvent appends an event to the session's connection history.
func (r *Registry) RecordEvent(sessionID string, eventType ConnectionEventType, target Target, details string) {
	r.events.record(sessionID, eventType, target.String(), details)
}

// Events returns the session's connection history, oldest first.
func (r *Registry) Events(sessionID string) []ConnectionEvent {
	return r.events.get(sessionID)
}

func closeConn(sessionID string, mc *managedConn) {
	if err := mc.conn.Close(); err != nil {
		log.Printf("[sshproxy] close connection for session %s (%s): %v", logutil.ShortID(sessionID), mc.target, err)
	}
}
