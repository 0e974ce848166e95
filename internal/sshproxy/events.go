// events.go keeps a short per-session history of connection lifecycle
// events (connect, reuse, replace, failure, close) in a ring buffer so the
// session status endpoint can show what happened to a connection without
// scraping logs.

package sshproxy

import (
	"sync"
	"time"
)

// eventBufferSize is the maximum number of events stored per session.
const eventBufferSize = 50

// ConnectionEventType names a lifecycle transition.
type ConnectionEventType string

const (
	EventConnected     ConnectionEventType = "connected"
	EventReused        ConnectionEventType = "reused"
	EventReplaced      ConnectionEventType = "replaced"
	EventConnectFailed ConnectionEventType = "connect_failed"
	EventExecFailed    ConnectionEventType = "exec_failed"
	EventDisconnected  ConnectionEventType = "disconnected"
	EventIdleClosed    ConnectionEventType = "idle_closed"
)

// ConnectionEvent is one entry of a session's connection history.
type ConnectionEvent struct {
	Type      ConnectionEventType `json:"type"`
	Target    string              `json:"target,omitempty"`
	Details   string              `json:"details,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

type eventBuffer struct {
	events [eventBufferSize]ConnectionEvent
	head   int // next write position
	count  int
}

func (b *eventBuffer) record(event ConnectionEvent) {
	b.events[b.head] = event
	b.head = (b.head + 1) % eventBufferSize
	if b.count < eventBufferSize {
		b.count++
	}
}

// history returns events oldest first.
func (b *eventBuffer) history() []ConnectionEvent {
	if b.count == 0 {
		return nil
	}

	result := make([]ConnectionEvent, b.count)
	if b.count < eventBufferSize {
		copy(result, b.events[:b.count])
	} else {
		// Full: head is the oldest entry.
		n := copy(result, b.events[b.head:])
		copy(result[n:], b.events[:b.head])
	}
	return result
}

type eventLog struct {
	mu      sync.RWMutex
	buffers map[string]*eventBuffer
	nowFunc func() time.Time
}

func newEventLog() *eventLog {
	return &eventLog{
		buffers: make(map[string]*eventBuffer),
		nowFunc: time.Now,
	}
}

func (el *eventLog) record(sessionID string, eventType ConnectionEventType, target, details string) {
	el.mu.Lock()
	defer el.mu.Unlock()

	buf, ok := el.buffers[sessionID]
	if !ok {
		buf = &eventBuffer{}
		el.buffers[sessionID] = buf
	}
	buf.record(ConnectionEvent{
		Type:      eventType,
		Target:    target,
		Details:   details,
		Timestamp: el.nowFunc(),
	})
}

func (el *eventLog) get(sessionID string) []ConnectionEvent {
	el.mu.RLock()
	defer el.mu.RUnlock()

	buf, ok := el.buffers[sessionID]
	if !ok {
		return nil
	}
	return buf.history()
}

func (el *eventLog) remove(sessionID string) {
	el.mu.Lock()
	defer el.mu.Unlock()
	delete(el.buffers, sessionID)
}
