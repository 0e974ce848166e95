// ratelimit.go throttles the connects one browser session makes. All state
// belongs to a session, so a session's attempts and failures never hold
// back another session, even one connecting to the same user@host:port.
//
// A session may start sessionConnectBudget connects per
// sessionConnectWindow across all of its targets. For each target it
// tracks the current run of failed connects: once the run reaches
// failureThreshold, the next attempt has to wait baseBlock, and every
// further failure doubles the wait up to maxBlock. A successful connect
// ends the run.

package sshproxy

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gluk-w/webssh/internal/logutil"
)

const (
	sessionConnectWindow = 1 * time.Minute
	sessionConnectBudget = 10
	failureThreshold     = 5
	baseBlock            = 30 * time.Second
	maxBlock             = 5 * time.Minute
)

// ErrRateLimited is returned when a session must wait before connecting
// to Target again.
type ErrRateLimited struct {
	Target     Target
	Reason     string
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("too many connect attempts to %s: %s (retry in %s)", e.Target, e.Reason, e.RetryAfter.Round(time.Second))
}

// failureRun counts consecutive failed connects to one target.
type failureRun struct {
	count int
	last  time.Time
}

// wait is how long after the last failure the run keeps the target
// blocked. Zero below the threshold.
func (f *failureRun) wait() time.Duration {
	if f.count < failureThreshold {
		return 0
	}
	d := baseBlock
	for i := failureThreshold; i < f.count && d < maxBlock; i++ {
		d *= 2
	}
	return min(d, maxBlock)
}

func (f *failureRun) blockedUntil() time.Time {
	if d := f.wait(); d > 0 {
		return f.last.Add(d)
	}
	return time.Time{}
}

type sessionThrottle struct {
	starts []time.Time // connect attempts inside the window, oldest first
	runs   map[Target]*failureRun
}

// trim drops attempts that left the window ending at now.
func (st *sessionThrottle) trim(now time.Time) {
	cutoff := now.Add(-sessionConnectWindow)
	i := 0
	for i < len(st.starts) && !st.starts[i].After(cutoff) {
		i++
	}
	st.starts = st.starts[i:]
}

// idle reports whether the throttle holds nothing that still matters at now.
func (st *sessionThrottle) idle(now time.Time) bool {
	st.trim(now)
	if len(st.starts) > 0 {
		return false
	}
	for _, run := range st.runs {
		if now.Before(run.blockedUntil()) {
			return false
		}
	}
	return true
}

// RateLimiter keeps a throttle per session.
type RateLimiter struct {
	mu       sync.Mutex
	sessions map[string]*sessionThrottle

	nowFunc func() time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		sessions: make(map[string]*sessionThrottle),
		nowFunc:  time.Now,
	}
}

// Caller must hold rl.mu.
func (rl *RateLimiter) throttle(sessionID string) *sessionThrottle {
	st, ok := rl.sessions[sessionID]
	if !ok {
		st = &sessionThrottle{runs: make(map[Target]*failureRun)}
		rl.sessions[sessionID] = st
	}
	return st
}

// Allow counts a connect attempt by the session, or returns
// *ErrRateLimited when the attempt has to wait.
func (rl *RateLimiter) Allow(sessionID string, target Target) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	st := rl.throttle(sessionID)

	if run, ok := st.runs[target]; ok {
		if until := run.blockedUntil(); now.Before(until) {
			log.Printf("[sshproxy] session %s blocked from %s for %s after %d failed connects",
				logutil.ShortID(sessionID), target, until.Sub(now).Round(time.Second), run.count)
			return &ErrRateLimited{
				Target:     target,
				Reason:     fmt.Sprintf("%d failed connects in a row", run.count),
				RetryAfter: until.Sub(now),
			}
		}
	}

	st.trim(now)
	if len(st.starts) >= sessionConnectBudget {
		retryAfter := st.starts[0].Add(sessionConnectWindow).Sub(now)
		log.Printf("[sshproxy] session %s used its %d connects per %s",
			logutil.ShortID(sessionID), sessionConnectBudget, sessionConnectWindow)
		return &ErrRateLimited{
			Target:     target,
			Reason:     fmt.Sprintf("more than %d connects in %s", sessionConnectBudget, sessionConnectWindow),
			RetryAfter: max(retryAfter, 0),
		}
	}

	st.starts = append(st.starts, now)
	return nil
}

// RecordSuccess ends the session's failure run for target.
func (rl *RateLimiter) RecordSuccess(sessionID string, target Target) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if st, ok := rl.sessions[sessionID]; ok {
		delete(st.runs, target)
	}
}

// RecordFailure extends the session's failure run for target.
func (rl *RateLimiter) RecordFailure(sessionID string, target Target) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	st := rl.throttle(sessionID)
	run, ok := st.runs[target]
	if !ok {
		run = &failureRun{}
		st.runs[target] = run
	}
	run.count++
	run.last = rl.nowFunc()

	if d := run.wait(); d > 0 {
		log.Printf("[sshproxy] session %s blocked from %s for %s after %d failed connects",
			logutil.ShortID(sessionID), target, d, run.count)
	}
}

// Forget drops everything kept for the session.
func (rl *RateLimiter) Forget(sessionID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.sessions, sessionID)
}

// Prune drops sessions with no attempt inside the window and no active
// block, returning how many were removed.
func (rl *RateLimiter) Prune() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.nowFunc()
	removed := 0
	for id, st := range rl.sessions {
		if st.idle(now) {
			delete(rl.sessions, id)
			removed++
		}
	}
	return removed
}
