// Package session implements the in-process conversation store: a bounded
// registry of chat histories with idle expiry and oldest-first eviction.
package session

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is a single role-tagged message in a session's history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is a conversation context addressed by an opaque ID.
// All methods are safe for concurrent use.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.Mutex
	history     []Turn
	lastActive  time.Time
	maxHistory  int
	idleTimeout time.Duration
	now         func() time.Time
}

func newSession(id string, maxHistory int, idleTimeout time.Duration, now func() time.Time) *Session {
	t := now()
	return &Session{
		ID:          id,
		CreatedAt:   t,
		lastActive:  t,
		maxHistory:  maxHistory,
		idleTimeout: idleTimeout,
		now:         now,
	}
}

// Append adds a turn and trims the history to the window size.
func (s *Session) Append(role Role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Turn{Role: role, Content: content})
	s.touchLocked()
}

// AppendExchange appends a user turn followed by an assistant turn without
// letting a concurrent writer land between them.
func (s *Session) AppendExchange(prompt, reply string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Turn{Role: RoleUser, Content: prompt})
	s.appendLocked(Turn{Role: RoleAssistant, Content: reply})
	s.touchLocked()
	return len(s.history)
}

func (s *Session) appendLocked(t Turn) {
	s.history = append(s.history, t)
	if s.maxHistory > 0 && len(s.history) > s.maxHistory {
		// Copy into a fresh slice so the dropped prefix can be collected.
		trimmed := make([]Turn, s.maxHistory, s.maxHistory+1)
		copy(trimmed, s.history[len(s.history)-s.maxHistory:])
		s.history = trimmed
	}
}

// History returns a copy of the turns, oldest first, and marks the session active.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
	out := make([]Turn, len(s.history))
	copy(out, s.history)
	return out
}

// Clear drops all turns but keeps the session alive.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.touchLocked()
}

// Len returns the number of stored turns.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// LastActive returns the time of the most recent access.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Expired reports whether the session has been idle longer than its timeout
// as of now. A zero timeout never expires.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleTimeout > 0 && now.Sub(s.lastActive) > s.idleTimeout
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touchLocked()
}

// touchLocked records the current time even when the clock has stepped
// backwards, so lastActive never lies in the future.
func (s *Session) touchLocked() {
	s.lastActive = s.now()
}
