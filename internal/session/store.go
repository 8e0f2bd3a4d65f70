package session

import (
	"log/slog"
	"sync"
	"time"
)

// Defaults mirror the limits the voice assistant has always run with.
const (
	DefaultMaxSessions     = 1000
	DefaultMaxHistory      = 20
	DefaultIdleTimeout     = time.Hour
	DefaultCleanupInterval = time.Hour
)

// Event names a store lifecycle transition reported to an Observer.
type Event string

const (
	EventCreated Event = "created"
	EventEvicted Event = "evicted"
	EventExpired Event = "expired"
	EventDeleted Event = "deleted"
)

// Observer receives store lifecycle notifications. Calls are made while the
// store lock is held, so implementations must not call back into the Store.
type Observer interface {
	SessionEvent(event Event, count int)
	SessionsActive(n int)
}

// Store is a bounded, concurrency-safe registry of sessions.
//
// Expired sessions are removed lazily: every ResolveOrCreate (and Get) runs a
// full sweep if more than the cleanup interval has passed since the last one.
// When the store is full, inserting a new session first sweeps and then, if
// still full, evicts the single least recently active session.
type Store struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	lastCleanup time.Time

	maxSessions     int
	maxHistory      int
	idleTimeout     time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
	newID           func() string
	logger          *slog.Logger
	observer        Observer
}

// Option configures a Store.
type Option func(*Store)

// WithMaxSessions sets the capacity bound. Values below 1 are ignored.
func WithMaxSessions(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxSessions = n
		}
	}
}

// WithMaxHistory sets the per-session sliding window size. Values below 1 are ignored.
func WithMaxHistory(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxHistory = n
		}
	}
}

// WithIdleTimeout sets how long a session may go untouched; 0 disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Store) { s.idleTimeout = d }
}

// WithCleanupInterval sets the minimum time between opportunistic sweeps.
func WithCleanupInterval(d time.Duration) Option {
	return func(s *Store) { s.cleanupInterval = d }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides NewID.
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithObserver registers a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:        make(map[string]*Session),
		maxSessions:     DefaultMaxSessions,
		maxHistory:      DefaultMaxHistory,
		idleTimeout:     DefaultIdleTimeout,
		cleanupInterval: DefaultCleanupInterval,
		now:             time.Now,
		newID:           NewID,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastCleanup = s.now()
	return s
}

// ResolveOrCreate returns the session for id, refreshing its activity time.
// An empty or unknown id yields a brand new session with a generated ID;
// the caller's id is never reused.
func (s *Store) ResolveOrCreate(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.maybeSweepLocked(now)

	if id != "" {
		if sess, ok := s.sessions[id]; ok {
			sess.touch()
			return sess
		}
	}

	if len(s.sessions) >= s.maxSessions {
		s.sweepLocked(now)
		if len(s.sessions) >= s.maxSessions {
			s.evictOldestLocked()
		}
	}

	sess := newSession(s.uniqueIDLocked(), s.maxHistory, s.idleTimeout, s.now)
	s.sessions[sess.ID] = sess
	s.logger.Info("session created", "session_id", sess.ID, "active", len(s.sessions))
	s.notify(EventCreated, 1)
	return sess
}

// Get looks up a session without creating one. A hit refreshes its activity time.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeSweepLocked(s.now())

	sess, ok := s.sessions[id]
	if ok {
		sess.touch()
	}
	return sess, ok
}

// Delete removes a session and reports whether it was present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	s.logger.Info("session deleted", "session_id", id)
	s.notify(EventDeleted, 1)
	return true
}

// Sweep removes every idle-expired session now and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := s.sweepLocked(now)
	s.lastCleanup = now
	return n
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) maybeSweepLocked(now time.Time) {
	if now.Sub(s.lastCleanup) > s.cleanupInterval {
		s.sweepLocked(now)
		s.lastCleanup = now
	}
}

func (s *Store) sweepLocked(now time.Time) int {
	var expired []string
	for id, sess := range s.sessions {
		if sess.Expired(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(s.sessions, id)
	}
	if len(expired) > 0 {
		s.logger.Info("expired sessions removed", "count", len(expired), "active", len(s.sessions))
		s.notify(EventExpired, len(expired))
	}
	return len(expired)
}

// evictOldestLocked removes the session with the smallest last-active time.
// Ties go to the lexicographically smallest ID so the choice is deterministic.
func (s *Store) evictOldestLocked() {
	var (
		oldestID string
		oldestAt time.Time
	)
	for id, sess := range s.sessions {
		at := sess.LastActive()
		if oldestID == "" || at.Before(oldestAt) || (at.Equal(oldestAt) && id < oldestID) {
			oldestID, oldestAt = id, at
		}
	}
	if oldestID == "" {
		return
	}
	delete(s.sessions, oldestID)
	s.logger.Info("oldest session evicted", "session_id", oldestID, "last_active", oldestAt)
	s.notify(EventEvicted, 1)
}

func (s *Store) uniqueIDLocked() string {
	for {
		id := s.newID()
		if _, taken := s.sessions[id]; !taken && id != "" {
			return id
		}
	}
}

func (s *Store) notify(event Event, count int) {
	if s.observer == nil {
		return
	}
	s.observer.SessionEvent(event, count)
	s.observer.SessionsActive(len(s.sessions))
}
