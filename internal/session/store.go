// Package session keeps one alias mapping per conversation in memory.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

// DefaultID names the session used by clients that never create one.
const DefaultID = "default"

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Session owns an AliasEngine. All engine access goes through Do.
type Session struct {
	ID      string
	Created time.Time

	mu       sync.Mutex
	engine   *sanitize.AliasEngine
	lastUsed time.Time
}

// Do runs fn with the session locked. The engine must not escape fn; use
// engine.Reverser() to take a snapshot for use after the lock is released.
func (s *Session) Do(fn func(engine *sanitize.AliasEngine) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUsed = time.Now()
	return fn(s.engine)
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Store is a concurrency-safe registry of sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl        time.Duration
	engineOpts []sanitize.EngineOption
	logger     *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL expires sessions idle for longer than d. Zero keeps them forever.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithEngineOptions is applied to every new session's AliasEngine.
func WithEngineOptions(opts ...sanitize.EngineOption) Option {
	return func(s *Store) { s.engineOpts = opts }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newSession(id string) *Session {
	now := time.Now()
	return &Session{
		ID:       id,
		Created:  now,
		lastUsed: now,
		engine:   sanitize.NewAliasEngine(s.engineOpts...),
	}
}

// Create starts a session with a fresh random id.
func (s *Store) Create() *Session {
	sess := s.newSession(uuid.NewString())
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	s.logger.Debug("session created", zap.String("session_id", sess.ID))
	return sess
}

// Get returns the session with the given id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// GetOrCreate returns the session with the given id, creating it when
// absent. An empty id selects DefaultID.
func (s *Store) GetOrCreate(id string) *Session {
	if id == "" {
		id = DefaultID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = s.newSession(id)
		s.sessions[id] = sess
	}
	return sess
}

// Delete forgets a session and its mapping.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep removes sessions idle since before now-ttl and returns how many
// were removed.
func (s *Store) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl)

	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.idleSince().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}
	s.mu.Lock()
	for _, id := range expired {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	s.logger.Info("expired idle sessions", zap.Int("count", len(expired)))
	return len(expired)
}

// Run sweeps expired sessions every interval until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}
