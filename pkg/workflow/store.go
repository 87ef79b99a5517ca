package workflow

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/clover/pkg/metrics"
)

// ErrSessionNotFound is returned for an unknown or expired session id
var ErrSessionNotFound = errors.New("session not found")

// Store is the in-memory session registry for one service instance. Sessions
// are instance-local; cross-instance exclusivity comes from the Redis group
// lock, not from this map.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	ttl    time.Duration
	logger ectologger.Logger
	done   chan struct{}
	once   sync.Once
}

// NewStore creates a session store sweeping idle sessions after ttl.
func NewStore(ttl time.Duration, sweepInterval time.Duration, logger ectologger.Logger) *Store {
	s := &Store{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		logger:   logger,
		done:     make(chan struct{}),
	}

	go s.sweep(sweepInterval)
	return s
}

// Put registers an open session.
func (s *Store) Put(session *Session) {
	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()
	metrics.SessionsOpen.Inc()
}

// Get returns a live session by id.
func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || session.Closed() {
		return nil, httperror.NewHTTPError(http.StatusNotFound, ErrSessionNotFound.Error())
	}
	return session, nil
}

// Remove closes a session and drops it from the registry.
func (s *Store) Remove(ctx context.Context, id string) {
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if ok {
		session.Close(ctx)
		metrics.SessionsOpen.Dec()
	}
}

// Shutdown stops the sweeper and closes every remaining session, releasing
// their group locks.
func (s *Store) Shutdown(ctx context.Context) {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close(ctx)
		metrics.SessionsOpen.Dec()
	}
}

func (s *Store) sweep(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-s.ttl)

			s.mu.Lock()
			var expired []*Session
			for id, session := range s.sessions {
				if session.LastActive().Before(cutoff) {
					expired = append(expired, session)
					delete(s.sessions, id)
				}
			}
			s.mu.Unlock()

			for _, session := range expired {
				s.logger.WithFields(map[string]any{"session_id": session.ID}).Info("Expiring idle workflow session")
				session.Close(context.Background())
				metrics.SessionsOpen.Dec()
			}
		}
	}
}
