package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/dativo-io/teller/internal/session"
)

// ErrSessionNotFound is returned for turns addressed to an unknown or
// already-expired call.
var ErrSessionNotFound = errors.New("session not found")

// Manager owns the live sessions: creation, lookup, teardown, and the
// cron janitor that expires idle calls.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*session.Session
	engine    *session.Engine
	idleAfter time.Duration
	janitor   *cron.Cron
}

// NewManager creates a session manager. idleAfter bounds how long a
// silent call is kept before the janitor removes it.
func NewManager(engine *session.Engine, idleAfter time.Duration) *Manager {
	return &Manager{
		sessions:  make(map[string]*session.Session),
		engine:    engine,
		idleAfter: idleAfter,
	}
}

// Create opens a new session and returns it with the spoken greeting.
func (m *Manager) Create(ctx context.Context) (*session.Session, string) {
	s := session.NewSession(uuid.NewString())
	greeting := m.engine.Greet(ctx, s)

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()

	log.Info().Str("call_id", s.ID()).Msg("session_created")
	return s, greeting
}

// Get returns the session for id.
func (m *Manager) Get(id string) (*session.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops the session for id. Idempotent.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		log.Info().Str("call_id", id).Msg("session_removed")
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// StartJanitor begins the periodic sweep for idle and terminated sessions.
func (m *Manager) StartJanitor() {
	m.janitor = cron.New()
	_, _ = m.janitor.AddFunc("@every 1m", m.sweep)
	m.janitor.Start()
}

// StopJanitor stops the sweep, waiting for a running sweep to finish.
func (m *Manager) StopJanitor() {
	if m.janitor != nil {
		<-m.janitor.Stop().Done()
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleAfter)

	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.CallOver() || s.LastActivity().Before(cutoff) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, id := range expired {
		log.Info().Str("call_id", id).Msg("session_expired")
	}
}
