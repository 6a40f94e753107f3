package live

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/runger/refkit/internal/choice"
	"github.com/runger/refkit/internal/controller"
	"github.com/runger/refkit/internal/metrics"
	"github.com/runger/refkit/internal/suggest"
)

var errNotMounted = errors.New("no input mounted")

// input is what a session needs from either controller kind.
type input interface {
	View() controller.View
	Create(ctx context.Context, text string) (choice.Choice, error)
	Close()

	value() any
	selection() suggest.Selection
}

type singleInput struct{ *controller.ReferenceInput }

func (s singleInput) value() any { return s.Value() }

func (s singleInput) selection() suggest.Selection {
	return suggest.Single(s.Reference())
}

type arrayInput struct{ *controller.ReferenceArrayInput }

func (a arrayInput) value() any { return a.Value() }

func (a arrayInput) selection() suggest.Selection {
	return suggest.Multiple(a.References()...)
}

// Session is one live connection.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu           sync.Mutex
	input        input
	lastActiveAt time.Time
	cancel       context.CancelFunc // ends the connection
}

func newSession() *Session {
	now := time.Now()
	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		lastActiveAt: now,
	}
}

// Touch records activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActiveAt = time.Now()
	s.mu.Unlock()
}

// LastActiveAt returns the time of the last client message.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

func (s *Session) current() (input, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.input == nil {
		return nil, errNotMounted
	}
	return s.input, nil
}

// replace installs in and closes the previous input.
func (s *Session) replace(in input) {
	s.mu.Lock()
	old := s.input
	s.input = in
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

func (s *Session) bind(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *Session) close() {
	s.replace(nil)
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Manager tracks live sessions.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	metrics  *metrics.Metrics
}

// NewManager creates a manager. m may be nil.
func NewManager(m *metrics.Metrics) *Manager {
	return &Manager{sessions: make(map[string]*Session), metrics: m}
}

// Create registers a new session.
func (m *Manager) Create() *Session {
	s := newSession()
	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.metrics.SessionOpened()
	return s
}

// Get returns a session by id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[id]
}

// Remove closes and forgets a session.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	s.close()
	m.metrics.SessionClosed()
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseIdle removes sessions idle for longer than timeout and returns how
// many were removed.
func (m *Manager) CloseIdle(timeout time.Duration) int {
	m.mu.RLock()
	var idle []string
	for id, s := range m.sessions {
		if time.Since(s.LastActiveAt()) > timeout {
			idle = append(idle, id)
		}
	}
	m.mu.RUnlock()
	for _, id := range idle {
		m.Remove(id)
	}
	return len(idle)
}
