package session

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/udp-quote-service/internal/metrics"
)

// Session is one client's selection-to-final-fragment interaction
type Session struct {
	ID        uint64
	Peer      string
	ItemID    uint32
	StartTime time.Time

	nextFragment int
	mu           sync.RWMutex
}

// SessionInfo is a point-in-time view of a session for monitoring
type SessionInfo struct {
	ID           uint64    `json:"id"`
	Peer         string    `json:"peer"`
	ItemID       uint32    `json:"item_id"`
	NextFragment int       `json:"next_fragment"`
	StartTime    time.Time `json:"start_time"`
	Duration     string    `json:"duration"`
}

// advance records that the fragment at the current index was sent
func (s *Session) advance() {
	s.mu.Lock()
	s.nextFragment++
	s.mu.Unlock()
}

// NextFragment returns the index of the next fragment to send
func (s *Session) NextFragment() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextFragment
}

// GetSessionInfo returns a snapshot of the session
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		ID:           s.ID,
		Peer:         s.Peer,
		ItemID:       s.ItemID,
		NextFragment: s.nextFragment,
		StartTime:    s.StartTime,
		Duration:     time.Since(s.StartTime).String(),
	}
}

// Manager tracks active sessions and owns the active-session counter
type Manager struct {
	sessions map[uint64]*Session
	mu       sync.RWMutex
	counter  Counter
	nextID   atomic.Uint64
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewManager creates an empty session manager
func NewManager(logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		sessions: make(map[uint64]*Session),
		logger:   logger,
		metrics:  m,
	}
}

// Begin registers a new session and increments the counter
func (m *Manager) Begin(peer string, itemID uint32) *Session {
	session := &Session{
		ID:        m.nextID.Add(1),
		Peer:      peer,
		ItemID:    itemID,
		StartTime: time.Now(),
	}

	m.mu.Lock()
	m.sessions[session.ID] = session
	m.mu.Unlock()

	active := m.counter.Increment()
	m.metrics.RecordSessionStarted()
	m.metrics.SetActiveSessions(active)

	m.logger.Info("Session started",
		slog.Uint64("session_id", session.ID),
		slog.String("peer", peer),
		slog.Uint64("item_id", uint64(itemID)),
		slog.Int64("active_sessions", active),
	)

	return session
}

// End removes a session and decrements the counter. Ending a session twice is a no-op.
func (m *Manager) End(session *Session, completed bool) {
	m.mu.Lock()
	_, exists := m.sessions[session.ID]
	delete(m.sessions, session.ID)
	m.mu.Unlock()

	if !exists {
		m.logger.Warn("Attempted to end unknown session",
			slog.Uint64("session_id", session.ID),
		)
		return
	}

	active := m.counter.Decrement()
	duration := time.Since(session.StartTime)
	m.metrics.RecordSessionEnded(completed, duration.Seconds())
	m.metrics.SetActiveSessions(active)

	m.logger.Info("Session ended",
		slog.Uint64("session_id", session.ID),
		slog.String("peer", session.Peer),
		slog.Uint64("item_id", uint64(session.ItemID)),
		slog.Bool("completed", completed),
		slog.Int("fragments_sent", session.NextFragment()),
		slog.Duration("duration", duration),
		slog.Int64("active_sessions", active),
	)
}

// GetSession retrieves an active session
func (m *Manager) GetSession(id uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[id]
	return session, exists
}

// GetAllSessions returns the active sessions ordered by id
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// Snapshot returns the active-session count
func (m *Manager) Snapshot() int64 {
	return m.counter.Snapshot()
}

// TotalStarted returns the number of sessions started since process start
func (m *Manager) TotalStarted() uint64 {
	return m.nextID.Load()
}
