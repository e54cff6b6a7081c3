package session

import (
	"sync"
	"sync/atomic"
)

// Manager owns the SMB2 session table and grants credits according to a
// configured CreditStrategy. One Manager is shared across every connection
// on an adapter: SessionID is a server-wide namespace, not per-connection.
type Manager struct {
	strategy CreditStrategy
	config   CreditConfig

	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   atomic.Uint64

	activeRequests  atomic.Int64
	totalOperations atomic.Uint64
}

// NewDefaultManager creates a Manager using the adaptive strategy and
// DefaultCreditConfig.
func NewDefaultManager() *Manager {
	return NewManagerWithStrategy(StrategyAdaptive, DefaultCreditConfig())
}

// NewManagerWithStrategy creates a Manager with an explicit strategy and
// credit configuration. SessionID 0 is pre-populated as the anonymous
// session and can never be deleted, matching [MS-SMB2] 3.3.5.2.11's
// treatment of an all-zero SessionId as "no session".
func NewManagerWithStrategy(strategy CreditStrategy, config CreditConfig) *Manager {
	m := &Manager{
		strategy: strategy,
		config:   config,
		sessions: make(map[uint64]*Session),
	}
	m.sessions[0] = NewSession(0, "", true, "", "")
	m.nextID.Store(1)
	return m
}

// CreateSession allocates a new session ID and registers the session.
func (m *Manager) CreateSession(clientAddr string, isGuest bool, username, domain string) *Session {
	id := m.nextID.Add(1)
	sess := NewSession(id, clientAddr, isGuest, username, domain)

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	return sess
}

// GetSession looks up a session by ID.
func (m *Manager) GetSession(sessionID uint64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	return s, ok
}

// DeleteSession removes a session. The anonymous session (ID 0) is never
// removed.
func (m *Manager) DeleteSession(sessionID uint64) {
	if sessionID == 0 {
		return
	}
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

// RequestStarted records that a request has begun processing on a session,
// for both per-session and server-wide load tracking.
func (m *Manager) RequestStarted(sessionID uint64) {
	m.activeRequests.Add(1)
	if s, ok := m.GetSession(sessionID); ok {
		s.RequestStarted()
	}
}

// RequestCompleted records that a request on a session has finished.
func (m *Manager) RequestCompleted(sessionID uint64) {
	m.activeRequests.Add(-1)
	m.totalOperations.Add(1)
	if s, ok := m.GetSession(sessionID); ok {
		s.RequestCompleted()
	}
}

// GrantCredits computes the credit grant for a response per the manager's
// configured strategy and records it against the session.
func (m *Manager) GrantCredits(sessionID uint64, requested, charge uint16) uint16 {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return m.config.InitialGrant
	}
	if charge > 0 {
		s.ConsumeCredits(charge)
	}

	var grant uint16
	switch m.strategy {
	case StrategyFixed:
		grant = m.config.InitialGrant
	case StrategyEcho:
		grant = m.echoGrant(requested)
	default:
		grant = m.adaptiveGrant(s, requested)
	}

	s.GrantCredits(grant)
	return grant
}

func (m *Manager) echoGrant(requested uint16) uint16 {
	if requested == 0 {
		return m.config.InitialGrant
	}
	if requested < m.config.MinGrant {
		return m.config.MinGrant
	}
	if requested > m.config.MaxGrant {
		return m.config.MaxGrant
	}
	return requested
}

func (m *Manager) adaptiveGrant(s *Session, requested uint16) uint16 {
	grant := m.echoGrant(requested)

	active := m.activeRequests.Load()
	switch {
	case active >= m.config.LoadThresholdHigh:
		if grant > m.config.MinGrant {
			grant = m.config.MinGrant
		}
	case active <= m.config.LoadThresholdLow:
		if grant < m.config.MaxGrant {
			boosted := grant * 2
			if boosted > m.config.MaxGrant || boosted < grant {
				boosted = m.config.MaxGrant
			}
			grant = boosted
		}
	}

	// A client that is flooding requests without waiting for responses gets
	// clamped to the minimum grant regardless of server-wide load.
	if s.GetOutstandingRequests() >= m.config.AggressiveClientThreshold {
		grant = m.config.MinGrant
	}

	if grant < m.config.MinGrant {
		grant = m.config.MinGrant
	}
	if grant > m.config.MaxGrant {
		grant = m.config.MaxGrant
	}
	return grant
}

// ManagerStats is a point-in-time snapshot of server-wide session activity.
type ManagerStats struct {
	SessionCount    int
	ActiveRequests  int64
	TotalOperations uint64
}

// GetStats returns server-wide statistics.
func (m *Manager) GetStats() ManagerStats {
	m.mu.RLock()
	count := len(m.sessions)
	m.mu.RUnlock()

	return ManagerStats{
		SessionCount:    count,
		ActiveRequests:  m.activeRequests.Load(),
		TotalOperations: m.totalOperations.Load(),
	}
}

// GetSessionStats returns a snapshot of a single session's credit
// statistics, or nil if the session doesn't exist.
func (m *Manager) GetSessionStats(sessionID uint64) *SessionStats {
	s, ok := m.GetSession(sessionID)
	if !ok {
		return nil
	}
	stats := s.GetStats()
	return &stats
}

// Sessions returns a snapshot of all session IDs currently tracked, used by
// connection cleanup to sweep sessions bound to a closing Virtual Circuit.
func (m *Manager) Sessions() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]uint64, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}
