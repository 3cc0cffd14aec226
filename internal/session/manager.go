// Package session tracks the telemetry link connections accepted by the
// link server.
package session

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when sending on a session whose link is gone.
var ErrClosed = errors.New("session closed")

const writeTimeout = 10 * time.Second

// State represents the current state of a link session.
type State int

const (
	StateConnected State = iota
	StateActive
	StateDisconnected
)

// String returns the string representation of the session state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText lets the state appear by name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Session is one accepted link connection. A session becomes active once
// the first packet on it decodes.
type Session struct {
	ID           string
	RemoteAddr   string
	LocalAddr    string
	ConnectedAt  time.Time
	Connection   net.Conn
	state        State
	lastActivity time.Time
	lastPacket   time.Time

	bytesReceived   int64
	packetsReceived int64
	bytesSent       int64
	commandsSent    int64
	errorCount      int64

	mutex   sync.RWMutex
	writeMu sync.Mutex
}

var sessionSeq atomic.Uint64

// NewSession creates a new session for a link connection.
func NewSession(conn net.Conn) *Session {
	now := time.Now()
	remote := conn.RemoteAddr().String()
	return &Session{
		ID:           generateSessionID(remote, sessionSeq.Add(1)),
		RemoteAddr:   remote,
		LocalAddr:    conn.LocalAddr().String(),
		ConnectedAt:  now,
		Connection:   conn,
		state:        StateConnected,
		lastActivity: now,
	}
}

// UpdateActivity marks the session as alive without counting a packet.
func (s *Session) UpdateActivity() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.lastActivity = time.Now()
}

// PacketReceived accounts for one decoded packet and activates the session.
func (s *Session) PacketReceived(size int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	now := time.Now()
	s.bytesReceived += int64(size)
	s.packetsReceived++
	s.lastActivity = now
	s.lastPacket = now
	if s.state == StateConnected {
		s.state = StateActive
	}
}

// IncrementErrorCount counts a frame or packet that could not be processed.
func (s *Session) IncrementErrorCount() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.errorCount++
}

// State safely retrieves the session state.
func (s *Session) State() State {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.state
}

// Send writes one framed command to the link.
func (s *Session) Send(frame []byte) error {
	if s.State() == StateDisconnected || s.Connection == nil {
		return ErrClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.Connection.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	n, err := s.Connection.Write(frame)
	if err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}

	s.mutex.Lock()
	s.bytesSent += int64(n)
	s.commandsSent++
	s.mutex.Unlock()
	return nil
}

// Stats returns a copy of the session statistics.
func (s *Session) Stats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return Stats{
		ID:              s.ID,
		RemoteAddr:      s.RemoteAddr,
		LocalAddr:       s.LocalAddr,
		State:           s.state,
		ConnectedAt:     s.ConnectedAt,
		LastActivity:    s.lastActivity,
		LastPacket:      s.lastPacket,
		BytesReceived:   s.bytesReceived,
		PacketsReceived: s.packetsReceived,
		BytesSent:       s.bytesSent,
		CommandsSent:    s.commandsSent,
		ErrorCount:      s.errorCount,
	}
}

// IsExpired checks if the session has been silent for longer than timeout.
func (s *Session) IsExpired(timeout time.Duration) bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return time.Since(s.lastActivity) > timeout
}

// Close closes the session and its underlying connection.
func (s *Session) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.state == StateDisconnected {
		return nil
	}
	s.state = StateDisconnected
	if s.Connection != nil {
		return s.Connection.Close()
	}
	return nil
}

// Stats represents session statistics for external consumption.
type Stats struct {
	ID              string        `json:"id"`
	RemoteAddr      string        `json:"remote_addr"`
	LocalAddr       string        `json:"local_addr"`
	State           State         `json:"state"`
	ConnectedAt     time.Time     `json:"connected_at"`
	LastActivity    time.Time     `json:"last_activity"`
	LastPacket      time.Time     `json:"last_packet,omitempty"`
	BytesReceived   int64         `json:"bytes_received"`
	PacketsReceived int64         `json:"packets_received"`
	BytesSent       int64         `json:"bytes_sent"`
	CommandsSent    int64         `json:"commands_sent"`
	ErrorCount      int64         `json:"error_count"`
	Duration        time.Duration `json:"duration"`
}

// Manager manages the open link sessions.
type Manager struct {
	sessions       map[string]*Session
	sessionsByAddr map[string]*Session
	mutex          sync.RWMutex
	cleanupTicker  *time.Ticker
	stopCleanup    chan struct{}
	closeOnce      sync.Once
	sessionTimeout time.Duration
	logger         zerolog.Logger
}

// NewManager creates a new session manager. Sessions silent for longer
// than sessionTimeout are closed by a background sweep; zero disables it.
func NewManager(sessionTimeout time.Duration) *Manager {
	sm := &Manager{
		sessions:       make(map[string]*Session),
		sessionsByAddr: make(map[string]*Session),
		sessionTimeout: sessionTimeout,
		stopCleanup:    make(chan struct{}),
		logger:         log.With().Str("component", "session").Logger(),
	}

	sm.startCleanupRoutine()
	return sm
}

// CreateSession creates a new session for a connection. An older session
// from the same remote address is closed.
func (sm *Manager) CreateSession(conn net.Conn) *Session {
	session := NewSession(conn)

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if existing, exists := sm.sessionsByAddr[session.RemoteAddr]; exists {
		delete(sm.sessions, existing.ID)
		_ = existing.Close()
	}

	sm.sessions[session.ID] = session
	sm.sessionsByAddr[session.RemoteAddr] = session
	return session
}

// GetSession retrieves a session by ID.
func (sm *Manager) GetSession(id string) (*Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	session, exists := sm.sessions[id]
	return session, exists
}

// GetSessionByAddr retrieves a session by remote address.
func (sm *Manager) GetSessionByAddr(addr string) (*Session, bool) {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()

	session, exists := sm.sessionsByAddr[addr]
	return session, exists
}

// Sessions returns the open sessions, oldest first.
func (sm *Manager) Sessions() []*Session {
	sm.mutex.RLock()
	list := make([]*Session, 0, len(sm.sessions))
	for _, session := range sm.sessions {
		list = append(list, session)
	}
	sm.mutex.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].ConnectedAt.Equal(list[j].ConnectedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].ConnectedAt.Before(list[j].ConnectedAt)
	})
	return list
}

// GetAllSessions returns statistics for all open sessions, oldest first.
func (sm *Manager) GetAllSessions() []Stats {
	sessions := sm.Sessions()
	stats := make([]Stats, 0, len(sessions))
	now := time.Now()
	for _, session := range sessions {
		st := session.Stats()
		st.Duration = now.Sub(st.ConnectedAt)
		stats = append(stats, st)
	}
	return stats
}

// RemoveSession removes and closes a session.
func (sm *Manager) RemoveSession(id string) {
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	if session, exists := sm.sessions[id]; exists {
		sm.remove(session)
	}
}

func (sm *Manager) remove(session *Session) {
	if sm.sessionsByAddr[session.RemoteAddr] == session {
		delete(sm.sessionsByAddr, session.RemoteAddr)
	}
	delete(sm.sessions, session.ID)
	_ = session.Close()
}

// CleanupExpiredSessions removes expired sessions and returns how many.
func (sm *Manager) CleanupExpiredSessions() int {
	if sm.sessionTimeout <= 0 {
		return 0
	}
	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	cleaned := 0
	for _, session := range sm.sessions {
		if session.IsExpired(sm.sessionTimeout) {
			sm.remove(session)
			cleaned++
		}
	}
	return cleaned
}

// Count returns the number of open sessions.
func (sm *Manager) Count() int {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.sessions)
}

// Close stops the sweep and closes all sessions.
func (sm *Manager) Close() {
	sm.closeOnce.Do(func() {
		close(sm.stopCleanup)
		if sm.cleanupTicker != nil {
			sm.cleanupTicker.Stop()
		}
	})

	sm.mutex.Lock()
	defer sm.mutex.Unlock()

	for _, session := range sm.sessions {
		_ = session.Close()
	}
	sm.sessions = make(map[string]*Session)
	sm.sessionsByAddr = make(map[string]*Session)
}

// startCleanupRoutine periodically closes expired sessions.
func (sm *Manager) startCleanupRoutine() {
	interval := time.Minute
	if sm.sessionTimeout > 0 && sm.sessionTimeout < interval {
		interval = sm.sessionTimeout
	}
	sm.cleanupTicker = time.NewTicker(interval)

	go func() {
		for {
			select {
			case <-sm.cleanupTicker.C:
				if cleaned := sm.CleanupExpiredSessions(); cleaned > 0 {
					sm.logger.Info().Int("sessions", cleaned).Msg("Closed idle link sessions")
				}
			case <-sm.stopCleanup:
				return
			}
		}
	}()
}

func generateSessionID(addr string, seq uint64) string {
	return fmt.Sprintf("%s#%d", addr, seq)
}
