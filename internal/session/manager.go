package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vm-uploader/backend/internal/notify"
	"github.com/vm-uploader/backend/internal/queue"
	"github.com/vm-uploader/backend/internal/submission"
)

// DefaultMaxSessions limits concurrent sessions to bound goroutines and memory.
const DefaultMaxSessions = 100

// SessionMaxAge is how long an idle session is kept before cleanup.
const SessionMaxAge = 30 * time.Minute

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned when the session limit is reached.
	ErrTooManySessions = errors.New("too many active sessions")
)

// Session is one browser's upload queue together with its submission gate.
type Session struct {
	ID        string
	CreatedAt time.Time
	Queue     *queue.Manager
	Gate      *submission.Gate

	mu           sync.Mutex
	lastAccessed time.Time
}

// LastAccessed returns the last time the session was used.
func (s *Session) LastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccessed
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastAccessed = time.Now()
	s.mu.Unlock()
}

// Info summarizes the session for API responses.
func (s *Session) Info() models.SessionInfo {
	opts := s.Gate.Options()
	return models.SessionInfo{
		ID:            s.ID,
		CreatedAt:     s.CreatedAt,
		LastAccessed:  s.LastAccessed(),
		FileCount:     s.Queue.Len(),
		TotalBytes:    s.Queue.TotalBytes(),
		Dialog:        s.Gate.DialogState(),
		Submissions:   len(s.Gate.History()),
		TargetVM:      opts.TargetVM,
		ContactDomain: opts.ContactDomain,
	}
}

func (s *Session) close() {
	s.Queue.Close()
}

// Config holds everything needed to build a session.
type Config struct {
	Queue       queue.Config
	Submission  submission.Options
	MaxSessions int
}

// Manager handles active upload sessions.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	cfg      Config
	notifier notify.Notifier
	logger   *log.Logger
}

// NewManager creates a new session manager.
func NewManager(cfg Config, notifier notify.Notifier, logger *log.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if logger == nil {
		logger = log.Default().WithPrefix("session")
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		notifier: notifier,
		logger:   logger,
	}
}

// Create starts a new session with an empty queue.
func (m *Manager) Create() (*Session, error) {
	// Clean up old sessions if at limit
	if m.Count() >= m.cfg.MaxSessions {
		m.CleanupOldSessions(SessionMaxAge)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.cfg.MaxSessions {
		return nil, ErrTooManySessions
	}

	id := uuid.New().String()
	q := queue.NewManager(m.cfg.Queue,
		queue.WithSessionID(id),
		queue.WithLogger(m.logger.WithPrefix("queue "+shortID(id))),
	)
	gate := submission.NewGate(q, m.notifier, m.cfg.Submission, m.logger.WithPrefix("submission "+shortID(id)))
	gate.SetSessionID(id)

	now := time.Now()
	s := &Session{
		ID:           id,
		CreatedAt:    now,
		Queue:        q,
		Gate:         gate,
		lastAccessed: now,
	}
	m.sessions[id] = s

	m.logger.Info("session created", "id", shortID(id), "active", len(m.sessions))
	return s, nil
}

// Get returns a session and marks it as accessed.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		s.touch()
	}
	return s, ok
}

// Delete closes and removes a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.close()
	m.logger.Info("session deleted", "id", shortID(id))
	return nil
}

// List returns all sessions, newest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list
}

// Count returns the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions closes sessions idle for longer than maxAge and
// returns how many were removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.LastAccessed().Before(cutoff) {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		s.close()
		m.logger.Info("session expired", "id", shortID(s.ID))
	}
	return len(stale)
}

// CloseAll closes every session. Used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

// shortID safely truncates an ID for logging (handles short IDs gracefully)
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
