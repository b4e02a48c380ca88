// Package queue implements the in-memory upload queue: intake, simulated
// per-file progress, deletion and change notification.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vm-uploader/backend/internal/util"
)

var (
	// ErrNotFound is returned when a file id is not present in the queue.
	ErrNotFound = errors.New("file not found in queue")
	// ErrClosed is returned when the queue has been shut down.
	ErrClosed = errors.New("queue is closed")
)

// Default simulator cadence, matching the browser widget.
const (
	DefaultStep     = 10
	DefaultInterval = 100 * time.Millisecond
)

// Config controls the progress simulator.
type Config struct {
	Step     int           // percentage points per tick
	Interval time.Duration // time between ticks
}

// DefaultConfig returns the default simulator settings.
func DefaultConfig() Config {
	return Config{Step: DefaultStep, Interval: DefaultInterval}
}

func (c Config) normalize() Config {
	if c.Step <= 0 {
		c.Step = DefaultStep
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger sets the logger used by the manager.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithSessionID tags every emitted event with a session id.
func WithSessionID(id string) Option {
	return func(m *Manager) {
		m.sessionID = id
	}
}

// Manager owns an ordered upload queue. All edits go through mu.
type Manager struct {
	mu        sync.RWMutex
	order     []string
	files     map[string]*models.QueuedFile
	tasks     map[string]*task
	cfg       Config
	sessionID string
	closed    bool
	hub       *hub
	logger    *log.Logger
}

// NewManager creates a queue manager and starts its event dispatcher.
func NewManager(cfg Config, opts ...Option) *Manager {
	m := &Manager{
		files:  make(map[string]*models.QueuedFile),
		tasks:  make(map[string]*task),
		cfg:    cfg.normalize(),
		logger: log.Default().WithPrefix("queue"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.hub = newHub(m.logger)
	return m
}

// Config returns the simulator settings in effect.
func (m *Manager) Config() Config {
	return m.cfg
}

// Intake appends one queued file per descriptor, in input order, and starts
// a progress simulator for each. An empty batch is a no-op.
func (m *Manager) Intake(descriptors []models.FileDescriptor) ([]models.QueuedFile, error) {
	if len(descriptors) == 0 {
		return []models.QueuedFile{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	added := make([]models.QueuedFile, 0, len(descriptors))
	now := time.Now()
	for _, d := range descriptors {
		size := d.SizeBytes
		if size < 0 {
			size = 0
		}
		f := &models.QueuedFile{
			ID:            uuid.New().String(),
			Name:          d.Name,
			SizeBytes:     size,
			FormattedSize: util.FormatSize(size),
			ContentType:   d.ContentType,
			Progress:      0,
			Status:        models.FileStatusPending,
			AddedAt:       now,
		}
		m.files[f.ID] = f
		m.order = append(m.order, f.ID)
		m.tasks[f.ID] = m.startSimulator(f.ID)

		snapshot := *f
		added = append(added, snapshot)
		m.publishLocked(models.EventIntake, f.ID, &snapshot)
	}

	m.logger.Debug("files queued", "count", len(added), "queued", len(m.order))
	return added, nil
}

// Delete removes the file with the given id and stops its simulator before
// returning. A missing id yields ErrNotFound and leaves the queue untouched.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	f, ok := m.files[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	t := m.tasks[id]
	delete(m.tasks, id)
	if t != nil {
		t.cancel()
	}
	delete(m.files, id)
	m.removeFromOrderLocked(id)

	snapshot := *f
	m.publishLocked(models.EventDelete, id, &snapshot)
	m.mu.Unlock()

	// The simulator may be waiting on mu; it observes the cancellation and exits.
	if t != nil {
		<-t.done
	}

	m.logger.Debug("file deleted", "id", id, "name", snapshot.Name)
	return nil
}

// Clear removes every file and stops all simulators. It returns the number
// of files removed.
func (m *Manager) Clear() int {
	m.mu.Lock()
	n := len(m.order)
	pending := m.detachTasksLocked()
	m.files = make(map[string]*models.QueuedFile)
	m.order = nil
	if n > 0 {
		m.publishLocked(models.EventClear, "", nil)
	}
	m.mu.Unlock()

	for _, t := range pending {
		<-t.done
	}
	return n
}

// Get returns a copy of the queued file with the given id.
func (m *Manager) Get(id string) (models.QueuedFile, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return models.QueuedFile{}, false
	}
	return *f, true
}

// Snapshot returns copies of all queued files in insertion order.
func (m *Manager) Snapshot() []models.QueuedFile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.QueuedFile, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.files[id])
	}
	return out
}

// Len returns the number of queued files.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

// TotalBytes returns the summed size of all queued files.
func (m *Manager) TotalBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, f := range m.files {
		total += f.SizeBytes
	}
	return total
}

// AllComplete reports whether every queued file reached 100%.
// An empty queue is not considered complete.
func (m *Manager) AllComplete() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.order) == 0 {
		return false
	}
	for _, f := range m.files {
		if !f.IsComplete() {
			return false
		}
	}
	return true
}

// IsReadyToSubmit reports whether the queue holds at least one file.
// Per-file progress is not considered.
func (m *Manager) IsReadyToSubmit() bool {
	return m.Len() > 0
}

// Subscribe registers a listener for queue events and returns a function
// that removes it. Listeners run on the dispatcher goroutine, in event order.
func (m *Manager) Subscribe(l Listener) func() {
	return m.hub.subscribe(l)
}

// Announce publishes an externally produced event, such as a submission,
// on the queue's feed.
func (m *Manager) Announce(ev models.QueueEvent) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ev.SessionID == "" {
		ev.SessionID = m.sessionID
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	ev.Count = len(m.order)
	m.hub.publish(ev)
}

// Close stops all simulators and the event dispatcher. Files stay readable.
// Close is idempotent and must not be called from a listener.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	pending := m.detachTasksLocked()
	m.mu.Unlock()

	for _, t := range pending {
		<-t.done
	}
	m.hub.close()
}

func (m *Manager) detachTasksLocked() []*task {
	pending := make([]*task, 0, len(m.tasks))
	for id, t := range m.tasks {
		t.cancel()
		pending = append(pending, t)
		delete(m.tasks, id)
	}
	return pending
}

func (m *Manager) removeFromOrderLocked(id string) {
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) publishLocked(typ models.EventType, fileID string, f *models.QueuedFile) {
	m.hub.publish(models.QueueEvent{
		Type:      typ,
		SessionID: m.sessionID,
		FileID:    fileID,
		File:      f,
		Count:     len(m.order),
		Timestamp: time.Now(),
	})
}
