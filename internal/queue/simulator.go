package queue

import (
	"context"
	"time"

	"github.com/vm-uploader/backend/internal/models"
)

// task is the cancellation handle of one progress simulator.
type task struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// startSimulator launches the simulator for id. Caller holds mu.
func (m *Manager) startSimulator(id string) *task {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:     id,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go m.runSimulator(ctx, t)
	return t
}

func (m *Manager) runSimulator(ctx context.Context, t *task) {
	defer close(t.done)
	defer t.cancel()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if finished := m.advance(ctx, t.id); finished {
				return
			}
		}
	}
}

// advance applies one tick to the file and reports whether the simulator
// should stop. Ticks for cancelled tasks or removed files are no-ops.
func (m *Manager) advance(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return true
	}
	f, ok := m.files[id]
	if !ok {
		return true
	}

	next := f.Progress + m.cfg.Step
	if next > 100 {
		next = 100
	}
	f.Progress = next
	f.Status = models.StatusForProgress(next)

	snapshot := *f
	if f.IsComplete() {
		delete(m.tasks, id)
		m.publishLocked(models.EventComplete, id, &snapshot)
		m.logger.Debug("upload complete", "id", id, "name", f.Name)
		return true
	}
	m.publishLocked(models.EventProgress, id, &snapshot)
	return false
}
