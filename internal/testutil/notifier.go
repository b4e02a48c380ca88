// notifier.go - Recording notifier for tests
package testutil

import (
	"context"
	"sync"

	"github.com/vm-uploader/backend/internal/models"
)

// RecordingNotifier implements notify.Notifier and keeps every event it receives.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []models.SubmissionEvent
	err    error
}

// NewRecordingNotifier creates an empty recorder.
func NewRecordingNotifier() *RecordingNotifier {
	return &RecordingNotifier{}
}

// FailWith makes subsequent Notify calls return err after recording the event.
func (r *RecordingNotifier) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *RecordingNotifier) Notify(_ context.Context, ev models.SubmissionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

// Events returns a copy of the recorded events.
func (r *RecordingNotifier) Events() []models.SubmissionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.SubmissionEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Count returns how many events were recorded.
func (r *RecordingNotifier) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}
