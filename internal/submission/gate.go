// Package submission implements the confirmation dialog and the terminal
// submit action that hands a queue snapshot to the analyst notifier.
package submission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/duke-git/lancet/v2/validator"
	"github.com/google/uuid"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vm-uploader/backend/internal/notify"
	"github.com/vm-uploader/backend/internal/queue"
)

var (
	// ErrEmptyQueue blocks submission when no files are queued.
	ErrEmptyQueue = errors.New("queue is empty")
	// ErrInvalidContact blocks submission with a malformed contact address.
	ErrInvalidContact = errors.New("invalid contact address")
	// ErrUploadsPending blocks submission while uploads are still in progress.
	// Only returned when Options.RequireComplete is set.
	ErrUploadsPending = errors.New("uploads still in progress")
)

// DefaultHistoryLimit bounds the number of remembered submissions.
const DefaultHistoryLimit = 50

// Options controls submission policy.
type Options struct {
	ClearOnSubmit   bool   // drain the queue after a successful submit
	RequireComplete bool   // refuse while any file is below 100%
	ContactDomain   string // appended to contacts without "@", e.g. "gmail.com"
	TargetVM        string // machine the files are destined for
	HistoryLimit    int
}

// Gate is the single terminal action over a queue.
type Gate struct {
	queue    *queue.Manager
	notifier notify.Notifier
	opts     Options
	logger   *log.Logger

	mu        sync.Mutex
	dialog    models.DialogState
	history   []models.SubmissionEvent
	sessionID string
}

// NewGate creates a gate over q that reports to notifier.
func NewGate(q *queue.Manager, notifier notify.Notifier, opts Options, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default().WithPrefix("submission")
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = DefaultHistoryLimit
	}
	return &Gate{
		queue:    q,
		notifier: notifier,
		opts:     opts,
		logger:   logger,
		dialog:   models.DialogClosed,
	}
}

// Options returns the effective submission policy.
func (g *Gate) Options() Options {
	return g.opts
}

// SetSessionID tags emitted submissions with the owning session.
func (g *Gate) SetSessionID(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionID = id
}

// OpenDialog shows the confirmation dialog. It is refused on an empty queue.
func (g *Gate) OpenDialog() error {
	if !g.queue.IsReadyToSubmit() {
		return ErrEmptyQueue
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialog = models.DialogOpen
	return nil
}

// CloseDialog hides the confirmation dialog.
func (g *Gate) CloseDialog() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dialog = models.DialogClosed
}

// DialogState returns the current dialog visibility.
func (g *Gate) DialogState() models.DialogState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dialog
}

// NormalizeContact trims the address and appends the default domain when the
// user typed only the local part.
func (g *Gate) NormalizeContact(contact string) string {
	contact = strings.TrimSpace(contact)
	if contact != "" && !strings.Contains(contact, "@") && g.opts.ContactDomain != "" {
		contact += "@" + strings.TrimPrefix(g.opts.ContactDomain, "@")
	}
	return contact
}

// Submit validates the contact and emits exactly one submission event to the
// notifier. Delivery is the notifier's concern; a notifier error is logged
// and does not undo the submission.
func (g *Gate) Submit(ctx context.Context, contact string) (*models.SubmissionEvent, error) {
	if !g.queue.IsReadyToSubmit() {
		return nil, ErrEmptyQueue
	}
	if g.opts.RequireComplete && !g.queue.AllComplete() {
		return nil, ErrUploadsPending
	}

	contact = g.NormalizeContact(contact)
	if !validator.IsEmail(contact) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidContact, contact)
	}

	files := g.queue.Snapshot()
	if len(files) == 0 {
		// Emptied between the readiness check and the snapshot.
		return nil, ErrEmptyQueue
	}
	var total int64
	for _, f := range files {
		total += f.SizeBytes
	}

	g.mu.Lock()
	ev := models.SubmissionEvent{
		ID:          uuid.New().String(),
		SessionID:   g.sessionID,
		Contact:     contact,
		TargetVM:    g.opts.TargetVM,
		Files:       files,
		TotalBytes:  total,
		SubmittedAt: time.Now(),
	}
	g.mu.Unlock()

	if g.notifier != nil {
		if err := g.notifier.Notify(ctx, ev); err != nil {
			g.logger.Warn("notifier rejected submission", "submission", ev.ID, "err", err)
		}
	}

	g.mu.Lock()
	g.dialog = models.DialogClosed
	g.history = append(g.history, ev)
	if over := len(g.history) - g.opts.HistoryLimit; over > 0 {
		g.history = g.history[over:]
	}
	g.mu.Unlock()

	g.queue.Announce(models.QueueEvent{Type: models.EventSubmit, Submit: &ev})

	if g.opts.ClearOnSubmit {
		g.queue.Clear()
	}

	g.logger.Info("queue submitted", "submission", ev.ID, "files", len(files), "contact", contact)
	return &ev, nil
}

// History returns past submissions, oldest first.
func (g *Gate) History() []models.SubmissionEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]models.SubmissionEvent, len(g.history))
	copy(out, g.history)
	return out
}
