// Package notify delivers submission events to the project analyst.
// Delivery is simulated: events are logged or written to an outbox file.
package notify

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/vm-uploader/backend/internal/models"
	"github.com/vm-uploader/backend/internal/util"
)

// Notifier receives submission events. Implementations must not block on
// delivery; failures after hand-off are theirs to handle.
type Notifier interface {
	Notify(ctx context.Context, ev models.SubmissionEvent) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, ev models.SubmissionEvent) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, ev models.SubmissionEvent) error {
	return f(ctx, ev)
}

// LogNotifier logs the analyst notification instead of sending mail.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier creates a notifier that writes to logger.
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default().WithPrefix("notify")
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, ev models.SubmissionEvent) error {
	names := make([]string, 0, len(ev.Files))
	for _, f := range ev.Files {
		names = append(names, f.Name)
	}
	n.logger.Info("notifying project analyst",
		"submission", ev.ID,
		"contact", ev.Contact,
		"vm", ev.TargetVM,
		"files", names,
		"total", util.FormatSize(ev.TotalBytes),
	)
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev models.SubmissionEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
