package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/vm-uploader/backend/internal/models"
	"gopkg.in/yaml.v3"
)

// ErrOutboxFull is returned when the outbox buffer cannot take another event.
var ErrOutboxFull = errors.New("outbox buffer full")

// ErrOutboxClosed is returned after Close.
var ErrOutboxClosed = errors.New("outbox closed")

// DefaultOutboxBuffer is the number of events queued before Notify rejects new ones.
const DefaultOutboxBuffer = 64

// Outbox appends each submission as a YAML document to a file. Writes happen
// on a background goroutine so Notify never waits on the disk.
type Outbox struct {
	path    string
	events  chan models.SubmissionEvent
	done    chan struct{}
	logger  *log.Logger
	maxWait time.Duration

	mu     sync.RWMutex
	closed bool
}

// OutboxOption customizes an Outbox.
type OutboxOption func(*Outbox)

// WithOutboxLogger sets the outbox logger.
func WithOutboxLogger(logger *log.Logger) OutboxOption {
	return func(o *Outbox) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetryWindow bounds how long a failing write is retried.
func WithRetryWindow(d time.Duration) OutboxOption {
	return func(o *Outbox) {
		o.maxWait = d
	}
}

// NewOutbox creates the outbox directory and starts the writer.
func NewOutbox(path string, buffer int, opts ...OutboxOption) (*Outbox, error) {
	if path == "" {
		return nil, errors.New("outbox path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating outbox directory: %w", err)
	}
	if buffer <= 0 {
		buffer = DefaultOutboxBuffer
	}

	o := &Outbox{
		path:    path,
		events:  make(chan models.SubmissionEvent, buffer),
		done:    make(chan struct{}),
		logger:  log.Default().WithPrefix("outbox"),
		maxWait: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	go o.run()
	return o, nil
}

// Path returns the outbox file location.
func (o *Outbox) Path() string {
	return o.path
}

// Notify queues the event for writing. It never blocks.
func (o *Outbox) Notify(_ context.Context, ev models.SubmissionEvent) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return ErrOutboxClosed
	}
	select {
	case o.events <- ev:
		return nil
	default:
		o.logger.Warn("dropping submission, outbox buffer full", "submission", ev.ID)
		return ErrOutboxFull
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (o *Outbox) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		<-o.done
		return nil
	}
	o.closed = true
	close(o.events)
	o.mu.Unlock()

	<-o.done
	return nil
}

func (o *Outbox) run() {
	defer close(o.done)
	for ev := range o.events {
		if err := o.writeWithRetry(ev); err != nil {
			o.logger.Error("failed to write submission", "submission", ev.ID, "err", err)
			continue
		}
		o.logger.Debug("submission written", "submission", ev.ID, "path", o.path)
	}
}

func (o *Outbox) writeWithRetry(ev models.SubmissionEvent) error {
	data, err := yaml.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding submission: %w", err)
	}
	doc := append([]byte("---\n"), data...)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = o.maxWait

	return backoff.RetryNotify(func() error {
		return o.appendDoc(doc)
	}, policy, func(err error, next time.Duration) {
		o.logger.Warn("outbox write failed, retrying", "submission", ev.ID, "err", err, "in", next)
	})
}

func (o *Outbox) appendDoc(doc []byte) error {
	f, err := os.OpenFile(o.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening outbox: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(doc); err != nil {
		return fmt.Errorf("writing outbox: %w", err)
	}
	return nil
}

// ReadOutbox decodes every submission stored in an outbox file.
func ReadOutbox(path string) ([]models.SubmissionEvent, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening outbox: %w", err)
	}
	defer f.Close()

	var out []models.SubmissionEvent
	dec := yaml.NewDecoder(f)
	for {
		var ev models.SubmissionEvent
		err := dec.Decode(&ev)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decoding outbox: %w", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
