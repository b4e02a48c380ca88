package queue

import (
	"fmt"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/vm-uploader/backend/internal/models"
)

// Listener receives queue change notifications.
type Listener interface {
	OnQueueEvent(ev models.QueueEvent)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(ev models.QueueEvent)

// OnQueueEvent implements Listener.
func (f ListenerFunc) OnQueueEvent(ev models.QueueEvent) { f(ev) }

// hub fans queue events out to listeners from a single dispatcher goroutine.
// publish never blocks, so it is safe to call while holding the queue lock.
type hub struct {
	mu           sync.Mutex
	cond         *sync.Cond
	pending      []models.QueueEvent
	listeners    map[uint64]Listener
	nextListener uint64
	seq          uint64
	closed       bool
	done         chan struct{}
	logger       *log.Logger
}

func newHub(logger *log.Logger) *hub {
	h := &hub{
		listeners: make(map[uint64]Listener),
		done:      make(chan struct{}),
		logger:    logger,
	}
	h.cond = sync.NewCond(&h.mu)
	go h.run()
	return h
}

func (h *hub) publish(ev models.QueueEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.seq++
	ev.Seq = h.seq
	h.pending = append(h.pending, ev)
	h.cond.Signal()
}

func (h *hub) subscribe(l Listener) func() {
	h.mu.Lock()
	h.nextListener++
	key := h.nextListener
	h.listeners[key] = l
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, key)
			h.mu.Unlock()
		})
	}
}

func (h *hub) run() {
	defer close(h.done)
	for {
		h.mu.Lock()
		for len(h.pending) == 0 && !h.closed {
			h.cond.Wait()
		}
		if h.closed && len(h.pending) == 0 {
			h.mu.Unlock()
			return
		}
		batch := h.pending
		h.pending = nil
		listeners := h.snapshotListenersLocked()
		h.mu.Unlock()

		for _, ev := range batch {
			for _, l := range listeners {
				h.deliver(l, ev)
			}
		}
	}
}

// snapshotListenersLocked returns listeners in subscription order.
func (h *hub) snapshotListenersLocked() []Listener {
	keys := make([]uint64, 0, len(h.listeners))
	for k := range h.listeners {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	out := make([]Listener, 0, len(keys))
	for _, k := range keys {
		out = append(out, h.listeners[k])
	}
	return out
}

func (h *hub) deliver(l Listener, ev models.QueueEvent) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("listener panicked", "event", ev.Type, "seq", ev.Seq, "panic", fmt.Sprint(r))
		}
	}()
	l.OnQueueEvent(ev)
}

// close drains pending events and stops the dispatcher.
// It must not be called from inside a listener.
func (h *hub) close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		<-h.done
		return
	}
	h.closed = true
	h.cond.Broadcast()
	h.mu.Unlock()
	<-h.done
}
