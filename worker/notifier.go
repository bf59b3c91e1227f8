package worker

import (
	"log/slog"
	"sync"

	"github.com/mkallweit/normrel/model"
)

// Notifier fans progress events out to subscribers. Delivery is
// best-effort: an event is dropped for a subscriber whose channel is
// full, a slow consumer never blocks the pipeline.
type Notifier struct {
	mu          sync.Mutex
	subscribers map[int]chan model.ProgressEvent
	nextID      int
	bufferSize  int
	logger      *slog.Logger
}

// NewNotifier creates a notifier with the given per-subscriber buffer
func NewNotifier(bufferSize int, logger *slog.Logger) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Notifier{
		subscribers: map[int]chan model.ProgressEvent{},
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe registers a new subscriber. The returned cancel function
// removes the subscription and closes the channel.
func (n *Notifier) Subscribe() (<-chan model.ProgressEvent, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	ch := make(chan model.ProgressEvent, n.bufferSize)
	n.subscribers[id] = ch

	cancel := func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if existing, ok := n.subscribers[id]; ok {
			delete(n.subscribers, id)
			close(existing)
		}
	}
	return ch, cancel
}

// Publish delivers an event to all subscribers without blocking
func (n *Notifier) Publish(event model.ProgressEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			n.logger.Debug("Dropped progress event for slow subscriber",
				slog.Int("subscriber", id),
				slog.String("document", event.DocumentRID.String()))
		}
	}
}

// Close removes all subscribers and closes their channels
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subscribers {
		delete(n.subscribers, id)
		close(ch)
	}
}
