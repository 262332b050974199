package generate

import (
	"sync"
	"sync/atomic"

	"github.com/hataori-ai/hataori/internal/model"
)

// Event is one progress notification, published after a durable persistence
// event. Completed is monotonically non-decreasing across the run; Records
// carries the rows the store just confirmed.
type Event struct {
	Completed int
	Total     int
	Records   []model.DatasetRecord
}

// Notifier fans progress events out to subscriber channels. Delivery is
// at-least semantics: slow subscribers with a full buffer drop events
// rather than blocking the generation pipeline.
type Notifier struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewNotifier creates an empty notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[chan Event]struct{})}
}

// Subscribe returns a buffered channel of progress events. The channel is
// closed when the run finishes. Call Unsubscribe to detach early.
func (n *Notifier) Subscribe() chan Event {
	ch := make(chan Event, 64)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch
	}
	n.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (n *Notifier) Unsubscribe(ch chan Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.subs[ch]; !ok {
		return
	}
	delete(n.subs, ch)
	close(ch)
}

// Close closes every subscriber channel. Published events after Close are
// discarded.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.subs {
		delete(n.subs, ch)
		close(ch)
	}
}

func (n *Notifier) publish(ev Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for ch := range n.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber is behind; drop rather than stall the run.
		}
	}
}

// tracker is the shared progress state of one run. The counter is the
// single source of truth for how many records exist so far — it advances
// only by store-confirmed row counts, never by generation attempts.
type tracker struct {
	total    int
	count    atomic.Int64
	notifier *Notifier
}

// persisted records n store-confirmed rows and notifies subscribers.
func (t *tracker) persisted(records []model.DatasetRecord) {
	if len(records) == 0 {
		return
	}
	completed := t.count.Add(int64(len(records)))
	t.notifier.publish(Event{
		Completed: int(completed),
		Total:     t.total,
		Records:   records,
	})
}
