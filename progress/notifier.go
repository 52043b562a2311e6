// Package progress fans task status changes out to interested subscribers,
// typically SSE streams held open by the HTTP gateway. Topics are created
// lazily per task and torn down once the terminal event is delivered.
package progress

import (
	"sync"
	"time"

	"github.com/contrail-ai/contrail/tracking"
)

// DefaultBuffer is the per-subscriber event buffer size.
const DefaultBuffer = 16

// Event is one observable status change on a task.
type Event struct {
	TaskID      string          `json:"task_id"`
	Status      tracking.Status `json:"status"`
	Participant string          `json:"participant,omitempty"`
	Pending     []string        `json:"pending,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Task        *tracking.Task  `json:"task,omitempty"`
}

// Terminal reports whether no further events will follow for this task.
func (e Event) Terminal() bool {
	return e.Status.Terminal()
}

// Subscription is one subscriber's view of a task's events. C is closed
// after the terminal event is delivered or the subscription is cancelled.
type Subscription struct {
	C      <-chan Event
	ch     chan Event
	closed bool
	cancel func()
}

// Cancel detaches the subscription and closes C. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.cancel()
}

type topic struct {
	subs map[*Subscription]struct{}
}

// FromTask builds the event describing a task snapshot.
func FromTask(task *tracking.Task) Event {
	ev := Event{
		TaskID:    task.ID,
		Status:    task.Status,
		Pending:   task.Pending,
		Timestamp: time.Now().UTC(),
	}
	if task.Status.Terminal() {
		ev.Task = task
	}
	return ev
}

// Notifier routes task events to per-task subscribers. Slow subscribers
// lose their oldest buffered events rather than blocking publishers; the
// terminal event is always delivered. Terminal snapshots are retained for
// the configured window so late subscribers still learn the outcome.
type Notifier struct {
	mu        sync.Mutex
	topics    map[string]*topic
	done      map[string]Event
	buffer    int
	retention time.Duration
}

// NewNotifier creates a notifier. Non-positive arguments fall back to
// DefaultBuffer and tracking.DefaultRetention.
func NewNotifier(buffer int, retention time.Duration) *Notifier {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if retention <= 0 {
		retention = tracking.DefaultRetention
	}
	return &Notifier{
		topics:    make(map[string]*topic),
		done:      make(map[string]Event),
		buffer:    buffer,
		retention: retention,
	}
}

// Subscribe attaches to a task's event stream. A subscriber arriving after
// the task went terminal receives the retained terminal event and an
// immediately closed channel.
func (n *Notifier) Subscribe(taskID string) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ev, terminal := n.done[taskID]; terminal {
		ch := make(chan Event, 1)
		ch <- ev
		close(ch)
		return &Subscription{C: ch, ch: ch, closed: true, cancel: func() {}}
	}

	tp, ok := n.topics[taskID]
	if !ok {
		tp = &topic{subs: make(map[*Subscription]struct{})}
		n.topics[taskID] = tp
	}

	ch := make(chan Event, n.buffer)
	sub := &Subscription{C: ch, ch: ch}
	sub.cancel = func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(tp.subs, sub)
		if !sub.closed {
			sub.closed = true
			close(ch)
		}
		if len(tp.subs) == 0 && n.topics[taskID] == tp {
			delete(n.topics, taskID)
		}
	}
	tp.subs[sub] = struct{}{}
	return sub
}

// Publish delivers an event to every subscriber of its task. A terminal
// event closes all subscriptions, tears the topic down, and records the
// event for late subscribers. Delivery never blocks; a full subscriber
// buffer drops its oldest event to make room.
func (n *Notifier) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	n.evictStale(ev.Timestamp)

	terminal := ev.Terminal()
	if terminal {
		n.done[ev.TaskID] = ev
	}

	tp := n.topics[ev.TaskID]
	if tp == nil {
		return
	}

	for sub := range tp.subs {
		send(sub.ch, ev)
		if terminal && !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	if terminal {
		delete(n.topics, ev.TaskID)
	}
}

// send enqueues without blocking, dropping the oldest buffered event when
// the channel is full.
func send(ch chan Event, ev Event) {
	select {
	case ch <- ev:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- ev:
	default:
	}
}

// evictStale drops retained terminal events past the retention window.
// Called with the lock held.
func (n *Notifier) evictStale(now time.Time) {
	for id, ev := range n.done {
		if now.Sub(ev.Timestamp) > n.retention {
			delete(n.done, id)
		}
	}
}

// Topics returns the number of live topics, for health reporting.
func (n *Notifier) Topics() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.topics)
}
