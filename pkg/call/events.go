package call

import "sync"

// EventQueue is an unbounded FIFO of engine events for one endpoint.
// Push never blocks so that engines may call it from their callbacks.
type EventQueue struct {
	mu     sync.Mutex
	items  []Event
	wake   chan struct{}
	closed bool
}

func NewEventQueue() *EventQueue { return &EventQueue{wake: make(chan struct{}, 1)} }

func (q *EventQueue) Push(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, e)
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Pop waits for the next event.
// It returns false when the queue is closed, pending events are dropped.
func (q *EventQueue) Pop() (Event, bool) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Event{}, false
		}
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, true
		}
		q.mu.Unlock()
		<-q.wake
	}
}

func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.wake)
}
