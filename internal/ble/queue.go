package ble

import "sync"

// EventQueue delivers events on a channel in the order they were pushed.
// Push never blocks, so adapters can report outcomes while the consumer
// holds its own locks.
type EventQueue struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	out  chan Event
	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// NewEventQueue creates a queue and starts its delivery goroutine.
func NewEventQueue() *EventQueue {
	q := &EventQueue{
		out:  make(chan Event),
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go q.pump()
	return q
}

// Events returns the delivery channel. It is closed after Close once the
// delivery goroutine exits.
func (q *EventQueue) Events() <-chan Event {
	return q.out
}

// Push appends ev. Events pushed after Close are discarded.
func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Close stops delivery. Undelivered events are dropped. Safe to call
// multiple times.
func (q *EventQueue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.pending = nil
		q.mu.Unlock()
		close(q.done)
	})
}

func (q *EventQueue) pump() {
	defer close(q.out)
	for {
		select {
		case <-q.done:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.pending) == 0 {
				q.mu.Unlock()
				break
			}
			ev := q.pending[0]
			q.pending = q.pending[1:]
			q.mu.Unlock()

			select {
			case q.out <- ev:
			case <-q.done:
				return
			}
		}
	}
}
