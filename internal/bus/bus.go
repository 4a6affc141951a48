// Package bus fans JSON payloads out to many concurrent stream
// subscribers. Publication never blocks the publisher; each subscriber
// drains its own FIFO queue.
package bus

import (
	"sync"
	"time"
)

// Subscriber receives published payloads in publish order.
type Subscriber struct {
	mu     sync.Mutex
	queue  []string
	wake   chan struct{}
	closed bool
}

func newSubscriber() *Subscriber {
	return &Subscriber{wake: make(chan struct{}, 1)}
}

func (s *Subscriber) push(payload string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.queue = nil
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Next pops the oldest payload, waiting up to timeout for one to arrive.
// It returns ok=false once the subscriber is closed; timedOut=true when
// the wait expired with an empty queue (callers emit a keep-alive then).
func (s *Subscriber) Next(timeout time.Duration) (payload string, ok, timedOut bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			payload = s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return payload, true, false
		}
		if s.closed {
			s.mu.Unlock()
			return "", false, false
		}
		s.mu.Unlock()

		select {
		case <-s.wake:
		case <-deadline.C:
			return "", true, true
		}
	}
}

// Hub is one fan-out channel. The gateway runs two: order events and
// market data.
type Hub struct {
	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber.
func (h *Hub) Subscribe() *Subscriber {
	sub := newSubscriber()
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes and closes the subscriber.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.close()
}

// Publish enqueues payload on every live subscriber without blocking.
func (h *Hub) Publish(payload string) {
	h.mu.Lock()
	for sub := range h.subs {
		sub.push(payload)
	}
	h.mu.Unlock()
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber and empties the hub.
func (h *Hub) Close() {
	h.mu.Lock()
	subs := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.subs = make(map[*Subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
}
