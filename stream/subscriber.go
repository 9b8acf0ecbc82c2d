package stream

import (
	"slices"
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of broker events. Delivery never blocks: when
// the buffer is full the event is dropped for this subscriber and counted.
type Subscriber struct {
	id     string
	topics map[string]struct{}
	ch     chan *Event

	mu      sync.RWMutex // guards ch against send after close
	closed  bool
	dropped atomic.Int64
}

func newSubscriber(id string, buffer int, topics []string) *Subscriber {
	s := &Subscriber{
		id:     id,
		topics: make(map[string]struct{}, len(topics)),
		ch:     make(chan *Event, buffer),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}
	return s
}

func (s *Subscriber) ID() string { return s.id }

// C delivers events. It is closed on Unsubscribe and on broker shutdown.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Topics returns the subscribed topics in sorted order.
func (s *Subscriber) Topics() []string {
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}

// Dropped is the number of events this subscriber missed.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

func (s *Subscriber) follows(topics []string) bool {
	for _, t := range topics {
		if _, ok := s.topics[t]; ok {
			return true
		}
	}
	return false
}

// offer hands evt over without blocking and reports whether it was taken.
func (s *Subscriber) offer(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

func (s *Subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
