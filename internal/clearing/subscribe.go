package clearing

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Unsubscribe stops delivery to one subscriber. Safe to call more than
// once.
type Unsubscribe func()

// subscriberBuffer bounds the per-subscriber queue. A clearing
// operation emits at most a handful of transitions, so overflow only
// happens with a stalled callback.
const subscriberBuffer = 16

// subscriptions fans status transitions out to per-token subscribers.
// Each subscriber gets its own delivery goroutine and queue, so one
// slow callback never delays another subscriber or the engine, while
// each subscriber still observes transitions in order.
type subscriptions struct {
	log logrus.FieldLogger

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]*subscriber
}

type subscriber struct {
	updates chan Status
	stop    chan struct{}
	once    sync.Once
}

func newSubscriptions(log logrus.FieldLogger) *subscriptions {
	return &subscriptions{
		log:  log.WithField("component", "clearing_subs"),
		subs: make(map[string]map[uint64]*subscriber),
	}
}

// add registers a callback for one token's transitions.
func (s *subscriptions) add(tokenID string, onUpdate func(Status)) Unsubscribe {
	sub := &subscriber{
		updates: make(chan Status, subscriberBuffer),
		stop:    make(chan struct{}),
	}

	s.mu.Lock()

	s.nextID++
	id := s.nextID

	if s.subs[tokenID] == nil {
		s.subs[tokenID] = make(map[uint64]*subscriber)
	}

	s.subs[tokenID][id] = sub
	s.mu.Unlock()

	go sub.deliver(onUpdate)

	return func() {
		sub.once.Do(func() {
			close(sub.stop)
		})

		s.mu.Lock()
		defer s.mu.Unlock()

		delete(s.subs[tokenID], id)

		if len(s.subs[tokenID]) == 0 {
			delete(s.subs, tokenID)
		}
	}
}

// notify queues a status for every subscriber of the token. Never
// blocks the caller.
func (s *subscriptions) notify(tokenID string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs[tokenID] {
		select {
		case sub.updates <- status:
		default:
			s.log.WithField("token", tokenID).
				Warn("Subscriber queue full, dropping status update")
		}
	}
}

// deliver drains the subscriber's queue until unsubscribed. Checking
// stop before each callback means no further callbacks run once
// Unsubscribe returns control.
func (sub *subscriber) deliver(onUpdate func(Status)) {
	for {
		select {
		case <-sub.stop:
			return
		case status := <-sub.updates:
			select {
			case <-sub.stop:
				return
			default:
			}

			onUpdate(status)
		}
	}
}
