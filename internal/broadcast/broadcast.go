package broadcast

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("broadcast channel closed")

// Channel is a best-effort, self-delivering pub/sub channel.
type Channel interface {
	// Publish sends msg to every subscriber of every tab, including this one.
	Publish(msg []byte) error

	// Subscribe registers fn for incoming messages. The returned function
	// cancels the registration.
	Subscribe(fn func(msg []byte)) (cancel func())

	// Close releases the channel's resources.
	Close() error
}

// subscribers is an ordered set of message callbacks.
type subscribers struct {
	mu   sync.Mutex
	next uint64
	fns  []subscriber
}

type subscriber struct {
	id uint64
	fn func([]byte)
}

func (s *subscribers) add(fn func([]byte)) func() {
	s.mu.Lock()
	s.next++
	id := s.next
	s.fns = append(s.fns, subscriber{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sub := range s.fns {
				if sub.id == id {
					s.fns = append(s.fns[:i:i], s.fns[i+1:]...)
					return
				}
			}
		})
	}
}

// deliver calls every subscriber with a private copy of msg.
func (s *subscribers) deliver(msg []byte) {
	s.mu.Lock()
	fns := make([]subscriber, len(s.fns))
	copy(fns, s.fns)
	s.mu.Unlock()

	for _, sub := range fns {
		m := make([]byte, len(msg))
		copy(m, msg)
		sub.fn(m)
	}
}

func (s *subscribers) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fns)
}
