package broadcast

import (
	"sync"
)

// Hub connects in-process endpoints. A message published on any endpoint
// is delivered synchronously to every endpoint, publisher included.
type Hub struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Join returns a new endpoint attached to the hub.
func (h *Hub) Join() *Endpoint {
	e := &Endpoint{hub: h}
	h.mu.Lock()
	h.endpoints = append(h.endpoints, e)
	h.mu.Unlock()
	return e
}

func (h *Hub) snapshot() []*Endpoint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Endpoint, len(h.endpoints))
	copy(out, h.endpoints)
	return out
}

func (h *Hub) leave(e *Endpoint) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, ep := range h.endpoints {
		if ep == e {
			h.endpoints = append(h.endpoints[:i:i], h.endpoints[i+1:]...)
			return
		}
	}
}

// Endpoint is one tab's connection to a Hub. It implements Channel.
type Endpoint struct {
	hub  *Hub
	subs subscribers

	mu     sync.Mutex
	closed bool
}

var _ Channel = (*Endpoint)(nil)

// Publish delivers msg to every endpoint of the hub.
func (e *Endpoint) Publish(msg []byte) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	for _, ep := range e.hub.snapshot() {
		ep.subs.deliver(msg)
	}
	return nil
}

// Subscribe registers fn for messages.
func (e *Endpoint) Subscribe(fn func(msg []byte)) func() {
	return e.subs.add(fn)
}

// Close detaches the endpoint from the hub.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.hub.leave(e)
	return nil
}
