package stream

import "sync"

// Sink receives published values.
type Sink[T any] func(T)

// Unsubscribe removes a sink. Calling it more than once is a no-op.
type Unsubscribe func()

// Value is a replay-of-one reactive value.
//
// Value is safe for concurrent use. Publishes are serialized and delivered
// synchronously on the publishing goroutine. Sinks run without any internal
// lock held, so a sink may unsubscribe itself or other sinks; the publish in
// progress still reaches every sink that was subscribed when it started.
// A sink must not Publish to the Value that is delivering to it.
type Value[T any] struct {
	deliver sync.Mutex // serializes Publish and replay-on-Subscribe

	mu     sync.Mutex
	subs   []*subscription[T]
	latest T
	set    bool
}

type subscription[T any] struct {
	sink   Sink[T]
	active bool
}

// New creates an unset Value.
func New[T any]() *Value[T] {
	return &Value[T]{}
}

// Subscribe registers sink. If a value has been published, sink is called
// with it before Subscribe returns.
func (v *Value[T]) Subscribe(sink Sink[T]) Unsubscribe {
	v.deliver.Lock()
	defer v.deliver.Unlock()

	v.mu.Lock()
	latest, set := v.latest, v.set
	v.mu.Unlock()

	if set {
		sink(latest)
	}

	sub := &subscription[T]{sink: sink, active: true}
	v.mu.Lock()
	v.subs = append(v.subs, sub)
	v.mu.Unlock()

	return func() { v.remove(sub) }
}

// Publish delivers value to every current sink in subscription order, then
// stores it as the latest value.
func (v *Value[T]) Publish(value T) {
	v.deliver.Lock()
	defer v.deliver.Unlock()

	v.mu.Lock()
	snapshot := make([]*subscription[T], len(v.subs))
	copy(snapshot, v.subs)
	v.mu.Unlock()

	for _, sub := range snapshot {
		sub.sink(value)
	}

	v.mu.Lock()
	v.latest = value
	v.set = true
	v.mu.Unlock()
}

// Latest returns the most recently published value and whether one exists.
func (v *Value[T]) Latest() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest, v.set
}

// Len returns the number of active subscribers.
func (v *Value[T]) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

func (v *Value[T]) remove(sub *subscription[T]) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !sub.active {
		return
	}
	sub.active = false
	for i, s := range v.subs {
		if s == sub {
			v.subs = append(v.subs[:i:i], v.subs[i+1:]...)
			return
		}
	}
}
