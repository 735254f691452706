package storage

import (
	"errors"
	"sync"
)

// Common errors
var (
	ErrKeyNotFound = errors.New("key not found")
	ErrClosed      = errors.New("store closed")
)

// Store is one tab's view of the shared key-value space.
//
// Reads and writes are synchronous. A read is a snapshot that may already
// be stale by the time the caller acts on it.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(key string) ([]byte, error)

	// Set stores value under key.
	Set(key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Watch registers fn to be called with the key of every change made by
	// another view. The returned function cancels the registration.
	Watch(fn func(key string)) (cancel func())
}

// WatcherSet is an ordered set of change callbacks. Backends embed it to
// implement Watch.
type WatcherSet struct {
	mu   sync.Mutex
	next uint64
	fns  []watcher
}

type watcher struct {
	id uint64
	fn func(key string)
}

// Add registers fn and returns its cancel function.
func (w *WatcherSet) Add(fn func(key string)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.next++
	id := w.next
	w.fns = append(w.fns, watcher{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { w.remove(id) })
	}
}

// Notify calls every registered callback, in registration order, with key.
// No lock is held while callbacks run.
func (w *WatcherSet) Notify(key string) {
	w.mu.Lock()
	fns := make([]watcher, len(w.fns))
	copy(fns, w.fns)
	w.mu.Unlock()

	for _, entry := range fns {
		entry.fn(key)
	}
}

// Len returns the number of registered callbacks.
func (w *WatcherSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.fns)
}

func (w *WatcherSet) remove(id uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, entry := range w.fns {
		if entry.id == id {
			w.fns = append(w.fns[:i:i], w.fns[i+1:]...)
			return
		}
	}
}
