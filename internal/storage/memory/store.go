package memory

import (
	"sync"

	"github.com/yndnr/tabsession-go/internal/storage"
)

// Backend is a shared in-memory key-value map.
type Backend struct {
	mu    sync.RWMutex
	data  map[string][]byte
	views []*Store
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		data: make(map[string][]byte),
	}
}

// Open returns a new view. tabID is informational.
func (b *Backend) Open(tabID string) *Store {
	s := &Store{backend: b, tabID: tabID}
	b.mu.Lock()
	b.views = append(b.views, s)
	b.mu.Unlock()
	return s
}

// Len returns the number of stored keys.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

func (b *Backend) others(self *Store) []*Store {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Store, 0, len(b.views))
	for _, v := range b.views {
		if v != self {
			out = append(out, v)
		}
	}
	return out
}

// Store is one tab's view of a Backend.
type Store struct {
	backend  *Backend
	tabID    string
	watchers storage.WatcherSet
}

var _ storage.Store = (*Store)(nil)

// TabID returns the id the view was opened with.
func (s *Store) TabID() string {
	return s.tabID
}

// Get returns a copy of the value for key.
func (s *Store) Get(key string) ([]byte, error) {
	s.backend.mu.RLock()
	v, ok := s.backend.data[key]
	s.backend.mu.RUnlock()
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Set stores a copy of value under key and notifies other views.
func (s *Store) Set(key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	s.backend.mu.Lock()
	s.backend.data[key] = v
	s.backend.mu.Unlock()

	s.notify(key)
	return nil
}

// Delete removes key and notifies other views. Removing an absent key
// does not notify.
func (s *Store) Delete(key string) error {
	s.backend.mu.Lock()
	_, ok := s.backend.data[key]
	delete(s.backend.data, key)
	s.backend.mu.Unlock()

	if ok {
		s.notify(key)
	}
	return nil
}

// Watch registers fn for changes made through other views.
func (s *Store) Watch(fn func(key string)) func() {
	return s.watchers.Add(fn)
}

func (s *Store) notify(key string) {
	for _, v := range s.backend.others(s) {
		v.watchers.Notify(key)
	}
}
