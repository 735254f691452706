package filestore

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/tabsession-go/internal/storage"
)

const (
	fileSuffix = ".val"
	tempPrefix = ".tmp-"
)

// Store is one tab's view of a shared directory. It implements
// storage.Store.
type Store struct {
	dir    string
	tabID  string
	logger *slog.Logger

	watchers storage.WatcherSet

	// seen holds the raw bytes last read or written per key, used to
	// collapse the several fsnotify events one rename produces.
	mu   sync.Mutex
	seen map[string]string

	fsw    *fsnotify.Watcher
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open opens the directory dir for the tab tabID, creating it if needed,
// and starts watching it.
func Open(dir, tabID string, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("filestore: dir is required")
	}
	if tabID == "" {
		return nil, fmt.Errorf("filestore: tab id is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("filestore: create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("filestore: watch dir: %w", err)
	}

	s := &Store{
		dir:    dir,
		tabID:  tabID,
		logger: slog.Default(),
		seen:   make(map[string]string),
		fsw:    fsw,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.watchLoop()

	s.logger.Debug("file store opened", "dir", dir, "tab_id", tabID)
	return s, nil
}

// Dir returns the backing directory.
func (s *Store) Dir() string {
	return s.dir
}

// Get returns the value for key.
func (s *Store) Get(key string) ([]byte, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, storage.ErrKeyNotFound
		}
		return nil, fmt.Errorf("filestore: read %q: %w", key, err)
	}
	env, err := storage.DecodeEnvelope(raw)
	if err != nil {
		s.logger.Warn("malformed file read as absent", "key", key)
		return nil, storage.ErrKeyNotFound
	}
	if env.Deleted {
		return nil, storage.ErrKeyNotFound
	}
	return env.Payload, nil
}

// Set stores value under key.
func (s *Store) Set(key string, value []byte) error {
	return s.write(key, storage.Envelope{Origin: s.tabID, Payload: value})
}

// Delete writes a tombstone for key.
func (s *Store) Delete(key string) error {
	if _, err := os.Stat(s.path(key)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return s.write(key, storage.Envelope{Origin: s.tabID, Deleted: true})
}

// Watch registers fn for changes made by other tabs.
func (s *Store) Watch(fn func(key string)) func() {
	return s.watchers.Add(fn)
}

// Close stops the directory watcher.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	err := s.fsw.Close()
	s.wg.Wait()
	if err != nil {
		return fmt.Errorf("filestore: close watcher: %w", err)
	}
	return nil
}

func (s *Store) write(key string, env storage.Envelope) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return storage.ErrClosed
	}

	raw := env.Encode()
	if err := writeFileAtomic(s.dir, s.path(key), raw); err != nil {
		return fmt.Errorf("filestore: write %q: %w", key, err)
	}

	s.mu.Lock()
	s.seen[key] = string(raw)
	s.mu.Unlock()
	return nil
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, encodeKey(key)+fileSuffix)
}

// writeFileAtomic writes data to a temp file in dir and renames it to path.
func writeFileAtomic(dir, path string, data []byte) error {
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func decodeKey(name string) (string, bool) {
	if strings.HasPrefix(name, tempPrefix) || !strings.HasSuffix(name, fileSuffix) {
		return "", false
	}
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSuffix(name, fileSuffix))
	if err != nil {
		return "", false
	}
	return string(b), true
}
