package filestore

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/tabsession-go/internal/storage"
)

// watchLoop turns directory events into change notifications.
func (s *Store) watchLoop() {
	defer s.wg.Done()

	for {
		select {
		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			key, ok := decodeKey(filepath.Base(event.Name))
			if !ok {
				continue
			}
			s.handle(key)

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Error("file store watcher error", "dir", s.dir, "error", err)

		case <-s.done:
			return
		}
	}
}

// handle reads the current bytes for key and notifies watchers if they
// changed since last seen and were written by another tab.
func (s *Store) handle(key string) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("file store read failed", "key", key, "error", err)
		return
	}
	current := string(raw)

	s.mu.Lock()
	prev, known := s.seen[key]
	if known && prev == current {
		s.mu.Unlock()
		return
	}
	s.seen[key] = current
	s.mu.Unlock()

	if len(raw) > 0 {
		env, err := storage.DecodeEnvelope(raw)
		if err != nil {
			s.logger.Warn("ignoring malformed file", "key", key)
			return
		}
		if env.Origin == s.tabID {
			return
		}
	}

	s.logger.Debug("file store change", "key", key)
	s.watchers.Notify(key)
}
