// Package storage provides the persistent store shared by all tabs.
//
// A [Store] is one tab's view of a key-value space that every tab can read
// and write. Its Watch callbacks fire only for writes made through other
// views, never for the view's own writes, which matches how browser storage
// events behave and lets callers republish foreign state without echoing
// their own writes back.
//
// Backends:
//
//   - memory: process-local map shared by views (tests, embedded hosts)
//   - BadgerStore: Badger v3 database shared by views in one process,
//     change feed via DB.Subscribe
//   - filestore: one file per key in a directory, change feed via fsnotify,
//     usable by separate processes
//
// Values written by the Badger and file backends are wrapped in an origin
// [Envelope] so a view can tell its own writes from foreign ones.
package storage
