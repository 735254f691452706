// Package memory provides a process-local storage backend.
//
// A Backend holds one key-value map; every tab opens its own view with
// Backend.Open. Writes are visible to all views immediately and are
// announced synchronously, after the write completes, to the watchers of
// every other view.
package memory
