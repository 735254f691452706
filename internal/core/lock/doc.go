// Package lock implements a coordinator-free mutual exclusion lock shared
// by tabs through a last-write-wins store.
//
// Acquire writes a claim, waits a safety interval long enough for any
// competing claim to propagate, and succeeds only if its own claim is
// still the one in the slot. Claims carry an expiry so a tab that dies
// while holding the lock cannot block the others forever.
//
// When a broadcast channel is available, claims are also announced on it
// so that other tabs see them before the store propagates them.
package lock
