// Package session maintains one logical OAuth2 session per tab and keeps
// it consistent across tabs sharing a store.
//
// A Controller resolves its initial state from the redirect callback, the
// store, or neither; refreshes the access token ahead of expiry under the
// cross-tab refresh lock; drops the session when it expires; and adopts
// sessions written by other tabs. Exchange failures never surface as
// errors: they become state transitions, and the access-token stream
// reports "" when there is no session.
//
// Sinks passed to OnChange and Subscribe run synchronously while a new
// state is being published and must not call Login, Logout or Close.
package session
