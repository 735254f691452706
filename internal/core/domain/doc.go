// Package domain defines the core domain models for tabsession.
//
// Domain models are pure value objects without IO dependencies:
//
//   - SessionState: access token, refresh token and absolute expiry
//   - LockRecord: a claim on a cross-process lock slot
//   - TokenResponse: the token endpoint's JSON body
//   - Errors: coded domain errors (InvalidState, ExchangeFailed, ...)
//
// Time is always passed in by the caller so every predicate here is
// deterministic under a virtual clock.
package domain
