// Package pkce provides Proof Key for Code Exchange helpers.
//
// It generates the random values a public OAuth2 client needs to start an
// authorization-code flow:
//
//   - Code verifier: 128 characters from the RFC 7636 unreserved alphabet
//   - Code challenge: base64url (no padding) of SHA-256(verifier), method S256
//   - State token: 12 characters from the same alphabet, used as the
//     anti-forgery "state" parameter and as the key of the stored verifier
//
// All randomness comes from crypto/rand.
package pkce
