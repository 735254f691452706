package domain

import (
	"encoding/json"
	"time"
)

// SessionState is one issued token set.
//
// A SessionState is immutable once constructed. It is only created from a
// token endpoint response and is replaced wholesale on every exchange.
type SessionState struct {
	// AccessToken is the bearer token handed to subscribers.
	AccessToken string `json:"accessToken"`

	// RefreshToken is exchanged for the next SessionState.
	RefreshToken string `json:"refreshToken"`

	// ExpiresAt is the absolute expiry (Unix milliseconds), fixed at
	// exchange time as now + expires_in.
	ExpiresAt int64 `json:"expiresAt"`
}

// FromTokenResponse maps a token endpoint response to a SessionState.
func FromTokenResponse(resp *TokenResponse, now time.Time) *SessionState {
	return &SessionState{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.UnixMilli() + resp.ExpiresIn.Milliseconds(),
	}
}

// HasExpired reports whether now is past ExpiresAt.
// A state is still valid at exactly ExpiresAt.
func (s *SessionState) HasExpired(now time.Time) bool {
	return now.UnixMilli() > s.ExpiresAt
}

// ExpiresIn returns the time left until ExpiresAt, negative once passed.
func (s *SessionState) ExpiresIn(now time.Time) time.Duration {
	return time.Duration(s.ExpiresAt-now.UnixMilli()) * time.Millisecond
}

// Expiry returns ExpiresAt as a time.Time.
func (s *SessionState) Expiry() time.Time {
	return time.UnixMilli(s.ExpiresAt)
}

// Equal reports whether two states carry the same tokens and expiry.
// Two nil states are equal.
func (s *SessionState) Equal(o *SessionState) bool {
	if s == nil || o == nil {
		return s == o
	}
	return *s == *o
}

// Marshal encodes the state for the persistent store.
func (s *SessionState) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSessionState decodes a stored state.
//
// Missing, malformed or incomplete data yields nil ("no session") rather
// than an error.
func UnmarshalSessionState(data []byte) *SessionState {
	if len(data) == 0 {
		return nil
	}
	var s SessionState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	if s.AccessToken == "" || s.ExpiresAt == 0 {
		return nil
	}
	return &s
}
