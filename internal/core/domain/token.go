package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TokenResponse is the token endpoint's 2xx JSON body.
type TokenResponse struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresIn    Seconds `json:"expires_in"`
	TokenType    string  `json:"token_type,omitempty"`
	Scope        string  `json:"scope,omitempty"`
	IDToken      string  `json:"id_token,omitempty"`
}

// Validate checks the fields a SessionState needs.
func (r *TokenResponse) Validate() error {
	switch {
	case r.AccessToken == "":
		return ErrMalformedTokenResponse.WithDetails("access_token missing")
	case r.ExpiresIn <= 0:
		return ErrMalformedTokenResponse.WithDetails("expires_in missing or not positive")
	}
	return nil
}

// Seconds is a lifetime in whole seconds. It decodes from a JSON number or
// a numeric JSON string, since providers send both.
type Seconds int64

// Milliseconds returns the lifetime in milliseconds.
func (s Seconds) Milliseconds() int64 {
	return int64(s) * 1000
}

// Duration returns the lifetime as a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(s) * time.Second
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		data = []byte(str)
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("expires_in: %w", err)
	}
	*s = Seconds(f)
	return nil
}
