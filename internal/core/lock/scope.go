package lock

import (
	"fmt"

	"github.com/spaolacci/murmur3"
)

// Scope selects which lock key guards a refresh.
type Scope string

const (
	// ScopeFixed uses one key for every refresh.
	ScopeFixed Scope = "fixed"

	// ScopeToken derives the key from the refresh token being exchanged.
	ScopeToken Scope = "token"
)

// RefreshKey is the lock key used by ScopeFixed.
const RefreshKey = "refresh"

// ParseScope parses a scope name. Empty selects ScopeFixed.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeFixed:
		return ScopeFixed, nil
	case ScopeToken:
		return ScopeToken, nil
	default:
		return "", fmt.Errorf("unknown lock scope %q", s)
	}
}

// Key returns the lock key guarding an exchange of refreshToken. The raw
// token never appears in the key.
func (s Scope) Key(refreshToken string) string {
	if s != ScopeToken {
		return RefreshKey
	}
	return fmt.Sprintf("rt-%016x", murmur3.Sum64([]byte(refreshToken)))
}
