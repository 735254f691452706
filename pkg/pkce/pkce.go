package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
)

const (
	// Alphabet is the RFC 7636 unreserved character set.
	Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

	// VerifierLength is the code verifier length (the RFC 7636 maximum).
	VerifierLength = 128

	// StateTokenLength is the anti-forgery state token length.
	StateTokenLength = 12

	// MethodS256 is the only challenge method this package produces.
	MethodS256 = "S256"
)

// RandomToken returns size characters drawn from Alphabet.
func RandomToken(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)%len(Alphabet)]
	}
	return string(buf), nil
}

// NewVerifier generates a fresh code verifier.
func NewVerifier() (string, error) {
	return RandomToken(VerifierLength)
}

// NewStateToken generates a fresh anti-forgery state token.
func NewStateToken() (string, error) {
	return RandomToken(StateTokenLength)
}

// Challenge derives the S256 code challenge for verifier.
func Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// Pair is a verifier together with its challenge.
type Pair struct {
	Verifier  string
	Challenge string
	Method    string
}

// NewPair generates a verifier and derives its challenge.
func NewPair() (Pair, error) {
	verifier, err := NewVerifier()
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		Verifier:  verifier,
		Challenge: Challenge(verifier),
		Method:    MethodS256,
	}, nil
}
