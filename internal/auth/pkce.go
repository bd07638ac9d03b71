package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// randByteLen is the amount of entropy behind each verifier and state token.
const randByteLen = 32

// PKCE holds a verifier/challenge pair for the S256 code-challenge method
// defined in RFC 7636.
type PKCE struct {
	Verifier  string
	Challenge string
}

// GeneratePKCE creates a new verifier from 32 bytes of cryptographically
// secure randomness and derives its S256 challenge. Both values are
// base64url-encoded without padding.
func GeneratePKCE() (*PKCE, error) {
	verifier, err := randomToken()
	if err != nil {
		return nil, fmt.Errorf("generating code verifier: %w", err)
	}
	return &PKCE{
		Verifier:  verifier,
		Challenge: ChallengeFor(verifier),
	}, nil
}

// ChallengeFor returns base64url(SHA-256(verifier)) without padding.
func ChallengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// GenerateState creates an unguessable anti-forgery state token using the
// same entropy and encoding as the PKCE verifier.
func GenerateState() (string, error) {
	state, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return state, nil
}

func randomToken() (string, error) {
	b := make([]byte, randByteLen)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
