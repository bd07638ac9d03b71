package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrEntropyUnavailable indicates the system random source could not be
	// read. Fatal for the calling flow; not retryable within the call.
	ErrEntropyUnavailable = errors.New("entropy unavailable")

	// ErrConfigMissing indicates no provider configuration was resolved.
	ErrConfigMissing = errors.New("provider not configured")

	// ErrMissingCode indicates Complete was called with an empty code.
	ErrMissingCode = errors.New("authorization code missing")

	// ErrSessionNotFound indicates no live attempt exists for the provider.
	ErrSessionNotFound = errors.New("auth session not found")

	// ErrSessionExpired indicates the attempt outlived its TTL. The caller
	// must restart the flow.
	ErrSessionExpired = errors.New("auth session expired")

	// ErrSessionCorrupt indicates a stored attempt could not be decoded.
	// Distinct from ErrSessionNotFound so callers can tell "no session"
	// from "unreadable session".
	ErrSessionCorrupt = errors.New("auth session corrupt")
)

// TokenExchangeError reports a failed authorization-code exchange. Status
// carries the upstream HTTP status, or a synthetic 599 when the request
// never produced a response.
type TokenExchangeError struct {
	Status int
	Body   string
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("token exchange failed: status %d: %s", e.Status, e.Body)
}

// CredentialIssuanceError reports a failed secondary API-key issuance call.
type CredentialIssuanceError struct {
	Status int
	Body   string
}

func (e *CredentialIssuanceError) Error() string {
	return fmt.Sprintf("credential issuance failed: status %d: %s", e.Status, e.Body)
}
