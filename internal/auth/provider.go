package auth

import (
	"context"
	"time"
)

// Provider identifies an upstream API provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// FlowKind selects how a provider's authorization completes.
type FlowKind string

const (
	// FlowCode is the authorization-code + PKCE flow: the caller returns
	// a code which Complete exchanges for a credential.
	FlowCode FlowKind = "code"
	// FlowWeb is the browser-polling flow: authorization happens entirely
	// in an external browser and an adapter-side poller detects success.
	FlowWeb FlowKind = "web"
)

// ProviderConfig describes one provider's OAuth endpoints. Loaded once at
// startup and treated as read-only for the process lifetime.
type ProviderConfig struct {
	ClientID     string
	AuthorizeURL string
	TokenURL     string
	// APIKeyURL, when set, is the secondary issuance endpoint that turns an
	// access token into a durable API key.
	APIKeyURL   string
	RedirectURI string
	Scopes      []string
	Flow        FlowKind
}

// CredentialSource records how a credential entered the store.
type CredentialSource string

const (
	// SourceOAuth marks credentials provisioned by this orchestrator.
	SourceOAuth CredentialSource = "oauth"
	// SourceManual marks credentials the user supplied directly. Logout
	// never touches these.
	SourceManual CredentialSource = "manual"
)

// CredentialMetadata is the structured per-credential metadata. Explicit
// fields rather than a serialized blob, so a missing field is visibly empty
// instead of silently unparseable.
type CredentialMetadata struct {
	IssuanceID  string           `json:"issuance_id,omitempty"`
	DisplayName string           `json:"display_name,omitempty"`
	IssuedAt    string           `json:"issued_at,omitempty"`
	SecretHint  string           `json:"secret_hint,omitempty"`
	Source      CredentialSource `json:"source,omitempty"`
}

// Credential is the durable secret stored for a provider after successful
// provisioning. Secret never appears in logs or error messages.
type Credential struct {
	Provider  Provider
	Secret    string
	Metadata  CredentialMetadata
	CreatedAt time.Time
}

// CredentialStore is the durable storage contract the orchestrator depends
// on. At most one credential per provider.
type CredentialStore interface {
	Upsert(ctx context.Context, cred *Credential) error
	// GetByProvider returns (nil, nil) when no row exists for the provider.
	GetByProvider(ctx context.Context, provider Provider) (*Credential, error)
	// Clear empties the secret and metadata but retains the provider row.
	Clear(ctx context.Context, provider Provider) error
	Delete(ctx context.Context, provider Provider) error
}
