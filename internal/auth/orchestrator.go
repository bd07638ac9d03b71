package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"keymint-go/internal/metrics"
	"keymint-go/internal/session"
	"keymint-go/internal/worker"
)

const (
	// attemptTTL bounds how long an authorization attempt stays valid,
	// enforced at read time.
	attemptTTL = 10 * time.Minute

	// webLoginTTL bounds how long a pending web login is kept before the
	// reaper discards it.
	webLoginTTL = 5 * time.Minute
)

// AuthAttempt is one in-flight authorization attempt, persisted in the
// session store between Start and Complete.
type AuthAttempt struct {
	FlowID    string    `json:"flow_id"`
	Verifier  string    `json:"verifier"`
	State     string    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
}

// StartResult is returned by Start.
type StartResult struct {
	AuthURL  string
	Verifier string
	State    string
}

// CompleteResult is returned by a successful Complete.
type CompleteResult struct {
	APIKey  string
	KeyName string
}

// Status summarizes the stored credential for a provider without exposing
// the raw secret.
type Status struct {
	Authenticated     bool
	IsAutoProvisioned bool
	DisplayName       string
	SecretHint        string
}

// Orchestrator coordinates PKCE generation, session state, provider
// adapters and credential storage. Safe for concurrent use; operations on
// the same provider are loosely consistent (the last Start wins).
type Orchestrator struct {
	providers map[Provider]ProviderConfig
	sessions  session.Store
	creds     CredentialStore
	pending   *WebLoginRegistry
	pool      *worker.Pool
	logger    zerolog.Logger
	httpc     *http.Client

	adapters map[Provider]Adapter
	webAuth  map[Provider]WebAuthenticator
	now      func() time.Time
}

// NewOrchestrator creates an Orchestrator. The provider map is treated as
// read-only; a config change requires a process restart.
func NewOrchestrator(providers map[Provider]ProviderConfig, sessions session.Store, creds CredentialStore, pool *worker.Pool, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		providers: providers,
		sessions:  sessions,
		creds:     creds,
		pending:   NewWebLoginRegistry(webLoginTTL),
		pool:      pool,
		logger:    logger,
		httpc:     &http.Client{Timeout: exchangeTimeout},
		adapters:  make(map[Provider]Adapter),
		webAuth:   make(map[Provider]WebAuthenticator),
		now:       time.Now,
	}
}

// PendingWebLogins exposes the registry for reaper wiring.
func (o *Orchestrator) PendingWebLogins() *WebLoginRegistry {
	return o.pending
}

// SetAdapter overrides the wire adapter for a provider. Used in tests.
func (o *Orchestrator) SetAdapter(provider Provider, a Adapter) {
	o.adapters[provider] = a
}

// SetWebAuthenticator installs the polling-login adapter for a provider.
func (o *Orchestrator) SetWebAuthenticator(provider Provider, w WebAuthenticator) {
	o.webAuth[provider] = w
}

// SetClock overrides the time source. Used in tests.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Start begins an authorization-code flow for provider. Any prior attempt
// for the same provider is silently overwritten; only one browser session
// is expected to be in flight.
func (o *Orchestrator) Start(ctx context.Context, provider Provider) (*StartResult, error) {
	cfg, ok := o.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, provider)
	}

	pkce, err := GeneratePKCE()
	if err != nil {
		return nil, err
	}
	state, err := GenerateState()
	if err != nil {
		return nil, err
	}

	attempt := AuthAttempt{
		FlowID:    uuid.NewString(),
		Verifier:  pkce.Verifier,
		State:     state,
		CreatedAt: o.now(),
	}
	value, err := json.Marshal(attempt)
	if err != nil {
		return nil, fmt.Errorf("encoding auth attempt: %w", err)
	}
	if err := o.sessions.Upsert(ctx, sessionKey(provider), value, attemptTTL); err != nil {
		return nil, fmt.Errorf("persisting auth attempt: %w", err)
	}

	authURL := o.adapterFor(provider, cfg).AuthorizeURL(pkce.Challenge, state)

	metrics.FlowsStarted.WithLabelValues(string(provider)).Inc()
	o.logger.Info().
		Str("provider", string(provider)).
		Str("flow_id", attempt.FlowID).
		Msg("authorization flow started")

	return &StartResult{
		AuthURL:  authURL,
		Verifier: pkce.Verifier,
		State:    state,
	}, nil
}

// Complete validates the live attempt for provider and exchanges authCode
// for a durable credential. The attempt is consumed whether or not the
// exchange succeeds; authorization codes are single-use by provider
// contract, so a failed exchange requires a fresh Start.
//
// authCode may be composite, formatted "<code>#<state>"; the fragment after
// the first '#' is taken as the caller-asserted state.
func (o *Orchestrator) Complete(ctx context.Context, provider Provider, authCode string) (*CompleteResult, error) {
	if authCode == "" {
		o.countFailure(provider, "missing_code")
		return nil, ErrMissingCode
	}
	code, assertedState := splitCompositeCode(authCode)

	cfg, ok := o.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, provider)
	}

	key := sessionKey(provider)
	value, found, err := o.sessions.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("reading auth attempt: %w", err)
	}
	if !found {
		o.countFailure(provider, "session_not_found")
		return nil, ErrSessionNotFound
	}

	var attempt AuthAttempt
	if err := json.Unmarshal(value, &attempt); err != nil {
		_ = o.sessions.Delete(ctx, key)
		o.countFailure(provider, "session_corrupt")
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}

	if o.now().Sub(attempt.CreatedAt) > attemptTTL {
		_ = o.sessions.Delete(ctx, key)
		o.countFailure(provider, "session_expired")
		return nil, ErrSessionExpired
	}

	state := attempt.State
	if assertedState != "" {
		state = assertedState
	}

	// The attempt is consumed by the exchange regardless of outcome, so a
	// stuck session never blocks a fresh Start. Store access happens
	// strictly before and after the network calls, never during.
	adapter := o.adapterFor(provider, cfg)
	tok, exchErr := o.timedExchange(ctx, provider, adapter, code, attempt.Verifier, state)
	if err := o.sessions.Delete(ctx, key); err != nil {
		o.logger.Warn().Err(err).Str("provider", string(provider)).Msg("failed to delete consumed auth attempt")
	}
	if exchErr != nil {
		o.countFailure(provider, "token_exchange")
		return nil, exchErr
	}

	cred := &Credential{
		Provider:  provider,
		Secret:    tok.AccessToken,
		CreatedAt: o.now(),
		Metadata: CredentialMetadata{
			Source: SourceOAuth,
		},
	}
	result := &CompleteResult{APIKey: tok.AccessToken}

	if cfg.APIKeyURL != "" {
		key, issErr := o.timedProvision(ctx, provider, adapter, tok.AccessToken)
		if issErr != nil {
			o.countFailure(provider, "credential_issuance")
			return nil, issErr
		}
		cred.Secret = key.RawKey
		cred.Metadata.IssuanceID = key.ID
		cred.Metadata.DisplayName = key.Name
		cred.Metadata.IssuedAt = key.CreatedAt
		cred.Metadata.SecretHint = key.PartialKeyHint
		result.APIKey = key.RawKey
		result.KeyName = key.Name
	}
	if cred.Metadata.SecretHint == "" {
		cred.Metadata.SecretHint = secretHint(cred.Secret)
	}

	if err := o.creds.Upsert(ctx, cred); err != nil {
		o.countFailure(provider, "store")
		return nil, fmt.Errorf("persisting credential: %w", err)
	}

	metrics.FlowsCompleted.WithLabelValues(string(provider)).Inc()
	o.logger.Info().
		Str("provider", string(provider)).
		Str("flow_id", attempt.FlowID).
		Str("key_name", cred.Metadata.DisplayName).
		Msg("credential provisioned")

	return result, nil
}

// Status reports whether a credential is stored for provider. Pure read.
func (o *Orchestrator) Status(ctx context.Context, provider Provider) (*Status, error) {
	cred, err := o.creds.GetByProvider(ctx, provider)
	if err != nil {
		return nil, fmt.Errorf("reading credential: %w", err)
	}
	if cred == nil || cred.Secret == "" {
		return &Status{}, nil
	}
	return &Status{
		Authenticated:     true,
		IsAutoProvisioned: cred.Metadata.Source == SourceOAuth,
		DisplayName:       cred.Metadata.DisplayName,
		SecretHint:        cred.Metadata.SecretHint,
	}, nil
}

// Logout clears a flow-provisioned credential's secret and metadata while
// retaining the provider row for history. Credentials the user supplied
// directly are left intact. Idempotent.
func (o *Orchestrator) Logout(ctx context.Context, provider Provider) error {
	cred, err := o.creds.GetByProvider(ctx, provider)
	if err != nil {
		return fmt.Errorf("reading credential: %w", err)
	}
	if cred == nil || cred.Secret == "" {
		return nil
	}
	if cred.Metadata.Source != SourceOAuth {
		return nil
	}
	if err := o.creds.Clear(ctx, provider); err != nil {
		return fmt.Errorf("clearing credential: %w", err)
	}
	o.logger.Info().Str("provider", string(provider)).Msg("credential cleared")
	return nil
}

// SetManualCredential stores a user-supplied secret for provider. Manual
// credentials are exempt from Logout.
func (o *Orchestrator) SetManualCredential(ctx context.Context, provider Provider, secret string) error {
	if secret == "" {
		return errors.New("secret cannot be empty")
	}
	if _, ok := o.providers[provider]; !ok {
		return fmt.Errorf("%w: %s", ErrConfigMissing, provider)
	}
	return o.creds.Upsert(ctx, &Credential{
		Provider:  provider,
		Secret:    secret,
		CreatedAt: o.now(),
		Metadata: CredentialMetadata{
			SecretHint: secretHint(secret),
			Source:     SourceManual,
		},
	})
}

func (o *Orchestrator) timedExchange(ctx context.Context, provider Provider, a Adapter, code, verifier, state string) (*TokenResponse, error) {
	start := o.now()
	tok, err := a.ExchangeCode(ctx, code, verifier, state)
	metrics.ExchangeDuration.WithLabelValues(string(provider), "token").Observe(time.Since(start).Seconds())
	return tok, err
}

func (o *Orchestrator) timedProvision(ctx context.Context, provider Provider, a Adapter, accessToken string) (*IssuedKey, error) {
	start := o.now()
	key, err := a.ProvisionKey(ctx, accessToken)
	metrics.ExchangeDuration.WithLabelValues(string(provider), "api_key").Observe(time.Since(start).Seconds())
	return key, err
}

func (o *Orchestrator) adapterFor(provider Provider, cfg ProviderConfig) Adapter {
	if a, ok := o.adapters[provider]; ok {
		return a
	}
	return NewCodeExchangeAdapter(cfg, o.httpc)
}

func (o *Orchestrator) countFailure(provider Provider, reason string) {
	metrics.FlowsFailed.WithLabelValues(string(provider), reason).Inc()
}

func sessionKey(provider Provider) string {
	return "authflow:" + string(provider)
}

// splitCompositeCode splits "<code>#<state>" on the first '#'. The state
// part is optional.
func splitCompositeCode(raw string) (code, state string) {
	code, state, _ = strings.Cut(raw, "#")
	return code, state
}

// secretHint renders a redacted preview of a secret for status displays.
// Below 10 characters the prefix and suffix together would reproduce the
// secret, so no hint is derived at all.
func secretHint(secret string) string {
	if len(secret) < 10 {
		return ""
	}
	return secret[:5] + "..." + secret[len(secret)-4:]
}
