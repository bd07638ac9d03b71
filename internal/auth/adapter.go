package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// exchangeTimeout bounds every outbound exchange call. On timeout the
	// call fails with a synthetic status; it is never left unbounded.
	exchangeTimeout = 30 * time.Second

	// statusSyntheticNetwork stands in for the HTTP status when the request
	// failed before any response arrived (timeout, refused connection).
	statusSyntheticNetwork = 599

	// maxErrorBodyLen caps how much of an upstream error body is carried in
	// exchange errors.
	maxErrorBodyLen = 2048
)

// TokenResponse is the token endpoint's success payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int64  `json:"expires_in"`
}

// IssuedKey is the credential issuance endpoint's success payload.
type IssuedKey struct {
	RawKey         string `json:"raw_key"`
	ID             string `json:"id"`
	Name           string `json:"name"`
	CreatedAt      string `json:"created_at"`
	PartialKeyHint string `json:"partial_key_hint"`
	Status         string `json:"status"`
}

// exchangeRequest is the JSON body sent to a provider's token endpoint.
type exchangeRequest struct {
	GrantType    string `json:"grant_type"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri"`
	ClientID     string `json:"client_id"`
	CodeVerifier string `json:"code_verifier"`
	State        string `json:"state"`
}

// Adapter translates the orchestrator's generic operations into one
// provider's wire protocol.
type Adapter interface {
	// AuthorizeURL builds the browser-facing authorization URL.
	AuthorizeURL(challenge, state string) string
	// ExchangeCode trades an authorization code for tokens.
	ExchangeCode(ctx context.Context, code, verifier, state string) (*TokenResponse, error)
	// ProvisionKey performs the secondary issuance step, converting an
	// access token into a durable API key. Only called when the provider
	// config carries an APIKeyURL.
	ProvisionKey(ctx context.Context, accessToken string) (*IssuedKey, error)
}

// codeExchangeAdapter implements the authorization-code + PKCE wire protocol
// over plain HTTP with JSON bodies.
type codeExchangeAdapter struct {
	cfg   ProviderConfig
	httpc *http.Client
}

// NewCodeExchangeAdapter builds an adapter for cfg. A nil client gets a
// default one with a bounded timeout.
func NewCodeExchangeAdapter(cfg ProviderConfig, httpc *http.Client) Adapter {
	if httpc == nil {
		httpc = &http.Client{Timeout: exchangeTimeout}
	}
	return &codeExchangeAdapter{cfg: cfg, httpc: httpc}
}

func (a *codeExchangeAdapter) AuthorizeURL(challenge, state string) string {
	oc := &oauth2.Config{
		ClientID:    a.cfg.ClientID,
		RedirectURL: a.cfg.RedirectURI,
		Scopes:      a.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  a.cfg.AuthorizeURL,
			TokenURL: a.cfg.TokenURL,
		},
	}
	return oc.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (a *codeExchangeAdapter) ExchangeCode(ctx context.Context, code, verifier, state string) (*TokenResponse, error) {
	body, err := json.Marshal(exchangeRequest{
		GrantType:    "authorization_code",
		Code:         code,
		RedirectURI:  a.cfg.RedirectURI,
		ClientID:     a.cfg.ClientID,
		CodeVerifier: verifier,
		State:        state,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, &TokenExchangeError{Status: statusSyntheticNetwork, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TokenExchangeError{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var tok TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("decoding token response: %w", err)
	}
	return &tok, nil
}

func (a *codeExchangeAdapter) ProvisionKey(ctx context.Context, accessToken string) (*IssuedKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.APIKeyURL, strings.NewReader("{}"))
	if err != nil {
		return nil, fmt.Errorf("building issuance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, &CredentialIssuanceError{Status: statusSyntheticNetwork, Body: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &CredentialIssuanceError{Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	var key IssuedKey
	if err := json.NewDecoder(resp.Body).Decode(&key); err != nil {
		return nil, fmt.Errorf("decoding issuance response: %w", err)
	}
	return &key, nil
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, maxErrorBodyLen))
	if err != nil {
		return ""
	}
	return string(b)
}
