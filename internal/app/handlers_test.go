package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keymint-go/internal/auth"
	"keymint-go/internal/config"
)

// newUpstream fakes the provider's token and issuance endpoints.
func newUpstream(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"at-123","expires_in":3600}`)
	})
	mux.HandleFunc("POST /api_keys", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"raw_key": "sk-ant-issued-key",
			"id": "key_01",
			"name": "Dev Key",
			"created_at": "2026-08-24T10:00:00Z",
			"partial_key_hint": "sk-an...-key",
			"status": "active"
		}`)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newTestApp wires a full Application over a temp database and returns an
// httptest server fronting its handler stack.
func newTestApp(t *testing.T, upstream *httptest.Server) (*Application, *httptest.Server) {
	t.Helper()

	cfg := &config.Config{
		LogLevel:      "error",
		NumWorkers:    2,
		DBPath:        filepath.Join(t.TempDir(), "test.db"),
		EncryptionKey: "0123456789abcdef0123456789abcdef",
	}
	cfg.Session.Backend = "memory"
	cfg.Reaper.Interval = config.Duration{Duration: time.Minute}
	cfg.Providers = map[string]config.ProviderConfig{
		"anthropic": {
			ClientID:     "client-abc",
			AuthorizeURL: upstream.URL + "/authorize",
			TokenURL:     upstream.URL + "/token",
			APIKeyURL:    upstream.URL + "/api_keys",
			RedirectURI:  upstream.URL + "/callback",
			Scopes:       []string{"org:create_api_key"},
			Flow:         "code",
		},
		"gemini": {
			ClientID:     "client-web",
			AuthorizeURL: upstream.URL + "/authorize",
			TokenURL:     upstream.URL + "/token",
			RedirectURI:  upstream.URL + "/callback",
			Scopes:       []string{"inference"},
			Flow:         "web",
		},
	}

	a, err := New(cfg)
	require.NoError(t, err)
	a.WorkerPool.Start()

	srv := httptest.NewServer(a.HTTPServer.Handler)
	t.Cleanup(func() {
		srv.Close()
		a.WorkerPool.Stop()
		a.DB.Close()
	})
	return a, srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHandleStart(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp := postJSON(t, srv.URL+"/auth/anthropic/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[authResponse](t, resp)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.State)

	u, err := url.Parse(body.AuthURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-abc", q.Get("client_id"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.Equal(t, body.State, q.Get("state"))
}

func TestHandleStart_UnknownProvider(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp := postJSON(t, srv.URL+"/auth/openai/start", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decode[authResponse](t, resp)
	assert.False(t, body.Success)
	assert.NotEmpty(t, body.Error)
}

func TestHandleComplete(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp := postJSON(t, srv.URL+"/auth/anthropic/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/auth/anthropic/complete", map[string]string{"code": "AC-42"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[authResponse](t, resp)
	assert.True(t, body.Success)
	assert.Equal(t, "sk-ant-issued-key", body.APIKey)
	assert.Equal(t, "Dev Key", body.KeyName)

	// The credential is now visible through status, secret redacted.
	stResp, err := http.Get(srv.URL + "/auth/anthropic/status")
	require.NoError(t, err)
	defer stResp.Body.Close()
	require.Equal(t, http.StatusOK, stResp.StatusCode)

	st := decode[statusResponse](t, stResp)
	assert.True(t, st.Authenticated)
	assert.True(t, st.IsAutoProvisioned)
	assert.Equal(t, "Dev Key", st.DisplayName)
	assert.Equal(t, "sk-an...-key", st.SecretHint)
}

func TestHandleComplete_WithoutStart(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp := postJSON(t, srv.URL+"/auth/anthropic/complete", map[string]string{"code": "AC-42"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleComplete_MissingCode(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp := postJSON(t, srv.URL+"/auth/anthropic/complete", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleComplete_InvalidBody(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp, err := http.Post(srv.URL+"/auth/anthropic/complete", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleStatus_Unauthenticated(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp, err := http.Get(srv.URL + "/auth/anthropic/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := decode[statusResponse](t, resp)
	assert.False(t, st.Authenticated)
}

func TestHandleLogout(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	postJSON(t, srv.URL+"/auth/anthropic/start", nil)
	resp := postJSON(t, srv.URL+"/auth/anthropic/complete", map[string]string{"code": "AC-42"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/auth/anthropic/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[authResponse](t, resp).Success)

	stResp, err := http.Get(srv.URL + "/auth/anthropic/status")
	require.NoError(t, err)
	defer stResp.Body.Close()
	assert.False(t, decode[statusResponse](t, stResp).Authenticated)
}

func TestHandleSetCredential(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/auth/anthropic/credential",
		bytes.NewReader([]byte(`{"secret":"sk-ant-manual-key"}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stResp, err := http.Get(srv.URL + "/auth/anthropic/status")
	require.NoError(t, err)
	defer stResp.Body.Close()
	st := decode[statusResponse](t, stResp)
	assert.True(t, st.Authenticated)
	assert.False(t, st.IsAutoProvisioned)

	// Logout leaves a manual credential in place.
	resp = postJSON(t, srv.URL+"/auth/anthropic/logout", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	stResp, err = http.Get(srv.URL + "/auth/anthropic/status")
	require.NoError(t, err)
	defer stResp.Body.Close()
	assert.True(t, decode[statusResponse](t, stResp).Authenticated)
}

func TestHandleSetCredential_EmptySecret(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	req, err := http.NewRequest(http.MethodPut, srv.URL+"/auth/anthropic/credential",
		bytes.NewReader([]byte(`{"secret":""}`)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleWebLogin(t *testing.T) {
	a, srv := newTestApp(t, newUpstream(t))

	done := make(chan auth.WebLoginResult, 1)
	a.Orchestrator.SetWebAuthenticator("gemini", webAuthStub{
		authURL: "https://example.test/login",
		done:    done,
	})

	resp := postJSON(t, srv.URL+"/auth/gemini/web/start", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[authResponse](t, resp)
	require.NotEmpty(t, body.FlowID)
	assert.Equal(t, "https://example.test/login", body.AuthURL)

	done <- auth.WebLoginResult{Secret: "sk-gemini-key", DisplayName: "gemini"}

	awaitResp, err := http.Get(srv.URL + "/auth/web/" + body.FlowID)
	require.NoError(t, err)
	defer awaitResp.Body.Close()
	require.Equal(t, http.StatusOK, awaitResp.StatusCode)
	assert.Equal(t, "gemini", decode[authResponse](t, awaitResp).KeyName)

	stResp, err := http.Get(srv.URL + "/auth/gemini/status")
	require.NoError(t, err)
	defer stResp.Body.Close()
	assert.True(t, decode[statusResponse](t, stResp).Authenticated)
}

func TestHandleWebAwait_UnknownFlow(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp, err := http.Get(srv.URL + "/auth/web/no-such-flow")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleWebStart_CodeFlowProvider(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp := postJSON(t, srv.URL+"/auth/anthropic/web/start", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestHandleHealthz(t *testing.T) {
	_, srv := newTestApp(t, newUpstream(t))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

type webAuthStub struct {
	authURL string
	done    chan auth.WebLoginResult
}

func (s webAuthStub) AuthWithWeb(ctx context.Context) (string, <-chan auth.WebLoginResult, error) {
	return s.authURL, s.done, nil
}
