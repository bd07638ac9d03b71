package app

import (
	"encoding/json"
	"errors"
	"net/http"

	"keymint-go/internal/auth"
)

// authResponse is the structured result every auth endpoint returns. No
// error escapes the orchestrator boundary as anything other than this.
type authResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	AuthURL string `json:"auth_url,omitempty"`
	State   string `json:"state,omitempty"`
	FlowID  string `json:"flow_id,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
	KeyName string `json:"key_name,omitempty"`
}

type statusResponse struct {
	Authenticated     bool   `json:"authenticated"`
	IsAutoProvisioned bool   `json:"is_auto_provisioned"`
	DisplayName       string `json:"display_name,omitempty"`
	SecretHint        string `json:"secret_hint,omitempty"`
}

func (a *Application) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/{provider}/start", a.handleStart)
	mux.HandleFunc("POST /auth/{provider}/complete", a.handleComplete)
	mux.HandleFunc("GET /auth/{provider}/status", a.handleStatus)
	mux.HandleFunc("POST /auth/{provider}/logout", a.handleLogout)
	mux.HandleFunc("PUT /auth/{provider}/credential", a.handleSetCredential)
	mux.HandleFunc("POST /auth/{provider}/web/start", a.handleWebStart)
	mux.HandleFunc("GET /auth/web/{flow_id}", a.handleWebAwait)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
}

// handleStart begins an authorization-code flow and returns the URL the
// caller should open in a browser.
func (a *Application) handleStart(w http.ResponseWriter, r *http.Request) {
	provider := auth.Provider(r.PathValue("provider"))

	res, err := a.Orchestrator.Start(r.Context(), provider)
	if err != nil {
		a.writeAuthError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		AuthURL: res.AuthURL,
		State:   res.State,
	})
}

// handleComplete exchanges the returned authorization code for a durable
// credential.
func (a *Application) handleComplete(w http.ResponseWriter, r *http.Request) {
	provider := auth.Provider(r.PathValue("provider"))

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, authResponse{Error: "invalid request body"})
		return
	}

	res, err := a.Orchestrator.Complete(r.Context(), provider, req.Code)
	if err != nil {
		a.writeAuthError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		APIKey:  res.APIKey,
		KeyName: res.KeyName,
	})
}

func (a *Application) handleStatus(w http.ResponseWriter, r *http.Request) {
	provider := auth.Provider(r.PathValue("provider"))

	st, err := a.Orchestrator.Status(r.Context(), provider)
	if err != nil {
		a.writeAuthError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Authenticated:     st.Authenticated,
		IsAutoProvisioned: st.IsAutoProvisioned,
		DisplayName:       st.DisplayName,
		SecretHint:        st.SecretHint,
	})
}

func (a *Application) handleLogout(w http.ResponseWriter, r *http.Request) {
	provider := auth.Provider(r.PathValue("provider"))

	if err := a.Orchestrator.Logout(r.Context(), provider); err != nil {
		a.writeAuthError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true})
}

// handleSetCredential stores a user-supplied API key. Manual credentials
// are never cleared by logout.
func (a *Application) handleSetCredential(w http.ResponseWriter, r *http.Request) {
	provider := auth.Provider(r.PathValue("provider"))

	var req struct {
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Secret == "" {
		writeJSON(w, http.StatusBadRequest, authResponse{Error: "secret is required"})
		return
	}

	if err := a.Orchestrator.SetManualCredential(r.Context(), provider, req.Secret); err != nil {
		a.writeAuthError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true})
}

// handleWebStart begins a browser-polling login.
func (a *Application) handleWebStart(w http.ResponseWriter, r *http.Request) {
	provider := auth.Provider(r.PathValue("provider"))

	handle, err := a.Orchestrator.StartWebLogin(r.Context(), provider)
	if err != nil {
		a.writeAuthError(w, provider, err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		AuthURL: handle.AuthURL,
		FlowID:  handle.FlowID,
	})
}

// handleWebAwait blocks until the identified web login resolves or the
// request is cancelled.
func (a *Application) handleWebAwait(w http.ResponseWriter, r *http.Request) {
	flowID := r.PathValue("flow_id")

	res, err := a.Orchestrator.AwaitWebLogin(r.Context(), flowID)
	if err != nil {
		a.writeAuthError(w, "", err)
		return
	}
	if res.Err != nil {
		a.writeAuthError(w, "", res.Err)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{
		Success: true,
		KeyName: res.DisplayName,
	})
}

func (a *Application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// writeAuthError maps the error taxonomy onto HTTP statuses and the
// structured {success, error} body. Bodies never carry secrets; exchange
// errors only carry the upstream status and diagnostic body.
func (a *Application) writeAuthError(w http.ResponseWriter, provider auth.Provider, err error) {
	status := http.StatusInternalServerError

	var exchErr *auth.TokenExchangeError
	var issErr *auth.CredentialIssuanceError
	switch {
	case errors.Is(err, auth.ErrMissingCode):
		status = http.StatusBadRequest
	case errors.Is(err, auth.ErrConfigMissing):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, auth.ErrSessionExpired):
		status = http.StatusGone
	case errors.Is(err, auth.ErrSessionCorrupt):
		status = http.StatusConflict
	case errors.As(err, &exchErr), errors.As(err, &issErr):
		status = http.StatusBadGateway
	}

	if provider != "" {
		a.Logger.Warn().Str("provider", string(provider)).Err(err).Msg("auth operation failed")
	}
	writeJSON(w, status, authResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
