package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"keymint-go/internal/metrics"
	"keymint-go/internal/worker"
)

// WebLoginResult carries the outcome of an external browser login.
type WebLoginResult struct {
	Secret      string
	DisplayName string
	Err         error
}

// WebAuthenticator is the polling-login capability boundary. The adapter
// owns the mechanism that detects a completed external login; AuthWithWeb
// returns the browser URL and a one-shot channel resolved on completion.
type WebAuthenticator interface {
	AuthWithWeb(ctx context.Context) (authURL string, done <-chan WebLoginResult, err error)
}

// WebLoginHandle identifies a pending web login to the caller.
type WebLoginHandle struct {
	FlowID  string
	AuthURL string
}

// PendingWebLogin is one registered browser login awaiting completion. Its
// signal resolves at most once; resolving again is a no-op.
type PendingWebLogin struct {
	FlowID    string
	AuthURL   string
	CreatedAt time.Time

	once   sync.Once
	done   chan struct{}
	result WebLoginResult
}

func (p *PendingWebLogin) resolve(res WebLoginResult) {
	p.once.Do(func() {
		p.result = res
		close(p.done)
	})
}

// WebLoginRegistry tracks pending web logins by flow id. Entries are
// removed by the background reaper once their lifetime elapses, whether or
// not they resolved, so the map never grows without bound.
type WebLoginRegistry struct {
	mu      sync.Mutex
	pending map[string]*PendingWebLogin
	ttl     time.Duration
	now     func() time.Time
}

// NewWebLoginRegistry creates a registry whose entries live for ttl.
func NewWebLoginRegistry(ttl time.Duration) *WebLoginRegistry {
	return &WebLoginRegistry{
		pending: make(map[string]*PendingWebLogin),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Register allocates a pending entry for authURL and returns it.
func (r *WebLoginRegistry) Register(authURL string) *PendingWebLogin {
	p := &PendingWebLogin{
		FlowID:    uuid.NewString(),
		AuthURL:   authURL,
		CreatedAt: r.now(),
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.pending[p.FlowID] = p
	r.mu.Unlock()

	metrics.PendingWebLogins.Inc()
	return p
}

// Resolve completes the signal for flowID. Returns false when the entry was
// already discarded. Resolving twice is safe.
func (r *WebLoginRegistry) Resolve(flowID string, res WebLoginResult) bool {
	r.mu.Lock()
	p, ok := r.pending[flowID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	p.resolve(res)
	return true
}

// Await blocks until the signal for flowID resolves or ctx is done. An
// unknown or already-discarded flow id fails with ErrSessionNotFound rather
// than deadlocking.
func (r *WebLoginRegistry) Await(ctx context.Context, flowID string) (WebLoginResult, error) {
	r.mu.Lock()
	p, ok := r.pending[flowID]
	r.mu.Unlock()
	if !ok {
		return WebLoginResult{}, ErrSessionNotFound
	}

	select {
	case <-ctx.Done():
		return WebLoginResult{}, ctx.Err()
	case <-p.done:
		return p.result, nil
	}
}

// SweepExpired discards entries registered more than ttl ago, resolving any
// still-unresolved signal so no waiter blocks forever. Returns the number
// of entries removed.
func (r *WebLoginRegistry) SweepExpired(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, p := range r.pending {
		if now.Sub(p.CreatedAt) > r.ttl {
			p.resolve(WebLoginResult{Err: ErrSessionNotFound})
			delete(r.pending, id)
			removed++
		}
	}
	if removed > 0 {
		metrics.PendingWebLogins.Sub(float64(removed))
	}
	return removed
}

// Len reports the number of live entries.
func (r *WebLoginRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// StartWebLogin begins a browser-polling login for provider. The adapter's
// completion signal is watched on the worker pool; once it resolves, the
// resulting credential is persisted and the registered signal fires.
func (o *Orchestrator) StartWebLogin(ctx context.Context, provider Provider) (*WebLoginHandle, error) {
	cfg, ok := o.providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConfigMissing, provider)
	}
	if cfg.Flow != FlowWeb {
		return nil, fmt.Errorf("provider %s does not use the web login flow", provider)
	}
	wa, ok := o.webAuth[provider]
	if !ok {
		return nil, fmt.Errorf("%w: no web authenticator for %s", ErrConfigMissing, provider)
	}

	authURL, done, err := wa.AuthWithWeb(ctx)
	if err != nil {
		o.countFailure(provider, "web_login_start")
		return nil, fmt.Errorf("starting web login: %w", err)
	}

	p := o.pending.Register(authURL)
	watcher := worker.TaskFunc(func(taskCtx context.Context) error {
		return o.watchWebLogin(taskCtx, provider, p, done)
	})
	if !o.pool.Submit(watcher) {
		// Queue full: resolve immediately so the caller is not left
		// waiting on a signal nothing will fire.
		o.pending.Resolve(p.FlowID, WebLoginResult{Err: errors.New("web login watcher queue full")})
		o.countFailure(provider, "watcher_queue_full")
		return nil, errors.New("too many pending web logins")
	}

	metrics.FlowsStarted.WithLabelValues(string(provider)).Inc()
	o.logger.Info().
		Str("provider", string(provider)).
		Str("flow_id", p.FlowID).
		Msg("web login started")

	return &WebLoginHandle{FlowID: p.FlowID, AuthURL: authURL}, nil
}

// AwaitWebLogin blocks until the login identified by flowID completes, the
// context is done, or the reaper discards the entry.
func (o *Orchestrator) AwaitWebLogin(ctx context.Context, flowID string) (WebLoginResult, error) {
	return o.pending.Await(ctx, flowID)
}

func (o *Orchestrator) watchWebLogin(ctx context.Context, provider Provider, p *PendingWebLogin, done <-chan WebLoginResult) error {
	timer := time.NewTimer(webLoginTTL)
	defer timer.Stop()

	var res WebLoginResult
	select {
	case <-ctx.Done():
		res = WebLoginResult{Err: ctx.Err()}
	case <-timer.C:
		res = WebLoginResult{Err: ErrSessionExpired}
	case res = <-done:
	}

	if res.Err == nil && res.Secret != "" {
		cred := &Credential{
			Provider:  provider,
			Secret:    res.Secret,
			CreatedAt: o.now(),
			Metadata: CredentialMetadata{
				DisplayName: res.DisplayName,
				SecretHint:  secretHint(res.Secret),
				Source:      SourceOAuth,
			},
		}
		if err := o.creds.Upsert(context.WithoutCancel(ctx), cred); err != nil {
			res = WebLoginResult{Err: fmt.Errorf("persisting credential: %w", err)}
		}
	}

	if res.Err != nil {
		o.countFailure(provider, "web_login")
	} else {
		metrics.FlowsCompleted.WithLabelValues(string(provider)).Inc()
	}
	o.pending.Resolve(p.FlowID, res)
	return res.Err
}
