package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"salesbot/internal/logbus"
	"salesbot/internal/marketplace"
	"salesbot/internal/model"
)

var ErrUnavailable = errors.New("credential unavailable")

type Provider interface {
	Credential(ctx context.Context) (model.Credential, error)
}

type TokenStore interface {
	LoadCredential(ctx context.Context) (model.Credential, error)
	SaveCredential(ctx context.Context, cred model.Credential) error
}

// TokenAPI is the slice of the marketplace client the refreshing provider needs.
type TokenAPI interface {
	Probe(ctx context.Context, cred model.Credential) error
	RefreshToken(ctx context.Context, in marketplace.RefreshRequest) (marketplace.TokenResponse, error)
}

// Static hands out a fixed token and never probes or refreshes it.
type Static struct {
	cred model.Credential
}

func NewStatic(token string) *Static {
	return &Static{cred: model.Credential{AccessToken: token}}
}

func (s *Static) Credential(context.Context) (model.Credential, error) {
	if !s.cred.Usable() {
		return model.Credential{}, fmt.Errorf("%w: static token is empty", ErrUnavailable)
	}
	return s.cred, nil
}

type RefreshingOptions struct {
	API          TokenAPI
	Store        TokenStore
	Bus          *logbus.Bus
	ClientID     string
	ClientSecret string
	RefreshToken string
	// OnRefresh observes refresh outcomes; it must not block.
	OnRefresh func(ok bool, err error)
}

// Refreshing returns the stored token while the API accepts it and swaps in
// a freshly exchanged one when the probe fails.
type Refreshing struct {
	api   TokenAPI
	store TokenStore
	bus   *logbus.Bus
	req   marketplace.RefreshRequest

	onRefresh func(ok bool, err error)

	mu sync.Mutex
}

func NewRefreshing(opts RefreshingOptions) *Refreshing {
	return &Refreshing{
		api:   opts.API,
		store: opts.Store,
		bus:   opts.Bus,
		req: marketplace.RefreshRequest{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RefreshToken: opts.RefreshToken,
		},
		onRefresh: opts.OnRefresh,
	}
}

func (p *Refreshing) Credential(ctx context.Context) (model.Credential, error) {
	cur, err := p.store.LoadCredential(ctx)
	if err != nil {
		p.bus.Log("warn", "token store read failed", map[string]any{"error": err.Error()})
	}
	if cur.Usable() {
		perr := p.api.Probe(ctx, cur)
		if perr == nil {
			return cur, nil
		}
		p.bus.Log("info", "access token rejected, refreshing", map[string]any{"error": perr.Error()})
	}
	return p.replace(ctx, cur)
}

// replace refreshes stale unless another caller already swapped in a token
// that the API accepts while this one waited for the lock.
func (p *Refreshing) replace(ctx context.Context, stale model.Credential) (model.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if cur, err := p.store.LoadCredential(ctx); err == nil && cur.Usable() && cur.AccessToken != stale.AccessToken {
		if p.api.Probe(ctx, cur) == nil {
			return cur, nil
		}
	}
	return p.refreshLocked(ctx)
}

// Refresh exchanges the refresh token unconditionally and persists the result.
func (p *Refreshing) Refresh(ctx context.Context) (model.Credential, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx)
}

func (p *Refreshing) refreshLocked(ctx context.Context) (model.Credential, error) {
	tok, err := p.api.RefreshToken(ctx, p.req)
	if err != nil {
		p.bus.Log("error", "access token refresh failed", map[string]any{"error": err.Error()})
		p.notify(false, err)
		return model.Credential{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	cred := model.Credential{AccessToken: tok.AccessToken}
	if err := p.store.SaveCredential(ctx, cred); err != nil {
		// The token is still usable for this call even if it could not be kept.
		p.bus.Log("warn", "token store write failed", map[string]any{"error": err.Error()})
	}
	p.bus.Log("info", "new access token saved", map[string]any{"expiresIn": tok.ExpiresIn})
	p.notify(true, nil)
	return cred, nil
}

func (p *Refreshing) notify(ok bool, err error) {
	if p.onRefresh != nil {
		p.onRefresh(ok, err)
	}
}
