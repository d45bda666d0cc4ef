// Package memory provides a scriptable signer provider for tests and local
// runs. It behaves like a browser wallet: identities are only reported after
// authorization and every signature can be declined.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// ErrRejected is returned for declined prompts, worded the way wallets word it.
var ErrRejected = errors.New("ACTION_REJECTED: user rejected the request")

// Provider is an in-memory signer provider
type Provider struct {
	mu             sync.Mutex
	identities     []string
	chainID        string
	authorized     bool
	declineAuth    bool
	declineSigning bool
	listeners      map[int]func(artisan.ProviderEvent)
	next           int
}

// New creates a provider holding identities, unauthorized.
func New(identities ...string) *Provider {
	return &Provider{
		identities: append([]string(nil), identities...),
		chainID:    "1337",
		listeners:  make(map[int]func(artisan.ProviderEvent)),
	}
}

// RequestAuthorization authorizes and returns the held identities
func (p *Provider) RequestAuthorization(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declineAuth {
		return nil, ErrRejected
	}
	p.authorized = true
	return append([]string(nil), p.identities...), nil
}

// CurrentIdentities returns the identities if previously authorized
func (p *Provider) CurrentIdentities(ctx context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.authorized {
		return nil, nil
	}
	return append([]string(nil), p.identities...), nil
}

// Subscribe registers listener for provider events
func (p *Provider) Subscribe(listener func(artisan.ProviderEvent)) func() {
	p.mu.Lock()
	id := p.next
	p.next++
	p.listeners[id] = listener
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// ApproveSigning approves unless signing is being declined
func (p *Provider) ApproveSigning(ctx context.Context, identity string, kind artisan.OperationKind) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.declineSigning {
		return ErrRejected
	}
	return nil
}

// DeclineAuthorization makes subsequent authorization prompts fail.
func (p *Provider) DeclineAuthorization(decline bool) {
	p.mu.Lock()
	p.declineAuth = decline
	p.mu.Unlock()
}

// DeclineSigning makes subsequent signing prompts fail.
func (p *Provider) DeclineSigning(decline bool) {
	p.mu.Lock()
	p.declineSigning = decline
	p.mu.Unlock()
}

// ChainID returns the current network id.
func (p *Provider) ChainID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.chainID
}

// SetIdentities replaces the held identities and, once authorized, notifies
// listeners synchronously.
func (p *Provider) SetIdentities(identities ...string) {
	p.mu.Lock()
	p.identities = append([]string(nil), identities...)
	authorized := p.authorized
	p.mu.Unlock()

	if authorized {
		p.emit(artisan.ProviderEvent{Kind: artisan.IdentitiesChanged, Identities: identities})
	}
}

// Revoke withdraws authorization, as when the user disconnects the site in
// the wallet.
func (p *Provider) Revoke() {
	p.mu.Lock()
	p.authorized = false
	p.mu.Unlock()

	p.emit(artisan.ProviderEvent{Kind: artisan.IdentitiesChanged})
}

// SwitchNetwork changes the network and notifies listeners synchronously.
func (p *Provider) SwitchNetwork(chainID string) {
	p.mu.Lock()
	p.chainID = chainID
	p.mu.Unlock()

	p.emit(artisan.ProviderEvent{Kind: artisan.NetworkChanged, ChainID: chainID})
}

func (p *Provider) emit(ev artisan.ProviderEvent) {
	p.mu.Lock()
	listeners := make([]func(artisan.ProviderEvent), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}
