// Package key provides a signer provider backed by a single private key, for
// servers and operator tooling where no interactive wallet exists.
package key

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// ChainReader reports the chain a node serves. *ethclient.Client satisfies it.
type ChainReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Provider signs as the address of its key. It is always authorized.
type Provider struct {
	key      *ecdsa.PrivateKey
	address  common.Address
	chain    ChainReader
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	chainID   *big.Int
	listeners map[int]func(artisan.ProviderEvent)
	next      int
}

// Option configures a Provider
type Option func(*Provider)

// WithPollInterval sets how often the chain id is checked by Watch
func WithPollInterval(d time.Duration) Option {
	return func(p *Provider) {
		p.interval = d
	}
}

// WithChainID pins the chain id used for signing until the node reports one
func WithChainID(id *big.Int) Option {
	return func(p *Provider) {
		p.chainID = new(big.Int).Set(id)
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// New creates a provider from a hex-encoded private key
func New(hexKey string, chain ChainReader, opts ...Option) (*Provider, error) {
	if hexKey == "" {
		return nil, errors.New("private key is required")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	p := &Provider{
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chain:     chain,
		interval:  15 * time.Second,
		logger:    slog.Default(),
		listeners: make(map[int]func(artisan.ProviderEvent)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.chain == nil && p.chainID == nil {
		return nil, errors.New("chain reader or chain id is required")
	}
	return p, nil
}

// Address returns the signing address
func (p *Provider) Address() common.Address {
	return p.address
}

// RequestAuthorization returns the key's address
func (p *Provider) RequestAuthorization(ctx context.Context) ([]string, error) {
	return []string{p.address.Hex()}, nil
}

// CurrentIdentities returns the key's address
func (p *Provider) CurrentIdentities(ctx context.Context) ([]string, error) {
	return []string{p.address.Hex()}, nil
}

// Subscribe registers listener for network changes observed by Watch
func (p *Provider) Subscribe(listener func(artisan.ProviderEvent)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.next
	p.next++
	p.listeners[id] = listener
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// ChainID returns the chain id used for signing, asking the node on first use
func (p *Provider) ChainID(ctx context.Context) (*big.Int, error) {
	p.mu.Lock()
	cached := p.chainID
	p.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}

	id, err := p.chain.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: chain id: %w", artisan.ErrProviderUnavailable, err)
	}
	p.mu.Lock()
	if p.chainID == nil {
		p.chainID = id
	}
	p.mu.Unlock()
	return new(big.Int).Set(id), nil
}

// TransactOpts returns transaction options signing as identity. Only the
// key's own address can be signed for.
func (p *Provider) TransactOpts(ctx context.Context, identity string) (*bind.TransactOpts, error) {
	if !artisan.SameIdentity(identity, p.address.Hex()) {
		return nil, fmt.Errorf("%w: key does not control %s", artisan.ErrUnauthorized, identity)
	}
	id, err := p.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	return bind.NewKeyedTransactorWithChainID(p.key, id)
}

// Watch polls the node's chain id until ctx is done and notifies listeners
// of every change.
func (p *Provider) Watch(ctx context.Context) {
	if p.chain == nil {
		return
	}
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Provider) poll(ctx context.Context) {
	id, err := p.chain.ChainID(ctx)
	if err != nil {
		p.logger.Warn("chain id poll failed", "err", err)
		return
	}

	p.mu.Lock()
	if p.chainID != nil && p.chainID.Cmp(id) == 0 {
		p.mu.Unlock()
		return
	}
	changed := p.chainID != nil
	p.chainID = id
	listeners := make([]func(artisan.ProviderEvent), 0, len(p.listeners))
	for _, l := range p.listeners {
		listeners = append(listeners, l)
	}
	p.mu.Unlock()

	if !changed {
		return
	}
	p.logger.Info("network changed", "chain_id", id.String())
	ev := artisan.ProviderEvent{Kind: artisan.NetworkChanged, ChainID: id.String()}
	for _, l := range listeners {
		l(ev)
	}
}
