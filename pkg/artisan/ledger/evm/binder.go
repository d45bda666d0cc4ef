package evm

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Config options for the contract binding
type Config struct {
	ContractAddress string // Deployed marketplace contract
	FromBlock       uint64 // First block scanned for event history
}

// Binder binds identities to the marketplace contract. Backend carries signed
// writes; ReadBackend, when set, serves anonymous reads.
type Binder struct {
	config      Config
	address     common.Address
	backend     Backend
	readBackend Backend
	signer      Signer
	approver    artisan.SigningApprover
}

// BinderOption configures a Binder
type BinderOption func(*Binder)

// WithReadBackend sets the public read endpoint
func WithReadBackend(backend Backend) BinderOption {
	return func(b *Binder) {
		b.readBackend = backend
	}
}

// WithApprover asks approver before every signature
func WithApprover(approver artisan.SigningApprover) BinderOption {
	return func(b *Binder) {
		b.approver = approver
	}
}

// NewBinder creates a Binder for the contract in config
func NewBinder(config Config, backend Backend, signer Signer, opts ...BinderOption) (*Binder, error) {
	if !common.IsHexAddress(config.ContractAddress) {
		return nil, fmt.Errorf("invalid contract address %q", config.ContractAddress)
	}
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	b := &Binder{
		config:  config,
		address: common.HexToAddress(config.ContractAddress),
		backend: backend,
		signer:  signer,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Bind returns an Account signing as identity
func (b *Binder) Bind(ctx context.Context, identity string) (artisan.Ledger, error) {
	opts, err := b.signer.TransactOpts(ctx, identity)
	if err != nil {
		return nil, err
	}
	account := NewAccount(NewContract(b.address, b.backend, b.config.FromBlock), opts)
	account.approver = b.approver
	return account, nil
}

// ReadOnly returns a Contract over the public read endpoint
func (b *Binder) ReadOnly(ctx context.Context) (artisan.LedgerReader, error) {
	if b.readBackend == nil {
		return nil, errors.New("no public read endpoint configured")
	}
	return NewContract(b.address, b.readBackend, b.config.FromBlock), nil
}

// Verify checks that contract code is deployed at the configured address
func (b *Binder) Verify(ctx context.Context) error {
	return NewContract(b.address, b.backend, b.config.FromBlock).Verify(ctx)
}
