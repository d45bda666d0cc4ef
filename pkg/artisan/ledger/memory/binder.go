package memory

import (
	"context"
	"errors"
	"math/big"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Binder binds identities to a shared Ledger.
type Binder struct {
	Ledger *Ledger
	// Approver, when set, is asked to approve every signature.
	Approver artisan.SigningApprover
	// NoPublicReads makes ReadOnly fail, as when no read endpoint is configured.
	NoPublicReads bool
}

// Bind returns a handle signing as identity
func (b *Binder) Bind(ctx context.Context, identity string) (artisan.Ledger, error) {
	return b.Ledger.As(identity, b.Approver), nil
}

// ReadOnly returns the ledger itself as a public reader
func (b *Binder) ReadOnly(ctx context.Context) (artisan.LedgerReader, error) {
	if b.NoPublicReads {
		return nil, errors.New("no public read endpoint configured")
	}
	return b.Ledger, nil
}

// Account is a Ledger handle bound to a signing identity.
type Account struct {
	*Ledger
	from     string
	approver artisan.SigningApprover
}

// As returns a handle that signs as identity. A nil approver signs without
// prompting.
func (l *Ledger) As(identity string, approver artisan.SigningApprover) *Account {
	return &Account{Ledger: l, from: identity, approver: approver}
}

func (a *Account) sign(ctx context.Context, kind artisan.OperationKind, c call) (artisan.Transaction, error) {
	if a.approver != nil {
		if err := a.approver.ApproveSigning(ctx, a.from, kind); err != nil {
			return nil, err
		}
	}
	return a.Ledger.submit(c)
}

// Mint mints a new item
func (a *Account) Mint(ctx context.Context, args artisan.MintArgs) (artisan.Transaction, error) {
	return a.sign(ctx, artisan.OpMint, mintCall(a.from, args))
}

// List lists an item for sale
func (a *Account) List(ctx context.Context, id uint64, price *big.Int) (artisan.Transaction, error) {
	return a.sign(ctx, artisan.OpList, listCall(a.from, id, new(big.Int).Set(price)))
}

// Delist removes an item from sale
func (a *Account) Delist(ctx context.Context, id uint64) (artisan.Transaction, error) {
	return a.sign(ctx, artisan.OpDelist, delistCall(a.from, id))
}

// Purchase buys a listed item
func (a *Account) Purchase(ctx context.Context, id uint64, payment *big.Int) (artisan.Transaction, error) {
	return a.sign(ctx, artisan.OpPurchase, purchaseCall(a.from, id, new(big.Int).Set(payment)))
}

// RegisterCreator grants the creator role
func (a *Account) RegisterCreator(ctx context.Context, identity string) (artisan.Transaction, error) {
	return a.sign(ctx, artisan.OpRegisterCreator, registerCreatorCall(a.from, identity))
}
