package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Signer produces transaction options that sign as an identity
type Signer interface {
	TransactOpts(ctx context.Context, identity string) (*bind.TransactOpts, error)
}

// Account is a Contract handle that signs writes. It implements artisan.Ledger.
type Account struct {
	*Contract
	opts     *bind.TransactOpts
	approver artisan.SigningApprover
}

// NewAccount returns a handle signing with opts
func NewAccount(contract *Contract, opts *bind.TransactOpts) *Account {
	return &Account{Contract: contract, opts: opts}
}

func (a *Account) transact(ctx context.Context, kind artisan.OperationKind, value *big.Int, method string, args ...interface{}) (artisan.Transaction, error) {
	if a.approver != nil {
		if err := a.approver.ApproveSigning(ctx, a.opts.From.Hex(), kind); err != nil {
			return nil, err
		}
	}

	opts := *a.opts
	opts.Context = ctx
	opts.Value = value

	tx, err := a.bound.Transact(&opts, method, args...)
	if err != nil {
		return nil, decodeRevert(err)
	}
	return &transaction{tx: tx, contract: a.Contract, from: a.opts.From}, nil
}

func address(identity string) (common.Address, error) {
	if !common.IsHexAddress(identity) {
		return common.Address{}, fmt.Errorf("%w: malformed identity %q", artisan.ErrInvalidArgument, identity)
	}
	return common.HexToAddress(identity), nil
}

// Mint calls mintNFT
func (a *Account) Mint(ctx context.Context, args artisan.MintArgs) (artisan.Transaction, error) {
	to, err := address(args.Owner)
	if err != nil {
		return nil, err
	}
	return a.transact(ctx, artisan.OpMint, nil, "mintNFT", to, args.Description, args.Materials, args.CreatorDetails, args.Locator)
}

// List calls setNFTForSale
func (a *Account) List(ctx context.Context, id uint64, price *big.Int) (artisan.Transaction, error) {
	return a.transact(ctx, artisan.OpList, nil, "setNFTForSale", tokenID(id), price)
}

// Delist calls removeNFTFromSale
func (a *Account) Delist(ctx context.Context, id uint64) (artisan.Transaction, error) {
	return a.transact(ctx, artisan.OpDelist, nil, "removeNFTFromSale", tokenID(id))
}

// Purchase calls purchaseNFT with payment attached
func (a *Account) Purchase(ctx context.Context, id uint64, payment *big.Int) (artisan.Transaction, error) {
	return a.transact(ctx, artisan.OpPurchase, payment, "purchaseNFT", tokenID(id))
}

// RegisterCreator calls registerArtisan
func (a *Account) RegisterCreator(ctx context.Context, identity string) (artisan.Transaction, error) {
	target, err := address(identity)
	if err != nil {
		return nil, err
	}
	return a.transact(ctx, artisan.OpRegisterCreator, nil, "registerArtisan", target)
}

type transaction struct {
	tx       *types.Transaction
	contract *Contract
	from     common.Address
}

func (t *transaction) Hash() string {
	return t.tx.Hash().Hex()
}

// Wait blocks until the transaction is mined. For a reverted transaction the
// call is replayed at the inclusion block to recover the revert reason.
func (t *transaction) Wait(ctx context.Context) (*artisan.Receipt, error) {
	r, err := bind.WaitMined(ctx, t.contract.backend, t.tx)
	if err != nil {
		return nil, err
	}

	receipt := &artisan.Receipt{
		Hash:        r.TxHash.Hex(),
		Success:     r.Status == types.ReceiptStatusSuccessful,
		BlockNumber: r.BlockNumber.Uint64(),
	}
	if receipt.Success {
		receipt.ItemID = t.contract.mintedID(r.Logs)
		return receipt, nil
	}
	receipt.Reason = t.replay(ctx, r.BlockNumber)
	return receipt, nil
}

func (t *transaction) replay(ctx context.Context, block *big.Int) string {
	_, err := t.contract.backend.CallContract(ctx, ethereum.CallMsg{
		From:     t.from,
		To:       t.tx.To(),
		Gas:      t.tx.Gas(),
		GasPrice: t.tx.GasPrice(),
		Value:    t.tx.Value(),
		Data:     t.tx.Data(),
	}, block)
	if err == nil {
		return ""
	}
	return decodeRevert(err).Error()
}

// mintedID returns the token id of a Transfer from the zero address
func (c *Contract) mintedID(logs []*types.Log) uint64 {
	transfer := contractABI.Events["Transfer"].ID
	for _, lg := range logs {
		if lg.Address != c.address || len(lg.Topics) != 4 || lg.Topics[0] != transfer {
			continue
		}
		if lg.Topics[1] != (common.Hash{}) {
			continue
		}
		id := lg.Topics[3].Big()
		if id.IsUint64() {
			return id.Uint64()
		}
	}
	return 0
}
