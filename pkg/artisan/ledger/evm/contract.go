// Package evm binds the marketplace contract deployed on an EVM chain.
package evm

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

//go:embed artisan_nft.abi.json
var contractJSON string

var contractABI = mustParseABI(contractJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse contract abi: %v", err))
	}
	return parsed
}

// Role getter methods on the contract.
var roleGetters = map[artisan.Role]string{
	artisan.RoleAdmin:   "ADMIN_ROLE",
	artisan.RoleCreator: "ARTISAN_ROLE",
}

// Backend is the node API the binding needs. *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Contract reads marketplace state. It implements artisan.LedgerReader.
type Contract struct {
	address   common.Address
	backend   Backend
	bound     *bind.BoundContract
	fromBlock uint64

	mu    sync.Mutex
	roles map[artisan.Role][32]byte
}

// NewContract binds the contract at address. fromBlock is the first block
// scanned for event history.
func NewContract(address common.Address, backend Backend, fromBlock uint64) *Contract {
	return &Contract{
		address:   address,
		backend:   backend,
		bound:     bind.NewBoundContract(address, contractABI, backend, backend, backend),
		fromBlock: fromBlock,
		roles:     make(map[artisan.Role][32]byte),
	}
}

// Address returns the contract address
func (c *Contract) Address() common.Address {
	return c.address
}

func (c *Contract) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := c.bound.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, decodeRevert(err)
	}
	return out, nil
}

func tokenID(id uint64) *big.Int {
	return new(big.Int).SetUint64(id)
}

// TotalIssued returns totalSupply
func (c *Contract) TotalIssued(ctx context.Context) (uint64, error) {
	out, err := c.call(ctx, "totalSupply")
	if err != nil {
		return 0, err
	}
	total := abi.ConvertType(out[0], new(big.Int)).(*big.Int)
	if !total.IsUint64() {
		return 0, fmt.Errorf("total supply %s out of range", total)
	}
	return total.Uint64(), nil
}

// OwnerOf returns the owner of id
func (c *Contract) OwnerOf(ctx context.Context, id uint64) (string, error) {
	out, err := c.call(ctx, "ownerOf", tokenID(id))
	if err != nil {
		return "", err
	}
	owner := abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if *owner == (common.Address{}) {
		return "", fmt.Errorf("%w: item %d has no owner", artisan.ErrNotFound, id)
	}
	return owner.Hex(), nil
}

// ContentLocatorOf returns tokenURI
func (c *Contract) ContentLocatorOf(ctx context.Context, id uint64) (string, error) {
	out, err := c.call(ctx, "tokenURI", tokenID(id))
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out[0], new(string)).(*string), nil
}

// SaleState returns the listing flag and price
func (c *Contract) SaleState(ctx context.Context, id uint64) (artisan.SaleState, error) {
	out, err := c.call(ctx, "isForSale", tokenID(id))
	if err != nil {
		return artisan.SaleState{}, err
	}
	return artisan.SaleState{
		ForSale: *abi.ConvertType(out[0], new(bool)).(*bool),
		Price:   abi.ConvertType(out[1], new(big.Int)).(*big.Int),
	}, nil
}

// OnLedgerMetadata returns the fields recorded by mintNFT
func (c *Contract) OnLedgerMetadata(ctx context.Context, id uint64) (artisan.OnLedgerMetadata, error) {
	out, err := c.call(ctx, "getItemMetadata", tokenID(id))
	if err != nil {
		return artisan.OnLedgerMetadata{}, err
	}
	created := abi.ConvertType(out[3], new(big.Int)).(*big.Int)
	return artisan.OnLedgerMetadata{
		Description:    *abi.ConvertType(out[0], new(string)).(*string),
		Materials:      *abi.ConvertType(out[1], new(string)).(*string),
		CreatorDetails: *abi.ConvertType(out[2], new(string)).(*string),
		CreatedAt:      time.Unix(created.Int64(), 0).UTC(),
	}, nil
}

func (c *Contract) roleID(ctx context.Context, role artisan.Role) ([32]byte, error) {
	method, ok := roleGetters[role]
	if !ok {
		return [32]byte{}, fmt.Errorf("%w: unknown role %q", artisan.ErrInvalidArgument, role)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.roles[role]; ok {
		return id, nil
	}
	out, err := c.call(ctx, method)
	if err != nil {
		return [32]byte{}, err
	}
	id := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	c.roles[role] = id
	return id, nil
}

// HasRole reports role membership of identity
func (c *Contract) HasRole(ctx context.Context, role artisan.Role, identity string) (bool, error) {
	if !common.IsHexAddress(identity) {
		return false, fmt.Errorf("%w: malformed identity %q", artisan.ErrInvalidArgument, identity)
	}
	id, err := c.roleID(ctx, role)
	if err != nil {
		return false, err
	}
	out, err := c.call(ctx, "hasRole", id, common.HexToAddress(identity))
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// Provenance returns getProvenance. Timestamps come from the item's Transfer
// events when their count matches the recorded owners.
func (c *Contract) Provenance(ctx context.Context, id uint64) ([]artisan.ProvenanceEntry, error) {
	out, err := c.call(ctx, "getProvenance", tokenID(id))
	if err != nil {
		return nil, err
	}
	owners := *abi.ConvertType(out[0], new([]common.Address)).(*[]common.Address)

	entries := make([]artisan.ProvenanceEntry, len(owners))
	for i, owner := range owners {
		entries[i].Owner = owner.Hex()
	}

	transfers, err := c.logs(ctx, contractABI.Events["Transfer"].ID, nil, nil, common.BigToHash(tokenID(id)))
	if err != nil {
		return nil, err
	}
	if len(transfers) != len(entries) {
		return entries, nil
	}
	for i, lg := range transfers {
		ts, err := c.blockTime(ctx, lg.BlockNumber)
		if err != nil {
			return nil, err
		}
		entries[i].Timestamp = ts
	}
	return entries, nil
}

// CreatorRegistrations returns ArtisanRegistered events in block order
func (c *Contract) CreatorRegistrations(ctx context.Context) ([]artisan.CreatorRegistration, error) {
	logs, err := c.logs(ctx, contractABI.Events["ArtisanRegistered"].ID)
	if err != nil {
		return nil, err
	}
	regs := make([]artisan.CreatorRegistration, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) < 2 {
			continue
		}
		regs = append(regs, artisan.CreatorRegistration{
			Identity:    common.BytesToAddress(lg.Topics[1].Bytes()).Hex(),
			BlockNumber: lg.BlockNumber,
		})
	}
	return regs, nil
}

// logs filters contract logs by event id and indexed topics. A nil topic
// matches anything.
func (c *Contract) logs(ctx context.Context, event common.Hash, indexed ...interface{}) ([]types.Log, error) {
	topics := [][]common.Hash{{event}}
	for _, t := range indexed {
		switch v := t.(type) {
		case common.Hash:
			topics = append(topics, []common.Hash{v})
		default:
			topics = append(topics, nil)
		}
	}
	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(c.fromBlock),
		Addresses: []common.Address{c.address},
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("filter logs: %w", err)
	}
	return logs, nil
}

func (c *Contract) blockTime(ctx context.Context, number uint64) (time.Time, error) {
	header, err := c.backend.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return time.Time{}, fmt.Errorf("header %d: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

var errNoCode = errors.New("no contract code at address")

// Verify checks that code is deployed at the contract address
func (c *Contract) Verify(ctx context.Context) error {
	code, err := c.backend.CodeAt(ctx, c.address, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", artisan.ErrProviderUnavailable, err)
	}
	if len(code) == 0 {
		return fmt.Errorf("%w %s", errNoCode, c.address.Hex())
	}
	return nil
}
