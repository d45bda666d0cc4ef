package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// revertErr mimics the JSON-RPC error a node returns for a reverted call.
type revertErr struct {
	msg  string
	data []byte
}

func (e *revertErr) Error() string          { return e.msg }
func (e *revertErr) ErrorData() interface{} { return hexutil.Encode(e.data) }

func reasonRevert(reason string) error {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	selector := []byte{0x08, 0xc3, 0x79, 0xa0}
	return &revertErr{msg: "execution reverted: " + reason, data: append(selector, packed...)}
}

func customRevert(name string, args ...interface{}) error {
	abiErr := contractABI.Errors[name]
	packed, err := abiErr.Inputs.Pack(args...)
	if err != nil {
		panic(err)
	}
	data := append(append([]byte{}, abiErr.ID[:4]...), packed...)
	return &revertErr{msg: "execution reverted", data: data}
}

type fakeItem struct {
	owner       common.Address
	uri         string
	forSale     bool
	price       *big.Int
	description string
	materials   string
	details     string
	created     uint64
	artisan     common.Address
	provenance  []common.Address
}

// fakeChain is a single-contract node that executes the marketplace rules
// directly against ABI-encoded calldata.
type fakeChain struct {
	mu          sync.Mutex
	address     common.Address
	chainID     *big.Int
	adminRole   [32]byte
	artisanRole [32]byte
	roles       map[[32]byte]map[common.Address]bool
	items       map[uint64]*fakeItem
	supply      uint64
	block       uint64
	blockTimes  map[uint64]uint64
	logs        []types.Log
	receipts    map[common.Hash]*types.Receipt
	queue       []*types.Transaction
	nonces      map[common.Address]uint64
	manual      bool
	calls       map[string]int
}

func newFakeChain(admin common.Address) *fakeChain {
	f := &fakeChain{
		address:     common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		chainID:     big.NewInt(1337),
		adminRole:   crypto.Keccak256Hash([]byte("ADMIN_ROLE")),
		artisanRole: crypto.Keccak256Hash([]byte("ARTISAN_ROLE")),
		items:       make(map[uint64]*fakeItem),
		blockTimes:  map[uint64]uint64{0: 1700000000},
		receipts:    make(map[common.Hash]*types.Receipt),
		nonces:      make(map[common.Address]uint64),
		calls:       make(map[string]int),
	}
	f.roles = map[[32]byte]map[common.Address]bool{
		f.adminRole:   {admin: true},
		f.artisanRole: {},
	}
	return f
}

func (f *fakeChain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	if account == f.address {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out, _, err := f.exec(call.From, call.Value, call.Data, false)
	return out, err
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.block
	if number != nil {
		n = number.Uint64()
	}
	return &types.Header{Number: new(big.Int).SetUint64(n), Time: f.blockTimes[n]}, nil
}

func (f *fakeChain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return f.CodeAt(ctx, account, nil)
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonces[account], nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, _, err := f.exec(call.From, call.Value, call.Data, false); err != nil {
		return 0, err
	}
	return 200_000, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sender, err := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
	if err != nil {
		return err
	}
	f.nonces[sender]++
	f.queue = append(f.queue, tx)
	if !f.manual {
		f.mineLocked()
	}
	return nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Log
	for _, lg := range f.logs {
		if q.FromBlock != nil && lg.BlockNumber < q.FromBlock.Uint64() {
			continue
		}
		if !matchTopics(lg.Topics, q.Topics) {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func matchTopics(topics []common.Hash, filter [][]common.Hash) bool {
	for i, set := range filter {
		if len(set) == 0 {
			continue
		}
		if i >= len(topics) {
			return false
		}
		found := false
		for _, h := range set {
			if h == topics[i] {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *fakeChain) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions not supported")
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (f *fakeChain) mine() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mineLocked()
}

func (f *fakeChain) mineLocked() {
	if len(f.queue) == 0 {
		return
	}
	f.block++
	f.blockTimes[f.block] = f.blockTimes[0] + f.block*12
	for _, tx := range f.queue {
		sender, _ := types.Sender(types.LatestSignerForChainID(f.chainID), tx)
		_, logs, err := f.exec(sender, tx.Value(), tx.Data(), true)
		receipt := &types.Receipt{
			Status:      types.ReceiptStatusSuccessful,
			TxHash:      tx.Hash(),
			BlockNumber: new(big.Int).SetUint64(f.block),
		}
		if err != nil {
			receipt.Status = types.ReceiptStatusFailed
			logs = nil
		}
		for i := range logs {
			logs[i].BlockNumber = f.block
			logs[i].TxHash = tx.Hash()
			f.logs = append(f.logs, logs[i])
			receipt.Logs = append(receipt.Logs, &logs[i])
		}
		f.receipts[tx.Hash()] = receipt
	}
	f.queue = nil
}

func (f *fakeChain) transferLog(from, to common.Address, id uint64) types.Log {
	return types.Log{
		Address: f.address,
		Topics: []common.Hash{
			contractABI.Events["Transfer"].ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
			common.BigToHash(new(big.Int).SetUint64(id)),
		},
	}
}

func (f *fakeChain) registeredLog(account common.Address) types.Log {
	return types.Log{
		Address: f.address,
		Topics:  []common.Hash{contractABI.Events["ArtisanRegistered"].ID, common.BytesToHash(account.Bytes())},
	}
}

// exec runs calldata against the contract state. Writes change state only
// when commit is set.
func (f *fakeChain) exec(from common.Address, value *big.Int, data []byte, commit bool) ([]byte, []types.Log, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("execution reverted")
	}
	method, err := contractABI.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	f.calls[method.Name]++
	pack := func(vals ...interface{}) ([]byte, []types.Log, error) {
		out, err := method.Outputs.Pack(vals...)
		return out, nil, err
	}

	switch method.Name {
	case "totalSupply":
		return pack(new(big.Int).SetUint64(f.supply))
	case "ADMIN_ROLE":
		return pack(f.adminRole)
	case "ARTISAN_ROLE":
		return pack(f.artisanRole)
	case "hasRole":
		return pack(f.roles[args[0].([32]byte)][args[1].(common.Address)])
	case "mintNFT":
		if !f.roles[f.artisanRole][from] {
			return nil, nil, customRevert("AccessControlUnauthorizedAccount", from, f.artisanRole)
		}
		if !commit {
			return pack(new(big.Int).SetUint64(f.supply + 1))
		}
		f.supply++
		to := args[0].(common.Address)
		f.items[f.supply] = &fakeItem{
			owner:       to,
			description: args[1].(string),
			materials:   args[2].(string),
			details:     args[3].(string),
			uri:         args[4].(string),
			price:       new(big.Int),
			created:     f.blockTimes[f.block],
			artisan:     from,
			provenance:  []common.Address{to},
		}
		out, err := method.Outputs.Pack(new(big.Int).SetUint64(f.supply))
		return out, []types.Log{f.transferLog(common.Address{}, to, f.supply)}, err
	case "registerArtisan":
		if !f.roles[f.adminRole][from] {
			return nil, nil, customRevert("AccessControlUnauthorizedAccount", from, f.adminRole)
		}
		account := args[0].(common.Address)
		if commit {
			f.roles[f.artisanRole][account] = true
			return nil, []types.Log{f.registeredLog(account)}, nil
		}
		return nil, nil, nil
	}

	raw := args[0].(*big.Int)
	id := raw.Uint64()
	it, ok := f.items[id]
	if !ok {
		return nil, nil, customRevert("ERC721NonexistentToken", raw)
	}

	switch method.Name {
	case "ownerOf":
		return pack(it.owner)
	case "tokenURI":
		return pack(it.uri)
	case "isForSale":
		return pack(it.forSale, it.price)
	case "getItemMetadata":
		return pack(it.description, it.materials, it.details, new(big.Int).SetUint64(it.created), it.artisan, new(big.Int))
	case "getProvenance":
		return pack(it.provenance)
	case "setNFTForSale":
		if it.owner != from {
			return nil, nil, reasonRevert("Not the owner")
		}
		price := args[1].(*big.Int)
		if price.Sign() <= 0 {
			return nil, nil, reasonRevert("Price must be greater than zero")
		}
		if commit {
			it.forSale = true
			it.price = new(big.Int).Set(price)
		}
		return nil, nil, nil
	case "removeNFTFromSale":
		if it.owner != from {
			return nil, nil, reasonRevert("Not the owner")
		}
		if !it.forSale {
			return nil, nil, reasonRevert("Not for sale")
		}
		if commit {
			it.forSale = false
			it.price = new(big.Int)
		}
		return nil, nil, nil
	case "purchaseNFT":
		if !it.forSale {
			return nil, nil, reasonRevert("Not for sale")
		}
		if value == nil || value.Cmp(it.price) != 0 {
			return nil, nil, reasonRevert("Incorrect price")
		}
		if it.owner == from {
			return nil, nil, reasonRevert("Cannot buy your own NFT")
		}
		if !commit {
			return nil, nil, nil
		}
		prev := it.owner
		it.owner = from
		it.forSale = false
		it.price = new(big.Int)
		it.provenance = append(it.provenance, from)
		return nil, []types.Log{f.transferLog(prev, from, id)}, nil
	}
	return nil, nil, fmt.Errorf("unsupported method %s", method.Name)
}

func (f *fakeChain) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// keySigner signs with locally generated keys.
type keySigner struct {
	chainID *big.Int
	keys    map[common.Address]*ecdsa.PrivateKey
}

func newKeySigner(chainID *big.Int) *keySigner {
	return &keySigner{chainID: chainID, keys: make(map[common.Address]*ecdsa.PrivateKey)}
}

func (s *keySigner) add() common.Address {
	key, err := crypto.GenerateKey()
	if err != nil {
		panic(err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	s.keys[addr] = key
	return addr
}

func (s *keySigner) TransactOpts(ctx context.Context, identity string) (*bind.TransactOpts, error) {
	key, ok := s.keys[common.HexToAddress(identity)]
	if !ok {
		return nil, fmt.Errorf("%w: no key for %s", artisan.ErrUnauthorized, identity)
	}
	return bind.NewKeyedTransactorWithChainID(key, s.chainID)
}
