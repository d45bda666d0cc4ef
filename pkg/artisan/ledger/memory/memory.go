// Package memory provides an in-process ledger that follows the marketplace
// contract's rules. Transactions are checked when submitted and re-checked
// when mined, so a state change between the two produces a reverted receipt.
package memory

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tendant/artisan-nft/pkg/artisan"
)

// Role identifiers reported in access-control reverts.
var roleIDs = map[artisan.Role]string{
	artisan.RoleAdmin:   crypto.Keccak256Hash([]byte("ADMIN_ROLE")).Hex(),
	artisan.RoleCreator: crypto.Keccak256Hash([]byte("ARTISAN_ROLE")).Hex(),
}

type item struct {
	owner      string
	locator    string
	meta       artisan.OnLedgerMetadata
	forSale    bool
	price      *big.Int
	provenance []artisan.ProvenanceEntry
}

// Ledger is an in-memory ledger-state service.
type Ledger struct {
	mu            sync.Mutex
	items         map[uint64]*item
	issued        uint64
	roles         map[artisan.Role]map[string]bool
	registrations []artisan.CreatorRegistration
	balances      map[string]*big.Int
	failures      map[uint64]error
	pending       []*transaction
	block         uint64
	nonce         uint64
	autoMine      bool
	now           func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithManualMining queues transactions until Mine is called.
func WithManualMining() Option {
	return func(l *Ledger) {
		l.autoMine = false
	}
}

// WithClock sets the block timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

// New creates a ledger whose administrator is admin.
func New(admin string, opts ...Option) *Ledger {
	l := &Ledger{
		items: make(map[uint64]*item),
		roles: map[artisan.Role]map[string]bool{
			artisan.RoleAdmin:   {},
			artisan.RoleCreator: {},
		},
		balances: make(map[string]*big.Int),
		failures: make(map[uint64]error),
		autoMine: true,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if admin != "" {
		l.roles[artisan.RoleAdmin][key(admin)] = true
	}
	return l
}

func key(identity string) string {
	return strings.ToLower(identity)
}

// GrantRole grants role to identity directly, without a transaction.
func (l *Ledger) GrantRole(role artisan.Role, identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.roles[role][key(identity)] = true
}

// RevokeRole removes role from identity.
func (l *Ledger) RevokeRole(role artisan.Role, identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.roles[role], key(identity))
}

// Fund credits identity with amount base units.
func (l *Ledger) Fund(identity string, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceLocked(identity).Add(l.balanceLocked(identity), amount)
}

// Balance returns the balance of identity.
func (l *Ledger) Balance(identity string) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return new(big.Int).Set(l.balanceLocked(identity))
}

func (l *Ledger) balanceLocked(identity string) *big.Int {
	b, ok := l.balances[key(identity)]
	if !ok {
		b = new(big.Int)
		l.balances[key(identity)] = b
	}
	return b
}

// FailItem makes every read of id fail with err. A nil err clears it.
func (l *Ledger) FailItem(id uint64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err == nil {
		delete(l.failures, id)
		return
	}
	l.failures[id] = err
}

// SetContentLocator overwrites the locator of id.
func (l *Ledger) SetContentLocator(id uint64, locator string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if it, ok := l.items[id]; ok {
		it.locator = locator
	}
}

// Pending returns the number of transactions awaiting inclusion.
func (l *Ledger) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Mine includes every pending transaction in a new block, re-validating each
// against the state at that point. It returns the number included.
func (l *Ledger) Mine() int {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	if len(pending) == 0 {
		l.mu.Unlock()
		return 0
	}
	l.block++
	block := l.block
	for _, tx := range pending {
		id, err := tx.call(l, false)
		receipt := &artisan.Receipt{
			Hash:        tx.hash,
			Success:     err == nil,
			BlockNumber: block,
			ItemID:      id,
		}
		if err != nil {
			receipt.Reason = err.Error()
		}
		tx.receipt = receipt
	}
	l.mu.Unlock()

	for _, tx := range pending {
		close(tx.done)
	}
	return len(pending)
}

// Read operations

func (l *Ledger) itemLocked(id uint64) (*item, error) {
	if err, ok := l.failures[id]; ok {
		return nil, err
	}
	it, ok := l.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: ERC721: invalid token ID %d", artisan.ErrNotFound, id)
	}
	return it, nil
}

// TotalIssued returns the number of items minted so far
func (l *Ledger) TotalIssued(ctx context.Context) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.issued, nil
}

// OwnerOf returns the current owner of id
func (l *Ledger) OwnerOf(ctx context.Context, id uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.itemLocked(id)
	if err != nil {
		return "", err
	}
	return it.owner, nil
}

// ContentLocatorOf returns the locator recorded at mint
func (l *Ledger) ContentLocatorOf(ctx context.Context, id uint64) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.itemLocked(id)
	if err != nil {
		return "", err
	}
	return it.locator, nil
}

// SaleState returns the stored listing flag and price
func (l *Ledger) SaleState(ctx context.Context, id uint64) (artisan.SaleState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.itemLocked(id)
	if err != nil {
		return artisan.SaleState{}, err
	}
	return artisan.SaleState{ForSale: it.forSale, Price: new(big.Int).Set(it.price)}, nil
}

// OnLedgerMetadata returns the descriptive fields recorded at mint
func (l *Ledger) OnLedgerMetadata(ctx context.Context, id uint64) (artisan.OnLedgerMetadata, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.itemLocked(id)
	if err != nil {
		return artisan.OnLedgerMetadata{}, err
	}
	return it.meta, nil
}

// HasRole reports role membership
func (l *Ledger) HasRole(ctx context.Context, role artisan.Role, identity string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	members, ok := l.roles[role]
	if !ok {
		return false, fmt.Errorf("%w: unknown role %q", artisan.ErrInvalidArgument, role)
	}
	return members[key(identity)], nil
}

// Provenance returns the ownership history of id
func (l *Ledger) Provenance(ctx context.Context, id uint64) ([]artisan.ProvenanceEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	it, err := l.itemLocked(id)
	if err != nil {
		return nil, err
	}
	return append([]artisan.ProvenanceEntry(nil), it.provenance...), nil
}

// CreatorRegistrations returns every creator registration in block order
func (l *Ledger) CreatorRegistrations(ctx context.Context) ([]artisan.CreatorRegistration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]artisan.CreatorRegistration(nil), l.registrations...), nil
}

// Contract rules. Each call validates against the current state and, unless
// dryRun is set, applies its effect. Must hold l.mu.

type call func(l *Ledger, dryRun bool) (uint64, error)

func revert(reason string, args ...any) error {
	return fmt.Errorf("execution reverted: "+reason, args...)
}

func (l *Ledger) requireRole(role artisan.Role, from string) error {
	if !l.roles[role][key(from)] {
		return revert("AccessControl: account %s is missing role %s", strings.ToLower(from), roleIDs[role])
	}
	return nil
}

func mintCall(from string, args artisan.MintArgs) call {
	return func(l *Ledger, dryRun bool) (uint64, error) {
		if err := l.requireRole(artisan.RoleCreator, from); err != nil {
			return 0, err
		}
		if dryRun {
			return 0, nil
		}
		l.issued++
		id := l.issued
		now := l.now()
		l.items[id] = &item{
			owner:   args.Owner,
			locator: args.Locator,
			meta: artisan.OnLedgerMetadata{
				Description:    args.Description,
				Materials:      args.Materials,
				CreatorDetails: args.CreatorDetails,
				CreatedAt:      now,
			},
			price:      new(big.Int),
			provenance: []artisan.ProvenanceEntry{{Owner: args.Owner, Timestamp: now}},
		}
		return id, nil
	}
}

func listCall(from string, id uint64, price *big.Int) call {
	return func(l *Ledger, dryRun bool) (uint64, error) {
		it, ok := l.items[id]
		if !ok {
			return 0, revert("ERC721: invalid token ID")
		}
		if !strings.EqualFold(it.owner, from) {
			return 0, revert("Not the owner")
		}
		if price.Sign() <= 0 {
			return 0, revert("Price must be greater than zero")
		}
		if dryRun {
			return 0, nil
		}
		it.forSale = true
		it.price = new(big.Int).Set(price)
		return 0, nil
	}
}

func delistCall(from string, id uint64) call {
	return func(l *Ledger, dryRun bool) (uint64, error) {
		it, ok := l.items[id]
		if !ok {
			return 0, revert("ERC721: invalid token ID")
		}
		if !strings.EqualFold(it.owner, from) {
			return 0, revert("Not the owner")
		}
		if !it.forSale {
			return 0, revert("NFT is not for sale")
		}
		if dryRun {
			return 0, nil
		}
		// The stored price is kept; only the flag clears.
		it.forSale = false
		return 0, nil
	}
}

func purchaseCall(from string, id uint64, payment *big.Int) call {
	return func(l *Ledger, dryRun bool) (uint64, error) {
		it, ok := l.items[id]
		if !ok {
			return 0, revert("ERC721: invalid token ID")
		}
		if !it.forSale {
			return 0, revert("NFT is not for sale")
		}
		if payment.Cmp(it.price) != 0 {
			return 0, revert("Incorrect price")
		}
		if strings.EqualFold(it.owner, from) {
			return 0, revert("Owner cannot purchase")
		}
		if l.balanceLocked(from).Cmp(payment) < 0 {
			return 0, fmt.Errorf("insufficient funds for gas * price + value: address %s have %s want %s",
				strings.ToLower(from), l.balanceLocked(from), payment)
		}
		if dryRun {
			return 0, nil
		}
		seller := it.owner
		l.balanceLocked(from).Sub(l.balanceLocked(from), payment)
		l.balanceLocked(seller).Add(l.balanceLocked(seller), payment)
		it.owner = from
		it.forSale = false
		it.provenance = append(it.provenance, artisan.ProvenanceEntry{Owner: from, Timestamp: l.now()})
		return 0, nil
	}
}

func registerCreatorCall(from, identity string) call {
	return func(l *Ledger, dryRun bool) (uint64, error) {
		if err := l.requireRole(artisan.RoleAdmin, from); err != nil {
			return 0, err
		}
		if dryRun {
			return 0, nil
		}
		l.roles[artisan.RoleCreator][key(identity)] = true
		l.registrations = append(l.registrations, artisan.CreatorRegistration{
			Identity:    identity,
			BlockNumber: l.block,
		})
		return 0, nil
	}
}

// submit pre-flights c against the current state, then queues it. With
// automatic mining the transaction is included before submit returns.
func (l *Ledger) submit(c call) (artisan.Transaction, error) {
	l.mu.Lock()
	if _, err := c(l, true); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.nonce++
	tx := &transaction{
		hash: fmt.Sprintf("0x%064x", l.nonce),
		call: c,
		done: make(chan struct{}),
	}
	l.pending = append(l.pending, tx)
	autoMine := l.autoMine
	l.mu.Unlock()

	if autoMine {
		l.Mine()
	}
	return tx, nil
}

type transaction struct {
	hash    string
	call    call
	done    chan struct{}
	receipt *artisan.Receipt
}

func (t *transaction) Hash() string {
	return t.hash
}

func (t *transaction) Wait(ctx context.Context) (*artisan.Receipt, error) {
	select {
	case <-t.done:
		return t.receipt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
