package artisan_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/artisan-nft/pkg/artisan"
	ledgermemory "github.com/tendant/artisan-nft/pkg/artisan/ledger/memory"
)

func TestNewOrchestratorRequiresSession(t *testing.T) {
	o, err := artisan.NewOrchestrator(nil)
	assert.Error(t, err)
	assert.Nil(t, o)
}

func TestOrchestrator_MintByNonCreatorIsRejected(t *testing.T) {
	f := newFixture(t, buyerAddr)
	f.connect(t)
	ctx := context.Background()

	h, err := f.orchestrator.Submit(ctx, artisan.MintOperation(artisan.MintArgs{
		Owner:   buyerAddr,
		Locator: "ipfs://" + sampleCID,
	}))
	assert.ErrorIs(t, err, artisan.ErrUnauthorized)
	assert.Nil(t, h)

	var opErr *artisan.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, artisan.OpMint, opErr.Kind)

	total, err := f.ledger.TotalIssued(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Zero(t, f.ledger.Pending())
}

func TestOrchestrator_SubmitWithoutConnection(t *testing.T) {
	f := newFixture(t, creatorAddr)

	h, err := f.orchestrator.Submit(context.Background(), artisan.ListOperation(1, eth("1")))
	assert.ErrorIs(t, err, artisan.ErrNotConnected)
	assert.Nil(t, h)
}

func TestOrchestrator_SynchronousRejections(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	id := f.mint(t, "Bowl", "Thrown clay")

	tests := []struct {
		name string
		as   string
		op   artisan.Operation
		want error
	}{
		{"list zero price", creatorAddr, artisan.ListOperation(id, eth("0")), artisan.ErrInvalidArgument},
		{"list nil price", creatorAddr, artisan.ListOperation(id, nil), artisan.ErrInvalidArgument},
		{"list by non-owner", buyerAddr, artisan.ListOperation(id, eth("1")), artisan.ErrUnauthorized},
		{"delist unlisted", creatorAddr, artisan.DelistOperation(id), artisan.ErrStaleState},
		{"delist by non-owner", buyerAddr, artisan.DelistOperation(id), artisan.ErrUnauthorized},
		{"purchase by owner", creatorAddr, artisan.PurchaseOperation(id, eth("1")), artisan.ErrUnauthorized},
		{"purchase unknown item", buyerAddr, artisan.PurchaseOperation(99, eth("1")), artisan.ErrNotFound},
		{"mint malformed owner", creatorAddr, artisan.MintOperation(artisan.MintArgs{Owner: "nobody", Locator: "ipfs://x"}), artisan.ErrInvalidArgument},
		{"mint without locator", creatorAddr, artisan.MintOperation(artisan.MintArgs{Owner: creatorAddr}), artisan.ErrInvalidArgument},
		{"register by non-admin", creatorAddr, artisan.RegisterCreatorOperation(otherAddr), artisan.ErrUnauthorized},
		{"unknown kind", creatorAddr, artisan.Operation{Kind: "burn"}, artisan.ErrInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f.actAs(t, tt.as)
			h, err := f.orchestrator.Submit(ctx, tt.op)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, h)
			assert.Zero(t, f.ledger.Pending())
		})
	}
}

func TestOrchestrator_UserDeclinedSigning(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	id := f.mint(t, "Bowl", "Thrown clay")

	f.provider.DeclineSigning(true)
	h, err := f.orchestrator.Submit(ctx, artisan.ListOperation(id, eth("1")))
	assert.ErrorIs(t, err, artisan.ErrUserDeclined)
	assert.Nil(t, h)

	f.provider.DeclineSigning(false)
	_, err = f.orchestrator.List(ctx, id, eth("1"))
	assert.NoError(t, err)
}

func TestOrchestrator_InsufficientFunds(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	id := f.mint(t, "Bowl", "Thrown clay")
	_, err := f.orchestrator.List(ctx, id, eth("3"))
	require.NoError(t, err)

	f.ledger.Fund(buyerAddr, eth("1"))
	f.actAs(t, buyerAddr)
	h, err := f.orchestrator.Submit(ctx, artisan.PurchaseOperation(id, eth("3")))
	assert.ErrorIs(t, err, artisan.ErrInsufficientFunds)
	assert.Nil(t, h)
	assert.Contains(t, artisan.UserMessage(err), "balance")
}

func TestOrchestrator_MintChainsListing(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	f.mint(t, "First", "Existing")

	out, err := f.orchestrator.Mint(ctx, artisan.MintArgs{
		Owner:        creatorAddr,
		Description:  "With price",
		Locator:      "ipfs://" + sampleCID,
		InitialPrice: eth("1.5"),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), out.ItemID)
	assert.Equal(t, artisan.TxConfirmed, out.State)
	require.NotNil(t, out.Listing)
	assert.Equal(t, artisan.TxConfirmed, out.Listing.State)
	assert.Equal(t, uint64(2), out.Listing.ItemID)

	sale, err := f.ledger.SaleState(ctx, 2)
	require.NoError(t, err)
	assert.True(t, sale.ForSale)
	assert.Equal(t, eth("1.5"), sale.Price)
}

func TestOrchestrator_MintWithoutPriceDoesNotList(t *testing.T) {
	f := newFixture(t, creatorAddr)
	id := f.mint(t, "Bowl", "Thrown clay")

	sale, err := f.ledger.SaleState(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, sale.ForSale)
}

func TestOrchestrator_ConfirmedMintDropsListing(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	f.mint(t, "First", "Existing")

	items, err := f.aggregator.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Len(t, f.aggregator.Last(), 1)

	f.mint(t, "Second", "New")
	assert.Empty(t, f.aggregator.Last(), "a confirmed mint drops the last-fetch list")

	items, err = f.aggregator.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestOrchestrator_PurchaseTransfersOwnership(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	id := f.mint(t, "Bowl", "Thrown clay")
	_, err := f.orchestrator.List(ctx, id, eth("2"))
	require.NoError(t, err)

	f.ledger.Fund(buyerAddr, eth("5"))
	f.actAs(t, buyerAddr)
	out, err := f.orchestrator.Purchase(ctx, id, eth("2"))
	require.NoError(t, err)
	assert.Equal(t, artisan.TxConfirmed, out.State)
	require.NotNil(t, out.Receipt)
	assert.True(t, out.Receipt.Success)

	rec, err := f.aggregator.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, buyerAddr, rec.Owner)
	assert.False(t, rec.ForSale)
	assert.Equal(t, "0.0", rec.Price)

	assert.Equal(t, eth("3"), f.ledger.Balance(buyerAddr))
	assert.Equal(t, eth("2"), f.ledger.Balance(creatorAddr))

	activity, err := f.repo.ListActivityByItem(ctx, id)
	require.NoError(t, err)
	kinds := make([]artisan.OperationKind, 0, len(activity))
	for _, a := range activity {
		kinds = append(kinds, a.Kind)
		assert.Equal(t, artisan.TxConfirmed, a.State)
	}
	assert.Equal(t, []artisan.OperationKind{artisan.OpMint, artisan.OpList, artisan.OpPurchase}, kinds)
}

func TestOrchestrator_StalePriceRejectedAtSubmit(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	id := f.mint(t, "Bowl", "Thrown clay")
	_, err := f.orchestrator.List(ctx, id, eth("2"))
	require.NoError(t, err)

	f.ledger.Fund(buyerAddr, eth("5"))
	f.actAs(t, buyerAddr)
	_, err = f.aggregator.ListAll(ctx)
	require.NoError(t, err)
	_, cached := f.aggregator.Cached(id)
	require.True(t, cached)

	h, err := f.orchestrator.Submit(ctx, artisan.PurchaseOperation(id, eth("1")))
	assert.ErrorIs(t, err, artisan.ErrStaleState)
	assert.Nil(t, h)
	assert.Contains(t, artisan.UserMessage(err), "refresh")

	_, cached = f.aggregator.Cached(id)
	assert.False(t, cached, "stale item is invalidated")
}

func TestOrchestrator_StalePriceRejectedAtExecution(t *testing.T) {
	f := newFixture(t, creatorAddr, ledgermemory.WithManualMining())
	ctx := context.Background()

	stop := startMiner(f.ledger)
	id := f.mint(t, "Bowl", "Thrown clay")
	_, err := f.orchestrator.List(ctx, id, eth("2"))
	require.NoError(t, err)
	stop()

	f.ledger.Fund(buyerAddr, eth("5"))
	f.actAs(t, buyerAddr)
	_, err = f.aggregator.ListAll(ctx)
	require.NoError(t, err)

	// The seller re-prices from another client before the purchase is mined.
	_, err = f.ledger.As(creatorAddr, nil).List(ctx, id, eth("3"))
	require.NoError(t, err)

	h, err := f.orchestrator.Submit(ctx, artisan.PurchaseOperation(id, eth("2")))
	require.NoError(t, err, "pre-flight still sees the displayed price")
	assert.Equal(t, artisan.TxPending, h.State())

	require.Equal(t, 2, f.ledger.Mine())

	receipt, err := f.orchestrator.Await(ctx, h)
	assert.ErrorIs(t, err, artisan.ErrStaleState)
	require.NotNil(t, receipt)
	assert.False(t, receipt.Success)
	assert.Equal(t, artisan.TxFailed, h.State())

	_, cached := f.aggregator.Cached(id)
	assert.False(t, cached)

	owner, err := f.ledger.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, creatorAddr, owner)

	activity, err := f.repo.ListActivityByActor(ctx, buyerAddr)
	require.NoError(t, err)
	require.Len(t, activity, 1)
	assert.Equal(t, artisan.TxFailed, activity[0].State)
	assert.Contains(t, activity[0].Reason, "Incorrect price")
}

func TestOrchestrator_AwaitTimeoutIsIndeterminate(t *testing.T) {
	f := newFixture(t, creatorAddr, ledgermemory.WithManualMining())
	stop := startMiner(f.ledger)
	id := f.mint(t, "Bowl", "Thrown clay")
	stop()

	h, err := f.orchestrator.Submit(context.Background(), artisan.ListOperation(id, eth("1")))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = f.orchestrator.Await(ctx, h)
	assert.ErrorIs(t, err, artisan.ErrIndeterminate)
	assert.NotErrorIs(t, err, artisan.ErrTransactionFailed)
	assert.Equal(t, artisan.TxPending, h.State())

	f.ledger.Mine()
	receipt, err := f.orchestrator.Await(context.Background(), h)
	require.NoError(t, err)
	assert.True(t, receipt.Success)
	assert.Equal(t, artisan.TxConfirmed, h.State())
}

func TestOrchestrator_InFlightHandleAcrossNetworkChange(t *testing.T) {
	f := newFixture(t, creatorAddr, ledgermemory.WithManualMining())
	ctx := context.Background()
	stop := startMiner(f.ledger)
	id := f.mint(t, "Bowl", "Thrown clay")
	stop()

	h, err := f.orchestrator.Submit(ctx, artisan.ListOperation(id, eth("1")))
	require.NoError(t, err)

	f.provider.SwitchNetwork("5")
	require.Equal(t, uint64(1), f.session.Epoch())

	_, err = f.aggregator.ListAll(ctx)
	require.NoError(t, err)

	f.ledger.Mine()
	_, err = f.orchestrator.Await(ctx, h)
	require.NoError(t, err, "the old binding's transaction resolves on its own")
	assert.Equal(t, uint64(0), h.Epoch)

	_, cached := f.aggregator.Cached(id)
	assert.True(t, cached, "confirmations from an old epoch leave the new cache alone")
}

func TestOrchestrator_RegisterCreator(t *testing.T) {
	f := newFixture(t, adminAddr)
	f.connect(t)
	ctx := context.Background()

	out, err := f.orchestrator.RegisterCreator(ctx, otherAddr)
	require.NoError(t, err)
	assert.False(t, out.AlreadyRegistered)
	assert.Equal(t, artisan.TxConfirmed, out.State)

	has, err := f.ledger.HasRole(ctx, artisan.RoleCreator, otherAddr)
	require.NoError(t, err)
	assert.True(t, has)

	out, err = f.orchestrator.RegisterCreator(ctx, otherAddr)
	require.NoError(t, err)
	assert.True(t, out.AlreadyRegistered)
	assert.Nil(t, out.Handle)

	regs, err := f.ledger.CreatorRegistrations(ctx)
	require.NoError(t, err)
	assert.Len(t, regs, 1)

	_, err = f.orchestrator.RegisterCreator(ctx, "0xnothex")
	assert.ErrorIs(t, err, artisan.ErrInvalidArgument)

	f.switchTo(creatorAddr)
	_, err = f.orchestrator.RegisterCreator(ctx, buyerAddr)
	assert.ErrorIs(t, err, artisan.ErrUnauthorized)
}

type recordingSink struct {
	artisan.NoopEventSink
	mu        sync.Mutex
	submitted int
	confirmed int
	failed    int
}

func (r *recordingSink) TransactionSubmitted(ctx context.Context, h *artisan.TransactionHandle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted++
	return nil
}

func (r *recordingSink) TransactionConfirmed(ctx context.Context, h *artisan.TransactionHandle, receipt *artisan.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.confirmed++
	return nil
}

func (r *recordingSink) TransactionFailed(ctx context.Context, h *artisan.TransactionHandle, reason error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed++
	return nil
}

func TestOrchestrator_HooksAndEvents(t *testing.T) {
	f := newFixture(t, creatorAddr)
	ctx := context.Background()
	id := f.mint(t, "Bowl", "Thrown clay")

	sink := &recordingSink{}
	var rejected []artisan.OperationKind
	hooks := &artisan.Hooks{
		BeforeSubmit: []artisan.BeforeSubmitHook{
			artisan.ValidationHook(func(op *artisan.Operation) error {
				if op.Kind == artisan.OpDelist {
					return errors.New("delisting is frozen")
				}
				return nil
			}),
		},
		OnError: []artisan.ErrorHook{
			func(hctx *artisan.HookContext, kind artisan.OperationKind, err error) {
				rejected = append(rejected, kind)
			},
		},
	}
	o, err := artisan.NewOrchestrator(f.session, artisan.WithEventSink(sink), artisan.WithHooks(hooks))
	require.NoError(t, err)

	out, err := o.List(ctx, id, eth("1"))
	require.NoError(t, err)
	assert.Equal(t, artisan.TxConfirmed, out.State)

	_, err = o.Delist(ctx, id)
	assert.ErrorContains(t, err, "frozen")

	o.Drain()
	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal(t, 1, sink.submitted)
	assert.Equal(t, 1, sink.confirmed)
	assert.Equal(t, 0, sink.failed)
	assert.Equal(t, []artisan.OperationKind{artisan.OpDelist}, rejected)
}
