package evm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

type testEnv struct {
	chain   *fakeChain
	signer  *keySigner
	binder  *Binder
	admin   common.Address
	creator common.Address
	buyer   common.Address
	other   common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	signer := newKeySigner(big.NewInt(1337))
	env := &testEnv{signer: signer}
	env.admin = signer.add()
	env.creator = signer.add()
	env.buyer = signer.add()
	env.other = signer.add()
	env.chain = newFakeChain(env.admin)

	var err error
	env.binder, err = NewBinder(Config{ContractAddress: env.chain.address.Hex()}, env.chain, signer, WithReadBackend(env.chain))
	require.NoError(t, err)

	admin := env.account(t, env.admin)
	env.confirm(t, func() (artisan.Transaction, error) {
		return admin.RegisterCreator(context.Background(), env.creator.Hex())
	})
	return env
}

func (e *testEnv) account(t *testing.T, who common.Address) artisan.Ledger {
	t.Helper()
	l, err := e.binder.Bind(context.Background(), who.Hex())
	require.NoError(t, err)
	return l
}

func (e *testEnv) confirm(t *testing.T, submit func() (artisan.Transaction, error)) *artisan.Receipt {
	t.Helper()
	tx, err := submit()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	require.True(t, receipt.Success, "reverted: %s", receipt.Reason)
	return receipt
}

func (e *testEnv) mint(t *testing.T, locator string) uint64 {
	t.Helper()
	creator := e.account(t, e.creator)
	receipt := e.confirm(t, func() (artisan.Transaction, error) {
		return creator.Mint(context.Background(), artisan.MintArgs{
			Owner:          e.creator.Hex(),
			Description:    "Turned bowl",
			Materials:      "Walnut",
			CreatorDetails: "Hill Workshop",
			Locator:        locator,
		})
	})
	return receipt.ItemID
}

func TestNewBinder(t *testing.T) {
	chain := newFakeChain(common.Address{})
	signer := newKeySigner(chain.chainID)

	_, err := NewBinder(Config{ContractAddress: "nope"}, chain, signer)
	assert.Error(t, err)
	_, err = NewBinder(Config{ContractAddress: chain.address.Hex()}, nil, signer)
	assert.Error(t, err)
	_, err = NewBinder(Config{ContractAddress: chain.address.Hex()}, chain, nil)
	assert.Error(t, err)

	b, err := NewBinder(Config{ContractAddress: chain.address.Hex()}, chain, signer)
	require.NoError(t, err)
	_, err = b.ReadOnly(context.Background())
	assert.Error(t, err, "no read endpoint configured")
}

func TestContract_Reads(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.mint(t, "ipfs://QmFirst")
	second := env.mint(t, "ipfs://QmSecond")
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(2), second)

	reader, err := env.binder.ReadOnly(ctx)
	require.NoError(t, err)

	total, err := reader.TotalIssued(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), total)

	owner, err := reader.OwnerOf(ctx, second)
	require.NoError(t, err)
	assert.True(t, artisan.SameIdentity(env.creator.Hex(), owner))

	locator, err := reader.ContentLocatorOf(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://QmSecond", locator)

	meta, err := reader.OnLedgerMetadata(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Turned bowl", meta.Description)
	assert.Equal(t, "Walnut", meta.Materials)
	assert.Equal(t, "Hill Workshop", meta.CreatorDetails)
	assert.False(t, meta.CreatedAt.IsZero())

	sale, err := reader.SaleState(ctx, first)
	require.NoError(t, err)
	assert.False(t, sale.ForSale)
	assert.Zero(t, sale.Price.Sign())
}

func TestContract_NonexistentToken(t *testing.T) {
	env := newTestEnv(t)
	reader, err := env.binder.ReadOnly(context.Background())
	require.NoError(t, err)

	_, err = reader.OwnerOf(context.Background(), 42)
	assert.ErrorIs(t, err, artisan.ErrNotFound)

	_, err = reader.SaleState(context.Background(), 42)
	assert.ErrorIs(t, err, artisan.ErrNotFound)
}

func TestContract_HasRoleCachesRoleIDs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	reader, err := env.binder.ReadOnly(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		isAdmin, err := reader.HasRole(ctx, artisan.RoleAdmin, env.admin.Hex())
		require.NoError(t, err)
		assert.True(t, isAdmin)
	}
	assert.Equal(t, 1, env.chain.callCount("ADMIN_ROLE"))

	isCreator, err := reader.HasRole(ctx, artisan.RoleCreator, env.buyer.Hex())
	require.NoError(t, err)
	assert.False(t, isCreator)

	_, err = reader.HasRole(ctx, artisan.RoleCreator, "0x12")
	assert.ErrorIs(t, err, artisan.ErrInvalidArgument)
}

func TestAccount_MintRequiresCreatorRole(t *testing.T) {
	env := newTestEnv(t)
	outsider := env.account(t, env.other)

	tx, err := outsider.Mint(context.Background(), artisan.MintArgs{Owner: env.other.Hex(), Locator: "ipfs://QmX"})
	assert.Nil(t, tx)
	assert.ErrorIs(t, err, artisan.ErrUnauthorized)
	assert.Zero(t, env.chain.supply)
}

func TestAccount_ListAndPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.mint(t, "ipfs://QmBowl")
	price := big.NewInt(1_000_000_000_000_000_000)

	creator := env.account(t, env.creator)
	env.confirm(t, func() (artisan.Transaction, error) { return creator.List(ctx, id, price) })

	sale, err := creator.SaleState(ctx, id)
	require.NoError(t, err)
	assert.True(t, sale.ForSale)
	assert.Equal(t, 0, price.Cmp(sale.Price))

	buyer := env.account(t, env.buyer)

	t.Run("wrong payment rejected before submission", func(t *testing.T) {
		tx, err := buyer.Purchase(ctx, id, big.NewInt(1))
		assert.Nil(t, tx)
		require.Error(t, err)
		assert.ErrorIs(t, artisan.Classify(err), artisan.ErrStaleState)
	})

	env.confirm(t, func() (artisan.Transaction, error) { return buyer.Purchase(ctx, id, price) })

	owner, err := buyer.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.True(t, artisan.SameIdentity(env.buyer.Hex(), owner))

	sale, err = buyer.SaleState(ctx, id)
	require.NoError(t, err)
	assert.False(t, sale.ForSale)

	history, err := buyer.Provenance(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, artisan.SameIdentity(env.creator.Hex(), history[0].Owner))
	assert.True(t, artisan.SameIdentity(env.buyer.Hex(), history[1].Owner))
	assert.False(t, history[1].Timestamp.IsZero())
	assert.False(t, history[1].Timestamp.Before(history[0].Timestamp))
}

func TestAccount_DelistUnlisted(t *testing.T) {
	env := newTestEnv(t)
	id := env.mint(t, "ipfs://QmBowl")
	creator := env.account(t, env.creator)

	_, err := creator.Delist(context.Background(), id)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Not for sale")
}

func TestTransaction_RevertedAtInclusion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.mint(t, "ipfs://QmBowl")
	price := big.NewInt(500)
	creator := env.account(t, env.creator)
	env.confirm(t, func() (artisan.Transaction, error) { return creator.List(ctx, id, price) })

	env.chain.manual = true
	first, err := env.account(t, env.buyer).Purchase(ctx, id, price)
	require.NoError(t, err)
	second, err := env.account(t, env.other).Purchase(ctx, id, price)
	require.NoError(t, err)
	env.chain.mine()

	won, err := first.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, won.Success)

	lost, err := second.Wait(ctx)
	require.NoError(t, err)
	assert.False(t, lost.Success)
	assert.Contains(t, lost.Reason, "Not for sale")
	assert.Equal(t, second.Hash(), lost.Hash)
}

func TestTransaction_WaitHonorsContext(t *testing.T) {
	env := newTestEnv(t)
	id := env.mint(t, "ipfs://QmBowl")
	env.chain.manual = true

	tx, err := env.account(t, env.creator).List(context.Background(), id, big.NewInt(5))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = tx.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestContract_CreatorRegistrations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := env.account(t, env.admin)
	env.confirm(t, func() (artisan.Transaction, error) { return admin.RegisterCreator(ctx, env.other.Hex()) })

	regs, err := admin.CreatorRegistrations(ctx)
	require.NoError(t, err)
	require.Len(t, regs, 2)
	assert.True(t, artisan.SameIdentity(env.creator.Hex(), regs[0].Identity))
	assert.True(t, artisan.SameIdentity(env.other.Hex(), regs[1].Identity))
	assert.Less(t, regs[0].BlockNumber, regs[1].BlockNumber)

	outsider := env.account(t, env.buyer)
	_, err = outsider.RegisterCreator(ctx, env.buyer.Hex())
	assert.ErrorIs(t, err, artisan.ErrUnauthorized)
}

func TestContract_Verify(t *testing.T) {
	env := newTestEnv(t)
	assert.NoError(t, NewContract(env.chain.address, env.chain, 0).Verify(context.Background()))
	assert.Error(t, NewContract(common.HexToAddress("0x01"), env.chain, 0).Verify(context.Background()))
}
