package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db)
}

func TestRepository_ActivityJournal(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	entries := []*artisan.Activity{
		{ID: uuid.New(), Kind: artisan.OpMint, ItemID: 1, Hash: "0x01", Actor: "0xAbC0000000000000000000000000000000000001", State: artisan.TxConfirmed, CreatedAt: base},
		{ID: uuid.New(), Kind: artisan.OpPurchase, ItemID: 1, Hash: "0x03", Actor: "0x9990000000000000000000000000000000000009", State: artisan.TxFailed, Reason: "stale state", CreatedAt: base.Add(2 * time.Minute)},
		{ID: uuid.New(), Kind: artisan.OpList, ItemID: 1, Hash: "0x02", Actor: "0xabc0000000000000000000000000000000000001", State: artisan.TxConfirmed, CreatedAt: base.Add(time.Minute)},
		{ID: uuid.New(), Kind: artisan.OpRegisterCreator, Hash: "0x04", Actor: "0xabc0000000000000000000000000000000000001", State: artisan.TxConfirmed, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, e := range entries {
		require.NoError(t, repo.RecordActivity(ctx, e))
	}

	t.Run("by item in time order", func(t *testing.T) {
		got, err := repo.ListActivityByItem(ctx, 1)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"0x01", "0x02", "0x03"}, []string{got[0].Hash, got[1].Hash, got[2].Hash})
		assert.Equal(t, "stale state", got[2].Reason)
		assert.Equal(t, artisan.TxFailed, got[2].State)
		assert.Equal(t, entries[0].ID, got[0].ID)
		assert.True(t, base.Equal(got[0].CreatedAt))
	})

	t.Run("by actor ignores case", func(t *testing.T) {
		got, err := repo.ListActivityByActor(ctx, "0xABC0000000000000000000000000000000000001")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, artisan.OpRegisterCreator, got[2].Kind)
		assert.Equal(t, "0xAbC0000000000000000000000000000000000001", got[0].Actor)
	})

	t.Run("unknown item is empty", func(t *testing.T) {
		got, err := repo.ListActivityByItem(ctx, 42)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		err := repo.RecordActivity(ctx, entries[0])
		assert.ErrorIs(t, err, artisan.ErrInvalidArgument)
	})

	t.Run("nil id rejected", func(t *testing.T) {
		err := repo.RecordActivity(ctx, &artisan.Activity{Kind: artisan.OpMint})
		assert.ErrorIs(t, err, artisan.ErrInvalidArgument)
	})
}

func TestOpen_ReopensExistingDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	db, err := Open(path)
	require.NoError(t, err)
	id := uuid.New()
	require.NoError(t, New(db).RecordActivity(ctx, &artisan.Activity{ID: id, Kind: artisan.OpMint, ItemID: 7, Actor: "0x01", State: artisan.TxConfirmed, CreatedAt: time.Now()}))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	got, err := New(db).ListActivityByItem(ctx, 7)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
}
