package artisan_test

import (
	"context"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tendant/artisan-nft/pkg/artisan"
	ledgermemory "github.com/tendant/artisan-nft/pkg/artisan/ledger/memory"
	repomemory "github.com/tendant/artisan-nft/pkg/artisan/repo/memory"
	signermemory "github.com/tendant/artisan-nft/pkg/artisan/signer/memory"
	storagememory "github.com/tendant/artisan-nft/pkg/artisan/storage/memory"
)

const (
	adminAddr   = "0xA000000000000000000000000000000000000001"
	creatorAddr = "0xC000000000000000000000000000000000000002"
	buyerAddr   = "0xB000000000000000000000000000000000000003"
	otherAddr   = "0xD000000000000000000000000000000000000004"
)

func eth(s string) *big.Int {
	v, err := artisan.ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return v
}

type fixture struct {
	ledger       *ledgermemory.Ledger
	provider     *signermemory.Provider
	store        *storagememory.Backend
	repo         *repomemory.Repository
	gateway      *httptest.Server
	resolver     *artisan.Resolver
	uploader     *artisan.Uploader
	session      *artisan.Session
	aggregator   *artisan.Aggregator
	orchestrator *artisan.Orchestrator
}

// newFixture wires every component over in-memory backends. The provider
// holds identity but is not yet authorized.
func newFixture(t *testing.T, identity string, opts ...ledgermemory.Option) *fixture {
	t.Helper()

	f := &fixture{
		ledger:   ledgermemory.New(adminAddr, opts...),
		provider: signermemory.New(identity),
		store:    storagememory.New(),
		repo:     repomemory.New(),
	}
	f.ledger.GrantRole(artisan.RoleCreator, creatorAddr)

	f.gateway = httptest.NewServer(gatewayHandler(f.store))
	t.Cleanup(f.gateway.Close)
	f.resolver = artisan.NewResolver(f.gateway.URL + "/ipfs/")

	var err error
	f.uploader, err = artisan.NewUploader(f.store)
	require.NoError(t, err)

	f.session, err = artisan.NewSession(
		artisan.WithProvider(f.provider),
		artisan.WithBinder(&ledgermemory.Binder{Ledger: f.ledger, Approver: f.provider}),
	)
	require.NoError(t, err)
	require.NoError(t, f.session.Start(context.Background()))
	t.Cleanup(f.session.Close)

	f.aggregator, err = artisan.NewAggregator(f.session, artisan.WithResolver(f.resolver))
	require.NoError(t, err)
	t.Cleanup(f.aggregator.Close)

	f.orchestrator, err = artisan.NewOrchestrator(f.session,
		artisan.WithInvalidator(f.aggregator),
		artisan.WithRepository(f.repo),
	)
	require.NoError(t, err)

	return f
}

func (f *fixture) connect(t *testing.T) {
	t.Helper()
	require.True(t, f.session.Connect(context.Background()), "connect failed: %v", f.session.Err())
}

// switchTo re-points the provider at identity. A connected session
// re-derives synchronously.
func (f *fixture) switchTo(identity string) {
	f.provider.SetIdentities(identity)
}

// actAs makes identity the connected identity.
func (f *fixture) actAs(t *testing.T, identity string) {
	t.Helper()
	f.switchTo(identity)
	if f.session.Snapshot().State != artisan.SessionConnected {
		f.connect(t)
	}
	require.Equal(t, identity, f.session.Snapshot().Identity)
}

// mint mints an item as the creator with metadata uploaded to the store.
// The session is left connected as the creator.
func (f *fixture) mint(t *testing.T, name, description string) uint64 {
	t.Helper()
	ctx := context.Background()
	f.actAs(t, creatorAddr)

	imageID, err := f.uploader.UploadBlob(ctx, []byte("png:"+name), "image/png")
	require.NoError(t, err)
	metaID, _, err := f.uploader.UploadMetadata(ctx, artisan.MetadataInput{
		Name:           name,
		Description:    description,
		Image:          artisan.Locator(imageID),
		Materials:      "Oak",
		CreatorDetails: "Workshop",
	})
	require.NoError(t, err)

	out, err := f.orchestrator.Mint(ctx, artisan.MintArgs{
		Owner:          creatorAddr,
		Description:    description,
		Materials:      "Oak",
		CreatorDetails: "Workshop",
		Locator:        artisan.Locator(metaID),
	})
	require.NoError(t, err)
	require.NotZero(t, out.ItemID)
	return out.ItemID
}

// startMiner mines pending transactions until the returned function is called.
func startMiner(l *ledgermemory.Ledger) (stop func()) {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				l.Mine()
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
	}
}

func gatewayHandler(store artisan.ContentStore) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/ipfs/")
		rc, err := store.Get(r.Context(), id)
		if err != nil {
			if errors.Is(err, artisan.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.Copy(w, rc)
	})
}
