package artisan_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/artisan-nft/pkg/artisan"
)

const sampleCID = "QmXExS4BMc1YrH6iWERyryFcDWkvobxryXSwECLrcd7Y1H"

func TestResolver_Resolve(t *testing.T) {
	r := artisan.NewResolver("https://gateway.example/ipfs")
	require.Equal(t, "https://gateway.example/ipfs/", r.Gateway())

	tests := []struct {
		name    string
		locator string
		want    string
		ok      bool
	}{
		{"ipfs scheme", "ipfs://" + sampleCID, "https://gateway.example/ipfs/" + sampleCID, true},
		{"ipfs scheme with path", "ipfs://ipfs/" + sampleCID + "/meta.json", "https://gateway.example/ipfs/" + sampleCID + "/meta.json", true},
		{"gateway path", "/ipfs/" + sampleCID, "https://gateway.example/ipfs/" + sampleCID, true},
		{"bare cid", sampleCID, "https://gateway.example/ipfs/" + sampleCID, true},
		{"https passes through", "https://cdn.example/a.json", "https://cdn.example/a.json", true},
		{"http passes through", "http://cdn.example/a.json", "http://cdn.example/a.json", true},
		{"empty", "", "", false},
		{"blank", "   ", "", false},
		{"scheme only", "ipfs://", "", false},
		{"malformed cid", "ipfs://not-a-cid", "", false},
		{"unknown scheme", "ftp://example/a", "", false},
		{"https without host", "https://", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.locator)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_DefaultGateway(t *testing.T) {
	r := artisan.NewResolver("")
	got, ok := r.Resolve("ipfs://" + sampleCID)
	require.True(t, ok)
	assert.Equal(t, artisan.DefaultGateway+sampleCID, got)
}

func TestResolver_FetchJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.json":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"name":"Bowl","attributes":[{"trait_type":"Materials","value":"Clay"}]}`))
		case "/garbage.json":
			_, _ = w.Write([]byte(`{not json`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := artisan.NewResolver(srv.URL)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		obj := r.FetchJSON(ctx, srv.URL+"/ok.json")
		require.NotNil(t, obj)
		assert.Equal(t, "Bowl", obj["name"])
	})

	t.Run("non-2xx yields nil", func(t *testing.T) {
		assert.Nil(t, r.FetchJSON(ctx, srv.URL+"/missing.json"))
	})

	t.Run("parse failure yields nil", func(t *testing.T) {
		assert.Nil(t, r.FetchJSON(ctx, srv.URL+"/garbage.json"))
	})

	t.Run("unresolvable yields nil", func(t *testing.T) {
		assert.Nil(t, r.FetchJSON(ctx, "not a locator"))
	})

	t.Run("network failure yields nil", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		url := dead.URL
		dead.Close()
		assert.Nil(t, r.FetchJSON(ctx, url+"/ok.json"))
	})

	t.Run("metadata errors are resolution failures", func(t *testing.T) {
		_, err := r.FetchMetadata(ctx, srv.URL+"/missing.json")
		assert.ErrorIs(t, err, artisan.ErrResolutionFailure)

		d, err := r.FetchMetadata(ctx, srv.URL+"/ok.json")
		require.NoError(t, err)
		v, ok := d.Attribute(artisan.TraitMaterials)
		assert.True(t, ok)
		assert.Equal(t, "Clay", v)
	})
}
