package artisan_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/artisan-nft/pkg/artisan"
)

func TestFormatAmount(t *testing.T) {
	oneEth := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	tests := []struct {
		name string
		in   *big.Int
		want string
	}{
		{"nil", nil, "0.0"},
		{"zero", big.NewInt(0), "0.0"},
		{"one", oneEth, "1.0"},
		{"quarter", new(big.Int).Div(oneEth, big.NewInt(4)), "0.25"},
		{"one base unit", big.NewInt(1), "0.000000000000000001"},
		{"one and a half", new(big.Int).Add(oneEth, new(big.Int).Div(oneEth, big.NewInt(2))), "1.5"},
		{"large", new(big.Int).Mul(oneEth, big.NewInt(123)), "123.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, artisan.FormatAmount(tt.in))
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1", want: "1000000000000000000"},
		{in: "0.25", want: "250000000000000000"},
		{in: ".5", want: "500000000000000000"},
		{in: " 2.0 ", want: "2000000000000000000"},
		{in: "0.000000000000000001", want: "1"},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "0.0000000000000000001", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := artisan.ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, artisan.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestAmountRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0", "1.0", "0.25", "42.125", "0.000000000000000001"} {
		v, err := artisan.ParseAmount(s)
		require.NoError(t, err)
		assert.Equal(t, s, artisan.FormatAmount(v))
	}
}
