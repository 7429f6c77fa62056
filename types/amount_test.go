package types_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablepay/swapkit/types"
)

func TestFormatUnits(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals uint8
		want     string
	}{
		{name: "whole ether", raw: "1000000000000000000", decimals: 18, want: "1"},
		{name: "one and a half", raw: "1500000000000000000", decimals: 18, want: "1.5"},
		{name: "sub-unit", raw: "1", decimals: 18, want: "0.000000000000000001"},
		{name: "usdc cents", raw: "1050000", decimals: 6, want: "1.05"},
		{name: "zero decimals", raw: "42", decimals: 0, want: "42"},
		{name: "zero value", raw: "0", decimals: 18, want: "0"},
		{name: "negative", raw: "-2500000", decimals: 6, want: "-2.5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, ok := new(big.Int).SetString(tt.raw, 10)
			require.True(t, ok)
			assert.Equal(t, tt.want, types.FormatUnits(raw, tt.decimals))
		})
	}
}

func TestFormatUnitsNil(t *testing.T) {
	assert.Equal(t, "0", types.FormatUnits(nil, 18))
}

func TestParseUnits(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		decimals uint8
		want     string
		wantErr  bool
	}{
		{name: "whole amount", value: "1", decimals: 18, want: "1000000000000000000"},
		{name: "fractional", value: "1.5", decimals: 6, want: "1500000"},
		{name: "leading dot", value: ".25", decimals: 6, want: "250000"},
		{name: "excess precision truncated", value: "1.1234567", decimals: 6, want: "1123456"},
		{name: "negative", value: "-0.5", decimals: 6, want: "-500000"},
		{name: "whitespace trimmed", value: "  2  ", decimals: 2, want: "200"},
		{name: "empty", value: "", decimals: 6, wantErr: true},
		{name: "not a number", value: "abc", decimals: 6, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := types.ParseUnits(tt.value, tt.decimals)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	values := []string{"1", "1.5", "0.000001", "123456.789", "0.1"}

	for _, v := range values {
		raw, err := types.ParseUnits(v, 18)
		require.NoError(t, err)
		assert.Equal(t, v, types.FormatUnits(raw, 18))
	}
}

func TestToFloat(t *testing.T) {
	raw, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.InDelta(t, 1.5, types.ToFloat(raw, 18), 1e-12)
	assert.Zero(t, types.ToFloat(nil, 18))
}
