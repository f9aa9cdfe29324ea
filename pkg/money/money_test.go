package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"two decimal default", "49.99", "EUR", 4999},
		{"whole amount", "120", "USD", 12000},
		{"zero decimal currency", "500", "JPY", 500},
		{"three decimal currency", "1.234", "KWD", 1234},
		{"four decimal currency", "0.0001", "CLF", 1},
		{"rounds half up", "10.005", "EUR", 1001},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := decimal.RequireFromString(tt.amount)
			got, err := ToMinorUnits(amount, tt.currency, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToMinorUnits_UnknownCurrency(t *testing.T) {
	_, err := ToMinorUnits(decimal.NewFromInt(10), "XXX", nil)
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}

func TestToMinorUnits_OverridesTakePrecedence(t *testing.T) {
	// A provider that treats ISK as zero-decimal while ISO already says zero,
	// and one that disagrees with the default for HUF.
	overrides := map[string]int{"HUF": 0}

	got, err := ToMinorUnits(decimal.NewFromInt(1500), "HUF", overrides)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got)

	got, err = ToMinorUnits(decimal.NewFromInt(1500), "HUF", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), got)
}

func TestFromMinorUnits_RoundTrip(t *testing.T) {
	for _, currency := range []string{"EUR", "JPY", "KWD", "CLF"} {
		amount := decimal.RequireFromString("3.21").Round(2)
		minor, err := ToMinorUnits(amount, currency, nil)
		require.NoError(t, err)

		back, err := FromMinorUnits(minor, currency, nil)
		require.NoError(t, err)

		again, err := ToMinorUnits(back, currency, nil)
		require.NoError(t, err)
		assert.Equal(t, minor, again, "currency %s", currency)
	}
}

func TestDecimals(t *testing.T) {
	k, err := Decimals("EUR", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, k)

	k, err = Decimals("JPY", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, k)

	_, err = Decimals("NOPE", nil)
	assert.ErrorIs(t, err, ErrUnknownCurrency)
}
