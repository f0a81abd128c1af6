package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestNewPricing(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		rate    string
		wantTax string
		wantPx  string
	}{
		{name: "standard rate", base: "100.00", rate: "18", wantTax: "18.00", wantPx: "118.00"},
		{name: "zero rate", base: "42.50", rate: "0", wantTax: "0.00", wantPx: "42.50"},
		{name: "full rate", base: "42.50", rate: "100", wantTax: "42.50", wantPx: "85.00"},
		{name: "rounds down below half", base: "10.05", rate: "5", wantTax: "0.50", wantPx: "10.55"},
		{name: "rounds half up", base: "0.10", rate: "5", wantTax: "0.01", wantPx: "0.11"},
		{name: "fractional rate", base: "19.99", rate: "7.5", wantTax: "1.50", wantPx: "21.49"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPricing(dec(tt.base), dec(tt.rate))
			require.NoError(t, err)

			assert.Equal(t, tt.wantTax, p.TaxAmount.StringFixed(2))
			assert.Equal(t, tt.wantPx, p.Price.StringFixed(2))
			assert.True(t, p.Price.Equal(p.BaseAmount.Add(p.TaxAmount)))
		})
	}
}

func TestNewPricingRejectsInvalidInput(t *testing.T) {
	_, err := NewPricing(decimal.Zero, dec("10"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewPricing(dec("-1"), dec("10"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewPricing(dec("10"), dec("-0.01"))
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewPricing(dec("10"), dec("100.01"))
	assert.ErrorIs(t, err, ErrValidation)
}

func TestTaxAmountMatchesFormula(t *testing.T) {
	for base := 1; base <= 500; base += 7 {
		for _, rate := range []string{"0", "2.5", "5", "12.25", "18", "33.33", "100"} {
			b := decimal.New(int64(base)*13, -2)
			r := dec(rate)

			want := b.Mul(r).Div(decimal.NewFromInt(100)).Round(2)
			assert.True(t, want.Equal(TaxAmount(b, r)), "base=%s rate=%s", b, r)
		}
	}
}

func TestNewPricingValidatesRoundedBase(t *testing.T) {
	_, err := NewPricing(dec("0.004"), dec("18"))
	assert.ErrorIs(t, err, ErrValidation)

	pricing, err := NewPricing(dec("0.005"), dec("0"))
	require.NoError(t, err)
	assert.Equal(t, "0.01", pricing.BaseAmount.StringFixed(2))
	assert.Equal(t, "0.01", pricing.Price.StringFixed(2))
}
