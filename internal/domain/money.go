package domain

import "github.com/shopspring/decimal"

// MoneyPlaces is the number of decimal places every monetary amount is kept at.
const MoneyPlaces = 2

var maxTaxRate = decimal.NewFromInt(100)

// RoundMoney rounds half-up to two decimal places. Amounts handled by the
// engine are never negative, so half-away-from-zero is half-up here.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// TaxAmount computes round_half_up(base * rate / 100, 2).
func TaxAmount(base, rate decimal.Decimal) decimal.Decimal {
	return RoundMoney(base.Mul(rate).Shift(-2))
}

// Pricing is the price decomposition of a single unit.
type Pricing struct {
	BaseAmount decimal.Decimal `json:"base_amount"`
	TaxRate    decimal.Decimal `json:"tax_rate"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	Price      decimal.Decimal `json:"price"`
}

// NewPricing validates the inputs and derives tax and final price.
func NewPricing(base, rate decimal.Decimal) (Pricing, error) {
	if err := validateBaseAmount(base); err != nil {
		return Pricing{}, err
	}
	if err := validateTaxRate(rate); err != nil {
		return Pricing{}, err
	}
	return computePricing(base, rate), nil
}

func computePricing(base, rate decimal.Decimal) Pricing {
	base = RoundMoney(base)
	rate = rate.Round(2)
	tax := TaxAmount(base, rate)
	return Pricing{
		BaseAmount: base,
		TaxRate:    rate,
		TaxAmount:  tax,
		Price:      base.Add(tax),
	}
}

// validateBaseAmount checks the amount as it will be stored, after rounding.
func validateBaseAmount(base decimal.Decimal) error {
	if !RoundMoney(base).IsPositive() {
		return invalid("base_amount", "must be at least 0.01")
	}
	return nil
}

func validateTaxRate(rate decimal.Decimal) error {
	if rate.IsNegative() || rate.GreaterThan(maxTaxRate) {
		return invalid("tax_rate", "must be between 0 and 100")
	}
	return nil
}

func validateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return invalid(field, "must not be negative")
	}
	return nil
}
