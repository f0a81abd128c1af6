package domain

import "github.com/shopspring/decimal"

// OrderItem is a line of an order. Product attributes are copied at order time
// and never follow later product edits.
type OrderItem struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	SKU           string          `json:"sku"`
	Description   string          `json:"description"`
	CategoryName  string          `json:"category_name,omitempty"`
	BrandName     string          `json:"brand_name,omitempty"`
	Quantity      int             `json:"quantity"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	UnitTaxAmount decimal.Decimal `json:"unit_tax_amount"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
}

// NewOrderItem snapshots product at its current price.
func NewOrderItem(product *Product, qty int) (OrderItem, error) {
	return newOrderItem(product, qty, product.Pricing())
}

func newOrderItem(product *Product, qty int, pricing Pricing) (OrderItem, error) {
	if qty <= 0 {
		return OrderItem{}, invalid("quantity", "must be positive")
	}
	return OrderItem{
		ProductID:     product.ID(),
		ProductName:   product.Name(),
		SKU:           product.SKU(),
		Description:   product.Description(),
		CategoryName:  product.CategoryName(),
		BrandName:     product.BrandName(),
		Quantity:      qty,
		UnitPrice:     pricing.BaseAmount,
		UnitTaxAmount: pricing.TaxAmount,
		TaxRate:       pricing.TaxRate,
	}, nil
}

func (i OrderItem) qty() decimal.Decimal { return decimal.NewFromInt(int64(i.Quantity)) }

// UnitGrossPrice is the unit price including tax, as the customer saw it.
func (i OrderItem) UnitGrossPrice() decimal.Decimal { return i.UnitPrice.Add(i.UnitTaxAmount) }

func (i OrderItem) LineSubtotal() decimal.Decimal { return i.UnitPrice.Mul(i.qty()) }
func (i OrderItem) LineTax() decimal.Decimal      { return i.UnitTaxAmount.Mul(i.qty()) }
func (i OrderItem) LineTotal() decimal.Decimal    { return i.UnitGrossPrice().Mul(i.qty()) }

type PriceChange string

const (
	PriceIncreased PriceChange = "INCREASED"
	PriceDecreased PriceChange = "DECREASED"
	PriceUnchanged PriceChange = "UNCHANGED"
)

// PriceChangeSince compares the live product price to the price paid.
func (i OrderItem) PriceChangeSince(live *Product) PriceChange {
	switch live.Price().Cmp(i.UnitGrossPrice()) {
	case 1:
		return PriceIncreased
	case -1:
		return PriceDecreased
	}
	return PriceUnchanged
}

// Savings is what the customer saved on this line by buying at order time.
// Negative when the product has become cheaper since.
func (i OrderItem) Savings(live *Product) decimal.Decimal {
	return live.Price().Sub(i.UnitGrossPrice()).Mul(i.qty())
}
