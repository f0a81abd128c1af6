package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductStatusDraft        ProductStatus = "DRAFT"
	ProductStatusActive       ProductStatus = "ACTIVE"
	ProductStatusInactive     ProductStatus = "INACTIVE"
	ProductStatusOutOfStock   ProductStatus = "OUT_OF_STOCK"
	ProductStatusDiscontinued ProductStatus = "DISCONTINUED"
	ProductStatusUnderReview  ProductStatus = "UNDER_REVIEW"
)

func (s ProductStatus) Valid() bool {
	switch s {
	case ProductStatusDraft, ProductStatusActive, ProductStatusInactive,
		ProductStatusOutOfStock, ProductStatusDiscontinued, ProductStatusUnderReview:
		return true
	}
	return false
}

// Product is the inventory ledger for one sellable item: stock and reservation
// counters plus the price decomposition.
type Product struct {
	id            string
	sku           string
	name          string
	description   string
	categoryName  string
	brandName     string
	unitWeight    decimal.Decimal
	stock         int
	reserved      int
	pricing       Pricing
	originalPrice decimal.NullDecimal
	status        ProductStatus
	createdAt     time.Time
	updatedAt     time.Time
}

// ProductSnapshot is a read-only copy of a Product, used for persistence and responses.
type ProductSnapshot struct {
	ID               string              `json:"id"`
	SKU              string              `json:"sku"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	CategoryName     string              `json:"category_name,omitempty"`
	BrandName        string              `json:"brand_name,omitempty"`
	UnitWeight       decimal.Decimal     `json:"unit_weight"`
	StockQuantity    int                 `json:"stock_quantity"`
	ReservedQuantity int                 `json:"reserved_quantity"`
	Available        int                 `json:"available"`
	Pricing          Pricing             `json:"pricing"`
	OriginalPrice    decimal.NullDecimal `json:"original_price"`
	Status           ProductStatus       `json:"status"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// NewProductParams holds the inputs for NewProduct.
type NewProductParams struct {
	ID            string
	SKU           string
	Name          string
	Description   string
	CategoryName  string
	BrandName     string
	UnitWeight    decimal.Decimal
	StockQuantity int
	BaseAmount    decimal.Decimal
	TaxRate       decimal.Decimal
	Status        ProductStatus
}

// NewProduct creates a new product with no reservations.
func NewProduct(p NewProductParams, now time.Time) (*Product, error) {
	if p.ID == "" {
		return nil, invalid("id", "is required")
	}
	if p.SKU == "" {
		return nil, invalid("sku", "is required")
	}
	if p.Name == "" {
		return nil, invalid("name", "is required")
	}
	if p.StockQuantity < 0 {
		return nil, invalid("stock_quantity", "must not be negative")
	}
	if p.UnitWeight.IsNegative() {
		return nil, invalid("unit_weight", "must not be negative")
	}
	if p.Status == "" {
		p.Status = ProductStatusDraft
	}
	if !p.Status.Valid() {
		return nil, invalid("status", "unknown status "+string(p.Status))
	}
	pricing, err := NewPricing(p.BaseAmount, p.TaxRate)
	if err != nil {
		return nil, err
	}

	return &Product{
		id:           p.ID,
		sku:          p.SKU,
		name:         p.Name,
		description:  p.Description,
		categoryName: p.CategoryName,
		brandName:    p.BrandName,
		unitWeight:   p.UnitWeight,
		stock:        p.StockQuantity,
		pricing:      pricing,
		status:       p.Status,
		createdAt:    now,
		updatedAt:    now,
	}, nil
}

// RestoreProduct rebuilds a product from persisted state. Tax and price are
// recomputed from base amount and rate rather than trusted.
func RestoreProduct(s ProductSnapshot) (*Product, error) {
	p := &Product{
		id:            s.ID,
		sku:           s.SKU,
		name:          s.Name,
		description:   s.Description,
		categoryName:  s.CategoryName,
		brandName:     s.BrandName,
		unitWeight:    s.UnitWeight,
		stock:         s.StockQuantity,
		reserved:      s.ReservedQuantity,
		pricing:       computePricing(s.Pricing.BaseAmount, s.Pricing.TaxRate),
		originalPrice: s.OriginalPrice,
		status:        s.Status,
		createdAt:     s.CreatedAt,
		updatedAt:     s.UpdatedAt,
	}
	if err := p.ValidateInvariants(); err != nil {
		return nil, err
	}
	return p, nil
}

// ValidateInvariants checks 0 <= reserved <= stock and a sane pricing/status.
func (p *Product) ValidateInvariants() error {
	if p.id == "" {
		return invalid("id", "is required")
	}
	if p.stock < 0 {
		return invalid("stock_quantity", "must not be negative")
	}
	if p.reserved < 0 || p.reserved > p.stock {
		return invalid("reserved_quantity", "must be between 0 and stock_quantity")
	}
	if err := validateBaseAmount(p.pricing.BaseAmount); err != nil {
		return err
	}
	if err := validateTaxRate(p.pricing.TaxRate); err != nil {
		return err
	}
	if !p.status.Valid() {
		return invalid("status", "unknown status "+string(p.status))
	}
	return nil
}

func (p *Product) ID() string                         { return p.id }
func (p *Product) SKU() string                        { return p.sku }
func (p *Product) Name() string                       { return p.name }
func (p *Product) Description() string                { return p.description }
func (p *Product) CategoryName() string               { return p.categoryName }
func (p *Product) BrandName() string                  { return p.brandName }
func (p *Product) UnitWeight() decimal.Decimal        { return p.unitWeight }
func (p *Product) StockQuantity() int                 { return p.stock }
func (p *Product) ReservedQuantity() int              { return p.reserved }
func (p *Product) Pricing() Pricing                   { return p.pricing }
func (p *Product) BaseAmount() decimal.Decimal        { return p.pricing.BaseAmount }
func (p *Product) TaxRate() decimal.Decimal           { return p.pricing.TaxRate }
func (p *Product) TaxAmount() decimal.Decimal         { return p.pricing.TaxAmount }
func (p *Product) Price() decimal.Decimal             { return p.pricing.Price }
func (p *Product) OriginalPrice() decimal.NullDecimal { return p.originalPrice }
func (p *Product) Status() ProductStatus              { return p.status }

// Available is stock minus reservations, floored at zero.
func (p *Product) Available() int {
	if a := p.stock - p.reserved; a > 0 {
		return a
	}
	return 0
}

func (p *Product) IsAvailable() bool {
	return p.status == ProductStatusActive && p.Available() > 0
}

func (p *Product) CanReserve(qty int) bool {
	return qty > 0 && p.Available() >= qty
}

// Reserve places a hold on qty units.
func (p *Product) Reserve(qty int) error {
	if qty <= 0 {
		return invalid("quantity", "must be positive")
	}
	if !p.CanReserve(qty) {
		return &InsufficientStockError{ProductID: p.id, Requested: qty, Available: p.Available()}
	}
	p.reserved += qty
	return nil
}

// Release drops a hold of qty units.
func (p *Product) Release(qty int) error {
	if qty <= 0 || qty > p.reserved {
		return &InvalidReleaseError{ProductID: p.id, Requested: qty, Reserved: p.reserved}
	}
	p.reserved -= qty
	return nil
}

// Fulfill turns qty reserved units into a consumed sale.
func (p *Product) Fulfill(qty int) error {
	if qty <= 0 || qty > p.reserved {
		return &InvalidFulfillError{ProductID: p.id, Requested: qty, Reserved: p.reserved}
	}
	p.stock -= qty
	p.reserved -= qty
	return nil
}

func (p *Product) AddStock(qty int) error {
	if qty <= 0 {
		return invalid("quantity", "must be positive")
	}
	p.stock += qty
	return nil
}

func (p *Product) SetBaseAmount(base decimal.Decimal) error {
	if err := validateBaseAmount(base); err != nil {
		return err
	}
	p.pricing = computePricing(base, p.pricing.TaxRate)
	return nil
}

func (p *Product) SetTaxRate(rate decimal.Decimal) error {
	if err := validateTaxRate(rate); err != nil {
		return err
	}
	p.pricing = computePricing(p.pricing.BaseAmount, rate)
	return nil
}

// SetOriginalPrice sets the strike-through price shown next to a discounted price.
// An invalid NullDecimal clears it.
func (p *Product) SetOriginalPrice(original decimal.NullDecimal) error {
	if original.Valid && !original.Decimal.IsPositive() {
		return invalid("original_price", "must be positive")
	}
	if original.Valid {
		original.Decimal = RoundMoney(original.Decimal)
	}
	p.originalPrice = original
	return nil
}

func (p *Product) SetStatus(status ProductStatus) error {
	if !status.Valid() {
		return invalid("status", "unknown status "+string(status))
	}
	p.status = status
	return nil
}

// Touch records the time of the last persisted change.
func (p *Product) Touch(now time.Time) { p.updatedAt = now }

// DiscountPercentage is how far the current price sits below the original price,
// rounded to two places. Zero when there is no original price or no discount.
func (p *Product) DiscountPercentage() decimal.Decimal {
	if !p.originalPrice.Valid || !p.originalPrice.Decimal.GreaterThan(p.pricing.Price) {
		return decimal.Zero
	}
	orig := p.originalPrice.Decimal
	return orig.Sub(p.pricing.Price).Div(orig).Shift(2).Round(2)
}

// IsLowStock reports whether the sellable quantity is at or below threshold.
func (p *Product) IsLowStock(threshold int) bool {
	return p.Available() <= threshold
}

func (p *Product) Snapshot() ProductSnapshot {
	return ProductSnapshot{
		ID:               p.id,
		SKU:              p.sku,
		Name:             p.name,
		Description:      p.description,
		CategoryName:     p.categoryName,
		BrandName:        p.brandName,
		UnitWeight:       p.unitWeight,
		StockQuantity:    p.stock,
		ReservedQuantity: p.reserved,
		Available:        p.Available(),
		Pricing:          p.pricing,
		OriginalPrice:    p.originalPrice,
		Status:           p.status,
		CreatedAt:        p.createdAt,
		UpdatedAt:        p.updatedAt,
	}
}

// ProductLookup resolves products by id. Carts and orders hold product ids only.
type ProductLookup interface {
	Product(id string) (*Product, bool)
}

// ProductTable is an id-indexed ProductLookup.
type ProductTable map[string]*Product

func NewProductTable(products ...*Product) ProductTable {
	t := make(ProductTable, len(products))
	for _, p := range products {
		t[p.id] = p
	}
	return t
}

func (t ProductTable) Product(id string) (*Product, bool) {
	p, ok := t[id]
	return p, ok
}
