package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a row of the products table; stock counters live on the same row
// so a single row lock serialises reservations.
type Product struct {
	ID               string              `db:"id"`
	SKU              string              `db:"sku"`
	Name             string              `db:"name"`
	Description      string              `db:"description"`
	CategoryName     string              `db:"category_name"`
	BrandName        string              `db:"brand_name"`
	UnitWeight       decimal.Decimal     `db:"unit_weight"`
	StockQuantity    int                 `db:"stock_quantity"`
	ReservedQuantity int                 `db:"reserved_quantity"`
	BaseAmount       decimal.Decimal     `db:"base_amount"`
	TaxRate          decimal.Decimal     `db:"tax_rate"`
	TaxAmount        decimal.Decimal     `db:"tax_amount"`
	Price            decimal.Decimal     `db:"price"`
	OriginalPrice    decimal.NullDecimal `db:"original_price"`
	Status           string              `db:"status"`
	CreatedAt        time.Time           `db:"created_at"`
	UpdatedAt        time.Time           `db:"updated_at"`
}

// Cart is a row of the carts table. Exactly one of UserID and SessionID is set.
type Cart struct {
	ID             string          `db:"id"`
	UserID         string          `db:"user_id"`
	SessionID      string          `db:"session_id"`
	DiscountCode   string          `db:"discount_code"`
	DiscountAmount decimal.Decimal `db:"discount_amount"`
	Status         string          `db:"status"`
	ExpiresAt      time.Time       `db:"expires_at"`
	CheckedOutAt   *time.Time      `db:"checked_out_at"`
	CreatedAt      time.Time       `db:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"`
}

// CartItem is a cart line with the unit price captured when it was added.
type CartItem struct {
	CartID     string          `db:"cart_id"`
	Position   int             `db:"position"`
	ProductID  string          `db:"product_id"`
	Quantity   int             `db:"quantity"`
	BaseAmount decimal.Decimal `db:"base_amount"`
	TaxRate    decimal.Decimal `db:"tax_rate"`
	TaxAmount  decimal.Decimal `db:"tax_amount"`
	Price      decimal.Decimal `db:"price"`
	UnitWeight decimal.Decimal `db:"unit_weight"`
	AddedAt    time.Time       `db:"added_at"`
}

// Order represents a customer order
type Order struct {
	ID                string          `db:"id"`
	OrderNumber       string          `db:"order_number"`
	CustomerID        string          `db:"customer_id"`
	CartID            string          `db:"cart_id"`
	Status            string          `db:"status"`
	Currency          string          `db:"currency"`
	Subtotal          decimal.Decimal `db:"subtotal"`
	DiscountCode      string          `db:"discount_code"`
	DiscountAmount    decimal.Decimal `db:"discount_amount"`
	TaxAmount         decimal.Decimal `db:"tax_amount"`
	TaxOverridden     bool            `db:"tax_overridden"`
	ShippingAmount    decimal.Decimal `db:"shipping_amount"`
	TotalAmount       decimal.Decimal `db:"total_amount"`
	BillingAddressID  string          `db:"billing_address_id"`
	ShippingAddressID string          `db:"shipping_address_id"`
	TransactionID     string          `db:"transaction_id"`
	PaymentMethod     string          `db:"payment_method"`
	TrackingNumber    string          `db:"tracking_number"`
	Carrier           string          `db:"carrier"`
	CancelReason      string          `db:"cancel_reason"`
	OrderedAt         time.Time       `db:"ordered_at"`
	ShippedAt         *time.Time      `db:"shipped_at"`
	DeliveredAt       *time.Time      `db:"delivered_at"`
	CancelledAt       *time.Time      `db:"cancelled_at"`
	RefundedAt        *time.Time      `db:"refunded_at"`
	UpdatedAt         time.Time       `db:"updated_at"`
}

// OrderItem represents items in an order
type OrderItem struct {
	OrderID       string          `db:"order_id"`
	Position      int             `db:"position"`
	ProductID     string          `db:"product_id"`
	ProductName   string          `db:"product_name"`
	SKU           string          `db:"sku"`
	Description   string          `db:"description"`
	CategoryName  string          `db:"category_name"`
	BrandName     string          `db:"brand_name"`
	Quantity      int             `db:"quantity"`
	UnitPrice     decimal.Decimal `db:"unit_price"`
	UnitTaxAmount decimal.Decimal `db:"unit_tax_amount"`
	TaxRate       decimal.Decimal `db:"tax_rate"`
}

// OrderStatusHistory is one append-only row per order transition.
type OrderStatusHistory struct {
	ID         int64     `db:"id"`
	OrderID    string    `db:"order_id"`
	FromStatus *string   `db:"from_status"`
	ToStatus   string    `db:"to_status"`
	Notes      string    `db:"notes"`
	ChangedBy  string    `db:"changed_by"`
	CreatedAt  time.Time `db:"created_at"`
}

// Payment represents a payment transaction
type Payment struct {
	ID               string          `db:"id"`
	GatewayOrderID   string          `db:"gateway_order_id"`
	GatewayPaymentID string          `db:"gateway_payment_id"`
	Signature        string          `db:"signature"`
	Amount           decimal.Decimal `db:"amount"`
	Currency         string          `db:"currency"`
	Status           string          `db:"status"`
	UserID           string          `db:"user_id"`
	OrderID          string          `db:"order_id"`
	ErrorCode        string          `db:"error_code"`
	ErrorDescription string          `db:"error_description"`
	RefundID         string          `db:"refund_id"`
	RefundAmount     decimal.Decimal `db:"refund_amount"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
	PaidAt           *time.Time      `db:"paid_at"`
	RefundedAt       *time.Time      `db:"refunded_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
