package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated    = "ORDER_CREATED"
	EventTypeOrderPaid       = "ORDER_PAID"
	EventTypeOrderShipped    = "ORDER_SHIPPED"
	EventTypeOrderDelivered  = "ORDER_DELIVERED"
	EventTypeOrderCancelled  = "ORDER_CANCELLED"
	EventTypeOrderRefunded   = "ORDER_REFUNDED"
	EventTypeProductLowStock = "PRODUCT_LOW_STOCK"
	EventTypePaymentCaptured = "PAYMENT_CAPTURED"
	EventTypePaymentFailed   = "PAYMENT_FAILED"
	EventTypePaymentRefunded = "PAYMENT_REFUNDED"
	EventTypeCartCheckedOut  = "CART_CHECKED_OUT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when checkout turns a cart into an order
type OrderCreatedEvent struct {
	BaseEvent
	OrderID     string          `json:"order_id"`
	OrderNumber string          `json:"order_number"`
	CustomerID  string          `json:"customer_id"`
	CartID      string          `json:"cart_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Items       []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent is published for every order transition after creation.
// EventType tells which transition it was.
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    string `json:"order_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	Reason     string `json:"reason,omitempty"`
}

// LowStockEvent published when a product's sellable quantity drops to the threshold
type LowStockEvent struct {
	BaseEvent
	ProductID string `json:"product_id"`
	SKU       string `json:"sku"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

// PaymentCapturedEvent carries a verified gateway capture to the settlement worker
type PaymentCapturedEvent struct {
	BaseEvent
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Signature        string          `json:"signature,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
}

// PaymentFailedEvent carries a verified gateway failure to the settlement worker
type PaymentFailedEvent struct {
	BaseEvent
	GatewayOrderID string `json:"gateway_order_id"`
	Code           string `json:"code"`
	Description    string `json:"description"`
}

// PaymentRefundedEvent published after a refund went through at the gateway
type PaymentRefundedEvent struct {
	BaseEvent
	PaymentID string          `json:"payment_id"`
	OrderID   string          `json:"order_id"`
	RefundID  string          `json:"refund_id"`
	Amount    decimal.Decimal `json:"amount"`
}

// CartCheckedOutEvent published when a cart closes at checkout
type CartCheckedOutEvent struct {
	BaseEvent
	CartID  string `json:"cart_id"`
	OrderID string `json:"order_id"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string          `json:"product_id"`
	SKU       string          `json:"sku"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
