package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusRaised      OrderStatus = "ORDER_RAISED"
	OrderStatusPaymentDone OrderStatus = "PAYMENT_DONE"
	OrderStatusDelivered   OrderStatus = "DELIVERED"
	OrderStatusCancelled   OrderStatus = "CANCELLED"
)

type orderEvent string

const (
	orderConfirm        orderEvent = "confirm"
	orderProcessPayment orderEvent = "process_payment"
	orderShip           orderEvent = "ship"
	orderDeliver        orderEvent = "deliver"
	orderCancel         orderEvent = "cancel"
	orderRefund         orderEvent = "refund"
)

// orderTransitions is the full order state machine keyed by (state, event).
// Refund lands in CANCELLED; refunded orders are told apart by RefundedAt.
var orderTransitions = map[OrderStatus]map[orderEvent]OrderStatus{
	OrderStatusRaised: {
		orderConfirm:        OrderStatusPaymentDone,
		orderProcessPayment: OrderStatusPaymentDone,
		orderCancel:         OrderStatusCancelled,
	},
	OrderStatusPaymentDone: {
		orderShip:    OrderStatusDelivered,
		orderDeliver: OrderStatusDelivered,
		orderCancel:  OrderStatusCancelled,
		orderRefund:  OrderStatusCancelled,
	},
	OrderStatusDelivered: {
		orderRefund: OrderStatusCancelled,
	},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusRaised, OrderStatusPaymentDone, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether s has no outgoing edge other than refund.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Order is created from a checked-out cart. Items and money fields can change
// only while the order is ORDER_RAISED.
type Order struct {
	id                string
	orderNumber       string
	customerID        string
	cartID            string
	items             []OrderItem
	status            OrderStatus
	currency          string
	subtotal          decimal.Decimal
	discountCode      string
	discountAmount    decimal.Decimal
	taxAmount         decimal.Decimal
	taxOverridden     bool
	shippingAmount    decimal.Decimal
	totalAmount       decimal.Decimal
	billingAddressID  string
	shippingAddressID string
	transactionID     string
	paymentMethod     string
	trackingNumber    string
	carrier           string
	cancelReason      string
	history           statusHistory
	orderedAt         time.Time
	shippedAt         *time.Time
	deliveredAt       *time.Time
	cancelledAt       *time.Time
	refundedAt        *time.Time
	updatedAt         time.Time
}

// OrderSnapshot is a read-only copy of an Order.
type OrderSnapshot struct {
	ID                string               `json:"id"`
	OrderNumber       string               `json:"order_number"`
	CustomerID        string               `json:"customer_id"`
	CartID            string               `json:"cart_id,omitempty"`
	Items             []OrderItem          `json:"items"`
	Status            OrderStatus          `json:"status"`
	Currency          string               `json:"currency"`
	Subtotal          decimal.Decimal      `json:"subtotal"`
	DiscountCode      string               `json:"discount_code,omitempty"`
	DiscountAmount    decimal.Decimal      `json:"discount_amount"`
	TaxAmount         decimal.Decimal      `json:"tax_amount"`
	TaxOverridden     bool                 `json:"tax_overridden"`
	ShippingAmount    decimal.Decimal      `json:"shipping_amount"`
	TotalAmount       decimal.Decimal      `json:"total_amount"`
	BillingAddressID  string               `json:"billing_address_id,omitempty"`
	ShippingAddressID string               `json:"shipping_address_id,omitempty"`
	TransactionID     string               `json:"transaction_id,omitempty"`
	PaymentMethod     string               `json:"payment_method,omitempty"`
	TrackingNumber    string               `json:"tracking_number,omitempty"`
	Carrier           string               `json:"carrier,omitempty"`
	CancelReason      string               `json:"cancel_reason,omitempty"`
	History           []StatusHistoryEntry `json:"status_history"`
	OrderedAt         time.Time            `json:"ordered_at"`
	ShippedAt         *time.Time           `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time           `json:"delivered_at,omitempty"`
	CancelledAt       *time.Time           `json:"cancelled_at,omitempty"`
	RefundedAt        *time.Time           `json:"refunded_at,omitempty"`
	UpdatedAt         time.Time            `json:"updated_at"`
}

// NewOrderParams holds the inputs for creating an order.
type NewOrderParams struct {
	ID                string
	OrderNumber       string
	CustomerID        string
	Currency          string
	BillingAddressID  string
	ShippingAddressID string
	ShippingAmount    decimal.Decimal
}

// NewOrder creates an empty ORDER_RAISED order. Items are added with AddItem.
func NewOrder(p NewOrderParams, audit Audit) (*Order, error) {
	if p.ID == "" {
		return nil, invalid("id", "is required")
	}
	if p.OrderNumber == "" {
		return nil, invalid("order_number", "is required")
	}
	if p.CustomerID == "" {
		return nil, invalid("customer_id", "is required")
	}
	if p.Currency == "" {
		return nil, invalid("currency", "is required")
	}
	if err := validateAmount("shipping_amount", p.ShippingAmount); err != nil {
		return nil, err
	}
	o := &Order{
		id:                p.ID,
		orderNumber:       p.OrderNumber,
		customerID:        p.CustomerID,
		status:            OrderStatusRaised,
		currency:          p.Currency,
		shippingAmount:    RoundMoney(p.ShippingAmount),
		billingAddressID:  p.BillingAddressID,
		shippingAddressID: p.ShippingAddressID,
		orderedAt:         audit.At,
		updatedAt:         audit.At,
	}
	o.history.append(nil, OrderStatusRaised, "Order placed", audit)
	o.recalculate()
	return o, nil
}

// NewOrderFromCart snapshots a checked-out cart into a new order. Each line
// keeps the price it had in the cart; names and catalog data come from products.
func NewOrderFromCart(p NewOrderParams, cart *Cart, products ProductLookup, audit Audit) (*Order, error) {
	if cart == nil {
		return nil, invalid("cart", "is required")
	}
	if cart.Status() != CartStatusCheckedOut {
		return nil, &StateError{Aggregate: "cart", Status: string(cart.Status()), Operation: "create_order"}
	}
	if cart.IsEmpty() {
		return nil, invalid("items", "cart is empty")
	}
	if p.CustomerID == "" {
		p.CustomerID = cart.UserID()
	}

	o, err := NewOrder(p, audit)
	if err != nil {
		return nil, err
	}
	o.cartID = cart.ID()
	for _, line := range cart.items {
		product, ok := products.Product(line.ProductID)
		if !ok {
			return nil, &NotFoundError{Kind: "product", ID: line.ProductID}
		}
		item, err := newOrderItem(product, line.Quantity, line.UnitPricing)
		if err != nil {
			return nil, err
		}
		o.items = append(o.items, item)
	}
	if cart.DiscountAmount().IsPositive() {
		o.discountCode = cart.DiscountCode()
		o.discountAmount = cart.DiscountAmount()
	}
	o.recalculate()
	return o, nil
}

// RestoreOrder rebuilds an order from persisted state. Totals are recomputed.
func RestoreOrder(s OrderSnapshot) (*Order, error) {
	if s.ID == "" {
		return nil, invalid("id", "is required")
	}
	if !s.Status.Valid() {
		return nil, invalid("status", "unknown status "+string(s.Status))
	}
	o := &Order{
		id:                s.ID,
		orderNumber:       s.OrderNumber,
		customerID:        s.CustomerID,
		cartID:            s.CartID,
		items:             slices.Clone(s.Items),
		status:            s.Status,
		currency:          s.Currency,
		discountCode:      s.DiscountCode,
		discountAmount:    s.DiscountAmount,
		taxAmount:         s.TaxAmount,
		taxOverridden:     s.TaxOverridden,
		shippingAmount:    s.ShippingAmount,
		billingAddressID:  s.BillingAddressID,
		shippingAddressID: s.ShippingAddressID,
		transactionID:     s.TransactionID,
		paymentMethod:     s.PaymentMethod,
		trackingNumber:    s.TrackingNumber,
		carrier:           s.Carrier,
		cancelReason:      s.CancelReason,
		history:           statusHistory{entries: slices.Clone(s.History)},
		orderedAt:         s.OrderedAt,
		shippedAt:         s.ShippedAt,
		deliveredAt:       s.DeliveredAt,
		cancelledAt:       s.CancelledAt,
		refundedAt:        s.RefundedAt,
		updatedAt:         s.UpdatedAt,
	}
	o.recalculate()
	return o, nil
}

func (o *Order) ID() string                      { return o.id }
func (o *Order) OrderNumber() string             { return o.orderNumber }
func (o *Order) CustomerID() string              { return o.customerID }
func (o *Order) CartID() string                  { return o.cartID }
func (o *Order) Status() OrderStatus             { return o.status }
func (o *Order) Currency() string                { return o.currency }
func (o *Order) Subtotal() decimal.Decimal       { return o.subtotal }
func (o *Order) DiscountAmount() decimal.Decimal { return o.discountAmount }
func (o *Order) TaxAmount() decimal.Decimal      { return o.taxAmount }
func (o *Order) ShippingAmount() decimal.Decimal { return o.shippingAmount }
func (o *Order) TotalAmount() decimal.Decimal    { return o.totalAmount }
func (o *Order) TransactionID() string           { return o.transactionID }
func (o *Order) TrackingNumber() string          { return o.trackingNumber }
func (o *Order) Items() []OrderItem              { return slices.Clone(o.items) }
func (o *Order) History() []StatusHistoryEntry   { return o.history.list() }
func (o *Order) HistoryLen() int                 { return o.history.len() }

// HistorySince returns entries appended after the first n.
func (o *Order) HistorySince(n int) []StatusHistoryEntry { return o.history.since(n) }

// Refunded reports whether the order was closed by a refund rather than a cancel.
func (o *Order) Refunded() bool { return o.refundedAt != nil }

// StockFulfilled reports whether reserved stock for this order has already been consumed.
func (o *Order) StockFulfilled() bool { return o.deliveredAt != nil }

// AddItem adds a line, merging quantities for a product already on the order.
func (o *Order) AddItem(item OrderItem, now time.Time) error {
	if err := o.requireRaised("add_item"); err != nil {
		return err
	}
	if item.ProductID == "" {
		return invalid("product_id", "is required")
	}
	if item.Quantity <= 0 {
		return invalid("quantity", "must be positive")
	}
	if i := o.indexOf(item.ProductID); i >= 0 {
		o.items[i].Quantity += item.Quantity
	} else {
		o.items = append(o.items, item)
	}
	o.touch(now)
	return nil
}

func (o *Order) RemoveItem(productID string, now time.Time) error {
	if err := o.requireRaised("remove_item"); err != nil {
		return err
	}
	i := o.indexOf(productID)
	if i < 0 {
		return &NotFoundError{Kind: "order item", ID: productID}
	}
	o.items = slices.Delete(o.items, i, i+1)
	o.touch(now)
	return nil
}

func (o *Order) ApplyDiscount(code string, amount decimal.Decimal, now time.Time) error {
	if err := o.requireRaised("apply_discount"); err != nil {
		return err
	}
	if err := validateAmount("discount_amount", amount); err != nil {
		return err
	}
	amount = RoundMoney(amount)
	if amount.GreaterThan(o.subtotal) {
		return invalid("discount_amount", "must not exceed subtotal")
	}
	o.discountCode = code
	o.discountAmount = amount
	o.touch(now)
	return nil
}

func (o *Order) SetShippingAmount(amount decimal.Decimal, now time.Time) error {
	if err := o.requireRaised("set_shipping_amount"); err != nil {
		return err
	}
	if err := validateAmount("shipping_amount", amount); err != nil {
		return err
	}
	o.shippingAmount = RoundMoney(amount)
	o.touch(now)
	return nil
}

// SetTaxAmount overrides the tax derived from the items.
func (o *Order) SetTaxAmount(amount decimal.Decimal, now time.Time) error {
	if err := o.requireRaised("set_tax_amount"); err != nil {
		return err
	}
	if err := validateAmount("tax_amount", amount); err != nil {
		return err
	}
	o.taxAmount = RoundMoney(amount)
	o.taxOverridden = true
	o.touch(now)
	return nil
}

// Confirm marks the order paid with the given transaction id.
func (o *Order) Confirm(transactionID string, audit Audit) error {
	return o.pay(orderConfirm, transactionID, "", audit)
}

// ProcessPayment is Confirm driven by a gateway outcome; it also records the payment method.
func (o *Order) ProcessPayment(transactionID, paymentMethod string, audit Audit) error {
	return o.pay(orderProcessPayment, transactionID, paymentMethod, audit)
}

func (o *Order) pay(event orderEvent, transactionID, paymentMethod string, audit Audit) error {
	if err := o.can(event); err != nil {
		return err
	}
	if len(o.items) == 0 {
		return invalid("items", "order has no items")
	}
	if transactionID == "" {
		return invalid("transaction_id", "is required")
	}
	o.transactionID = transactionID
	if paymentMethod != "" {
		o.paymentMethod = paymentMethod
	}
	o.transition(event, "Payment received, transaction "+transactionID, audit)
	return nil
}

// Ship hands the order to a carrier; the order is DELIVERED from then on.
func (o *Order) Ship(trackingNumber, carrier string, audit Audit) error {
	if err := o.can(orderShip); err != nil {
		return err
	}
	if trackingNumber == "" {
		return invalid("tracking_number", "is required")
	}
	o.trackingNumber = trackingNumber
	o.carrier = carrier
	o.shippedAt = &audit.At
	o.deliveredAt = &audit.At
	note := "Shipped, tracking " + trackingNumber
	if carrier != "" {
		note += " via " + carrier
	}
	o.transition(orderShip, note, audit)
	return nil
}

func (o *Order) Deliver(audit Audit) error {
	if err := o.can(orderDeliver); err != nil {
		return err
	}
	if o.shippedAt == nil {
		o.shippedAt = &audit.At
	}
	o.deliveredAt = &audit.At
	o.transition(orderDeliver, "Delivered", audit)
	return nil
}

// Cancel fails on DELIVERED and CANCELLED orders without touching history.
func (o *Order) Cancel(reason string, audit Audit) error {
	if err := o.can(orderCancel); err != nil {
		return err
	}
	o.cancelReason = reason
	o.cancelledAt = &audit.At
	o.transition(orderCancel, notesWithReason("Cancelled", reason), audit)
	return nil
}

// Refund closes a paid or delivered order. The order ends CANCELLED with RefundedAt set.
func (o *Order) Refund(reason string, audit Audit) error {
	if err := o.can(orderRefund); err != nil {
		return err
	}
	o.cancelReason = reason
	o.cancelledAt = &audit.At
	o.refundedAt = &audit.At
	o.transition(orderRefund, notesWithReason("Refunded", reason), audit)
	return nil
}

func (o *Order) Snapshot() OrderSnapshot {
	return OrderSnapshot{
		ID:                o.id,
		OrderNumber:       o.orderNumber,
		CustomerID:        o.customerID,
		CartID:            o.cartID,
		Items:             slices.Clone(o.items),
		Status:            o.status,
		Currency:          o.currency,
		Subtotal:          o.subtotal,
		DiscountCode:      o.discountCode,
		DiscountAmount:    o.discountAmount,
		TaxAmount:         o.taxAmount,
		TaxOverridden:     o.taxOverridden,
		ShippingAmount:    o.shippingAmount,
		TotalAmount:       o.totalAmount,
		BillingAddressID:  o.billingAddressID,
		ShippingAddressID: o.shippingAddressID,
		TransactionID:     o.transactionID,
		PaymentMethod:     o.paymentMethod,
		TrackingNumber:    o.trackingNumber,
		Carrier:           o.carrier,
		CancelReason:      o.cancelReason,
		History:           o.history.list(),
		OrderedAt:         o.orderedAt,
		ShippedAt:         o.shippedAt,
		DeliveredAt:       o.deliveredAt,
		CancelledAt:       o.cancelledAt,
		RefundedAt:        o.refundedAt,
		UpdatedAt:         o.updatedAt,
	}
}

func (o *Order) can(event orderEvent) error {
	if _, ok := orderTransitions[o.status][event]; !ok {
		return &StateError{Aggregate: "order", Status: string(o.status), Operation: string(event)}
	}
	return nil
}

func (o *Order) transition(event orderEvent, notes string, audit Audit) {
	from := o.status
	o.status = orderTransitions[from][event]
	o.updatedAt = audit.At
	o.history.append(&from, o.status, notes, audit)
}

func (o *Order) requireRaised(op string) error {
	if o.status != OrderStatusRaised {
		return &StateError{Aggregate: "order", Status: string(o.status), Operation: op}
	}
	return nil
}

func (o *Order) indexOf(productID string) int {
	return slices.IndexFunc(o.items, func(item OrderItem) bool { return item.ProductID == productID })
}

func (o *Order) touch(now time.Time) {
	o.recalculate()
	o.updatedAt = now
}

// recalculate keeps subtotal, tax and total consistent with the items.
func (o *Order) recalculate() {
	subtotal, tax := decimal.Zero, decimal.Zero
	for _, item := range o.items {
		subtotal = subtotal.Add(item.LineSubtotal())
		tax = tax.Add(item.LineTax())
	}
	o.subtotal = subtotal
	if !o.taxOverridden {
		o.taxAmount = tax
	}
	if o.discountAmount.GreaterThan(subtotal) {
		o.discountAmount = subtotal
	}
	o.totalAmount = o.subtotal.Add(o.taxAmount).Add(o.shippingAmount).Sub(o.discountAmount)
}

func notesWithReason(prefix, reason string) string {
	if reason == "" {
		return prefix
	}
	return prefix + ": " + reason
}
