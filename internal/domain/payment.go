package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusCreated           PaymentStatus = "CREATED"
	PaymentStatusPending           PaymentStatus = "PENDING"
	PaymentStatusProcessing        PaymentStatus = "PROCESSING"
	PaymentStatusPaid              PaymentStatus = "PAID"
	PaymentStatusFailed            PaymentStatus = "FAILED"
	PaymentStatusRefunded          PaymentStatus = "REFUNDED"
	PaymentStatusPartiallyRefunded PaymentStatus = "PARTIALLY_REFUNDED"
	PaymentStatusCancelled         PaymentStatus = "CANCELLED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusCreated, PaymentStatusPending, PaymentStatusProcessing, PaymentStatusPaid,
		PaymentStatusFailed, PaymentStatusRefunded, PaymentStatusPartiallyRefunded, PaymentStatusCancelled:
		return true
	}
	return false
}

type paymentEvent string

const (
	paymentPay           paymentEvent = "mark_as_paid"
	paymentFail          paymentEvent = "mark_as_failed"
	paymentRefund        paymentEvent = "mark_as_refunded"
	paymentPartialRefund paymentEvent = "mark_as_partially_refunded"
	paymentCancel        paymentEvent = "cancel"
)

// paymentTransitions is the payment state machine. PENDING and PROCESSING are
// gateway-side states: nothing here moves a payment into them, but a payment
// restored in one of them can still fail.
var paymentTransitions = map[PaymentStatus]map[paymentEvent]PaymentStatus{
	PaymentStatusCreated: {
		paymentPay:    PaymentStatusPaid,
		paymentFail:   PaymentStatusFailed,
		paymentCancel: PaymentStatusCancelled,
	},
	PaymentStatusPending: {
		paymentFail: PaymentStatusFailed,
	},
	PaymentStatusProcessing: {
		paymentFail: PaymentStatusFailed,
	},
	PaymentStatusPaid: {
		paymentRefund:        PaymentStatusRefunded,
		paymentPartialRefund: PaymentStatusPartiallyRefunded,
	},
}

// Payment mirrors a remote gateway order. OrderID may be empty until the
// commerce order exists.
type Payment struct {
	id               string
	gatewayOrderID   string
	gatewayPaymentID string
	signature        string
	amount           decimal.Decimal
	currency         string
	status           PaymentStatus
	userID           string
	orderID          string
	errorCode        string
	errorDescription string
	refundID         string
	refundAmount     decimal.Decimal
	createdAt        time.Time
	updatedAt        time.Time
	paidAt           *time.Time
	refundedAt       *time.Time
}

type PaymentSnapshot struct {
	ID               string          `json:"id"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	Signature        string          `json:"-"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Status           PaymentStatus   `json:"status"`
	UserID           string          `json:"user_id"`
	OrderID          string          `json:"order_id,omitempty"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
	RefundID         string          `json:"refund_id,omitempty"`
	RefundAmount     decimal.Decimal `json:"refund_amount"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	PaidAt           *time.Time      `json:"paid_at,omitempty"`
	RefundedAt       *time.Time      `json:"refunded_at,omitempty"`
}

type NewPaymentParams struct {
	ID             string
	GatewayOrderID string
	Amount         decimal.Decimal
	Currency       string
	UserID         string
	OrderID        string
}

// NewPayment records a gateway order that has just been requested.
func NewPayment(p NewPaymentParams, now time.Time) (*Payment, error) {
	if p.ID == "" {
		return nil, invalid("id", "is required")
	}
	if p.GatewayOrderID == "" {
		return nil, invalid("gateway_order_id", "is required")
	}
	if !p.Amount.IsPositive() {
		return nil, invalid("amount", "must be positive")
	}
	if p.Currency == "" {
		return nil, invalid("currency", "is required")
	}
	if p.UserID == "" {
		return nil, invalid("user_id", "is required")
	}
	return &Payment{
		id:             p.ID,
		gatewayOrderID: p.GatewayOrderID,
		amount:         RoundMoney(p.Amount),
		currency:       p.Currency,
		status:         PaymentStatusCreated,
		userID:         p.UserID,
		orderID:        p.OrderID,
		refundAmount:   decimal.Zero,
		createdAt:      now,
		updatedAt:      now,
	}, nil
}

func RestorePayment(s PaymentSnapshot) (*Payment, error) {
	if s.ID == "" {
		return nil, invalid("id", "is required")
	}
	if !s.Status.Valid() {
		return nil, invalid("status", "unknown status "+string(s.Status))
	}
	return &Payment{
		id:               s.ID,
		gatewayOrderID:   s.GatewayOrderID,
		gatewayPaymentID: s.GatewayPaymentID,
		signature:        s.Signature,
		amount:           s.Amount,
		currency:         s.Currency,
		status:           s.Status,
		userID:           s.UserID,
		orderID:          s.OrderID,
		errorCode:        s.ErrorCode,
		errorDescription: s.ErrorDescription,
		refundID:         s.RefundID,
		refundAmount:     s.RefundAmount,
		createdAt:        s.CreatedAt,
		updatedAt:        s.UpdatedAt,
		paidAt:           s.PaidAt,
		refundedAt:       s.RefundedAt,
	}, nil
}

func (p *Payment) ID() string                    { return p.id }
func (p *Payment) GatewayOrderID() string        { return p.gatewayOrderID }
func (p *Payment) GatewayPaymentID() string      { return p.gatewayPaymentID }
func (p *Payment) Amount() decimal.Decimal       { return p.amount }
func (p *Payment) Currency() string              { return p.currency }
func (p *Payment) Status() PaymentStatus         { return p.status }
func (p *Payment) UserID() string                { return p.userID }
func (p *Payment) OrderID() string               { return p.orderID }
func (p *Payment) RefundID() string              { return p.refundID }
func (p *Payment) RefundAmount() decimal.Decimal { return p.refundAmount }

// CanBeRefunded is true for a paid payment with no refund recorded yet.
func (p *Payment) CanBeRefunded() bool {
	return p.status == PaymentStatusPaid && p.refundID == ""
}

// AttachOrder links the payment to the order it settles once that order exists.
func (p *Payment) AttachOrder(orderID string, now time.Time) error {
	if orderID == "" {
		return invalid("order_id", "is required")
	}
	if p.orderID != "" && p.orderID != orderID {
		return &StateError{Aggregate: "payment", Status: string(p.status), Operation: "attach_order (already attached)"}
	}
	p.orderID = orderID
	p.updatedAt = now
	return nil
}

// MarkAsPaid records a verified gateway capture.
func (p *Payment) MarkAsPaid(gatewayPaymentID, signature string, now time.Time) error {
	if err := p.can(paymentPay); err != nil {
		return err
	}
	if gatewayPaymentID == "" {
		return invalid("gateway_payment_id", "is required")
	}
	p.gatewayPaymentID = gatewayPaymentID
	p.signature = signature
	p.paidAt = &now
	p.apply(paymentPay, now)
	return nil
}

// MarkAsFailed records a gateway failure. A paid payment cannot fail.
func (p *Payment) MarkAsFailed(code, description string, now time.Time) error {
	if err := p.can(paymentFail); err != nil {
		return err
	}
	if code == "" {
		return invalid("error_code", "is required")
	}
	p.errorCode = code
	p.errorDescription = description
	p.apply(paymentFail, now)
	return nil
}

// MarkAsRefunded records a gateway refund. Refunding less than the paid amount
// leaves the payment PARTIALLY_REFUNDED.
func (p *Payment) MarkAsRefunded(amount decimal.Decimal, refundID string, now time.Time) error {
	if err := p.can(paymentRefund); err != nil {
		return err
	}
	if refundID == "" {
		return invalid("refund_id", "is required")
	}
	amount = RoundMoney(amount)
	if !amount.IsPositive() || amount.GreaterThan(p.amount) {
		return invalid("refund_amount", "must be positive and not exceed the paid amount")
	}
	p.refundID = refundID
	p.refundAmount = amount
	p.refundedAt = &now
	if amount.Equal(p.amount) {
		p.apply(paymentRefund, now)
	} else {
		p.apply(paymentPartialRefund, now)
	}
	return nil
}

// Cancel abandons a payment that was never paid.
func (p *Payment) Cancel(now time.Time) error {
	if err := p.can(paymentCancel); err != nil {
		return err
	}
	p.apply(paymentCancel, now)
	return nil
}

func (p *Payment) Snapshot() PaymentSnapshot {
	return PaymentSnapshot{
		ID:               p.id,
		GatewayOrderID:   p.gatewayOrderID,
		GatewayPaymentID: p.gatewayPaymentID,
		Signature:        p.signature,
		Amount:           p.amount,
		Currency:         p.currency,
		Status:           p.status,
		UserID:           p.userID,
		OrderID:          p.orderID,
		ErrorCode:        p.errorCode,
		ErrorDescription: p.errorDescription,
		RefundID:         p.refundID,
		RefundAmount:     p.refundAmount,
		CreatedAt:        p.createdAt,
		UpdatedAt:        p.updatedAt,
		PaidAt:           p.paidAt,
		RefundedAt:       p.refundedAt,
	}
}

func (p *Payment) can(event paymentEvent) error {
	if _, ok := paymentTransitions[p.status][event]; !ok {
		return &StateError{Aggregate: "payment", Status: string(p.status), Operation: string(event)}
	}
	return nil
}

func (p *Payment) apply(event paymentEvent, now time.Time) {
	p.status = paymentTransitions[p.status][event]
	p.updatedAt = now
}
