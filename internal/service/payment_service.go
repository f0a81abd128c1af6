package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/gateway"
	"commerce-engine/internal/models"
	"commerce-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// gatewayActor is recorded in order history for changes driven by gateway callbacks.
const gatewayActor = "payment-gateway"

// PaymentService opens gateway payments for orders and settles them from
// verified gateway outcomes.
type PaymentService struct {
	payments  PaymentRepository
	orders    *OrderService
	gateway   gateway.Gateway
	publisher Publisher
	clock     domain.Clock
	ids       domain.IDGenerator
	logger    *zap.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	payments PaymentRepository,
	orders *OrderService,
	gw gateway.Gateway,
	publisher Publisher,
	clock domain.Clock,
) *PaymentService {
	return &PaymentService{
		payments:  payments,
		orders:    orders,
		gateway:   gw,
		publisher: publisher,
		clock:     clock,
		ids:       domain.UUIDGenerator(),
		logger:    util.GetLogger(),
	}
}

// CreatePaymentResponse carries what the client needs to complete payment with the processor.
type CreatePaymentResponse struct {
	PaymentID      string          `json:"payment_id"`
	GatewayOrderID string          `json:"gateway_order_id"`
	ClientSecret   string          `json:"client_secret"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
}

// CreatePayment opens a gateway payment for an ORDER_RAISED order owned by
// userID. An earlier unpaid payment for the same order is cancelled.
func (ps *PaymentService) CreatePayment(ctx context.Context, userID, orderID string) (*CreatePaymentResponse, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CreatePayment", attribute.String("order_id", orderID))
	defer span.End()

	util.PaymentAttemptsTotal.Inc()

	order, err := ps.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.CustomerID() != userID {
		return nil, &domain.NotFoundError{Kind: "order", ID: orderID}
	}
	if order.Status() != domain.OrderStatusRaised {
		return nil, &domain.StateError{Aggregate: "order", Status: string(order.Status()), Operation: "create_payment"}
	}

	if _, err := cancelOpenPayment(ctx, ps.payments, ps.clock, orderID); err != nil {
		return nil, err
	}

	remote, err := ps.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		Amount:   order.TotalAmount(),
		Currency: order.Currency(),
		Metadata: map[string]string{
			"order_id":     order.ID(),
			"order_number": order.OrderNumber(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}

	payment, err := domain.NewPayment(domain.NewPaymentParams{
		ID:             ps.ids.NewID(),
		GatewayOrderID: remote.ID,
		Amount:         order.TotalAmount(),
		Currency:       order.Currency(),
		UserID:         userID,
		OrderID:        order.ID(),
	}, ps.clock.Now())
	if err != nil {
		return nil, err
	}
	if err := ps.payments.CreatePayment(ctx, payment); err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}

	ps.logger.Info("Payment created",
		zap.String("payment_id", payment.ID()),
		zap.String("order_id", orderID),
		zap.String("gateway_order_id", remote.ID))

	return &CreatePaymentResponse{
		PaymentID:      payment.ID(),
		GatewayOrderID: remote.ID,
		ClientSecret:   remote.ClientSecret,
		Amount:         payment.Amount(),
		Currency:       payment.Currency(),
	}, nil
}

// cancelOpenPayment cancels the order's latest payment if it is still CREATED
// and returns it; it returns nil when there was nothing to cancel.
func cancelOpenPayment(ctx context.Context, payments PaymentRepository, clock domain.Clock, orderID string) (*domain.Payment, error) {
	existing, err := payments.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if existing.Status() != domain.PaymentStatusCreated {
		return nil, nil
	}
	return payments.MutatePayment(ctx, existing.ID(), func(p *domain.Payment) error {
		return p.Cancel(clock.Now())
	})
}

// CancelPayment abandons a payment that was never captured.
func (ps *PaymentService) CancelPayment(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.CancelPayment")
	defer span.End()

	payment, err := ps.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.UserID() != userID {
		return nil, &domain.NotFoundError{Kind: "payment", ID: paymentID}
	}
	return ps.payments.MutatePayment(ctx, paymentID, func(p *domain.Payment) error {
		return p.Cancel(ps.clock.Now())
	})
}

func (ps *PaymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.GetPayment")
	defer span.End()

	return ps.payments.GetPayment(ctx, paymentID)
}

// VerifyCallback checks a raw gateway callback and decodes its outcome.
func (ps *PaymentService) VerifyCallback(payload []byte, signature string) (*gateway.Outcome, error) {
	return ps.gateway.VerifyWebhook(payload, signature)
}

// ApplyOutcome settles a verified gateway outcome. Applying the same outcome
// twice leaves payment and order as they were after the first time.
func (ps *PaymentService) ApplyOutcome(ctx context.Context, outcome *gateway.Outcome) error {
	ctx, span := util.StartSpan(ctx, "PaymentService.ApplyOutcome",
		attribute.String("gateway_order_id", outcome.GatewayOrderID),
		attribute.String("kind", string(outcome.Kind)))
	defer span.End()

	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	switch outcome.Kind {
	case gateway.OutcomeCaptured:
		return ps.applyCaptured(ctx, outcome)
	case gateway.OutcomeFailed:
		return ps.applyFailed(ctx, outcome)
	default:
		return nil
	}
}

func (ps *PaymentService) applyCaptured(ctx context.Context, outcome *gateway.Outcome) error {
	payment, err := ps.payments.GetPaymentByGatewayOrderID(ctx, outcome.GatewayOrderID)
	if err != nil {
		return err
	}

	if payment.Status() == domain.PaymentStatusCancelled {
		ps.flagForRefund(payment, outcome, "payment_cancelled",
			"Payment captured after it was cancelled")
		return nil
	}

	payment, err = ps.payments.MutatePayment(ctx, payment.ID(), func(p *domain.Payment) error {
		if p.Status() == domain.PaymentStatusPaid {
			return nil
		}
		return p.MarkAsPaid(outcome.GatewayPaymentID, outcome.Signature, ps.clock.Now())
	})
	if err != nil {
		return err
	}
	util.PaymentSuccessTotal.Inc()

	ps.logger.Info("Payment captured",
		zap.String("payment_id", payment.ID()),
		zap.String("gateway_payment_id", outcome.GatewayPaymentID))

	if payment.OrderID() == "" {
		return nil
	}

	if !outcome.Amount.IsZero() && !outcome.Amount.Equal(payment.Amount()) {
		ps.flagForRefund(payment, outcome, "amount_mismatch",
			"Captured amount differs from the payment amount, order left unpaid")
		return nil
	}

	_, err = ps.orders.ProcessPayment(ctx, payment.OrderID(), outcome.GatewayPaymentID, outcome.PaymentMethod, payment.Amount(), gatewayActor)
	if errors.Is(err, domain.ErrValidation) {
		ps.flagForRefund(payment, outcome, "amount_mismatch",
			"Captured amount differs from the order total, order left unpaid")
		return nil
	}
	if errors.Is(err, domain.ErrInvalidState) {
		order, getErr := ps.orders.GetOrder(ctx, payment.OrderID())
		if getErr == nil && order.TransactionID() == outcome.GatewayPaymentID {
			return nil
		}
		ps.flagForRefund(payment, outcome, "order_closed",
			"Payment captured for an order that can no longer be paid")
		return nil
	}
	return err
}

// flagForRefund reports captured money that did not settle an order. Captured
// payments are refunded through RefundPayment.
func (ps *PaymentService) flagForRefund(payment *domain.Payment, outcome *gateway.Outcome, reason, msg string) {
	util.PaymentsNeedingRefundTotal.WithLabelValues(reason).Inc()
	ps.logger.Error(msg,
		zap.String("payment_id", payment.ID()),
		zap.String("order_id", payment.OrderID()),
		zap.String("payment_status", string(payment.Status())),
		zap.String("gateway_payment_id", outcome.GatewayPaymentID),
		zap.String("payment_amount", payment.Amount().StringFixed(2)),
		zap.String("captured_amount", outcome.Amount.StringFixed(2)),
		zap.String("reason", reason))
}

func (ps *PaymentService) applyFailed(ctx context.Context, outcome *gateway.Outcome) error {
	payment, err := ps.payments.GetPaymentByGatewayOrderID(ctx, outcome.GatewayOrderID)
	if err != nil {
		return err
	}

	code := outcome.Code
	if code == "" {
		code = "unknown"
	}

	payment, err = ps.payments.MutatePayment(ctx, payment.ID(), func(p *domain.Payment) error {
		if p.Status() == domain.PaymentStatusFailed {
			return nil
		}
		return p.MarkAsFailed(code, outcome.Description, ps.clock.Now())
	})
	if err != nil {
		return err
	}
	util.PaymentFailedTotal.WithLabelValues(code).Inc()

	ps.logger.Warn("Payment failed",
		zap.String("payment_id", payment.ID()),
		zap.String("code", code))

	if payment.OrderID() == "" {
		return nil
	}

	_, err = ps.orders.Cancel(ctx, payment.OrderID(), "payment failed: "+code, gatewayActor)
	if errors.Is(err, domain.ErrInvalidState) {
		return nil
	}
	return err
}

// RefundRequest represents a refund of a captured payment
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason"`
}

// RefundPayment refunds a captured payment at the gateway and records it. A
// full refund also closes the order; a partial one leaves the order as it is.
func (ps *PaymentService) RefundPayment(ctx context.Context, paymentID string, req *RefundRequest, actor string) (*domain.Payment, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.RefundPayment", attribute.String("payment_id", paymentID))
	defer span.End()

	payment, err := ps.payments.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	amount := payment.Amount()
	if req.Amount != nil {
		amount = *req.Amount
	}

	// Validate on a copy before anything reaches the gateway.
	draft, err := domain.RestorePayment(payment.Snapshot())
	if err != nil {
		return nil, err
	}
	if err := draft.MarkAsRefunded(amount, "pending", ps.clock.Now()); err != nil {
		util.PaymentRefundsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	refund, err := ps.gateway.Refund(ctx, gateway.RefundRequest{
		GatewayOrderID: payment.GatewayOrderID(),
		Amount:         amount,
		Currency:       payment.Currency(),
		Reason:         req.Reason,
	})
	if err != nil {
		util.PaymentRefundsTotal.WithLabelValues("gateway_error").Inc()
		return nil, fmt.Errorf("failed to refund at gateway: %w", err)
	}

	payment, err = ps.payments.MutatePayment(ctx, paymentID, func(p *domain.Payment) error {
		return p.MarkAsRefunded(amount, refund.ID, ps.clock.Now())
	})
	if err != nil {
		ps.logger.Error("Refund issued at gateway but not recorded",
			zap.String("payment_id", paymentID),
			zap.String("refund_id", refund.ID),
			zap.Error(err))
		return nil, err
	}
	util.PaymentRefundsTotal.WithLabelValues(string(payment.Status())).Inc()

	if payment.Status() == domain.PaymentStatusRefunded && payment.OrderID() != "" {
		if _, err := ps.orders.Refund(ctx, payment.OrderID(), req.Reason, actor); err != nil {
			ps.logger.Error("Failed to mark order refunded",
				zap.String("order_id", payment.OrderID()),
				zap.Error(err))
		}
	}

	event := &models.PaymentRefundedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentRefunded, ps.clock.Now()),
		PaymentID: payment.ID(),
		OrderID:   payment.OrderID(),
		RefundID:  refund.ID,
		Amount:    payment.RefundAmount(),
	}
	if err := ps.publisher.PublishPaymentRefunded(ctx, event); err != nil {
		ps.logger.Error("Failed to publish PaymentRefunded event", zap.Error(err))
	}

	return payment, nil
}
