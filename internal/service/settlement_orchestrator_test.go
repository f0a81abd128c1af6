package service

import (
	"context"
	"testing"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettlementHandlesCaptureOnce(t *testing.T) {
	h := newHarness(t)
	order, resp := h.openPayment(t)
	ctx := context.Background()

	event := &models.PaymentCapturedEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt-1", EventType: models.EventTypePaymentCaptured, Timestamp: testNow},
		GatewayOrderID:   resp.GatewayOrderID,
		GatewayPaymentID: "ch_1",
		PaymentMethod:    "card",
		Amount:           resp.Amount,
	}
	require.NoError(t, h.settlement.HandlePaymentCaptured(ctx, event))
	require.NoError(t, h.settlement.HandlePaymentCaptured(ctx, event))

	paid, err := h.orders.GetOrder(ctx, order.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaymentDone, paid.Status())
	assert.Equal(t, 1, h.pub.count(models.EventTypeOrderPaid))

	processed, err := h.store.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestSettlementHandlesFailure(t *testing.T) {
	h := newHarness(t)
	order, resp := h.openPayment(t)
	ctx := context.Background()

	err := h.settlement.HandlePaymentFailed(ctx, &models.PaymentFailedEvent{
		BaseEvent:      models.BaseEvent{EventID: "evt-2", EventType: models.EventTypePaymentFailed, Timestamp: testNow},
		GatewayOrderID: resp.GatewayOrderID,
		Code:           "insufficient_funds",
	})
	require.NoError(t, err)

	cancelled, err := h.orders.GetOrder(ctx, order.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, cancelled.Status())
	assert.Equal(t, 0, h.product(t, "p1").ReservedQuantity())
}

func TestSettlementDropsUnknownPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.settlement.HandlePaymentCaptured(ctx, &models.PaymentCapturedEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt-3", EventType: models.EventTypePaymentCaptured, Timestamp: testNow},
		GatewayOrderID:   "no-such-order",
		GatewayPaymentID: "ch_9",
	})
	require.NoError(t, err)

	processed, err := h.store.IsEventProcessed(ctx, "evt-3")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestSettlementCaptureAfterCancelLeavesOrderClosed(t *testing.T) {
	h := newHarness(t)
	order, resp := h.openPayment(t)
	ctx := context.Background()
	_, err := h.orders.Cancel(ctx, order.ID(), "timeout", "admin")
	require.NoError(t, err)

	err = h.settlement.HandlePaymentCaptured(ctx, &models.PaymentCapturedEvent{
		BaseEvent:        models.BaseEvent{EventID: "evt-4", EventType: models.EventTypePaymentCaptured, Timestamp: testNow},
		GatewayOrderID:   resp.GatewayOrderID,
		GatewayPaymentID: "ch_4",
	})
	require.NoError(t, err)

	closed, err := h.orders.GetOrder(ctx, order.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, closed.Status())

	payment, err := h.payments.GetPayment(ctx, resp.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status())
}
