package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"commerce-engine/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func message(t *testing.T, event interface{}) kafka.Message {
	t.Helper()
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return kafka.Message{Value: value}
}

func TestHandleMessageRoutesPaymentCaptured(t *testing.T) {
	handler := NewEventHandler()

	var got *models.PaymentCapturedEvent
	handler.OnPaymentCaptured(func(_ context.Context, e *models.PaymentCapturedEvent) error {
		got = e
		return nil
	})
	handler.OnPaymentFailed(func(context.Context, *models.PaymentFailedEvent) error {
		t.Fatal("failed handler must not run")
		return nil
	})

	err := handler.HandleMessage(context.Background(), message(t, &models.PaymentCapturedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   "evt-1",
			EventType: models.EventTypePaymentCaptured,
			Timestamp: time.Now(),
		},
		GatewayOrderID:   "pi_1",
		GatewayPaymentID: "ch_1",
		Amount:           decimal.RequireFromString("118.00"),
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "evt-1", got.EventID)
	assert.Equal(t, "pi_1", got.GatewayOrderID)
	assert.Equal(t, "118.00", got.Amount.StringFixed(2))
}

func TestHandleMessageRoutesPaymentFailed(t *testing.T) {
	handler := NewEventHandler()

	var got *models.PaymentFailedEvent
	handler.OnPaymentFailed(func(_ context.Context, e *models.PaymentFailedEvent) error {
		got = e
		return nil
	})

	err := handler.HandleMessage(context.Background(), message(t, &models.PaymentFailedEvent{
		BaseEvent:      models.BaseEvent{EventID: "evt-2", EventType: models.EventTypePaymentFailed},
		GatewayOrderID: "pi_2",
		Code:           "card_declined",
	}))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "card_declined", got.Code)
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	handler := NewEventHandler()
	err := handler.HandleMessage(context.Background(), message(t, &models.OrderStatusChangedEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-3", EventType: models.EventTypeOrderShipped},
		OrderID:   "order-1",
	}))
	assert.NoError(t, err)
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	handler := NewEventHandler()
	err := handler.HandleMessage(context.Background(), kafka.Message{Value: []byte("not json")})
	assert.Error(t, err)
}

func TestEventTypeOf(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: HeaderEventType, Value: []byte("ORDER_PAID")}}}
	assert.Equal(t, "ORDER_PAID", eventTypeOf(msg))
	assert.Equal(t, "unknown", eventTypeOf(kafka.Message{}))
}
