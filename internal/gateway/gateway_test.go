package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v83/webhook"
)

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(11800), toMinorUnits(decimal.RequireFromString("118.00")))
	assert.Equal(t, int64(1), toMinorUnits(decimal.RequireFromString("0.005")))
	assert.Equal(t, "118.00", fromMinorUnits(11800).StringFixed(2))
}

func TestFakeCallbackRoundTrip(t *testing.T) {
	f := NewFake("secret")
	order, err := f.CreateOrder(context.Background(), CreateOrderRequest{Amount: decimal.RequireFromString("50"), Currency: "USD"})
	require.NoError(t, err)

	payload, sig, err := f.Callback(Outcome{
		EventID:          "evt-1",
		Kind:             OutcomeCaptured,
		GatewayOrderID:   order.ID,
		GatewayPaymentID: "ch_1",
		Amount:           decimal.RequireFromString("50"),
	})
	require.NoError(t, err)

	outcome, err := f.VerifyWebhook(payload, sig)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCaptured, outcome.Kind)
	assert.Equal(t, order.ID, outcome.GatewayOrderID)

	_, err = f.VerifyWebhook(payload, "forged")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestFakeRefundLimit(t *testing.T) {
	f := NewFake("secret")
	ctx := context.Background()
	order, err := f.CreateOrder(ctx, CreateOrderRequest{Amount: decimal.RequireFromString("50"), Currency: "USD"})
	require.NoError(t, err)

	_, err = f.Refund(ctx, RefundRequest{GatewayOrderID: order.ID, Amount: decimal.RequireFromString("30")})
	require.NoError(t, err)
	_, err = f.Refund(ctx, RefundRequest{GatewayOrderID: order.ID, Amount: decimal.RequireFromString("30")})
	assert.Error(t, err)
}

func signedStripePayload(t *testing.T, secret, body string) (payload []byte, header string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(body),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestStripeVerifyWebhookSucceeded(t *testing.T) {
	s := NewStripe("sk_test_dummy", "whsec_test")
	payload, header := signedStripePayload(t, "whsec_test", `{
		"id": "evt_1",
		"object": "event",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "object": "payment_intent", "amount_received": 11800, "latest_charge": "ch_1"}}
	}`)

	outcome, err := s.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCaptured, outcome.Kind)
	assert.Equal(t, "evt_1", outcome.EventID)
	assert.Equal(t, "pi_1", outcome.GatewayOrderID)
	assert.Equal(t, "ch_1", outcome.GatewayPaymentID)
	assert.Equal(t, "118.00", outcome.Amount.StringFixed(2))
}

func TestStripeVerifyWebhookFailed(t *testing.T) {
	s := NewStripe("sk_test_dummy", "whsec_test")
	payload, header := signedStripePayload(t, "whsec_test", `{
		"id": "evt_2",
		"object": "event",
		"type": "payment_intent.payment_failed",
		"data": {"object": {"id": "pi_2", "object": "payment_intent",
			"last_payment_error": {"code": "card_declined", "message": "Your card was declined."}}}
	}`)

	outcome, err := s.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome.Kind)
	assert.Equal(t, "card_declined", outcome.Code)
	assert.Equal(t, "Your card was declined.", outcome.Description)
}

func TestStripeVerifyWebhookRejectsBadSignature(t *testing.T) {
	s := NewStripe("sk_test_dummy", "whsec_test")
	payload, _ := signedStripePayload(t, "whsec_other", `{"id": "evt_3", "object": "event", "type": "charge.updated"}`)

	_, err := s.VerifyWebhook(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeIgnoresOtherEvents(t *testing.T) {
	s := NewStripe("sk_test_dummy", "whsec_test")
	payload, header := signedStripePayload(t, "whsec_test", `{"id": "evt_4", "object": "event", "type": "charge.updated", "data": {"object": {}}}`)

	outcome, err := s.VerifyWebhook(payload, header)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome.Kind)
}
