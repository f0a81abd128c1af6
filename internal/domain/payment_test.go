package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPayment(t *testing.T) *Payment {
	t.Helper()
	p, err := NewPayment(NewPaymentParams{
		ID:             "pay-1",
		GatewayOrderID: "pi_123",
		Amount:         dec("118.00"),
		Currency:       "USD",
		UserID:         "user-1",
	}, testNow)
	require.NoError(t, err)
	return p
}

func TestPaymentMarkAsPaid(t *testing.T) {
	p := newTestPayment(t)
	assert.ErrorIs(t, p.MarkAsPaid("", "sig", testNow), ErrValidation)

	require.NoError(t, p.MarkAsPaid("ch_1", "sig", testNow))
	assert.Equal(t, PaymentStatusPaid, p.Status())
	assert.Equal(t, "ch_1", p.GatewayPaymentID())
	assert.True(t, p.CanBeRefunded())

	assert.ErrorIs(t, p.MarkAsPaid("ch_2", "sig", testNow), ErrInvalidState)
}

func TestPaymentMarkAsFailed(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.MarkAsFailed("card_declined", "insufficient funds", testNow))
	assert.Equal(t, PaymentStatusFailed, p.Status())
	assert.False(t, p.CanBeRefunded())

	paid := newTestPayment(t)
	require.NoError(t, paid.MarkAsPaid("ch_1", "", testNow))
	assert.ErrorIs(t, paid.MarkAsFailed("late_failure", "", testNow), ErrInvalidState)
	assert.Equal(t, PaymentStatusPaid, paid.Status())
}

func TestPaymentFailsFromGatewayStates(t *testing.T) {
	for _, status := range []PaymentStatus{PaymentStatusPending, PaymentStatusProcessing} {
		snap := newTestPayment(t).Snapshot()
		snap.Status = status
		p, err := RestorePayment(snap)
		require.NoError(t, err)

		require.NoError(t, p.MarkAsFailed("timeout", "", testNow))
		assert.Equal(t, PaymentStatusFailed, p.Status())
	}
}

func TestPaymentMarkAsRefunded(t *testing.T) {
	p := newTestPayment(t)
	assert.ErrorIs(t, p.MarkAsRefunded(dec("10"), "re_1", testNow), ErrInvalidState)

	require.NoError(t, p.MarkAsPaid("ch_1", "", testNow))
	assert.ErrorIs(t, p.MarkAsRefunded(dec("118.01"), "re_1", testNow), ErrValidation)
	assert.ErrorIs(t, p.MarkAsRefunded(dec("0"), "re_1", testNow), ErrValidation)
	assert.ErrorIs(t, p.MarkAsRefunded(dec("10"), "", testNow), ErrValidation)

	require.NoError(t, p.MarkAsRefunded(dec("118.00"), "re_1", testNow))
	assert.Equal(t, PaymentStatusRefunded, p.Status())
	assert.Equal(t, "re_1", p.RefundID())
	assert.False(t, p.CanBeRefunded())
	assert.ErrorIs(t, p.MarkAsRefunded(dec("1"), "re_2", testNow), ErrInvalidState)
}

func TestPaymentPartialRefund(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.MarkAsPaid("ch_1", "", testNow))

	require.NoError(t, p.MarkAsRefunded(dec("18.00"), "re_1", testNow))
	assert.Equal(t, PaymentStatusPartiallyRefunded, p.Status())
	assert.Equal(t, "18.00", p.RefundAmount().StringFixed(2))
}

func TestPaymentCancel(t *testing.T) {
	p := newTestPayment(t)
	require.NoError(t, p.Cancel(testNow))
	assert.Equal(t, PaymentStatusCancelled, p.Status())
	assert.ErrorIs(t, p.MarkAsPaid("ch_1", "", testNow), ErrInvalidState)
}

func TestPaymentAttachOrder(t *testing.T) {
	p := newTestPayment(t)
	assert.Empty(t, p.OrderID())

	require.NoError(t, p.AttachOrder("order-1", testNow))
	require.NoError(t, p.AttachOrder("order-1", testNow))
	assert.ErrorIs(t, p.AttachOrder("order-2", testNow), ErrInvalidState)
	assert.ErrorIs(t, p.AttachOrder("", testNow), ErrValidation)
	assert.Equal(t, "order-1", p.OrderID())
}

func TestNewPaymentValidation(t *testing.T) {
	_, err := NewPayment(NewPaymentParams{ID: "p", GatewayOrderID: "g", Amount: dec("0"), Currency: "USD", UserID: "u"}, testNow)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewPayment(NewPaymentParams{ID: "p", GatewayOrderID: "", Amount: dec("1"), Currency: "USD", UserID: "u"}, testNow)
	assert.ErrorIs(t, err, ErrValidation)
}
