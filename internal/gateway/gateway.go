// Package gateway adapts the external payment processor: opening a remote
// order, verifying its callbacks and issuing refunds.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// CreateOrderRequest asks the processor to open a payment for amount.
type CreateOrderRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

// RemoteOrder is the processor's handle for a payment awaiting capture.
type RemoteOrder struct {
	ID           string
	ClientSecret string
}

type OutcomeKind string

const (
	OutcomeCaptured OutcomeKind = "captured"
	OutcomeFailed   OutcomeKind = "failed"
	OutcomeIgnored  OutcomeKind = "ignored"
)

// Outcome is a verified callback from the processor.
type Outcome struct {
	EventID          string
	Kind             OutcomeKind
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	PaymentMethod    string
	Amount           decimal.Decimal
	Code             string
	Description      string
}

type RefundRequest struct {
	GatewayOrderID string
	Amount         decimal.Decimal
	Currency       string
	Reason         string
}

type Refund struct {
	ID     string
	Amount decimal.Decimal
}

type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error)
	VerifyWebhook(payload []byte, signature string) (*Outcome, error)
	Refund(ctx context.Context, req RefundRequest) (*Refund, error)
}

// toMinorUnits converts a two-decimal amount to cents.
func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func fromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
