package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"commerce-engine/internal/util"

	"github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/paymentintent"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"
)

// Stripe maps remote orders onto PaymentIntents.
type Stripe struct {
	webhookSecret string
	logger        *zap.Logger
}

// NewStripe creates a new Stripe gateway
func NewStripe(secretKey, webhookSecret string) *Stripe {
	stripe.Key = secretKey
	return &Stripe{webhookSecret: webhookSecret, logger: util.GetLogger()}
}

func (s *Stripe) CreateOrder(ctx context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	_, span := util.StartSpan(ctx, "Stripe.CreateOrder")
	defer span.End()

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(toMinorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: req.Metadata,
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &RemoteOrder{ID: intent.ID, ClientSecret: intent.ClientSecret}, nil
}

// VerifyWebhook checks the Stripe-Signature header and reduces the event to an Outcome.
func (s *Stripe) VerifyWebhook(payload []byte, signature string) (*Outcome, error) {
	var event stripe.Event
	if s.webhookSecret == "" {
		s.logger.Warn("No webhook secret configured, accepting unsigned event")
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
	} else {
		var err error
		event, err = webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	outcome := &Outcome{EventID: event.ID, Kind: OutcomeIgnored, Signature: signature}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed":
	default:
		return outcome, nil
	}

	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("failed to decode payment intent: %w", err)
	}
	outcome.GatewayOrderID = pi.ID

	if event.Type == "payment_intent.succeeded" {
		outcome.Kind = OutcomeCaptured
		outcome.GatewayPaymentID = pi.ID
		if pi.LatestCharge != nil && pi.LatestCharge.ID != "" {
			outcome.GatewayPaymentID = pi.LatestCharge.ID
		}
		if pi.PaymentMethod != nil {
			outcome.PaymentMethod = string(pi.PaymentMethod.Type)
		}
		outcome.Amount = fromMinorUnits(pi.AmountReceived)
		return outcome, nil
	}

	outcome.Kind = OutcomeFailed
	outcome.Code = "payment_failed"
	if pi.LastPaymentError != nil {
		if pi.LastPaymentError.Code != "" {
			outcome.Code = string(pi.LastPaymentError.Code)
		}
		outcome.Description = pi.LastPaymentError.Msg
	}
	return outcome, nil
}

func (s *Stripe) Refund(ctx context.Context, req RefundRequest) (*Refund, error) {
	_, span := util.StartSpan(ctx, "Stripe.Refund")
	defer span.End()

	reason := "requested_by_customer"
	if req.Reason == "duplicate" || req.Reason == "fraudulent" {
		reason = req.Reason
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.GatewayOrderID),
		Amount:        stripe.Int64(toMinorUnits(req.Amount)),
		Reason:        stripe.String(reason),
	}

	r, err := refund.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	return &Refund{ID: r.ID, Amount: fromMinorUnits(r.Amount)}, nil
}
