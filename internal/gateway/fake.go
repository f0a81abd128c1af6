package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Fake is an in-process gateway for development and tests. Callbacks are JSON
// outcomes signed with HMAC-SHA256 over the body.
type Fake struct {
	secret string

	mu       sync.Mutex
	orders   map[string]decimal.Decimal
	refunded map[string]decimal.Decimal

	// Set to make the next calls fail.
	CreateErr error
	RefundErr error
}

// NewFake creates a new fake gateway
func NewFake(secret string) *Fake {
	return &Fake{
		secret:   secret,
		orders:   make(map[string]decimal.Decimal),
		refunded: make(map[string]decimal.Decimal),
	}
}

type fakeCallback struct {
	EventID          string          `json:"event_id"`
	Kind             OutcomeKind     `json:"kind"`
	GatewayOrderID   string          `json:"gateway_order_id"`
	GatewayPaymentID string          `json:"gateway_payment_id,omitempty"`
	PaymentMethod    string          `json:"payment_method,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Code             string          `json:"code,omitempty"`
	Description      string          `json:"description,omitempty"`
}

func (f *Fake) CreateOrder(_ context.Context, req CreateOrderRequest) (*RemoteOrder, error) {
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	id := "fake_order_" + uuid.NewString()

	f.mu.Lock()
	f.orders[id] = req.Amount
	f.mu.Unlock()

	return &RemoteOrder{ID: id, ClientSecret: id + "_secret"}, nil
}

func (f *Fake) VerifyWebhook(payload []byte, signature string) (*Outcome, error) {
	if !hmac.Equal([]byte(f.Sign(payload)), []byte(signature)) {
		return nil, ErrInvalidSignature
	}

	var cb fakeCallback
	if err := json.Unmarshal(payload, &cb); err != nil {
		return nil, fmt.Errorf("failed to decode callback: %w", err)
	}
	return &Outcome{
		EventID:          cb.EventID,
		Kind:             cb.Kind,
		GatewayOrderID:   cb.GatewayOrderID,
		GatewayPaymentID: cb.GatewayPaymentID,
		Signature:        signature,
		PaymentMethod:    cb.PaymentMethod,
		Amount:           cb.Amount,
		Code:             cb.Code,
		Description:      cb.Description,
	}, nil
}

func (f *Fake) Refund(_ context.Context, req RefundRequest) (*Refund, error) {
	if f.RefundErr != nil {
		return nil, f.RefundErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	paid, ok := f.orders[req.GatewayOrderID]
	if !ok {
		return nil, fmt.Errorf("unknown gateway order %s", req.GatewayOrderID)
	}
	total := f.refunded[req.GatewayOrderID].Add(req.Amount)
	if total.GreaterThan(paid) {
		return nil, fmt.Errorf("refund exceeds captured amount for %s", req.GatewayOrderID)
	}
	f.refunded[req.GatewayOrderID] = total

	return &Refund{ID: "fake_refund_" + uuid.NewString(), Amount: req.Amount}, nil
}

// Sign returns the signature VerifyWebhook expects for payload.
func (f *Fake) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, []byte(f.secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Callback builds a signed callback body for outcome.
func (f *Fake) Callback(o Outcome) (payload []byte, signature string, err error) {
	payload, err = json.Marshal(fakeCallback{
		EventID:          o.EventID,
		Kind:             o.Kind,
		GatewayOrderID:   o.GatewayOrderID,
		GatewayPaymentID: o.GatewayPaymentID,
		PaymentMethod:    o.PaymentMethod,
		Amount:           o.Amount,
		Code:             o.Code,
		Description:      o.Description,
	})
	if err != nil {
		return nil, "", err
	}
	return payload, f.Sign(payload), nil
}
