package store

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *domain.Payment) error {
	row := paymentToRow(payment)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, gateway_order_id, gateway_payment_id, signature, amount, currency,
			status, user_id, order_id, error_code, error_description, refund_id, refund_amount,
			created_at, updated_at, paid_at, refunded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		row.ID, row.GatewayOrderID, row.GatewayPaymentID, row.Signature, row.Amount, row.Currency,
		row.Status, row.UserID, row.OrderID, row.ErrorCode, row.ErrorDescription, row.RefundID, row.RefundAmount,
		row.CreatedAt, row.UpdatedAt, row.PaidAt, row.RefundedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id string) (*domain.Payment, error) {
	return s.getPayment(ctx, "id", id)
}

// GetPaymentByGatewayOrderID retrieves the payment opened for a gateway order
func (s *Store) GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error) {
	return s.getPayment(ctx, "gateway_order_id", gatewayOrderID)
}

// GetPaymentByOrderID retrieves the latest payment for an order
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error) {
	var row models.Payment
	err := s.db.GetContext(ctx, &row,
		"SELECT * FROM payments WHERE order_id = $1 ORDER BY created_at DESC LIMIT 1", orderID)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "payment", ID: "order " + orderID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return paymentFromRow(row)
}

func (s *Store) getPayment(ctx context.Context, column, value string) (*domain.Payment, error) {
	var row models.Payment
	err := s.db.GetContext(ctx, &row, fmt.Sprintf("SELECT * FROM payments WHERE %s = $1", column), value)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "payment", ID: value}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return paymentFromRow(row)
}

// MutatePayment applies fn to a payment while holding its row lock
func (s *Store) MutatePayment(ctx context.Context, id string, fn func(*domain.Payment) error) (*domain.Payment, error) {
	var payment *domain.Payment
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row models.Payment
		err := tx.GetContext(ctx, &row, "SELECT * FROM payments WHERE id = $1 FOR UPDATE", id)
		if err == sql.ErrNoRows {
			return &domain.NotFoundError{Kind: "payment", ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to lock payment: %w", err)
		}

		p, err := paymentFromRow(row)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}

		out := paymentToRow(p)
		_, err = tx.ExecContext(ctx, `
			UPDATE payments SET gateway_payment_id = $1, signature = $2, status = $3, order_id = $4,
				error_code = $5, error_description = $6, refund_id = $7, refund_amount = $8,
				updated_at = $9, paid_at = $10, refunded_at = $11
			WHERE id = $12`,
			out.GatewayPaymentID, out.Signature, out.Status, out.OrderID,
			out.ErrorCode, out.ErrorDescription, out.RefundID, out.RefundAmount,
			out.UpdatedAt, out.PaidAt, out.RefundedAt, out.ID)
		if err != nil {
			return fmt.Errorf("failed to update payment: %w", err)
		}
		payment = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}
