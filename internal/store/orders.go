package store

import (
	"context"
	"database/sql"
	"fmt"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateOrder inserts the order with its items and opening history entries
func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		row := orderToRow(order)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, order_number, customer_id, cart_id, status, currency, subtotal,
				discount_code, discount_amount, tax_amount, tax_overridden, shipping_amount, total_amount,
				billing_address_id, shipping_address_id, transaction_id, payment_method, tracking_number,
				carrier, cancel_reason, ordered_at, shipped_at, delivered_at, cancelled_at, refunded_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
				$19, $20, $21, $22, $23, $24, $25, $26)`,
			row.ID, row.OrderNumber, row.CustomerID, row.CartID, row.Status, row.Currency, row.Subtotal,
			row.DiscountCode, row.DiscountAmount, row.TaxAmount, row.TaxOverridden, row.ShippingAmount, row.TotalAmount,
			row.BillingAddressID, row.ShippingAddressID, row.TransactionID, row.PaymentMethod, row.TrackingNumber,
			row.Carrier, row.CancelReason, row.OrderedAt, row.ShippedAt, row.DeliveredAt, row.CancelledAt,
			row.RefundedAt, row.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		if err := insertOrderItems(ctx, tx, order); err != nil {
			return err
		}
		return insertHistory(ctx, tx, order.ID(), order.History())
	})
}

// GetOrder retrieves an order with its items and status history
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var row models.Order
	err := s.db.GetContext(ctx, &row, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "order", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return loadOrder(ctx, s.db, row)
}

// GetOrderByCartID returns the order created from a cart, or nil if there is none
func (s *Store) GetOrderByCartID(ctx context.Context, cartID string) (*domain.Order, error) {
	var row models.Order
	err := s.db.GetContext(ctx, &row, "SELECT * FROM orders WHERE cart_id = $1", cartID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order by cart: %w", err)
	}
	return loadOrder(ctx, s.db, row)
}

// GetOrdersByCustomerID retrieves orders for a customer, newest first
func (s *Store) GetOrdersByCustomerID(ctx context.Context, customerID string) ([]*domain.Order, error) {
	var rows []models.Order
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM orders WHERE customer_id = $1 ORDER BY ordered_at DESC", customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}

	orders := make([]*domain.Order, 0, len(rows))
	for _, row := range rows {
		o, err := loadOrder(ctx, s.db, row)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// MutateOrder applies fn to an order while holding its row lock. Status history
// entries appended by fn are inserted; existing ones are never rewritten.
func (s *Store) MutateOrder(ctx context.Context, id string, fn func(*domain.Order) error) (*domain.Order, error) {
	var order *domain.Order
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row models.Order
		err := tx.GetContext(ctx, &row, "SELECT * FROM orders WHERE id = $1 FOR UPDATE", id)
		if err == sql.ErrNoRows {
			return &domain.NotFoundError{Kind: "order", ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to lock order: %w", err)
		}

		o, err := loadOrder(ctx, tx, row)
		if err != nil {
			return err
		}
		editable := o.Status() == domain.OrderStatusRaised
		seen := o.HistoryLen()

		if err := fn(o); err != nil {
			return err
		}

		if err := updateOrder(ctx, tx, o); err != nil {
			return err
		}
		if editable {
			if _, err := tx.ExecContext(ctx, "DELETE FROM order_items WHERE order_id = $1", id); err != nil {
				return fmt.Errorf("failed to clear order items: %w", err)
			}
			if err := insertOrderItems(ctx, tx, o); err != nil {
				return err
			}
		}
		if err := insertHistory(ctx, tx, id, o.HistorySince(seen)); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

type sequenceOrderNumbers struct {
	store  *Store
	prefix string
	width  int
}

// OrderNumbers returns a generator backed by the order_number_seq database sequence,
// so numbers stay unique across service instances.
func (s *Store) OrderNumbers(prefix string, width int) domain.OrderNumberGenerator {
	return &sequenceOrderNumbers{store: s, prefix: prefix, width: width}
}

func (g *sequenceOrderNumbers) NextOrderNumber(ctx context.Context) (string, error) {
	var n int64
	if err := g.store.db.GetContext(ctx, &n, "SELECT nextval('order_number_seq')"); err != nil {
		return "", fmt.Errorf("failed to allocate order number: %w", err)
	}
	return domain.FormatOrderNumber(g.prefix, g.width, n), nil
}

func loadOrder(ctx context.Context, q sqlx.QueryerContext, row models.Order) (*domain.Order, error) {
	var items []models.OrderItem
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY position", row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	var history []models.OrderStatusHistory
	err = sqlx.SelectContext(ctx, q, &history,
		"SELECT * FROM order_status_history WHERE order_id = $1 ORDER BY id", row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order history: %w", err)
	}

	return orderFromRows(row, items, history)
}

func updateOrder(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	row := orderToRow(o)
	_, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = $1, subtotal = $2, discount_code = $3, discount_amount = $4,
			tax_amount = $5, tax_overridden = $6, shipping_amount = $7, total_amount = $8,
			transaction_id = $9, payment_method = $10, tracking_number = $11, carrier = $12,
			cancel_reason = $13, shipped_at = $14, delivered_at = $15, cancelled_at = $16,
			refunded_at = $17, updated_at = $18
		WHERE id = $19`,
		row.Status, row.Subtotal, row.DiscountCode, row.DiscountAmount,
		row.TaxAmount, row.TaxOverridden, row.ShippingAmount, row.TotalAmount,
		row.TransactionID, row.PaymentMethod, row.TrackingNumber, row.Carrier,
		row.CancelReason, row.ShippedAt, row.DeliveredAt, row.CancelledAt,
		row.RefundedAt, row.UpdatedAt, row.ID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	return nil
}

func insertOrderItems(ctx context.Context, tx *sqlx.Tx, o *domain.Order) error {
	for _, item := range orderItemRows(o.ID(), o.Items()) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, product_name, sku, description,
				category_name, brand_name, quantity, unit_price, unit_tax_amount, tax_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			item.OrderID, item.Position, item.ProductID, item.ProductName, item.SKU, item.Description,
			item.CategoryName, item.BrandName, item.Quantity, item.UnitPrice, item.UnitTaxAmount, item.TaxRate)
		if err != nil {
			return fmt.Errorf("failed to create order item: %w", err)
		}
	}
	return nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, orderID string, entries []domain.StatusHistoryEntry) error {
	for _, h := range historyRows(orderID, entries) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_status_history (order_id, from_status, to_status, notes, changed_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			h.OrderID, h.FromStatus, h.ToStatus, h.Notes, h.ChangedBy, h.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to record status history: %w", err)
		}
	}
	return nil
}
