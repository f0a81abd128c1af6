package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetCart retrieves a cart and its lines by ID
func (s *Store) GetCart(ctx context.Context, id string) (*domain.Cart, error) {
	var row models.Cart
	err := s.db.GetContext(ctx, &row, "SELECT * FROM carts WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "cart", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return s.loadCart(ctx, s.db, row)
}

// FindActiveCartByUser returns the user's active cart, or nil if there is none
func (s *Store) FindActiveCartByUser(ctx context.Context, userID string) (*domain.Cart, error) {
	return s.findActiveCart(ctx, "user_id", userID)
}

// FindActiveCartBySession returns the session's active cart, or nil if there is none
func (s *Store) FindActiveCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error) {
	return s.findActiveCart(ctx, "session_id", sessionID)
}

func (s *Store) findActiveCart(ctx context.Context, column, owner string) (*domain.Cart, error) {
	var row models.Cart
	query := fmt.Sprintf(
		"SELECT * FROM carts WHERE %s = $1 AND status = $2 ORDER BY created_at DESC LIMIT 1", column)
	err := s.db.GetContext(ctx, &row, query, owner, string(domain.CartStatusActive))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}
	return s.loadCart(ctx, s.db, row)
}

// SaveCart upserts the cart row and replaces its lines in one transaction
func (s *Store) SaveCart(ctx context.Context, cart *domain.Cart) error {
	row, items := cartToRows(cart)
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, session_id, discount_code, discount_amount, status,
				expires_at, checked_out_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				session_id = EXCLUDED.session_id,
				discount_code = EXCLUDED.discount_code,
				discount_amount = EXCLUDED.discount_amount,
				status = EXCLUDED.status,
				expires_at = EXCLUDED.expires_at,
				checked_out_at = EXCLUDED.checked_out_at,
				updated_at = EXCLUDED.updated_at`,
			row.ID, row.UserID, row.SessionID, row.DiscountCode, row.DiscountAmount, row.Status,
			row.ExpiresAt, row.CheckedOutAt, row.CreatedAt, row.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to save cart: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM cart_items WHERE cart_id = $1", row.ID); err != nil {
			return fmt.Errorf("failed to clear cart items: %w", err)
		}

		for _, item := range items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cart_items (cart_id, position, product_id, quantity, base_amount, tax_rate,
					tax_amount, price, unit_weight, added_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				item.CartID, item.Position, item.ProductID, item.Quantity, item.BaseAmount, item.TaxRate,
				item.TaxAmount, item.Price, item.UnitWeight, item.AddedAt)
			if err != nil {
				return fmt.Errorf("failed to save cart item: %w", err)
			}
		}
		return nil
	})
}

// ListExpiredCartIDs returns active carts whose expiry lies before now
func (s *Store) ListExpiredCartIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM carts WHERE status = $1 AND expires_at < $2 ORDER BY expires_at LIMIT $3",
		string(domain.CartStatusActive), now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired carts: %w", err)
	}
	return ids, nil
}

func (s *Store) loadCart(ctx context.Context, q sqlx.QueryerContext, row models.Cart) (*domain.Cart, error) {
	var items []models.CartItem
	err := sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM cart_items WHERE cart_id = $1 ORDER BY position", row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get cart items: %w", err)
	}
	return cartFromRows(row, items, s.cartPolicy)
}
