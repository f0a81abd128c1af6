package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"

	"github.com/jmoiron/sqlx"
)

// CreateProduct inserts a new product
func (s *Store) CreateProduct(ctx context.Context, product *domain.Product) error {
	row := productToRow(product)
	query := `
		INSERT INTO products (id, sku, name, description, category_name, brand_name, unit_weight,
			stock_quantity, reserved_quantity, base_amount, tax_rate, tax_amount, price,
			original_price, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.SKU, row.Name, row.Description, row.CategoryName, row.BrandName, row.UnitWeight,
		row.StockQuantity, row.ReservedQuantity, row.BaseAmount, row.TaxRate, row.TaxAmount, row.Price,
		row.OriginalPrice, row.Status, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// GetProduct retrieves a product by ID
func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var row models.Product
	err := s.db.GetContext(ctx, &row, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "product", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return productFromRow(row)
}

// GetProductBySKU retrieves a product by SKU
func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	var row models.Product
	err := s.db.GetContext(ctx, &row, "SELECT * FROM products WHERE sku = $1", sku)
	if err == sql.ErrNoRows {
		return nil, &domain.NotFoundError{Kind: "product", ID: sku}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return productFromRow(row)
}

// ListProducts retrieves all products
func (s *Store) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	var rows []models.Product
	if err := s.db.SelectContext(ctx, &rows, "SELECT * FROM products ORDER BY id"); err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}

	products := make([]*domain.Product, 0, len(rows))
	for _, row := range rows {
		p, err := productFromRow(row)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, nil
}

// GetProductsByIDs retrieves multiple products by IDs without locking them
func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (domain.ProductTable, error) {
	return s.selectProducts(ctx, s.db, ids, false)
}

// MutateProduct applies fn to a product while holding its row lock. The change
// is written back only if fn succeeds.
func (s *Store) MutateProduct(ctx context.Context, id string, fn func(*domain.Product) error) (*domain.Product, error) {
	var product *domain.Product
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var row models.Product
		err := tx.GetContext(ctx, &row, "SELECT * FROM products WHERE id = $1 FOR UPDATE", id)
		if err == sql.ErrNoRows {
			return &domain.NotFoundError{Kind: "product", ID: id}
		}
		if err != nil {
			return fmt.Errorf("failed to lock product: %w", err)
		}

		p, err := productFromRow(row)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
		if err := updateProduct(ctx, tx, p); err != nil {
			return err
		}
		product = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return product, nil
}

// MutateProducts locks every listed product in ascending id order and applies fn
// to all of them in one transaction. Either every change is written or none is.
func (s *Store) MutateProducts(ctx context.Context, ids []string, fn func(domain.ProductTable) error) (domain.ProductTable, error) {
	var table domain.ProductTable
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		locked, err := s.selectProducts(ctx, tx, ids, true)
		if err != nil {
			return err
		}
		if err := fn(locked); err != nil {
			return err
		}
		for _, id := range sortedIDs(locked) {
			if err := updateProduct(ctx, tx, locked[id]); err != nil {
				return err
			}
		}
		table = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

func (s *Store) selectProducts(ctx context.Context, q sqlx.QueryerContext, ids []string, forUpdate bool) (domain.ProductTable, error) {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return domain.ProductTable{}, nil
	}

	base := "SELECT * FROM products WHERE id IN (?) ORDER BY id"
	if forUpdate {
		base += " FOR UPDATE"
	}
	query, args, err := sqlx.In(base, ids)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)

	var rows []models.Product
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to select products: %w", err)
	}

	table := make(domain.ProductTable, len(rows))
	for _, row := range rows {
		p, err := productFromRow(row)
		if err != nil {
			return nil, err
		}
		table[p.ID()] = p
	}
	for _, id := range ids {
		if _, ok := table[id]; !ok {
			return nil, &domain.NotFoundError{Kind: "product", ID: id}
		}
	}
	return table, nil
}

func updateProduct(ctx context.Context, tx *sqlx.Tx, p *domain.Product) error {
	row := productToRow(p)
	_, err := tx.ExecContext(ctx, `
		UPDATE products SET stock_quantity = $1, reserved_quantity = $2, base_amount = $3, tax_rate = $4,
			tax_amount = $5, price = $6, original_price = $7, status = $8, updated_at = NOW()
		WHERE id = $9`,
		row.StockQuantity, row.ReservedQuantity, row.BaseAmount, row.TaxRate,
		row.TaxAmount, row.Price, row.OriginalPrice, row.Status, row.ID)
	if err != nil {
		return fmt.Errorf("failed to update product %s: %w", row.ID, err)
	}
	return nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sortedIDs(table domain.ProductTable) []string {
	ids := make([]string, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
