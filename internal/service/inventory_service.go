package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"
	"commerce-engine/internal/redisclient"
	"commerce-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Line is a quantity of one product, as held by a cart or order line.
type Line struct {
	ProductID string
	Quantity  int
}

type stockOp string

const (
	stockReserve stockOp = "reserve"
	stockRelease stockOp = "release"
	stockFulfill stockOp = "fulfill"
	stockAdd     stockOp = "add"
)

// InventoryService owns the stock counters. Postgres is authoritative; the
// Redis mirror is updated after commit and resynced whenever it disagrees.
type InventoryService struct {
	products          ProductRepository
	mirror            StockMirror
	publisher         Publisher
	clock             domain.Clock
	lowStockThreshold int
	logger            *zap.Logger
}

// NewInventoryService creates a new inventory service
func NewInventoryService(
	products ProductRepository,
	mirror StockMirror,
	publisher Publisher,
	clock domain.Clock,
	lowStockThreshold int,
) *InventoryService {
	return &InventoryService{
		products:          products,
		mirror:            mirror,
		publisher:         publisher,
		clock:             clock,
		lowStockThreshold: lowStockThreshold,
		logger:            util.GetLogger(),
	}
}

type CreateProductRequest struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku" binding:"required"`
	Name          string          `json:"name" binding:"required"`
	Description   string          `json:"description"`
	CategoryName  string          `json:"category_name"`
	BrandName     string          `json:"brand_name"`
	UnitWeight    decimal.Decimal `json:"unit_weight"`
	StockQuantity int             `json:"stock_quantity"`
	BaseAmount    decimal.Decimal `json:"base_amount"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	Status        string          `json:"status"`
}

func (s *InventoryService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*domain.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.CreateProduct")
	defer span.End()

	id := req.ID
	if id == "" {
		id = domain.UUIDGenerator().NewID()
	}
	product, err := domain.NewProduct(domain.NewProductParams{
		ID:            id,
		SKU:           req.SKU,
		Name:          req.Name,
		Description:   req.Description,
		CategoryName:  req.CategoryName,
		BrandName:     req.BrandName,
		UnitWeight:    req.UnitWeight,
		StockQuantity: req.StockQuantity,
		BaseAmount:    req.BaseAmount,
		TaxRate:       req.TaxRate,
		Status:        domain.ProductStatus(req.Status),
	}, s.clock.Now())
	if err != nil {
		return nil, err
	}

	existing, err := s.products.GetProductBySKU(ctx, product.SKU())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, &domain.ValidationError{Field: "sku", Reason: "already used by product " + existing.ID()}
	}

	if err := s.products.CreateProduct(ctx, product); err != nil {
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	s.resync(ctx, product)

	s.logger.Info("Product created",
		zap.String("product_id", product.ID()),
		zap.String("sku", product.SKU()))

	return product, nil
}

func (s *InventoryService) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.GetProduct")
	defer span.End()

	return s.products.GetProduct(ctx, id)
}

func (s *InventoryService) ListProducts(ctx context.Context) ([]*domain.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.ListProducts")
	defer span.End()

	return s.products.ListProducts(ctx)
}

// Availability returns the sellable quantity, read from the mirror when it has
// the product and from Postgres otherwise.
func (s *InventoryService) Availability(ctx context.Context, productID string) (int, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.Availability",
		attribute.String("product_id", productID))
	defer span.End()

	stock, reserved, err := s.mirror.GetInventory(ctx, productID)
	if err == nil {
		return max(0, stock-reserved), nil
	}
	if !errors.Is(err, redisclient.ErrInventoryNotCached) {
		s.logger.Warn("Mirror read failed, falling back to DB",
			zap.String("product_id", productID),
			zap.Error(err))
	}

	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return 0, err
	}
	s.resync(ctx, product)
	return product.Available(), nil
}

// Reserve holds qty units of one product.
func (s *InventoryService) Reserve(ctx context.Context, productID string, qty int) (*domain.Product, error) {
	table, err := s.ReserveLines(ctx, []Line{{ProductID: productID, Quantity: qty}})
	if err != nil {
		return nil, err
	}
	return table[productID], nil
}

func (s *InventoryService) Release(ctx context.Context, productID string, qty int) (*domain.Product, error) {
	table, err := s.ReleaseLines(ctx, []Line{{ProductID: productID, Quantity: qty}})
	if err != nil {
		return nil, err
	}
	return table[productID], nil
}

func (s *InventoryService) Fulfill(ctx context.Context, productID string, qty int) (*domain.Product, error) {
	table, err := s.FulfillLines(ctx, []Line{{ProductID: productID, Quantity: qty}})
	if err != nil {
		return nil, err
	}
	return table[productID], nil
}

func (s *InventoryService) AddStock(ctx context.Context, productID string, qty int) (*domain.Product, error) {
	table, err := s.mutateLines(ctx, stockAdd, []Line{{ProductID: productID, Quantity: qty}})
	if err != nil {
		return nil, err
	}
	return table[productID], nil
}

// ReserveLines reserves every line or none of them. Lines for the same product
// are summed first.
func (s *InventoryService) ReserveLines(ctx context.Context, lines []Line) (domain.ProductTable, error) {
	start := time.Now()
	defer func() {
		util.InventoryReserveLatency.Observe(time.Since(start).Seconds())
	}()

	table, err := s.mutateLines(ctx, stockReserve, lines)
	if err != nil {
		util.StockReservationsFailed.WithLabelValues(failureReason(err)).Inc()
		return nil, err
	}
	util.StockReservationsTotal.Inc()
	return table, nil
}

func (s *InventoryService) ReleaseLines(ctx context.Context, lines []Line) (domain.ProductTable, error) {
	return s.mutateLines(ctx, stockRelease, lines)
}

func (s *InventoryService) FulfillLines(ctx context.Context, lines []Line) (domain.ProductTable, error) {
	return s.mutateLines(ctx, stockFulfill, lines)
}

func (s *InventoryService) SetBaseAmount(ctx context.Context, productID string, base decimal.Decimal) (*domain.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SetBaseAmount")
	defer span.End()

	return s.products.MutateProduct(ctx, productID, func(p *domain.Product) error {
		return p.SetBaseAmount(base)
	})
}

func (s *InventoryService) SetTaxRate(ctx context.Context, productID string, rate decimal.Decimal) (*domain.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SetTaxRate")
	defer span.End()

	return s.products.MutateProduct(ctx, productID, func(p *domain.Product) error {
		return p.SetTaxRate(rate)
	})
}

// SetOriginalPrice sets or, with an invalid NullDecimal, clears the strike-through price.
func (s *InventoryService) SetOriginalPrice(ctx context.Context, productID string, original decimal.NullDecimal) (*domain.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SetOriginalPrice")
	defer span.End()

	return s.products.MutateProduct(ctx, productID, func(p *domain.Product) error {
		return p.SetOriginalPrice(original)
	})
}

func (s *InventoryService) SetStatus(ctx context.Context, productID string, status domain.ProductStatus) (*domain.Product, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService.SetStatus")
	defer span.End()

	return s.products.MutateProduct(ctx, productID, func(p *domain.Product) error {
		return p.SetStatus(status)
	})
}

// SyncInventoryToRedis rewrites the mirror from Postgres for every product.
func (s *InventoryService) SyncInventoryToRedis(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "InventoryService.SyncInventoryToRedis")
	defer span.End()

	products, err := s.products.ListProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list products: %w", err)
	}

	for _, p := range products {
		if err := s.mirror.InitInventory(ctx, p.ID(), p.StockQuantity(), p.ReservedQuantity()); err != nil {
			return fmt.Errorf("failed to sync product %s: %w", p.ID(), err)
		}
	}

	s.logger.Info("Inventory synced to Redis", zap.Int("products", len(products)))
	return nil
}

func (s *InventoryService) mutateLines(ctx context.Context, op stockOp, lines []Line) (domain.ProductTable, error) {
	ctx, span := util.StartSpan(ctx, "InventoryService."+string(op),
		attribute.Int("lines", len(lines)))
	defer span.End()

	qty, ids, err := aggregateLines(lines)
	if err != nil {
		return nil, err
	}

	lowBefore := make(map[string]bool, len(ids))
	table, err := s.products.MutateProducts(ctx, ids, func(products domain.ProductTable) error {
		for _, id := range ids {
			p := products[id]
			lowBefore[id] = p.IsLowStock(s.lowStockThreshold)
			if err := applyStockOp(p, op, qty[id]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		util.RecordError(ctx, err)
		return nil, err
	}

	for _, id := range ids {
		s.mirrorDelta(ctx, op, table[id], qty[id])
		util.StockMovementsTotal.WithLabelValues(string(op)).Inc()
	}

	if op == stockReserve || op == stockFulfill {
		for _, id := range ids {
			if p := table[id]; !lowBefore[id] && p.IsLowStock(s.lowStockThreshold) {
				s.publishLowStock(ctx, p)
			}
		}
	}

	return table, nil
}

func applyStockOp(p *domain.Product, op stockOp, qty int) error {
	switch op {
	case stockReserve:
		return p.Reserve(qty)
	case stockRelease:
		return p.Release(qty)
	case stockFulfill:
		return p.Fulfill(qty)
	case stockAdd:
		return p.AddStock(qty)
	}
	return fmt.Errorf("unknown stock operation %s", op)
}

// mirrorDelta applies a committed change to Redis. Anything other than a clean
// apply means the mirror drifted, so it is rewritten from the committed row.
func (s *InventoryService) mirrorDelta(ctx context.Context, op stockOp, committed *domain.Product, qty int) {
	var (
		result redisclient.StockResult
		err    error
	)
	switch op {
	case stockReserve:
		result, err = s.mirror.ReserveStock(ctx, committed.ID(), qty)
	case stockRelease:
		result, err = s.mirror.ReleaseStock(ctx, committed.ID(), qty)
	case stockFulfill:
		result, err = s.mirror.CommitStock(ctx, committed.ID(), qty)
	case stockAdd:
		result, err = s.mirror.AddStock(ctx, committed.ID(), qty)
	}
	if err == nil && result == redisclient.StockApplied {
		return
	}

	if err != nil {
		s.logger.Warn("Mirror update failed",
			zap.String("product_id", committed.ID()),
			zap.String("op", string(op)),
			zap.Error(err))
	}
	util.InventoryMirrorResyncTotal.Inc()
	s.resync(ctx, committed)
}

func (s *InventoryService) resync(ctx context.Context, p *domain.Product) {
	if err := s.mirror.InitInventory(ctx, p.ID(), p.StockQuantity(), p.ReservedQuantity()); err != nil {
		s.logger.Error("Failed to resync inventory mirror",
			zap.String("product_id", p.ID()),
			zap.Error(err))
	}
}

func (s *InventoryService) publishLowStock(ctx context.Context, p *domain.Product) {
	util.LowStockTotal.Inc()

	event := &models.LowStockEvent{
		BaseEvent: newBaseEvent(models.EventTypeProductLowStock, s.clock.Now()),
		ProductID: p.ID(),
		SKU:       p.SKU(),
		Available: p.Available(),
		Threshold: s.lowStockThreshold,
	}
	if err := s.publisher.PublishLowStock(ctx, event); err != nil {
		s.logger.Error("Failed to publish LowStock event",
			zap.String("product_id", p.ID()),
			zap.Error(err))
	}
}

// aggregateLines sums quantities per product and returns the ids sorted.
func aggregateLines(lines []Line) (map[string]int, []string, error) {
	if len(lines) == 0 {
		return nil, nil, &domain.ValidationError{Field: "lines", Reason: "at least one line is required"}
	}
	qty := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" {
			return nil, nil, &domain.ValidationError{Field: "product_id", Reason: "is required"}
		}
		if l.Quantity <= 0 {
			return nil, nil, &domain.ValidationError{Field: "quantity", Reason: "must be positive"}
		}
		qty[l.ProductID] += l.Quantity
	}
	ids := make([]string, 0, len(qty))
	for id := range qty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return qty, ids, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrProductUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "validation"
	case errors.Is(err, ErrBusy):
		return "busy"
	}
	return "internal"
}
