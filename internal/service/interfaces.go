package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"
	"commerce-engine/internal/redisclient"

	"github.com/google/uuid"
)

// ErrBusy is returned when another request holds the lock on the same cart.
var ErrBusy = errors.New("resource is busy, retry")

// ProductRepository is the row-locked product ledger (implemented by store.Store).
type ProductRepository interface {
	CreateProduct(ctx context.Context, product *domain.Product) error
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (domain.ProductTable, error)
	MutateProduct(ctx context.Context, id string, fn func(*domain.Product) error) (*domain.Product, error)
	MutateProducts(ctx context.Context, ids []string, fn func(domain.ProductTable) error) (domain.ProductTable, error)
}

type CartRepository interface {
	GetCart(ctx context.Context, id string) (*domain.Cart, error)
	FindActiveCartByUser(ctx context.Context, userID string) (*domain.Cart, error)
	FindActiveCartBySession(ctx context.Context, sessionID string) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
	ListExpiredCartIDs(ctx context.Context, now time.Time, limit int) ([]string, error)
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	GetOrderByCartID(ctx context.Context, cartID string) (*domain.Order, error)
	GetOrdersByCustomerID(ctx context.Context, customerID string) ([]*domain.Order, error)
	MutateOrder(ctx context.Context, id string, fn func(*domain.Order) error) (*domain.Order, error)
}

type PaymentRepository interface {
	CreatePayment(ctx context.Context, payment *domain.Payment) error
	GetPayment(ctx context.Context, id string) (*domain.Payment, error)
	GetPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*domain.Payment, error)
	GetPaymentByOrderID(ctx context.Context, orderID string) (*domain.Payment, error)
	MutatePayment(ctx context.Context, id string, fn func(*domain.Payment) error) (*domain.Payment, error)
}

// EventLog records consumed events for at-most-once handling.
type EventLog interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// StockMirror is the Redis copy of the stock counters (implemented by redisclient.Client).
type StockMirror interface {
	ReserveStock(ctx context.Context, productID string, quantity int) (redisclient.StockResult, error)
	ReleaseStock(ctx context.Context, productID string, quantity int) (redisclient.StockResult, error)
	CommitStock(ctx context.Context, productID string, quantity int) (redisclient.StockResult, error)
	AddStock(ctx context.Context, productID string, quantity int) (redisclient.StockResult, error)
	InitInventory(ctx context.Context, productID string, stock, reserved int) error
	GetInventory(ctx context.Context, productID string) (stock, reserved int, err error)
}

// Locker provides short-lived named locks and idempotency keys (implemented by redisclient.Client).
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
	GetIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// CartCache maps a cart owner to its active cart id (implemented by redisclient.Client).
type CartCache interface {
	CacheCartID(ctx context.Context, owner, cartID string, ttl time.Duration) error
	CachedCartID(ctx context.Context, owner string) (string, bool, error)
	ForgetCartID(ctx context.Context, owner string) error
}

// Publisher emits domain events (implemented by broker.EventPublisher).
type Publisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error
	PublishLowStock(ctx context.Context, event *models.LowStockEvent) error
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
	PublishPaymentRefunded(ctx context.Context, event *models.PaymentRefundedEvent) error
	PublishCartCheckedOut(ctx context.Context, event *models.CartCheckedOutEvent) error
}

func newBaseEvent(eventType string, at time.Time) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: at,
	}
}

// withLock runs fn while holding key. It does not wait: a held lock yields ErrBusy.
func withLock(ctx context.Context, locker Locker, key string, ttl time.Duration, fn func() error) error {
	ok, err := locker.AcquireLock(ctx, key, ttl)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return ErrBusy
	}
	defer locker.ReleaseLock(context.WithoutCancel(ctx), key)

	return fn()
}
