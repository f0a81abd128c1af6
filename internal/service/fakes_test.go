package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/gateway"
	"commerce-engine/internal/models"
	"commerce-engine/internal/redisclient"
	"commerce-engine/internal/session"
	"commerce-engine/internal/util"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore keeps snapshots so every read hands out a fresh aggregate and a
// failed mutation leaves nothing behind.
type memStore struct {
	mu        sync.Mutex
	policy    domain.CartPolicy
	products  map[string]domain.ProductSnapshot
	carts     map[string]domain.CartSnapshot
	orders    map[string]domain.OrderSnapshot
	payments  map[string]domain.PaymentSnapshot
	processed map[string]string

	createOrderErr error
}

func newMemStore() *memStore {
	return &memStore{
		policy:    domain.DefaultCartPolicy(),
		products:  make(map[string]domain.ProductSnapshot),
		carts:     make(map[string]domain.CartSnapshot),
		orders:    make(map[string]domain.OrderSnapshot),
		payments:  make(map[string]domain.PaymentSnapshot),
		processed: make(map[string]string),
	}
}

func (m *memStore) CreateProduct(_ context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID()] = p.Snapshot()
	return nil
}

func (m *memStore) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.products[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "product", ID: id}
	}
	return domain.RestoreProduct(s)
}

func (m *memStore) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.products {
		if s.SKU == sku {
			return domain.RestoreProduct(s)
		}
	}
	return nil, &domain.NotFoundError{Kind: "product", ID: sku}
}

func (m *memStore) ListProducts(_ context.Context) ([]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.products))
	for id := range m.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*domain.Product, 0, len(ids))
	for _, id := range ids {
		p, err := domain.RestoreProduct(m.products[id])
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *memStore) GetProductsByIDs(_ context.Context, ids []string) (domain.ProductTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.productTable(ids)
}

func (m *memStore) productTable(ids []string) (domain.ProductTable, error) {
	table := make(domain.ProductTable, len(ids))
	for _, id := range ids {
		s, ok := m.products[id]
		if !ok {
			return nil, &domain.NotFoundError{Kind: "product", ID: id}
		}
		p, err := domain.RestoreProduct(s)
		if err != nil {
			return nil, err
		}
		table[id] = p
	}
	return table, nil
}

func (m *memStore) MutateProduct(ctx context.Context, id string, fn func(*domain.Product) error) (*domain.Product, error) {
	table, err := m.MutateProducts(ctx, []string{id}, func(t domain.ProductTable) error {
		return fn(t[id])
	})
	if err != nil {
		return nil, err
	}
	return table[id], nil
}

func (m *memStore) MutateProducts(_ context.Context, ids []string, fn func(domain.ProductTable) error) (domain.ProductTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table, err := m.productTable(ids)
	if err != nil {
		return nil, err
	}
	if err := fn(table); err != nil {
		return nil, err
	}
	for id, p := range table {
		m.products[id] = p.Snapshot()
	}
	return table, nil
}

func (m *memStore) GetCart(_ context.Context, id string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.carts[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "cart", ID: id}
	}
	return domain.RestoreCart(s, m.policy)
}

func (m *memStore) FindActiveCartByUser(_ context.Context, userID string) (*domain.Cart, error) {
	return m.findActive(func(s domain.CartSnapshot) bool { return s.UserID == userID })
}

func (m *memStore) FindActiveCartBySession(_ context.Context, sessionID string) (*domain.Cart, error) {
	return m.findActive(func(s domain.CartSnapshot) bool { return s.SessionID == sessionID })
}

func (m *memStore) findActive(match func(domain.CartSnapshot) bool) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *domain.CartSnapshot
	for _, s := range m.carts {
		if s.Status != domain.CartStatusActive || !match(s) {
			continue
		}
		if found == nil || s.CreatedAt.After(found.CreatedAt) {
			s := s
			found = &s
		}
	}
	if found == nil {
		return nil, nil
	}
	return domain.RestoreCart(*found, m.policy)
}

func (m *memStore) SaveCart(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[cart.ID()] = cart.Snapshot()
	return nil
}

func (m *memStore) ListExpiredCartIDs(_ context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, s := range m.carts {
		if s.Status == domain.CartStatusActive && s.ExpiresAt.Before(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *memStore) CreateOrder(_ context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createOrderErr != nil {
		return m.createOrderErr
	}
	m.orders[order.ID()] = order.Snapshot()
	return nil
}

func (m *memStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.orders[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "order", ID: id}
	}
	return domain.RestoreOrder(s)
}

func (m *memStore) GetOrderByCartID(_ context.Context, cartID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.orders {
		if s.CartID == cartID {
			return domain.RestoreOrder(s)
		}
	}
	return nil, nil
}

func (m *memStore) GetOrdersByCustomerID(_ context.Context, customerID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Order
	for _, s := range m.orders {
		if s.CustomerID != customerID {
			continue
		}
		o, err := domain.RestoreOrder(s)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderNumber() < out[j].OrderNumber() })
	return out, nil
}

func (m *memStore) MutateOrder(_ context.Context, id string, fn func(*domain.Order) error) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.orders[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "order", ID: id}
	}
	o, err := domain.RestoreOrder(s)
	if err != nil {
		return nil, err
	}
	if err := fn(o); err != nil {
		return nil, err
	}
	m.orders[id] = o.Snapshot()
	return o, nil
}

func (m *memStore) CreatePayment(_ context.Context, p *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID()] = p.Snapshot()
	return nil
}

func (m *memStore) GetPayment(_ context.Context, id string) (*domain.Payment, error) {
	return m.findPayment(id, func(s domain.PaymentSnapshot) bool { return s.ID == id })
}

func (m *memStore) GetPaymentByGatewayOrderID(_ context.Context, gatewayOrderID string) (*domain.Payment, error) {
	return m.findPayment(gatewayOrderID, func(s domain.PaymentSnapshot) bool { return s.GatewayOrderID == gatewayOrderID })
}

func (m *memStore) GetPaymentByOrderID(_ context.Context, orderID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *domain.PaymentSnapshot
	for _, s := range m.payments {
		if s.OrderID != orderID {
			continue
		}
		if latest == nil || !s.CreatedAt.Before(latest.CreatedAt) {
			s := s
			latest = &s
		}
	}
	if latest == nil {
		return nil, &domain.NotFoundError{Kind: "payment", ID: "order " + orderID}
	}
	return domain.RestorePayment(*latest)
}

func (m *memStore) findPayment(key string, match func(domain.PaymentSnapshot) bool) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.payments {
		if match(s) {
			return domain.RestorePayment(s)
		}
	}
	return nil, &domain.NotFoundError{Kind: "payment", ID: key}
}

func (m *memStore) MutatePayment(_ context.Context, id string, fn func(*domain.Payment) error) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.payments[id]
	if !ok {
		return nil, &domain.NotFoundError{Kind: "payment", ID: id}
	}
	p, err := domain.RestorePayment(s)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	m.payments[id] = p.Snapshot()
	return p, nil
}

func (m *memStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *memStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = eventType
	return nil
}

// recordingPublisher keeps every published event type in order.
type recordingPublisher struct {
	mu     sync.Mutex
	types  []string
	events []interface{}
}

func (p *recordingPublisher) record(eventType string, event interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.types = append(p.types, eventType)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.types...)
}

func (p *recordingPublisher) count(eventType string) int {
	n := 0
	for _, t := range p.eventTypes() {
		if t == eventType {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, e *models.OrderCreatedEvent) error {
	return p.record(e.EventType, e)
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType, e)
}

func (p *recordingPublisher) PublishLowStock(_ context.Context, e *models.LowStockEvent) error {
	return p.record(e.EventType, e)
}

func (p *recordingPublisher) PublishPaymentCaptured(_ context.Context, e *models.PaymentCapturedEvent) error {
	return p.record(e.EventType, e)
}

func (p *recordingPublisher) PublishPaymentFailed(_ context.Context, e *models.PaymentFailedEvent) error {
	return p.record(e.EventType, e)
}

func (p *recordingPublisher) PublishPaymentRefunded(_ context.Context, e *models.PaymentRefundedEvent) error {
	return p.record(e.EventType, e)
}

func (p *recordingPublisher) PublishCartCheckedOut(_ context.Context, e *models.CartCheckedOutEvent) error {
	return p.record(e.EventType, e)
}

const testLowStockThreshold = 3

// harness wires every service against memStore, a miniredis-backed client and the fake gateway.
type harness struct {
	store      *memStore
	redis      *redisclient.Client
	mr         *miniredis.Miniredis
	pub        *recordingPublisher
	clock      *domain.FixedClock
	gw         *gateway.Fake
	inventory  *InventoryService
	carts      *CartService
	orders     *OrderService
	payments   *PaymentService
	settlement *SettlementOrchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	util.SetLogger(zaptest.NewLogger(t))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	h := &harness{
		store: newMemStore(),
		redis: redisclient.NewClientWithRedis(rdb),
		mr:    mr,
		pub:   &recordingPublisher{},
		clock: &domain.FixedClock{T: testNow},
		gw:    gateway.NewFake("test-secret"),
	}
	h.inventory = NewInventoryService(h.store, h.redis, h.pub, h.clock, testLowStockThreshold)
	h.carts = NewCartService(h.store, h.store, h.redis, h.redis, h.clock, h.store.policy, time.Minute)
	h.orders = NewOrderService(h.store, h.store, h.store, h.store, h.carts, h.inventory,
		domain.NewSequenceGenerator("ORD-", 6, 1), h.redis, h.pub, h.clock,
		OrderSettings{
			Currency:        "USD",
			DefaultShipping: decimal.Zero,
			LockTTL:         time.Minute,
			IdempotencyTTL:  time.Hour,
		})
	h.payments = NewPaymentService(h.store, h.orders, h.gw, h.pub, h.clock)
	h.settlement = NewSettlementOrchestrator(h.store, h.payments)
	return h
}

// seedProduct creates an ACTIVE product priced base plus rate percent tax.
func (h *harness) seedProduct(t *testing.T, id string, stock int, base, rate string) {
	t.Helper()
	_, err := h.inventory.CreateProduct(context.Background(), &CreateProductRequest{
		ID:            id,
		SKU:           "SKU-" + id,
		Name:          "Product " + id,
		StockQuantity: stock,
		BaseAmount:    decimal.RequireFromString(base),
		TaxRate:       decimal.RequireFromString(rate),
		Status:        string(domain.ProductStatusActive),
	})
	require.NoError(t, err)
}

func (h *harness) product(t *testing.T, id string) *domain.Product {
	t.Helper()
	p, err := h.store.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (h *harness) mirror(t *testing.T, id string) (stock, reserved int) {
	t.Helper()
	stock, reserved, err := h.redis.GetInventory(context.Background(), id)
	require.NoError(t, err)
	return stock, reserved
}

// placeOrder checks out a cart holding qty of productID for user.
func (h *harness) placeOrder(t *testing.T, user, productID string, qty int) *domain.Order {
	t.Helper()
	ctx := context.Background()
	id := session.Identity{UserID: user}
	_, err := h.carts.AddItem(ctx, id, productID, qty)
	require.NoError(t, err)
	order, err := h.orders.Checkout(ctx, id, &CheckoutRequest{})
	require.NoError(t, err)
	return order
}
