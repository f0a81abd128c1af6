package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"
	"commerce-engine/internal/session"
	"commerce-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// OrderSettings are the business knobs used when turning carts into orders.
type OrderSettings struct {
	Currency        string
	DefaultShipping decimal.Decimal
	LockTTL         time.Duration
	IdempotencyTTL  time.Duration
}

// OrderService handles order business logic
type OrderService struct {
	orders    OrderRepository
	carts     CartRepository
	products  ProductRepository
	payments  PaymentRepository
	cartSvc   *CartService
	inventory *InventoryService
	numbers   domain.OrderNumberGenerator
	locker    Locker
	publisher Publisher
	clock     domain.Clock
	ids       domain.IDGenerator
	settings  OrderSettings
	logger    *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderRepository,
	carts CartRepository,
	products ProductRepository,
	payments PaymentRepository,
	cartSvc *CartService,
	inventory *InventoryService,
	numbers domain.OrderNumberGenerator,
	locker Locker,
	publisher Publisher,
	clock domain.Clock,
	settings OrderSettings,
) *OrderService {
	return &OrderService{
		orders:    orders,
		carts:     carts,
		products:  products,
		payments:  payments,
		cartSvc:   cartSvc,
		inventory: inventory,
		numbers:   numbers,
		locker:    locker,
		publisher: publisher,
		clock:     clock,
		ids:       domain.UUIDGenerator(),
		settings:  settings,
		logger:    util.GetLogger(),
	}
}

// CheckoutRequest represents a request to check out the caller's cart
type CheckoutRequest struct {
	IdempotencyKey    string           `json:"idempotency_key,omitempty"`
	BillingAddressID  string           `json:"billing_address_id"`
	ShippingAddressID string           `json:"shipping_address_id"`
	ShippingAmount    *decimal.Decimal `json:"shipping_amount,omitempty"`
}

// checkoutKey scopes a client idempotency key to the user sending it.
func checkoutKey(userID, key string) string {
	return "checkout:" + userID + ":" + key
}

// Checkout closes the caller's cart and turns it into an ORDER_RAISED order.
// Stock for every line is reserved before the order is written; if the order
// cannot be written the reservation is released again. Repeating a checkout
// with the same idempotency key, or for a cart that already has an order,
// returns the existing order.
func (s *OrderService) Checkout(ctx context.Context, id session.Identity, req *CheckoutRequest) (*domain.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Checkout")
	defer span.End()

	if id.IsAnonymous() {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "sign in to check out"}
	}

	if req.IdempotencyKey != "" {
		orderID, found, err := s.locker.GetIdempotencyKey(ctx, checkoutKey(id.UserID, req.IdempotencyKey))
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if found {
			s.logger.Info("Duplicate checkout request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.String("order_id", orderID))
			return s.orders.GetOrder(ctx, orderID)
		}
	}

	current, err := s.cartSvc.CurrentCart(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("cart_id", current.ID()))

	var (
		order   *domain.Order
		cart    *domain.Cart
		created bool
	)
	err = withLock(ctx, s.locker, cartLockKey(current.ID()), s.settings.LockTTL, func() error {
		existing, err := s.orders.GetOrderByCartID(ctx, current.ID())
		if err != nil {
			return fmt.Errorf("failed to check existing order: %w", err)
		}
		if existing != nil {
			order = existing
			return nil
		}

		cart, err = s.carts.GetCart(ctx, current.ID())
		if err != nil {
			return err
		}
		order, err = s.placeOrder(ctx, id, cart, req)
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		util.CheckoutsFailed.WithLabelValues(failureReason(err)).Inc()
		util.RecordError(ctx, err)
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if err := s.locker.SetIdempotencyKey(ctx, checkoutKey(id.UserID, req.IdempotencyKey), order.ID(), s.settings.IdempotencyTTL); err != nil {
			s.logger.Error("Failed to store idempotency key",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Error(err))
		}
	}

	if !created {
		return order, nil
	}

	util.CheckoutsTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID()),
		zap.String("order_number", order.OrderNumber()),
		zap.String("cart_id", cart.ID()),
		zap.String("total", order.TotalAmount().StringFixed(domain.MoneyPlaces)))

	s.publishCreated(ctx, order)
	return order, nil
}

// placeOrder runs inside the cart lock.
func (s *OrderService) placeOrder(ctx context.Context, id session.Identity, cart *domain.Cart, req *CheckoutRequest) (*domain.Order, error) {
	lines := cartLines(cart)
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.ProductID)
	}

	now := s.clock.Now()
	products := domain.NewProductTable()
	if len(ids) > 0 {
		var err error
		if products, err = s.products.GetProductsByIDs(ctx, ids); err != nil {
			return nil, err
		}
	}
	if err := cart.Checkout(products, now); err != nil {
		return nil, err
	}

	reserved, err := s.inventory.ReserveLines(ctx, lines)
	if err != nil {
		return nil, err
	}

	order, err := s.createOrder(ctx, id, cart, reserved, req, now)
	if err != nil {
		s.compensate(ctx, cart.ID(), lines)
		return nil, err
	}

	if err := s.carts.SaveCart(ctx, cart); err != nil {
		// The order exists; a retry finds it by cart id.
		s.logger.Error("Failed to close cart after checkout",
			zap.String("cart_id", cart.ID()),
			zap.String("order_id", order.ID()),
			zap.Error(err))
	}
	return order, nil
}

func (s *OrderService) createOrder(
	ctx context.Context,
	id session.Identity,
	cart *domain.Cart,
	products domain.ProductTable,
	req *CheckoutRequest,
	now time.Time,
) (*domain.Order, error) {
	number, err := s.numbers.NextOrderNumber(ctx)
	if err != nil {
		return nil, err
	}

	shipping := s.settings.DefaultShipping
	if req.ShippingAmount != nil {
		shipping = *req.ShippingAmount
	}

	order, err := domain.NewOrderFromCart(domain.NewOrderParams{
		ID:                s.ids.NewID(),
		OrderNumber:       number,
		CustomerID:        id.UserID,
		Currency:          s.settings.Currency,
		BillingAddressID:  req.BillingAddressID,
		ShippingAddressID: req.ShippingAddressID,
		ShippingAmount:    shipping,
	}, cart, products, domain.Audit{At: now, By: id.UserID})
	if err != nil {
		return nil, err
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return order, nil
}

// compensate gives back stock reserved for a checkout that did not produce an order.
func (s *OrderService) compensate(ctx context.Context, cartID string, lines []Line) {
	s.logger.Warn("Compensating stock reservation", zap.String("cart_id", cartID))

	if _, err := s.inventory.ReleaseLines(context.WithoutCancel(ctx), lines); err != nil {
		s.logger.Error("Failed to release stock, reservation left in place",
			zap.String("cart_id", cartID),
			zap.Error(err))
	}
}

func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	return s.orders.GetOrder(ctx, orderID)
}

func (s *OrderService) ListOrders(ctx context.Context, customerID string) ([]*domain.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListOrders")
	defer span.End()

	return s.orders.GetOrdersByCustomerID(ctx, customerID)
}

// Confirm marks an ORDER_RAISED order paid outside the gateway flow.
func (s *OrderService) Confirm(ctx context.Context, orderID, transactionID, actor string) (*domain.Order, error) {
	return s.transition(ctx, orderID, models.EventTypeOrderPaid, "", func(o *domain.Order, audit domain.Audit) error {
		audit.By = actor
		return o.Confirm(transactionID, audit)
	})
}

// ProcessPayment records a captured gateway payment on the order. The order
// total must equal the amount paid.
func (s *OrderService) ProcessPayment(ctx context.Context, orderID, transactionID, paymentMethod string, paid decimal.Decimal, actor string) (*domain.Order, error) {
	return s.transition(ctx, orderID, models.EventTypeOrderPaid, "", func(o *domain.Order, audit domain.Audit) error {
		if !o.TotalAmount().Equal(paid) {
			return &domain.ValidationError{
				Field:  "amount",
				Reason: fmt.Sprintf("paid %s but order total is %s", paid.StringFixed(2), o.TotalAmount().StringFixed(2)),
			}
		}
		audit.By = actor
		return o.ProcessPayment(transactionID, paymentMethod, audit)
	})
}

// Ship hands the order to a carrier and consumes its reserved stock.
func (s *OrderService) Ship(ctx context.Context, orderID, trackingNumber, carrier, actor string) (*domain.Order, error) {
	order, err := s.transition(ctx, orderID, models.EventTypeOrderShipped, "", func(o *domain.Order, audit domain.Audit) error {
		audit.By = actor
		return o.Ship(trackingNumber, carrier, audit)
	})
	if err != nil {
		return nil, err
	}
	s.fulfilStock(ctx, order)
	return order, nil
}

func (s *OrderService) Deliver(ctx context.Context, orderID, actor string) (*domain.Order, error) {
	var wasFulfilled bool
	order, err := s.transition(ctx, orderID, models.EventTypeOrderDelivered, "", func(o *domain.Order, audit domain.Audit) error {
		wasFulfilled = o.StockFulfilled()
		audit.By = actor
		return o.Deliver(audit)
	})
	if err != nil {
		return nil, err
	}
	if !wasFulfilled {
		s.fulfilStock(ctx, order)
	}
	return order, nil
}

// Cancel cancels the order and releases its reservation. An order whose
// gateway payment was captured is closed by refunding the payment instead.
func (s *OrderService) Cancel(ctx context.Context, orderID, reason, actor string) (*domain.Order, error) {
	if err := s.requireNoCapturedPayment(ctx, orderID, "cancel"); err != nil {
		return nil, err
	}
	order, err := s.transition(ctx, orderID, models.EventTypeOrderCancelled, reason, func(o *domain.Order, audit domain.Audit) error {
		audit.By = actor
		return o.Cancel(reason, audit)
	})
	if err != nil {
		return nil, err
	}
	s.releaseStock(ctx, order)
	return order, nil
}

// Refund closes a paid order. Stock is released only if it was never shipped.
// Orders paid through the gateway are refunded with PaymentService.RefundPayment,
// which calls back here once the money has been returned.
func (s *OrderService) Refund(ctx context.Context, orderID, reason, actor string) (*domain.Order, error) {
	if err := s.requireNoCapturedPayment(ctx, orderID, "refund"); err != nil {
		return nil, err
	}
	order, err := s.transition(ctx, orderID, models.EventTypeOrderRefunded, reason, func(o *domain.Order, audit domain.Audit) error {
		audit.By = actor
		return o.Refund(reason, audit)
	})
	if err != nil {
		return nil, err
	}
	s.releaseStock(ctx, order)
	return order, nil
}

func (s *OrderService) ApplyDiscount(ctx context.Context, orderID, code string, amount decimal.Decimal) (*domain.Order, error) {
	return s.adjust(ctx, "ApplyDiscount", orderID, func(o *domain.Order, now time.Time) error {
		return o.ApplyDiscount(code, amount, now)
	})
}

func (s *OrderService) SetShippingAmount(ctx context.Context, orderID string, amount decimal.Decimal) (*domain.Order, error) {
	return s.adjust(ctx, "SetShippingAmount", orderID, func(o *domain.Order, now time.Time) error {
		return o.SetShippingAmount(amount, now)
	})
}

// SetTaxAmount overrides the tax derived from the items.
func (s *OrderService) SetTaxAmount(ctx context.Context, orderID string, amount decimal.Decimal) (*domain.Order, error) {
	return s.adjust(ctx, "SetTaxAmount", orderID, func(o *domain.Order, now time.Time) error {
		return o.SetTaxAmount(amount, now)
	})
}

func (s *OrderService) adjust(ctx context.Context, op, orderID string, fn func(*domain.Order, time.Time) error) (*domain.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService."+op, attribute.String("order_id", orderID))
	defer span.End()

	var before decimal.Decimal
	order, err := s.orders.MutateOrder(ctx, orderID, func(o *domain.Order) error {
		before = o.TotalAmount()
		return fn(o, s.clock.Now())
	})
	if err != nil {
		util.RecordError(ctx, err)
		return nil, err
	}

	// An open payment was created for the old total.
	if !before.Equal(order.TotalAmount()) {
		cancelled, err := cancelOpenPayment(ctx, s.payments, s.clock, orderID)
		if err != nil {
			s.logger.Error("Failed to cancel open payment after total changed",
				zap.String("order_id", orderID),
				zap.Error(err))
		} else if cancelled != nil {
			s.logger.Info("Open payment cancelled after total changed",
				zap.String("order_id", orderID),
				zap.String("payment_id", cancelled.ID()),
				zap.String("old_total", before.StringFixed(2)),
				zap.String("new_total", order.TotalAmount().StringFixed(2)))
		}
	}
	return order, nil
}

// requireNoCapturedPayment rejects op while the order holds captured gateway money.
func (s *OrderService) requireNoCapturedPayment(ctx context.Context, orderID, op string) error {
	payment, err := s.payments.GetPaymentByOrderID(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load payment: %w", err)
	}
	switch payment.Status() {
	case domain.PaymentStatusPaid, domain.PaymentStatusPartiallyRefunded:
		return &domain.StateError{
			Aggregate: "payment",
			Status:    string(payment.Status()),
			Operation: "order " + op + " (refund payment " + payment.ID() + " instead)",
		}
	}
	return nil
}

// transition applies a status change under the order's row lock and publishes it.
func (s *OrderService) transition(
	ctx context.Context,
	orderID, eventType, reason string,
	fn func(*domain.Order, domain.Audit) error,
) (*domain.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.transition",
		attribute.String("order_id", orderID),
		attribute.String("event_type", eventType))
	defer span.End()

	var from domain.OrderStatus
	order, err := s.orders.MutateOrder(ctx, orderID, func(o *domain.Order) error {
		from = o.Status()
		return fn(o, domain.Audit{At: s.clock.Now()})
	})
	if err != nil {
		util.RecordError(ctx, err)
		return nil, err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(order.Status())).Inc()
	s.logger.Info("Order status changed",
		zap.String("order_id", order.ID()),
		zap.String("from", string(from)),
		zap.String("to", string(order.Status())))

	event := &models.OrderStatusChangedEvent{
		BaseEvent:  newBaseEvent(eventType, s.clock.Now()),
		OrderID:    order.ID(),
		FromStatus: string(from),
		ToStatus:   string(order.Status()),
		Reason:     reason,
	}
	if err := s.publisher.PublishOrderStatusChanged(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderStatusChanged event",
			zap.String("order_id", order.ID()),
			zap.Error(err))
	}
	return order, nil
}

func (s *OrderService) fulfilStock(ctx context.Context, order *domain.Order) {
	if _, err := s.inventory.FulfillLines(ctx, orderLines(order)); err != nil {
		s.logger.Error("Failed to fulfil stock, reservation left in place",
			zap.String("order_id", order.ID()),
			zap.Error(err))
	}
}

func (s *OrderService) releaseStock(ctx context.Context, order *domain.Order) {
	if order.StockFulfilled() {
		return
	}
	if _, err := s.inventory.ReleaseLines(ctx, orderLines(order)); err != nil {
		s.logger.Error("Failed to release stock, reservation left in place",
			zap.String("order_id", order.ID()),
			zap.Error(err))
	}
}

func (s *OrderService) publishCreated(ctx context.Context, order *domain.Order) {
	now := s.clock.Now()
	items := order.Items()
	data := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		data = append(data, models.OrderItemData{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitGrossPrice(),
		})
	}

	created := &models.OrderCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeOrderCreated, now),
		OrderID:     order.ID(),
		OrderNumber: order.OrderNumber(),
		CustomerID:  order.CustomerID(),
		CartID:      order.CartID(),
		TotalAmount: order.TotalAmount(),
		Currency:    order.Currency(),
		Items:       data,
	}
	if err := s.publisher.PublishOrderCreated(ctx, created); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}

	checkedOut := &models.CartCheckedOutEvent{
		BaseEvent: newBaseEvent(models.EventTypeCartCheckedOut, now),
		CartID:    order.CartID(),
		OrderID:   order.ID(),
	}
	if err := s.publisher.PublishCartCheckedOut(ctx, checkedOut); err != nil {
		s.logger.Error("Failed to publish CartCheckedOut event", zap.Error(err))
	}
}

func cartLines(cart *domain.Cart) []Line {
	items := cart.Items()
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}

func orderLines(order *domain.Order) []Line {
	items := order.Items()
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		lines = append(lines, Line{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return lines
}
