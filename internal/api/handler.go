package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/gateway"
	"commerce-engine/internal/models"
	"commerce-engine/internal/service"
	"commerce-engine/internal/session"
	"commerce-engine/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	maxWebhookBytes = 65536
	identityKey     = "identity"
	operatorActor   = "operator"
)

type Inventory interface {
	CreateProduct(ctx context.Context, req *service.CreateProductRequest) (*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]*domain.Product, error)
	Availability(ctx context.Context, productID string) (int, error)
	AddStock(ctx context.Context, productID string, qty int) (*domain.Product, error)
	SetBaseAmount(ctx context.Context, productID string, base decimal.Decimal) (*domain.Product, error)
	SetTaxRate(ctx context.Context, productID string, rate decimal.Decimal) (*domain.Product, error)
	SetOriginalPrice(ctx context.Context, productID string, original decimal.NullDecimal) (*domain.Product, error)
	SetStatus(ctx context.Context, productID string, status domain.ProductStatus) (*domain.Product, error)
}

type Carts interface {
	CurrentCart(ctx context.Context, id session.Identity) (*domain.Cart, error)
	AddItem(ctx context.Context, id session.Identity, productID string, qty int) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, id session.Identity, productID string, qty int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, id session.Identity, productID string) (*domain.Cart, error)
	Clear(ctx context.Context, id session.Identity) (*domain.Cart, error)
	ApplyDiscount(ctx context.Context, id session.Identity, code string, amount decimal.Decimal) (*domain.Cart, error)
	ExtendExpiry(ctx context.Context, id session.Identity, days int) (*domain.Cart, error)
	AttachSessionCart(ctx context.Context, id session.Identity) (*domain.Cart, error)
}

type Orders interface {
	Checkout(ctx context.Context, id session.Identity, req *service.CheckoutRequest) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
	ListOrders(ctx context.Context, customerID string) ([]*domain.Order, error)
	Confirm(ctx context.Context, orderID, transactionID, actor string) (*domain.Order, error)
	Ship(ctx context.Context, orderID, trackingNumber, carrier, actor string) (*domain.Order, error)
	Deliver(ctx context.Context, orderID, actor string) (*domain.Order, error)
	Cancel(ctx context.Context, orderID, reason, actor string) (*domain.Order, error)
	Refund(ctx context.Context, orderID, reason, actor string) (*domain.Order, error)
	ApplyDiscount(ctx context.Context, orderID, code string, amount decimal.Decimal) (*domain.Order, error)
	SetShippingAmount(ctx context.Context, orderID string, amount decimal.Decimal) (*domain.Order, error)
	SetTaxAmount(ctx context.Context, orderID string, amount decimal.Decimal) (*domain.Order, error)
}

type Payments interface {
	CreatePayment(ctx context.Context, userID, orderID string) (*service.CreatePaymentResponse, error)
	CancelPayment(ctx context.Context, userID, paymentID string) (*domain.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)
	RefundPayment(ctx context.Context, paymentID string, req *service.RefundRequest, actor string) (*domain.Payment, error)
	VerifyCallback(payload []byte, signature string) (*gateway.Outcome, error)
}

// CallbackRelay forwards verified gateway outcomes to the settlement topic.
type CallbackRelay interface {
	PublishPaymentCaptured(ctx context.Context, event *models.PaymentCapturedEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Deps is everything the HTTP layer talks to.
type Deps struct {
	Inventory Inventory
	Carts     Carts
	Orders    Orders
	Payments  Payments
	Relay     CallbackRelay
	Sessions  *session.Resolver
	Checks    map[string]ReadinessCheck
}

// Handler contains HTTP handlers
type Handler struct {
	inventory Inventory
	carts     Carts
	orders    Orders
	payments  Payments
	relay     CallbackRelay
	sessions  *session.Resolver
	checks    map[string]ReadinessCheck
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(deps Deps) *Handler {
	return &Handler{
		inventory: deps.Inventory,
		carts:     deps.Carts,
		orders:    deps.Orders,
		payments:  deps.Payments,
		relay:     deps.Relay,
		sessions:  deps.Sessions,
		checks:    deps.Checks,
		logger:    util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		products := v1.Group("/products")
		products.POST("", h.createProduct)
		products.GET("", h.listProducts)
		products.GET("/:id", h.getProduct)
		products.GET("/:id/availability", h.getAvailability)
		products.POST("/:id/stock", h.addStock)
		products.PUT("/:id/pricing", h.updatePricing)
		products.PUT("/:id/status", h.updateProductStatus)

		shopper := v1.Group("", h.identify())
		shopper.GET("/cart", h.getCart)
		shopper.POST("/cart/items", h.addCartItem)
		shopper.PUT("/cart/items/:productId", h.updateCartItem)
		shopper.DELETE("/cart/items/:productId", h.removeCartItem)
		shopper.DELETE("/cart", h.clearCart)
		shopper.POST("/cart/discount", h.applyCartDiscount)
		shopper.POST("/cart/extend", h.extendCart)
		shopper.POST("/cart/attach", h.attachCart)
		shopper.POST("/checkout", h.checkout)
		shopper.GET("/orders", h.listOrders)
		shopper.POST("/payments", h.createPayment)
		shopper.POST("/payments/:id/cancel", h.cancelPayment)

		orders := v1.Group("/orders")
		orders.GET("/:id", h.getOrder)
		orders.POST("/:id/confirm", h.confirmOrder)
		orders.POST("/:id/ship", h.shipOrder)
		orders.POST("/:id/deliver", h.deliverOrder)
		orders.POST("/:id/cancel", h.cancelOrder)
		orders.POST("/:id/refund", h.refundOrder)
		orders.POST("/:id/discount", h.applyOrderDiscount)
		orders.PUT("/:id/shipping", h.setOrderShipping)
		orders.PUT("/:id/tax", h.setOrderTax)

		v1.GET("/payments/:id", h.getPayment)
		v1.POST("/payments/:id/refund", h.refundPayment)

		v1.POST("/webhooks/payment", h.paymentWebhook)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck runs every registered dependency check
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// identify resolves the caller's identity, issuing an anonymous session cookie if needed.
func (h *Handler) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := h.sessions.Resolve(c.Writer, c.Request)
		if err != nil {
			h.logger.Error("Failed to resolve session", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve session"})
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

func identityOf(c *gin.Context) session.Identity {
	id, _ := c.MustGet(identityKey).(session.Identity)
	return id
}

// actorOf names who performs an operator action in order history.
func actorOf(c *gin.Context) string {
	if user := c.GetHeader(session.HeaderUserID); user != "" {
		return user
	}
	return operatorActor
}

func bindJSON(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return false
	}
	return true
}

// writeError maps engine errors onto HTTP status codes.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{
		"error":   http.StatusText(status),
		"details": err.Error(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, gateway.ErrInvalidSignature):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidState),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrProductUnavailable),
		errors.Is(err, domain.ErrInvalidRelease),
		errors.Is(err, domain.ErrInvalidFulfill),
		errors.Is(err, service.ErrBusy):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// paymentWebhook verifies a gateway callback and relays it to the settlement
// worker. A non-2xx answer makes the gateway retry.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Payload too large"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	if signature == "" {
		signature = c.GetHeader("X-Signature")
	}

	outcome, err := h.payments.VerifyCallback(payload, signature)
	if err != nil {
		h.logger.Warn("Rejected payment webhook", zap.Error(err))
		h.writeError(c, err)
		return
	}

	if err := h.relayOutcome(c.Request.Context(), outcome); err != nil {
		h.logger.Error("Failed to relay payment webhook",
			zap.String("event_id", outcome.EventID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept webhook"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) relayOutcome(ctx context.Context, outcome *gateway.Outcome) error {
	eventID := outcome.EventID
	if eventID == "" {
		eventID = uuid.NewString()
	}

	switch outcome.Kind {
	case gateway.OutcomeCaptured:
		return h.relay.PublishPaymentCaptured(ctx, &models.PaymentCapturedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   eventID,
				EventType: models.EventTypePaymentCaptured,
				Timestamp: time.Now().UTC(),
			},
			GatewayOrderID:   outcome.GatewayOrderID,
			GatewayPaymentID: outcome.GatewayPaymentID,
			Signature:        outcome.Signature,
			PaymentMethod:    outcome.PaymentMethod,
			Amount:           outcome.Amount,
		})
	case gateway.OutcomeFailed:
		return h.relay.PublishPaymentFailed(ctx, &models.PaymentFailedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   eventID,
				EventType: models.EventTypePaymentFailed,
				Timestamp: time.Now().UTC(),
			},
			GatewayOrderID: outcome.GatewayOrderID,
			Code:           outcome.Code,
			Description:    outcome.Description,
		})
	default:
		h.logger.Debug("Ignoring gateway event", zap.String("event_id", eventID))
		return nil
	}
}
