package api

import (
	"net/http"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type confirmRequest struct {
	TransactionID string `json:"transaction_id" binding:"required"`
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number" binding:"required"`
	Carrier        string `json:"carrier"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) respondOrder(c *gin.Context, order *domain.Order, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order.Snapshot())
}

// checkout turns the caller's cart into an order
func (h *Handler) checkout(c *gin.Context) {
	var req service.CheckoutRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, err := h.orders.Checkout(c.Request.Context(), identityOf(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order.Snapshot())
}

func (h *Handler) listOrders(c *gin.Context) {
	id := identityOf(c)
	if id.IsAnonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in to list orders"})
		return
	}

	orders, err := h.orders.ListOrders(c.Request.Context(), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]domain.OrderSnapshot, 0, len(orders))
	for _, o := range orders {
		out = append(out, o.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	h.respondOrder(c, order, err)
}

func (h *Handler) confirmOrder(c *gin.Context) {
	var req confirmRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.Confirm(c.Request.Context(), c.Param("id"), req.TransactionID, actorOf(c))
	h.respondOrder(c, order, err)
}

func (h *Handler) shipOrder(c *gin.Context) {
	var req shipRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.Ship(c.Request.Context(), c.Param("id"), req.TrackingNumber, req.Carrier, actorOf(c))
	h.respondOrder(c, order, err)
}

func (h *Handler) deliverOrder(c *gin.Context) {
	order, err := h.orders.Deliver(c.Request.Context(), c.Param("id"), actorOf(c))
	h.respondOrder(c, order, err)
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req reasonRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.Cancel(c.Request.Context(), c.Param("id"), req.Reason, actorOf(c))
	h.respondOrder(c, order, err)
}

func (h *Handler) refundOrder(c *gin.Context) {
	var req reasonRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.Refund(c.Request.Context(), c.Param("id"), req.Reason, actorOf(c))
	h.respondOrder(c, order, err)
}

func (h *Handler) applyOrderDiscount(c *gin.Context) {
	var req discountRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.ApplyDiscount(c.Request.Context(), c.Param("id"), req.Code, req.Amount)
	h.respondOrder(c, order, err)
}

func (h *Handler) setOrderShipping(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.SetShippingAmount(c.Request.Context(), c.Param("id"), req.Amount)
	h.respondOrder(c, order, err)
}

func (h *Handler) setOrderTax(c *gin.Context) {
	var req amountRequest
	if !bindJSON(c, &req) {
		return
	}
	order, err := h.orders.SetTaxAmount(c.Request.Context(), c.Param("id"), req.Amount)
	h.respondOrder(c, order, err)
}
