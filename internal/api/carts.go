package api

import (
	"net/http"

	"commerce-engine/internal/domain"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type cartItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Quantity  int    `json:"quantity" binding:"required"`
}

type quantityRequest struct {
	Quantity int `json:"quantity"`
}

type discountRequest struct {
	Code   string          `json:"code" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type extendRequest struct {
	Days int `json:"days" binding:"required"`
}

func (h *Handler) respondCart(c *gin.Context, cart *domain.Cart, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, cart.Snapshot())
}

func (h *Handler) getCart(c *gin.Context) {
	cart, err := h.carts.CurrentCart(c.Request.Context(), identityOf(c))
	h.respondCart(c, cart, err)
}

func (h *Handler) addCartItem(c *gin.Context) {
	var req cartItemRequest
	if !bindJSON(c, &req) {
		return
	}
	cart, err := h.carts.AddItem(c.Request.Context(), identityOf(c), req.ProductID, req.Quantity)
	h.respondCart(c, cart, err)
}

func (h *Handler) updateCartItem(c *gin.Context) {
	var req quantityRequest
	if !bindJSON(c, &req) {
		return
	}
	cart, err := h.carts.UpdateItemQuantity(c.Request.Context(), identityOf(c), c.Param("productId"), req.Quantity)
	h.respondCart(c, cart, err)
}

func (h *Handler) removeCartItem(c *gin.Context) {
	cart, err := h.carts.RemoveItem(c.Request.Context(), identityOf(c), c.Param("productId"))
	h.respondCart(c, cart, err)
}

func (h *Handler) clearCart(c *gin.Context) {
	cart, err := h.carts.Clear(c.Request.Context(), identityOf(c))
	h.respondCart(c, cart, err)
}

func (h *Handler) applyCartDiscount(c *gin.Context) {
	var req discountRequest
	if !bindJSON(c, &req) {
		return
	}
	cart, err := h.carts.ApplyDiscount(c.Request.Context(), identityOf(c), req.Code, req.Amount)
	h.respondCart(c, cart, err)
}

func (h *Handler) extendCart(c *gin.Context) {
	var req extendRequest
	if !bindJSON(c, &req) {
		return
	}
	cart, err := h.carts.ExtendExpiry(c.Request.Context(), identityOf(c), req.Days)
	h.respondCart(c, cart, err)
}

// attachCart runs after sign-in: the guest cart moves to the user and the
// anonymous session id is dropped.
func (h *Handler) attachCart(c *gin.Context) {
	cart, err := h.carts.AttachSessionCart(c.Request.Context(), identityOf(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.sessions.Forget(c.Writer, c.Request); err != nil {
		h.logger.Warn("Failed to drop session id after attach", zap.Error(err))
	}
	c.JSON(http.StatusOK, cart.Snapshot())
}
