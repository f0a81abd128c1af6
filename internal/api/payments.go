package api

import (
	"net/http"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type createPaymentRequest struct {
	OrderID string `json:"order_id" binding:"required"`
}

func (h *Handler) respondPayment(c *gin.Context, payment *domain.Payment, err error) {
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, payment.Snapshot())
}

func (h *Handler) createPayment(c *gin.Context) {
	var req createPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	id := identityOf(c)
	if id.IsAnonymous() {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Sign in to pay"})
		return
	}

	resp, err := h.payments.CreatePayment(c.Request.Context(), id.UserID, req.OrderID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) cancelPayment(c *gin.Context) {
	payment, err := h.payments.CancelPayment(c.Request.Context(), identityOf(c).UserID, c.Param("id"))
	h.respondPayment(c, payment, err)
}

func (h *Handler) getPayment(c *gin.Context) {
	payment, err := h.payments.GetPayment(c.Request.Context(), c.Param("id"))
	h.respondPayment(c, payment, err)
}

func (h *Handler) refundPayment(c *gin.Context) {
	var req service.RefundRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	payment, err := h.payments.RefundPayment(c.Request.Context(), c.Param("id"), &req, actorOf(c))
	h.respondPayment(c, payment, err)
}
