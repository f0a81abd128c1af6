package api

import (
	"net/http"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type addStockRequest struct {
	Quantity int `json:"quantity" binding:"required,gt=0"`
}

// pricingRequest changes any of base amount, tax rate and original price.
type pricingRequest struct {
	BaseAmount    *decimal.Decimal    `json:"base_amount,omitempty"`
	TaxRate       *decimal.Decimal    `json:"tax_rate,omitempty"`
	OriginalPrice *decimal.NullDecimal `json:"original_price,omitempty"`
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (h *Handler) createProduct(c *gin.Context) {
	var req service.CreateProductRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.inventory.CreateProduct(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, product.Snapshot())
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.inventory.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}

	out := make([]domain.ProductSnapshot, 0, len(products))
	for _, p := range products {
		out = append(out, p.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"products": out})
}

func (h *Handler) getProduct(c *gin.Context) {
	product, err := h.inventory.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product.Snapshot())
}

func (h *Handler) getAvailability(c *gin.Context) {
	productID := c.Param("id")
	available, err := h.inventory.Availability(c.Request.Context(), productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"product_id": productID,
		"available":  available,
	})
}

func (h *Handler) addStock(c *gin.Context) {
	var req addStockRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.inventory.AddStock(c.Request.Context(), c.Param("id"), req.Quantity)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product.Snapshot())
}

func (h *Handler) updatePricing(c *gin.Context) {
	var req pricingRequest
	if !bindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	productID := c.Param("id")

	product, err := h.inventory.GetProduct(ctx, productID)
	if err == nil && req.BaseAmount != nil {
		product, err = h.inventory.SetBaseAmount(ctx, productID, *req.BaseAmount)
	}
	if err == nil && req.TaxRate != nil {
		product, err = h.inventory.SetTaxRate(ctx, productID, *req.TaxRate)
	}
	if err == nil && req.OriginalPrice != nil {
		product, err = h.inventory.SetOriginalPrice(ctx, productID, *req.OriginalPrice)
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product.Snapshot())
}

func (h *Handler) updateProductStatus(c *gin.Context) {
	var req statusRequest
	if !bindJSON(c, &req) {
		return
	}

	product, err := h.inventory.SetStatus(c.Request.Context(), c.Param("id"), domain.ProductStatus(req.Status))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, product.Snapshot())
}
