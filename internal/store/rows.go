package store

import (
	"commerce-engine/internal/domain"
	"commerce-engine/internal/models"
)

func productToRow(p *domain.Product) models.Product {
	s := p.Snapshot()
	return models.Product{
		ID:               s.ID,
		SKU:              s.SKU,
		Name:             s.Name,
		Description:      s.Description,
		CategoryName:     s.CategoryName,
		BrandName:        s.BrandName,
		UnitWeight:       s.UnitWeight,
		StockQuantity:    s.StockQuantity,
		ReservedQuantity: s.ReservedQuantity,
		BaseAmount:       s.Pricing.BaseAmount,
		TaxRate:          s.Pricing.TaxRate,
		TaxAmount:        s.Pricing.TaxAmount,
		Price:            s.Pricing.Price,
		OriginalPrice:    s.OriginalPrice,
		Status:           string(s.Status),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// productFromRow rebuilds a product; tax and price are recomputed from base and rate.
func productFromRow(row models.Product) (*domain.Product, error) {
	return domain.RestoreProduct(domain.ProductSnapshot{
		ID:               row.ID,
		SKU:              row.SKU,
		Name:             row.Name,
		Description:      row.Description,
		CategoryName:     row.CategoryName,
		BrandName:        row.BrandName,
		UnitWeight:       row.UnitWeight,
		StockQuantity:    row.StockQuantity,
		ReservedQuantity: row.ReservedQuantity,
		Pricing:          domain.Pricing{BaseAmount: row.BaseAmount, TaxRate: row.TaxRate},
		OriginalPrice:    row.OriginalPrice,
		Status:           domain.ProductStatus(row.Status),
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	})
}

func cartToRows(c *domain.Cart) (models.Cart, []models.CartItem) {
	s := c.Snapshot()
	row := models.Cart{
		ID:             s.ID,
		UserID:         s.UserID,
		SessionID:      s.SessionID,
		DiscountCode:   s.DiscountCode,
		DiscountAmount: s.DiscountAmount,
		Status:         string(s.Status),
		ExpiresAt:      s.ExpiresAt,
		CheckedOutAt:   s.CheckedOutAt,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}

	items := make([]models.CartItem, 0, len(s.Items))
	for i, item := range s.Items {
		items = append(items, models.CartItem{
			CartID:     s.ID,
			Position:   i,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			BaseAmount: item.UnitPricing.BaseAmount,
			TaxRate:    item.UnitPricing.TaxRate,
			TaxAmount:  item.UnitPricing.TaxAmount,
			Price:      item.UnitPricing.Price,
			UnitWeight: item.UnitWeight,
			AddedAt:    item.AddedAt,
		})
	}
	return row, items
}

func cartFromRows(row models.Cart, itemRows []models.CartItem, policy domain.CartPolicy) (*domain.Cart, error) {
	items := make([]domain.CartItem, 0, len(itemRows))
	for _, r := range itemRows {
		items = append(items, domain.CartItem{
			ProductID: r.ProductID,
			Quantity:  r.Quantity,
			UnitPricing: domain.Pricing{
				BaseAmount: r.BaseAmount,
				TaxRate:    r.TaxRate,
				TaxAmount:  r.TaxAmount,
				Price:      r.Price,
			},
			UnitWeight: r.UnitWeight,
			AddedAt:    r.AddedAt,
		})
	}

	return domain.RestoreCart(domain.CartSnapshot{
		ID:             row.ID,
		UserID:         row.UserID,
		SessionID:      row.SessionID,
		Items:          items,
		DiscountCode:   row.DiscountCode,
		DiscountAmount: row.DiscountAmount,
		Status:         domain.CartStatus(row.Status),
		ExpiresAt:      row.ExpiresAt,
		CheckedOutAt:   row.CheckedOutAt,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, policy)
}

func orderToRow(o *domain.Order) models.Order {
	s := o.Snapshot()
	return models.Order{
		ID:                s.ID,
		OrderNumber:       s.OrderNumber,
		CustomerID:        s.CustomerID,
		CartID:            s.CartID,
		Status:            string(s.Status),
		Currency:          s.Currency,
		Subtotal:          s.Subtotal,
		DiscountCode:      s.DiscountCode,
		DiscountAmount:    s.DiscountAmount,
		TaxAmount:         s.TaxAmount,
		TaxOverridden:     s.TaxOverridden,
		ShippingAmount:    s.ShippingAmount,
		TotalAmount:       s.TotalAmount,
		BillingAddressID:  s.BillingAddressID,
		ShippingAddressID: s.ShippingAddressID,
		TransactionID:     s.TransactionID,
		PaymentMethod:     s.PaymentMethod,
		TrackingNumber:    s.TrackingNumber,
		Carrier:           s.Carrier,
		CancelReason:      s.CancelReason,
		OrderedAt:         s.OrderedAt,
		ShippedAt:         s.ShippedAt,
		DeliveredAt:       s.DeliveredAt,
		CancelledAt:       s.CancelledAt,
		RefundedAt:        s.RefundedAt,
		UpdatedAt:         s.UpdatedAt,
	}
}

func orderItemRows(orderID string, items []domain.OrderItem) []models.OrderItem {
	rows := make([]models.OrderItem, 0, len(items))
	for i, item := range items {
		rows = append(rows, models.OrderItem{
			OrderID:       orderID,
			Position:      i,
			ProductID:     item.ProductID,
			ProductName:   item.ProductName,
			SKU:           item.SKU,
			Description:   item.Description,
			CategoryName:  item.CategoryName,
			BrandName:     item.BrandName,
			Quantity:      item.Quantity,
			UnitPrice:     item.UnitPrice,
			UnitTaxAmount: item.UnitTaxAmount,
			TaxRate:       item.TaxRate,
		})
	}
	return rows
}

func historyRows(orderID string, entries []domain.StatusHistoryEntry) []models.OrderStatusHistory {
	rows := make([]models.OrderStatusHistory, 0, len(entries))
	for _, e := range entries {
		var from *string
		if e.FromStatus != nil {
			s := string(*e.FromStatus)
			from = &s
		}
		rows = append(rows, models.OrderStatusHistory{
			OrderID:    orderID,
			FromStatus: from,
			ToStatus:   string(e.ToStatus),
			Notes:      e.Notes,
			ChangedBy:  e.ChangedBy,
			CreatedAt:  e.Timestamp,
		})
	}
	return rows
}

func orderFromRows(row models.Order, itemRows []models.OrderItem, history []models.OrderStatusHistory) (*domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(itemRows))
	for _, r := range itemRows {
		items = append(items, domain.OrderItem{
			ProductID:     r.ProductID,
			ProductName:   r.ProductName,
			SKU:           r.SKU,
			Description:   r.Description,
			CategoryName:  r.CategoryName,
			BrandName:     r.BrandName,
			Quantity:      r.Quantity,
			UnitPrice:     r.UnitPrice,
			UnitTaxAmount: r.UnitTaxAmount,
			TaxRate:       r.TaxRate,
		})
	}

	entries := make([]domain.StatusHistoryEntry, 0, len(history))
	for _, h := range history {
		var from *domain.OrderStatus
		if h.FromStatus != nil {
			s := domain.OrderStatus(*h.FromStatus)
			from = &s
		}
		entries = append(entries, domain.StatusHistoryEntry{
			FromStatus: from,
			ToStatus:   domain.OrderStatus(h.ToStatus),
			Timestamp:  h.CreatedAt,
			Notes:      h.Notes,
			ChangedBy:  h.ChangedBy,
		})
	}

	return domain.RestoreOrder(domain.OrderSnapshot{
		ID:                row.ID,
		OrderNumber:       row.OrderNumber,
		CustomerID:        row.CustomerID,
		CartID:            row.CartID,
		Items:             items,
		Status:            domain.OrderStatus(row.Status),
		Currency:          row.Currency,
		Subtotal:          row.Subtotal,
		DiscountCode:      row.DiscountCode,
		DiscountAmount:    row.DiscountAmount,
		TaxAmount:         row.TaxAmount,
		TaxOverridden:     row.TaxOverridden,
		ShippingAmount:    row.ShippingAmount,
		TotalAmount:       row.TotalAmount,
		BillingAddressID:  row.BillingAddressID,
		ShippingAddressID: row.ShippingAddressID,
		TransactionID:     row.TransactionID,
		PaymentMethod:     row.PaymentMethod,
		TrackingNumber:    row.TrackingNumber,
		Carrier:           row.Carrier,
		CancelReason:      row.CancelReason,
		History:           entries,
		OrderedAt:         row.OrderedAt,
		ShippedAt:         row.ShippedAt,
		DeliveredAt:       row.DeliveredAt,
		CancelledAt:       row.CancelledAt,
		RefundedAt:        row.RefundedAt,
		UpdatedAt:         row.UpdatedAt,
	})
}

func paymentToRow(p *domain.Payment) models.Payment {
	s := p.Snapshot()
	return models.Payment{
		ID:               s.ID,
		GatewayOrderID:   s.GatewayOrderID,
		GatewayPaymentID: s.GatewayPaymentID,
		Signature:        s.Signature,
		Amount:           s.Amount,
		Currency:         s.Currency,
		Status:           string(s.Status),
		UserID:           s.UserID,
		OrderID:          s.OrderID,
		ErrorCode:        s.ErrorCode,
		ErrorDescription: s.ErrorDescription,
		RefundID:         s.RefundID,
		RefundAmount:     s.RefundAmount,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		PaidAt:           s.PaidAt,
		RefundedAt:       s.RefundedAt,
	}
}

func paymentFromRow(row models.Payment) (*domain.Payment, error) {
	return domain.RestorePayment(domain.PaymentSnapshot{
		ID:               row.ID,
		GatewayOrderID:   row.GatewayOrderID,
		GatewayPaymentID: row.GatewayPaymentID,
		Signature:        row.Signature,
		Amount:           row.Amount,
		Currency:         row.Currency,
		Status:           domain.PaymentStatus(row.Status),
		UserID:           row.UserID,
		OrderID:          row.OrderID,
		ErrorCode:        row.ErrorCode,
		ErrorDescription: row.ErrorDescription,
		RefundID:         row.RefundID,
		RefundAmount:     row.RefundAmount,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		PaidAt:           row.PaidAt,
		RefundedAt:       row.RefundedAt,
	})
}
