package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUserCart(t *testing.T) *Cart {
	t.Helper()
	c, err := NewUserCart("cart-1", "user-1", DefaultCartPolicy(), testNow)
	require.NoError(t, err)
	return c
}

func TestCartAddItemMergesLines(t *testing.T) {
	c := newTestUserCart(t)
	p := newTestProduct(t, "p1", 10, "100.00", "18")

	require.NoError(t, c.AddItem(p, 2, testNow))
	require.NoError(t, c.AddItem(p, 3, testNow.Add(time.Minute)))

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
	assert.Equal(t, testNow, items[0].AddedAt)
	assert.Equal(t, 5, c.ItemCount())
}

func TestCartTotals(t *testing.T) {
	c := newTestUserCart(t)
	p1 := newTestProduct(t, "p1", 10, "100.00", "18")
	p2 := newTestProduct(t, "p2", 10, "50.00", "10")

	require.NoError(t, c.AddItem(p1, 2, testNow))
	require.NoError(t, c.AddItem(p2, 1, testNow))

	assert.Equal(t, "250.00", c.Subtotal().StringFixed(2))
	assert.Equal(t, "41.00", c.TaxAmount().StringFixed(2))
	assert.Equal(t, "291.00", c.Total().StringFixed(2))
	assert.Equal(t, "1.50", c.TotalWeight().StringFixed(2))

	require.NoError(t, c.ApplyDiscount("SPRING", dec("50.00"), testNow))
	assert.Equal(t, "241.00", c.Total().StringFixed(2))
}

func TestCartKeepsPriceSnapshot(t *testing.T) {
	c := newTestUserCart(t)
	p := newTestProduct(t, "p1", 10, "100.00", "18")
	require.NoError(t, c.AddItem(p, 1, testNow))

	require.NoError(t, p.SetBaseAmount(dec("200.00")))

	item, ok := c.Item("p1")
	require.True(t, ok)
	assert.Equal(t, "118.00", item.UnitPricing.Price.StringFixed(2))
	assert.Equal(t, "100.00", c.Subtotal().StringFixed(2))
}

func TestCartAddItemRejections(t *testing.T) {
	c := newTestUserCart(t)
	p := newTestProduct(t, "p1", 3, "10.00", "0")

	assert.ErrorIs(t, c.AddItem(p, 0, testNow), ErrValidation)
	assert.ErrorIs(t, c.AddItem(p, 4, testNow), ErrInsufficientStock)

	require.NoError(t, p.SetStatus(ProductStatusDiscontinued))
	assert.ErrorIs(t, c.AddItem(p, 1, testNow), ErrProductUnavailable)
	assert.True(t, c.IsEmpty())
}

func TestCartUpdateItemQuantity(t *testing.T) {
	c := newTestUserCart(t)
	p := newTestProduct(t, "p1", 5, "10.00", "0")
	require.NoError(t, c.AddItem(p, 2, testNow))

	require.NoError(t, c.UpdateItemQuantity(p, 4, testNow))
	item, _ := c.Item("p1")
	assert.Equal(t, 4, item.Quantity)

	assert.ErrorIs(t, c.UpdateItemQuantity(p, 6, testNow), ErrInsufficientStock)
	assert.ErrorIs(t, c.UpdateItemQuantity(p, -1, testNow), ErrValidation)

	require.NoError(t, c.UpdateItemQuantity(p, 0, testNow))
	assert.True(t, c.IsEmpty())

	assert.ErrorIs(t, c.UpdateItemQuantity(p, 1, testNow), ErrNotFound)
}

func TestCartDiscount(t *testing.T) {
	c := newTestUserCart(t)
	p1 := newTestProduct(t, "p1", 5, "60.00", "0")
	p2 := newTestProduct(t, "p2", 5, "40.00", "0")
	require.NoError(t, c.AddItem(p1, 1, testNow))
	require.NoError(t, c.AddItem(p2, 1, testNow))

	assert.ErrorIs(t, c.ApplyDiscount("BIG", dec("100.01"), testNow), ErrValidation)
	assert.ErrorIs(t, c.ApplyDiscount("NEG", dec("-1"), testNow), ErrValidation)

	require.NoError(t, c.ApplyDiscount("HALF", dec("50.00"), testNow))
	require.NoError(t, c.RemoveItem("p1", testNow))
	assert.Equal(t, "40.00", c.DiscountAmount().StringFixed(2))
	assert.Equal(t, "0.00", c.Total().StringFixed(2))

	require.NoError(t, c.Clear(testNow))
	assert.True(t, c.DiscountAmount().IsZero())
	assert.Empty(t, c.DiscountCode())
	assert.True(t, c.IsEmpty())
}

func TestCartExpiryHorizons(t *testing.T) {
	user := newTestUserCart(t)
	assert.Equal(t, testNow.Add(30*24*time.Hour), user.ExpiresAt())

	session, err := NewSessionCart("cart-2", "sess-1", DefaultCartPolicy(), testNow)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(24*time.Hour), session.ExpiresAt())
	assert.False(t, session.IsExpired(testNow.Add(24*time.Hour)))
	assert.True(t, session.IsExpired(testNow.Add(25*time.Hour)))

	later := testNow.Add(20 * time.Hour)
	require.NoError(t, session.ExtendExpiry(7, later))
	assert.Equal(t, later.Add(7*24*time.Hour), session.ExpiresAt())
	assert.ErrorIs(t, session.ExtendExpiry(0, later), ErrValidation)
}

func TestCartAssignToUser(t *testing.T) {
	c, err := NewSessionCart("cart-2", "sess-1", DefaultCartPolicy(), testNow)
	require.NoError(t, err)

	at := testNow.Add(2 * time.Hour)
	require.NoError(t, c.AssignToUser("user-9", at))

	assert.Equal(t, "user-9", c.UserID())
	assert.Empty(t, c.SessionID())
	assert.False(t, c.IsAnonymous())
	assert.Equal(t, at.Add(30*24*time.Hour), c.ExpiresAt())

	assert.ErrorIs(t, c.AssignToUser("user-10", at), ErrInvalidState)
}

func TestCartCheckout(t *testing.T) {
	c := newTestUserCart(t)
	p := newTestProduct(t, "p1", 5, "10.00", "0")
	require.NoError(t, c.AddItem(p, 2, testNow))

	require.NoError(t, c.Checkout(NewProductTable(p), testNow))
	assert.Equal(t, CartStatusCheckedOut, c.Status())
	assert.True(t, c.Status().IsTerminal())

	assert.ErrorIs(t, c.AddItem(p, 1, testNow), ErrInvalidState)
	assert.ErrorIs(t, c.Checkout(NewProductTable(p), testNow), ErrInvalidState)
	assert.ErrorIs(t, c.Abandon(testNow), ErrInvalidState)
}

func TestCartCheckoutFailures(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		c := newTestUserCart(t)
		assert.ErrorIs(t, c.Checkout(NewProductTable(), testNow), ErrValidation)
		assert.Equal(t, CartStatusActive, c.Status())
	})

	t.Run("expired", func(t *testing.T) {
		c := newTestUserCart(t)
		p := newTestProduct(t, "p1", 5, "10.00", "0")
		require.NoError(t, c.AddItem(p, 1, testNow))
		assert.ErrorIs(t, c.Checkout(NewProductTable(p), testNow.Add(31*24*time.Hour)), ErrInvalidState)
		assert.Equal(t, CartStatusActive, c.Status())
	})

	t.Run("stock taken by another buyer", func(t *testing.T) {
		c := newTestUserCart(t)
		p := newTestProduct(t, "p1", 5, "10.00", "0")
		require.NoError(t, c.AddItem(p, 3, testNow))
		require.NoError(t, p.Reserve(4))

		assert.ErrorIs(t, c.Checkout(NewProductTable(p), testNow), ErrInsufficientStock)
		assert.Equal(t, CartStatusActive, c.Status())
	})

	t.Run("merged quantity exceeds stock", func(t *testing.T) {
		c := newTestUserCart(t)
		p := newTestProduct(t, "p1", 5, "10.00", "0")
		require.NoError(t, c.AddItem(p, 3, testNow))
		require.NoError(t, c.AddItem(p, 3, testNow))

		assert.ErrorIs(t, c.Checkout(NewProductTable(p), testNow), ErrInsufficientStock)
	})

	t.Run("product deactivated", func(t *testing.T) {
		c := newTestUserCart(t)
		p := newTestProduct(t, "p1", 5, "10.00", "0")
		require.NoError(t, c.AddItem(p, 1, testNow))
		require.NoError(t, p.SetStatus(ProductStatusInactive))

		assert.ErrorIs(t, c.Checkout(NewProductTable(p), testNow), ErrProductUnavailable)
	})

	t.Run("product missing", func(t *testing.T) {
		c := newTestUserCart(t)
		p := newTestProduct(t, "p1", 5, "10.00", "0")
		require.NoError(t, c.AddItem(p, 1, testNow))

		assert.ErrorIs(t, c.Checkout(NewProductTable(), testNow), ErrNotFound)
	})
}

func TestCartTerminalStates(t *testing.T) {
	c := newTestUserCart(t)
	require.NoError(t, c.Abandon(testNow))
	assert.Equal(t, CartStatusAbandoned, c.Status())
	assert.ErrorIs(t, c.Expire(testNow.Add(40*24*time.Hour)), ErrInvalidState)

	c2 := newTestUserCart(t)
	assert.ErrorIs(t, c2.Expire(testNow), ErrInvalidState)
	require.NoError(t, c2.Expire(testNow.Add(31*24*time.Hour)))
	assert.Equal(t, CartStatusExpired, c2.Status())
}

func TestRestoreCart(t *testing.T) {
	c := newTestUserCart(t)
	p := newTestProduct(t, "p1", 5, "10.00", "10")
	require.NoError(t, c.AddItem(p, 2, testNow))

	restored, err := RestoreCart(c.Snapshot(), DefaultCartPolicy())
	require.NoError(t, err)
	assert.Equal(t, "22.00", restored.Total().StringFixed(2))

	snap := c.Snapshot()
	snap.SessionID = "sess-1"
	_, err = RestoreCart(snap, DefaultCartPolicy())
	assert.ErrorIs(t, err, ErrValidation)
}
