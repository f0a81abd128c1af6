package domain

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAudit() Audit { return Audit{At: testNow, By: "tester"} }

func newTestOrder(t *testing.T) *Order {
	t.Helper()
	o, err := NewOrder(NewOrderParams{
		ID:          "order-1",
		OrderNumber: "ORD-00000001",
		CustomerID:  "user-1",
		Currency:    "USD",
	}, testAudit())
	require.NoError(t, err)
	return o
}

func addTestItem(t *testing.T, o *Order, p *Product, qty int) {
	t.Helper()
	item, err := NewOrderItem(p, qty)
	require.NoError(t, err)
	require.NoError(t, o.AddItem(item, testNow))
}

func TestOrderTotalsWithDiscountTaxShipping(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "100.00", "0"), 2)
	addTestItem(t, o, newTestProduct(t, "p2", 10, "50.00", "0"), 1)
	require.Equal(t, "250.00", o.Subtotal().StringFixed(2))

	require.NoError(t, o.ApplyDiscount("SAVE50", dec("50.00"), testNow))
	require.NoError(t, o.SetTaxAmount(dec("20.00"), testNow))
	require.NoError(t, o.SetShippingAmount(dec("10.00"), testNow))

	assert.Equal(t, "230.00", o.TotalAmount().StringFixed(2))
}

func TestOrderDerivesTaxFromItems(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "100.00", "18"), 2)

	assert.Equal(t, "200.00", o.Subtotal().StringFixed(2))
	assert.Equal(t, "36.00", o.TaxAmount().StringFixed(2))
	assert.Equal(t, "236.00", o.TotalAmount().StringFixed(2))

	addTestItem(t, o, newTestProduct(t, "p1", 10, "100.00", "18"), 1)
	require.Len(t, o.Items(), 1)
	assert.Equal(t, "354.00", o.TotalAmount().StringFixed(2))
}

func TestOrderDiscountBounds(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "40.00", "0"), 1)

	assert.ErrorIs(t, o.ApplyDiscount("X", dec("40.01"), testNow), ErrValidation)
	assert.ErrorIs(t, o.ApplyDiscount("X", dec("-1"), testNow), ErrValidation)
	assert.ErrorIs(t, o.SetShippingAmount(dec("-1"), testNow), ErrValidation)
	assert.ErrorIs(t, o.SetTaxAmount(dec("-1"), testNow), ErrValidation)
}

func TestOrderConfirmRequiresItemsAndTransaction(t *testing.T) {
	o := newTestOrder(t)
	assert.ErrorIs(t, o.Confirm("tx-1", testAudit()), ErrValidation)

	addTestItem(t, o, newTestProduct(t, "p1", 10, "10.00", "0"), 1)
	assert.ErrorIs(t, o.Confirm("", testAudit()), ErrValidation)
	assert.Equal(t, OrderStatusRaised, o.Status())
	assert.Equal(t, 1, o.HistoryLen())

	require.NoError(t, o.Confirm("tx-1", testAudit()))
	assert.Equal(t, OrderStatusPaymentDone, o.Status())
	assert.Equal(t, "tx-1", o.TransactionID())
}

func TestOrderMutationsLockedAfterRaised(t *testing.T) {
	o := newTestOrder(t)
	p := newTestProduct(t, "p1", 10, "10.00", "0")
	addTestItem(t, o, p, 1)
	require.NoError(t, o.ProcessPayment("tx-1", "card", testAudit()))

	item, err := NewOrderItem(p, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, o.AddItem(item, testNow), ErrInvalidState)
	assert.ErrorIs(t, o.RemoveItem("p1", testNow), ErrInvalidState)
	assert.ErrorIs(t, o.ApplyDiscount("X", dec("1"), testNow), ErrInvalidState)
	assert.ErrorIs(t, o.SetShippingAmount(dec("1"), testNow), ErrInvalidState)
	assert.ErrorIs(t, o.SetTaxAmount(dec("1"), testNow), ErrInvalidState)
	assert.Equal(t, "10.00", o.TotalAmount().StringFixed(2))
}

func TestOrderCancelFromRaised(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "10.00", "0"), 1)

	require.NoError(t, o.Cancel("customer changed mind", testAudit()))
	assert.Equal(t, OrderStatusCancelled, o.Status())

	history := o.History()
	require.Len(t, history, 2)
	assert.Nil(t, history[0].FromStatus)
	assert.Equal(t, OrderStatusRaised, history[0].ToStatus)

	last := history[1]
	require.NotNil(t, last.FromStatus)
	assert.Equal(t, OrderStatusRaised, *last.FromStatus)
	assert.Equal(t, OrderStatusCancelled, last.ToStatus)
	assert.Equal(t, "tester", last.ChangedBy)
	assert.Contains(t, last.Notes, "customer changed mind")

	assert.ErrorIs(t, o.Cancel("again", testAudit()), ErrInvalidState)
	assert.Equal(t, 2, o.HistoryLen())
}

func TestOrderShipAndRefund(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "10.00", "0"), 1)
	require.NoError(t, o.Confirm("tx-1", testAudit()))

	assert.ErrorIs(t, o.Ship("", "UPS", testAudit()), ErrValidation)
	require.NoError(t, o.Ship("1Z999", "UPS", testAudit()))
	assert.Equal(t, OrderStatusDelivered, o.Status())
	assert.True(t, o.StockFulfilled())
	assert.Equal(t, "1Z999", o.TrackingNumber())

	assert.ErrorIs(t, o.Cancel("late", testAudit()), ErrInvalidState)
	assert.ErrorIs(t, o.Deliver(testAudit()), ErrInvalidState)

	require.NoError(t, o.Refund("damaged", testAudit()))
	assert.Equal(t, OrderStatusCancelled, o.Status())
	assert.True(t, o.Refunded())
	assert.ErrorIs(t, o.Refund("twice", testAudit()), ErrInvalidState)
	assert.Equal(t, 4, o.HistoryLen())
}

func TestOrderDeliver(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "10.00", "0"), 1)
	assert.ErrorIs(t, o.Deliver(testAudit()), ErrInvalidState)

	require.NoError(t, o.Confirm("tx-1", testAudit()))
	require.NoError(t, o.Deliver(testAudit()))

	snap := o.Snapshot()
	assert.Equal(t, OrderStatusDelivered, snap.Status)
	require.NotNil(t, snap.ShippedAt)
	require.NotNil(t, snap.DeliveredAt)
}

func TestOrderTransitionTable(t *testing.T) {
	type step func(o *Order) error
	events := map[string]step{
		"confirm": func(o *Order) error { return o.Confirm("tx", testAudit()) },
		"pay":     func(o *Order) error { return o.ProcessPayment("tx", "card", testAudit()) },
		"ship":    func(o *Order) error { return o.Ship("TRK", "", testAudit()) },
		"deliver": func(o *Order) error { return o.Deliver(testAudit()) },
		"cancel":  func(o *Order) error { return o.Cancel("", testAudit()) },
		"refund":  func(o *Order) error { return o.Refund("", testAudit()) },
	}
	reach := map[OrderStatus][]string{
		OrderStatusRaised:      nil,
		OrderStatusPaymentDone: {"confirm"},
		OrderStatusDelivered:   {"confirm", "deliver"},
		OrderStatusCancelled:   {"cancel"},
	}
	allowed := map[OrderStatus]map[string]OrderStatus{
		OrderStatusRaised:      {"confirm": OrderStatusPaymentDone, "pay": OrderStatusPaymentDone, "cancel": OrderStatusCancelled},
		OrderStatusPaymentDone: {"ship": OrderStatusDelivered, "deliver": OrderStatusDelivered, "cancel": OrderStatusCancelled, "refund": OrderStatusCancelled},
		OrderStatusDelivered:   {"refund": OrderStatusCancelled},
		OrderStatusCancelled:   {},
	}

	for from, path := range reach {
		for name, ev := range events {
			o := newTestOrder(t)
			addTestItem(t, o, newTestProduct(t, "p1", 10, "10.00", "0"), 1)
			for _, p := range path {
				require.NoError(t, events[p](o))
			}
			require.Equal(t, from, o.Status())

			err := ev(o)
			if to, ok := allowed[from][name]; ok {
				assert.NoError(t, err, "%s from %s", name, from)
				assert.Equal(t, to, o.Status(), "%s from %s", name, from)
			} else {
				assert.ErrorIs(t, err, ErrInvalidState, "%s from %s", name, from)
				assert.Equal(t, from, o.Status())
			}
		}
	}
}

func TestNewOrderFromCart(t *testing.T) {
	p1 := newTestProduct(t, "p1", 10, "100.00", "18")
	p2 := newTestProduct(t, "p2", 10, "50.00", "10")
	products := NewProductTable(p1, p2)

	c := newTestUserCart(t)
	require.NoError(t, c.AddItem(p1, 2, testNow))
	require.NoError(t, c.AddItem(p2, 1, testNow))
	require.NoError(t, c.ApplyDiscount("TEN", dec("10.00"), testNow))

	_, err := NewOrderFromCart(NewOrderParams{ID: "o1", OrderNumber: "ORD-1", Currency: "USD"}, c, products, testAudit())
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, c.Checkout(products, testNow))
	o, err := NewOrderFromCart(NewOrderParams{
		ID:             "o1",
		OrderNumber:    "ORD-1",
		Currency:       "USD",
		ShippingAmount: dec("5.00"),
	}, c, products, testAudit())
	require.NoError(t, err)

	assert.Equal(t, "user-1", o.CustomerID())
	assert.Equal(t, c.ID(), o.CartID())
	assert.Equal(t, "250.00", o.Subtotal().StringFixed(2))
	assert.Equal(t, "41.00", o.TaxAmount().StringFixed(2))
	assert.Equal(t, "10.00", o.DiscountAmount().StringFixed(2))
	assert.True(t, o.TotalAmount().Equal(c.Total().Add(dec("5.00"))))

	items := o.Items()
	require.Len(t, items, 2)
	assert.Equal(t, "Product p1", items[0].ProductName)
	assert.Equal(t, "SKU-p1", items[0].SKU)
	assert.Equal(t, "Category", items[0].CategoryName)
}

func TestOrderItemSnapshotIsIndependent(t *testing.T) {
	p := newTestProduct(t, "p1", 10, "100.00", "0")
	o := newTestOrder(t)
	addTestItem(t, o, p, 2)

	require.NoError(t, p.SetBaseAmount(dec("120.00")))
	item := o.Items()[0]
	assert.Equal(t, "100.00", item.UnitPrice.StringFixed(2))
	assert.Equal(t, PriceIncreased, item.PriceChangeSince(p))
	assert.Equal(t, "40.00", item.Savings(p).StringFixed(2))

	require.NoError(t, p.SetBaseAmount(dec("90.00")))
	assert.Equal(t, PriceDecreased, item.PriceChangeSince(p))
	assert.Equal(t, "-20.00", item.Savings(p).StringFixed(2))

	require.NoError(t, p.SetBaseAmount(dec("100.00")))
	assert.Equal(t, PriceUnchanged, item.PriceChangeSince(p))
	assert.True(t, item.Savings(p).IsZero())
}

func TestOrderHistoryIsReadOnly(t *testing.T) {
	o := newTestOrder(t)
	h := o.History()
	h[0].Notes = "tampered"

	assert.Equal(t, "Order placed", o.History()[0].Notes)
}

func TestRestoreOrderRecomputesTotals(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "100.00", "18"), 1)

	snap := o.Snapshot()
	snap.TotalAmount = decimal.NewFromInt(1)
	restored, err := RestoreOrder(snap)
	require.NoError(t, err)
	assert.Equal(t, "118.00", restored.TotalAmount().StringFixed(2))
	assert.Equal(t, 1, restored.HistoryLen())
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("ORD-", 8, 1)
	ctx := context.Background()

	first, err := g.NextOrderNumber(ctx)
	require.NoError(t, err)
	second, err := g.NextOrderNumber(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ORD-00000001", first)
	assert.Equal(t, "ORD-00000002", second)
}

func TestSequenceGeneratorConcurrentUnique(t *testing.T) {
	g := NewSequenceGenerator("ORD-", 6, 1)
	var mu sync.Mutex
	seen := make(map[string]struct{})
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				n, _ := g.NextOrderNumber(context.Background())
				mu.Lock()
				seen[n] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 1000)
}

func TestOrderTimestamps(t *testing.T) {
	o := newTestOrder(t)
	addTestItem(t, o, newTestProduct(t, "p1", 10, "10.00", "0"), 1)
	at := testNow.Add(time.Hour)

	require.NoError(t, o.Cancel("", Audit{At: at}))
	snap := o.Snapshot()
	require.NotNil(t, snap.CancelledAt)
	assert.Equal(t, at, *snap.CancelledAt)
	assert.Equal(t, testNow, snap.OrderedAt)
	assert.Nil(t, snap.RefundedAt)
}
