package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

type CartStatus string

const (
	CartStatusActive     CartStatus = "ACTIVE"
	CartStatusCheckedOut CartStatus = "CHECKED_OUT"
	CartStatusAbandoned  CartStatus = "ABANDONED"
	CartStatusExpired    CartStatus = "EXPIRED"
)

type cartEvent string

const (
	cartCheckout cartEvent = "checkout"
	cartAbandon  cartEvent = "abandon"
	cartExpire   cartEvent = "expire"
)

// cartTransitions is the complete cart state machine. Terminal states have no entry.
var cartTransitions = map[CartStatus]map[cartEvent]CartStatus{
	CartStatusActive: {
		cartCheckout: CartStatusCheckedOut,
		cartAbandon:  CartStatusAbandoned,
		cartExpire:   CartStatusExpired,
	},
}

func (s CartStatus) IsTerminal() bool {
	return len(cartTransitions[s]) == 0
}

// Default cart expiry horizons.
const (
	UserCartHorizon    = 30 * 24 * time.Hour
	SessionCartHorizon = 24 * time.Hour
)

// CartPolicy sets how long carts live before they expire.
type CartPolicy struct {
	UserHorizon    time.Duration
	SessionHorizon time.Duration
}

func DefaultCartPolicy() CartPolicy {
	return CartPolicy{UserHorizon: UserCartHorizon, SessionHorizon: SessionCartHorizon}
}

// CartItem is one line of a cart. UnitPricing is the product price at the time the line was added.
type CartItem struct {
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPricing Pricing         `json:"unit_pricing"`
	UnitWeight  decimal.Decimal `json:"unit_weight"`
	AddedAt     time.Time       `json:"added_at"`
}

func (i CartItem) LineSubtotal() decimal.Decimal {
	return i.UnitPricing.BaseAmount.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i CartItem) LineTax() decimal.Decimal {
	return i.UnitPricing.TaxAmount.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.UnitPricing.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart belongs either to a user or to an anonymous session, never both.
type Cart struct {
	id             string
	userID         string
	sessionID      string
	items          []CartItem
	discountCode   string
	discountAmount decimal.Decimal
	subtotal       decimal.Decimal
	taxAmount      decimal.Decimal
	totalWeight    decimal.Decimal
	status         CartStatus
	expiresAt      time.Time
	checkedOutAt   *time.Time
	createdAt      time.Time
	updatedAt      time.Time
	policy         CartPolicy
}

// CartSnapshot is a read-only copy of a Cart.
type CartSnapshot struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	Items          []CartItem      `json:"items"`
	DiscountCode   string          `json:"discount_code,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	Total          decimal.Decimal `json:"total"`
	TotalWeight    decimal.Decimal `json:"total_weight"`
	ItemCount      int             `json:"item_count"`
	Status         CartStatus      `json:"status"`
	ExpiresAt      time.Time       `json:"expires_at"`
	CheckedOutAt   *time.Time      `json:"checked_out_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewUserCart creates an empty cart owned by a signed-in user.
func NewUserCart(id, userID string, policy CartPolicy, now time.Time) (*Cart, error) {
	if userID == "" {
		return nil, invalid("user_id", "is required")
	}
	return newCart(id, userID, "", policy, now.Add(policy.UserHorizon), now)
}

// NewSessionCart creates an empty cart for an anonymous session.
func NewSessionCart(id, sessionID string, policy CartPolicy, now time.Time) (*Cart, error) {
	if sessionID == "" {
		return nil, invalid("session_id", "is required")
	}
	return newCart(id, "", sessionID, policy, now.Add(policy.SessionHorizon), now)
}

func newCart(id, userID, sessionID string, policy CartPolicy, expiresAt, now time.Time) (*Cart, error) {
	if id == "" {
		return nil, invalid("id", "is required")
	}
	c := &Cart{
		id:        id,
		userID:    userID,
		sessionID: sessionID,
		status:    CartStatusActive,
		expiresAt: expiresAt,
		createdAt: now,
		updatedAt: now,
		policy:    policy,
	}
	c.recalculate()
	return c, nil
}

// RestoreCart rebuilds a cart from persisted state; derived totals are recomputed.
func RestoreCart(s CartSnapshot, policy CartPolicy) (*Cart, error) {
	if s.ID == "" {
		return nil, invalid("id", "is required")
	}
	if (s.UserID == "") == (s.SessionID == "") {
		return nil, invalid("owner", "exactly one of user_id and session_id must be set")
	}
	for _, item := range s.Items {
		if item.Quantity < 1 {
			return nil, invalid("quantity", "must be at least 1")
		}
	}
	c := &Cart{
		id:             s.ID,
		userID:         s.UserID,
		sessionID:      s.SessionID,
		items:          slices.Clone(s.Items),
		discountCode:   s.DiscountCode,
		discountAmount: s.DiscountAmount,
		status:         s.Status,
		expiresAt:      s.ExpiresAt,
		checkedOutAt:   s.CheckedOutAt,
		createdAt:      s.CreatedAt,
		updatedAt:      s.UpdatedAt,
		policy:         policy,
	}
	c.recalculate()
	return c, nil
}

func (c *Cart) ID() string                      { return c.id }
func (c *Cart) UserID() string                  { return c.userID }
func (c *Cart) SessionID() string               { return c.sessionID }
func (c *Cart) IsAnonymous() bool               { return c.userID == "" }
func (c *Cart) Status() CartStatus              { return c.status }
func (c *Cart) ExpiresAt() time.Time            { return c.expiresAt }
func (c *Cart) DiscountCode() string            { return c.discountCode }
func (c *Cart) DiscountAmount() decimal.Decimal { return c.discountAmount }
func (c *Cart) Subtotal() decimal.Decimal       { return c.subtotal }
func (c *Cart) TaxAmount() decimal.Decimal      { return c.taxAmount }
func (c *Cart) TotalWeight() decimal.Decimal    { return c.totalWeight }
func (c *Cart) IsEmpty() bool                   { return len(c.items) == 0 }

// Total is subtotal plus tax minus discount.
func (c *Cart) Total() decimal.Decimal {
	return c.subtotal.Add(c.taxAmount).Sub(c.discountAmount)
}

func (c *Cart) ItemCount() int {
	n := 0
	for _, item := range c.items {
		n += item.Quantity
	}
	return n
}

func (c *Cart) Items() []CartItem { return slices.Clone(c.items) }

func (c *Cart) Item(productID string) (CartItem, bool) {
	if i := c.indexOf(productID); i >= 0 {
		return c.items[i], true
	}
	return CartItem{}, false
}

// IsExpired is a pure function of now against the stored expiry.
func (c *Cart) IsExpired(now time.Time) bool {
	return now.After(c.expiresAt)
}

// AddItem adds qty units of product, merging into an existing line for the same product.
func (c *Cart) AddItem(product *Product, qty int, now time.Time) error {
	if err := c.requireActive("add_item"); err != nil {
		return err
	}
	if product == nil {
		return invalid("product", "is required")
	}
	if qty <= 0 {
		return invalid("quantity", "must be positive")
	}
	if !product.IsAvailable() {
		return &ProductUnavailableError{ProductID: product.ID(), Status: product.Status()}
	}
	if !product.CanReserve(qty) {
		return &InsufficientStockError{ProductID: product.ID(), Requested: qty, Available: product.Available()}
	}

	if i := c.indexOf(product.ID()); i >= 0 {
		c.items[i].Quantity += qty
	} else {
		c.items = append(c.items, CartItem{
			ProductID:   product.ID(),
			Quantity:    qty,
			UnitPricing: product.Pricing(),
			UnitWeight:  product.UnitWeight(),
			AddedAt:     now,
		})
	}
	c.touch(now)
	return nil
}

// UpdateItemQuantity sets a line's quantity; zero removes the line.
func (c *Cart) UpdateItemQuantity(product *Product, qty int, now time.Time) error {
	if err := c.requireActive("update_item_quantity"); err != nil {
		return err
	}
	if product == nil {
		return invalid("product", "is required")
	}
	if qty < 0 {
		return invalid("quantity", "must not be negative")
	}
	i := c.indexOf(product.ID())
	if i < 0 {
		return &NotFoundError{Kind: "cart item", ID: product.ID()}
	}
	if qty == 0 {
		c.items = slices.Delete(c.items, i, i+1)
		c.touch(now)
		return nil
	}
	if !product.CanReserve(qty) {
		return &InsufficientStockError{ProductID: product.ID(), Requested: qty, Available: product.Available()}
	}
	c.items[i].Quantity = qty
	c.touch(now)
	return nil
}

func (c *Cart) RemoveItem(productID string, now time.Time) error {
	if err := c.requireActive("remove_item"); err != nil {
		return err
	}
	i := c.indexOf(productID)
	if i < 0 {
		return &NotFoundError{Kind: "cart item", ID: productID}
	}
	c.items = slices.Delete(c.items, i, i+1)
	c.touch(now)
	return nil
}

// Clear empties the cart and drops any discount.
func (c *Cart) Clear(now time.Time) error {
	if err := c.requireActive("clear"); err != nil {
		return err
	}
	c.items = nil
	c.discountCode = ""
	c.discountAmount = decimal.Zero
	c.touch(now)
	return nil
}

func (c *Cart) ApplyDiscount(code string, amount decimal.Decimal, now time.Time) error {
	if err := c.requireActive("apply_discount"); err != nil {
		return err
	}
	if code == "" {
		return invalid("discount_code", "is required")
	}
	if amount.IsNegative() {
		return invalid("discount_amount", "must not be negative")
	}
	amount = RoundMoney(amount)
	if amount.GreaterThan(c.subtotal) {
		return invalid("discount_amount", "must not exceed subtotal")
	}
	c.discountCode = code
	c.discountAmount = amount
	c.touch(now)
	return nil
}

// ExtendExpiry moves the expiry to now plus days.
func (c *Cart) ExtendExpiry(days int, now time.Time) error {
	if err := c.requireActive("extend_expiry"); err != nil {
		return err
	}
	if days <= 0 {
		return invalid("days", "must be positive")
	}
	c.expiresAt = now.Add(time.Duration(days) * 24 * time.Hour)
	c.touch(now)
	return nil
}

// AssignToUser turns an anonymous cart into a user cart with the user horizon.
func (c *Cart) AssignToUser(userID string, now time.Time) error {
	if err := c.requireActive("assign_to_user"); err != nil {
		return err
	}
	if userID == "" {
		return invalid("user_id", "is required")
	}
	if !c.IsAnonymous() {
		return &StateError{Aggregate: "cart", Status: string(c.status), Operation: "assign_to_user (already owned)"}
	}
	c.userID = userID
	c.sessionID = ""
	c.expiresAt = now.Add(c.policy.UserHorizon)
	c.touch(now)
	return nil
}

// Checkout validates every line against live products and closes the cart.
func (c *Cart) Checkout(products ProductLookup, now time.Time) error {
	if err := c.can(cartCheckout); err != nil {
		return err
	}
	if c.IsExpired(now) {
		return &StateError{Aggregate: "cart", Status: string(CartStatusExpired), Operation: string(cartCheckout)}
	}
	if c.IsEmpty() {
		return invalid("items", "cart is empty")
	}
	for _, item := range c.items {
		product, ok := products.Product(item.ProductID)
		if !ok {
			return &NotFoundError{Kind: "product", ID: item.ProductID}
		}
		if !product.IsAvailable() {
			return &ProductUnavailableError{ProductID: product.ID(), Status: product.Status()}
		}
		if !product.CanReserve(item.Quantity) {
			return &InsufficientStockError{
				ProductID: product.ID(),
				Requested: item.Quantity,
				Available: product.Available(),
			}
		}
	}
	c.status = cartTransitions[c.status][cartCheckout]
	c.checkedOutAt = &now
	c.updatedAt = now
	return nil
}

func (c *Cart) Abandon(now time.Time) error {
	return c.transition(cartAbandon, now)
}

// Expire is used by the sweeper once IsExpired reports true.
func (c *Cart) Expire(now time.Time) error {
	if !c.IsExpired(now) {
		return &StateError{Aggregate: "cart", Status: string(c.status), Operation: "expire (not yet expired)"}
	}
	return c.transition(cartExpire, now)
}

func (c *Cart) Snapshot() CartSnapshot {
	return CartSnapshot{
		ID:             c.id,
		UserID:         c.userID,
		SessionID:      c.sessionID,
		Items:          slices.Clone(c.items),
		DiscountCode:   c.discountCode,
		DiscountAmount: c.discountAmount,
		Subtotal:       c.subtotal,
		TaxAmount:      c.taxAmount,
		Total:          c.Total(),
		TotalWeight:    c.totalWeight,
		ItemCount:      c.ItemCount(),
		Status:         c.status,
		ExpiresAt:      c.expiresAt,
		CheckedOutAt:   c.checkedOutAt,
		CreatedAt:      c.createdAt,
		UpdatedAt:      c.updatedAt,
	}
}

func (c *Cart) can(event cartEvent) error {
	if _, ok := cartTransitions[c.status][event]; !ok {
		return &StateError{Aggregate: "cart", Status: string(c.status), Operation: string(event)}
	}
	return nil
}

func (c *Cart) transition(event cartEvent, now time.Time) error {
	if err := c.can(event); err != nil {
		return err
	}
	c.status = cartTransitions[c.status][event]
	c.updatedAt = now
	return nil
}

func (c *Cart) requireActive(op string) error {
	if c.status != CartStatusActive {
		return &StateError{Aggregate: "cart", Status: string(c.status), Operation: op}
	}
	return nil
}

func (c *Cart) indexOf(productID string) int {
	return slices.IndexFunc(c.items, func(item CartItem) bool { return item.ProductID == productID })
}

func (c *Cart) touch(now time.Time) {
	c.recalculate()
	c.updatedAt = now
}

// recalculate derives subtotal, tax and weight from the lines and keeps the
// discount within the subtotal.
func (c *Cart) recalculate() {
	subtotal, tax, weight := decimal.Zero, decimal.Zero, decimal.Zero
	for _, item := range c.items {
		subtotal = subtotal.Add(item.LineSubtotal())
		tax = tax.Add(item.LineTax())
		weight = weight.Add(item.UnitWeight.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	c.subtotal = subtotal
	c.taxAmount = tax
	c.totalWeight = weight
	if c.discountAmount.GreaterThan(subtotal) {
		c.discountAmount = subtotal
	}
}
