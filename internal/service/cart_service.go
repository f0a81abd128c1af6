package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"commerce-engine/internal/domain"
	"commerce-engine/internal/session"
	"commerce-engine/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CartService resolves the caller's active cart and serialises changes to it
// on a per-cart Redis lock.
type CartService struct {
	carts    CartRepository
	products ProductRepository
	locker   Locker
	cache    CartCache
	clock    domain.Clock
	ids      domain.IDGenerator
	policy   domain.CartPolicy
	lockTTL  time.Duration
	logger   *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(
	carts CartRepository,
	products ProductRepository,
	locker Locker,
	cache CartCache,
	clock domain.Clock,
	policy domain.CartPolicy,
	lockTTL time.Duration,
) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		locker:   locker,
		cache:    cache,
		clock:    clock,
		ids:      domain.UUIDGenerator(),
		policy:   policy,
		lockTTL:  lockTTL,
		logger:   util.GetLogger(),
	}
}

func cartLockKey(cartID string) string { return "cart:" + cartID }

func ownerKey(id session.Identity) string {
	if !id.IsAnonymous() {
		return "user:" + id.UserID
	}
	return "session:" + id.SessionID
}

// CurrentCart returns the caller's ACTIVE cart, creating one when there is
// none. A cart found past its expiry is expired and replaced.
func (s *CartService) CurrentCart(ctx context.Context, id session.Identity) (*domain.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.CurrentCart")
	defer span.End()

	if id.IsAnonymous() && id.SessionID == "" {
		return nil, &domain.ValidationError{Field: "identity", Reason: "user or session is required"}
	}
	now := s.clock.Now()
	owner := ownerKey(id)

	if cart := s.cachedCart(ctx, owner, now); cart != nil {
		return cart, nil
	}

	var (
		cart *domain.Cart
		err  error
	)
	if id.IsAnonymous() {
		cart, err = s.carts.FindActiveCartBySession(ctx, id.SessionID)
	} else {
		cart, err = s.carts.FindActiveCartByUser(ctx, id.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find cart: %w", err)
	}

	if cart != nil && cart.IsExpired(now) {
		if err := s.expire(ctx, cart, now); err != nil {
			return nil, err
		}
		cart = nil
	}

	if cart == nil {
		if id.IsAnonymous() {
			cart, err = domain.NewSessionCart(s.ids.NewID(), id.SessionID, s.policy, now)
		} else {
			cart, err = domain.NewUserCart(s.ids.NewID(), id.UserID, s.policy, now)
		}
		if err != nil {
			return nil, err
		}
		if err := s.carts.SaveCart(ctx, cart); err != nil {
			return nil, fmt.Errorf("failed to save cart: %w", err)
		}
		s.logger.Info("Cart created",
			zap.String("cart_id", cart.ID()),
			zap.String("owner", owner))
	}

	s.remember(ctx, owner, cart)
	return cart, nil
}

func (s *CartService) cachedCart(ctx context.Context, owner string, now time.Time) *domain.Cart {
	cartID, found, err := s.cache.CachedCartID(ctx, owner)
	if err != nil {
		s.logger.Warn("Cart cache read failed", zap.String("owner", owner), zap.Error(err))
		return nil
	}
	if !found {
		return nil
	}
	cart, err := s.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil
	}
	if cart.Status() != domain.CartStatusActive || cart.IsExpired(now) {
		return nil
	}
	return cart
}

func (s *CartService) remember(ctx context.Context, owner string, cart *domain.Cart) {
	ttl := cart.ExpiresAt().Sub(s.clock.Now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.CacheCartID(ctx, owner, cart.ID(), ttl); err != nil {
		s.logger.Warn("Cart cache write failed", zap.String("owner", owner), zap.Error(err))
	}
}

func (s *CartService) forget(ctx context.Context, owner string) {
	if err := s.cache.ForgetCartID(ctx, owner); err != nil {
		s.logger.Warn("Cart cache delete failed", zap.String("owner", owner), zap.Error(err))
	}
}

func (s *CartService) expire(ctx context.Context, cart *domain.Cart, now time.Time) error {
	if err := cart.Expire(now); err != nil {
		return err
	}
	if err := s.carts.SaveCart(ctx, cart); err != nil {
		return fmt.Errorf("failed to save expired cart: %w", err)
	}
	util.CartsExpiredTotal.Inc()
	s.logger.Info("Cart expired", zap.String("cart_id", cart.ID()))
	return nil
}

// mutate reloads the cart under its lock, applies fn and saves the result.
func (s *CartService) mutate(ctx context.Context, id session.Identity, op string, fn func(*domain.Cart, time.Time) error) (*domain.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService."+op)
	defer span.End()

	current, err := s.CurrentCart(ctx, id)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("cart_id", current.ID()))

	var result *domain.Cart
	err = withLock(ctx, s.locker, cartLockKey(current.ID()), s.lockTTL, func() error {
		cart, err := s.carts.GetCart(ctx, current.ID())
		if err != nil {
			return err
		}
		if err := fn(cart, s.clock.Now()); err != nil {
			return err
		}
		if err := s.carts.SaveCart(ctx, cart); err != nil {
			return fmt.Errorf("failed to save cart: %w", err)
		}
		result = cart
		return nil
	})
	if err != nil {
		util.RecordError(ctx, err)
		return nil, err
	}

	util.CartOperationsTotal.WithLabelValues(op).Inc()
	return result, nil
}

func (s *CartService) AddItem(ctx context.Context, id session.Identity, productID string, qty int) (*domain.Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "AddItem", func(c *domain.Cart, now time.Time) error {
		return c.AddItem(product, qty, now)
	})
}

// UpdateItemQuantity sets a line's quantity; zero removes it.
func (s *CartService) UpdateItemQuantity(ctx context.Context, id session.Identity, productID string, qty int) (*domain.Cart, error) {
	product, err := s.products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, id, "UpdateItemQuantity", func(c *domain.Cart, now time.Time) error {
		return c.UpdateItemQuantity(product, qty, now)
	})
}

func (s *CartService) RemoveItem(ctx context.Context, id session.Identity, productID string) (*domain.Cart, error) {
	return s.mutate(ctx, id, "RemoveItem", func(c *domain.Cart, now time.Time) error {
		return c.RemoveItem(productID, now)
	})
}

func (s *CartService) Clear(ctx context.Context, id session.Identity) (*domain.Cart, error) {
	return s.mutate(ctx, id, "Clear", func(c *domain.Cart, now time.Time) error {
		return c.Clear(now)
	})
}

func (s *CartService) ApplyDiscount(ctx context.Context, id session.Identity, code string, amount decimal.Decimal) (*domain.Cart, error) {
	return s.mutate(ctx, id, "ApplyDiscount", func(c *domain.Cart, now time.Time) error {
		return c.ApplyDiscount(code, amount, now)
	})
}

func (s *CartService) ExtendExpiry(ctx context.Context, id session.Identity, days int) (*domain.Cart, error) {
	cart, err := s.mutate(ctx, id, "ExtendExpiry", func(c *domain.Cart, now time.Time) error {
		return c.ExtendExpiry(days, now)
	})
	if err != nil {
		return nil, err
	}
	s.remember(ctx, ownerKey(id), cart)
	return cart, nil
}

// AttachSessionCart runs at sign-in. The guest cart becomes the user's cart
// when the user has none; otherwise its lines are merged into the user's cart
// and the guest cart is abandoned. Lines that no longer fit are dropped.
func (s *CartService) AttachSessionCart(ctx context.Context, id session.Identity) (*domain.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.AttachSessionCart")
	defer span.End()

	if id.IsAnonymous() {
		return nil, &domain.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if id.SessionID == "" {
		return s.CurrentCart(ctx, id)
	}

	found, err := s.carts.FindActiveCartBySession(ctx, id.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session cart: %w", err)
	}
	if found == nil || found.IsExpired(s.clock.Now()) {
		return s.CurrentCart(ctx, id)
	}

	var result *domain.Cart
	err = withLock(ctx, s.locker, cartLockKey(found.ID()), s.lockTTL, func() error {
		guest, err := s.carts.GetCart(ctx, found.ID())
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if guest.Status() != domain.CartStatusActive || guest.IsExpired(now) {
			// Checked out or expired since it was found.
			return nil
		}

		owned, err := s.carts.FindActiveCartByUser(ctx, id.UserID)
		if err != nil {
			return fmt.Errorf("failed to find user cart: %w", err)
		}

		if owned == nil || owned.IsExpired(now) {
			if owned != nil {
				if err := s.expire(ctx, owned, now); err != nil {
					return err
				}
			}
			if err := guest.AssignToUser(id.UserID, now); err != nil {
				return err
			}
			if err := s.carts.SaveCart(ctx, guest); err != nil {
				return fmt.Errorf("failed to save cart: %w", err)
			}
			result = guest
			return nil
		}

		return withLock(ctx, s.locker, cartLockKey(owned.ID()), s.lockTTL, func() error {
			userCart, err := s.carts.GetCart(ctx, owned.ID())
			if err != nil {
				return err
			}
			s.mergeLines(ctx, userCart, guest, now)
			if err := s.carts.SaveCart(ctx, userCart); err != nil {
				return fmt.Errorf("failed to save cart: %w", err)
			}
			if err := guest.Abandon(now); err != nil {
				return err
			}
			if err := s.carts.SaveCart(ctx, guest); err != nil {
				return fmt.Errorf("failed to save session cart: %w", err)
			}
			result = userCart
			return nil
		})
	})
	if err != nil {
		util.RecordError(ctx, err)
		return nil, err
	}
	s.forget(ctx, "session:"+id.SessionID)
	if result == nil {
		return s.CurrentCart(ctx, id)
	}

	s.remember(ctx, ownerKey(id), result)
	util.CartOperationsTotal.WithLabelValues("AttachSessionCart").Inc()

	s.logger.Info("Session cart attached",
		zap.String("cart_id", result.ID()),
		zap.String("session_cart_id", found.ID()),
		zap.String("user_id", id.UserID))

	return result, nil
}

func (s *CartService) mergeLines(ctx context.Context, into, from *domain.Cart, now time.Time) {
	for _, line := range from.Items() {
		product, err := s.products.GetProduct(ctx, line.ProductID)
		if err == nil {
			err = into.AddItem(product, line.Quantity, now)
		}
		if err != nil {
			s.logger.Warn("Dropped line while merging carts",
				zap.String("cart_id", into.ID()),
				zap.String("product_id", line.ProductID),
				zap.Int("quantity", line.Quantity),
				zap.Error(err))
		}
	}
}

// SweepExpired expires up to limit ACTIVE carts whose expiry has passed and
// returns how many it expired. Carts locked by a request are left for the next sweep.
func (s *CartService) SweepExpired(ctx context.Context, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "CartService.SweepExpired")
	defer span.End()

	ids, err := s.carts.ListExpiredCartIDs(ctx, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, cartID := range ids {
		err := withLock(ctx, s.locker, cartLockKey(cartID), s.lockTTL, func() error {
			cart, err := s.carts.GetCart(ctx, cartID)
			if err != nil {
				return err
			}
			now := s.clock.Now()
			if cart.Status() != domain.CartStatusActive || !cart.IsExpired(now) {
				return nil
			}
			if err := s.expire(ctx, cart, now); err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil && !errors.Is(err, ErrBusy) {
			s.logger.Error("Failed to expire cart",
				zap.String("cart_id", cartID),
				zap.Error(err))
		}
	}

	return expired, nil
}
