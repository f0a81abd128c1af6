package redisclient

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/reserve_stock.lua
var reserveStockScript string

//go:embed scripts/release_stock.lua
var releaseStockScript string

//go:embed scripts/commit_stock.lua
var commitStockScript string

//go:embed scripts/add_stock.lua
var addStockScript string

// ErrInventoryNotCached is returned when a product has no mirror entry yet.
var ErrInventoryNotCached = errors.New("inventory not cached")

// StockResult is the outcome of a stock script.
type StockResult int64

const (
	StockMissing  StockResult = -1
	StockRejected StockResult = 0
	StockApplied  StockResult = 1
)

type Client struct {
	rdb           *redis.Client
	reserveScript *redis.Script
	releaseScript *redis.Script
	commitScript  *redis.Script
	addScript     *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewClientWithRedis(rdb), nil
}

// NewClientWithRedis wraps an existing connection
func NewClientWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		reserveScript: redis.NewScript(reserveStockScript),
		releaseScript: redis.NewScript(releaseStockScript),
		commitScript:  redis.NewScript(commitStockScript),
		addScript:     redis.NewScript(addStockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func inventoryKey(productID string) string {
	return fmt.Sprintf("inventory:%s", productID)
}

// ReserveStock atomically moves quantity into the reserved counter if enough is available
func (c *Client) ReserveStock(ctx context.Context, productID string, quantity int) (StockResult, error) {
	return c.runStockScript(ctx, c.reserveScript, "reserve", productID, quantity)
}

// ReleaseStock atomically returns reserved quantity to the available pool
func (c *Client) ReleaseStock(ctx context.Context, productID string, quantity int) (StockResult, error) {
	return c.runStockScript(ctx, c.releaseScript, "release", productID, quantity)
}

// CommitStock atomically removes a shipped reservation from stock
func (c *Client) CommitStock(ctx context.Context, productID string, quantity int) (StockResult, error) {
	return c.runStockScript(ctx, c.commitScript, "commit", productID, quantity)
}

// AddStock atomically increases on-hand stock
func (c *Client) AddStock(ctx context.Context, productID string, quantity int) (StockResult, error) {
	return c.runStockScript(ctx, c.addScript, "add", productID, quantity)
}

func (c *Client) runStockScript(ctx context.Context, script *redis.Script, name, productID string, quantity int) (StockResult, error) {
	result, err := script.Run(ctx, c.rdb, []string{inventoryKey(productID)}, quantity).Result()
	if err != nil {
		return StockRejected, fmt.Errorf("%s stock script failed: %w", name, err)
	}

	code, ok := result.(int64)
	if !ok {
		return StockRejected, fmt.Errorf("unexpected script result type %T", result)
	}
	return StockResult(code), nil
}

// InitInventory overwrites the mirrored counters for a product
func (c *Client) InitInventory(ctx context.Context, productID string, stock, reserved int) error {
	key := inventoryKey(productID)

	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, "stock", stock, "reserved", reserved)

	_, err := pipe.Exec(ctx)
	return err
}

// GetInventory retrieves the mirrored counters
func (c *Client) GetInventory(ctx context.Context, productID string) (stock, reserved int, err error) {
	result, err := c.rdb.HGetAll(ctx, inventoryKey(productID)).Result()
	if err != nil {
		return 0, 0, err
	}

	if len(result) == 0 {
		return 0, 0, fmt.Errorf("%w: product %s", ErrInventoryNotCached, productID)
	}

	if stock, err = strconv.Atoi(result["stock"]); err != nil {
		return 0, 0, fmt.Errorf("invalid stock for product %s: %w", productID, err)
	}
	if reserved, err = strconv.Atoi(result["reserved"]); err != nil {
		return 0, 0, fmt.Errorf("invalid reserved for product %s: %w", productID, err)
	}
	return stock, reserved, nil
}

// SetIdempotencyKey stores an idempotency key with TTL
func (c *Client) SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("idempotency:%s", key), value, ttl).Err()
}

// GetIdempotencyKey returns the value stored under key, if any
func (c *Client) GetIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, fmt.Sprintf("idempotency:%s", key)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// CacheCartID remembers which cart is active for an owner (user or session key)
func (c *Client) CacheCartID(ctx context.Context, owner, cartID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("cart-owner:%s", owner), cartID, ttl).Err()
}

// CachedCartID returns the cached active cart id for owner, if any
func (c *Client) CachedCartID(ctx context.Context, owner string) (string, bool, error) {
	cartID, err := c.rdb.Get(ctx, fmt.Sprintf("cart-owner:%s", owner)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return cartID, true, nil
}

func (c *Client) ForgetCartID(ctx context.Context, owner string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("cart-owner:%s", owner)).Err()
}

// AcquireLock acquires a distributed lock
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
