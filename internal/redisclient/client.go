package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const availabilityTTL = 5 * time.Minute

// Client caches product availability for catalog reads and hands out
// short-lived checkout locks. The database stays authoritative; everything
// here is advisory.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
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

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// SetAvailability caches the displayed stock level for a product.
func (c *Client) SetAvailability(ctx context.Context, productID int64, available int) error {
	return c.rdb.Set(ctx, availabilityKey(productID), available, availabilityTTL).Err()
}

// GetAvailability returns the cached stock level. The second return is false
// on a cache miss.
func (c *Client) GetAvailability(ctx context.Context, productID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, availabilityKey(productID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	available, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt availability entry for product %d: %w", productID, err)
	}
	return available, true, nil
}

// InvalidateAvailability drops the cached stock level for a product.
func (c *Client) InvalidateAvailability(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, availabilityKey(productID)).Err()
}

// AcquireLock takes a best-effort distributed lock, used to keep one user
// from running two checkouts at once.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

func availabilityKey(productID int64) string {
	return fmt.Sprintf("availability:%d", productID)
}
