package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"fandry/internal/model"

	"github.com/go-redis/redis/v8"
)

// generationTTL bounds how long an invalidation is remembered. It only has to outlive the
// gap between a reader taking the generation and writing its fill.
const generationTTL = 24 * time.Hour

// fillScript writes the projection only if no invalidation happened since the reader
// took the generation. A missing generation key reads as "0".
var fillScript = redis.NewScript(`
local gen = redis.call("GET", KEYS[2])
if (gen or "0") ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1
`)

var invalidateScript = redis.NewScript(`
redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ARGV[1])
redis.call("DEL", KEYS[1])
return 1
`)

// BalanceCache holds a read projection of point_balances. The database row stays the
// only source of truth: every committed mutation deletes the key and bumps the user's
// generation, and a miss reloads the row.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache keeps filled entries for ttl.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	return &BalanceCache{client: client, ttl: ttl}
}

func balanceKey(userID int64) string {
	return fmt.Sprintf("points:balance:user:%d", userID)
}

func generationKey(userID int64) string {
	return fmt.Sprintf("points:balance:gen:%d", userID)
}

// Get returns (nil, nil) on a miss.
func (c *BalanceCache) Get(ctx context.Context, userID int64) (*model.PointBalance, error) {
	raw, err := c.client.Get(ctx, balanceKey(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var balance model.PointBalance
	if err := json.Unmarshal(raw, &balance); err != nil {
		// a corrupt entry is treated as a miss and dropped
		_ = c.client.Del(ctx, balanceKey(userID)).Err()
		return nil, nil
	}
	return &balance, nil
}

// Generation must be read before the database row a later Fill will write.
func (c *BalanceCache) Generation(ctx context.Context, userID int64) (string, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// Fill stores balance unless the user was invalidated after generation was read.
// It reports whether the entry was written.
func (c *BalanceCache) Fill(ctx context.Context, balance *model.PointBalance, generation string) (bool, error) {
	raw, err := json.Marshal(balance)
	if err != nil {
		return false, err
	}
	keys := []string{balanceKey(balance.UserID), generationKey(balance.UserID)}
	written, err := fillScript.Run(ctx, c.client, keys, generation, raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return written == 1, nil
}

// Invalidate drops the entry and fences off fills that loaded the row before the mutation.
func (c *BalanceCache) Invalidate(ctx context.Context, userID int64) error {
	keys := []string{balanceKey(userID), generationKey(userID)}
	return invalidateScript.Run(ctx, c.client, keys, generationTTL.Milliseconds()).Err()
}
