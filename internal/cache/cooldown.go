package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "payerwatch:cooldown:"

// Cooldown is the redis fast-path for fingerprint cooldown checks. It only
// short-circuits obvious duplicates; the database unique constraint on
// (fingerprint, cooldown_bucket) remains the authoritative backstop, so cache
// failures always fail toward "not seen".
type Cooldown struct {
	client *redis.Client
}

// NewCooldown wraps a redis client. A nil client disables the fast-path.
func NewCooldown(client *redis.Client) *Cooldown {
	return &Cooldown{client: client}
}

// Seen reports whether the fingerprint was marked within its TTL.
func (c *Cooldown) Seen(ctx context.Context, fingerprint string) bool {
	if c == nil || c.client == nil {
		return false
	}
	n, err := c.client.Exists(ctx, keyPrefix+fingerprint).Result()
	if err != nil {
		log.Warn().Err(err).Msg("cooldown cache read failed, falling through to store")
		return false
	}
	return n > 0
}

// Mark records the fingerprint for the cooldown window. Best effort.
func (c *Cooldown) Mark(ctx context.Context, fingerprint string, ttl time.Duration) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, keyPrefix+fingerprint, "1", ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("cooldown cache write failed")
	}
}
