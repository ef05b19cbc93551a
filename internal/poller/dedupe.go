package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/textwallet/internal/messages"
)

// Deduper claims a message for dispatch across restarts and replicas.
type Deduper interface {
	Claim(ctx context.Context, msg messages.Message) (bool, error)
}

// RedisDeduper claims messages with SETNX so a message is dispatched by at
// most one process within ttl.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper builds a deduper whose claims expire after ttl.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func dedupeKey(msg messages.Message) string {
	return fmt.Sprintf("dispatch:v1:%s:%d", msg.Identity, msg.Timestamp)
}

// Claim reports whether this call won the message.
func (d *RedisDeduper) Claim(ctx context.Context, msg messages.Message) (bool, error) {
	ok, err := d.client.SetNX(ctx, dedupeKey(msg), time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim message: %w", err)
	}
	return ok, nil
}
