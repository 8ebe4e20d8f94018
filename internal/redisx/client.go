// Package redisx is the request-path read cache, never a system of record:
// GET /orders/{orderId} responses are cached here with a short TTL; the
// rows in Postgres remain authoritative. Inventory availability is not
// cached.
package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	r := redis.NewClient(&redis.Options{Addr: addr})
	_ = r.WithTimeout(2 * time.Second)
	return r
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}
