package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dss-platform/auth/internal/auth/store"
)

type discoveryCache Store

func (d *discoveryCache) Get(ctx context.Context) ([]byte, error) {
	doc, err := d.rdb.Get(ctx, jwksKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return doc, nil
}

func (d *discoveryCache) Set(ctx context.Context, doc []byte, ttl time.Duration) error {
	if err := d.rdb.Set(ctx, jwksKey, doc, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (d *discoveryCache) Clear(ctx context.Context) error {
	if err := d.rdb.Del(ctx, jwksKey).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
