package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type revocations Store

func (r *revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	err := r.rdb.Get(ctx, blacklistPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err)
	}
	return true, nil
}

func (r *revocations) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	// A token at or past its natural expiry needs no blacklist entry.
	if ttl <= 0 {
		return nil
	}
	if err := r.rdb.Set(ctx, blacklistPrefix+jti, "1", ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
