package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dss-platform/auth/internal/auth/store"
)

type sessions Store

const (
	rotateStatusRevoked int64 = 0
	rotateStatusReuse   int64 = 1
	rotateStatusRotated int64 = 2
)

// rotateScript consumes a refresh jti in one atomic step. Checking and
// writing in a single script closes the race where two replays of the same
// token both pass the allow-list read. The blacklist check runs first so a
// logged-out token reports as revoked, not as reuse; an allow-list miss
// without a blacklist entry is replay of an already-rotated token.
//
//	KEYS[1] = refresh:<jti>  KEYS[2] = blacklist:<jti>  KEYS[3] = uid:<user>:sessions
//	ARGV[1] = jti            ARGV[2] = blacklist TTL (seconds)
const rotateScript = `
if redis.call("EXISTS", KEYS[2]) == 1 then
  redis.call("DEL", KEYS[1])
  redis.call("SREM", KEYS[3], ARGV[1])
  return 0
end
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 1
end
redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[3], ARGV[1])
if tonumber(ARGV[2]) > 0 then
  redis.call("SET", KEYS[2], "1", "EX", ARGV[2])
end
return 2
`

var rotateLua = redis.NewScript(rotateScript)

func (s *sessions) Allow(ctx context.Context, jti string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, allowPrefix+jti, "1", ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *sessions) IsAllowed(ctx context.Context, jti string) (bool, error) {
	err := s.rdb.Get(ctx, allowPrefix+jti).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, unavailable(err)
	}
	return true, nil
}

func (s *sessions) Add(ctx context.Context, userID, jti string) error {
	if err := s.rdb.SAdd(ctx, sessionsKey(userID), jti).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *sessions) Remove(ctx context.Context, userID, jti string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, allowPrefix+jti)
	pipe.SRem(ctx, sessionsKey(userID), jti)
	if _, err := pipe.Exec(ctx); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *sessions) List(ctx context.Context, userID string) ([]string, error) {
	members, err := s.rdb.SMembers(ctx, sessionsKey(userID)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

func (s *sessions) Clear(ctx context.Context, userID string) ([]string, error) {
	key := sessionsKey(userID)

	members, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := s.rdb.TxPipeline()
	for _, jti := range members {
		pipe.Del(ctx, allowPrefix+jti)
	}
	pipe.Del(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, unavailable(err)
	}
	return members, nil
}

func (s *sessions) Rotate(ctx context.Context, userID, oldJTI string, blacklistTTL time.Duration) (store.RotateStatus, error) {
	ttlSec := int64(blacklistTTL / time.Second)

	res, err := rotateLua.Run(ctx, s.rdb,
		[]string{allowPrefix + oldJTI, blacklistPrefix + oldJTI, sessionsKey(userID)},
		oldJTI, ttlSec,
	).Int64()
	if err != nil {
		return 0, unavailable(err)
	}

	switch res {
	case rotateStatusRevoked:
		return store.RotateRevoked, nil
	case rotateStatusReuse:
		return store.RotateReuse, nil
	case rotateStatusRotated:
		return store.RotateOK, nil
	default:
		return 0, fmt.Errorf("%w: unexpected rotate status %d", store.ErrUnavailable, res)
	}
}
