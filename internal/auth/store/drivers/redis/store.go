// Package redis implements the registry over a shared Redis instance, which
// is what lets multiple service replicas agree on revocations, sessions, and
// rate budgets.
//
// Key scheme:
//
//	blacklist:<jti>      revoked token id, TTL = remaining token lifetime
//	refresh:<jti>        allow-list entry for an outstanding refresh token
//	uid:<userID>:sessions set of the user's outstanding refresh jtis
//	rl:<scope>:<key>     fixed-window rate counters
//	jwks                 cached discovery document
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dss-platform/auth/internal/auth/store"
)

const (
	blacklistPrefix = "blacklist:"
	allowPrefix     = "refresh:"
	sessionsFormat  = "uid:%s:sessions"
	jwksKey         = "jwks"
)

// Store implements store.Registry on a go-redis universal client.
type Store struct {
	rdb redis.UniversalClient
}

// New wraps an existing Redis client. The caller owns client configuration
// (addresses, TLS, pooling); this package only owns the key scheme.
func New(rdb redis.UniversalClient) *Store {
	return &Store{rdb: rdb}
}

func (s *Store) Revocations() store.Revocations       { return (*revocations)(s) }
func (s *Store) Sessions() store.Sessions             { return (*sessions)(s) }
func (s *Store) Counters() store.Counters             { return (*counters)(s) }
func (s *Store) DiscoveryCache() store.DiscoveryCache { return (*discoveryCache)(s) }

func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}

func sessionsKey(userID string) string {
	return fmt.Sprintf(sessionsFormat, userID)
}

// unavailable tags driver failures so callers can fail closed on the store
// being down without matching go-redis error strings.
func unavailable(err error) error {
	return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
}
