package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dss-platform/auth/internal/auth/store"
	redisstore "github.com/dss-platform/auth/internal/auth/store/drivers/redis"
)

func newStore(t *testing.T) (*redisstore.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	s := redisstore.New(rdb)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRevocations(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	rev := s.Revocations()

	revoked, err := rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)

	require.NoError(t, rev.Revoke(ctx, "jti-1", time.Hour))

	revoked, err = rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, revoked)

	// The blacklist entry self-expires with the token's remaining lifetime.
	mr.FastForward(2 * time.Hour)
	revoked, err = rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, revoked)
}

func TestRevokeExpiredTokenIsNoop(t *testing.T) {
	s, mr := newStore(t)

	require.NoError(t, s.Revocations().Revoke(context.Background(), "jti-old", -time.Minute))
	require.False(t, mr.Exists("blacklist:jti-old"))
}

func TestSessionLifecycle(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	require.NoError(t, sessions.Allow(ctx, "jti-1", time.Hour))
	require.NoError(t, sessions.Add(ctx, "user-1", "jti-1"))
	require.NoError(t, sessions.Allow(ctx, "jti-2", time.Hour))
	require.NoError(t, sessions.Add(ctx, "user-1", "jti-2"))

	allowed, err := sessions.IsAllowed(ctx, "jti-1")
	require.NoError(t, err)
	require.True(t, allowed)

	jtis, err := sessions.List(ctx, "user-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"jti-1", "jti-2"}, jtis)

	// Remove drops both the allow-list entry and the set member.
	require.NoError(t, sessions.Remove(ctx, "user-1", "jti-1"))
	allowed, err = sessions.IsAllowed(ctx, "jti-1")
	require.NoError(t, err)
	require.False(t, allowed)

	jtis, err = sessions.List(ctx, "user-1")
	require.NoError(t, err)
	require.Equal(t, []string{"jti-2"}, jtis)
}

func TestClearReturnsMembersAndDropsAllowEntries(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	for _, jti := range []string{"a", "b", "c"} {
		require.NoError(t, sessions.Allow(ctx, jti, time.Hour))
		require.NoError(t, sessions.Add(ctx, "user-1", jti))
	}

	members, err := sessions.Clear(ctx, "user-1")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"a", "b", "c"}, members)

	for _, jti := range members {
		require.False(t, mr.Exists("refresh:"+jti))
	}
	require.False(t, mr.Exists("uid:user-1:sessions"))

	// Clearing an empty set is fine and returns nothing.
	members, err = sessions.Clear(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestRotateConsumesExactlyOnce(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	require.NoError(t, sessions.Allow(ctx, "jti-1", time.Hour))
	require.NoError(t, sessions.Add(ctx, "user-1", "jti-1"))

	status, err := sessions.Rotate(ctx, "user-1", "jti-1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, store.RotateOK, status)

	// The consumed jti is blacklisted, off the allow-list, and out of the
	// session set.
	require.True(t, mr.Exists("blacklist:jti-1"))
	require.False(t, mr.Exists("refresh:jti-1"))
	jtis, err := sessions.List(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, jtis)

	// A second rotation of the same jti finds the blacklist entry: this is
	// the logged-out/already-consumed case, reported as revoked.
	status, err = sessions.Rotate(ctx, "user-1", "jti-1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, store.RotateRevoked, status)
}

func TestRotateDetectsReuse(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	// A jti that was never allow-listed and is not blacklisted either is a
	// replay of a token rotated away long ago (the blacklist entry has
	// already expired).
	status, err := sessions.Rotate(ctx, "user-1", "jti-forged", time.Hour)
	require.NoError(t, err)
	require.Equal(t, store.RotateReuse, status)
}

func TestRotateReportsRevokedForBlacklistedJTI(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	// Logout blacklists the jti but a refresh may still race in afterwards.
	require.NoError(t, s.Revocations().Revoke(ctx, "jti-1", time.Hour))

	status, err := s.Sessions().Rotate(ctx, "user-1", "jti-1", time.Hour)
	require.NoError(t, err)
	require.Equal(t, store.RotateRevoked, status)
}

func TestCountersFixedWindow(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	counters := s.Counters()

	count, err := counters.Get(ctx, "rl:login-ip:1.2.3.4")
	require.NoError(t, err)
	require.Zero(t, count, "missing counters read as zero")

	count, err = counters.Incr(ctx, "rl:login-ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	count, err = counters.Incr(ctx, "rl:login-ip:1.2.3.4", time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	// The window started with the first hit; later hits do not extend it.
	mr.FastForward(61 * time.Second)
	count, err = counters.Get(ctx, "rl:login-ip:1.2.3.4")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestCountersReset(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	counters := s.Counters()

	_, err := counters.Incr(ctx, "rl:a", time.Minute)
	require.NoError(t, err)
	_, err = counters.Incr(ctx, "rl:b", time.Minute)
	require.NoError(t, err)

	require.NoError(t, counters.Reset(ctx, "rl:a", "rl:b"))

	count, err := counters.Get(ctx, "rl:a")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestDiscoveryCache(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()
	cache := s.DiscoveryCache()

	_, err := cache.Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	doc := []byte(`{"keys":[]}`)
	require.NoError(t, cache.Set(ctx, doc, time.Hour))

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	require.Equal(t, doc, got)

	require.NoError(t, cache.Clear(ctx))
	_, err = cache.Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	// The cache entry ages out on its own TTL even without a bust.
	require.NoError(t, cache.Set(ctx, doc, time.Minute))
	mr.FastForward(2 * time.Minute)
	_, err = cache.Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUnavailableStoreSurfacesErrUnavailable(t *testing.T) {
	s, mr := newStore(t)
	ctx := context.Background()

	mr.Close()

	_, err := s.Sessions().Rotate(ctx, "user-1", "jti-1", time.Hour)
	require.ErrorIs(t, err, store.ErrUnavailable)

	_, err = s.Revocations().IsRevoked(ctx, "jti-1")
	require.ErrorIs(t, err, store.ErrUnavailable)

	require.ErrorIs(t, s.Ping(ctx), store.ErrUnavailable)
}
