package service_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dss-platform/auth/internal/auth/service"
	"github.com/dss-platform/auth/internal/auth/store"
	redisstore "github.com/dss-platform/auth/internal/auth/store/drivers/redis"
	"github.com/dss-platform/auth/pkg/keystore"
)

func newRotation(t *testing.T) (*service.KeyRotationService, string, store.DiscoveryCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	reg := redisstore.New(rdb)
	t.Cleanup(func() { _ = reg.Close() })

	dir := t.TempDir()
	rotation := service.NewKeyRotationService(dir, reg.DiscoveryCache(),
		slog.New(slog.DiscardHandler))
	return rotation, dir, reg.DiscoveryCache()
}

func TestEnsureProvisionsFirstKey(t *testing.T) {
	rotation, _, _ := newRotation(t)
	ctx := context.Background()

	require.NoError(t, rotation.Ensure(ctx, "2026-01"))

	kid, err := rotation.ActiveKid()
	require.NoError(t, err)
	require.Equal(t, "2026-01", kid)

	// Ensure is idempotent and does not steal the active pointer.
	require.NoError(t, rotation.Ensure(ctx, "2026-02"))
	kid, err = rotation.ActiveKid()
	require.NoError(t, err)
	require.Equal(t, "2026-01", kid)
}

func TestRotateFlipsActiveAndBustsCache(t *testing.T) {
	rotation, dir, cache := newRotation(t)
	ctx := context.Background()

	require.NoError(t, rotation.Ensure(ctx, "old"))
	require.NoError(t, cache.Set(ctx, []byte(`{"keys":[]}`), time.Hour))

	require.NoError(t, rotation.Rotate(ctx, "new"))

	kid, err := rotation.ActiveKid()
	require.NoError(t, err)
	require.Equal(t, "new", kid)

	// The stale cached document is gone.
	_, err = cache.Get(ctx)
	require.ErrorIs(t, err, store.ErrNotFound)

	// Both kids still load; the retired one keeps verifying.
	keys, err := keystore.Open(dir, keystore.Options{})
	require.NoError(t, err)
	_, err = keys.PublicKey("old")
	require.NoError(t, err)
	require.Equal(t, "new", keys.ActiveKid())
}

func TestRevokeRefusesActiveKid(t *testing.T) {
	rotation, _, _ := newRotation(t)
	ctx := context.Background()

	require.NoError(t, rotation.Ensure(ctx, "2026-01"))
	require.ErrorIs(t, rotation.Revoke(ctx, "2026-01"), keystore.ErrActiveKid)

	require.NoError(t, rotation.Rotate(ctx, "2026-02"))
	require.NoError(t, rotation.Revoke(ctx, "2026-01"))

	infos, err := rotation.List()
	require.NoError(t, err)
	byKid := map[string]keystore.KidInfo{}
	for _, info := range infos {
		byKid[info.Kid] = info
	}
	require.True(t, byKid["2026-01"].Archived)
	require.True(t, byKid["2026-02"].Active)
}
