// Package store defines the registry interfaces over the shared key-value
// store: the revocation blacklist, the refresh-token allow-list and per-user
// session sets, fixed-window rate counters, and the cached discovery
// document. Concrete drivers live under drivers/.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound reports a missing key where the caller needs to tell
	// "absent" apart from "empty".
	ErrNotFound = errors.New("store: not found")

	// ErrUnavailable wraps connectivity failures. Security-critical paths
	// (refresh rotation) treat it as a hard deny.
	ErrUnavailable = errors.New("store: unavailable")
)

// RotateStatus is the outcome of the atomic refresh-rotation step.
type RotateStatus int

const (
	// RotateReuse means the jti was missing from the allow-list without
	// being blacklisted: the token was already rotated away and is now
	// being replayed. This is the primary token-theft signal.
	RotateReuse RotateStatus = iota

	// RotateRevoked means the jti sat on the blacklist (logout or mass
	// revocation happened before this refresh arrived).
	RotateRevoked

	// RotateOK means the old jti was atomically consumed: blacklisted,
	// dropped from the allow-list, and removed from the session set.
	RotateOK
)

// Registry is the root interface over the shared store.
type Registry interface {
	Revocations() Revocations
	Sessions() Sessions
	Counters() Counters
	DiscoveryCache() DiscoveryCache

	// Ping verifies the store connection is alive; used by readiness checks.
	Ping(ctx context.Context) error

	Close() error
}

// Revocations is the jti blacklist. Entries carry a TTL equal to the
// remaining lifetime of the token they belong to, so they self-expire
// exactly when revocation would become moot.
type Revocations interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

// Sessions tracks outstanding refresh-token ids: an allow-list entry per jti
// plus a per-user set for bulk operations.
type Sessions interface {
	// Allow registers a freshly issued refresh jti.
	Allow(ctx context.Context, jti string, ttl time.Duration) error

	// IsAllowed reports whether a jti is still redeemable.
	IsAllowed(ctx context.Context, jti string) (bool, error)

	// Add records the jti in the user's session set.
	Add(ctx context.Context, userID, jti string) error

	// Remove drops the jti from both the allow-list and the session set.
	Remove(ctx context.Context, userID, jti string) error

	// List returns the user's outstanding refresh jtis.
	List(ctx context.Context, userID string) ([]string, error)

	// Clear removes the user's whole session set and returns the jtis it
	// contained so the caller can blacklist every one of them.
	Clear(ctx context.Context, userID string) ([]string, error)

	// Rotate atomically consumes oldJTI: verifies it is allow-listed and
	// not blacklisted, then blacklists it for blacklistTTL, removes the
	// allow-list entry, and drops it from the user's session set. The
	// returned status tells replay ("reuse") apart from revocation. A
	// partially applied rotation must never leave oldJTI redeemable.
	Rotate(ctx context.Context, userID, oldJTI string, blacklistTTL time.Duration) (RotateStatus, error)
}

// Counters are fixed-window rate counters shared across instances.
type Counters interface {
	// Incr bumps the counter, starting the window on the first hit, and
	// returns the new count.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)

	// Get returns the current count; missing keys read as zero.
	Get(ctx context.Context, key string) (int64, error)

	// Reset clears counters, typically after a successful attempt.
	Reset(ctx context.Context, keys ...string) error
}

// DiscoveryCache holds the rendered JWKS document. It is a best-effort side
// channel: the key store's own load is always the source of truth, a stale
// or missing cache only slows propagation.
type DiscoveryCache interface {
	Get(ctx context.Context) ([]byte, error) // ErrNotFound when cold
	Set(ctx context.Context, doc []byte, ttl time.Duration) error
	Clear(ctx context.Context) error
}
