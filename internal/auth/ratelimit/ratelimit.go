// Package ratelimit throttles authentication abuse with fixed-window
// counters in the shared store, so the budget holds across service replicas.
// Only failed attempts are counted; a success resets the window.
package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dss-platform/auth/internal/auth/store"
	"github.com/dss-platform/auth/pkg/cryptox"
)

// ErrRateLimited is returned for every throttled scope. Handlers map it to a
// single uniform response so callers cannot tell which budget they exhausted.
var ErrRateLimited = errors.New("ratelimit: too many attempts")

// Limiter enforces a max number of failures per fixed window for one scope.
type Limiter struct {
	counters store.Counters
	scope    string
	limit    int64
	window   time.Duration
}

// New builds a limiter over the shared counters. Scope becomes part of the
// counter key, so two limiters with different scopes never collide.
func New(counters store.Counters, scope string, limit int64, window time.Duration) *Limiter {
	return &Limiter{counters: counters, scope: scope, limit: limit, window: window}
}

func (l *Limiter) key(id string) string {
	return "rl:" + l.scope + ":" + id
}

// Allow reports whether the caller still has budget. It does not consume
// any: call RecordFailure after the attempt actually fails.
func (l *Limiter) Allow(ctx context.Context, id string) error {
	count, err := l.counters.Get(ctx, l.key(id))
	if err != nil {
		return err
	}
	if count >= l.limit {
		return ErrRateLimited
	}
	return nil
}

// RecordFailure burns one unit of budget. The first failure in a window
// starts the window clock; later failures do not extend it.
func (l *Limiter) RecordFailure(ctx context.Context, id string) error {
	count, err := l.counters.Incr(ctx, l.key(id), l.window)
	if err != nil {
		return err
	}
	if count > l.limit {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counter after a successful attempt.
func (l *Limiter) Reset(ctx context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = l.key(id)
	}
	return l.counters.Reset(ctx, keys...)
}

// AccountKey normalizes the identifier used by the per-account login
// limiter. The email wins when known because it is the stable handle; either
// way the key is case-folded so "Alice@Example.com" and "alice@example.com"
// share a budget.
func AccountKey(username, email string) string {
	if email != "" {
		return strings.ToLower(email)
	}
	return strings.ToLower(username)
}

// TokenKey derives the counter key for refresh-token abuse from the token
// itself. Hashing keeps raw tokens out of the store.
func TokenKey(token string) string {
	return cryptox.FingerprintToken(token)
}

// Config carries the per-scope budgets.
type Config struct {
	LoginIPLimit       int64
	LoginIPWindow      time.Duration
	LoginAccountLimit  int64
	LoginAccountWindow time.Duration
	ResetLimit         int64
	ResetWindow        time.Duration
	RefreshLimit       int64
	RefreshWindow      time.Duration
}

// DefaultConfig matches the budgets the service ships with.
func DefaultConfig() Config {
	return Config{
		LoginIPLimit:       10,
		LoginIPWindow:      15 * time.Minute,
		LoginAccountLimit:  10,
		LoginAccountWindow: 15 * time.Minute,
		ResetLimit:         3,
		ResetWindow:        time.Hour,
		RefreshLimit:       10,
		RefreshWindow:      5 * time.Minute,
	}
}

// Limiters bundles the four authentication budgets.
type Limiters struct {
	// LoginIP throttles failed logins per source address.
	LoginIP *Limiter
	// LoginAccount throttles failed logins per target account, which is
	// what stops a distributed guess against a single user.
	LoginAccount *Limiter
	// Reset throttles password-reset requests per email.
	Reset *Limiter
	// Refresh throttles failed refresh attempts per token hash.
	Refresh *Limiter
}

// NewLimiters wires the standard budgets over the shared counters.
func NewLimiters(counters store.Counters, cfg Config) *Limiters {
	return &Limiters{
		LoginIP:      New(counters, "login-ip", cfg.LoginIPLimit, cfg.LoginIPWindow),
		LoginAccount: New(counters, "login-acct", cfg.LoginAccountLimit, cfg.LoginAccountWindow),
		Reset:        New(counters, "reset", cfg.ResetLimit, cfg.ResetWindow),
		Refresh:      New(counters, "refresh", cfg.RefreshLimit, cfg.RefreshWindow),
	}
}
