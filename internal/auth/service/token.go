// Package service holds the token lifecycle logic: login issuance, the
// refresh-rotation state machine, revocation, password reset, and the
// key-rotation orchestrator. Handlers stay thin; everything that decides
// lives here.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dss-platform/auth/internal/auth/directory"
	"github.com/dss-platform/auth/internal/auth/domain"
	"github.com/dss-platform/auth/internal/auth/ratelimit"
	"github.com/dss-platform/auth/internal/auth/store"
	"github.com/dss-platform/auth/pkg/jwtx"
)

var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords
	// alike.
	ErrInvalidCredentials = errors.New("service: invalid credentials")

	// ErrInvalidToken is the single failure the boundary exposes for any
	// unusable token, whatever actually went wrong with it.
	ErrInvalidToken = errors.New("service: invalid or expired token")

	// ErrTokenReused marks a refresh token replayed after rotation. The
	// caller gets the same response as ErrInvalidToken, but the service has
	// already revoked every session of the affected user.
	ErrTokenReused = errors.New("service: refresh token reuse detected")
)

// Directory is the slice of the user-directory client the token service
// needs. Satisfied by *directory.Client.
type Directory interface {
	VerifyCredentials(ctx context.Context, identifier, password string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	UpdatePassword(ctx context.Context, userID, newPassword string) error
}

// TokenConfig tunes the token service.
type TokenConfig struct {
	// RevocationFailOpen lets access-token verification succeed when the
	// store is unreachable. Default is fail closed.
	RevocationFailOpen bool

	// ResetTTL bounds the password-reset token lifetime.
	ResetTTL time.Duration
}

// TokenService implements the token lifecycle over the codec, the shared
// registry, and the user directory.
type TokenService struct {
	codec    *jwtx.Codec
	registry store.Registry
	limits   *ratelimit.Limiters
	dir      Directory
	cfg      TokenConfig
	log      *slog.Logger
}

// NewTokenService wires the token lifecycle.
func NewTokenService(codec *jwtx.Codec, registry store.Registry, limits *ratelimit.Limiters, dir Directory, cfg TokenConfig, log *slog.Logger) *TokenService {
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = jwtx.DefaultResetTTL
	}
	return &TokenService{
		codec:    codec,
		registry: registry,
		limits:   limits,
		dir:      dir,
		cfg:      cfg,
		log:      log,
	}
}

// LoginInput is a credential pair plus the source address for rate limiting.
type LoginInput struct {
	Identifier string // username or email
	Password   string
	ClientIP   string
}

// Login verifies credentials against the directory and issues a token pair.
// Failed attempts burn both the per-IP and the per-account budget; a success
// clears them.
func (s *TokenService) Login(ctx context.Context, in LoginInput) (*domain.TokenPair, *domain.User, error) {
	acctKey := ratelimit.AccountKey(in.Identifier, "")

	if err := s.allow(ctx, s.limits.LoginIP, in.ClientIP); err != nil {
		return nil, nil, err
	}
	if err := s.allow(ctx, s.limits.LoginAccount, acctKey); err != nil {
		return nil, nil, err
	}

	user, err := s.dir.VerifyCredentials(ctx, in.Identifier, in.Password)
	if err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			s.recordFailure(ctx, s.limits.LoginIP, in.ClientIP)
			s.recordFailure(ctx, s.limits.LoginAccount, acctKey)
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, fmt.Errorf("verify credentials: %w", err)
	}

	if err := s.limits.LoginIP.Reset(ctx, in.ClientIP); err != nil {
		s.log.WarnContext(ctx, "reset login-ip counter failed", "error", err)
	}
	if err := s.limits.LoginAccount.Reset(ctx, acctKey); err != nil {
		s.log.WarnContext(ctx, "reset login-account counter failed", "error", err)
	}

	pair, err := s.issuePair(ctx, user.ID, jwtx.Carry{
		Roles:             user.Roles,
		PreferredUsername: user.Username,
		Email:             user.Email,
	})
	if err != nil {
		return nil, nil, err
	}
	return pair, user, nil
}

// Refresh redeems a refresh token exactly once, returning a new pair. A
// replayed token triggers mass revocation of the owning user's sessions.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	tokKey := ratelimit.TokenKey(refreshToken)
	if err := s.allow(ctx, s.limits.Refresh, tokKey); err != nil {
		return nil, err
	}

	claims, err := s.codec.Verify(refreshToken, jwtx.KindRefresh)
	if err != nil {
		s.recordFailure(ctx, s.limits.Refresh, tokKey)
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, jti := claims.Subject, claims.ID
	remaining := time.Until(claims.ExpiresAt.Time)

	// Rotation is fail-closed: if the store cannot confirm the old jti is
	// spent, no new tokens are granted.
	status, err := s.registry.Sessions().Rotate(ctx, userID, jti, remaining)
	if err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	switch status {
	case store.RotateReuse:
		s.log.WarnContext(ctx, "refresh token reuse detected, revoking all sessions",
			"user_id", userID, "jti", jti)
		s.revokeAllSessions(ctx, userID)
		return nil, ErrTokenReused

	case store.RotateRevoked:
		s.recordFailure(ctx, s.limits.Refresh, tokKey)
		return nil, ErrInvalidToken
	}

	if err := s.limits.Refresh.Reset(ctx, tokKey); err != nil {
		s.log.WarnContext(ctx, "reset refresh counter failed", "error", err)
	}

	return s.issuePair(ctx, userID, jwtx.CarryFrom(claims))
}

// Logout revokes the presented refresh token and drops it from the user's
// session set. It is idempotent: an invalid or already-spent token is not an
// error, the caller's cookie gets cleared either way.
func (s *TokenService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.codec.Verify(refreshToken, jwtx.KindRefresh)
	if err != nil {
		return nil
	}

	remaining := time.Until(claims.ExpiresAt.Time)
	if err := s.registry.Revocations().Revoke(ctx, claims.ID, remaining); err != nil {
		s.log.WarnContext(ctx, "logout revoke failed", "jti", claims.ID, "error", err)
		return nil
	}
	if err := s.registry.Sessions().Remove(ctx, claims.Subject, claims.ID); err != nil {
		s.log.WarnContext(ctx, "logout session removal failed", "jti", claims.ID, "error", err)
	}
	return nil
}

// VerifyAccess validates an access token and checks it against the
// revocation blacklist. Store outages deny by default.
func (s *TokenService) VerifyAccess(ctx context.Context, accessToken string) (*jwtx.Claims, error) {
	claims, err := s.codec.Verify(accessToken, jwtx.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	revoked, err := s.registry.Revocations().IsRevoked(ctx, claims.ID)
	if err != nil {
		if s.cfg.RevocationFailOpen && errors.Is(err, store.ErrUnavailable) {
			s.log.WarnContext(ctx, "revocation check unavailable, failing open", "error", err)
			return claims, nil
		}
		return nil, fmt.Errorf("revocation check: %w", err)
	}
	if revoked {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ForgotPassword mints a reset token for the account behind email. The token
// is returned to the caller boundary (mail delivery happens elsewhere). An
// unknown email returns empty without error, so the endpoint cannot be used
// to probe which addresses exist. Every request burns reset budget.
func (s *TokenService) ForgotPassword(ctx context.Context, email, clientIP string) (string, error) {
	key := strings.ToLower(email)
	if key == "" {
		key = clientIP
	}

	if err := s.allow(ctx, s.limits.Reset, key); err != nil {
		return "", err
	}
	s.recordFailure(ctx, s.limits.Reset, key)

	user, err := s.dir.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, directory.ErrUserNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	token, _, err := s.codec.IssueReset(user.ID, s.cfg.ResetTTL)
	if err != nil {
		return "", fmt.Errorf("issue reset token: %w", err)
	}
	return token, nil
}

// ResetPassword redeems a reset token: the password write is delegated to
// the directory, the token is consumed, and every outstanding session of the
// user is revoked.
func (s *TokenService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	claims, err := s.codec.Verify(resetToken, jwtx.KindReset)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	used, err := s.registry.Revocations().IsRevoked(ctx, claims.ID)
	if err != nil {
		return fmt.Errorf("reset token check: %w", err)
	}
	if used {
		return ErrInvalidToken
	}

	if err := s.dir.UpdatePassword(ctx, claims.Subject, newPassword); err != nil {
		return fmt.Errorf("update password: %w", err)
	}

	// Consume the token before reporting success so it cannot be replayed.
	if err := s.registry.Revocations().Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time)); err != nil {
		return fmt.Errorf("consume reset token: %w", err)
	}

	s.revokeAllSessions(ctx, claims.Subject)
	return nil
}

// issuePair mints an access+refresh pair and registers the refresh jti. The
// registry writes are fail-closed: a token whose jti was never allow-listed
// would be rejected on its first refresh anyway.
func (s *TokenService) issuePair(ctx context.Context, userID string, carry jwtx.Carry) (*domain.TokenPair, error) {
	access, err := s.codec.IssueAccess(jwtx.AccessTokenInput{UserID: userID, Carry: carry})
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}

	refresh, jti, err := s.codec.IssueRefresh(userID, "", carry)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	refreshTTL := s.refreshTTL()
	if err := s.registry.Sessions().Allow(ctx, jti, refreshTTL); err != nil {
		return nil, fmt.Errorf("allow-list refresh token: %w", err)
	}
	if err := s.registry.Sessions().Add(ctx, userID, jti); err != nil {
		return nil, fmt.Errorf("register session: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		RefreshJTI:   jti,
		ExpiresIn:    s.accessTTL(),
	}, nil
}

// revokeAllSessions clears the user's session set and blacklists every
// outstanding refresh jti. Best effort: a partial pass still leaves the
// cleared jtis off the allow-list, which alone makes them unredeemable.
func (s *TokenService) revokeAllSessions(ctx context.Context, userID string) {
	jtis, err := s.registry.Sessions().Clear(ctx, userID)
	if err != nil {
		s.log.ErrorContext(ctx, "clear sessions failed", "user_id", userID, "error", err)
		return
	}

	ttl := s.refreshTTL()
	for _, jti := range jtis {
		if err := s.registry.Revocations().Revoke(ctx, jti, ttl); err != nil {
			s.log.ErrorContext(ctx, "blacklist session failed", "user_id", userID, "jti", jti, "error", err)
		}
	}

	if len(jtis) > 0 {
		s.log.InfoContext(ctx, "revoked all sessions", "user_id", userID, "count", len(jtis))
	}
}

// allow checks a rate budget. A store outage does not block the attempt: the
// credential or signature check behind the limiter still gates access.
func (s *TokenService) allow(ctx context.Context, l *ratelimit.Limiter, key string) error {
	err := l.Allow(ctx, key)
	if err == nil || errors.Is(err, ratelimit.ErrRateLimited) {
		return err
	}
	s.log.WarnContext(ctx, "rate-limit check unavailable", "error", err)
	return nil
}

func (s *TokenService) recordFailure(ctx context.Context, l *ratelimit.Limiter, key string) {
	if err := l.RecordFailure(ctx, key); err != nil && !errors.Is(err, ratelimit.ErrRateLimited) {
		s.log.WarnContext(ctx, "rate-limit record failed", "error", err)
	}
}

func (s *TokenService) accessTTL() time.Duration {
	if s.codec.AccessTTL > 0 {
		return s.codec.AccessTTL
	}
	return jwtx.DefaultAccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.codec.RefreshTTL > 0 {
		return s.codec.RefreshTTL
	}
	return jwtx.DefaultRefreshTTL
}
