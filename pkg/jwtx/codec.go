package jwtx

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// KeySource resolves signing material. The key store implements this; the
// codec never holds key bytes itself and never accepts a caller-supplied key
// hint, keys are resolved purely from the token's own kid header.
type KeySource interface {
	// Signer returns the active kid and its private key.
	Signer() (kid string, key *rsa.PrivateKey, err error)

	// PublicKey returns the public key for a kid, including archived kids
	// that are retained for verification only.
	PublicKey(kid string) (*rsa.PublicKey, error)
}

// Codec signs and verifies the token kinds against a KeySource. All tokens
// use RS256 and carry the signing kid in the header.
type Codec struct {
	Keys     KeySource
	Issuer   string
	Audience string

	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ServiceTTL time.Duration

	// Leeway tolerates small clock skew when validating exp/nbf/iat.
	// Because time sync is never perfect.
	Leeway time.Duration
}

// AccessTokenInput captures everything that goes into a user access token.
type AccessTokenInput struct {
	UserID string
	Carry  Carry
	TTL    time.Duration // <= 0 means Codec.AccessTTL
}

// IssueAccess mints a signed user access token under the active kid.
func (c *Codec) IssueAccess(in AccessTokenInput) (string, error) {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = c.ttlOr(c.AccessTTL, DefaultAccessTTL)
	}

	claims := c.baseClaims(KindAccess, in.UserID, ttl)
	claims.ID = uuid.NewString()
	claims.Roles = in.Carry.Roles
	claims.PreferredUsername = in.Carry.PreferredUsername
	claims.Email = in.Carry.Email
	claims.Scope = in.Carry.Scope

	return c.sign(claims)
}

// IssueRefresh mints a refresh token for the user. A jti is generated when
// the caller does not supply one; the jti is returned so the session registry
// can allow-list it.
func (c *Codec) IssueRefresh(userID, jti string, carry Carry) (token, outJTI string, err error) {
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := c.baseClaims(KindRefresh, userID, c.ttlOr(c.RefreshTTL, DefaultRefreshTTL))
	claims.ID = jti
	claims.Roles = carry.Roles
	claims.PreferredUsername = carry.PreferredUsername
	claims.Email = carry.Email
	claims.Scope = carry.Scope

	token, err = c.sign(claims)
	if err != nil {
		return "", "", err
	}
	return token, jti, nil
}

// ServiceTokenInput describes a short-lived machine-to-machine token.
type ServiceTokenInput struct {
	Caller   string // service name, becomes azp and "client_<name>" subject
	Scope    string
	Audience string        // target service
	TTL      time.Duration // <= 0 means Codec.ServiceTTL
}

// IssueService mints a service token. These stay in the tens-of-seconds to
// few-minutes range; callers re-mint rather than refresh.
func (c *Codec) IssueService(in ServiceTokenInput) (string, error) {
	ttl := in.TTL
	if ttl <= 0 {
		ttl = c.ttlOr(c.ServiceTTL, DefaultServiceTTL)
	}

	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   "client_" + in.Caller,
			Audience:  jwt.ClaimStrings{in.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Typ:   string(KindService),
		AZP:   in.Caller,
		Scope: in.Scope,
	}

	return c.sign(claims)
}

// IssueReset mints a password-reset token. The jti is returned so the caller
// can blacklist it once redeemed; the token is otherwise stateless.
func (c *Codec) IssueReset(userID string, ttl time.Duration) (token, jti string, err error) {
	if ttl <= 0 {
		ttl = DefaultResetTTL
	}

	claims := c.baseClaims(KindReset, userID, ttl)
	claims.ID = uuid.NewString()

	token, err = c.sign(claims)
	if err != nil {
		return "", "", err
	}
	return token, claims.ID, nil
}

// Verify validates the token against the codec's issuer/audience and returns
// its claims. The kind must match the token's typ claim exactly.
func (c *Codec) Verify(tokenStr string, kind Kind) (*Claims, error) {
	return c.verify(tokenStr, kind, c.Audience)
}

// VerifyForAudience is Verify with an explicit expected audience; used when
// validating service tokens addressed to a specific target.
func (c *Codec) VerifyForAudience(tokenStr string, kind Kind, audience string) (*Claims, error) {
	return c.verify(tokenStr, kind, audience)
}

func (c *Codec) verify(tokenStr string, kind Kind, audience string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
	}
	if c.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.Issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	if c.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(c.Leeway))
	}

	parser := jwt.NewParser(opts...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (any, error) {
		// The key is resolved only from the token's own header. Trusting a
		// caller-supplied hint instead would open the door to key confusion.
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKID
		}
		pub, err := c.Keys.PublicKey(kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}
		return pub, nil
	})
	if err != nil {
		return nil, mapParseError(err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Kind() != kind {
		return nil, ErrWrongType
	}

	return claims, nil
}

func (c *Codec) baseClaims(kind Kind, subject string, ttl time.Duration) *Claims {
	now := time.Now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.Issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Typ: string(kind),
	}
	if c.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.Audience}
	}
	return claims
}

func (c *Codec) sign(claims *Claims) (string, error) {
	kid, key, err := c.Keys.Signer()
	if err != nil {
		return "", err
	}

	t := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	t.Header["kid"] = kid
	return t.SignedString(key)
}

func (c *Codec) ttlOr(configured, fallback time.Duration) time.Duration {
	if configured > 0 {
		return configured
	}
	return fallback
}

// mapParseError translates golang-jwt parse failures into the package's
// error taxonomy. Order matters: an unknown kid surfaces as an unverifiable
// token, which must not be reported as a bad signature.
func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return fmt.Errorf("%w: %v", ErrUnknownKID, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return fmt.Errorf("%w: %v", ErrIssuer, err)
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return fmt.Errorf("%w: %v", ErrAudience, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
}
