package jwtx_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dss-platform/auth/pkg/jwtx"
)

// memKeys is an in-memory KeySource with a fixed active kid.
type memKeys struct {
	active string
	keys   map[string]*rsa.PrivateKey
}

func newMemKeys(t *testing.T, kids ...string) *memKeys {
	t.Helper()
	m := &memKeys{active: kids[0], keys: map[string]*rsa.PrivateKey{}}
	for _, kid := range kids {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		m.keys[kid] = key
	}
	return m
}

func (m *memKeys) Signer() (string, *rsa.PrivateKey, error) {
	return m.active, m.keys[m.active], nil
}

func (m *memKeys) PublicKey(kid string) (*rsa.PublicKey, error) {
	key, ok := m.keys[kid]
	if !ok {
		return nil, jwtx.ErrUnknownKID
	}
	return &key.PublicKey, nil
}

func newCodec(t *testing.T, kids ...string) (*jwtx.Codec, *memKeys) {
	t.Helper()
	keys := newMemKeys(t, kids...)
	return &jwtx.Codec{
		Keys:     keys,
		Issuer:   "test-issuer",
		Audience: "test-audience",
	}, keys
}

func TestAccessTokenRoundTrip(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")

	token, err := codec.IssueAccess(jwtx.AccessTokenInput{
		UserID: "user-1",
		Carry: jwtx.Carry{
			Roles:             []string{"admin", "user"},
			PreferredUsername: "alice",
			Email:             "alice@example.com",
			Scope:             "openid profile",
		},
	})
	require.NoError(t, err)

	claims, err := codec.Verify(token, jwtx.KindAccess)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "alice", claims.PreferredUsername)
	require.Equal(t, []string{"admin", "user"}, claims.Roles)
	require.Equal(t, jwtx.KindAccess, claims.Kind())
	require.NotEmpty(t, claims.ID, "access tokens carry a jti for revocation checks")
}

func TestRefreshTokenCarriesJTI(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")

	token, jti, err := codec.IssueRefresh("user-1", "", jwtx.Carry{PreferredUsername: "alice"})
	require.NoError(t, err)
	require.NotEmpty(t, jti, "a jti is generated when the caller supplies none")

	claims, err := codec.Verify(token, jwtx.KindRefresh)
	require.NoError(t, err)
	require.Equal(t, jti, claims.ID)

	// A caller-supplied jti is used verbatim.
	_, jti2, err := codec.IssueRefresh("user-1", "my-jti", jwtx.Carry{})
	require.NoError(t, err)
	require.Equal(t, "my-jti", jti2)
}

func TestServiceTokenShape(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")

	token, err := codec.IssueService(jwtx.ServiceTokenInput{
		Caller:   "auth",
		Scope:    "directory:read",
		Audience: "user-directory",
	})
	require.NoError(t, err)

	claims, err := codec.VerifyForAudience(token, jwtx.KindService, "user-directory")
	require.NoError(t, err)
	require.Equal(t, "client_auth", claims.Subject)
	require.Equal(t, "auth", claims.AZP)
	require.Equal(t, "directory:read", claims.Scope)

	// The default service TTL stays in the one-minute range.
	require.LessOrEqual(t, time.Until(claims.ExpiresAt.Time), jwtx.DefaultServiceTTL)
}

func TestVerifyRejectsWrongKind(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")

	refresh, _, err := codec.IssueRefresh("user-1", "", jwtx.Carry{})
	require.NoError(t, err)

	// A refresh token must never be accepted where an access token is
	// expected, and vice versa.
	_, err = codec.Verify(refresh, jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrWrongType)

	access, err := codec.IssueAccess(jwtx.AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)
	_, err = codec.Verify(access, jwtx.KindRefresh)
	require.ErrorIs(t, err, jwtx.ErrWrongType)
}

func TestVerifyRejectsExpired(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")

	token, err := codec.IssueAccess(jwtx.AccessTokenInput{
		UserID: "user-1",
		TTL:    -time.Minute,
	})
	require.NoError(t, err)

	_, err = codec.Verify(token, jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrExpired)
}

func TestLeewayToleratesSkew(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")
	codec.Leeway = 2 * time.Minute

	token, err := codec.IssueAccess(jwtx.AccessTokenInput{
		UserID: "user-1",
		TTL:    -time.Minute,
	})
	require.NoError(t, err)

	// One minute past expiry is inside the two-minute leeway.
	_, err = codec.Verify(token, jwtx.KindAccess)
	require.NoError(t, err)
}

func TestVerifyRejectsUnknownKID(t *testing.T) {
	signer, _ := newCodec(t, "2026-01")
	verifier, _ := newCodec(t, "2026-02")

	token, err := signer.IssueAccess(jwtx.AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	// The verifier only knows kid 2026-02; the token was signed under
	// 2026-01 and must be rejected as unverifiable, not as a bad signature.
	_, err = verifier.Verify(token, jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrUnknownKID)
}

func TestVerifyResolvesKeyFromTokenKid(t *testing.T) {
	codec, keys := newCodec(t, "old", "new")

	// Sign under "old", then rotate the active kid away. The token must
	// still verify because resolution follows the token's own kid header.
	token, err := codec.IssueAccess(jwtx.AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	keys.active = "new"
	_, err = codec.Verify(token, jwtx.KindAccess)
	require.NoError(t, err)
}

func TestVerifyRejectsWrongIssuerAndAudience(t *testing.T) {
	codec, keys := newCodec(t, "2026-01")

	token, err := codec.IssueAccess(jwtx.AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	other := &jwtx.Codec{Keys: keys, Issuer: "someone-else", Audience: "test-audience"}
	_, err = other.Verify(token, jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrIssuer)

	other = &jwtx.Codec{Keys: keys, Issuer: "test-issuer", Audience: "other-service"}
	_, err = other.Verify(token, jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrAudience)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")

	_, err := codec.Verify("not-a-token", jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrMalformed)
}

func TestResetTokenSingleKind(t *testing.T) {
	codec, _ := newCodec(t, "2026-01")

	token, jti, err := codec.IssueReset("user-1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, jti)

	claims, err := codec.Verify(token, jwtx.KindReset)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, jti, claims.ID)

	// Reset tokens are not interchangeable with access tokens.
	_, err = codec.Verify(token, jwtx.KindAccess)
	require.ErrorIs(t, err, jwtx.ErrWrongType)
}
