package directory_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dss-platform/auth/internal/auth/directory"
	"github.com/dss-platform/auth/pkg/jwtx"
)

type singleKey struct{ key *rsa.PrivateKey }

func (s singleKey) Signer() (string, *rsa.PrivateKey, error) { return "kid", s.key, nil }

func (s singleKey) PublicKey(kid string) (*rsa.PublicKey, error) {
	if kid != "kid" {
		return nil, jwtx.ErrUnknownKID
	}
	return &s.key.PublicKey, nil
}

func newCodec(t *testing.T) *jwtx.Codec {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return &jwtx.Codec{Keys: singleKey{key}, Issuer: "test-issuer", Audience: "test-audience"}
}

func TestClientAuthenticatesWithServiceToken(t *testing.T) {
	codec := newCodec(t)

	var mints atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		claims, err := codec.VerifyForAudience(raw, jwtx.KindService, "user-directory")
		if err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		require.Equal(t, "client_auth-service", claims.Subject)
		require.Equal(t, "auth-service", claims.AZP)
		mints.Add(1)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "user-1", "username": "alice", "email": "alice@example.com",
		})
	}))
	defer srv.Close()

	client := directory.New(srv.URL, "user-directory", codec)

	// Two calls reuse one cached service token until it nears expiry.
	u, err := client.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, "user-1", u.ID)

	_, err = client.GetUserByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	require.EqualValues(t, 2, mints.Load())
}

func TestClientStatusMapping(t *testing.T) {
	codec := newCodec(t)

	status := http.StatusUnauthorized
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	client := directory.New(srv.URL, "user-directory", codec)
	ctx := context.Background()

	_, err := client.VerifyCredentials(ctx, "alice", "wrong")
	require.ErrorIs(t, err, directory.ErrInvalidCredentials)

	status = http.StatusNotFound
	_, err = client.GetUserByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, directory.ErrUserNotFound)

	status = http.StatusInternalServerError
	err = client.UpdatePassword(ctx, "user-1", "new-password")
	require.ErrorIs(t, err, directory.ErrUnavailable)
}

func TestClientUnreachableHost(t *testing.T) {
	codec := newCodec(t)
	client := directory.New("http://127.0.0.1:1", "user-directory", codec)

	_, err := client.VerifyCredentials(context.Background(), "alice", "hunter2")
	require.ErrorIs(t, err, directory.ErrUnavailable)
}
