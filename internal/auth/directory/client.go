// Package directory is the HTTP client for the user directory service. The
// auth service never stores credentials itself: password checks and profile
// lookups are delegated here, authenticated with short-lived self-issued
// service tokens.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/dss-platform/auth/internal/auth/domain"
	"github.com/dss-platform/auth/pkg/jwtx"
)

var (
	// ErrInvalidCredentials covers both unknown identifiers and wrong
	// passwords; the directory does not tell them apart and neither do we.
	ErrInvalidCredentials = errors.New("directory: invalid credentials")

	// ErrUserNotFound reports a lookup miss on a profile endpoint.
	ErrUserNotFound = errors.New("directory: user not found")

	// ErrUnavailable wraps transport failures and 5xx responses.
	ErrUnavailable = errors.New("directory: unavailable")
)

const (
	callerName = "auth-service"
	tokenScope = "directory:read directory:write"

	// refresh the cached service token this long before it expires
	tokenSlack = 10 * time.Second
)

// Client talks to the user directory.
type Client struct {
	baseURL  string
	audience string
	codec    *jwtx.Codec
	http     *http.Client

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

// New builds a client for the directory at baseURL. The codec is used to
// mint service tokens addressed to audience.
func New(baseURL, audience string, codec *jwtx.Codec) *Client {
	return &Client{
		baseURL:  baseURL,
		audience: audience,
		codec:    codec,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// serviceToken returns a valid service token, minting a fresh one when the
// cached token is within tokenSlack of expiry.
func (c *Client) serviceToken() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExp.Add(-tokenSlack)) {
		return c.token, nil
	}

	ttl := c.codec.ServiceTTL
	if ttl <= 0 {
		ttl = jwtx.DefaultServiceTTL
	}
	token, err := c.codec.IssueService(jwtx.ServiceTokenInput{
		Caller:   callerName,
		Scope:    tokenScope,
		Audience: c.audience,
		TTL:      ttl,
	})
	if err != nil {
		return "", fmt.Errorf("mint service token: %w", err)
	}

	c.token = token
	c.tokenExp = time.Now().Add(ttl)
	return token, nil
}

type verifyRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type userResponse struct {
	ID       string   `json:"id"`
	Username string   `json:"username"`
	Email    string   `json:"email"`
	Roles    []string `json:"roles"`
	Verified bool     `json:"verified"`
}

func (u userResponse) user() *domain.User {
	return &domain.User{
		ID:       u.ID,
		Username: u.Username,
		Email:    u.Email,
		Roles:    u.Roles,
		Verified: u.Verified,
	}
}

// VerifyCredentials checks an identifier/password pair against the
// directory and returns the matching profile.
func (c *Client) VerifyCredentials(ctx context.Context, identifier, password string) (*domain.User, error) {
	var out userResponse
	err := c.do(ctx, http.MethodPost, "/internal/users/verify-credentials",
		verifyRequest{Identifier: identifier, Password: password}, &out)
	if err != nil {
		return nil, err
	}
	return out.user(), nil
}

// GetUserByEmail looks up a profile for the password-reset flow.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var out userResponse
	path := "/internal/users/by-email/" + url.PathEscape(email)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.user(), nil
}

type updatePasswordRequest struct {
	Password string `json:"password"`
}

// UpdatePassword sets a new password for the user. The directory owns
// hashing and history policy.
func (c *Client) UpdatePassword(ctx context.Context, userID, newPassword string) error {
	path := "/internal/users/" + url.PathEscape(userID) + "/password"
	return c.do(ctx, http.MethodPut, path, updatePasswordRequest{Password: newPassword}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.serviceToken()
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent:
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrInvalidCredentials
	case resp.StatusCode == http.StatusNotFound:
		return ErrUserNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: directory returned %d", ErrUnavailable, resp.StatusCode)
	default:
		return fmt.Errorf("directory returned unexpected status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
