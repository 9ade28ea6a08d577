package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates the three token types this service issues. The value is
// embedded in the "typ" claim and checked on every verification so a refresh
// token can never be presented where an access token is expected.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
	KindService Kind = "service"

	// KindReset is the single-purpose password-reset token. It is only ever
	// accepted by the reset-password endpoint and is consumed on first use.
	KindReset Kind = "reset"
)

// Default token TTLs. Short-lived access tokens plus rotating two-week
// refresh tokens; service tokens only need to survive one hop.
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 14 * 24 * time.Hour
	DefaultServiceTTL = 60 * time.Second
	DefaultResetTTL   = 15 * time.Minute
)

// Claims are the payload fields used across all three token kinds. Fields not
// relevant to a kind are simply omitted from the encoded token.
type Claims struct {
	jwt.RegisteredClaims

	// Typ is the token kind discriminant ("access", "refresh", "service").
	Typ string `json:"typ,omitempty"`

	// Scope is a space-delimited permission list.
	Scope string `json:"scope,omitempty"`

	// Roles carried by user access tokens.
	Roles []string `json:"roles,omitempty"`

	// PreferredUsername is the display identifier for the user.
	PreferredUsername string `json:"preferred_username,omitempty"`

	// Email of the authenticated user.
	Email string `json:"email,omitempty"`

	// AZP is the authorized party: the name of the service that minted a
	// service token for its own outbound calls.
	AZP string `json:"azp,omitempty"`
}

// Kind returns the token kind discriminant as a typed value.
func (c *Claims) Kind() Kind { return Kind(c.Typ) }

// Carry is the subset of user attributes copied from a refresh token into the
// access token minted during rotation, so the caller does not need a round
// trip to the user directory to learn them.
type Carry struct {
	Roles             []string
	PreferredUsername string
	Email             string
	Scope             string
}

// CarryFrom extracts the carry subset out of verified refresh-token claims.
func CarryFrom(c *Claims) Carry {
	return Carry{
		Roles:             c.Roles,
		PreferredUsername: c.PreferredUsername,
		Email:             c.Email,
		Scope:             c.Scope,
	}
}
