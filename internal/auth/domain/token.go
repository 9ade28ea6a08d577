package domain

import "time"

// TokenPair is what a successful login or refresh produces: a short-lived
// access token for the JSON body and a refresh token that only ever travels
// in an HttpOnly cookie.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	RefreshJTI   string
	ExpiresIn    time.Duration // access token lifetime
}
