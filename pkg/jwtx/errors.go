package jwtx

import "errors"

// Verification failures are kept distinct so callers can tell "expired but
// otherwise valid" (silent refresh) apart from "untrusted garbage" (forced
// re-login). The HTTP boundary still collapses them into one generic 401.
var (
	ErrMalformed        = errors.New("jwtx: malformed token")
	ErrSignatureInvalid = errors.New("jwtx: invalid signature")
	ErrUnknownKID       = errors.New("jwtx: unknown kid")
	ErrExpired          = errors.New("jwtx: token expired")
	ErrNotYetValid      = errors.New("jwtx: token not yet valid")
	ErrWrongType        = errors.New("jwtx: unexpected token type")
	ErrIssuer           = errors.New("jwtx: issuer mismatch")
	ErrAudience         = errors.New("jwtx: audience mismatch")
	ErrInvalidClaims    = errors.New("jwtx: invalid claims")
)
