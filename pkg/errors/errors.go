package apperrors

import "errors"

// Standardized chain and brokerage errors
var (
	ErrMalformedSnapshot    = errors.New("malformed snapshot")
	ErrMalformedResponse    = errors.New("malformed upstream response")
	ErrInvalidLookback      = errors.New("invalid lookback")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrNoExpirations        = errors.New("no expirations available")
	ErrAccountNotFound      = errors.New("account not found")
	ErrUnknownTarget        = errors.New("unknown watch target")
	ErrUnknownHorizon       = errors.New("unknown horizon")
)
