package auth

import (
	"errors"
	"fmt"
)

// Verification errors returned by Verifier.Verify.
var (
	ErrInvalidSignature = errors.New("session token: invalid signature")
	ErrExpired          = errors.New("session token: expired")
)

// Authorization errors returned by Extractor.ExtractUser in addition to *TokenError.
var (
	ErrMissingHeader = errors.New("authorization header is missing")
	ErrWrongHeader   = errors.New("authorization header is malformed")
)

var ErrInvalidPublicKey = errors.New("invalid session token public key")

// TokenError carries a verification failure through the extractor. Err is
// ErrInvalidSignature or ErrExpired, possibly wrapped with a cause.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("authorization token rejected: %v", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

const (
	ReasonMissingHeader    = "missing_header"
	ReasonWrongHeader      = "wrong_header"
	ReasonInvalidSignature = "invalid_signature"
	ReasonExpired          = "expired"
	ReasonUnknown          = "unknown"
)

// Reason returns a stable label for err suitable for metric tags and logs.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrMissingHeader):
		return ReasonMissingHeader
	case errors.Is(err, ErrWrongHeader):
		return ReasonWrongHeader
	case errors.Is(err, ErrExpired):
		return ReasonExpired
	case errors.Is(err, ErrInvalidSignature):
		return ReasonInvalidSignature
	default:
		return ReasonUnknown
	}
}
