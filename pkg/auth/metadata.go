package auth

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/grpc/metadata"
)

// AuthorizationHeader is the metadata key carrying "<scheme> <token>".
const AuthorizationHeader = "authorization"

// Extractor reads the authorization header from request metadata and hands
// the token to a TokenVerifier. It holds no mutable state.
type Extractor struct {
	verifier       TokenVerifier
	requiredScheme string
}

type ExtractorOption func(*Extractor)

// WithRequiredScheme makes the extractor reject headers whose scheme does not
// match scheme, compared case-insensitively. By default any scheme is accepted.
func WithRequiredScheme(scheme string) ExtractorOption {
	return func(e *Extractor) {
		e.requiredScheme = scheme
	}
}

func NewExtractor(verifier TokenVerifier, opts ...ExtractorOption) *Extractor {
	e := &Extractor{verifier: verifier}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractUser returns the user id of the session token in md.
//
// Errors are ErrMissingHeader, ErrWrongHeader, or a *TokenError wrapping
// ErrInvalidSignature or ErrExpired.
func (e *Extractor) ExtractUser(md metadata.MD) (uuid.UUID, error) {
	values := md.Get(AuthorizationHeader)
	if len(values) == 0 {
		return uuid.Nil, ErrMissingHeader
	}

	token, err := e.splitHeader(values[0])
	if err != nil {
		return uuid.Nil, err
	}

	user, err := e.verifier.Verify(token)
	if err != nil {
		return uuid.Nil, &TokenError{Err: err}
	}

	return user, nil
}

// UserFromIncomingContext runs ExtractUser on the incoming gRPC metadata of ctx.
// A context without metadata is treated as having no authorization header.
func (e *Extractor) UserFromIncomingContext(ctx context.Context) (uuid.UUID, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return uuid.Nil, ErrMissingHeader
	}
	return e.ExtractUser(md)
}

func (e *Extractor) splitHeader(value string) (string, error) {
	if !utf8.ValidString(value) {
		return "", fmt.Errorf("%w: value is not valid UTF-8", ErrWrongHeader)
	}

	parts := strings.Split(value, " ")
	if len(parts) != 2 {
		return "", fmt.Errorf("%w: expected 2 space separated parts, got %d", ErrWrongHeader, len(parts))
	}

	if e.requiredScheme != "" && !strings.EqualFold(parts[0], e.requiredScheme) {
		return "", fmt.Errorf("%w: unsupported scheme", ErrWrongHeader)
	}

	return parts[1], nil
}
