package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/google/uuid"
)

// SessionTokenHeader is the base64url encoding of {"typ":"JWT","alg":"ES256"}.
//
// Session tokens travel without their header segment; the verifier prepends
// this constant before decoding. Issuers must sign over exactly these bytes,
// so changing the signing algorithm means changing this constant on the
// issuer and the verifier together.
const SessionTokenHeader = "eyJ0eXAiOiJKV1QiLCJhbGciOiJFUzI1NiJ9"

// SessionTokenAlgorithm is the algorithm encoded in SessionTokenHeader.
const SessionTokenAlgorithm = jose.ES256

const DefaultLeeway = 60 * time.Second

// SessionClaims is the payload of a session token. Expiry is in seconds
// since the epoch.
type SessionClaims struct {
	Expiry *uint64    `json:"exp"`
	User   *uuid.UUID `json:"user"`
}

// TokenVerifier verifies an abbreviated session token and returns the user it was issued to.
type TokenVerifier interface {
	Verify(token string) (uuid.UUID, error)
}

// Verifier validates session tokens against a single trusted public key.
// It is immutable after construction and safe for concurrent use.
type Verifier struct {
	publicKey *ecdsa.PublicKey
	leeway    time.Duration

	now func() time.Time
}

type VerifierOption func(*Verifier)

// WithLeeway sets the clock skew tolerated when checking expiry.
func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		if d >= 0 {
			v.leeway = d
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier creates a verifier from a PEM encoded EC P-256 public key.
func NewVerifier(publicKeyPEM string, opts ...VerifierOption) (*Verifier, error) {
	key, err := ParsePublicKey([]byte(publicKeyPEM))
	if err != nil {
		return nil, err
	}

	v := &Verifier{
		publicKey: key,
		leeway:    DefaultLeeway,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// ParsePublicKey parses a PKIX "PUBLIC KEY" PEM block holding an ECDSA P-256 key.
func ParsePublicKey(input []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(input)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPublicKey)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: failed parsing public key: %w", ErrInvalidPublicKey, err)
	}

	key, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid key type %T - ecdsa is required", ErrInvalidPublicKey, pub)
	}

	if key.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: invalid curve %s - P-256 is required", ErrInvalidPublicKey, key.Curve.Params().Name)
	}

	return key, nil
}

// Verify checks the signature and expiry of token, which must be of the form
// payload.signature, and returns the user id it carries.
func (v *Verifier) Verify(token string) (uuid.UUID, error) {
	claims, err := v.verifySignature(token)
	if err != nil {
		return uuid.Nil, err
	}

	if v.expired(claims.exp) {
		return uuid.Nil, ErrExpired
	}

	return claims.user, nil
}

type verifiedClaims struct {
	user uuid.UUID
	exp  uint64
}

// verifySignature checks everything but expiry.
func (v *Verifier) verifySignature(token string) (verifiedClaims, error) {
	parsed, err := jwt.ParseSigned(SessionTokenHeader+"."+token, []jose.SignatureAlgorithm{SessionTokenAlgorithm})
	if err != nil {
		return verifiedClaims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	// Claims verifies the signature before decoding the payload.
	claims := SessionClaims{}
	if err := parsed.Claims(v.publicKey, &claims); err != nil {
		return verifiedClaims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if claims.Expiry == nil {
		return verifiedClaims{}, fmt.Errorf("%w: exp claim is required", ErrInvalidSignature)
	}
	if claims.User == nil {
		return verifiedClaims{}, fmt.Errorf("%w: user claim is required", ErrInvalidSignature)
	}

	return verifiedClaims{user: *claims.User, exp: *claims.Expiry}, nil
}

// expired reports whether exp lies before now minus the leeway. exp is
// unsigned so issuers may use the maximum value for non-expiring tokens.
func (v *Verifier) expired(exp uint64) bool {
	cutoff := v.now().Add(-v.leeway).Unix()
	if cutoff <= 0 {
		return false
	}
	return exp < uint64(cutoff)
}

var _ TokenVerifier = (*Verifier)(nil)
