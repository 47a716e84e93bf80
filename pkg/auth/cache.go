package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maypok86/otter/v2"
	"github.com/maypok86/otter/v2/stats"
)

const (
	DefaultCacheSize = 10_000
	DefaultCacheTTL  = 5 * time.Minute
)

// CachingVerifier remembers tokens whose signature already verified, so
// repeated calls with the same token skip the ECDSA check. Expiry is still
// evaluated on every call. Failed tokens are never cached.
type CachingVerifier struct {
	verifier *Verifier
	cache    *otter.Cache[string, verifiedClaims]
	stats    *stats.Counter
}

// NewCachingVerifier wraps v with a cache of up to size entries, each kept for
// at most ttl. Non-positive values fall back to the defaults.
func NewCachingVerifier(v *Verifier, size int, ttl time.Duration) (*CachingVerifier, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	counter := stats.NewCounter()
	cache, err := otter.New(&otter.Options[string, verifiedClaims]{
		MaximumSize:      size,
		ExpiryCalculator: otter.ExpiryWriting[string, verifiedClaims](ttl),
		StatsRecorder:    counter,
	})
	if err != nil {
		return nil, err
	}

	return &CachingVerifier{
		verifier: v,
		cache:    cache,
		stats:    counter,
	}, nil
}

func (c *CachingVerifier) Verify(token string) (uuid.UUID, error) {
	claims, err := c.cache.Get(context.Background(), token, otter.LoaderFunc[string, verifiedClaims](
		func(_ context.Context, key string) (verifiedClaims, error) {
			return c.verifier.verifySignature(key)
		},
	))
	if err != nil {
		return uuid.Nil, err
	}

	if c.verifier.expired(claims.exp) {
		c.cache.Invalidate(token)
		return uuid.Nil, ErrExpired
	}

	return claims.user, nil
}

// Hits returns how many calls were answered from the cache.
func (c *CachingVerifier) Hits() uint64 {
	return c.stats.Snapshot().Hits
}

var _ TokenVerifier = (*CachingVerifier)(nil)
