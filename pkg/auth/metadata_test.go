package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/metadata"

	"github.com/conductorone/baton-session-auth/pkg/auth"
	"github.com/conductorone/baton-session-auth/pkg/auth/authtest"
)

type recordingVerifier struct {
	user   uuid.UUID
	err    error
	tokens []string
}

func (r *recordingVerifier) Verify(token string) (uuid.UUID, error) {
	r.tokens = append(r.tokens, token)
	if r.err != nil {
		return uuid.Nil, r.err
	}
	return r.user, nil
}

func newExtractor(t *testing.T, opts ...auth.ExtractorOption) *auth.Extractor {
	t.Helper()
	v, err := auth.NewVerifier(authtest.PublicKeyPEM)
	require.NoError(t, err)
	return auth.NewExtractor(v, opts...)
}

func TestExtractor_ExtractUser(t *testing.T) {
	key := authtest.PrivateKey(t)
	otherKey, _ := authtest.GenerateKey(t)
	user := uuid.New()

	valid := authtest.MintToken(t, key, authtest.Claims(user, time.Now().Add(24*time.Hour)))
	expired := authtest.MintToken(t, key, authtest.Claims(user, time.Now().Add(-24*time.Hour)))
	forged := authtest.MintToken(t, otherKey, authtest.Claims(user, time.Now().Add(24*time.Hour)))

	tests := []struct {
		name     string
		metadata metadata.MD
		wantErr  error
	}{
		{
			name:     "no metadata",
			metadata: nil,
			wantErr:  auth.ErrMissingHeader,
		},
		{
			name:     "empty metadata",
			metadata: metadata.MD{},
			wantErr:  auth.ErrMissingHeader,
		},
		{
			name:     "other headers only",
			metadata: metadata.Pairs("x-request-id", "abc"),
			wantErr:  auth.ErrMissingHeader,
		},
		{
			name:     "empty value list",
			metadata: metadata.MD{"authorization": []string{}},
			wantErr:  auth.ErrMissingHeader,
		},
		{
			name:     "single word",
			metadata: metadata.Pairs("authorization", "wrong_authorization"),
			wantErr:  auth.ErrWrongHeader,
		},
		{
			name:     "empty value",
			metadata: metadata.Pairs("authorization", ""),
			wantErr:  auth.ErrWrongHeader,
		},
		{
			name:     "three parts",
			metadata: metadata.Pairs("authorization", "a b c"),
			wantErr:  auth.ErrWrongHeader,
		},
		{
			name:     "double space",
			metadata: metadata.Pairs("authorization", "Bearer  "+valid),
			wantErr:  auth.ErrWrongHeader,
		},
		{
			name:     "non utf8",
			metadata: metadata.MD{"authorization": []string{"Bearer \xff\xfe"}},
			wantErr:  auth.ErrWrongHeader,
		},
		{
			name:     "garbage token",
			metadata: metadata.Pairs("authorization", "Bearer xyz"),
			wantErr:  auth.ErrInvalidSignature,
		},
		{
			name:     "garbage token other scheme",
			metadata: metadata.Pairs("authorization", "Bear xyz"),
			wantErr:  auth.ErrInvalidSignature,
		},
		{
			name:     "empty token",
			metadata: metadata.Pairs("authorization", "Bearer "),
			wantErr:  auth.ErrInvalidSignature,
		},
		{
			name:     "forged token",
			metadata: metadata.Pairs("authorization", "Bearer "+forged),
			wantErr:  auth.ErrInvalidSignature,
		},
		{
			name:     "expired token",
			metadata: metadata.Pairs("authorization", "Bearer "+expired),
			wantErr:  auth.ErrExpired,
		},
		{
			name:     "valid token",
			metadata: metadata.Pairs("authorization", "Bearer "+valid),
		},
		{
			name:     "valid token any scheme",
			metadata: metadata.Pairs("authorization", "Bear "+valid),
		},
		{
			name:     "valid token mixed case key",
			metadata: metadata.Pairs("Authorization", "Bearer "+valid),
		},
		{
			name:     "first value wins",
			metadata: metadata.Pairs("authorization", "Bearer "+valid, "authorization", "garbage"),
		},
	}

	e := newExtractor(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.ExtractUser(tt.metadata)
			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Equal(t, user, got)
				return
			}

			require.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, uuid.Nil, got)

			var tokenErr *auth.TokenError
			isTokenErr := errors.As(err, &tokenErr)
			switch tt.wantErr {
			case auth.ErrInvalidSignature, auth.ErrExpired:
				assert.True(t, isTokenErr, "verification failures are wrapped in a TokenError")
			default:
				assert.False(t, isTokenErr)
			}
		})
	}
}

func TestExtractor_OutcomesDoNotOverlap(t *testing.T) {
	key := authtest.PrivateKey(t)
	expired := authtest.MintToken(t, key, authtest.Claims(uuid.New(), time.Now().Add(-time.Hour)))

	e := newExtractor(t)
	sentinels := []error{auth.ErrMissingHeader, auth.ErrWrongHeader, auth.ErrInvalidSignature, auth.ErrExpired}

	for _, md := range []metadata.MD{
		{},
		metadata.Pairs("authorization", "nope"),
		metadata.Pairs("authorization", "Bearer nope"),
		metadata.Pairs("authorization", "Bearer "+expired),
	} {
		_, err := e.ExtractUser(md)
		require.Error(t, err)

		matched := 0
		for _, s := range sentinels {
			if errors.Is(err, s) {
				matched++
			}
		}
		assert.Equal(t, 1, matched, "error %v must match exactly one kind", err)
	}
}

func TestExtractor_Idempotent(t *testing.T) {
	key := authtest.PrivateKey(t)
	user := uuid.New()
	md := metadata.Pairs("authorization", "Bear "+authtest.MintToken(t, key, authtest.Claims(user, time.Now().Add(time.Hour))))

	e := newExtractor(t)
	first, err := e.ExtractUser(md)
	require.NoError(t, err)
	second, err := e.ExtractUser(md)
	require.NoError(t, err)

	assert.Equal(t, user, first)
	assert.Equal(t, first, second)
	assert.Len(t, md.Get("authorization"), 1)
}

func TestExtractor_Delegation(t *testing.T) {
	user := uuid.New()

	t.Run("missing header never reaches the verifier", func(t *testing.T) {
		rv := &recordingVerifier{user: user}
		_, err := auth.NewExtractor(rv).ExtractUser(metadata.MD{})
		require.ErrorIs(t, err, auth.ErrMissingHeader)
		assert.Empty(t, rv.tokens)
	})

	t.Run("wrong header never reaches the verifier", func(t *testing.T) {
		rv := &recordingVerifier{user: user}
		_, err := auth.NewExtractor(rv).ExtractUser(metadata.Pairs("authorization", "a b c"))
		require.ErrorIs(t, err, auth.ErrWrongHeader)
		assert.Empty(t, rv.tokens)
	})

	t.Run("only the token part is verified", func(t *testing.T) {
		rv := &recordingVerifier{user: user}
		got, err := auth.NewExtractor(rv).ExtractUser(metadata.Pairs("authorization", "Whatever abc.def"))
		require.NoError(t, err)
		assert.Equal(t, user, got)
		assert.Equal(t, []string{"abc.def"}, rv.tokens)
	})

	t.Run("verifier error is carried unchanged", func(t *testing.T) {
		cause := errors.New("boom")
		rv := &recordingVerifier{err: cause}
		_, err := auth.NewExtractor(rv).ExtractUser(metadata.Pairs("authorization", "Bearer abc.def"))

		var tokenErr *auth.TokenError
		require.ErrorAs(t, err, &tokenErr)
		assert.Same(t, cause, tokenErr.Err)
	})
}

func TestExtractor_RequiredScheme(t *testing.T) {
	key := authtest.PrivateKey(t)
	user := uuid.New()
	token := authtest.MintToken(t, key, authtest.Claims(user, time.Now().Add(time.Hour)))

	e := newExtractor(t, auth.WithRequiredScheme("Bearer"))

	got, err := e.ExtractUser(metadata.Pairs("authorization", "bearer "+token))
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = e.ExtractUser(metadata.Pairs("authorization", "Bear "+token))
	require.ErrorIs(t, err, auth.ErrWrongHeader)
}

func TestExtractor_UserFromIncomingContext(t *testing.T) {
	key := authtest.PrivateKey(t)
	user := uuid.New()
	token := authtest.MintToken(t, key, authtest.Claims(user, time.Now().Add(time.Hour)))
	e := newExtractor(t)

	_, err := e.UserFromIncomingContext(context.Background())
	require.ErrorIs(t, err, auth.ErrMissingHeader)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	got, err := e.UserFromIncomingContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, user, got)
}

func TestReason(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{auth.ErrMissingHeader, auth.ReasonMissingHeader},
		{auth.ErrWrongHeader, auth.ReasonWrongHeader},
		{&auth.TokenError{Err: auth.ErrInvalidSignature}, auth.ReasonInvalidSignature},
		{&auth.TokenError{Err: auth.ErrExpired}, auth.ReasonExpired},
		{errors.New("other"), auth.ReasonUnknown},
		{nil, auth.ReasonUnknown},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, auth.Reason(tt.err))
	}
}

func TestUserContext(t *testing.T) {
	_, ok := auth.UserFromContext(context.Background())
	assert.False(t, ok)

	user := uuid.New()
	got, ok := auth.UserFromContext(auth.ContextWithUser(context.Background(), user))
	assert.True(t, ok)
	assert.Equal(t, user, got)
}
