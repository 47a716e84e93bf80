package ugrpc

import (
	"context"
	"errors"

	"golang.org/x/oauth2"
	"google.golang.org/grpc/credentials"

	"github.com/conductorone/baton-session-auth/pkg/auth"
)

type sessionCredentialProvider struct {
	tokenSource     oauth2.TokenSource
	requireSecurity bool
}

func (c *sessionCredentialProvider) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token, err := c.tokenSource.Token()
	if err != nil {
		return nil, err
	}

	if c.requireSecurity {
		ri, _ := credentials.RequestInfoFromContext(ctx)
		err = credentials.CheckSecurityLevel(ri.AuthInfo, credentials.PrivacyAndIntegrity)
		if err != nil {
			return nil, errors.New("connection is not secure enough to send credentials")
		}
	}

	return map[string]string{
		auth.AuthorizationHeader: token.Type() + " " + token.AccessToken,
	}, nil
}

func (c *sessionCredentialProvider) RequireTransportSecurity() bool {
	return c.requireSecurity
}

// NewSessionCredentialProvider attaches "<scheme> <token>" to every call as
// the authorization header. An empty scheme defaults to Bearer.
func NewSessionCredentialProvider(scheme string, token string, requireSecurity bool) credentials.PerRPCCredentials {
	return NewSessionCredentialProviderFromSource(
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: scheme}),
		requireSecurity,
	)
}

func NewSessionCredentialProviderFromSource(ts oauth2.TokenSource, requireSecurity bool) credentials.PerRPCCredentials {
	return &sessionCredentialProvider{
		tokenSource:     ts,
		requireSecurity: requireSecurity,
	}
}
