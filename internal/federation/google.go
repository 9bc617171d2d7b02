package federation

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	googleOAuth2 "golang.org/x/oauth2/google"

	"go.pilab.hu/sociallink/domain"
)

var GoogleUserInfoEndpoint = "https://www.googleapis.com/oauth2/v3/userinfo"

// GoogleProvider signs users in with Google.
type GoogleProvider struct {
	*BaseProvider
}

// NewGoogleProvider fills in Google's endpoints and the profile scopes.
func NewGoogleProvider(cfg ProviderConfig) *GoogleProvider {
	if cfg.Name == "" {
		cfg.Name = "Google"
	}
	cfg.AuthURL = googleOAuth2.Endpoint.AuthURL
	cfg.TokenURL = googleOAuth2.Endpoint.TokenURL
	cfg.Scopes = withScopes(cfg.Scopes, "openid", "profile", "email")

	return &GoogleProvider{BaseProvider: NewBaseProvider(cfg)}
}

// FetchProfile reads Google's userinfo endpoint.
func (g *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token, _ string) (*domain.Profile, error) {
	claims, err := getJSON(ctx, httpClient(ctx, token), GoogleUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("google: %w", err)
	}
	return profileFromClaims(claims, "sub"), nil
}

var _ Provider = (*GoogleProvider)(nil)
