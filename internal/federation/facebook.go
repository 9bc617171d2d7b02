package federation

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	facebookOAuth2 "golang.org/x/oauth2/facebook"

	"go.pilab.hu/sociallink/domain"
)

var FacebookUserInfoEndpoint = "https://graph.facebook.com/me?fields=id,name,first_name,last_name,email,picture"

// FacebookProvider signs users in with Facebook.
type FacebookProvider struct {
	*BaseProvider
}

// NewFacebookProvider fills in Facebook's endpoints and scopes.
func NewFacebookProvider(cfg ProviderConfig) *FacebookProvider {
	if cfg.Name == "" {
		cfg.Name = "Facebook"
	}
	cfg.AuthURL = facebookOAuth2.Endpoint.AuthURL
	cfg.TokenURL = facebookOAuth2.Endpoint.TokenURL
	cfg.Scopes = withScopes(cfg.Scopes, "public_profile", "email")

	return &FacebookProvider{BaseProvider: NewBaseProvider(cfg)}
}

// FetchProfile reads the Graph API "me" node.
func (f *FacebookProvider) FetchProfile(ctx context.Context, token *oauth2.Token, _ string) (*domain.Profile, error) {
	claims, err := getJSON(ctx, httpClient(ctx, token), FacebookUserInfoEndpoint)
	if err != nil {
		return nil, fmt.Errorf("facebook: %w", err)
	}

	p := &domain.Profile{
		Identifier:  claimString(claims, "id"),
		DisplayName: claimString(claims, "name"),
		Email:       claimString(claims, "email"),
		FirstName:   claimString(claims, "first_name"),
		LastName:    claimString(claims, "last_name"),
		Raw:         claims,
	}
	// picture is {"data": {"url": ...}}
	if pic, ok := claims["picture"].(map[string]any); ok {
		if data, ok := pic["data"].(map[string]any); ok {
			p.PhotoURL = claimString(data, "url")
		}
	}
	return p, nil
}

var _ Provider = (*FacebookProvider)(nil)
